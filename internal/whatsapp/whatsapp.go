// Package whatsapp wraps the Whatsmeow client for WhatsApp integration in SalonBot.
//
// It handles device storage, QR or numeric-code pairing, sending text, typing presence
// and address-book lookups.
package whatsapp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/BTreeMap/SalonBot/internal/models"
	"github.com/BTreeMap/SalonBot/internal/store"
	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// Constants for WhatsApp client configuration
const (
	// DefaultSQLitePath is the default path for the whatsmeow device database
	DefaultSQLitePath = "/var/lib/salonbot/whatsmeow.db"
	// JIDSuffix is the WhatsApp JID server for regular users
	JIDSuffix = types.DefaultUserServer
)

// WhatsAppSender is the part of the client the messaging layer depends on.
type WhatsAppSender interface {
	SendMessage(ctx context.Context, to string, body string) error
	SendTyping(ctx context.Context, to string) error
	LookupContact(ctx context.Context, contactID string) (models.ContactProfile, error)
}

// Opts holds configuration options for the WhatsApp client.
type Opts struct {
	DBDSN       string // whatsmeow device database connection string
	QRPath      string // path to write login QR code
	NumericCode bool   // print the raw pairing code instead of a QR code
}

// Option defines a configuration option for the WhatsApp client.
type Option func(*Opts)

// WithDBDSN sets the whatsmeow database connection string.
func WithDBDSN(dsn string) Option {
	return func(o *Opts) {
		o.DBDSN = dsn
	}
}

// WithQRCodeOutput writes the login QR code to the given path instead of stdout.
func WithQRCodeOutput(path string) Option {
	return func(o *Opts) {
		o.QRPath = path
	}
}

// WithNumericCode prints the pairing code as text instead of rendering a QR code.
func WithNumericCode() Option {
	return func(o *Opts) {
		o.NumericCode = true
	}
}

// Client wraps the Whatsmeow client for modular use
type Client struct {
	waClient *whatsmeow.Client
}

// driverFor picks the database/sql driver for a device store DSN.
func driverFor(dsn string) string {
	if store.DetectDSNType(dsn) == store.DSNTypePostgres {
		return "postgres"
	}
	return "sqlite3"
}

// hasForeignKeys reports whether a SQLite DSN enables foreign keys, which whatsmeow expects.
func hasForeignKeys(dsn string) bool {
	return strings.Contains(dsn, "_foreign_keys") || strings.Contains(dsn, "foreign_keys")
}

// NewClient creates a WhatsApp client, pairing a new device when none is stored.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("WhatsApp NewClient options set", "DBDSN_set", cfg.DBDSN != "", "QRPath_set", cfg.QRPath != "", "NumericCode", cfg.NumericCode)

	dbDSN := cfg.DBDSN
	if dbDSN == "" {
		dbDSN = DefaultSQLitePath
		slog.Debug("No WhatsApp database DSN provided, using default SQLite path", "default_path", dbDSN)
	}

	dbDriver := driverFor(dbDSN)
	if dbDriver == "sqlite3" && !hasForeignKeys(dbDSN) {
		slog.Warn("SQLite database for WhatsApp does not appear to have foreign keys enabled. "+
			"Consider adding '?_foreign_keys=on' to your connection string.",
			"dsn_example", "file:"+dbDSN+"?_foreign_keys=on")
	}

	slog.Debug("WhatsApp NewClient initializing DB store", "driver", dbDriver)
	container, err := sqlstore.New(ctx, dbDriver, dbDSN, waLog.Stdout("Database", "INFO", true))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize WhatsApp database store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device from WhatsApp store: %w", err)
	}

	waClient := whatsmeow.NewClient(deviceStore, waLog.Stdout("Client", "INFO", true))

	if waClient.Store.ID == nil {
		slog.Info("WhatsApp login required; starting pairing flow")
		if err := pair(ctx, waClient, cfg); err != nil {
			return nil, err
		}
	} else {
		slog.Debug("WhatsApp already logged in, connecting to server")
		if err := waClient.Connect(); err != nil {
			return nil, fmt.Errorf("failed to connect to WhatsApp server: %w", err)
		}
	}
	slog.Info("WhatsApp client connected successfully")
	return &Client{waClient: waClient}, nil
}

func pair(ctx context.Context, waClient *whatsmeow.Client, cfg Opts) error {
	qrChan, err := waClient.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("failed to open QR channel: %w", err)
	}
	if err := waClient.Connect(); err != nil {
		return fmt.Errorf("failed to connect to WhatsApp during login: %w", err)
	}

	writer := io.Writer(os.Stdout)
	if cfg.QRPath != "" {
		f, err := os.Create(cfg.QRPath)
		if err != nil {
			return fmt.Errorf("failed to create QR file: %w", err)
		}
		defer f.Close()
		writer = f
	}

	for evt := range qrChan {
		if evt.Event == "code" {
			writePairingCode(writer, evt.Code, cfg.NumericCode)
			continue
		}
		slog.Info("WhatsApp login event", "event", evt.Event)
	}
	return nil
}

func writePairingCode(w io.Writer, code string, numeric bool) {
	if numeric {
		fmt.Fprintln(w, code)
		return
	}
	qrterminal.GenerateHalfBlock(code, qrterminal.L, w)
}

// ParseContactID converts a contact id into a JID. Bare phone numbers are accepted.
func ParseContactID(contactID string) (types.JID, error) {
	if contactID == "" {
		return types.JID{}, models.ErrEmptyRecipient
	}
	if !strings.Contains(contactID, "@") {
		return types.NewJID(strings.TrimPrefix(contactID, "+"), JIDSuffix), nil
	}
	jid, err := types.ParseJID(contactID)
	if err != nil {
		return types.JID{}, fmt.Errorf("invalid contact id %q: %w", contactID, err)
	}
	return jid.ToNonAD(), nil
}

// ContactID returns the canonical contact id for a chat JID.
func ContactID(jid types.JID) string {
	return jid.ToNonAD().String()
}

// SendMessage sends a text message to the given contact.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	if c.waClient == nil || c.waClient.Store == nil {
		return fmt.Errorf("whatsapp client not initialized")
	}
	if body == "" {
		return models.ErrEmptyBody
	}
	jid, err := ParseContactID(to)
	if err != nil {
		return err
	}

	slog.Debug("Sending WhatsApp message", "to", to, "body_length", len(body))
	if _, err := c.waClient.SendMessage(ctx, jid, &waE2E.Message{Conversation: &body}); err != nil {
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	slog.Debug("WhatsApp message sent successfully", "to", to)
	return nil
}

// SendTyping shows the "typing..." indicator in the contact's chat.
func (c *Client) SendTyping(ctx context.Context, to string) error {
	if c.waClient == nil {
		return fmt.Errorf("whatsapp client not initialized")
	}
	jid, err := ParseContactID(to)
	if err != nil {
		return err
	}
	return c.waClient.SendChatPresence(jid, types.ChatPresenceComposing, types.ChatPresenceMediaText)
}

// LookupContact reports whether the contact is saved in the paired phone's address book.
func (c *Client) LookupContact(ctx context.Context, contactID string) (models.ContactProfile, error) {
	if c.waClient == nil || c.waClient.Store == nil || c.waClient.Store.Contacts == nil {
		return models.ContactProfile{}, fmt.Errorf("whatsapp contact store not available")
	}
	jid, err := ParseContactID(contactID)
	if err != nil {
		return models.ContactProfile{}, err
	}
	info, err := c.waClient.Store.Contacts.GetContact(ctx, jid)
	if err != nil {
		return models.ContactProfile{}, fmt.Errorf("failed to look up contact %s: %w", contactID, err)
	}
	return profileFromContact(info), nil
}

// profileFromContact treats a contact as saved when the address book has a name for it.
// A push name alone is set by the sender and does not count.
func profileFromContact(info types.ContactInfo) models.ContactProfile {
	name := info.FullName
	if name == "" {
		name = info.FirstName
	}
	if !info.Found || name == "" {
		return models.ContactProfile{DisplayName: info.PushName}
	}
	return models.ContactProfile{Known: true, DisplayName: name}
}

// GetClient returns the underlying whatsmeow client for event handling
func (c *Client) GetClient() *whatsmeow.Client {
	return c.waClient
}

// Disconnect closes the websocket connection.
func (c *Client) Disconnect() {
	if c.waClient != nil {
		c.waClient.Disconnect()
	}
}

// SentMessage is a text recorded by MockClient.
type SentMessage struct {
	ContactID string
	Text      string
}

// MockClient records calls instead of talking to WhatsApp. Use it in tests.
type MockClient struct {
	mu       sync.Mutex
	Sent     []SentMessage
	Typing   []string
	Contacts map[string]models.ContactProfile
	SendErr  error
}

// NewMockClient creates an empty MockClient.
func NewMockClient() *MockClient {
	return &MockClient{Contacts: make(map[string]models.ContactProfile)}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return m.SendErr
	}
	m.Sent = append(m.Sent, SentMessage{ContactID: to, Text: body})
	return nil
}

func (m *MockClient) SendTyping(ctx context.Context, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Typing = append(m.Typing, to)
	return nil
}

func (m *MockClient) LookupContact(ctx context.Context, contactID string) (models.ContactProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Contacts[contactID], nil
}

// SentMessages returns a copy of the recorded sends.
func (m *MockClient) SentMessages() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.Sent...)
}
