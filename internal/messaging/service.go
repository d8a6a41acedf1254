// Package messaging adapts chat transports to SalonBot's inbound/outbound model.
package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/BTreeMap/SalonBot/internal/models"
)

// Constants for transport configuration
const (
	// DefaultChannelBufferSize defines the buffer size of the inbound channel
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds how long an event handler waits on a full inbound channel
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned by sends after Stop.
var ErrServiceStopped = errors.New("messaging service stopped")

// Transport is the chat network the bot talks through.
type Transport interface {
	// Start begins delivering events on Inbound.
	Start(ctx context.Context) error

	// Stop stops background processing and closes the Inbound channel.
	Stop() error

	// Inbound returns the channel of messages received from contacts.
	Inbound() <-chan models.InboundEvent

	// SendMessage sends a text to a contact.
	SendMessage(ctx context.Context, to string, body string) error

	// SendTyping shows a typing indicator. Transports without one return nil.
	SendTyping(ctx context.Context, to string) error

	// LookupContact reports what the transport knows about a contact.
	LookupContact(ctx context.Context, contactID string) (models.ContactProfile, error)
}
