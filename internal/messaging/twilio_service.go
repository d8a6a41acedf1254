package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/SalonBot/internal/models"
	"github.com/BTreeMap/SalonBot/internal/twiliowhatsapp"
	twilioclient "github.com/twilio/twilio-go/client"
)

// emptyTwiML acknowledges a webhook without sending a reply through Twilio.
const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// TwilioService implements Transport using the Twilio API. Inbound messages arrive
// through WebhookHandler.
type TwilioService struct {
	client    twiliowhatsapp.TwilioWhatsAppSender // real Twilio client or MockClient
	validator *twilioclient.RequestValidator
	publicURL string
	inbound   chan models.InboundEvent
	mu        sync.RWMutex
	stopped   bool
}

// TwilioOption configures a TwilioService.
type TwilioOption func(*TwilioService)

// WithSignatureValidation rejects webhook calls whose X-Twilio-Signature does not match.
// publicURL is the webhook URL exactly as configured in the Twilio console.
func WithSignatureValidation(authToken, publicURL string) TwilioOption {
	return func(s *TwilioService) {
		if authToken == "" || publicURL == "" {
			return
		}
		v := twilioclient.NewRequestValidator(authToken)
		s.validator = &v
		s.publicURL = publicURL
	}
}

// NewTwilioService creates a new TwilioService around a Twilio client.
func NewTwilioService(client twiliowhatsapp.TwilioWhatsAppSender, opts ...TwilioOption) *TwilioService {
	s := &TwilioService{
		client:  client,
		inbound: make(chan models.InboundEvent, DefaultChannelBufferSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start is a no-op; Twilio pushes messages to the webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the inbound channel.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.inbound)
	return nil
}

// Inbound returns the channel of messages received through the webhook.
func (s *TwilioService) Inbound() <-chan models.InboundEvent {
	return s.inbound
}

// SendMessage sends a message via Twilio.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return ErrServiceStopped
	}
	if strings.TrimSpace(to) == "" {
		return models.ErrEmptyRecipient
	}
	return s.client.SendMessage(ctx, to, body)
}

// SendTyping is a no-op: the Twilio API has no typing indicator.
func (s *TwilioService) SendTyping(ctx context.Context, to string) error {
	slog.Debug("TwilioService SendTyping ignored (unsupported)", "to", to)
	return nil
}

// LookupContact returns the zero profile; Twilio has no address book.
func (s *TwilioService) LookupContact(ctx context.Context, contactID string) (models.ContactProfile, error) {
	return models.ContactProfile{}, nil
}

// WebhookHandler handles inbound Twilio webhook requests and emits them on Inbound.
func (s *TwilioService) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("Failed to parse Twilio webhook form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if s.validator != nil {
		params := make(map[string]string, len(r.PostForm))
		for k := range r.PostForm {
			params[k] = r.PostForm.Get(k)
		}
		if !s.validator.Validate(s.publicURL, params, r.Header.Get("X-Twilio-Signature")) {
			slog.Warn("Twilio webhook signature rejected", "remote", r.RemoteAddr)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	in, err := inboundFromForm(r)
	if err != nil {
		slog.Warn("Twilio webhook rejected", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	slog.Info("Inbound WhatsApp message from Twilio", "contactID", in.ContactID, "has_media", in.HasMedia)
	s.emit(in)

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, emptyTwiML)
}

func inboundFromForm(r *http.Request) (models.InboundEvent, error) {
	from := strings.TrimSpace(r.FormValue("From"))
	if from == "" {
		return models.InboundEvent{}, fmt.Errorf("missing From")
	}
	body := r.FormValue("Body")
	numMedia, _ := strconv.Atoi(r.FormValue("NumMedia"))
	if body == "" && numMedia == 0 {
		return models.InboundEvent{}, fmt.Errorf("missing Body")
	}
	return models.InboundEvent{
		MessageID:  r.FormValue("MessageSid"),
		ContactID:  twiliowhatsapp.Address(from),
		Text:       body,
		HasMedia:   numMedia > 0,
		PushName:   r.FormValue("ProfileName"),
		ReceivedAt: time.Now(),
	}, nil
}

// emit pushes an event to Inbound unless stopped or blocked.
func (s *TwilioService) emit(in models.InboundEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Warn("TwilioService dropping inbound message (service stopped)", "contactID", in.ContactID)
		return
	}
	select {
	case s.inbound <- in:
		slog.Debug("TwilioService emitted inbound message", "contactID", in.ContactID)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService inbound channel blocked, dropping message", "contactID", in.ContactID)
	}
}
