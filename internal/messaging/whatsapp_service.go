package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/SalonBot/internal/models"
	"github.com/BTreeMap/SalonBot/internal/whatsapp"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// WhatsAppService implements Transport using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	client   whatsapp.WhatsAppSender
	waClient *whatsapp.Client // underlying client for event handling; nil with mocks
	inbound  chan models.InboundEvent
	mu       sync.RWMutex
	stopped  bool
	handler  uint32
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given WhatsAppSender.
func NewWhatsAppService(client whatsapp.WhatsAppSender) *WhatsAppService {
	service := &WhatsAppService{
		client:  client,
		inbound: make(chan models.InboundEvent, DefaultChannelBufferSize),
	}

	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}

	return service
}

// Start registers the whatsmeow event handler.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Debug("WhatsAppService no full client available, skipping event handling (likely mock)")
		return nil
	}
	s.handler = s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.Message:
			if in, ok := InboundFromEvent(v); ok {
				s.Emit(in)
			}
		case *events.Connected:
			slog.Info("WhatsAppService connected")
		case *events.Disconnected:
			slog.Warn("WhatsAppService disconnected")
		}
	})
	slog.Debug("WhatsAppService event handler registered")
	return nil
}

// Stop removes the event handler, disconnects and closes the inbound channel.
func (s *WhatsAppService) Stop() error {
	// whatsmeow holds its handler lock while calling Emit, so detach before taking ours.
	if s.waClient != nil && s.waClient.GetClient() != nil {
		s.waClient.GetClient().RemoveEventHandler(s.handler)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	if s.waClient != nil {
		s.waClient.Disconnect()
	}
	close(s.inbound)
	slog.Info("WhatsAppService stopped and channels closed")
	return nil
}

// Inbound returns the channel of received messages.
func (s *WhatsAppService) Inbound() <-chan models.InboundEvent {
	return s.inbound
}

// SendMessage sends a text message.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	slog.Debug("WhatsAppService SendMessage invoked", "to", to, "body_length", len(body))
	if err := s.client.SendMessage(ctx, to, body); err != nil {
		slog.Error("WhatsAppService SendMessage error", "error", err, "to", to)
		return err
	}
	return nil
}

// SendTyping shows the composing indicator.
func (s *WhatsAppService) SendTyping(ctx context.Context, to string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	return s.client.SendTyping(ctx, to)
}

// LookupContact checks the paired phone's address book.
func (s *WhatsAppService) LookupContact(ctx context.Context, contactID string) (models.ContactProfile, error) {
	return s.client.LookupContact(ctx, contactID)
}

// Emit pushes an event to Inbound, dropping it if the channel stays full.
func (s *WhatsAppService) Emit(in models.InboundEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Warn("WhatsAppService dropping inbound message (service stopped)", "contactID", in.ContactID)
		return
	}
	select {
	case s.inbound <- in:
		slog.Debug("WhatsAppService incoming message forwarded", "contactID", in.ContactID, "has_media", in.HasMedia)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService inbound channel blocked, dropping message", "contactID", in.ContactID, "timeout", DefaultChannelTimeout)
	}
}

func (s *WhatsAppService) isStopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}

// InboundFromEvent converts a whatsmeow message event. It returns false for events
// that carry no message, such as protocol or reaction-only updates.
func InboundFromEvent(evt *events.Message) (models.InboundEvent, bool) {
	if evt == nil || evt.Message == nil {
		return models.InboundEvent{}, false
	}
	text, hasMedia := messageContent(evt.Message)
	if text == "" && !hasMedia {
		return models.InboundEvent{}, false
	}
	chat := evt.Info.Chat
	return models.InboundEvent{
		MessageID:      string(evt.Info.ID),
		ContactID:      whatsapp.ContactID(chat),
		Text:           text,
		HasMedia:       hasMedia,
		IsFromSelf:     evt.Info.IsFromMe,
		IsGroupChannel: evt.Info.IsGroup || isBroadcast(chat),
		PushName:       evt.Info.PushName,
		ReceivedAt:     evt.Info.Timestamp,
	}, true
}

func isBroadcast(jid types.JID) bool {
	return jid.Server == types.BroadcastServer || jid.Server == types.NewsletterServer
}

// messageContent extracts the text (or media caption) and whether media is attached.
func messageContent(msg *waE2E.Message) (string, bool) {
	switch {
	case msg.GetConversation() != "":
		return msg.GetConversation(), false
	case msg.GetExtendedTextMessage() != nil:
		return msg.GetExtendedTextMessage().GetText(), false
	case msg.GetImageMessage() != nil:
		return msg.GetImageMessage().GetCaption(), true
	case msg.GetVideoMessage() != nil:
		return msg.GetVideoMessage().GetCaption(), true
	case msg.GetDocumentMessage() != nil:
		return msg.GetDocumentMessage().GetCaption(), true
	case msg.GetAudioMessage() != nil, msg.GetStickerMessage() != nil:
		return "", true
	default:
		return "", false
	}
}
