// Package session routes each inbound message to the activation gate or the conversation
// engine, persists the outcome and delivers the replies.
package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/BTreeMap/SalonBot/internal/activation"
	"github.com/BTreeMap/SalonBot/internal/conversation"
	"github.com/BTreeMap/SalonBot/internal/models"
	"github.com/BTreeMap/SalonBot/internal/notify"
	"github.com/BTreeMap/SalonBot/internal/store"
)

// Outbox sends replies to contacts.
type Outbox interface {
	SendMessage(ctx context.Context, to string, body string) error
	SendTyping(ctx context.Context, to string) error
}

// DropReason explains why an event was ignored before reaching the gate or the engine.
type DropReason string

const (
	DropNone             DropReason = ""
	DropEmptyContact     DropReason = "empty-contact"
	DropFromSelf         DropReason = "from-self"
	DropGroupChannel     DropReason = "group-channel"
	DropDuplicate        DropReason = "duplicate"
	DropStateUnavailable DropReason = "state-unavailable"
)

// Outcome describes what Handle did with an event.
type Outcome struct {
	Dropped DropReason
	// Decision is set when the contact was idle and the gate was consulted.
	Decision  *activation.Decision
	Activated bool
	// Reset is true when a malformed persisted state was discarded.
	Reset    bool
	Messages []string
	Next     *models.ConversationState
	Register *models.ClientRecord
}

// Directory handles one inbound message at a time per contact. It is safe for concurrent
// use across contacts; callers serialize events of the same contact (see Dispatcher).
type Directory struct {
	store       store.Store
	gate        *activation.Gate
	engine      *conversation.Engine
	outbox      Outbox
	classifier  *Classifier
	notifier    notify.Publisher
	typingDelay time.Duration
	retry       RetryPolicy
	now         func() time.Time
	loc         *time.Location
}

// Option configures a Directory.
type Option func(*Directory)

// WithNotifier sets where operator notices go. The default only logs them.
func WithNotifier(p notify.Publisher) Option {
	return func(d *Directory) { d.notifier = p }
}

// WithTypingDelay shows a typing indicator for d before each reply.
func WithTypingDelay(delay time.Duration) Option {
	return func(d *Directory) { d.typingDelay = delay }
}

// WithRetryPolicy overrides the store write retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(d *Directory) { d.retry = p }
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(d *Directory) { d.now = now }
}

// WithLocation sets the time zone used for greetings.
func WithLocation(loc *time.Location) Option {
	return func(d *Directory) {
		if loc != nil {
			d.loc = loc
		}
	}
}

// NewDirectory wires a Directory. classifier may be nil, in which case every contact is new.
func NewDirectory(st store.Store, gate *activation.Gate, engine *conversation.Engine, outbox Outbox, classifier *Classifier, opts ...Option) *Directory {
	d := &Directory{
		store:      st,
		gate:       gate,
		engine:     engine,
		outbox:     outbox,
		classifier: classifier,
		notifier:   notify.LogPublisher{},
		retry:      DefaultRetryPolicy(),
		now:        time.Now,
		loc:        time.Local,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle processes one inbound event. It never returns an error: collaborator failures
// are logged and the contact is left in a defined state.
func (d *Directory) Handle(ctx context.Context, evt models.InboundEvent) Outcome {
	if reason := d.filter(ctx, evt); reason != DropNone {
		slog.Debug("Directory.Handle: event dropped", "reason", reason, "contactID", evt.ContactID, "messageID", evt.MessageID)
		return Outcome{Dropped: reason}
	}

	id := evt.ContactID
	now := d.now().In(d.loc)

	state, err := d.store.GetConversation(ctx, id)
	malformed := false
	if err != nil {
		if !errors.Is(err, models.ErrMalformedState) {
			slog.Error("Directory.Handle: failed to load conversation state", "error", err, "contactID", id)
			return Outcome{Dropped: DropStateUnavailable}
		}
		slog.Warn("Directory.Handle: discarding malformed conversation state", "error", err, "contactID", id)
		malformed = true
	}

	profile := d.profileFunc(ctx, evt)
	var out Outcome
	var res conversation.Result

	switch {
	case malformed:
		out.Reset = true
		res = d.engine.Start(profile(), now)
	case state != nil:
		res = d.engine.Advance(*state, conversation.Input{
			ContactID: id,
			Text:      evt.Text,
			HasMedia:  evt.HasMedia,
			Now:       now,
			Profile:   profile,
		})
		slog.Debug("Directory.Handle: state advanced", "contactID", id, "from", state.String(), "restarted", res.Restarted)
	default:
		dec := d.gate.Evaluate(ctx, id, evt.Text, evt.HasMedia)
		out.Decision = &dec
		if !dec.Activated() {
			return out
		}
		out.Activated = true
		res = d.engine.Start(profile(), now)
	}

	d.persist(ctx, id, res)
	d.deliver(ctx, id, res.Messages)
	d.publish(ctx, res.Notices)

	out.Messages = res.Messages
	out.Next = res.Next
	out.Register = res.Register
	return out
}

func (d *Directory) filter(ctx context.Context, evt models.InboundEvent) DropReason {
	switch {
	case evt.ContactID == "":
		return DropEmptyContact
	case evt.IsFromSelf:
		return DropFromSelf
	case evt.IsGroupChannel:
		return DropGroupChannel
	}
	if evt.MessageID == "" {
		return DropNone
	}
	fresh, err := d.store.RecordInbound(ctx, evt.MessageID, evt.ContactID)
	if err != nil {
		slog.Warn("Directory.filter: dedup check failed, processing anyway", "error", err, "messageID", evt.MessageID)
		return DropNone
	}
	if !fresh {
		return DropDuplicate
	}
	return DropNone
}

// profileFunc classifies the contact at most once per event.
func (d *Directory) profileFunc(ctx context.Context, evt models.InboundEvent) func() models.ContactProfile {
	var (
		resolved bool
		profile  models.ContactProfile
	)
	return func() models.ContactProfile {
		if resolved {
			return profile
		}
		resolved = true
		if d.classifier == nil {
			profile = models.ContactProfile{DisplayName: evt.PushName}
			return profile
		}
		profile = d.classifier.Classify(ctx, evt.ContactID, evt.PushName)
		return profile
	}
}

// persist writes the client record, if any, before the conversation state.
func (d *Directory) persist(ctx context.Context, id string, res conversation.Result) {
	if res.Register != nil {
		rec := *res.Register
		if err := d.retry.Do(ctx, "save-client", func() error { return d.store.SaveClient(ctx, rec) }); err != nil {
			slog.Error("Directory.persist: failed to save client record", "error", err, "contactID", id)
		} else {
			slog.Info("Directory.persist: client registered", "contactID", id, "service", rec.RequestedService)
		}
	}

	if res.Next != nil {
		next := *res.Next
		if err := d.retry.Do(ctx, "save-conversation", func() error { return d.store.SaveConversation(ctx, id, next) }); err != nil {
			slog.Error("Directory.persist: failed to save conversation state", "error", err, "contactID", id, "state", next.String())
		}
		return
	}
	if err := d.retry.Do(ctx, "delete-conversation", func() error { return d.store.DeleteConversation(ctx, id) }); err != nil {
		slog.Error("Directory.persist: failed to clear conversation state", "error", err, "contactID", id)
	}
}

func (d *Directory) deliver(ctx context.Context, id string, messages []string) {
	for i, msg := range messages {
		d.present(ctx, id)
		if err := d.outbox.SendMessage(ctx, id, msg); err != nil {
			slog.Error("Directory.deliver: failed to send message", "error", err, "contactID", id, "index", i)
		}
	}
}

// present shows the typing indicator and waits. Failures are ignored.
func (d *Directory) present(ctx context.Context, id string) {
	if d.typingDelay <= 0 {
		return
	}
	if err := d.outbox.SendTyping(ctx, id); err != nil {
		slog.Debug("Directory.present: typing indicator failed", "error", err, "contactID", id)
	}
	t := time.NewTimer(d.typingDelay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func (d *Directory) publish(ctx context.Context, notices []models.Notice) {
	for _, n := range notices {
		if err := d.notifier.Publish(ctx, n); err != nil {
			slog.Error("Directory.publish: failed to publish notice", "error", err, "kind", n.Kind, "contactID", n.ContactID)
		}
	}
}
