// Package activation decides whether an idle contact's message starts a new bot interaction.
//
// A message activates the bot when it contains one of a fixed list of trigger keywords and the
// contact has not been activated within the cooldown window. Activating writes a fresh
// ActivationRecord, which is the only way the cooldown clock resets.
package activation

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/BTreeMap/SalonBot/internal/models"
	"github.com/BTreeMap/SalonBot/internal/util"
)

// DefaultCooldown is the window during which repeated keyword matches are suppressed.
const DefaultCooldown = 24 * time.Hour

// DefaultKeywords is the ordered trigger list. Matching is a substring test, so short
// entries such as "oi" also fire inside longer words.
var DefaultKeywords = []string{
	"oi", "olá", "ola", "dia", "tarde", "noite",
	"valores", "agenda", "horario", "horário", "marcar", "agendar", "valor",
	"opa", "eae", "hey", "alo", "alô", "ooi", "ooie", "oie",
}

// Outcome is the gate's verdict.
type Outcome string

const (
	Activate Outcome = "activate"
	Suppress Outcome = "suppress"
)

// Reason explains a suppression.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonNoKeyword        Reason = "no-keyword"
	ReasonCooldownActive   Reason = "cooldown-active"
	ReasonStoreUnavailable Reason = "store-unavailable"
)

// Decision is returned by Evaluate.
type Decision struct {
	Outcome Outcome
	Reason  Reason
	Keyword string
	// Remaining is the cooldown left, for logs only.
	Remaining time.Duration
}

// Activated reports whether the decision starts an interaction.
func (d Decision) Activated() bool {
	return d.Outcome == Activate
}

// RemainingHours rounds the remaining cooldown up to whole hours.
func (d Decision) RemainingHours() int {
	return int(math.Ceil(d.Remaining.Hours()))
}

// Records is the subset of the store the gate needs.
type Records interface {
	GetActivation(ctx context.Context, contactID string) (*models.ActivationRecord, error)
	SaveActivation(ctx context.Context, rec models.ActivationRecord) error
}

// Writer persists an activation record, e.g. with retries. The default calls Records.SaveActivation.
type Writer func(ctx context.Context, rec models.ActivationRecord) error

// Gate evaluates inbound messages from idle contacts.
type Gate struct {
	records  Records
	keywords []string
	cooldown time.Duration
	now      func() time.Time
	write    Writer
}

// Option configures a Gate.
type Option func(*Gate)

// WithKeywords replaces the trigger list. Keywords are normalized the same way as messages.
func WithKeywords(keywords []string) Option {
	return func(g *Gate) {
		g.keywords = make([]string, 0, len(keywords))
		for _, k := range keywords {
			if n := util.Normalize(k); n != "" {
				g.keywords = append(g.keywords, n)
			}
		}
	}
}

// WithCooldown overrides the cooldown window.
func WithCooldown(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.cooldown = d
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithWriter overrides how activation records are written.
func WithWriter(w Writer) Option {
	return func(g *Gate) { g.write = w }
}

// NewGate creates a Gate backed by the given activation records.
func NewGate(records Records, opts ...Option) *Gate {
	g := &Gate{
		records:  records,
		cooldown: DefaultCooldown,
		now:      time.Now,
	}
	WithKeywords(DefaultKeywords)(g)
	g.write = records.SaveActivation
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Cooldown returns the configured cooldown window.
func (g *Gate) Cooldown() time.Duration {
	return g.cooldown
}

// MatchKeyword returns the first trigger keyword contained in the normalized text.
func (g *Gate) MatchKeyword(text string) (string, bool) {
	return util.FirstSubstring(util.Normalize(text), g.keywords)
}

// Evaluate decides whether the message starts a new interaction. Media does not
// influence the decision; only the text is matched.
func (g *Gate) Evaluate(ctx context.Context, contactID, text string, hasMedia bool) Decision {
	keyword, ok := g.MatchKeyword(text)
	if !ok {
		slog.Debug("Gate.Evaluate: no keyword found", "contactID", contactID, "has_media", hasMedia)
		return Decision{Outcome: Suppress, Reason: ReasonNoKeyword}
	}

	rec, err := g.records.GetActivation(ctx, contactID)
	if err != nil {
		slog.Error("Gate.Evaluate: failed to read activation record", "error", err, "contactID", contactID)
		return Decision{Outcome: Suppress, Reason: ReasonStoreUnavailable, Keyword: keyword}
	}

	now := g.now()
	if rec != nil {
		elapsed := now.Sub(rec.LastActivatedAt)
		if elapsed < g.cooldown {
			d := Decision{Outcome: Suppress, Reason: ReasonCooldownActive, Keyword: keyword, Remaining: g.cooldown - elapsed}
			slog.Info("Gate.Evaluate: keyword matched but cooldown active",
				"contactID", contactID, "keyword", keyword, "remaining_hours", d.RemainingHours())
			return d
		}
	}

	if err := g.write(ctx, models.ActivationRecord{ContactID: contactID, LastActivatedAt: now}); err != nil {
		// The decision stands; the contact is served even if the cooldown clock could not be saved.
		slog.Error("Gate.Evaluate: failed to write activation record", "error", err, "contactID", contactID)
	}
	slog.Info("Gate.Evaluate: bot activated", "contactID", contactID, "keyword", keyword)
	return Decision{Outcome: Activate, Keyword: keyword}
}
