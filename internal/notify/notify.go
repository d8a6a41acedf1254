// Package notify tells the salon operator when a contact needs a human.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/BTreeMap/SalonBot/internal/models"
	"github.com/nats-io/nats.go"
)

// SubjectPrefix is prepended to the notice kind to form the NATS subject.
const SubjectPrefix = "salonbot."

// Publisher delivers operator notices.
type Publisher interface {
	Publish(ctx context.Context, notice models.Notice) error
	Close() error
}

// Subject returns the subject a notice is published on, e.g. "salonbot.handoff.requested".
func Subject(kind models.NoticeKind) string {
	return SubjectPrefix + string(kind)
}

// NATSPublisher publishes notices as JSON on NATS.
type NATSPublisher struct {
	conn *nats.Conn
}

// NewNATSPublisher connects to the NATS server at url.
func NewNATSPublisher(url string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("salonbot"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATSPublisher disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("NATSPublisher reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSPublisher{conn: conn}, nil
}

// Publish sends the notice on its subject.
func (p *NATSPublisher) Publish(ctx context.Context, notice models.Notice) error {
	payload, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("failed to marshal notice: %w", err)
	}
	subject := Subject(notice.Kind)
	slog.Debug("NATSPublisher.Publish", "subject", subject, "contactID", notice.ContactID)
	if err := p.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}

// LogPublisher only logs notices. It is used when no broker is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(ctx context.Context, notice models.Notice) error {
	slog.Info("Operator notice", "kind", notice.Kind, "contactID", notice.ContactID, "detail", notice.Detail)
	return nil
}

func (LogPublisher) Close() error { return nil }

// Recorder keeps published notices in memory. Use it in tests.
type Recorder struct {
	mu      sync.Mutex
	notices []models.Notice
	Err     error
}

func (r *Recorder) Publish(ctx context.Context, notice models.Notice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.notices = append(r.notices, notice)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Notices returns a copy of everything published so far.
func (r *Recorder) Notices() []models.Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Notice(nil), r.notices...)
}

var (
	_ Publisher = (*NATSPublisher)(nil)
	_ Publisher = LogPublisher{}
	_ Publisher = (*Recorder)(nil)
)
