package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/SalonBot/internal/models"
)

// sqlStore holds the queries shared by the SQLite and Postgres backends.
// Queries are written with '?' placeholders and rebound for the target driver.
type sqlStore struct {
	db     *sql.DB
	name   string
	rebind func(string) string
}

// rebindDollar converts '?' placeholders to Postgres-style '$n'.
func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func rebindNone(query string) string { return query }

func (s *sqlStore) q(query string) string {
	return s.rebind(query)
}

func (s *sqlStore) GetClient(ctx context.Context, contactID string) (*models.ClientRecord, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT contact_id, name, requested_service, has_prior_experience,
		has_submitted_photo, registered_at, updated_at FROM clients WHERE contact_id = ?`), contactID)
	c, err := scanClient(row)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug(s.name+" GetClient not found", "contactID", contactID)
		return nil, nil
	}
	if err != nil {
		slog.Error(s.name+" GetClient failed", "error", err, "contactID", contactID)
		return nil, fmt.Errorf("failed to get client %s: %w", contactID, err)
	}
	return &c, nil
}

func (s *sqlStore) SaveClient(ctx context.Context, rec models.ClientRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if rec.RegisteredAt.IsZero() {
		rec.RegisteredAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO clients (contact_id, name, requested_service, has_prior_experience, has_submitted_photo, registered_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (contact_id) DO UPDATE SET
			name = excluded.name,
			requested_service = excluded.requested_service,
			has_prior_experience = excluded.has_prior_experience,
			has_submitted_photo = excluded.has_submitted_photo,
			updated_at = excluded.updated_at`),
		rec.ContactID, rec.Name, rec.RequestedService, rec.HasPriorExperience, rec.HasSubmittedPhoto,
		rec.RegisteredAt.UTC(), rec.UpdatedAt.UTC())
	if err != nil {
		slog.Error(s.name+" SaveClient failed", "error", err, "contactID", rec.ContactID)
		return fmt.Errorf("failed to save client %s: %w", rec.ContactID, err)
	}
	slog.Debug(s.name+" SaveClient succeeded", "contactID", rec.ContactID)
	return nil
}

func (s *sqlStore) ListClients(ctx context.Context) ([]models.ClientRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT contact_id, name, requested_service, has_prior_experience,
		has_submitted_photo, registered_at, updated_at FROM clients ORDER BY contact_id`)
	if err != nil {
		slog.Error(s.name+" ListClients query failed", "error", err)
		return nil, fmt.Errorf("failed to query clients: %w", err)
	}
	return collectClients(rows)
}

func (s *sqlStore) GetConversation(ctx context.Context, contactID string) (*models.ConversationState, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, s.q(`SELECT state FROM conversations WHERE contact_id = ?`), contactID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error(s.name+" GetConversation failed", "error", err, "contactID", contactID)
		return nil, fmt.Errorf("failed to get conversation %s: %w", contactID, err)
	}
	st, err := decodeState(raw)
	if err != nil {
		slog.Warn(s.name+" GetConversation found undecodable state", "error", err, "contactID", contactID)
		return nil, err
	}
	return st, nil
}

func (s *sqlStore) SaveConversation(ctx context.Context, contactID string, state models.ConversationState) error {
	if contactID == "" {
		return models.ErrEmptyContactID
	}
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now().UTC()
	}
	raw, err := encodeState(state)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO conversations (contact_id, state, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (contact_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`),
		contactID, raw, state.UpdatedAt.UTC())
	if err != nil {
		slog.Error(s.name+" SaveConversation failed", "error", err, "contactID", contactID, "state", state.String())
		return fmt.Errorf("failed to save conversation %s: %w", contactID, err)
	}
	slog.Debug(s.name+" SaveConversation succeeded", "contactID", contactID, "state", state.String())
	return nil
}

func (s *sqlStore) DeleteConversation(ctx context.Context, contactID string) error {
	if _, err := s.db.ExecContext(ctx, s.q(`DELETE FROM conversations WHERE contact_id = ?`), contactID); err != nil {
		slog.Error(s.name+" DeleteConversation failed", "error", err, "contactID", contactID)
		return fmt.Errorf("failed to delete conversation %s: %w", contactID, err)
	}
	slog.Debug(s.name+" DeleteConversation succeeded", "contactID", contactID)
	return nil
}

func (s *sqlStore) ListConversations(ctx context.Context) ([]models.ConversationEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT contact_id, state FROM conversations ORDER BY contact_id`)
	if err != nil {
		slog.Error(s.name+" ListConversations query failed", "error", err)
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	return collectConversations(rows)
}

func (s *sqlStore) GetActivation(ctx context.Context, contactID string) (*models.ActivationRecord, error) {
	rec := models.ActivationRecord{ContactID: contactID}
	err := s.db.QueryRowContext(ctx, s.q(`SELECT last_activated_at FROM activations WHERE contact_id = ?`), contactID).
		Scan(&rec.LastActivatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error(s.name+" GetActivation failed", "error", err, "contactID", contactID)
		return nil, fmt.Errorf("failed to get activation %s: %w", contactID, err)
	}
	return &rec, nil
}

func (s *sqlStore) SaveActivation(ctx context.Context, rec models.ActivationRecord) error {
	if rec.ContactID == "" {
		return models.ErrEmptyContactID
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO activations (contact_id, last_activated_at) VALUES (?, ?)
		ON CONFLICT (contact_id) DO UPDATE SET last_activated_at = excluded.last_activated_at`),
		rec.ContactID, rec.LastActivatedAt.UTC())
	if err != nil {
		slog.Error(s.name+" SaveActivation failed", "error", err, "contactID", rec.ContactID)
		return fmt.Errorf("failed to save activation %s: %w", rec.ContactID, err)
	}
	slog.Debug(s.name+" SaveActivation succeeded", "contactID", rec.ContactID, "at", rec.LastActivatedAt)
	return nil
}

func (s *sqlStore) DeleteActivation(ctx context.Context, contactID string) error {
	if _, err := s.db.ExecContext(ctx, s.q(`DELETE FROM activations WHERE contact_id = ?`), contactID); err != nil {
		slog.Error(s.name+" DeleteActivation failed", "error", err, "contactID", contactID)
		return fmt.Errorf("failed to delete activation %s: %w", contactID, err)
	}
	return nil
}

func (s *sqlStore) RecordInbound(ctx context.Context, messageID, contactID string) (bool, error) {
	if messageID == "" {
		return false, fmt.Errorf("message id cannot be empty")
	}
	res, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO inbound_dedup (message_id, contact_id, received_at) VALUES (?, ?, ?)
		ON CONFLICT (message_id) DO NOTHING`),
		messageID, contactID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record inbound rows affected: %w", err)
	}
	return n > 0, nil
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	slog.Debug("Closing " + s.name + " database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close "+s.name+" database", "error", err)
	}
	return err
}
