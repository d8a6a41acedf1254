// Package store provides storage backends for SalonBot.
//
// Every backend keeps three independent maps keyed by contact id: registered clients,
// active conversation states and last-activation timestamps. It also records inbound
// message ids so redelivered messages are processed once.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/SalonBot/internal/models"
)

// Store is the persistence contract used by the session layer.
// Getters return (nil, nil) when the key is absent.
type Store interface {
	GetClient(ctx context.Context, contactID string) (*models.ClientRecord, error)
	// SaveClient overwrites every profile field; the original RegisteredAt is kept.
	SaveClient(ctx context.Context, rec models.ClientRecord) error
	ListClients(ctx context.Context) ([]models.ClientRecord, error)

	// GetConversation returns an error wrapping models.ErrMalformedState when the
	// persisted value cannot be decoded.
	GetConversation(ctx context.Context, contactID string) (*models.ConversationState, error)
	SaveConversation(ctx context.Context, contactID string, state models.ConversationState) error
	DeleteConversation(ctx context.Context, contactID string) error
	ListConversations(ctx context.Context) ([]models.ConversationEntry, error)

	GetActivation(ctx context.Context, contactID string) (*models.ActivationRecord, error)
	SaveActivation(ctx context.Context, rec models.ActivationRecord) error
	DeleteActivation(ctx context.Context, contactID string) error

	// RecordInbound stores a message id. It returns false if the id was already recorded.
	RecordInbound(ctx context.Context, messageID, contactID string) (bool, error)

	Close() error
}

// DSN types returned by DetectDSNType.
const (
	DSNTypeSQLite   = "sqlite3"
	DSNTypePostgres = "postgres"
	DSNTypeRedis    = "redis"
)

// DetectDSNType guesses the backend from a connection string.
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"), isKeyValueDSN(lower):
		return DSNTypePostgres
	case strings.HasPrefix(lower, "redis://"), strings.HasPrefix(lower, "rediss://"):
		return DSNTypeRedis
	default:
		return DSNTypeSQLite
	}
}

// isKeyValueDSN matches libpq keyword/value strings such as "host=db user=bot dbname=salon".
func isKeyValueDSN(dsn string) bool {
	for _, key := range []string{"host=", "dbname=", "user="} {
		if strings.HasPrefix(dsn, key) || strings.Contains(dsn, " "+key) {
			return true
		}
	}
	return false
}

// Opts holds configuration shared by the SQL and Redis stores.
type Opts struct {
	DSN string
}

// Option configures a store.
type Option func(*Opts)

// WithDSN sets the connection string. The backend is picked by DetectDSNType.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option { return WithDSN(dsn) }

// WithPostgresDSN sets the Postgres connection string.
func WithPostgresDSN(dsn string) Option { return WithDSN(dsn) }

// WithRedisURL sets the Redis connection URL.
func WithRedisURL(url string) Option { return WithDSN(url) }

// Open builds the backend matching the configured DSN, or an in-memory store when no DSN is set.
func Open(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Warn("No database DSN provided, using in-memory store; state will not survive restarts")
		return NewInMemoryStore(), nil
	}
	switch DetectDSNType(cfg.DSN) {
	case DSNTypePostgres:
		return NewPostgresStore(opts...)
	case DSNTypeRedis:
		return NewRedisStore(opts...)
	default:
		return NewSQLiteStore(opts...)
	}
}

// InMemoryStore is a map-backed Store for tests and local runs.
type InMemoryStore struct {
	mu            sync.RWMutex
	clients       map[string]models.ClientRecord
	conversations map[string]models.ConversationState
	activations   map[string]models.ActivationRecord
	inbound       map[string]string
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		clients:       make(map[string]models.ClientRecord),
		conversations: make(map[string]models.ConversationState),
		activations:   make(map[string]models.ActivationRecord),
		inbound:       make(map[string]string),
	}
}

func (s *InMemoryStore) GetClient(ctx context.Context, contactID string) (*models.ClientRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.clients[contactID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *InMemoryStore) SaveClient(ctx context.Context, rec models.ClientRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.clients[rec.ContactID]; ok && !existing.RegisteredAt.IsZero() {
		rec.RegisteredAt = existing.RegisteredAt
	}
	s.clients[rec.ContactID] = rec
	return nil
}

func (s *InMemoryStore) ListClients(ctx context.Context) ([]models.ClientRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ClientRecord, 0, len(s.clients))
	for _, rec := range s.clients {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContactID < out[j].ContactID })
	return out, nil
}

func (s *InMemoryStore) GetConversation(ctx context.Context, contactID string) (*models.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.conversations[contactID]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (s *InMemoryStore) SaveConversation(ctx context.Context, contactID string, state models.ConversationState) error {
	if contactID == "" {
		return models.ErrEmptyContactID
	}
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[contactID] = state
	return nil
}

func (s *InMemoryStore) DeleteConversation(ctx context.Context, contactID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, contactID)
	return nil
}

func (s *InMemoryStore) ListConversations(ctx context.Context) ([]models.ConversationEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ConversationEntry, 0, len(s.conversations))
	for id, st := range s.conversations {
		out = append(out, models.ConversationEntry{ContactID: id, State: st})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContactID < out[j].ContactID })
	return out, nil
}

func (s *InMemoryStore) GetActivation(ctx context.Context, contactID string) (*models.ActivationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.activations[contactID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *InMemoryStore) SaveActivation(ctx context.Context, rec models.ActivationRecord) error {
	if rec.ContactID == "" {
		return models.ErrEmptyContactID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activations[rec.ContactID] = rec
	return nil
}

func (s *InMemoryStore) DeleteActivation(ctx context.Context, contactID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.activations, contactID)
	return nil
}

func (s *InMemoryStore) RecordInbound(ctx context.Context, messageID, contactID string) (bool, error) {
	if messageID == "" {
		return false, fmt.Errorf("message id cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.inbound[messageID]; seen {
		return false, nil
	}
	s.inbound[messageID] = contactID
	return true, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
