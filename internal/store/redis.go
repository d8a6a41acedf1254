// Package store provides storage backends for SalonBot.
//
// This file implements a Redis-backed store. Each map is a Redis hash keyed by contact id
// holding JSON values; inbound message ids are plain keys with a TTL.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/BTreeMap/SalonBot/internal/models"
	"github.com/redis/go-redis/v9"
)

// Redis key layout.
const (
	redisKeyPrefix        = "salonbot:"
	redisClientsKey       = redisKeyPrefix + "clients"
	redisConversationsKey = redisKeyPrefix + "conversations"
	redisActivationsKey   = redisKeyPrefix + "activations"
	redisInboundPrefix    = redisKeyPrefix + "inbound:"

	// DefaultInboundTTL bounds how long redelivered message ids are remembered.
	DefaultInboundTTL = 72 * time.Hour
)

// RedisStore persists the three maps in Redis hashes.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore connects to the Redis server named by the DSN (redis:// or rediss:// URL).
func NewRedisStore(opts ...Option) (*RedisStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Error("RedisStore URL not set")
		return nil, fmt.Errorf("redis URL not set")
	}
	redisOpts, err := redis.ParseURL(cfg.DSN)
	if err != nil {
		slog.Error("Failed to parse Redis URL", "error", err)
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	rdb := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("Redis ping failed", "error", err)
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	slog.Debug("Redis store connected", "addr", redisOpts.Addr, "db", redisOpts.DB)
	return &RedisStore{rdb: rdb}, nil
}

// hget reads one hash field. It returns false when the field is absent.
func (s *RedisStore) hget(ctx context.Context, key, field string) (string, bool, error) {
	val, err := s.rdb.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *RedisStore) hsetJSON(ctx context.Context, key, field string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.rdb.HSet(ctx, key, field, data).Err()
}

func (s *RedisStore) GetClient(ctx context.Context, contactID string) (*models.ClientRecord, error) {
	raw, ok, err := s.hget(ctx, redisClientsKey, contactID)
	if err != nil {
		slog.Error("RedisStore GetClient failed", "error", err, "contactID", contactID)
		return nil, fmt.Errorf("failed to get client %s: %w", contactID, err)
	}
	if !ok {
		return nil, nil
	}
	var rec models.ClientRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode client %s: %w", contactID, err)
	}
	return &rec, nil
}

func (s *RedisStore) SaveClient(ctx context.Context, rec models.ClientRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	// Keep the first registration time; everything else is overwritten.
	existing, err := s.GetClient(ctx, rec.ContactID)
	if err != nil {
		return err
	}
	if existing != nil && !existing.RegisteredAt.IsZero() {
		rec.RegisteredAt = existing.RegisteredAt
	}
	if err := s.hsetJSON(ctx, redisClientsKey, rec.ContactID, rec); err != nil {
		slog.Error("RedisStore SaveClient failed", "error", err, "contactID", rec.ContactID)
		return fmt.Errorf("failed to save client %s: %w", rec.ContactID, err)
	}
	return nil
}

func (s *RedisStore) ListClients(ctx context.Context) ([]models.ClientRecord, error) {
	all, err := s.rdb.HGetAll(ctx, redisClientsKey).Result()
	if err != nil {
		slog.Error("RedisStore ListClients failed", "error", err)
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	clients := make([]models.ClientRecord, 0, len(all))
	for id, raw := range all {
		var rec models.ClientRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			slog.Warn("RedisStore ListClients skipping undecodable client", "error", err, "contactID", id)
			continue
		}
		clients = append(clients, rec)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].ContactID < clients[j].ContactID })
	return clients, nil
}

func (s *RedisStore) GetConversation(ctx context.Context, contactID string) (*models.ConversationState, error) {
	raw, ok, err := s.hget(ctx, redisConversationsKey, contactID)
	if err != nil {
		slog.Error("RedisStore GetConversation failed", "error", err, "contactID", contactID)
		return nil, fmt.Errorf("failed to get conversation %s: %w", contactID, err)
	}
	if !ok {
		return nil, nil
	}
	return decodeState(raw)
}

func (s *RedisStore) SaveConversation(ctx context.Context, contactID string, state models.ConversationState) error {
	if contactID == "" {
		return models.ErrEmptyContactID
	}
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now().UTC()
	}
	if err := s.hsetJSON(ctx, redisConversationsKey, contactID, state); err != nil {
		slog.Error("RedisStore SaveConversation failed", "error", err, "contactID", contactID)
		return fmt.Errorf("failed to save conversation %s: %w", contactID, err)
	}
	return nil
}

func (s *RedisStore) DeleteConversation(ctx context.Context, contactID string) error {
	if err := s.rdb.HDel(ctx, redisConversationsKey, contactID).Err(); err != nil {
		slog.Error("RedisStore DeleteConversation failed", "error", err, "contactID", contactID)
		return fmt.Errorf("failed to delete conversation %s: %w", contactID, err)
	}
	return nil
}

func (s *RedisStore) ListConversations(ctx context.Context) ([]models.ConversationEntry, error) {
	all, err := s.rdb.HGetAll(ctx, redisConversationsKey).Result()
	if err != nil {
		slog.Error("RedisStore ListConversations failed", "error", err)
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	entries := make([]models.ConversationEntry, 0, len(all))
	for id, raw := range all {
		entry := models.ConversationEntry{ContactID: id}
		if st, err := decodeState(raw); err == nil {
			entry.State = *st
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ContactID < entries[j].ContactID })
	return entries, nil
}

func (s *RedisStore) GetActivation(ctx context.Context, contactID string) (*models.ActivationRecord, error) {
	raw, ok, err := s.hget(ctx, redisActivationsKey, contactID)
	if err != nil {
		slog.Error("RedisStore GetActivation failed", "error", err, "contactID", contactID)
		return nil, fmt.Errorf("failed to get activation %s: %w", contactID, err)
	}
	if !ok {
		return nil, nil
	}
	var rec models.ActivationRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode activation %s: %w", contactID, err)
	}
	return &rec, nil
}

func (s *RedisStore) SaveActivation(ctx context.Context, rec models.ActivationRecord) error {
	if rec.ContactID == "" {
		return models.ErrEmptyContactID
	}
	if err := s.hsetJSON(ctx, redisActivationsKey, rec.ContactID, rec); err != nil {
		slog.Error("RedisStore SaveActivation failed", "error", err, "contactID", rec.ContactID)
		return fmt.Errorf("failed to save activation %s: %w", rec.ContactID, err)
	}
	return nil
}

func (s *RedisStore) DeleteActivation(ctx context.Context, contactID string) error {
	if err := s.rdb.HDel(ctx, redisActivationsKey, contactID).Err(); err != nil {
		return fmt.Errorf("failed to delete activation %s: %w", contactID, err)
	}
	return nil
}

func (s *RedisStore) RecordInbound(ctx context.Context, messageID, contactID string) (bool, error) {
	if messageID == "" {
		return false, fmt.Errorf("message id cannot be empty")
	}
	fresh, err := s.rdb.SetNX(ctx, redisInboundPrefix+messageID, contactID, DefaultInboundTTL).Result()
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	return fresh, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
