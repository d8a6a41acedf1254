package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/BTreeMap/SalonBot/internal/models"
)

// Compile-time checks that every backend implements Store.
var (
	_ Store = (*InMemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
	_ Store = (*RedisStore)(nil)
)

// encodeState serializes a conversation state for storage.
func encodeState(state models.ConversationState) (string, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("encode conversation state: %w", err)
	}
	return string(data), nil
}

// decodeState parses a stored conversation state. Undecodable values wrap models.ErrMalformedState.
func decodeState(raw string) (*models.ConversationState, error) {
	var st models.ConversationState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrMalformedState, err)
	}
	return &st, nil
}

// scanClient scans a ClientRecord from a row.
func scanClient(row interface{ Scan(dest ...any) error }) (models.ClientRecord, error) {
	var c models.ClientRecord
	err := row.Scan(&c.ContactID, &c.Name, &c.RequestedService, &c.HasPriorExperience,
		&c.HasSubmittedPhoto, &c.RegisteredAt, &c.UpdatedAt)
	return c, err
}

// collectClients drains client rows.
func collectClients(rows *sql.Rows) ([]models.ClientRecord, error) {
	defer rows.Close()
	var clients []models.ClientRecord
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan client row: %w", err)
		}
		clients = append(clients, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate client rows: %w", err)
	}
	return clients, nil
}

// collectConversations drains conversation rows. Rows that fail to decode are kept with an
// empty state so operators can still see and reset them.
func collectConversations(rows *sql.Rows) ([]models.ConversationEntry, error) {
	defer rows.Close()
	var entries []models.ConversationEntry
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		entry := models.ConversationEntry{ContactID: id}
		if st, err := decodeState(raw); err == nil {
			entry.State = *st
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversation rows: %w", err)
	}
	return entries, nil
}
