// Package models defines the core data structures for SalonBot.
//
// It includes inbound message types, client records and operator notices,
// which are shared across modules.
package models

import (
	"errors"
	"time"
)

// Error variables for better error handling and testability
var (
	ErrEmptyRecipient = errors.New("recipient cannot be empty")
	ErrEmptyBody      = errors.New("message body cannot be empty")
	ErrEmptyContactID = errors.New("contact id cannot be empty")
)

// InboundEvent is a single message delivered by a transport.
type InboundEvent struct {
	MessageID      string    `json:"message_id,omitempty"`
	ContactID      string    `json:"contact_id"`
	Text           string    `json:"text"`
	HasMedia       bool      `json:"has_media"`
	IsFromSelf     bool      `json:"is_from_self"`
	IsGroupChannel bool      `json:"is_group_channel"`
	PushName       string    `json:"push_name,omitempty"` // name the sender set on their own profile
	ReceivedAt     time.Time `json:"received_at"`
}

// ContactProfile is what the bot knows about a contact when choosing the initial flow.
type ContactProfile struct {
	Known       bool   `json:"known"`
	DisplayName string `json:"display_name,omitempty"`
}

// ClientRecord is a registered client of the salon.
type ClientRecord struct {
	ContactID          string    `json:"contact_id"`
	Name               string    `json:"name"`
	RequestedService   string    `json:"requested_service"`
	HasPriorExperience bool      `json:"has_prior_experience"`
	HasSubmittedPhoto  bool      `json:"has_submitted_photo"`
	RegisteredAt       time.Time `json:"registered_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Validate checks that a client record can be persisted.
func (c ClientRecord) Validate() error {
	if c.ContactID == "" {
		return ErrEmptyContactID
	}
	return nil
}

// NoticeKind classifies operator notifications.
type NoticeKind string

// Notice kinds.
const (
	NoticeHandoffRequested    NoticeKind = "handoff.requested"
	NoticeRepairPhotoReceived NoticeKind = "repair.photo_received"
	NoticeClientRegistered    NoticeKind = "client.registered"
)

// Notice tells the salon operator that a contact needs attention.
type Notice struct {
	Kind      NoticeKind `json:"kind"`
	ContactID string     `json:"contact_id"`
	Detail    string     `json:"detail,omitempty"`
	At        time.Time  `json:"at"`
}

// APIResponse is the envelope returned by the admin API.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Response status values.
const (
	APIStatusOK    = "ok"
	APIStatusError = "error"
)

// Success wraps a result in an ok envelope.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: APIStatusOK, Result: result}
}

// Error builds an error envelope with the given message.
func Error(message string) APIResponse {
	return APIResponse{Status: APIStatusError, Message: message}
}
