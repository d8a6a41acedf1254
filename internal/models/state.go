// Package models defines conversation state structures for SalonBot flows.
package models

import (
	"errors"
	"fmt"
	"time"
)

// StateKind identifies which flow a contact is currently in.
type StateKind string

// RegistrationStep identifies the next field the registration flow expects.
type RegistrationStep string

// State kinds.
const (
	StateMainMenu                        StateKind = "main_menu"
	StateAwaitingScheduleConfirmation    StateKind = "awaiting_schedule_confirmation"
	StateAwaitingRepairPhoto             StateKind = "awaiting_repair_photo"
	StateAwaitingInspirationConfirmation StateKind = "awaiting_inspiration_confirmation"
	StateRegistration                    StateKind = "registration"
)

// Registration steps, in the only order they may be visited.
const (
	StepName    RegistrationStep = "name"
	StepService RegistrationStep = "service"
	StepHistory RegistrationStep = "history"
	StepPhoto   RegistrationStep = "photo"
)

// ErrMalformedState is returned when a persisted conversation state cannot be decoded
// or does not describe a known flow.
var ErrMalformedState = errors.New("malformed conversation state")

// ConversationState is the tagged variant describing where a contact is mid-flow.
// Only registration states carry step and collected data.
type ConversationState struct {
	Kind            StateKind        `json:"kind"`
	Step            RegistrationStep `json:"step,omitempty"`
	Name            string           `json:"name,omitempty"`
	Service         string           `json:"service,omitempty"`
	PriorExperience *bool            `json:"prior_experience,omitempty"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// MainMenu returns the state of a contact looking at the main menu.
func MainMenu() ConversationState {
	return ConversationState{Kind: StateMainMenu}
}

// Awaiting returns a simple waiting state of the given kind.
func Awaiting(kind StateKind) ConversationState {
	return ConversationState{Kind: kind}
}

// Registration returns the first registration state.
func Registration() ConversationState {
	return ConversationState{Kind: StateRegistration, Step: StepName}
}

// Validate reports whether the state is one the conversation engine knows how to advance.
func (s ConversationState) Validate() error {
	switch s.Kind {
	case StateMainMenu, StateAwaitingScheduleConfirmation, StateAwaitingRepairPhoto, StateAwaitingInspirationConfirmation:
		return nil
	case StateRegistration:
		switch s.Step {
		case StepName, StepService, StepHistory, StepPhoto:
			return nil
		default:
			return fmt.Errorf("%w: unknown registration step %q", ErrMalformedState, s.Step)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedState, s.Kind)
	}
}

// String renders the state for logs, e.g. "registration/service".
func (s ConversationState) String() string {
	if s.Kind == StateRegistration {
		return string(s.Kind) + "/" + string(s.Step)
	}
	return string(s.Kind)
}

// ActivationRecord marks the last time the bot started an interaction with a contact.
type ActivationRecord struct {
	ContactID       string    `json:"contact_id"`
	LastActivatedAt time.Time `json:"last_activated_at"`
}

// ConversationEntry pairs a contact with its persisted state, used when listing sessions.
type ConversationEntry struct {
	ContactID string            `json:"contact_id"`
	State     ConversationState `json:"state"`
}
