// Package conversation implements the salon assistant's finite-state machine.
//
// The Engine is pure: it receives the current state and one inbound message and returns the
// messages to send, the next state (nil when the flow ends) and any records or operator notices
// the caller must persist or publish. It performs no I/O.
package conversation

import (
	"log/slog"
	"time"

	"github.com/BTreeMap/SalonBot/internal/models"
	"github.com/BTreeMap/SalonBot/internal/util"
)

// Answers that send the contact back to the initial dispatch from any state.
var goBackAnswers = map[string]struct{}{
	"0":      {},
	"voltar": {},
	"menu":   {},
}

// Main menu options.
const (
	OptionTalkToRaquel = "1"
	OptionScheduling   = "2"
	OptionPrices       = "3"
	OptionRepair       = "4"
	OptionInspiration  = "5"
)

// Input is one inbound message for a contact that is mid-flow.
type Input struct {
	ContactID string
	Text      string
	HasMedia  bool
	// Now is the local time used for greetings and timestamps.
	Now time.Time
	// Profile classifies the contact. It is only called when the initial dispatch re-fires.
	Profile func() models.ContactProfile
}

// Result is what the caller must deliver and persist.
type Result struct {
	// Messages are sent in order.
	Messages []string
	// Next is nil when the conversation state must be cleared.
	Next *models.ConversationState
	// Register is set when registration completes.
	Register *models.ClientRecord
	Notices  []models.Notice
	// Restarted is true when the initial dispatch was re-issued.
	Restarted bool
}

// Engine advances conversation states.
type Engine struct{}

// NewEngine creates an Engine.
func NewEngine() *Engine {
	return &Engine{}
}

// IsGoBack reports whether the text asks to return to the initial menu.
func IsGoBack(text string) bool {
	_, ok := goBackAnswers[util.Normalize(text)]
	return ok
}

// Start produces the initial dispatch for a freshly activated contact: the main menu for
// known contacts, the registration flow for everyone else.
func (e *Engine) Start(profile models.ContactProfile, now time.Time) Result {
	greeting := Greeting(now)
	if profile.Known {
		name := profile.DisplayName
		if name == "" {
			name = DefaultDisplayName
		}
		return Result{
			Messages: []string{mainMenuMessage(greeting, name)},
			Next:     stamp(models.MainMenu(), now),
		}
	}
	return Result{
		Messages: []string{registrationWelcomeMessage(greeting)},
		Next:     stamp(models.Registration(), now),
	}
}

// Advance consumes one message for a contact in the given state.
func (e *Engine) Advance(state models.ConversationState, in Input) Result {
	if IsGoBack(in.Text) {
		slog.Debug("Engine.Advance: go-back requested", "contactID", in.ContactID, "state", state.String())
		res := e.Start(resolveProfile(in), in.Now)
		res.Messages = append([]string{msgReturnedToMenu}, res.Messages...)
		res.Restarted = true
		return res
	}

	if err := state.Validate(); err != nil {
		slog.Warn("Engine.Advance: unknown state, restarting", "error", err, "contactID", in.ContactID)
		res := e.Start(resolveProfile(in), in.Now)
		res.Restarted = true
		return res
	}

	switch state.Kind {
	case models.StateMainMenu:
		return e.mainMenu(state, in)
	case models.StateAwaitingScheduleConfirmation:
		return yesNo(state, in, msgScheduleConfirmed, msgScheduleDeclined, msgScheduleUnclear, nil)
	case models.StateAwaitingInspirationConfirmation:
		handoff := &models.Notice{Kind: models.NoticeHandoffRequested, ContactID: in.ContactID, Detail: "inspiration", At: in.Now}
		return yesNo(state, in, msgInspirationHandoff, msgInspirationDeclined, msgInspirationUnclear, handoff)
	case models.StateAwaitingRepairPhoto:
		return e.repairPhoto(state, in)
	default:
		return e.registration(state, in)
	}
}

func (e *Engine) mainMenu(state models.ConversationState, in Input) Result {
	switch util.Normalize(in.Text) {
	case OptionTalkToRaquel:
		return Result{
			Messages: []string{msgHandoff},
			Notices:  []models.Notice{{Kind: models.NoticeHandoffRequested, ContactID: in.ContactID, Detail: "menu", At: in.Now}},
		}
	case OptionScheduling:
		return Result{Messages: []string{msgSchedulingLink}}
	case OptionPrices:
		return Result{
			Messages: []string{msgPriceList, msgSchedulePrompt},
			Next:     stamp(models.Awaiting(models.StateAwaitingScheduleConfirmation), in.Now),
		}
	case OptionRepair:
		return Result{
			Messages: []string{msgRepairRequest},
			Next:     stamp(models.Awaiting(models.StateAwaitingRepairPhoto), in.Now),
		}
	case OptionInspiration:
		return Result{
			Messages: []string{msgInspiration},
			Next:     stamp(models.Awaiting(models.StateAwaitingInspirationConfirmation), in.Now),
		}
	default:
		return Result{Messages: []string{msgInvalidOption}, Next: &state}
	}
}

// yesNo handles the confirmation states. "sim" is checked before "não" so an answer
// containing both counts as yes.
func yesNo(state models.ConversationState, in Input, yes, no, unclear string, onYes *models.Notice) Result {
	answer := util.Normalize(in.Text)
	switch {
	case util.ContainsAny(answer, "sim"):
		res := Result{Messages: []string{yes}}
		if onYes != nil {
			res.Notices = []models.Notice{*onYes}
		}
		return res
	case util.ContainsAny(answer, "não", "nao"):
		return Result{Messages: []string{no}}
	default:
		return Result{Messages: []string{unclear}, Next: &state}
	}
}

func (e *Engine) repairPhoto(state models.ConversationState, in Input) Result {
	if !in.HasMedia {
		return Result{Messages: []string{msgRepairPhotoMissing}, Next: &state}
	}
	return Result{
		Messages: []string{msgRepairPhotoReceived},
		Notices:  []models.Notice{{Kind: models.NoticeRepairPhotoReceived, ContactID: in.ContactID, At: in.Now}},
	}
}

func (e *Engine) registration(state models.ConversationState, in Input) Result {
	next := state
	switch state.Step {
	case models.StepName:
		next.Name = in.Text
		next.Step = models.StepService
		return Result{Messages: []string{askServiceMessage(next.Name)}, Next: stamp(next, in.Now)}

	case models.StepService:
		next.Service = in.Text
		next.Step = models.StepHistory
		return Result{Messages: []string{msgAskHistory}, Next: stamp(next, in.Now)}

	case models.StepHistory:
		prior := util.ContainsAny(util.Normalize(in.Text), "sim")
		next.PriorExperience = &prior
		next.Step = models.StepPhoto
		return Result{Messages: []string{msgAskPhoto}, Next: stamp(next, in.Now)}

	default: // models.StepPhoto, guaranteed by Validate
		if !in.HasMedia {
			return Result{Messages: []string{msgRegistrationPhotoMissing}, Next: &state}
		}
		rec := &models.ClientRecord{
			ContactID:          in.ContactID,
			Name:               state.Name,
			RequestedService:   state.Service,
			HasPriorExperience: state.PriorExperience != nil && *state.PriorExperience,
			HasSubmittedPhoto:  true,
			RegisteredAt:       in.Now,
			UpdatedAt:          in.Now,
		}
		return Result{
			Messages: []string{registrationDoneMessage(state.Name)},
			Register: rec,
			Notices: []models.Notice{{
				Kind:      models.NoticeClientRegistered,
				ContactID: in.ContactID,
				Detail:    state.Service,
				At:        in.Now,
			}},
		}
	}
}

// HistoryLabel renders a prior-experience answer the way the salon records it.
func HistoryLabel(prior bool) string {
	if prior {
		return "Sim"
	}
	return "Não"
}

func resolveProfile(in Input) models.ContactProfile {
	if in.Profile == nil {
		return models.ContactProfile{}
	}
	return in.Profile()
}

func stamp(st models.ConversationState, now time.Time) *models.ConversationState {
	st.UpdatedAt = now
	return &st
}
