package conversation

import (
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/SalonBot/internal/models"
)

var (
	morning = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)
	known   = func() models.ContactProfile { return models.ContactProfile{Known: true, DisplayName: "Ana"} }
	unknown = func() models.ContactProfile { return models.ContactProfile{} }
)

func input(text string) Input {
	return Input{ContactID: "a", Text: text, Now: morning, Profile: unknown}
}

func media() Input {
	return Input{ContactID: "a", HasMedia: true, Now: morning, Profile: unknown}
}

func TestGreeting(t *testing.T) {
	tests := []struct {
		hour int
		want string
	}{
		{0, "Boa noite"},
		{4, "Boa noite"},
		{5, "Bom dia"},
		{11, "Bom dia"},
		{12, "Boa tarde"},
		{17, "Boa tarde"},
		{18, "Boa noite"},
		{23, "Boa noite"},
	}
	for _, tt := range tests {
		got := Greeting(time.Date(2026, 1, 1, tt.hour, 0, 0, 0, time.UTC))
		if got != tt.want {
			t.Errorf("Greeting(%02dh) = %q, want %q", tt.hour, got, tt.want)
		}
	}
}

func TestStart(t *testing.T) {
	e := NewEngine()

	res := e.Start(known(), morning)
	if res.Next == nil || res.Next.Kind != models.StateMainMenu {
		t.Fatalf("known contact should land on main menu, got %+v", res.Next)
	}
	if len(res.Messages) != 1 || !strings.HasPrefix(res.Messages[0], "Bom dia, Ana!") {
		t.Errorf("unexpected menu greeting: %q", res.Messages)
	}
	if !res.Next.UpdatedAt.Equal(morning) {
		t.Errorf("expected state stamped with %v, got %v", morning, res.Next.UpdatedAt)
	}

	res = e.Start(models.ContactProfile{Known: true}, morning)
	if !strings.Contains(res.Messages[0], DefaultDisplayName) {
		t.Errorf("expected fallback display name, got %q", res.Messages[0])
	}

	res = e.Start(models.ContactProfile{}, morning)
	if res.Next == nil || res.Next.Kind != models.StateRegistration || res.Next.Step != models.StepName {
		t.Fatalf("unknown contact should start registration, got %+v", res.Next)
	}
	if !strings.Contains(res.Messages[0], "primeira vez") {
		t.Errorf("expected first-time greeting, got %q", res.Messages[0])
	}
}

func TestMainMenuOptions(t *testing.T) {
	tests := []struct {
		text     string
		next     models.StateKind // empty means cleared
		messages int
		notice   models.NoticeKind
	}{
		{"1", "", 1, models.NoticeHandoffRequested},
		{" 2 ", "", 1, ""},
		{"3", models.StateAwaitingScheduleConfirmation, 2, ""},
		{"4", models.StateAwaitingRepairPhoto, 1, ""},
		{"5", models.StateAwaitingInspirationConfirmation, 1, ""},
		{"6", models.StateMainMenu, 1, ""},
		{"quero agendar", models.StateMainMenu, 1, ""},
	}
	e := NewEngine()
	for _, tt := range tests {
		res := e.Advance(models.MainMenu(), input(tt.text))
		if tt.next == "" {
			if res.Next != nil {
				t.Errorf("option %q: expected cleared state, got %+v", tt.text, res.Next)
			}
		} else if res.Next == nil || res.Next.Kind != tt.next {
			t.Errorf("option %q: expected %s, got %+v", tt.text, tt.next, res.Next)
		}
		if len(res.Messages) != tt.messages {
			t.Errorf("option %q: expected %d messages, got %d", tt.text, tt.messages, len(res.Messages))
		}
		if tt.notice != "" {
			if len(res.Notices) != 1 || res.Notices[0].Kind != tt.notice {
				t.Errorf("option %q: expected %s notice, got %+v", tt.text, tt.notice, res.Notices)
			}
		} else if len(res.Notices) != 0 {
			t.Errorf("option %q: unexpected notices %+v", tt.text, res.Notices)
		}
	}
}

func TestInvalidOptionMessage(t *testing.T) {
	res := NewEngine().Advance(models.MainMenu(), input("9"))
	if res.Messages[0] != msgInvalidOption {
		t.Errorf("expected invalid option message, got %q", res.Messages[0])
	}
}

func TestConfirmationStates(t *testing.T) {
	tests := []struct {
		kind    models.StateKind
		text    string
		cleared bool
		want    string
		notices int
	}{
		{models.StateAwaitingScheduleConfirmation, "Sim", true, msgScheduleConfirmed, 0},
		{models.StateAwaitingScheduleConfirmation, "sim, por favor", true, msgScheduleConfirmed, 0},
		{models.StateAwaitingScheduleConfirmation, "NÃO", true, msgScheduleDeclined, 0},
		{models.StateAwaitingScheduleConfirmation, "nao obrigada", true, msgScheduleDeclined, 0},
		{models.StateAwaitingScheduleConfirmation, "sim e não", true, msgScheduleConfirmed, 0},
		{models.StateAwaitingScheduleConfirmation, "talvez", false, msgScheduleUnclear, 0},
		{models.StateAwaitingScheduleConfirmation, "Na\u0303o", true, msgScheduleDeclined, 0},
		{models.StateAwaitingInspirationConfirmation, "sim", true, msgInspirationHandoff, 1},
		{models.StateAwaitingInspirationConfirmation, "não", true, msgInspirationDeclined, 0},
		{models.StateAwaitingInspirationConfirmation, "hmm", false, msgInspirationUnclear, 0},
	}
	e := NewEngine()
	for _, tt := range tests {
		res := e.Advance(models.Awaiting(tt.kind), input(tt.text))
		if tt.cleared != (res.Next == nil) {
			t.Errorf("%s %q: cleared = %v, want %v", tt.kind, tt.text, res.Next == nil, tt.cleared)
		}
		if !tt.cleared && res.Next.Kind != tt.kind {
			t.Errorf("%s %q: expected state unchanged, got %+v", tt.kind, tt.text, res.Next)
		}
		if len(res.Messages) != 1 || res.Messages[0] != tt.want {
			t.Errorf("%s %q: unexpected messages %q", tt.kind, tt.text, res.Messages)
		}
		if len(res.Notices) != tt.notices {
			t.Errorf("%s %q: expected %d notices, got %+v", tt.kind, tt.text, tt.notices, res.Notices)
		}
	}
}

func TestRepairPhoto(t *testing.T) {
	e := NewEngine()
	state := models.Awaiting(models.StateAwaitingRepairPhoto)

	res := e.Advance(state, input("segue"))
	if res.Next == nil || res.Next.Kind != models.StateAwaitingRepairPhoto {
		t.Errorf("text without media should keep waiting, got %+v", res.Next)
	}
	if res.Messages[0] != msgRepairPhotoMissing {
		t.Errorf("unexpected message %q", res.Messages[0])
	}

	res = e.Advance(state, media())
	if res.Next != nil {
		t.Errorf("photo should clear state, got %+v", res.Next)
	}
	if len(res.Notices) != 1 || res.Notices[0].Kind != models.NoticeRepairPhotoReceived {
		t.Errorf("expected repair notice, got %+v", res.Notices)
	}
}

func TestGoBackFromEveryState(t *testing.T) {
	yes := true
	states := []models.ConversationState{
		models.MainMenu(),
		models.Awaiting(models.StateAwaitingScheduleConfirmation),
		models.Awaiting(models.StateAwaitingRepairPhoto),
		models.Awaiting(models.StateAwaitingInspirationConfirmation),
		{Kind: models.StateRegistration, Step: models.StepName},
		{Kind: models.StateRegistration, Step: models.StepService, Name: "Maria"},
		{Kind: models.StateRegistration, Step: models.StepHistory, Name: "Maria", Service: "Blindagem"},
		{Kind: models.StateRegistration, Step: models.StepPhoto, Name: "Maria", Service: "Blindagem", PriorExperience: &yes},
	}
	e := NewEngine()
	for _, st := range states {
		for _, text := range []string{"0", "voltar", " VOLTAR ", "Menu"} {
			in := input(text)
			in.Profile = known
			res := e.Advance(st, in)
			if !res.Restarted {
				t.Errorf("%s %q: expected restart", st, text)
			}
			if res.Next == nil || res.Next.Kind != models.StateMainMenu {
				t.Errorf("%s %q: expected main menu, got %+v", st, text, res.Next)
			}
			if len(res.Messages) != 2 || res.Messages[0] != msgReturnedToMenu {
				t.Errorf("%s %q: unexpected messages %q", st, text, res.Messages)
			}
			if res.Register != nil {
				t.Errorf("%s %q: go-back must not register", st, text)
			}
		}
	}
}

func TestGoBackResolvesProfileLazily(t *testing.T) {
	calls := 0
	in := input("3")
	in.Profile = func() models.ContactProfile {
		calls++
		return models.ContactProfile{}
	}
	NewEngine().Advance(models.MainMenu(), in)
	if calls != 0 {
		t.Errorf("profile resolved on a normal transition: %d calls", calls)
	}

	in.Text = "menu"
	res := NewEngine().Advance(models.MainMenu(), in)
	if calls != 1 {
		t.Errorf("expected one profile resolution, got %d", calls)
	}
	if res.Next == nil || res.Next.Kind != models.StateRegistration {
		t.Errorf("unknown contact should restart registration, got %+v", res.Next)
	}
}

func TestCorruptStateRestarts(t *testing.T) {
	e := NewEngine()
	for _, st := range []models.ConversationState{
		{Kind: "lost"},
		{Kind: models.StateRegistration, Step: "payment"},
		{},
	} {
		res := e.Advance(st, input("1"))
		if !res.Restarted {
			t.Errorf("%+v: expected restart", st)
		}
		if res.Next == nil || res.Next.Kind != models.StateRegistration || res.Next.Step != models.StepName {
			t.Errorf("%+v: expected fresh registration, got %+v", st, res.Next)
		}
		if len(res.Messages) != 1 {
			t.Errorf("%+v: expected greeting only, got %q", st, res.Messages)
		}
	}
}

func TestRegistrationPhotoRequiresMedia(t *testing.T) {
	e := NewEngine()
	yes := false
	st := models.ConversationState{Kind: models.StateRegistration, Step: models.StepPhoto, Name: "Bia", Service: "Esmaltação", PriorExperience: &yes}
	for _, text := range []string{"", "mando depois", "sim"} {
		res := e.Advance(st, input(text))
		if res.Register != nil {
			t.Errorf("%q: registered without media", text)
		}
		if res.Next == nil || res.Next.Step != models.StepPhoto {
			t.Errorf("%q: expected to stay on photo step, got %+v", text, res.Next)
		}
	}
}

func TestHistoryLabel(t *testing.T) {
	if HistoryLabel(true) != "Sim" || HistoryLabel(false) != "Não" {
		t.Errorf("unexpected labels %q/%q", HistoryLabel(true), HistoryLabel(false))
	}
}

// Contact A is unknown, says "oi" and completes registration.
func TestScenario_NewContactRegisters(t *testing.T) {
	e := NewEngine()

	res := e.Start(unknown(), morning)
	if res.Next.Kind != models.StateRegistration || res.Next.Step != models.StepName {
		t.Fatalf("expected Registration{Name}, got %+v", res.Next)
	}
	if !strings.Contains(res.Messages[0], "primeira vez") {
		t.Errorf("greeting should mention first visit: %q", res.Messages[0])
	}

	res = e.Advance(*res.Next, input("Maria Silva"))
	if res.Next.Step != models.StepService || res.Next.Name != "Maria Silva" {
		t.Fatalf("expected Registration{Service} with name, got %+v", res.Next)
	}
	if !strings.Contains(res.Messages[0], "Maria Silva") {
		t.Errorf("service prompt should use the name: %q", res.Messages[0])
	}

	res = e.Advance(*res.Next, input("Alongamento"))
	if res.Next.Step != models.StepHistory || res.Next.Service != "Alongamento" {
		t.Fatalf("expected Registration{History}, got %+v", res.Next)
	}

	res = e.Advance(*res.Next, input("sim"))
	if res.Next.Step != models.StepPhoto {
		t.Fatalf("expected Registration{Photo}, got %+v", res.Next)
	}
	if res.Next.PriorExperience == nil || HistoryLabel(*res.Next.PriorExperience) != "Sim" {
		t.Errorf("expected stored history Sim, got %v", res.Next.PriorExperience)
	}

	res = e.Advance(*res.Next, media())
	if res.Next != nil {
		t.Errorf("expected cleared state, got %+v", res.Next)
	}
	want := models.ClientRecord{
		ContactID:          "a",
		Name:               "Maria Silva",
		RequestedService:   "Alongamento",
		HasPriorExperience: true,
		HasSubmittedPhoto:  true,
		RegisteredAt:       morning,
		UpdatedAt:          morning,
	}
	if res.Register == nil || *res.Register != want {
		t.Errorf("ClientRecord = %+v, want %+v", res.Register, want)
	}
	if len(res.Notices) != 1 || res.Notices[0].Kind != models.NoticeClientRegistered {
		t.Errorf("expected client.registered notice, got %+v", res.Notices)
	}
}

// A known contact asks for prices and declines scheduling.
func TestScenario_KnownContactPricesThenDeclines(t *testing.T) {
	e := NewEngine()

	res := e.Start(known(), morning)
	if res.Next.Kind != models.StateMainMenu {
		t.Fatalf("expected MainMenu, got %+v", res.Next)
	}

	res = e.Advance(*res.Next, input("3"))
	if len(res.Messages) != 2 || res.Messages[0] != msgPriceList || res.Messages[1] != msgSchedulePrompt {
		t.Fatalf("expected price list then prompt, got %q", res.Messages)
	}
	if res.Next.Kind != models.StateAwaitingScheduleConfirmation {
		t.Fatalf("expected AwaitingScheduleConfirmation, got %+v", res.Next)
	}

	res = e.Advance(*res.Next, input("não"))
	if res.Next != nil {
		t.Errorf("expected cleared state, got %+v", res.Next)
	}
	if len(res.Messages) != 1 || res.Messages[0] != msgScheduleDeclined {
		t.Errorf("expected acknowledgement, got %q", res.Messages)
	}
}

// A contact waiting on a repair photo says "voltar" instead.
func TestScenario_RepairAbandonedWithVoltar(t *testing.T) {
	res := NewEngine().Advance(models.Awaiting(models.StateAwaitingRepairPhoto), input("voltar"))
	if !res.Restarted {
		t.Fatal("expected initial dispatch to re-fire")
	}
	if res.Next == nil || res.Next.Kind == models.StateAwaitingRepairPhoto {
		t.Errorf("repair request should be abandoned, got %+v", res.Next)
	}
	if len(res.Notices) != 0 {
		t.Errorf("unexpected notices %+v", res.Notices)
	}
}
