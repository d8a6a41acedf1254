package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/SalonBot/internal/activation"
	"github.com/BTreeMap/SalonBot/internal/conversation"
	"github.com/BTreeMap/SalonBot/internal/models"
	"github.com/BTreeMap/SalonBot/internal/notify"
	"github.com/BTreeMap/SalonBot/internal/store"
	"github.com/BTreeMap/SalonBot/internal/whatsapp"
)

// flakyStore wraps the in-memory store and injects failures.
type flakyStore struct {
	*store.InMemoryStore
	loadErr       error
	saveFailures  int
	saveAttempts  int
	dedupErr      error
	clientSaveErr error
}

func (f *flakyStore) GetConversation(ctx context.Context, contactID string) (*models.ConversationState, error) {
	if f.loadErr != nil {
		err := f.loadErr
		f.loadErr = nil
		return nil, err
	}
	return f.InMemoryStore.GetConversation(ctx, contactID)
}

func (f *flakyStore) SaveConversation(ctx context.Context, contactID string, st models.ConversationState) error {
	f.saveAttempts++
	if f.saveFailures > 0 {
		f.saveFailures--
		return errors.New("database is locked")
	}
	return f.InMemoryStore.SaveConversation(ctx, contactID, st)
}

func (f *flakyStore) RecordInbound(ctx context.Context, messageID, contactID string) (bool, error) {
	if f.dedupErr != nil {
		return false, f.dedupErr
	}
	return f.InMemoryStore.RecordInbound(ctx, messageID, contactID)
}

func (f *flakyStore) SaveClient(ctx context.Context, rec models.ClientRecord) error {
	if f.clientSaveErr != nil {
		return f.clientSaveErr
	}
	return f.InMemoryStore.SaveClient(ctx, rec)
}

type fixture struct {
	dir      *Directory
	store    *flakyStore
	outbox   *whatsapp.MockClient
	notices  *notify.Recorder
	now      time.Time
	msgCount int
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store:   &flakyStore{InMemoryStore: store.NewInMemoryStore()},
		outbox:  whatsapp.NewMockClient(),
		notices: &notify.Recorder{},
		now:     time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	gate := activation.NewGate(f.store, activation.WithClock(clock))
	base := []Option{
		WithNotifier(f.notices),
		WithClock(clock),
		WithLocation(time.UTC),
		WithRetryPolicy(RetryPolicy{MaxTries: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}),
	}
	f.dir = NewDirectory(f.store, gate, conversation.NewEngine(), f.outbox,
		NewClassifier(f.store, f.outbox), append(base, opts...)...)
	return f
}

func (f *fixture) send(contactID, text string) Outcome {
	f.msgCount++
	return f.dir.Handle(context.Background(), models.InboundEvent{
		MessageID: fmt.Sprintf("MSG-%d", f.msgCount),
		ContactID: contactID,
		Text:      text,
	})
}

func (f *fixture) sendMedia(contactID string) Outcome {
	f.msgCount++
	return f.dir.Handle(context.Background(), models.InboundEvent{
		MessageID: fmt.Sprintf("MSG-%d", f.msgCount),
		ContactID: contactID,
		HasMedia:  true,
	})
}

func (f *fixture) state(t *testing.T, contactID string) *models.ConversationState {
	t.Helper()
	st, err := f.store.InMemoryStore.GetConversation(context.Background(), contactID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	return st
}

func TestDirectory_NewContactRegisters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out := f.send("a", "oi")
	if !out.Activated {
		t.Fatalf("expected activation, got %+v", out)
	}
	if st := f.state(t, "a"); st == nil || st.Kind != models.StateRegistration || st.Step != models.StepName {
		t.Fatalf("expected Registration{Name}, got %+v", st)
	}
	if rec, _ := f.store.GetActivation(ctx, "a"); rec == nil || !rec.LastActivatedAt.Equal(f.now) {
		t.Errorf("expected activation record at %v, got %+v", f.now, rec)
	}

	f.send("a", "Maria Silva")
	f.send("a", "Alongamento")
	f.send("a", "sim")
	if st := f.state(t, "a"); st == nil || st.Step != models.StepPhoto {
		t.Fatalf("expected Registration{Photo}, got %+v", st)
	}

	f.send("a", "depois mando")
	if rec, _ := f.store.GetClient(ctx, "a"); rec != nil {
		t.Fatalf("text on photo step must not register, got %+v", rec)
	}

	out = f.sendMedia("a")
	if out.Register == nil {
		t.Fatal("expected registration")
	}
	rec, err := f.store.GetClient(ctx, "a")
	if err != nil || rec == nil {
		t.Fatalf("expected client record, got %v, %v", rec, err)
	}
	if rec.Name != "Maria Silva" || rec.RequestedService != "Alongamento" || !rec.HasPriorExperience || !rec.HasSubmittedPhoto {
		t.Errorf("unexpected client record %+v", rec)
	}
	if st := f.state(t, "a"); st != nil {
		t.Errorf("expected state cleared, got %+v", st)
	}

	sent := f.outbox.SentMessages()
	if len(sent) != 6 {
		t.Errorf("expected 6 replies, got %d", len(sent))
	}
	if !strings.Contains(sent[0].Text, "primeira vez") {
		t.Errorf("first reply should greet a first-time visitor: %q", sent[0].Text)
	}
	notices := f.notices.Notices()
	if len(notices) != 1 || notices[0].Kind != models.NoticeClientRegistered {
		t.Errorf("expected client.registered notice, got %+v", notices)
	}
}

func TestDirectory_KnownContactPricesThenDeclines(t *testing.T) {
	f := newFixture(t)
	f.outbox.Contacts["b"] = models.ContactProfile{Known: true, DisplayName: "Beatriz"}

	out := f.send("b", "valores")
	if !out.Activated || out.Next == nil || out.Next.Kind != models.StateMainMenu {
		t.Fatalf("expected main menu, got %+v", out)
	}
	if !strings.Contains(out.Messages[0], "Beatriz") {
		t.Errorf("menu should greet by name: %q", out.Messages[0])
	}

	out = f.send("b", "3")
	if len(out.Messages) != 2 {
		t.Fatalf("expected two messages, got %d", len(out.Messages))
	}
	if st := f.state(t, "b"); st == nil || st.Kind != models.StateAwaitingScheduleConfirmation {
		t.Fatalf("expected AwaitingScheduleConfirmation, got %+v", st)
	}

	f.send("b", "não")
	if st := f.state(t, "b"); st != nil {
		t.Errorf("expected state cleared, got %+v", st)
	}

	sent := f.outbox.SentMessages()
	if len(sent) != 4 {
		t.Fatalf("expected 4 sends, got %d", len(sent))
	}
	if !strings.Contains(sent[1].Text, "Tabela de Valores") || !strings.Contains(sent[2].Text, "agendar") {
		t.Errorf("price list and prompt out of order: %q / %q", sent[1].Text, sent[2].Text)
	}
}

func TestDirectory_RegisteredClientIsKnown(t *testing.T) {
	f := newFixture(t)
	f.store.InMemoryStore.SaveClient(context.Background(), models.ClientRecord{ContactID: "c", Name: "Carla"})

	out := f.send("c", "oi")
	if out.Next == nil || out.Next.Kind != models.StateMainMenu {
		t.Fatalf("registered client should get the menu, got %+v", out.Next)
	}
	if !strings.Contains(out.Messages[0], "Carla") {
		t.Errorf("expected registry name in greeting: %q", out.Messages[0])
	}
}

func TestDirectory_RepairAbandonedWithVoltar(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.InMemoryStore.SaveConversation(ctx, "d", models.Awaiting(models.StateAwaitingRepairPhoto))

	out := f.send("d", "voltar")
	if out.Decision != nil {
		t.Error("mid-flow contact must not go through the gate")
	}
	st := f.state(t, "d")
	if st == nil || st.Kind != models.StateRegistration {
		t.Fatalf("expected initial dispatch for unknown contact, got %+v", st)
	}
	if len(f.notices.Notices()) != 0 {
		t.Errorf("unexpected notices %+v", f.notices.Notices())
	}
}

func TestDirectory_IdleWithoutKeyword(t *testing.T) {
	f := newFixture(t)
	out := f.send("e", "quanto custa?")
	if out.Activated || out.Decision == nil || out.Decision.Reason != activation.ReasonNoKeyword {
		t.Errorf("expected no-keyword suppression, got %+v", out)
	}
	if len(f.outbox.SentMessages()) != 0 {
		t.Error("suppressed messages must not be answered")
	}
	if st := f.state(t, "e"); st != nil {
		t.Errorf("expected no state, got %+v", st)
	}
}

func TestDirectory_CooldownAfterFlowEnds(t *testing.T) {
	f := newFixture(t)
	f.outbox.Contacts["g"] = models.ContactProfile{Known: true}

	f.send("g", "oi")
	f.send("g", "2") // scheduling link, state cleared
	f.now = f.now.Add(2 * time.Hour)

	out := f.send("g", "oi de novo")
	if out.Activated || out.Decision == nil || out.Decision.Reason != activation.ReasonCooldownActive {
		t.Fatalf("expected cooldown suppression, got %+v", out)
	}

	f.now = f.now.Add(22 * time.Hour)
	if out := f.send("g", "oi"); !out.Activated {
		t.Errorf("expected activation after cooldown, got %+v", out)
	}
}

func TestDirectory_Filters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tests := []struct {
		evt  models.InboundEvent
		want DropReason
	}{
		{models.InboundEvent{Text: "oi"}, DropEmptyContact},
		{models.InboundEvent{ContactID: "a", Text: "oi", IsFromSelf: true}, DropFromSelf},
		{models.InboundEvent{ContactID: "a", Text: "oi", IsGroupChannel: true}, DropGroupChannel},
	}
	for _, tt := range tests {
		if out := f.dir.Handle(ctx, tt.evt); out.Dropped != tt.want {
			t.Errorf("%+v: dropped = %q, want %q", tt.evt, out.Dropped, tt.want)
		}
	}
	if len(f.outbox.SentMessages()) != 0 {
		t.Error("filtered events must not be answered")
	}
	if rec, _ := f.store.GetActivation(ctx, "a"); rec != nil {
		t.Error("filtered events must not reach the gate")
	}
}

func TestDirectory_DuplicateDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	evt := models.InboundEvent{MessageID: "X1", ContactID: "a", Text: "oi"}

	if out := f.dir.Handle(ctx, evt); !out.Activated {
		t.Fatalf("expected activation, got %+v", out)
	}
	if out := f.dir.Handle(ctx, evt); out.Dropped != DropDuplicate {
		t.Errorf("expected duplicate drop, got %+v", out)
	}
	if n := len(f.outbox.SentMessages()); n != 1 {
		t.Errorf("expected one reply, got %d", n)
	}

	f.store.dedupErr = errors.New("redis down")
	evt.MessageID = "X2"
	evt.Text = "Maria"
	if out := f.dir.Handle(ctx, evt); out.Dropped != DropNone {
		t.Errorf("dedup failure must not drop the message, got %+v", out)
	}
}

func TestDirectory_MalformedStateResets(t *testing.T) {
	f := newFixture(t)
	f.store.InMemoryStore.SaveConversation(context.Background(), "h", models.Awaiting(models.StateAwaitingRepairPhoto))
	f.store.loadErr = fmt.Errorf("decode: %w", models.ErrMalformedState)

	out := f.send("h", "qualquer coisa")
	if !out.Reset {
		t.Fatalf("expected reset, got %+v", out)
	}
	if len(out.Messages) != 1 {
		t.Errorf("expected a fresh greeting, got %q", out.Messages)
	}
	if st := f.state(t, "h"); st == nil || st.Kind != models.StateRegistration {
		t.Errorf("expected malformed state replaced, got %+v", st)
	}
}

func TestDirectory_LoadFailureDrops(t *testing.T) {
	f := newFixture(t)
	f.store.loadErr = errors.New("connection refused")

	out := f.send("i", "oi")
	if out.Dropped != DropStateUnavailable {
		t.Errorf("expected drop, got %+v", out)
	}
	if rec, _ := f.store.GetActivation(context.Background(), "i"); rec != nil {
		t.Error("load failure must not activate")
	}
}

func TestDirectory_SaveRetried(t *testing.T) {
	f := newFixture(t)
	f.store.saveFailures = 2

	f.send("j", "oi")
	if f.store.saveAttempts != 3 {
		t.Errorf("expected 3 save attempts, got %d", f.store.saveAttempts)
	}
	if st := f.state(t, "j"); st == nil {
		t.Error("expected state saved after retries")
	}
}

func TestDirectory_SaveFailureStillReplies(t *testing.T) {
	f := newFixture(t)
	f.store.saveFailures = 10

	out := f.send("k", "oi")
	if !out.Activated || len(f.outbox.SentMessages()) != 1 {
		t.Errorf("write failure must not suppress the reply, got %+v", out)
	}
	if f.store.saveAttempts != 3 {
		t.Errorf("expected retries to stop at 3, got %d", f.store.saveAttempts)
	}
}

func TestDirectory_ClientSaveFailureStillClearsState(t *testing.T) {
	f := newFixture(t)
	yes := true
	f.store.InMemoryStore.SaveConversation(context.Background(), "l", models.ConversationState{
		Kind: models.StateRegistration, Step: models.StepPhoto, Name: "Lia", Service: "Blindagem", PriorExperience: &yes,
	})
	f.store.clientSaveErr = errors.New("disk full")

	out := f.sendMedia("l")
	if out.Register == nil {
		t.Fatal("expected registration outcome")
	}
	if st := f.state(t, "l"); st != nil {
		t.Errorf("expected state cleared, got %+v", st)
	}
}

func TestDirectory_SendFailureKeepsState(t *testing.T) {
	f := newFixture(t)
	f.outbox.SendErr = errors.New("offline")

	out := f.send("m", "oi")
	if !out.Activated {
		t.Fatalf("expected activation, got %+v", out)
	}
	if st := f.state(t, "m"); st == nil {
		t.Error("send failure must not roll back the state")
	}
}

func TestDirectory_TypingBeforeEachReply(t *testing.T) {
	f := newFixture(t, WithTypingDelay(time.Millisecond))
	f.outbox.Contacts["n"] = models.ContactProfile{Known: true}

	f.send("n", "oi")
	f.send("n", "3")
	if len(f.outbox.Typing) != 3 {
		t.Errorf("expected a typing indicator per reply, got %d", len(f.outbox.Typing))
	}
}

func TestDirectory_HandoffNotice(t *testing.T) {
	f := newFixture(t)
	f.outbox.Contacts["o"] = models.ContactProfile{Known: true}
	f.send("o", "oi")
	f.send("o", "1")

	notices := f.notices.Notices()
	if len(notices) != 1 || notices[0].Kind != models.NoticeHandoffRequested || notices[0].ContactID != "o" {
		t.Errorf("expected handoff notice, got %+v", notices)
	}

	f.notices.Err = errors.New("nats down")
	f.now = f.now.Add(25 * time.Hour)
	f.send("o", "oi")
	if out := f.send("o", "1"); out.Next != nil {
		t.Errorf("notice failure must not affect the transition, got %+v", out.Next)
	}
}
