package flow

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/kapta-io/fieldbot/internal/models"
	"github.com/kapta-io/fieldbot/internal/script"
	"github.com/kapta-io/fieldbot/internal/store"
)

// fakeSink records dispatched notifications.
type fakeSink struct {
	sent []models.Notification
	err  error
}

func (f *fakeSink) Send(ctx context.Context, n models.Notification) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, n)
	return nil
}

func (f *fakeSink) kinds() []models.NotificationKind {
	out := make([]models.NotificationKind, 0, len(f.sent))
	for _, n := range f.sent {
		out = append(out, n.Kind)
	}
	return out
}

// fakeArchiver records archived media and returns a canned transcript.
type fakeArchiver struct {
	images     []string // "section/seq"
	audio      int
	transcript string
	err        error
}

func (f *fakeArchiver) ArchiveImage(ctx context.Context, sessionID, section string, seq int, ref models.MediaRef) error {
	if f.err != nil {
		return f.err
	}
	f.images = append(f.images, section+"/"+strconv.Itoa(seq))
	return nil
}

func (f *fakeArchiver) ArchiveAudio(ctx context.Context, sessionID string, ref models.MediaRef) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.audio++
	return f.transcript, nil
}

// failingStore wraps a StateStore and fails configured operations.
type failingStore struct {
	store.StateStore
	failGet bool
	failPut bool
}

func (f *failingStore) Get(userID string) (*models.ConversationState, error) {
	if f.failGet {
		return nil, errors.New("backend unavailable")
	}
	return f.StateStore.Get(userID)
}

func (f *failingStore) Put(state *models.ConversationState) error {
	if f.failPut {
		return errors.New("backend unavailable")
	}
	return f.StateStore.Put(state)
}

func newTestEngine(t *testing.T, st store.StateStore, sink NotificationSink, opts ...EngineOption) *Engine {
	t.Helper()
	dispatcher := NewDispatcher(sink)
	dispatcher.SetTimeout(time.Second)
	opts = append(opts, WithSessionIDFunc(func() string { return "s_fixed" }))
	return NewEngine(st, dispatcher, opts...)
}

func TestEngineCreatesStateForNewUser(t *testing.T) {
	// Scenario: first contact. An image at onboarding step 0 advances to
	// step 1 and the onboarding notification fires.
	st := store.NewInMemoryStore()
	sink := &fakeSink{}
	engine := newTestEngine(t, st, sink)

	msg := imageMsg()
	msg.DisplayName = "Laura"
	reply, err := engine.HandleMessage(context.Background(), msg)
	if err != nil {
		t.Fatalf("HandleMessage returned error: %v", err)
	}

	state, err := st.Get(msg.UserID)
	if err != nil || state == nil {
		t.Fatalf("expected stored state, got %v, %v", state, err)
	}
	if state.Flow != models.FlowOnboarding || state.StepIndex != 1 {
		t.Errorf("expected onboarding step 1, got %s/%d", state.Flow, state.StepIndex)
	}
	if !state.OnboardingNotified {
		t.Error("onboarding_notified should be set on creation")
	}
	if len(sink.sent) != 1 || sink.sent[0].Kind != models.NotificationOnboardingStarted {
		t.Errorf("expected ONBOARDING_STARTED dispatched, got %v", sink.kinds())
	}
	if !strings.Contains(reply.Text, "preguntas") {
		t.Errorf("expected the questions prompt, got %q", reply.Text)
	}
}

func TestEngineBranchesOnOnboardingAnswer(t *testing.T) {
	st := store.NewInMemoryStore()
	sink := &fakeSink{}
	engine := newTestEngine(t, st, sink)
	ctx := context.Background()

	if _, err := engine.HandleMessage(ctx, imageMsg()); err != nil {
		t.Fatalf("cedula photo failed: %v", err)
	}
	reply, err := engine.HandleMessage(ctx, textMsg("Visito supermercados Éxito"))
	if err != nil {
		t.Fatalf("onboarding answer failed: %v", err)
	}

	state, _ := st.Get("573001112233")
	if state.Flow != models.FlowModern || state.Channel != models.ChannelModern {
		t.Errorf("expected modern branch, got %s/%s", state.Flow, state.Channel)
	}
	if state.StepIndex != 0 {
		t.Errorf("expected branch to reset step index, got %d", state.StepIndex)
	}

	kinds := sink.kinds()
	if len(kinds) != 2 || kinds[1] != models.NotificationNewStoreStarted {
		t.Errorf("expected NEW_STORE_STARTED after branch, got %v", kinds)
	}
	if !strings.Contains(reply.Text, "Kapta") {
		t.Errorf("expected modern greeting prompt, got %q", reply.Text)
	}
}

func TestEngineRejectRepromptsSameStep(t *testing.T) {
	st := store.NewInMemoryStore()
	engine := newTestEngine(t, st, &fakeSink{})
	ctx := context.Background()

	// Walk to the store-type choice.
	seedTraditional(t, st, 2)

	reply, err := engine.HandleMessage(ctx, textMsg("9"))
	if err != nil {
		t.Fatalf("HandleMessage returned error: %v", err)
	}

	state, _ := st.Get("573001112233")
	if state.StepIndex != 2 {
		t.Errorf("reject must not advance, got step %d", state.StepIndex)
	}
	if _, ok := state.Data[models.DataKeyStoreType]; ok {
		t.Error("rejected choice must not be stored")
	}
	entry, _ := script.Lookup(models.FlowTraditional, 2)
	if reply.Text != strings.ReplaceAll(entry.Prompt, "{name}", state.DisplayName) {
		t.Errorf("expected the same step re-prompted, got %q", reply.Text)
	}
}

func TestEngineMediaCountsAcrossSteps(t *testing.T) {
	// Facade needs one photo, bebidas alcoholicas needs three; the fourth
	// image belongs to the next section's counter.
	st := store.NewInMemoryStore()
	engine := newTestEngine(t, st, &fakeSink{})
	ctx := context.Background()

	seedTraditional(t, st, 3)

	if _, err := engine.HandleMessage(ctx, imageMsg()); err != nil {
		t.Fatalf("facade photo failed: %v", err)
	}
	state, _ := st.Get("573001112233")
	if state.StepIndex != 4 {
		t.Fatalf("facade photo should advance to step 4, got %d", state.StepIndex)
	}

	for i := 0; i < 2; i++ {
		if _, err := engine.HandleMessage(ctx, imageMsg()); err != nil {
			t.Fatalf("partial photo %d failed: %v", i+1, err)
		}
	}
	state, _ = st.Get("573001112233")
	if state.StepIndex != 4 || state.MediaCounts[script.SectionBebidasAlc] != 2 {
		t.Fatalf("expected 2 partial photos at step 4, got step %d counts %v", state.StepIndex, state.MediaCounts)
	}

	if _, err := engine.HandleMessage(ctx, imageMsg()); err != nil {
		t.Fatalf("third photo failed: %v", err)
	}
	state, _ = st.Get("573001112233")
	if state.StepIndex != 5 {
		t.Errorf("third photo should advance, got step %d", state.StepIndex)
	}
	if state.MediaCounts[script.SectionBebidasAlc] != 0 {
		t.Errorf("prior section counter must not leak: %v", state.MediaCounts)
	}
}

func TestEngineCompletionIdempotent(t *testing.T) {
	st := store.NewInMemoryStore()
	sink := &fakeSink{}
	engine := newTestEngine(t, st, sink)
	ctx := context.Background()

	seedTraditional(t, st, 10)

	if _, err := engine.HandleMessage(ctx, audioMsg()); err != nil {
		t.Fatalf("closing audio failed: %v", err)
	}
	state, _ := st.Get("573001112233")
	if !state.EndNotified {
		t.Fatal("end_notified should be set after the closing audio")
	}
	if len(sink.sent) != 1 || sink.sent[0].Kind != models.NotificationFlowCompleted {
		t.Fatalf("expected one FLOW_COMPLETED, got %v", sink.kinds())
	}

	// A second audio at the terminal step must not refire.
	msg := audioMsg()
	msg.MessageID = "second-audio"
	if _, err := engine.HandleMessage(ctx, msg); err != nil {
		t.Fatalf("post-completion audio failed: %v", err)
	}
	if len(sink.sent) != 1 {
		t.Errorf("completion refired: %v", sink.kinds())
	}
}

func TestEngineStructuralAnomalyApologizes(t *testing.T) {
	st := store.NewInMemoryStore()
	engine := newTestEngine(t, st, &fakeSink{})

	broken := models.NewConversationState("573001112233", "Laura", "s_1", time.Now())
	broken.Flow = models.FlowTraditional
	broken.Channel = models.ChannelTraditional
	broken.StepIndex = 99
	if err := st.Put(broken); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	reply, err := engine.HandleMessage(context.Background(), textMsg("hola"))
	if err != nil {
		t.Fatalf("anomaly must not surface as an error: %v", err)
	}
	if reply.Text != ApologyMessage {
		t.Errorf("expected apology, got %q", reply.Text)
	}

	state, _ := st.Get("573001112233")
	if state.StepIndex != 99 {
		t.Errorf("stored record must stay untouched, got step %d", state.StepIndex)
	}
}

func TestEngineStoreFailuresAbort(t *testing.T) {
	base := store.NewInMemoryStore()
	fs := &failingStore{StateStore: base, failGet: true}
	engine := newTestEngine(t, fs, &fakeSink{})

	if _, err := engine.HandleMessage(context.Background(), textMsg("hola")); err == nil {
		t.Error("expected error when state load fails")
	}

	fs.failGet = false
	fs.failPut = true
	if _, err := engine.HandleMessage(context.Background(), textMsg("hola")); err == nil {
		t.Error("expected error when state save fails")
	}
}

func TestEngineInvalidEnvelopeRejected(t *testing.T) {
	engine := newTestEngine(t, store.NewInMemoryStore(), &fakeSink{})

	if _, err := engine.HandleMessage(context.Background(), models.IncomingMessage{Kind: models.MessageKindText, Text: "hola"}); err == nil {
		t.Error("expected error for empty user ID")
	}
}

func TestEngineDropsDuplicateDelivery(t *testing.T) {
	st := store.NewInMemoryStore()
	engine := newTestEngine(t, st, &fakeSink{})
	ctx := context.Background()

	seedTraditional(t, st, 3)

	msg := imageMsg()
	msg.MessageID = "wamid.facade-1"
	if _, err := engine.HandleMessage(ctx, msg); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	state, _ := st.Get("573001112233")
	if state.StepIndex != 4 {
		t.Fatalf("expected advance to step 4, got %d", state.StepIndex)
	}

	// Redelivery of the same provider message ID re-prompts without
	// counting the photo again.
	reply, err := engine.HandleMessage(ctx, msg)
	if err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}
	state, _ = st.Get("573001112233")
	if state.StepIndex != 4 || state.MediaCounts[script.SectionBebidasAlc] != 0 {
		t.Errorf("redelivery mutated state: step %d counts %v", state.StepIndex, state.MediaCounts)
	}
	entry, _ := script.Lookup(models.FlowTraditional, 4)
	if !strings.Contains(reply.Text, strings.Split(entry.Prompt, "\n")[0]) {
		t.Errorf("expected current prompt re-sent, got %q", reply.Text)
	}
}

func TestEngineArchivesAcceptedMedia(t *testing.T) {
	st := store.NewInMemoryStore()
	archiver := &fakeArchiver{transcript: "faltan promociones en snacks"}
	engine := newTestEngine(t, st, &fakeSink{}, WithArchiver(archiver))
	ctx := context.Background()

	seedTraditional(t, st, 3)

	if _, err := engine.HandleMessage(ctx, imageMsg()); err != nil {
		t.Fatalf("facade photo failed: %v", err)
	}
	if len(archiver.images) != 1 || archiver.images[0] != script.SectionFachada+"/1" {
		t.Errorf("expected facade photo archived as seq 1, got %v", archiver.images)
	}

	seedTraditional(t, st, 10)
	if _, err := engine.HandleMessage(ctx, audioMsg()); err != nil {
		t.Fatalf("closing audio failed: %v", err)
	}
	if archiver.audio != 1 {
		t.Errorf("expected audio archived once, got %d", archiver.audio)
	}
	state, _ := st.Get("573001112233")
	if state.Data[models.DataKeyAudioTranscript] != "faltan promociones en snacks" {
		t.Errorf("expected transcript folded into state, got %q", state.Data[models.DataKeyAudioTranscript])
	}
}

func TestEngineArchiverFailureIsBestEffort(t *testing.T) {
	st := store.NewInMemoryStore()
	engine := newTestEngine(t, st, &fakeSink{}, WithArchiver(&fakeArchiver{err: errors.New("blob store down")}))

	seedTraditional(t, st, 3)

	if _, err := engine.HandleMessage(context.Background(), imageMsg()); err != nil {
		t.Fatalf("archive failure must not fail the request: %v", err)
	}
	state, _ := st.Get("573001112233")
	if state.StepIndex != 4 {
		t.Errorf("flow must advance despite archive failure, got step %d", state.StepIndex)
	}
}

func TestEngineSinkFailureIsBestEffort(t *testing.T) {
	st := store.NewInMemoryStore()
	engine := newTestEngine(t, st, &fakeSink{err: errors.New("twilio down")})

	if _, err := engine.HandleMessage(context.Background(), imageMsg()); err != nil {
		t.Fatalf("sink failure must not fail the request: %v", err)
	}
	state, _ := st.Get("573001112233")
	if state == nil || !state.OnboardingNotified {
		t.Error("state must persist with the notified flag despite sink failure")
	}
}

// seedTraditional stores a traditional-flow state positioned at the given
// step for the shared test user.
func seedTraditional(t *testing.T, st store.StateStore, step int) {
	t.Helper()
	state := models.NewConversationState("573001112233", "Laura", "s_seed", time.Now().Add(-30*time.Minute))
	state.Flow = models.FlowTraditional
	state.Channel = models.ChannelTraditional
	state.StepIndex = step
	state.OnboardingNotified = true
	state.NewStoreNotified = true
	if err := st.Put(state); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
}
