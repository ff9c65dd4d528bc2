package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kapta-io/fieldbot/internal/models"
	"github.com/kapta-io/fieldbot/internal/script"
	"github.com/kapta-io/fieldbot/internal/store"
	"github.com/kapta-io/fieldbot/internal/util"
)

// ApologyMessage is the uniform user-visible text for structural anomalies.
// No internal detail, no change to persisted progress.
const ApologyMessage = "⚠️ Estamos presentando dificultades técnicas. Por favor intenta de nuevo en unos minutos."

// MediaArchiver persists accepted media units outside the core (fetch bytes,
// store blob, optionally transcribe audio). Best-effort: failures are logged
// by the engine and never block the conversation.
type MediaArchiver interface {
	ArchiveImage(ctx context.Context, sessionID, section string, seq int, ref models.MediaRef) error
	ArchiveAudio(ctx context.Context, sessionID string, ref models.MediaRef) (transcript string, err error)
}

// Engine runs the per-message atomic unit: read state, validate, advance,
// dispatch side effects, persist, compose the reply. One inbound message is
// processed to completion or fails outright; there is no cancellation of a
// half-applied transition.
type Engine struct {
	store      store.StateStore
	dispatcher *Dispatcher
	archiver   MediaArchiver
	locks      *userLocks

	archiveTimeout time.Duration
	now            func() time.Time
	newSessionID   func() string
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithArchiver attaches a media archiver invoked after accepted media units.
func WithArchiver(a MediaArchiver) EngineOption {
	return func(e *Engine) { e.archiver = a }
}

// WithClock overrides the engine's time source (tests).
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithSessionIDFunc overrides session ID generation (tests).
func WithSessionIDFunc(fn func() string) EngineOption {
	return func(e *Engine) { e.newSessionID = fn }
}

// NewEngine creates a flow engine over the given state store and dispatcher.
func NewEngine(st store.StateStore, dispatcher *Dispatcher, opts ...EngineOption) *Engine {
	e := &Engine{
		store:          st,
		dispatcher:     dispatcher,
		locks:          newUserLocks(),
		archiveTimeout: DefaultDispatchTimeout,
		now:            time.Now,
		newSessionID:   util.GenerateSessionID,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// HandleMessage processes one inbound message and returns the reply to send.
// A non-nil error means the request failed hard (store unavailable, invalid
// envelope) and no reply should be sent claiming progress.
func (e *Engine) HandleMessage(ctx context.Context, msg models.IncomingMessage) (models.Reply, error) {
	if err := msg.Validate(); err != nil {
		return models.Reply{}, fmt.Errorf("invalid inbound message: %w", err)
	}

	lock := e.locks.get(msg.UserID)
	lock.Lock()
	defer lock.Unlock()

	stored, err := e.store.Get(msg.UserID)
	if err != nil {
		return models.Reply{}, fmt.Errorf("state load for %s failed: %w", msg.UserID, err)
	}

	// The Cloud API retries webhook deliveries until acknowledged; a
	// redelivered message must not mutate state again. Re-send the current
	// prompt instead. A dedup failure is logged, not fatal.
	dedup, _ := e.store.(store.DedupRepo)
	if dedup != nil && msg.MessageID != "" {
		fresh, err := dedup.RecordInbound(msg.MessageID, msg.UserID)
		if err != nil {
			slog.Error("Engine dedup check failed", "error", err, "messageID", msg.MessageID)
		} else if !fresh && stored != nil {
			slog.Info("Engine dropped duplicate delivery", "messageID", msg.MessageID, "userID", msg.UserID)
			return Compose(stored.Clone())
		}
	}

	now := e.now()
	var state *models.ConversationState
	var effects []models.Notification

	if stored == nil {
		state = models.NewConversationState(msg.UserID, msg.DisplayName, e.newSessionID(), now)
		state.OnboardingNotified = true
		effects = append(effects, models.Notification{
			Kind:      models.NotificationOnboardingStarted,
			UserID:    state.UserID,
			SessionID: state.SessionID,
			Time:      now,
			Fields:    map[string]string{"display_name": state.DisplayName},
		})
		slog.Info("Engine created conversation state", "userID", state.UserID, "sessionID", state.SessionID)
	} else {
		state = stored.Clone()
		if state.DisplayName == "" && msg.DisplayName != "" {
			state.DisplayName = msg.DisplayName
		}
	}

	decision, err := Validate(state, msg)
	if err != nil {
		// Structural anomaly: leave the stored record untouched for
		// inspection and answer with the generic apology.
		slog.Error("Engine structural anomaly", "error", err, "userID", state.UserID,
			"flow", state.Flow, "stepIndex", state.StepIndex)
		return models.Reply{To: msg.UserID, Text: ApologyMessage}, nil
	}
	if decision.Outcome == OutcomeReject {
		slog.Debug("Engine rejected input", "userID", state.UserID, "reason", decision.Reason,
			"kind", msg.Kind, "flow", state.Flow, "stepIndex", state.StepIndex)
	}

	// Remember the section before Advance resets the counters.
	seq := state.MediaCounts[decision.Section] + 1
	effects = append(effects, Advance(state, decision, now)...)

	e.archiveMedia(ctx, state, decision, msg, seq)
	e.dispatcher.Dispatch(ctx, effects)

	if err := e.store.Put(state); err != nil {
		return models.Reply{}, fmt.Errorf("state save for %s failed: %w", msg.UserID, err)
	}
	if dedup != nil && msg.MessageID != "" {
		if err := dedup.MarkProcessed(msg.MessageID); err != nil {
			slog.Error("Engine dedup mark failed", "error", err, "messageID", msg.MessageID)
		}
	}

	reply, err := Compose(state)
	if err != nil {
		slog.Error("Engine compose anomaly", "error", err, "userID", state.UserID,
			"flow", state.Flow, "stepIndex", state.StepIndex)
		return models.Reply{To: msg.UserID, Text: ApologyMessage}, nil
	}
	return reply, nil
}

// archiveMedia persists an accepted media unit best-effort, bounded by the
// archive timeout. Audio transcripts, when available, are folded into the
// state before it is persisted.
func (e *Engine) archiveMedia(ctx context.Context, state *models.ConversationState, d Decision, msg models.IncomingMessage, seq int) {
	if e.archiver == nil || d.Section == "" || msg.Media == nil {
		return
	}
	if d.Outcome != OutcomeAccept && d.Outcome != OutcomeAcceptPartial {
		return
	}

	archiveCtx, cancel := context.WithTimeout(ctx, e.archiveTimeout)
	defer cancel()

	if d.Section == script.SectionAudio {
		transcript, err := e.archiver.ArchiveAudio(archiveCtx, state.SessionID, *msg.Media)
		if err != nil {
			slog.Error("Engine audio archive failed", "error", err, "userID", state.UserID, "sessionID", state.SessionID)
			return
		}
		if transcript != "" {
			if err := state.SetData(models.DataKeyAudioTranscript, transcript); err != nil {
				slog.Error("Engine transcript store failed", "error", err, "userID", state.UserID)
			}
		}
		return
	}

	if err := e.archiver.ArchiveImage(archiveCtx, state.SessionID, d.Section, seq, *msg.Media); err != nil {
		slog.Error("Engine image archive failed", "error", err, "userID", state.UserID,
			"sessionID", state.SessionID, "section", d.Section, "seq", seq)
	}
}
