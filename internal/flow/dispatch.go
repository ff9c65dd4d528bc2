package flow

import (
	"context"
	"log/slog"
	"time"

	"github.com/kapta-io/fieldbot/internal/models"
)

// DefaultDispatchTimeout bounds each notification delivery so a slow sink
// cannot stall the per-user critical section.
const DefaultDispatchTimeout = 3 * time.Second

// NotificationSink delivers one-shot notifications to an external channel
// (ops WhatsApp number, log, webhook). Implementations live outside the core.
type NotificationSink interface {
	Send(ctx context.Context, n models.Notification) error
}

// Dispatcher delivers side-effect notifications best-effort. The gating flags
// on the conversation state are set before Dispatch is called, so failures
// here are logged and lost, never retried and never propagated.
type Dispatcher struct {
	sink    NotificationSink
	timeout time.Duration
}

// NewDispatcher creates a Dispatcher around the given sink. A nil sink
// disables delivery (useful in tests).
func NewDispatcher(sink NotificationSink) *Dispatcher {
	return &Dispatcher{sink: sink, timeout: DefaultDispatchTimeout}
}

// SetTimeout overrides the per-delivery timeout.
func (d *Dispatcher) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		d.timeout = timeout
	}
}

// Dispatch delivers each notification within the configured timeout.
func (d *Dispatcher) Dispatch(ctx context.Context, notifications []models.Notification) {
	if d == nil || d.sink == nil {
		return
	}
	for _, n := range notifications {
		sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err := d.sink.Send(sendCtx, n)
		cancel()
		if err != nil {
			slog.Error("Dispatcher notification delivery failed", "error", err,
				"kind", n.Kind, "userID", n.UserID, "sessionID", n.SessionID)
			continue
		}
		slog.Debug("Dispatcher notification delivered", "kind", n.Kind,
			"userID", n.UserID, "sessionID", n.SessionID)
	}
}
