package messaging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kapta-io/fieldbot/internal/models"
)

// MessageHandler processes a single inbound message and returns the reply
// that should go back to the sender.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg models.IncomingMessage) (models.Reply, error)
}

// errorReplyText is sent when the engine fails hard and no composed reply
// exists for the sender.
const errorReplyText = "⚠️ Tuvimos un problema procesando tu mensaje. Por favor intenta de nuevo en unos minutos."

// Responder drains inbound messages from a Service and routes each one
// through the conversation engine, sending the composed reply back over the
// same transport.
type Responder struct {
	msgService Service
	handler    MessageHandler
}

// NewResponder creates a new Responder with the given messaging service and
// message handler.
func NewResponder(msgService Service, handler MessageHandler) *Responder {
	return &Responder{
		msgService: msgService,
		handler:    handler,
	}
}

// Start begins processing inbound messages. It should be called once; the
// processing loop runs until the service channel closes or the context is
// cancelled.
func (r *Responder) Start(ctx context.Context) {
	slog.Info("Responder starting message processing")

	go func() {
		defer slog.Info("Responder stopped message processing")

		for {
			select {
			case msg, ok := <-r.msgService.Messages():
				if !ok {
					slog.Debug("Responder messages channel closed")
					return
				}
				if err := r.processMessage(ctx, msg); err != nil {
					slog.Error("Responder failed to process message", "error", err, "from", msg.UserID)
				}

			case <-ctx.Done():
				slog.Debug("Responder stopping due to context cancellation")
				return
			}
		}
	}()
}

// processMessage runs one inbound message through the engine and delivers
// the reply. Engine errors produce an apology back to the sender so the
// participant is never left without feedback.
func (r *Responder) processMessage(ctx context.Context, msg models.IncomingMessage) error {
	canonicalFrom, err := r.msgService.ValidateAndCanonicalizeRecipient(msg.UserID)
	if err != nil {
		slog.Error("Responder sender validation failed", "error", err, "from", msg.UserID)
		return fmt.Errorf("invalid sender: %w", err)
	}
	msg.UserID = canonicalFrom

	slog.Debug("Responder processing message", "from", canonicalFrom, "kind", msg.Kind)

	reply, err := r.handler.HandleMessage(ctx, msg)
	if err != nil {
		slog.Error("Responder engine error", "error", err, "from", canonicalFrom)
		if sendErr := r.msgService.SendText(ctx, canonicalFrom, errorReplyText); sendErr != nil {
			slog.Error("Responder failed to send error reply", "error", sendErr, "from", canonicalFrom)
		}
		return fmt.Errorf("engine failed: %w", err)
	}

	return r.sendReply(ctx, reply)
}

// sendReply delivers the composed reply, attaching the example image when
// the current step carries one.
func (r *Responder) sendReply(ctx context.Context, reply models.Reply) error {
	if reply.MediaURL != "" {
		if err := r.msgService.SendImage(ctx, reply.To, reply.MediaURL, reply.Text); err != nil {
			slog.Error("Responder failed to send image reply, falling back to text", "error", err, "to", reply.To)
			if textErr := r.msgService.SendText(ctx, reply.To, reply.Text); textErr != nil {
				return fmt.Errorf("failed to send reply: %w", textErr)
			}
			return nil
		}
		slog.Info("Responder sent image reply", "to", reply.To)
		return nil
	}

	if err := r.msgService.SendText(ctx, reply.To, reply.Text); err != nil {
		return fmt.Errorf("failed to send reply: %w", err)
	}
	slog.Info("Responder sent reply", "to", reply.To)
	return nil
}
