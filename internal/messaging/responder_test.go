package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/kapta-io/fieldbot/internal/models"
)

type sentMessage struct {
	to       string
	text     string
	imageURL string
}

// mockService implements Service with scripted failures and captured sends.
type mockService struct {
	messages chan models.IncomingMessage
	sent     []sentMessage
	imageErr error
	textErr  error
}

func newMockService() *mockService {
	return &mockService{messages: make(chan models.IncomingMessage, 10)}
}

func (m *mockService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

func (m *mockService) SendText(ctx context.Context, to string, body string) error {
	if m.textErr != nil {
		return m.textErr
	}
	m.sent = append(m.sent, sentMessage{to: to, text: body})
	return nil
}

func (m *mockService) SendImage(ctx context.Context, to string, imageURL string, caption string) error {
	if m.imageErr != nil {
		return m.imageErr
	}
	m.sent = append(m.sent, sentMessage{to: to, text: caption, imageURL: imageURL})
	return nil
}

func (m *mockService) Start(ctx context.Context) error { return nil }
func (m *mockService) Stop() error                     { return nil }

func (m *mockService) Messages() <-chan models.IncomingMessage { return m.messages }

// mockHandler returns a canned reply or error and records what it saw.
type mockHandler struct {
	reply    models.Reply
	err      error
	received []models.IncomingMessage
}

func (m *mockHandler) HandleMessage(ctx context.Context, msg models.IncomingMessage) (models.Reply, error) {
	m.received = append(m.received, msg)
	if m.err != nil {
		return models.Reply{}, m.err
	}
	return m.reply, nil
}

func TestResponderSendsReply(t *testing.T) {
	svc := newMockService()
	handler := &mockHandler{reply: models.Reply{To: "573001112233", Text: "¿Me compartes la dirección?"}}
	r := NewResponder(svc, handler)

	msg := models.IncomingMessage{UserID: "+57 300 111 2233", Kind: models.MessageKindText, Text: "hola"}
	if err := r.processMessage(context.Background(), msg); err != nil {
		t.Fatalf("processMessage failed: %v", err)
	}

	if len(handler.received) != 1 || handler.received[0].UserID != "573001112233" {
		t.Errorf("sender not canonicalized before the engine: %+v", handler.received)
	}
	if len(svc.sent) != 1 || svc.sent[0].text != "¿Me compartes la dirección?" {
		t.Errorf("reply not delivered: %+v", svc.sent)
	}
}

func TestResponderSendsImageReply(t *testing.T) {
	svc := newMockService()
	handler := &mockHandler{reply: models.Reply{
		To:       "573001112233",
		Text:     "Toma una foto de la fachada",
		MediaURL: "https://assets.kapta.io/examples/fachada.jpg",
	}}
	r := NewResponder(svc, handler)

	msg := models.IncomingMessage{UserID: "573001112233", Kind: models.MessageKindText, Text: "listo"}
	if err := r.processMessage(context.Background(), msg); err != nil {
		t.Fatalf("processMessage failed: %v", err)
	}

	if len(svc.sent) != 1 || svc.sent[0].imageURL == "" {
		t.Errorf("expected image reply, got %+v", svc.sent)
	}
}

func TestResponderImageFailureFallsBackToText(t *testing.T) {
	svc := newMockService()
	svc.imageErr = errors.New("media unavailable")
	handler := &mockHandler{reply: models.Reply{
		To:       "573001112233",
		Text:     "Toma una foto de la fachada",
		MediaURL: "https://assets.kapta.io/examples/fachada.jpg",
	}}
	r := NewResponder(svc, handler)

	msg := models.IncomingMessage{UserID: "573001112233", Kind: models.MessageKindText, Text: "listo"}
	if err := r.processMessage(context.Background(), msg); err != nil {
		t.Fatalf("processMessage failed: %v", err)
	}

	if len(svc.sent) != 1 || svc.sent[0].imageURL != "" || svc.sent[0].text != "Toma una foto de la fachada" {
		t.Errorf("expected text fallback, got %+v", svc.sent)
	}
}

func TestResponderEngineErrorSendsApology(t *testing.T) {
	svc := newMockService()
	handler := &mockHandler{err: errors.New("store down")}
	r := NewResponder(svc, handler)

	msg := models.IncomingMessage{UserID: "573001112233", Kind: models.MessageKindText, Text: "hola"}
	if err := r.processMessage(context.Background(), msg); err == nil {
		t.Fatal("expected error to propagate")
	}

	if len(svc.sent) != 1 || svc.sent[0].text != errorReplyText {
		t.Errorf("expected error reply sent to user, got %+v", svc.sent)
	}
}

func TestResponderInvalidSenderSkipsEngine(t *testing.T) {
	svc := newMockService()
	handler := &mockHandler{}
	r := NewResponder(svc, handler)

	msg := models.IncomingMessage{UserID: "abc", Kind: models.MessageKindText, Text: "hola"}
	if err := r.processMessage(context.Background(), msg); err == nil {
		t.Fatal("expected error for invalid sender")
	}
	if len(handler.received) != 0 {
		t.Errorf("engine must not see messages with invalid senders: %+v", handler.received)
	}
}

func TestResponderStartDrainsChannel(t *testing.T) {
	svc := newMockService()
	replied := make(chan struct{})
	handler := &signalingHandler{done: replied}
	r := NewResponder(svc, handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	svc.messages <- models.IncomingMessage{UserID: "573001112233", Kind: models.MessageKindText, Text: "hola"}
	<-replied
}

// signalingHandler closes done after handling one message.
type signalingHandler struct {
	done chan struct{}
}

func (h *signalingHandler) HandleMessage(ctx context.Context, msg models.IncomingMessage) (models.Reply, error) {
	defer close(h.done)
	return models.Reply{To: msg.UserID, Text: "ok"}, nil
}
