package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kapta-io/fieldbot/internal/models"
	"github.com/kapta-io/fieldbot/internal/store"
)

// mockEmitter records emitted messages.
type mockEmitter struct {
	emitted []models.IncomingMessage
}

func (m *mockEmitter) EmitMessage(msg models.IncomingMessage) {
	m.emitted = append(m.emitted, msg)
}

func newTestServer(t *testing.T) (*Server, *mockEmitter, *store.InMemoryStore) {
	t.Helper()
	emitter := &mockEmitter{}
	st := store.NewInMemoryStore()
	s := NewServer(emitter, st, WithVerifyToken("secreto"))
	return s, emitter, st
}

func TestWebhookVerification(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=secreto&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()
	s.webhookHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "12345" {
		t.Errorf("challenge echo = %q, want 12345", rec.Body.String())
	}
}

func TestWebhookVerificationBadToken(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()
	s.webhookHandler(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

const textDeliveryPayload = `{
	"object": "whatsapp_business_account",
	"entry": [{"changes": [{"value": {
		"contacts": [{"wa_id": "573001112233", "profile": {"name": "Laura"}}],
		"messages": [{
			"id": "wamid.abc",
			"type": "text",
			"timestamp": "1741600000",
			"text": {"body": "hola"}
		}]
	}}]}]
}`

func TestWebhookDeliversTextMessage(t *testing.T) {
	s, emitter, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(textDeliveryPayload))
	rec := httptest.NewRecorder()
	s.webhookHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(emitter.emitted) != 1 {
		t.Fatalf("expected 1 emitted message, got %d", len(emitter.emitted))
	}

	msg := emitter.emitted[0]
	if msg.MessageID != "wamid.abc" || msg.UserID != "573001112233" || msg.DisplayName != "Laura" {
		t.Errorf("envelope fields wrong: %+v", msg)
	}
	if msg.Kind != models.MessageKindText || msg.Text != "hola" {
		t.Errorf("text fields wrong: %+v", msg)
	}
	if msg.Time != 1741600000 {
		t.Errorf("timestamp = %d, want 1741600000", msg.Time)
	}
}

func TestWebhookDeliversMediaAndLocation(t *testing.T) {
	s, emitter, _ := newTestServer(t)

	payload := `{
		"object": "whatsapp_business_account",
		"entry": [{"changes": [{"value": {
			"contacts": [{"wa_id": "573001112233", "profile": {"name": "Laura"}}],
			"messages": [
				{"id": "wamid.img", "type": "image", "timestamp": "1741600001",
				 "image": {"id": "media-1", "mime_type": "image/jpeg"}},
				{"id": "wamid.aud", "type": "audio", "timestamp": "1741600002",
				 "audio": {"id": "media-2", "mime_type": "audio/ogg"}},
				{"id": "wamid.loc", "type": "location", "timestamp": "1741600003",
				 "location": {"latitude": 4.61, "longitude": -74.08, "name": "Éxito la felicidad"}}
			]
		}}]}]
	}`
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	s.webhookHandler(rec, req)

	if len(emitter.emitted) != 3 {
		t.Fatalf("expected 3 emitted messages, got %d", len(emitter.emitted))
	}

	img := emitter.emitted[0]
	if img.Kind != models.MessageKindImage || img.Media == nil || img.Media.ID != "media-1" || img.Media.MimeType != "image/jpeg" {
		t.Errorf("image message wrong: %+v", img)
	}
	aud := emitter.emitted[1]
	if aud.Kind != models.MessageKindAudio || aud.Media == nil || aud.Media.ID != "media-2" {
		t.Errorf("audio message wrong: %+v", aud)
	}
	loc := emitter.emitted[2]
	if loc.Kind != models.MessageKindLocation || loc.Location == nil ||
		loc.Location.Latitude == nil || *loc.Location.Latitude != 4.61 ||
		loc.Location.Name != "Éxito la felicidad" {
		t.Errorf("location message wrong: %+v", loc)
	}
}

func TestWebhookUnsupportedTypeStillForwarded(t *testing.T) {
	// Stickers and other unsupported types reach the engine as unknown so
	// the current step re-prompts instead of the delivery being dropped.
	s, emitter, _ := newTestServer(t)

	payload := `{
		"object": "whatsapp_business_account",
		"entry": [{"changes": [{"value": {
			"contacts": [{"wa_id": "573001112233", "profile": {"name": "Laura"}}],
			"messages": [{"id": "wamid.stk", "type": "sticker", "timestamp": "1741600004"}]
		}}]}]
	}`
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	s.webhookHandler(rec, req)

	if len(emitter.emitted) != 1 {
		t.Fatalf("expected 1 emitted message, got %d", len(emitter.emitted))
	}
	if emitter.emitted[0].Kind != models.MessageKindUnknown {
		t.Errorf("kind = %s, want unknown", emitter.emitted[0].Kind)
	}
}

func TestWebhookStatusOnlyDelivery(t *testing.T) {
	s, emitter, _ := newTestServer(t)

	payload := `{
		"object": "whatsapp_business_account",
		"entry": [{"changes": [{"value": {
			"statuses": [{"id": "wamid.abc", "status": "delivered"}]
		}}]}]
	}`
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	s.webhookHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status-only delivery must be acknowledged, got %d", rec.Code)
	}
	if len(emitter.emitted) != 0 {
		t.Errorf("status updates must not be forwarded: %+v", emitter.emitted)
	}
}

func TestWebhookInvalidJSON(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{not-json"))
	rec := httptest.NewRecorder()
	s.webhookHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestWebhookMethodNotAllowed(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodDelete, "/webhook", nil)
	rec := httptest.NewRecorder()
	s.webhookHandler(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestSessionHandler(t *testing.T) {
	s, _, st := newTestServer(t)

	state := models.NewConversationState("573001112233", "Laura", "s_abc", time.Now())
	state.Flow = models.FlowTraditional
	state.StepIndex = 4
	if err := st.Put(state); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/sessions/573001112233", nil)
	rec := httptest.NewRecorder()
	s.sessionHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if resp.Status != string(models.APIStatusOK) {
		t.Errorf("response status = %s, want ok", resp.Status)
	}
}

func TestSessionHandlerNotFound(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/sessions/570000000000", nil)
	rec := httptest.NewRecorder()
	s.sessionHandler(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestSessionHandlerBadPath(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/sessions/", nil)
	rec := httptest.NewRecorder()
	s.sessionHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHealthHandler(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.healthHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
