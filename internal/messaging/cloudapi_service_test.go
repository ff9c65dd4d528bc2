package messaging

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kapta-io/fieldbot/internal/models"
)

type capturedRequest struct {
	path    string
	auth    string
	payload map[string]interface{}
}

func newTestCloudAPIService(t *testing.T, status int, captured *[]capturedRequest) *CloudAPIService {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("request body is not JSON: %v", err)
		}
		*captured = append(*captured, capturedRequest{
			path:    r.URL.Path,
			auth:    r.Header.Get("Authorization"),
			payload: payload,
		})
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)

	svc, err := NewCloudAPIService(
		WithAccessToken("test-token"),
		WithPhoneNumberID("12345"),
		WithBaseURL(server.URL),
	)
	if err != nil {
		t.Fatalf("NewCloudAPIService failed: %v", err)
	}
	return svc
}

func TestCloudAPISendText(t *testing.T) {
	var captured []capturedRequest
	svc := newTestCloudAPIService(t, http.StatusOK, &captured)

	if err := svc.SendText(context.Background(), "+57 300 111 2233", "Hola"); err != nil {
		t.Fatalf("SendText failed: %v", err)
	}
	if len(captured) != 1 {
		t.Fatalf("expected 1 request, got %d", len(captured))
	}

	req := captured[0]
	if req.path != "/"+DefaultGraphAPIVersion+"/12345/messages" {
		t.Errorf("path = %q", req.path)
	}
	if req.auth != "Bearer test-token" {
		t.Errorf("auth header = %q", req.auth)
	}
	if req.payload["to"] != "573001112233" {
		t.Errorf("recipient not canonicalized: %v", req.payload["to"])
	}
	if req.payload["type"] != "text" {
		t.Errorf("type = %v", req.payload["type"])
	}
	text, _ := req.payload["text"].(map[string]interface{})
	if text["body"] != "Hola" {
		t.Errorf("body = %v", text["body"])
	}
}

func TestCloudAPISendImage(t *testing.T) {
	var captured []capturedRequest
	svc := newTestCloudAPIService(t, http.StatusOK, &captured)

	if err := svc.SendImage(context.Background(), "573001112233", "https://assets.kapta.io/examples/fachada.jpg", "Ejemplo"); err != nil {
		t.Fatalf("SendImage failed: %v", err)
	}

	image, _ := captured[0].payload["image"].(map[string]interface{})
	if image["link"] != "https://assets.kapta.io/examples/fachada.jpg" {
		t.Errorf("image link = %v", image["link"])
	}
	if image["caption"] != "Ejemplo" {
		t.Errorf("caption = %v", image["caption"])
	}
}

func TestCloudAPISendRejectsEmptyInputs(t *testing.T) {
	var captured []capturedRequest
	svc := newTestCloudAPIService(t, http.StatusOK, &captured)

	if err := svc.SendText(context.Background(), "573001112233", ""); err == nil {
		t.Error("expected error for empty body")
	}
	if err := svc.SendImage(context.Background(), "573001112233", "", ""); err == nil {
		t.Error("expected error for empty image URL")
	}
	if len(captured) != 0 {
		t.Errorf("no request should have been sent, got %d", len(captured))
	}
}

func TestCloudAPISendNonSuccessStatus(t *testing.T) {
	var captured []capturedRequest
	svc := newTestCloudAPIService(t, http.StatusUnauthorized, &captured)

	if err := svc.SendText(context.Background(), "573001112233", "Hola"); err == nil {
		t.Error("expected error for 401 response")
	}
}

func TestCloudAPISendAfterStop(t *testing.T) {
	var captured []capturedRequest
	svc := newTestCloudAPIService(t, http.StatusOK, &captured)

	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := svc.SendText(context.Background(), "573001112233", "Hola"); err != ErrServiceStopped {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}

func TestCloudAPIEmitMessage(t *testing.T) {
	var captured []capturedRequest
	svc := newTestCloudAPIService(t, http.StatusOK, &captured)

	msg := models.IncomingMessage{UserID: "573001112233", Kind: models.MessageKindText, Text: "hola"}
	svc.EmitMessage(msg)

	select {
	case got := <-svc.Messages():
		if got.UserID != msg.UserID || got.Text != msg.Text {
			t.Errorf("received %+v, want %+v", got, msg)
		}
	default:
		t.Fatal("expected a buffered message")
	}
}

func TestCanonicalizePhone(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+57 300 111 2233", "573001112233", false},
		{"573001112233", "573001112233", false},
		{"(57) 300-111-2233", "573001112233", false},
		{"", "", true},
		{"abc", "", true},
		{"123", "", true},
	}
	for _, tc := range cases {
		got, err := canonicalizePhone(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("canonicalizePhone(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("canonicalizePhone(%q) failed: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("canonicalizePhone(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
