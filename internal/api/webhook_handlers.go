package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kapta-io/fieldbot/internal/models"
)

// webhookEnvelope mirrors the Meta Cloud API webhook payload, reduced to the
// fields the bot consumes.
type webhookEnvelope struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Value struct {
				Contacts []struct {
					WaID    string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []webhookMessage `json:"messages"`
				Statuses []json.RawMessage `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type webhookMessage struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Image    *webhookMedia `json:"image"`
	Audio    *webhookMedia `json:"audio"`
	Location *struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Name      string  `json:"name"`
		Address   string  `json:"address"`
	} `json:"location"`
}

type webhookMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
}

// webhookHandler serves both halves of the Cloud API webhook contract: the
// GET verification handshake and POST message delivery.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.verifyWebhook(w, r)
	case http.MethodPost:
		s.receiveWebhook(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// verifyWebhook answers the Meta subscription handshake.
func (s *Server) verifyWebhook(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && token != "" && token == s.verifyToken {
		slog.Info("Webhook verified")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(challenge)); err != nil {
			slog.Error("Webhook verification write failed", "error", err)
		}
		return
	}

	slog.Warn("Webhook verification failed", "mode", mode)
	writeJSONResponse(w, http.StatusForbidden, models.Error("Verification failed"))
}

// receiveWebhook parses an inbound delivery and forwards each message into
// the pipeline. Status-only deliveries are acknowledged without processing.
func (s *Server) receiveWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}

	var envelope webhookEnvelope
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		slog.Warn("Webhook failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	forwarded := 0
	for _, entry := range envelope.Entry {
		for _, change := range entry.Changes {
			value := change.Value
			if len(value.Messages) == 0 {
				if len(value.Statuses) > 0 {
					slog.Debug("Webhook status update ignored", "count", len(value.Statuses))
				}
				continue
			}
			if len(value.Contacts) == 0 {
				slog.Warn("Webhook delivery without contacts, skipping")
				continue
			}

			userID := value.Contacts[0].WaID
			displayName := value.Contacts[0].Profile.Name
			for _, wm := range value.Messages {
				msg, ok := convertWebhookMessage(userID, displayName, wm)
				if !ok {
					slog.Debug("Webhook unsupported message type", "type", wm.Type, "from", userID)
					continue
				}
				s.emitter.EmitMessage(msg)
				forwarded++
			}
		}
	}

	slog.Debug("Webhook processed", "forwarded", forwarded)
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}

// convertWebhookMessage maps one Cloud API message into the internal
// envelope. Unsupported types return ok=false.
func convertWebhookMessage(userID, displayName string, wm webhookMessage) (models.IncomingMessage, bool) {
	msg := models.IncomingMessage{
		MessageID:   wm.ID,
		UserID:      userID,
		DisplayName: displayName,
	}
	if ts, err := strconv.ParseInt(wm.Timestamp, 10, 64); err == nil {
		msg.Time = ts
	} else {
		msg.Time = time.Now().Unix()
	}

	switch wm.Type {
	case "text":
		if wm.Text == nil {
			return msg, false
		}
		msg.Kind = models.MessageKindText
		msg.Text = wm.Text.Body
	case "image":
		if wm.Image == nil {
			return msg, false
		}
		msg.Kind = models.MessageKindImage
		msg.Media = &models.MediaRef{ID: wm.Image.ID, MimeType: wm.Image.MimeType}
	case "audio":
		if wm.Audio == nil {
			return msg, false
		}
		msg.Kind = models.MessageKindAudio
		msg.Media = &models.MediaRef{ID: wm.Audio.ID, MimeType: wm.Audio.MimeType}
	case "location":
		if wm.Location == nil {
			return msg, false
		}
		lat := wm.Location.Latitude
		lng := wm.Location.Longitude
		msg.Kind = models.MessageKindLocation
		msg.Location = &models.Location{
			Latitude:  &lat,
			Longitude: &lng,
			Name:      wm.Location.Name,
			Address:   wm.Location.Address,
		}
	default:
		msg.Kind = models.MessageKindUnknown
		return msg, true
	}
	return msg, true
}

// sessionHandler serves GET /sessions/{user_id}, returning the stored
// conversation state for inspection.
func (s *Server) sessionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	userID := strings.TrimPrefix(r.URL.Path, "/sessions/")
	if userID == "" || strings.Contains(userID, "/") {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid user ID"))
		return
	}

	state, err := s.st.Get(userID)
	if err != nil {
		slog.Error("Session lookup failed", "error", err, "userID", userID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load session"))
		return
	}
	if state == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.Success(state))
}
