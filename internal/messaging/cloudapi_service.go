package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/kapta-io/fieldbot/internal/models"
)

// DefaultGraphAPIVersion is the Meta Graph API version used when none is
// configured.
const DefaultGraphAPIVersion = "v17.0"

// defaultGraphBaseURL is the Meta Graph API endpoint.
const defaultGraphBaseURL = "https://graph.facebook.com"

// CloudAPIOpts holds configuration options for the Cloud API transport.
type CloudAPIOpts struct {
	AccessToken   string
	PhoneNumberID string
	APIVersion    string
	BaseURL       string
	HTTPClient    *http.Client
}

// CloudAPIOption defines a configuration option for the Cloud API transport.
type CloudAPIOption func(*CloudAPIOpts)

// WithAccessToken sets the Graph API bearer token.
func WithAccessToken(token string) CloudAPIOption {
	return func(o *CloudAPIOpts) { o.AccessToken = token }
}

// WithPhoneNumberID sets the sending phone number ID.
func WithPhoneNumberID(id string) CloudAPIOption {
	return func(o *CloudAPIOpts) { o.PhoneNumberID = id }
}

// WithAPIVersion sets the Graph API version.
func WithAPIVersion(v string) CloudAPIOption {
	return func(o *CloudAPIOpts) { o.APIVersion = v }
}

// WithBaseURL overrides the Graph API endpoint (tests).
func WithBaseURL(u string) CloudAPIOption {
	return func(o *CloudAPIOpts) { o.BaseURL = u }
}

// WithHTTPClient overrides the HTTP client (tests).
func WithHTTPClient(c *http.Client) CloudAPIOption {
	return func(o *CloudAPIOpts) { o.HTTPClient = c }
}

// CloudAPIService implements Service over the Meta WhatsApp Cloud API.
// Outbound messages go through the Graph API; inbound messages arrive via
// the webhook endpoint, which calls EmitMessage.
type CloudAPIService struct {
	httpClient    *http.Client
	accessToken   string
	phoneNumberID string
	apiVersion    string
	baseURL       string

	messages chan models.IncomingMessage
	done     chan struct{}
	mu       sync.RWMutex
	stopped  bool
}

// NewCloudAPIService creates a Cloud API transport, falling back to the
// WHATSAPP_ACCESS_TOKEN / WHATSAPP_PHONE_NUMBER_ID / GRAPH_API_VERSION
// environment variables for unset options.
func NewCloudAPIService(opts ...CloudAPIOption) (*CloudAPIService, error) {
	var cfg CloudAPIOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccessToken == "" {
		cfg.AccessToken = os.Getenv("WHATSAPP_ACCESS_TOKEN")
	}
	if cfg.PhoneNumberID == "" {
		cfg.PhoneNumberID = os.Getenv("WHATSAPP_PHONE_NUMBER_ID")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = os.Getenv("GRAPH_API_VERSION")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultGraphAPIVersion
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGraphBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	slog.Debug("CloudAPIService config loaded",
		"accessToken_set", cfg.AccessToken != "",
		"phoneNumberID_set", cfg.PhoneNumberID != "",
		"apiVersion", cfg.APIVersion)

	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("access token must be provided")
	}
	if cfg.PhoneNumberID == "" {
		return nil, fmt.Errorf("phone number ID must be provided")
	}

	return &CloudAPIService{
		httpClient:    cfg.HTTPClient,
		accessToken:   cfg.AccessToken,
		phoneNumberID: cfg.PhoneNumberID,
		apiVersion:    cfg.APIVersion,
		baseURL:       cfg.BaseURL,
		messages:      make(chan models.IncomingMessage, DefaultChannelBufferSize),
		done:          make(chan struct{}),
	}, nil
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp
// phone number by removing all non-numeric characters.
func (s *CloudAPIService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

// Start is a no-op: inbound messages arrive through the webhook handler.
func (s *CloudAPIService) Start(ctx context.Context) error {
	return nil
}

// Stop closes channels and stops the service.
func (s *CloudAPIService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(s.messages)
	}()
	return nil
}

// SendText sends a text message via the Graph API.
func (s *CloudAPIService) SendText(ctx context.Context, to string, body string) error {
	if body == "" {
		return models.ErrEmptyBody
	}
	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "text",
		"text":              map[string]interface{}{"preview_url": false, "body": body},
	}
	return s.post(ctx, to, payload)
}

// SendImage sends an image by URL via the Graph API.
func (s *CloudAPIService) SendImage(ctx context.Context, to string, imageURL string, caption string) error {
	if imageURL == "" {
		return fmt.Errorf("image URL cannot be empty")
	}
	image := map[string]interface{}{"link": imageURL}
	if caption != "" {
		image["caption"] = caption
	}
	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "image",
		"image":             image,
	}
	return s.post(ctx, to, payload)
}

// post sends a message payload to the Graph API messages endpoint.
func (s *CloudAPIService) post(ctx context.Context, to string, payload map[string]interface{}) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("CloudAPIService recipient validation failed", "error", err, "to", to)
		return err
	}
	payload["to"] = canonicalTo

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/%s/messages", s.baseURL, s.apiVersion, s.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build Graph API request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.accessToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		slog.Error("CloudAPIService send failed", "error", err, "to", canonicalTo)
		return fmt.Errorf("failed to send message to %s: %w", canonicalTo, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		slog.Error("CloudAPIService send rejected", "status", resp.StatusCode, "to", canonicalTo, "body", string(respBody))
		return fmt.Errorf("graph API returned status %d for %s", resp.StatusCode, canonicalTo)
	}
	slog.Debug("CloudAPIService message sent", "to", canonicalTo, "type", payload["type"])
	return nil
}

// Messages returns the channel of inbound messages.
func (s *CloudAPIService) Messages() <-chan models.IncomingMessage {
	return s.messages
}

// EmitMessage pushes a webhook-parsed inbound message into the messages
// channel (non-blocking).
func (s *CloudAPIService) EmitMessage(msg models.IncomingMessage) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		slog.Warn("CloudAPIService dropping inbound message (service stopped)", "from", msg.UserID)
		return
	}

	select {
	case s.messages <- msg:
		slog.Debug("CloudAPIService emitted inbound message", "from", msg.UserID, "kind", msg.Kind)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("CloudAPIService messages channel blocked, dropping message", "from", msg.UserID)
	}
}
