// Package notify delivers operational notifications about conversation
// milestones to the field-operations team.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/kapta-io/fieldbot/internal/models"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Opts holds configuration options for the Twilio notification sink.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string
	OpsNumber  string
}

// Option defines a configuration option for the Twilio notification sink.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromWhats sets the sending WhatsApp number ("whatsapp:+1234567890").
func WithFromWhats(from string) Option {
	return func(o *Opts) { o.FromWhats = from }
}

// WithOpsNumber sets the operations number that receives notifications.
func WithOpsNumber(to string) Option {
	return func(o *Opts) { o.OpsNumber = to }
}

// TwilioSink sends milestone notifications to the ops WhatsApp number via
// the Twilio API.
type TwilioSink struct {
	client    *twilio.RestClient
	fromWhats string
	opsNumber string
}

// NewTwilioSink creates a Twilio-backed notification sink. Missing options
// fall back to environment variables.
func NewTwilioSink(opts ...Option) (*TwilioSink, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromWhats == "" {
		cfg.FromWhats = os.Getenv("TWILIO_FROM_NUMBER")
	}
	if cfg.OpsNumber == "" {
		cfg.OpsNumber = os.Getenv("OPS_WHATSAPP_NUMBER")
	}
	slog.Debug("Twilio sink config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromWhats_set", cfg.FromWhats != "",
		"OpsNumber_set", cfg.OpsNumber != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromWhats == "" || cfg.OpsNumber == "" {
		return nil, fmt.Errorf("from number and ops number must be provided")
	}

	client := twilio.NewRestClientWithParams(
		twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		},
	)

	return &TwilioSink{
		client:    client,
		fromWhats: cfg.FromWhats,
		opsNumber: cfg.OpsNumber,
	}, nil
}

// Send delivers one notification to the ops number.
func (s *TwilioSink) Send(ctx context.Context, n models.Notification) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo("whatsapp:" + s.opsNumber)
	params.SetFrom(s.fromWhats)
	params.SetBody(FormatNotification(n))

	_, err := s.client.Api.CreateMessage(params)
	if err != nil {
		slog.Error("Twilio notification failed", "kind", n.Kind, "userID", n.UserID, "error", err)
		return fmt.Errorf("failed to send %s notification: %w", n.Kind, err)
	}

	slog.Debug("Twilio notification sent", "kind", n.Kind, "userID", n.UserID)
	return nil
}

// FormatNotification renders a notification as the ops-facing message text.
func FormatNotification(n models.Notification) string {
	var b strings.Builder
	switch n.Kind {
	case models.NotificationOnboardingStarted:
		b.WriteString("🆕 Nuevo encuestador iniciando registro")
	case models.NotificationNewStoreStarted:
		b.WriteString("🏪 Nueva visita de tienda iniciada")
	case models.NotificationFlowCompleted:
		b.WriteString("✅ Visita de tienda completada")
	default:
		b.WriteString(string(n.Kind))
	}
	fmt.Fprintf(&b, "\nUsuario: %s\nSesión: %s", n.UserID, n.SessionID)

	keys := make([]string, 0, len(n.Fields))
	for k := range n.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if n.Fields[k] != "" {
			fmt.Fprintf(&b, "\n%s: %s", k, n.Fields[k])
		}
	}
	return b.String()
}

// LogSink records notifications to the structured log. Used when no Twilio
// credentials are configured.
type LogSink struct{}

// NewLogSink creates a log-only notification sink.
func NewLogSink() *LogSink {
	return &LogSink{}
}

// Send logs the notification.
func (s *LogSink) Send(ctx context.Context, n models.Notification) error {
	slog.Info("Notification", "kind", n.Kind, "userID", n.UserID, "sessionID", n.SessionID, "fields", n.Fields)
	return nil
}

// MockSink captures notifications for tests.
type MockSink struct {
	Sent []models.Notification
	Err  error
}

// NewMockSink creates an in-memory notification sink.
func NewMockSink() *MockSink {
	return &MockSink{Sent: []models.Notification{}}
}

// Send records the notification, returning the configured error if any.
func (m *MockSink) Send(ctx context.Context, n models.Notification) error {
	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, n)
	return nil
}
