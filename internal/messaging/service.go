// Package messaging provides pluggable WhatsApp transports for fieldbot and
// the responder loop that feeds inbound messages into the flow engine.
package messaging

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/kapta-io/fieldbot/internal/models"
)

// Constants for messaging service configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for inbound message channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned when a send is attempted after Stop.
var ErrServiceStopped = errors.New("messaging service stopped")

// phoneNumberRegex matches everything that is not a digit, for recipient
// canonicalization.
var phoneNumberRegex = regexp.MustCompile(`\D`)

// Service defines a pluggable message delivery abstraction over a WhatsApp
// transport. It supports sending text and image messages and exposes a
// channel of inbound messages.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendText sends a text message to a recipient.
	SendText(ctx context.Context, to string, body string) error

	// SendImage sends an image by URL to a recipient, with optional caption.
	SendImage(ctx context.Context, to string, imageURL string, caption string) error

	// Start begins any background processing (e.g., event polling).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Messages returns a channel of inbound participant messages.
	Messages() <-chan models.IncomingMessage
}

// canonicalizePhone strips non-digits and validates a minimum length. Shared
// by all transports.
func canonicalizePhone(recipient string) (string, error) {
	if recipient == "" {
		return "", models.ErrEmptyRecipient
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", errors.New("invalid phone number: no digits found")
	}
	if len(canonical) < 6 {
		return "", errors.New("invalid phone number: too short")
	}
	return canonical, nil
}
