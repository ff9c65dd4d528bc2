// Package models defines the core data structures for fieldbot.
//
// It includes the conversation state record, inbound/outbound message
// envelopes, and notification types shared across modules.
package models

import (
	"errors"
	"time"
)

// MessageKind identifies the kind of an inbound WhatsApp message.
type MessageKind string

const (
	// MessageKindText is a plain text message.
	MessageKindText MessageKind = "text"
	// MessageKindImage is an image message.
	MessageKindImage MessageKind = "image"
	// MessageKindAudio is a voice note or audio message.
	MessageKindAudio MessageKind = "audio"
	// MessageKindLocation is a shared location message.
	MessageKindLocation MessageKind = "location"
	// MessageKindUnknown is any message kind the bot does not handle.
	MessageKindUnknown MessageKind = "unknown"
)

// IsValidMessageKind checks if the given message kind is one the bot handles.
func IsValidMessageKind(k MessageKind) bool {
	switch k {
	case MessageKindText, MessageKindImage, MessageKindAudio, MessageKindLocation:
		return true
	default:
		return false
	}
}

// Error variables for better error handling and testability
var (
	ErrEmptyUserID    = errors.New("user id cannot be empty")
	ErrInvalidKind    = errors.New("invalid message kind")
	ErrUnknownDataKey = errors.New("unknown collected-data key")
	ErrEmptyRecipient = errors.New("recipient cannot be empty")
	ErrEmptyBody      = errors.New("message body cannot be empty")
)

// MediaRef references a media unit attached to an inbound message.
// ID is the provider-side media identifier; URL, when set, is a directly
// fetchable location for the bytes.
type MediaRef struct {
	ID       string `json:"id,omitempty"`
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	// Data holds the bytes when the transport already downloaded them
	// (whatsmeow delivers media inline); never serialized.
	Data []byte `json:"-"`
}

// Location carries a shared location payload. Latitude and longitude are
// pointers so that absent coordinates are distinguishable from zero values.
type Location struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Name      string   `json:"name,omitempty"`
	Address   string   `json:"address,omitempty"`
}

// IncomingMessage is the transport-agnostic envelope for an inbound message.
// MessageID is the provider-side message identifier, used to drop webhook
// redeliveries; it may be empty for transports that do not supply one.
type IncomingMessage struct {
	MessageID   string      `json:"message_id,omitempty"`
	UserID      string      `json:"user_id"`
	DisplayName string      `json:"display_name,omitempty"`
	Kind        MessageKind `json:"kind"`
	Text        string      `json:"text,omitempty"`
	Media       *MediaRef   `json:"media,omitempty"`
	Location    *Location   `json:"location,omitempty"`
	Time        int64       `json:"time"`
}

// Validate performs basic structural validation on an incoming message.
func (m *IncomingMessage) Validate() error {
	if m.UserID == "" {
		return ErrEmptyUserID
	}
	// Unknown kinds pass envelope validation so the step validator can
	// reject them and re-prompt instead of failing the request.
	if !IsValidMessageKind(m.Kind) && m.Kind != MessageKindUnknown {
		return ErrInvalidKind
	}
	return nil
}

// Reply is the outbound envelope handed back to the transport layer.
// MediaURL, when set, references an example image to forward alongside the
// prompt text.
type Reply struct {
	To       string `json:"to"`
	Text     string `json:"text,omitempty"`
	MediaURL string `json:"media_url,omitempty"`
}

// NotificationKind identifies a one-shot side-effect notification.
type NotificationKind string

const (
	// NotificationOnboardingStarted fires once when a session is created.
	NotificationOnboardingStarted NotificationKind = "onboarding_started"
	// NotificationNewStoreStarted fires once when the onboarding answer is captured.
	NotificationNewStoreStarted NotificationKind = "new_store_started"
	// NotificationFlowCompleted fires once when a channel flow reaches its final step.
	NotificationFlowCompleted NotificationKind = "flow_completed"
)

// Notification is the payload delivered to the notification sink.
// Delivery is at-most-once: the gating flag on the conversation state is set
// before the sink is invoked, so a failed delivery is logged and lost rather
// than retried. This is a notification channel, not a ledger.
type Notification struct {
	Kind      NotificationKind  `json:"kind"`
	UserID    string            `json:"user_id"`
	SessionID string            `json:"session_id"`
	Fields    map[string]string `json:"fields,omitempty"`
	Time      time.Time         `json:"time"`
}
