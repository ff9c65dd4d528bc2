// Package models defines state management structures for fieldbot flows.
package models

import "time"

// Channel is the store-type classification decided once from the onboarding
// answer.
type Channel string

const (
	// ChannelUnset means the onboarding branch has not been taken yet.
	ChannelUnset Channel = ""
	// ChannelModern is the supermarket / modern trade path.
	ChannelModern Channel = "canal_moderno"
	// ChannelTraditional is the corner-store / traditional trade path.
	ChannelTraditional Channel = "canal_tradicional"
)

// FlowType identifies which script table is active for a session.
type FlowType string

const (
	// FlowOnboarding is the identity-validation flow every session starts in.
	FlowOnboarding FlowType = "onboarding"
	// FlowModern is the supermarket visit script.
	FlowModern FlowType = "canal_moderno"
	// FlowTraditional is the corner-store visit script.
	FlowTraditional FlowType = "canal_tradicional"
)

// IsValidFlowType checks if the given flow type is supported.
func IsValidFlowType(ft FlowType) bool {
	switch ft {
	case FlowOnboarding, FlowModern, FlowTraditional:
		return true
	default:
		return false
	}
}

// DataKey names a collected-data field. The set of keys is closed per flow;
// writes through SetData reject keys outside it so typos cannot create
// orphan fields.
type DataKey string

const (
	// DataKeyOnboardingAnswer is the raw text answer to the onboarding questions.
	DataKeyOnboardingAnswer DataKey = "onboarding_answer"
	// DataKeyStoreAddress is the free-text store name and address (traditional flow).
	DataKeyStoreAddress DataKey = "store_address"
	// DataKeyStoreType is the numeric store-type code, one of "1".."5".
	DataKeyStoreType DataKey = "store_type"
	// DataKeyStoreName is the store name taken from a location payload (modern flow).
	DataKeyStoreName DataKey = "store_name"
	// DataKeyStoreLatitude is the store latitude as decimal text.
	DataKeyStoreLatitude DataKey = "store_latitude"
	// DataKeyStoreLongitude is the store longitude as decimal text.
	DataKeyStoreLongitude DataKey = "store_longitude"
	// DataKeyAudioTranscript is the best-effort transcript of the closing audio note.
	DataKeyAudioTranscript DataKey = "audio_transcript"
)

var knownDataKeys = map[DataKey]struct{}{
	DataKeyOnboardingAnswer: {},
	DataKeyStoreAddress:     {},
	DataKeyStoreType:        {},
	DataKeyStoreName:        {},
	DataKeyStoreLatitude:    {},
	DataKeyStoreLongitude:   {},
	DataKeyAudioTranscript:  {},
}

// IsKnownDataKey reports whether key belongs to the closed collected-data set.
func IsKnownDataKey(key DataKey) bool {
	_, ok := knownDataKeys[key]
	return ok
}

// ConversationState is the per-user progress record for one field-visit
// interview. It is owned exclusively by the state store and mutated only by
// the flow engine under per-user mutual exclusion.
type ConversationState struct {
	UserID      string             `json:"user_id"`
	DisplayName string             `json:"display_name"`
	Channel     Channel            `json:"channel"`
	Flow        FlowType           `json:"flow"`
	StepIndex   int                `json:"step_index"`
	Data        map[DataKey]string `json:"data,omitempty"`
	MediaCounts map[string]int     `json:"media_counts,omitempty"`

	// One-shot side-effect flags. Monotonic for the lifetime of a session:
	// once true they are never reset.
	OnboardingNotified bool `json:"onboarding_notified"`
	NewStoreNotified   bool `json:"new_store_notified"`
	EndNotified        bool `json:"end_notified"`

	SessionID string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewConversationState creates a fresh record at the start of the onboarding
// flow for the given user.
func NewConversationState(userID, displayName, sessionID string, now time.Time) *ConversationState {
	return &ConversationState{
		UserID:      userID,
		DisplayName: displayName,
		Channel:     ChannelUnset,
		Flow:        FlowOnboarding,
		StepIndex:   0,
		Data:        make(map[DataKey]string),
		MediaCounts: make(map[string]int),
		SessionID:   sessionID,
		StartedAt:   now,
		UpdatedAt:   now,
	}
}

// SetData stores a collected answer under a known key. Unknown keys are
// rejected so the collected-data set stays closed.
func (s *ConversationState) SetData(key DataKey, value string) error {
	if !IsKnownDataKey(key) {
		return ErrUnknownDataKey
	}
	if s.Data == nil {
		s.Data = make(map[DataKey]string)
	}
	s.Data[key] = value
	return nil
}

// ResetMediaCounts clears the per-step media counters. Called on every step
// advance so counts never leak across steps.
func (s *ConversationState) ResetMediaCounts() {
	s.MediaCounts = make(map[string]int)
}

// Clone returns a deep copy of the state. The engine mutates a clone so a
// failed persist leaves the stored record untouched.
func (s *ConversationState) Clone() *ConversationState {
	if s == nil {
		return nil
	}
	out := *s
	out.Data = make(map[DataKey]string, len(s.Data))
	for k, v := range s.Data {
		out.Data[k] = v
	}
	out.MediaCounts = make(map[string]int, len(s.MediaCounts))
	for k, v := range s.MediaCounts {
		out.MediaCounts[k] = v
	}
	return &out
}
