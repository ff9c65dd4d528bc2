package store

import (
	"sync"
	"time"
)

// DedupRecord tracks one inbound provider message ID. The Cloud API retries
// webhook deliveries until they are acknowledged, so the same message can
// arrive more than once.
type DedupRecord struct {
	MessageID   string     `json:"message_id"`
	UserID      string     `json:"user_id"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at"`
}

// DedupRepo records inbound provider message IDs so redeliveries can be
// dropped before they mutate conversation state.
type DedupRepo interface {
	// RecordInbound inserts a new inbound message record. Returns false if
	// the message ID was already recorded (duplicate delivery).
	RecordInbound(messageID, userID string) (bool, error)

	// MarkProcessed sets the processed_at timestamp for a message.
	MarkProcessed(messageID string) error
}

// Compile-time check that InMemoryStore implements DedupRepo.
var _ DedupRepo = (*InMemoryStore)(nil)

type memoryDedup struct {
	mu      sync.Mutex
	records map[string]*DedupRecord
}

func newMemoryDedup() *memoryDedup {
	return &memoryDedup{records: make(map[string]*DedupRecord)}
}

// RecordInbound inserts a new inbound message record in memory.
func (s *InMemoryStore) RecordInbound(messageID, userID string) (bool, error) {
	s.dedup.mu.Lock()
	defer s.dedup.mu.Unlock()
	if _, exists := s.dedup.records[messageID]; exists {
		return false, nil
	}
	s.dedup.records[messageID] = &DedupRecord{
		MessageID:  messageID,
		UserID:     userID,
		ReceivedAt: time.Now(),
	}
	return true, nil
}

// MarkProcessed sets the processed timestamp for a message in memory.
func (s *InMemoryStore) MarkProcessed(messageID string) error {
	s.dedup.mu.Lock()
	defer s.dedup.mu.Unlock()
	if rec, exists := s.dedup.records[messageID]; exists {
		now := time.Now()
		rec.ProcessedAt = &now
	}
	return nil
}
