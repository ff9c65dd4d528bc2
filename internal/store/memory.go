package store

import (
	"sync"

	"github.com/kapta-io/fieldbot/internal/models"
)

// InMemoryStore keeps conversation state in a map. Used by tests and as the
// fallback when no database DSN is configured.
type InMemoryStore struct {
	mu     sync.RWMutex
	states map[string]*models.ConversationState
	dedup  *memoryDedup
}

// NewInMemoryStore creates an empty in-memory state store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		states: make(map[string]*models.ConversationState),
		dedup:  newMemoryDedup(),
	}
}

// Get returns a copy of the stored state, or (nil, nil) when absent.
func (s *InMemoryStore) Get(userID string) (*models.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[userID]
	if !ok {
		return nil, nil
	}
	return normalizeLoaded(state.Clone()), nil
}

// Put stores a copy of the state keyed by its user ID.
func (s *InMemoryStore) Put(state *models.ConversationState) error {
	if state == nil || state.UserID == "" {
		return models.ErrEmptyUserID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.UserID] = state.Clone()
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
