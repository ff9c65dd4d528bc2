package flow

import "sync"

// userLocks provides per-key mutual exclusion so the read-modify-write
// sequence for one user is atomic while different users proceed in parallel.
// Locks are never removed; the population is bounded by the promoter roster.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*sync.Mutex)}
}

// get returns the mutex for a user, creating it on first use.
func (ul *userLocks) get(userID string) *sync.Mutex {
	ul.mu.Lock()
	defer ul.mu.Unlock()
	m, ok := ul.locks[userID]
	if !ok {
		m = &sync.Mutex{}
		ul.locks[userID] = m
	}
	return m
}
