package presence

import (
	"context"
	"sort"
	"sync"
)

// CounterStore keeps per-(tenant, user) live connection counts.
type CounterStore interface {
	// Increment adds one connection and returns the new count.
	Increment(ctx context.Context, tenantID, userID string) (int64, error)
	// Decrement removes one connection and returns the new count, never below zero.
	// clamped is true when the count was already zero.
	Decrement(ctx context.Context, tenantID, userID string) (count int64, clamped bool, err error)
	// Online lists users with a positive count, sorted.
	Online(ctx context.Context, tenantID string) ([]string, error)
}

// MemoryStore is the in-process counter store. State is lost on restart.
type MemoryStore struct {
	mu     sync.Mutex
	counts map[string]map[string]int64
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counts: make(map[string]map[string]int64)}
}

// Increment implements CounterStore.
func (s *MemoryStore) Increment(_ context.Context, tenantID, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users, ok := s.counts[tenantID]
	if !ok {
		users = make(map[string]int64)
		s.counts[tenantID] = users
	}
	users[userID]++
	return users[userID], nil
}

// Decrement implements CounterStore.
func (s *MemoryStore) Decrement(_ context.Context, tenantID, userID string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := s.counts[tenantID]
	current := users[userID]
	if current <= 0 {
		return 0, true, nil
	}
	current--
	if current == 0 {
		delete(users, userID)
		if len(users) == 0 {
			delete(s.counts, tenantID)
		}
		return 0, false, nil
	}
	users[userID] = current
	return current, false, nil
}

// Online implements CounterStore.
func (s *MemoryStore) Online(_ context.Context, tenantID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := s.counts[tenantID]
	online := make([]string, 0, len(users))
	for userID, count := range users {
		if count > 0 {
			online = append(online, userID)
		}
	}
	sort.Strings(online)
	return online, nil
}
