package credential

import (
	"context"
	"sync"
)

// MemoryStore is a process-local Store. Records are copied on the way in
// and out so callers never share mutable state with the store.
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]Credential
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: make(map[string]Credential)}
}

func (s *MemoryStore) Get(_ context.Context, userID string) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.creds[userID]
	if !ok {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	return &c, nil
}

func (s *MemoryStore) Save(_ context.Context, c *Credential) error {
	if c.UserID == "" {
		return ErrNoUser
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.creds[c.UserID] = *c

	return nil
}

func (s *MemoryStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.creds, userID)

	return nil
}
