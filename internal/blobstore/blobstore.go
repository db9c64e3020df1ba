// Package blobstore is a small keyed byte store shared by the event cache
// and the job result store. Values never expire on their own.
package blobstore

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by Get and Take when the key is absent.
var ErrNotFound = errors.New("blobstore: not found")

// Store maps string keys to opaque byte values.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Set overwrites any existing value.
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Take returns the value and removes it in one atomic step, so two
	// concurrent Takes of the same key never both succeed.
	Take(ctx context.Context, key string) ([]byte, error)
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}

	return clone(v), nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = clone(value)

	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)

	return nil
}

func (s *MemoryStore) Take(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}

	delete(s.data, key)

	return v, nil
}

// Len returns the number of stored keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.data)
}

func clone(b []byte) []byte {
	if b == nil {
		return []byte{}
	}

	out := make([]byte, len(b))
	copy(out, b)

	return out
}
