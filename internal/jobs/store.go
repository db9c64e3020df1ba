// Package jobs runs long operations off the caller's path and stores each
// terminal result under a key the caller polls. A result is handed out at
// most once: the first poll that sees it also removes it.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/calbridge/internal/blobstore"
)

// keySuffixLen is the number of hex characters of randomness in a job key.
const keySuffixLen = 12

// NewKey builds a job key of the form <prefix>:<userID>:<unix>:<random>.
// The random suffix keeps two submissions in the same second distinct.
func NewKey(prefix, userID string, now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:keySuffixLen]

	return prefix + ":" + userID + ":" + strconv.FormatInt(now.Unix(), 10) + ":" + suffix
}

// KeyUser extracts the user ID from a key built by NewKey. ok is false for
// keys of any other shape.
func KeyUser(key string) (userID string, ok bool) {
	parts := strings.Split(key, ":")
	if len(parts) < 4 {
		return "", false
	}

	// The prefix may itself contain colons; the last three fields are fixed.
	n := len(parts)
	if _, err := strconv.ParseInt(parts[n-2], 10, 64); err != nil || len(parts[n-1]) != keySuffixLen {
		return "", false
	}

	return parts[n-3], true
}

// Result is the terminal record of a job.
type Result struct {
	Kind        string          `json:"kind"`
	Success     bool            `json:"success"`
	Error       string          `json:"error,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	CompletedAt time.Time       `json:"completed_at"`
}

// Poll is what a poller observes: Done with the result, or still pending.
type Poll struct {
	Done   bool
	Result *Result
}

// Store persists job results in a blob store.
type Store struct {
	blobs blobstore.Store
}

// NewStore creates a Store over blobs.
func NewStore(blobs blobstore.Store) *Store {
	return &Store{blobs: blobs}
}

// Put records the result for key, replacing any earlier one.
func (s *Store) Put(ctx context.Context, key string, r Result) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("jobs: encoding result for %s: %w", key, err)
	}

	if err := s.blobs.Set(ctx, key, data); err != nil {
		return fmt.Errorf("jobs: storing result for %s: %w", key, err)
	}

	return nil
}

// Poll atomically takes the result for key. A missing result means the job
// is still running, was never submitted, or was already consumed; all three
// read as pending.
func (s *Store) Poll(ctx context.Context, key string) (Poll, error) {
	data, err := s.blobs.Take(ctx, key)
	if errors.Is(err, blobstore.ErrNotFound) {
		return Poll{}, nil
	}

	if err != nil {
		return Poll{}, fmt.Errorf("jobs: polling %s: %w", key, err)
	}

	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return Poll{}, fmt.Errorf("jobs: decoding result for %s: %w", key, err)
	}

	return Poll{Done: true, Result: &r}, nil
}
