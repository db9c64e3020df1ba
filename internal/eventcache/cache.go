// Package eventcache keeps a per-user copy of provider resource lists in a
// blob store. Reads are cache-aside; writes go to the provider first and
// invalidate the cached list only after the provider confirms them.
package eventcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/calbridge/internal/blobstore"
	"github.com/tonimelisma/calbridge/internal/metrics"
)

// ErrInvalidationFailed means the provider accepted a mutation but the
// cached list could not be dropped. The mutation is not rolled back.
var ErrInvalidationFailed = errors.New("eventcache: mutation applied but cache invalidation failed")

// KindEvents is the resource kind of a user's calendar event list.
const KindEvents = "events"

// Key builds the storage key for one user's resource list.
func Key(userID, kind string) string {
	return "user:" + userID + ":" + kind
}

// Lookup is the result of Get. Payload is only meaningful on a hit.
type Lookup struct {
	Hit     bool
	Payload []byte
}

// LoadFunc fetches the authoritative list from the provider.
type LoadFunc func(ctx context.Context) ([]byte, error)

// Cache is a resource-list cache for one kind.
type Cache struct {
	store   blobstore.Store
	kind    string
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a Cache over store for kind. m may be nil.
func New(store blobstore.Store, kind string, logger *slog.Logger, m *metrics.Metrics) *Cache {
	if logger == nil {
		logger = slog.Default()
	}

	return &Cache{store: store, kind: kind, logger: logger, metrics: m}
}

// Get returns the cached payload. A store failure is logged and reported
// as a miss, so callers fall through to the provider.
func (c *Cache) Get(ctx context.Context, userID string) Lookup {
	v, err := c.store.Get(ctx, Key(userID, c.kind))

	switch {
	case err == nil:
		c.metrics.RecordCacheLookup(c.kind, metrics.CacheHit)
		return Lookup{Hit: true, Payload: v}
	case errors.Is(err, blobstore.ErrNotFound):
		c.metrics.RecordCacheLookup(c.kind, metrics.CacheMiss)
	default:
		c.metrics.RecordCacheLookup(c.kind, metrics.CacheError)
		c.logger.Warn("cache read failed, treating as miss",
			slog.String("user_id", userID),
			slog.String("kind", c.kind),
			slog.String("error", err.Error()),
		)
	}

	return Lookup{}
}

// Set overwrites the cached payload.
func (c *Cache) Set(ctx context.Context, userID string, payload []byte) error {
	if err := c.store.Set(ctx, Key(userID, c.kind), payload); err != nil {
		return fmt.Errorf("eventcache: set %s for %s: %w", c.kind, userID, err)
	}

	return nil
}

// Invalidate drops the cached payload; the next Get is a miss.
func (c *Cache) Invalidate(ctx context.Context, userID string) error {
	if err := c.store.Delete(ctx, Key(userID, c.kind)); err != nil {
		return fmt.Errorf("eventcache: invalidate %s for %s: %w", c.kind, userID, err)
	}

	c.metrics.RecordCacheInvalidation(c.kind)
	c.logger.Debug("cache invalidated",
		slog.String("user_id", userID),
		slog.String("kind", c.kind),
	)

	return nil
}

// ReadThrough returns the cached payload on a hit. On a miss it calls load,
// stores the result and returns it. A failed store write is logged; the
// fresh payload is still returned.
func (c *Cache) ReadThrough(ctx context.Context, userID string, load LoadFunc) ([]byte, error) {
	if l := c.Get(ctx, userID); l.Hit {
		return l.Payload, nil
	}

	payload, err := load(ctx)
	if err != nil {
		return nil, err
	}

	c.setQuietly(ctx, userID, payload)

	return payload, nil
}

// Mutate runs a provider-side change and then invalidates the cached list.
// The cache is untouched when mutate fails. When reload is non-nil the list
// is fetched again after invalidation and stored, so the next read is a
// hit on post-mutation data. A failed invalidation is reported as
// ErrInvalidationFailed.
func (c *Cache) Mutate(ctx context.Context, userID string, mutate func(ctx context.Context) error, reload LoadFunc) error {
	if err := mutate(ctx); err != nil {
		return err
	}

	if err := c.Invalidate(ctx, userID); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidationFailed, err)
	}

	if reload == nil {
		return nil
	}

	payload, err := reload(ctx)
	if err != nil {
		// The mutation stands; the next read repopulates.
		c.logger.Warn("reload after mutation failed",
			slog.String("user_id", userID),
			slog.String("kind", c.kind),
			slog.String("error", err.Error()),
		)

		return nil
	}

	c.setQuietly(ctx, userID, payload)

	return nil
}

// setQuietly writes payload and only logs on failure.
func (c *Cache) setQuietly(ctx context.Context, userID string, payload []byte) {
	if err := c.Set(ctx, userID, payload); err != nil {
		c.logger.Warn("cache write failed",
			slog.String("user_id", userID),
			slog.String("kind", c.kind),
			slog.String("error", err.Error()),
		)
	}
}
