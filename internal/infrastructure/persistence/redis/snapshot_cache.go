package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alem-hub/skillforge/internal/application/engine"
)

// snapshotFormat is bumped whenever the Snapshot JSON layout changes.
// Entries written in another format are treated as misses.
const snapshotFormat = 1

// DefaultSnapshotTTL bounds how long an untouched snapshot stays cached.
const DefaultSnapshotTTL = 30 * time.Minute

type snapshotEntry struct {
	Format   int              `json:"format"`
	Snapshot *engine.Snapshot `json:"snapshot"`
}

// SnapshotCache implements engine.SnapshotCache on Redis strings.
// Staleness against the catalog is decided by the engine through
// Snapshot.CatalogVersion; the cache only stores and expires.
type SnapshotCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewSnapshotCache creates a SnapshotCache. A non-positive ttl uses DefaultSnapshotTTL.
func NewSnapshotCache(client redis.UniversalClient, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &SnapshotCache{client: client, ttl: ttl}
}

// Get returns the cached snapshot, or nil on a miss.
func (c *SnapshotCache) Get(ctx context.Context, userID string) (*engine.Snapshot, error) {
	data, err := c.client.Get(ctx, SnapshotKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var entry snapshotEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	if entry.Format != snapshotFormat || entry.Snapshot == nil {
		return nil, nil
	}
	return entry.Snapshot, nil
}

// Put stores the snapshot and refreshes its TTL.
func (c *SnapshotCache) Put(ctx context.Context, s *engine.Snapshot) error {
	data, err := json.Marshal(snapshotEntry{Format: snapshotFormat, Snapshot: s})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return c.client.Set(ctx, SnapshotKey(s.UserID), data, c.ttl).Err()
}

// Invalidate removes the user's snapshot.
func (c *SnapshotCache) Invalidate(ctx context.Context, userID string) error {
	return c.client.Del(ctx, SnapshotKey(userID)).Err()
}
