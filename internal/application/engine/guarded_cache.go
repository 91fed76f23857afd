package engine

import (
	"context"
	"sync"

	"github.com/alem-hub/skillforge/pkg/circuitbreaker"
)

// GuardedCache wraps a remote SnapshotCache with a circuit breaker. While the
// circuit is open reads miss and writes are skipped, so ingestion falls back
// to rebuilding from the log instead of waiting on a dead cache.
//
// A user whose write was skipped or failed is marked dirty and every read for
// them misses until a later write succeeds; the remote copy may be stale.
type GuardedCache struct {
	inner   SnapshotCache
	breaker *circuitbreaker.CircuitBreaker

	mu    sync.Mutex
	dirty map[string]struct{}
}

// NewGuardedCache wraps inner with cb.
func NewGuardedCache(inner SnapshotCache, cb *circuitbreaker.CircuitBreaker) *GuardedCache {
	return &GuardedCache{inner: inner, breaker: cb, dirty: make(map[string]struct{})}
}

// Get returns nil without an error when the circuit rejects the call.
func (c *GuardedCache) Get(ctx context.Context, userID string) (*Snapshot, error) {
	if c.isDirty(userID) {
		return nil, nil
	}
	var snap *Snapshot
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		snap, err = c.inner.Get(ctx, userID)
		return err
	})
	if circuitbreaker.IsRejected(err) {
		return nil, nil
	}
	return snap, err
}

// Put stores s, or marks the user dirty when the write does not land.
func (c *GuardedCache) Put(ctx context.Context, s *Snapshot) error {
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.inner.Put(ctx, s)
	})
	if err == nil {
		c.setDirty(s.UserID, false)
		return nil
	}
	c.setDirty(s.UserID, true)
	if circuitbreaker.IsRejected(err) {
		return nil
	}
	// Best effort: drop the stale remote copy for other instances.
	_ = c.inner.Invalidate(ctx, s.UserID)
	return err
}

// Invalidate removes the cached snapshot.
func (c *GuardedCache) Invalidate(ctx context.Context, userID string) error {
	c.setDirty(userID, true)
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.inner.Invalidate(ctx, userID)
	})
	if circuitbreaker.IsRejected(err) {
		return nil
	}
	return err
}

// Breaker exposes the breaker for health reporting.
func (c *GuardedCache) Breaker() *circuitbreaker.CircuitBreaker {
	return c.breaker
}

func (c *GuardedCache) isDirty(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.dirty[userID]
	return ok
}

func (c *GuardedCache) setDirty(userID string, dirty bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if dirty {
		c.dirty[userID] = struct{}{}
	} else {
		delete(c.dirty, userID)
	}
}
