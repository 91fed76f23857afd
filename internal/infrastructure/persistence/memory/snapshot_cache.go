package memory

import (
	"context"
	"sync"

	"github.com/alem-hub/skillforge/internal/application/engine"
)

// SnapshotCache хранит последний снимок пользователя.
type SnapshotCache struct {
	mu    sync.RWMutex
	items map[string]*engine.Snapshot
}

// NewSnapshotCache создаёт пустой кэш.
func NewSnapshotCache() *SnapshotCache {
	return &SnapshotCache{items: make(map[string]*engine.Snapshot)}
}

// Get возвращает снимок или nil.
func (c *SnapshotCache) Get(_ context.Context, userID string) (*engine.Snapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.items[userID], nil
}

// Put заменяет снимок пользователя.
func (c *SnapshotCache) Put(_ context.Context, s *engine.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[s.UserID] = s
	return nil
}

// Invalidate удаляет снимок.
func (c *SnapshotCache) Invalidate(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, userID)
	return nil
}
