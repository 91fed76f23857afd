package redis

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/skillforge/internal/application/engine"
	"github.com/alem-hub/skillforge/internal/domain/catalog"
	"github.com/alem-hub/skillforge/internal/domain/shared"
	"github.com/alem-hub/skillforge/internal/infrastructure/persistence/memory"
)

// Integration tests run only when SKILLFORGE_TEST_REDIS_ADDR points at a
// disposable Redis; the selected database is flushed.
func testClient(t *testing.T) *goredis.Client {
	t.Helper()
	addr := os.Getenv("SKILLFORGE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SKILLFORGE_TEST_REDIS_ADDR not set")
	}
	cfg := DefaultConfig()
	cfg.Addr = addr
	cfg.DB = 15

	client, err := NewClient(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, client.FlushDB(context.Background()).Err())
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "skillforge:snapshot:u1", SnapshotKey("u1"))
	assert.Equal(t, "skillforge:lock:user:u1", LockKey("user:u1"))
	assert.Equal(t, "skillforge:events:achievement.badge", EventChannel(string(shared.EventBadgeAchieved)))
}

func TestSnapshotCache_Integration(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()
	cache := NewSnapshotCache(client, time.Minute)

	got, err := cache.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, got)

	computed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, cache.Put(ctx, &engine.Snapshot{UserID: "u1", CatalogVersion: 7, LogSize: 3, ComputedAt: computed}))

	got, err = cache.Get(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(7), got.CatalogVersion)
	assert.Equal(t, 3, got.LogSize)
	assert.True(t, computed.Equal(got.ComputedAt))

	ttl, err := client.TTL(ctx, SnapshotKey("u1")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	// Entries in an unknown format are misses.
	require.NoError(t, client.Set(ctx, SnapshotKey("u2"), `{"format":99,"snapshot":{"user_id":"u2"}}`, 0).Err())
	got, err = cache.Get(ctx, "u2")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, cache.Invalidate(ctx, "u1"))
	got, err = cache.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLocker_Integration(t *testing.T) {
	client := testClient(t)
	locker := NewLocker(client, 5*time.Second, 5*time.Millisecond, nil)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			unlock, err := locker.Lock(ctx, "user:u1")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(10 * time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func TestLocker_ExpiredContextKeepsDeadlineInChain(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	_, err := NewLocker(client, time.Second, time.Millisecond, nil).Lock(ctx, "k")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLocker_TimeoutAndForeignRelease(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()
	locker := NewLocker(client, 5*time.Second, 5*time.Millisecond, nil)

	unlock, err := locker.Lock(ctx, "k")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(waitCtx, "k")
	assert.ErrorIs(t, err, ErrLockTimeout)

	// A token mismatch must not delete someone else's lock.
	require.NoError(t, client.Set(ctx, LockKey("k"), "other-token", time.Minute).Err())
	unlock()
	val, err := client.Get(ctx, LockKey("k")).Result()
	require.NoError(t, err)
	assert.Equal(t, "other-token", val)
}

func TestPublisher_Integration(t *testing.T) {
	client := testClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan shared.EventEnvelope, 1)
	go func() {
		_ = Subscribe(ctx, client, nil, func(_ context.Context, env shared.EventEnvelope) {
			select {
			case received <- env:
			default:
			}
		})
	}()

	// Subscription setup is asynchronous; retry until a message lands.
	pub := NewPublisher(client)
	event := shared.NewCatalogChangedEvent("web", "skill", 4)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		require.NoError(t, pub.Publish(event))
		select {
		case env := <-received:
			assert.Equal(t, shared.EventCatalogChanged, env.Type)
			assert.Equal(t, "web", env.AggregateID)
			assert.NotEmpty(t, env.ID)
			assert.Equal(t, pub.Source(), env.Source)
			return
		case <-tick.C:
		case <-ctx.Done():
			t.Fatal("event not delivered")
		}
	}
}

func TestCatalogReloader(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewCatalogRepository()
	writer := catalog.New(repo)
	reader := catalog.New(repo)
	require.NoError(t, writer.DefineProject(ctx, catalog.Project{ID: "web", Name: "Web"}))

	reload := CatalogReloader(reader, "self", nil)
	changed, err := shared.NewEventEnvelope("e1", shared.NewCatalogChangedEvent("web", "project", 1))
	require.NoError(t, err)

	changed.Source = "self"
	reload(ctx, changed)
	_, ok := reader.View().Project("web")
	assert.False(t, ok, "own events are ignored")

	changed.Source = "other"
	reload(ctx, changed)
	_, ok = reader.View().Project("web")
	assert.True(t, ok)
}
