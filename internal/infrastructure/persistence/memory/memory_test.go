package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/skillforge/internal/domain/catalog"
	"github.com/alem-hub/skillforge/internal/domain/progress"
	"github.com/alem-hub/skillforge/internal/domain/selfreport"
	"github.com/alem-hub/skillforge/internal/domain/shared"
)

func TestKeyedLocker_SerializesSameKey(t *testing.T) {
	l := NewKeyedLocker()
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "user:1")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, 0, l.Len())
}

func TestKeyedLocker_ContextCancel(t *testing.T) {
	l := NewKeyedLocker()
	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := l.Lock(context.Background(), "other")
	require.NoError(t, err)
	other()

	unlock()
	unlock()
	assert.Equal(t, 0, l.Len())
}

func TestEventLog_RejectsDuplicateOccurrence(t *testing.T) {
	log := NewEventLog()
	ctx := context.Background()
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	e := progress.PointEvent{ID: "1", UserID: "u", Skill: catalog.SkillRef{ProjectID: "p", SkillID: "s"}, Timestamp: ts}

	require.NoError(t, log.Append(ctx, e))
	e.ID = "2"
	assert.ErrorIs(t, log.Append(ctx, e), shared.ErrAlreadyExists)

	e.Timestamp = ts.Add(time.Millisecond)
	require.NoError(t, log.Append(ctx, e))

	events, err := log.ListByUser(ctx, "u")
	require.NoError(t, err)
	assert.Len(t, events, 2)
	events[0].ID = "mutated"
	again, _ := log.ListByUser(ctx, "u")
	assert.Equal(t, "1", again[0].ID)
}

func TestEventLog_RejectsSecondEventForRequest(t *testing.T) {
	log := NewEventLog()
	ctx := context.Background()
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	e := progress.PointEvent{ID: "1", UserID: "u", Skill: catalog.SkillRef{ProjectID: "p", SkillID: "s"}, Timestamp: ts, RequestID: "r1"}

	require.NoError(t, log.Append(ctx, e))
	e.ID, e.Timestamp = "2", ts.Add(time.Second)
	assert.ErrorIs(t, log.Append(ctx, e), shared.ErrAlreadyExists)

	e.RequestID = "r2"
	require.NoError(t, log.Append(ctx, e))
	assert.Equal(t, 2, log.Len())
}

func TestSelfReportRepository_FirstWriterWins(t *testing.T) {
	repo := NewSelfReportRepository()
	ctx := context.Background()
	now := time.Now().UTC()

	req, err := selfreport.NewRequest("r1", "u1", catalog.SkillRef{ProjectID: "p", SkillID: "s"}, now)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, req))

	var wins, conflicts int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		d := selfreport.DecisionApproved
		if i%2 == 1 {
			d = selfreport.DecisionRejected
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Resolve(ctx, "r1", d, now)
			if err == nil {
				atomic.AddInt32(&wins, 1)
			} else if shared.IsConflict(err) {
				atomic.AddInt32(&conflicts, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
	assert.Equal(t, int32(9), conflicts)

	_, err = repo.Get(ctx, "missing")
	assert.True(t, shared.IsNotFound(err))

	pending, err := repo.ListPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSelfReportRepository_MarkEmitted(t *testing.T) {
	repo := NewSelfReportRepository()
	ctx := context.Background()
	now := time.Now().UTC()

	for _, id := range []string{"r1", "r2"} {
		req, err := selfreport.NewRequest(id, "u1", catalog.SkillRef{ProjectID: "p", SkillID: "s"}, now)
		require.NoError(t, err)
		require.NoError(t, repo.Create(ctx, req))
	}

	approved, err := repo.Resolve(ctx, "r1", selfreport.DecisionApproved, now)
	require.NoError(t, err)
	assert.True(t, approved.EmissionPending)

	emitted, err := repo.MarkEmitted(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, emitted.EmissionPending)
	_, err = repo.MarkEmitted(ctx, "r1")
	require.NoError(t, err)

	stored, err := repo.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, selfreport.StateApproved, stored.State)
	assert.False(t, stored.EmissionPending)

	_, err = repo.MarkEmitted(ctx, "r2")
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
	_, err = repo.MarkEmitted(ctx, "missing")
	assert.True(t, shared.IsNotFound(err))
}

func TestCatalogRepository_LoadRestoresCatalog(t *testing.T) {
	ctx := context.Background()
	repo := NewCatalogRepository()
	c := catalog.New(repo)

	require.NoError(t, c.DefineProject(ctx, catalog.Project{ID: "p"}))
	require.NoError(t, c.DefineSubject(ctx, catalog.Subject{ProjectID: "p", ID: "sub"}))
	require.NoError(t, c.DefineSkill(ctx, catalog.Skill{ProjectID: "p", SubjectID: "sub", ID: "a", NumPerformToCompletion: 1}))
	require.NoError(t, c.DefineSkill(ctx, catalog.Skill{ProjectID: "p", SubjectID: "sub", ID: "b", NumPerformToCompletion: 1}))
	require.NoError(t, c.DefineDependency(ctx, "p", "b", "a"))
	require.NoError(t, c.DefineBadge(ctx, catalog.Badge{ProjectID: "p", ID: "x"}))
	require.NoError(t, c.AssignSkillToBadge(ctx, catalog.BadgeKey{ProjectID: "p", BadgeID: "x"}, catalog.SkillRef{ProjectID: "p", SkillID: "b"}))

	restored := catalog.New(repo)
	require.NoError(t, restored.Load(ctx))

	v := restored.View()
	assert.Len(t, v.Skills(), 2)
	assert.Len(t, v.Dependencies(), 1)
	b, ok := v.Badge(catalog.BadgeKey{ProjectID: "p", BadgeID: "x"})
	require.True(t, ok)
	assert.Len(t, b.RequiredSkills, 1)
}
