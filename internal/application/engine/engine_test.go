package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/skillforge/internal/application/engine"
	"github.com/alem-hub/skillforge/internal/domain/catalog"
	"github.com/alem-hub/skillforge/internal/domain/progress"
	"github.com/alem-hub/skillforge/internal/domain/shared"
	"github.com/alem-hub/skillforge/internal/infrastructure/persistence/memory"
)

var t0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []shared.Event
}

func (r *recorder) Publish(e shared.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) ofType(t shared.EventType) []shared.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []shared.Event
	for _, e := range r.events {
		if e.EventType() == t {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	engine  *engine.Engine
	catalog *catalog.Catalog
	log     *memory.EventLog
	cache   *memory.SnapshotCache
	events  *recorder
}

func newFixture(t *testing.T, cfg engine.Config) *fixture {
	t.Helper()
	ctx := context.Background()
	cat := catalog.New(nil)
	require.NoError(t, cat.DefineProject(ctx, catalog.Project{
		ID:     "proj1",
		Levels: catalog.LevelTable{{Level: 1, MinPoints: 100}, {Level: 2, MinPoints: 500}},
	}))
	require.NoError(t, cat.DefineSubject(ctx, catalog.Subject{ProjectID: "proj1", ID: "subj1"}))
	skills := []catalog.Skill{
		{ID: "five", PointIncrement: 100, NumPerformToCompletion: 5},
		{ID: "daily", PointIncrement: 10, NumPerformToCompletion: 3, PointIncrementInterval: 1440, NumMaxOccurrencesIncrementInterval: 1},
		{ID: "pre", PointIncrement: 10, NumPerformToCompletion: 1},
		{ID: "post", PointIncrement: 10, NumPerformToCompletion: 1},
	}
	for _, s := range skills {
		s.ProjectID, s.SubjectID = "proj1", "subj1"
		require.NoError(t, cat.DefineSkill(ctx, s))
	}
	require.NoError(t, cat.DefineDependency(ctx, "proj1", "post", "pre"))

	f := &fixture{
		catalog: cat,
		log:     memory.NewEventLog(),
		cache:   memory.NewSnapshotCache(),
		events:  &recorder{},
	}
	f.engine = engine.New(cat, f.log, f.cache, memory.NewKeyedLocker(), f.events, nil, cfg,
		engine.WithClock(func() time.Time { return t0.Add(48 * time.Hour) }))
	return f
}

func (f *fixture) submit(t *testing.T, skill string, ts time.Time) *engine.IngestResult {
	t.Helper()
	res, err := f.engine.Ingest(context.Background(), engine.Submission{
		UserID:    "user1",
		Skill:     catalog.SkillRef{ProjectID: "proj1", SkillID: skill},
		Timestamp: ts,
	})
	require.NoError(t, err)
	return res
}

func TestIngest_CompletionCeiling(t *testing.T) {
	f := newFixture(t, engine.DefaultConfig())

	var res *engine.IngestResult
	for i := 0; i < 5; i++ {
		res = f.submit(t, "five", t0.Add(time.Duration(i)*time.Minute))
		assert.True(t, res.Counted)
	}
	assert.Equal(t, 100, res.Skill.Percent)
	assert.Equal(t, 500, res.Skill.Points)
	assert.Equal(t, t0.Add(4*time.Minute), *res.Skill.AchievedAt)

	sixth := f.submit(t, "five", t0.Add(10*time.Minute))
	assert.True(t, sixth.Accepted())
	assert.False(t, sixth.Counted)
	assert.Equal(t, 100, sixth.Skill.Percent)
	assert.Equal(t, 500, sixth.Skill.Points)
	assert.Equal(t, 6, sixth.Skill.Occurrences)
	assert.Equal(t, 6, f.log.Len())

	skillEvents := f.events.ofType(shared.EventSkillAchieved)
	require.Len(t, skillEvents, 1)
	assert.Equal(t, t0.Add(4*time.Minute), skillEvents[0].(shared.SkillAchievedEvent).AchievedAt)
}

func TestIngest_Throttle(t *testing.T) {
	f := newFixture(t, engine.DefaultConfig())

	first := f.submit(t, "daily", t0)
	assert.True(t, first.Accepted())

	second := f.submit(t, "daily", t0.Add(23*time.Hour))
	assert.Equal(t, progress.OutcomeThrottled, second.Outcome)
	assert.Equal(t, "Throttled", second.Reason())
	assert.False(t, second.Counted)
	assert.Equal(t, first.Skill.Percent, second.Skill.Percent)
	assert.Equal(t, 2, f.log.Len(), "throttled events are retained for audit")

	third := f.submit(t, "daily", t0.Add(25*time.Hour))
	assert.True(t, third.Accepted())
	assert.Equal(t, 2, third.Skill.Counted)
}

func TestIngest_ThrottledNotRetained(t *testing.T) {
	cfg := engine.DefaultConfig()
	cfg.Policy.RetainThrottled = false
	f := newFixture(t, cfg)

	f.submit(t, "daily", t0)
	res := f.submit(t, "daily", t0.Add(time.Hour))
	assert.Equal(t, progress.OutcomeThrottled, res.Outcome)
	assert.Equal(t, 1, f.log.Len())
}

func TestIngest_SkillLocked(t *testing.T) {
	f := newFixture(t, engine.DefaultConfig())
	ctx := context.Background()

	_, err := f.engine.Ingest(ctx, engine.Submission{
		UserID:    "user1",
		Skill:     catalog.SkillRef{ProjectID: "proj1", SkillID: "post"},
		Timestamp: t0,
	})
	assert.ErrorIs(t, err, shared.ErrSkillLocked)
	assert.Equal(t, 0, f.log.Len())
	assert.Len(t, f.events.ofType(shared.EventPointRejected), 1)

	f.submit(t, "pre", t0.Add(time.Minute))
	res := f.submit(t, "post", t0.Add(2*time.Minute))
	assert.True(t, res.Accepted())
	assert.True(t, res.Skill.Complete)
}

func TestIngest_DuplicateIsIdempotent(t *testing.T) {
	f := newFixture(t, engine.DefaultConfig())

	first := f.submit(t, "five", t0.Add(123*time.Millisecond))
	again := f.submit(t, "five", t0.Add(123*time.Millisecond+400*time.Microsecond))

	assert.True(t, again.Duplicate)
	assert.Equal(t, first.Event.ID, again.Event.ID)
	assert.Equal(t, 1, again.Skill.Counted)
	assert.Equal(t, 1, f.log.Len())
}

func TestIngest_RequestIDDeduplicatesAndFindsFreeMillisecond(t *testing.T) {
	f := newFixture(t, engine.DefaultConfig())
	ctx := context.Background()
	five := catalog.SkillRef{ProjectID: "proj1", SkillID: "five"}
	approved := func(requestID string) *engine.IngestResult {
		res, err := f.engine.Ingest(ctx, engine.Submission{
			UserID: "user1", Skill: five, Timestamp: t0,
			Source: progress.SourceSelfReportApproved, RequestID: requestID,
		})
		require.NoError(t, err)
		return res
	}

	direct := f.submit(t, "five", t0)
	first := approved("req-1")
	second := approved("req-2")
	again := approved("req-1")

	assert.False(t, first.Duplicate)
	assert.Equal(t, t0.Add(time.Millisecond), first.Event.Timestamp)
	assert.Equal(t, t0.Add(2*time.Millisecond), second.Event.Timestamp)
	assert.Equal(t, 3, second.Skill.Counted)

	assert.True(t, again.Duplicate)
	assert.Equal(t, first.Event.ID, again.Event.ID)
	assert.NotEqual(t, direct.Event.ID, first.Event.ID)
	assert.Equal(t, 3, f.log.Len())
}

func TestWithUser_SessionIngestsUnderOneLock(t *testing.T) {
	f := newFixture(t, engine.DefaultConfig())
	ctx := context.Background()
	five := catalog.SkillRef{ProjectID: "proj1", SkillID: "five"}

	err := f.engine.WithUser(ctx, "user1", func(ctx context.Context, u *engine.UserSession) error {
		assert.Equal(t, "user1", u.UserID())
		for i := 0; i < 2; i++ {
			if _, err := u.Ingest(ctx, engine.Submission{UserID: "user1", Skill: five, Timestamp: t0.Add(time.Duration(i) * time.Second)}); err != nil {
				return err
			}
		}
		assert.Empty(t, f.events.ofType(shared.EventPointRecorded), "published before unlock")

		_, err := u.Ingest(ctx, engine.Submission{UserID: "user2", Skill: five, Timestamp: t0})
		assert.ErrorIs(t, err, shared.ErrInvalidInput)
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, f.events.ofType(shared.EventPointRecorded), 2)
	assert.Equal(t, 2, f.log.Len())

	boom := errors.New("boom")
	err = f.engine.WithUser(ctx, "user1", func(context.Context, *engine.UserSession) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestIngest_RejectsUnknownInput(t *testing.T) {
	f := newFixture(t, engine.DefaultConfig())
	ctx := context.Background()

	_, err := f.engine.Ingest(ctx, engine.Submission{UserID: "user1", Skill: catalog.SkillRef{ProjectID: "proj1", SkillID: "nope"}})
	assert.ErrorIs(t, err, shared.ErrUnknownSkill)

	_, err = f.engine.Ingest(ctx, engine.Submission{UserID: "  ", Skill: catalog.SkillRef{ProjectID: "proj1", SkillID: "five"}})
	assert.ErrorIs(t, err, shared.ErrUnknownUser)

	_, err = f.engine.Ingest(ctx, engine.Submission{UserID: "user1", Skill: catalog.SkillRef{ProjectID: "proj1", SkillID: "five"}, Source: "Magic"})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)

	assert.Equal(t, 0, f.log.Len())
}

func TestIngest_ConcurrentSubmissionsRespectThrottle(t *testing.T) {
	f := newFixture(t, engine.DefaultConfig())
	ctx := context.Background()

	const n = 16
	results := make(chan *engine.IngestResult, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.engine.Ingest(ctx, engine.Submission{
				UserID:    "user1",
				Skill:     catalog.SkillRef{ProjectID: "proj1", SkillID: "daily"},
				Timestamp: t0.Add(time.Duration(i) * time.Second),
			})
			if assert.NoError(t, err) {
				results <- res
			}
		}(i)
	}
	wg.Wait()
	close(results)

	accepted := 0
	for res := range results {
		if res.Accepted() {
			accepted++
		}
	}
	assert.Equal(t, 1, accepted)

	snap, _, err := f.engine.Snapshot(ctx, "user1")
	require.NoError(t, err)
	sk, ok := snap.Skill(catalog.SkillRef{ProjectID: "proj1", SkillID: "daily"})
	require.True(t, ok)
	assert.Equal(t, 1, sk.Counted)
}

// busyLocker never grants the lock and reports the wait the way the Redis locker does.
type busyLocker struct{}

func (busyLocker) Lock(ctx context.Context, _ string) (func(), error) {
	<-ctx.Done()
	return nil, fmt.Errorf("%w: %w", errors.New("lock not acquired"), ctx.Err())
}

func TestIngest_BusyUserIsLockTimeout(t *testing.T) {
	f := newFixture(t, engine.DefaultConfig())
	eng := engine.New(f.catalog, f.log, nil, busyLocker{}, nil, nil, engine.Config{LockTimeout: 10 * time.Millisecond})

	_, err := eng.Ingest(context.Background(), engine.Submission{
		UserID:    "user1",
		Skill:     catalog.SkillRef{ProjectID: "proj1", SkillID: "five"},
		Timestamp: t0,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrLockTimeout)
	assert.Equal(t, 0, f.log.Len())
}

func TestSnapshot_RebuiltAfterCatalogChange(t *testing.T) {
	f := newFixture(t, engine.DefaultConfig())
	ctx := context.Background()
	f.submit(t, "five", t0)

	before, view, err := f.engine.Snapshot(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, view.Version(), before.CatalogVersion)

	require.NoError(t, f.catalog.DefineSkill(ctx, catalog.Skill{
		ProjectID: "proj1", SubjectID: "subj1", ID: "extra", PointIncrement: 400, NumPerformToCompletion: 1,
	}))

	after, view, err := f.engine.Snapshot(ctx, "user1")
	require.NoError(t, err)
	assert.NotEqual(t, before.CatalogVersion, after.CatalogVersion)
	assert.Equal(t, view.Version(), after.CatalogVersion)
	project, ok := after.Project("proj1")
	require.True(t, ok)
	assert.Equal(t, 100, project.Points)
	assert.Equal(t, 500+30+10+10+400, project.TotalPoints)
}

func TestSnapshot_IgnoresSnapshotFromAnotherCatalogEpoch(t *testing.T) {
	f := newFixture(t, engine.DefaultConfig())
	ctx := context.Background()
	f.submit(t, "five", t0)

	view := f.catalog.View()
	require.NoError(t, f.cache.Put(ctx, &engine.Snapshot{
		UserID:         "user1",
		CatalogEpoch:   view.Epoch() + "-other",
		CatalogVersion: view.Version(),
	}))

	snap, _, err := f.engine.Snapshot(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, view.Epoch(), snap.CatalogEpoch)
	sk, ok := snap.Skill(catalog.SkillRef{ProjectID: "proj1", SkillID: "five"})
	require.True(t, ok)
	assert.Equal(t, 100, sk.Points)
}

func TestIngest_LevelAndBadgeAchievements(t *testing.T) {
	f := newFixture(t, engine.DefaultConfig())
	ctx := context.Background()
	key := catalog.BadgeKey{ProjectID: "proj1", BadgeID: "starter"}
	require.NoError(t, f.catalog.DefineBadge(ctx, catalog.Badge{ProjectID: "proj1", ID: "starter"}))
	require.NoError(t, f.catalog.AssignSkillToBadge(ctx, key, catalog.SkillRef{ProjectID: "proj1", SkillID: "pre"}))
	require.NoError(t, f.catalog.AssignProjectLevelToBadge(ctx, key, "proj1", 1))
	require.NoError(t, f.catalog.DefineBadge(ctx, catalog.Badge{ProjectID: "proj1", ID: "starter", Enabled: true}))

	f.submit(t, "pre", t0)
	assert.Empty(t, f.events.ofType(shared.EventBadgeAchieved))

	res := f.submit(t, "five", t0.Add(time.Hour))
	levels := f.events.ofType(shared.EventLevelAchieved)
	require.NotEmpty(t, levels)
	badges := f.events.ofType(shared.EventBadgeAchieved)
	require.Len(t, badges, 1)
	assert.Equal(t, t0.Add(time.Hour), badges[0].(shared.BadgeAchievedEvent).AchievedAt)

	require.Len(t, res.Snapshot.Badges, 1)
	assert.True(t, res.Snapshot.Badges[0].Achieved)
}
