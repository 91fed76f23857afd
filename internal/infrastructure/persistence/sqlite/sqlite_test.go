package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/skillforge/internal/domain/catalog"
	"github.com/alem-hub/skillforge/internal/domain/progress"
	"github.com/alem-hub/skillforge/internal/domain/selfreport"
	"github.com/alem-hub/skillforge/internal/domain/shared"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := Open(MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestCatalogRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewCatalogRepository(openTestDB(t))

	c := catalog.New(repo)
	require.NoError(t, c.DefineProject(ctx, catalog.Project{ID: "p", Name: "P", LevelDisplayName: "Belt",
		Levels: catalog.LevelTable{{Level: 1, MinPoints: 10}, {Level: 2, MinPoints: 20}}}))
	require.NoError(t, c.DefineSubject(ctx, catalog.Subject{ProjectID: "p", ID: "s", Name: "S"}))
	require.NoError(t, c.DefineSkill(ctx, catalog.Skill{ProjectID: "p", SubjectID: "s", ID: "a", PointIncrement: 5, NumPerformToCompletion: 2}))
	require.NoError(t, c.DefineSkill(ctx, catalog.Skill{ProjectID: "p", SubjectID: "s", ID: "b", PointIncrement: 5, NumPerformToCompletion: 2,
		SelfReportingType: catalog.SelfReportingApproval}))
	require.NoError(t, c.DefineDependency(ctx, "p", "b", "a"))
	require.NoError(t, c.DefineBadge(ctx, catalog.Badge{ID: "g", Name: "Global"}))
	require.NoError(t, c.AssignSkillToBadge(ctx, catalog.BadgeKey{BadgeID: "g"}, catalog.SkillRef{ProjectID: "p", SkillID: "b"}))
	require.NoError(t, c.AssignSkillToBadge(ctx, catalog.BadgeKey{BadgeID: "g"}, catalog.SkillRef{ProjectID: "p", SkillID: "a"}))
	require.NoError(t, c.AssignProjectLevelToBadge(ctx, catalog.BadgeKey{BadgeID: "g"}, "p", 2))

	// Повторное определение обновляет запись, а не дублирует её.
	require.NoError(t, c.DefineSkill(ctx, catalog.Skill{ProjectID: "p", SubjectID: "s", ID: "a", Name: "Renamed", PointIncrement: 5, NumPerformToCompletion: 2}))

	defs, err := repo.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, defs.Skills, 2)
	assert.Equal(t, "a", defs.Skills[0].ID)
	assert.Equal(t, "Renamed", defs.Skills[0].Name)
	assert.Equal(t, catalog.SelfReportingNone, defs.Skills[0].SelfReportingType)

	restored := catalog.New(repo)
	require.NoError(t, restored.Load(ctx))
	view := restored.View()

	p, ok := view.Project("p")
	require.True(t, ok)
	assert.Equal(t, "Belt", p.LevelDisplayName)
	assert.Equal(t, catalog.LevelTable{{Level: 1, MinPoints: 10}, {Level: 2, MinPoints: 20}}, p.Levels)

	s, ok := view.Subject("p", "s")
	require.True(t, ok)
	assert.Nil(t, s.Levels)

	assert.Equal(t, []catalog.SkillRef{{ProjectID: "p", SkillID: "a"}},
		view.PrerequisitesOf(catalog.SkillRef{ProjectID: "p", SkillID: "b"}))

	g, ok := view.Badge(catalog.BadgeKey{BadgeID: "g"})
	require.True(t, ok)
	assert.Equal(t, []catalog.SkillRef{{ProjectID: "p", SkillID: "b"}, {ProjectID: "p", SkillID: "a"}}, g.RequiredSkills)
	assert.Equal(t, []catalog.LevelRequirement{{ProjectID: "p", MinLevel: 2}}, g.RequiredLevels)
}

func TestEventLog_AppendAndList(t *testing.T) {
	ctx := context.Background()
	log := NewEventLog(openTestDB(t))
	ts := time.Date(2025, 2, 2, 10, 0, 0, 123_000_000, time.UTC)
	skill := catalog.SkillRef{ProjectID: "p", SkillID: "a"}

	for i := 0; i < 3; i++ {
		require.NoError(t, log.Append(ctx, progress.PointEvent{
			ID:         fmt.Sprintf("e%d", i),
			UserID:     "u",
			Skill:      skill,
			Timestamp:  ts.Add(time.Duration(-i) * time.Hour),
			Source:     progress.SourceDirect,
			Outcome:    progress.OutcomeAccepted,
			RecordedAt: ts,
		}))
	}
	require.NoError(t, log.Append(ctx, progress.PointEvent{
		ID: "other", UserID: "v", Skill: skill, Timestamp: ts, Source: progress.SourceDirect, Outcome: progress.OutcomeThrottled, RecordedAt: ts,
	}))

	err := log.Append(ctx, progress.PointEvent{
		ID: "dup", UserID: "u", Skill: skill, Timestamp: ts, Source: progress.SourceDirect, Outcome: progress.OutcomeAccepted, RecordedAt: ts,
	})
	assert.ErrorIs(t, err, shared.ErrAlreadyExists)

	events, err := log.ListByUser(ctx, "u")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "e0", events[0].ID)
	assert.Equal(t, ts, events[0].Timestamp)
	assert.Equal(t, ts.Add(-2*time.Hour), events[2].Timestamp)
	assert.Equal(t, progress.SourceDirect, events[0].Source)

	other, err := log.ListByUser(ctx, "v")
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Equal(t, progress.OutcomeThrottled, other[0].Outcome)

	none, err := log.ListByUser(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestEventLog_RequestIDIsUnique(t *testing.T) {
	ctx := context.Background()
	log := NewEventLog(openTestDB(t))
	ts := time.Date(2025, 2, 2, 10, 0, 0, 0, time.UTC)
	skill := catalog.SkillRef{ProjectID: "p", SkillID: "a"}
	event := func(id string, at time.Time, requestID string) progress.PointEvent {
		return progress.PointEvent{ID: id, UserID: "u", Skill: skill, Timestamp: at,
			Source: progress.SourceSelfReportApproved, Outcome: progress.OutcomeAccepted, RecordedAt: at, RequestID: requestID}
	}

	require.NoError(t, log.Append(ctx, event("e1", ts, "r1")))
	assert.ErrorIs(t, log.Append(ctx, event("e2", ts.Add(time.Minute), "r1")), shared.ErrAlreadyExists)
	require.NoError(t, log.Append(ctx, event("e3", ts.Add(2*time.Minute), "")))
	require.NoError(t, log.Append(ctx, event("e4", ts.Add(3*time.Minute), "")))

	events, err := log.ListByUser(ctx, "u")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "r1", events[0].RequestID)
	assert.Equal(t, "", events[1].RequestID)
}

func TestSelfReportRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewSelfReportRepository(openTestDB(t))
	now := time.Date(2025, 2, 2, 10, 0, 0, 0, time.UTC)
	skill := catalog.SkillRef{ProjectID: "p", SkillID: "b"}

	for i, id := range []string{"r2", "r1", "r3"} {
		req, err := selfreport.NewRequest(id, "u", skill, now.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		require.NoError(t, repo.Create(ctx, req))
	}

	dup, err := selfreport.NewRequest("r1", "u", skill, now)
	require.NoError(t, err)
	assert.ErrorIs(t, repo.Create(ctx, dup), shared.ErrAlreadyExists)

	resolved, err := repo.Resolve(ctx, "r1", selfreport.DecisionApproved, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, selfreport.StateApproved, resolved.State)
	assert.True(t, resolved.EmissionPending)
	require.NotNil(t, resolved.ResolvedAt)
	assert.Equal(t, now.Add(time.Hour), *resolved.ResolvedAt)

	_, err = repo.Resolve(ctx, "r1", selfreport.DecisionRejected, now.Add(2*time.Hour))
	assert.ErrorIs(t, err, shared.ErrAlreadyResolved)

	_, err = repo.Resolve(ctx, "missing", selfreport.DecisionRejected, now)
	assert.True(t, shared.IsNotFound(err))

	got, err := repo.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, selfreport.StateApproved, got.State)
	assert.True(t, got.EmissionPending)

	emitted, err := repo.MarkEmitted(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, emitted.EmissionPending)
	got, err = repo.Get(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, got.EmissionPending)
	_, err = repo.MarkEmitted(ctx, "r2")
	assert.ErrorIs(t, err, shared.ErrInvalidInput)

	pending, err := repo.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "r2", pending[0].ID)
	assert.Equal(t, "r3", pending[1].ID)
	assert.Nil(t, pending[0].ResolvedAt)
}

func TestSelfReportRepository_ConcurrentResolution(t *testing.T) {
	ctx := context.Background()
	repo := NewSelfReportRepository(openTestDB(t))
	now := time.Date(2025, 2, 2, 10, 0, 0, 0, time.UTC)

	req, err := selfreport.NewRequest("r", "u", catalog.SkillRef{ProjectID: "p", SkillID: "b"}, now)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, req))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Resolve(ctx, "r", selfreport.DecisionApproved, now)
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, shared.ErrAlreadyResolved)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}

func TestOpen_FileDatabase(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "skillforge.db")

	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, NewCatalogRepository(db).SaveProject(ctx, catalog.Project{ID: "p", Name: "P"}))
	require.NoError(t, db.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	defs, err := NewCatalogRepository(reopened).LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, defs.Projects, 1)
	assert.Equal(t, "P", defs.Projects[0].Name)
}

func TestDatabase_Ping(t *testing.T) {
	db := openTestDB(t)
	assert.NoError(t, db.Ping(context.Background()))
}
