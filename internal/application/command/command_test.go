package command_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/skillforge/internal/application/command"
	"github.com/alem-hub/skillforge/internal/application/engine"
	"github.com/alem-hub/skillforge/internal/domain/catalog"
	"github.com/alem-hub/skillforge/internal/domain/progress"
	"github.com/alem-hub/skillforge/internal/domain/selfreport"
	"github.com/alem-hub/skillforge/internal/domain/shared"
	"github.com/alem-hub/skillforge/internal/infrastructure/persistence/memory"
)

var (
	t0  = time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
	now = t0.Add(24 * time.Hour)
)

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

func (r *recorder) count(t shared.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.EventType() == t {
			n++
		}
	}
	return n
}

// flakyLog fails the next failures appends, then behaves like the wrapped log.
type flakyLog struct {
	*memory.EventLog
	mu       sync.Mutex
	failures int
}

var errStorageDown = errors.New("storage unavailable")

func (f *flakyLog) Append(ctx context.Context, e progress.PointEvent) error {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return errStorageDown
	}
	f.mu.Unlock()
	return f.EventLog.Append(ctx, e)
}

func (f *flakyLog) failNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = n
}

type harness struct {
	engine   *engine.Engine
	log      *memory.EventLog
	flaky    *flakyLog
	requests *memory.SelfReportRepository
	events   *recorder
	catalog  *command.CatalogHandler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		log:      memory.NewEventLog(),
		requests: memory.NewSelfReportRepository(),
		events:   &recorder{},
	}
	h.flaky = &flakyLog{EventLog: h.log}
	h.engine = engine.New(catalog.New(nil), h.flaky, nil, memory.NewKeyedLocker(), h.events, nil,
		engine.DefaultConfig(), engine.WithClock(func() time.Time { return now }))
	h.catalog = command.NewCatalogHandler(h.engine, nil)

	ctx := context.Background()
	_, err := h.catalog.DefineProject(ctx, command.DefineProjectCommand{ProjectID: "p1", Name: "Onboarding"})
	require.NoError(t, err)
	_, err = h.catalog.DefineSubject(ctx, command.DefineSubjectCommand{ProjectID: "p1", SubjectID: "s1"})
	require.NoError(t, err)

	skills := []command.DefineSkillCommand{
		{SkillID: "direct", PointIncrement: 10, NumPerformToCompletion: 2},
		{SkillID: "honor", PointIncrement: 10, NumPerformToCompletion: 1, SelfReportingType: catalog.SelfReportingHonorSystem},
		{SkillID: "approve", PointIncrement: 10, NumPerformToCompletion: 1, SelfReportingType: catalog.SelfReportingApproval},
		{SkillID: "gated", PointIncrement: 10, NumPerformToCompletion: 1, SelfReportingType: catalog.SelfReportingApproval},
	}
	for _, s := range skills {
		s.ProjectID, s.SubjectID = "p1", "s1"
		_, err := h.catalog.DefineSkill(ctx, s)
		require.NoError(t, err)
	}
	_, err = h.catalog.DefineDependency(ctx, command.DefineDependencyCommand{
		ProjectID: "p1", DependentSkillID: "gated", PrerequisiteSkillID: "direct",
	})
	require.NoError(t, err)
	return h
}

func (h *harness) logged(t *testing.T, userID string) []progress.PointEvent {
	t.Helper()
	events, err := h.log.ListByUser(context.Background(), userID)
	require.NoError(t, err)
	return events
}

// ══════════════════════════════════════════════════════════════════════════════
// SUBMIT POINT EVENT
// ══════════════════════════════════════════════════════════════════════════════

func TestSubmitPointEvent_AcceptsAndDeduplicates(t *testing.T) {
	h := newHarness(t)
	handler := command.NewSubmitPointEventHandler(h.engine)
	cmd := command.SubmitPointEventCommand{ProjectID: "p1", SkillID: "direct", UserID: "u1", Timestamp: t0}

	res, err := handler.Handle(context.Background(), cmd)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.True(t, res.Counted)
	assert.False(t, res.Duplicate)
	assert.NotEmpty(t, res.EventID)
	assert.Equal(t, 10, res.Progress.Points)
	assert.Equal(t, 50, res.Progress.Percent)

	cmd.Timestamp = t0.Add(300 * time.Microsecond)
	again, err := handler.Handle(context.Background(), cmd)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, res.EventID, again.EventID)
	assert.Len(t, h.logged(t, "u1"), 1)
}

func TestSubmitPointEvent_Validation(t *testing.T) {
	h := newHarness(t)
	handler := command.NewSubmitPointEventHandler(h.engine)

	_, err := handler.Handle(context.Background(), command.SubmitPointEventCommand{ProjectID: "p1", UserID: "u1"})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)

	_, err = handler.Handle(context.Background(), command.SubmitPointEventCommand{ProjectID: "p1", SkillID: "nope", UserID: "u1"})
	assert.ErrorIs(t, err, shared.ErrUnknownSkill)

	_, err = handler.Handle(context.Background(), command.SubmitPointEventCommand{ProjectID: "p1", SkillID: "direct"})
	assert.ErrorIs(t, err, shared.ErrUnknownUser)
}

// ══════════════════════════════════════════════════════════════════════════════
// SELF REPORTS
// ══════════════════════════════════════════════════════════════════════════════

func TestSubmitSelfReport_ByReportingType(t *testing.T) {
	h := newHarness(t)
	submit := command.NewSubmitSelfReportHandler(h.engine, h.requests, nil)
	ctx := context.Background()

	t.Run("honor system ingests immediately", func(t *testing.T) {
		res, err := submit.Handle(ctx, command.SubmitSelfReportCommand{ProjectID: "p1", SkillID: "honor", UserID: "u1", Timestamp: t0})
		require.NoError(t, err)
		assert.False(t, res.Pending())
		require.NotNil(t, res.Ingestion)
		assert.True(t, res.Ingestion.Counted)

		logged := h.logged(t, "u1")
		require.Len(t, logged, 1)
		assert.Equal(t, progress.SourceSelfReportHonor, logged[0].Source)
	})

	t.Run("none is refused", func(t *testing.T) {
		_, err := submit.Handle(ctx, command.SubmitSelfReportCommand{ProjectID: "p1", SkillID: "direct", UserID: "u1"})
		assert.ErrorIs(t, err, shared.ErrSelfReportNotAllowed)
	})

	t.Run("approval waits for a reviewer", func(t *testing.T) {
		res, err := submit.Handle(ctx, command.SubmitSelfReportCommand{ProjectID: "p1", SkillID: "approve", UserID: "u2"})
		require.NoError(t, err)
		require.True(t, res.Pending())
		assert.Equal(t, selfreport.StatePending, res.Request.State)
		assert.Equal(t, now, res.Request.RequestedAt)
		assert.Empty(t, h.logged(t, "u2"))
		assert.Equal(t, 1, h.events.count(shared.EventSelfReportSubmitted))
	})
}

func TestResolveSelfReport_ApproveIngestsOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	submit := command.NewSubmitSelfReportHandler(h.engine, h.requests, nil)
	resolve := command.NewResolveSelfReportHandler(h.engine, h.requests, nil)

	pending, err := submit.Handle(ctx, command.SubmitSelfReportCommand{ProjectID: "p1", SkillID: "approve", UserID: "u1", Timestamp: t0})
	require.NoError(t, err)

	res, err := resolve.Handle(ctx, command.ResolveSelfReportCommand{RequestID: pending.Request.ID, Decision: selfreport.DecisionApproved})
	require.NoError(t, err)
	assert.Equal(t, selfreport.StateApproved, res.Request.State)
	assert.False(t, res.Request.EmissionPending)
	require.NotNil(t, res.Ingestion)
	assert.NoError(t, res.IngestionErr)
	assert.True(t, res.Ingestion.Counted)
	assert.True(t, res.Ingestion.Progress.Complete)

	logged := h.logged(t, "u1")
	require.Len(t, logged, 1)
	assert.Equal(t, progress.SourceSelfReportApproved, logged[0].Source)
	assert.Equal(t, now, logged[0].Timestamp)

	_, err = resolve.Handle(ctx, command.ResolveSelfReportCommand{RequestID: pending.Request.ID, Decision: selfreport.DecisionRejected})
	assert.ErrorIs(t, err, shared.ErrAlreadyResolved)
	_, err = resolve.Handle(ctx, command.ResolveSelfReportCommand{RequestID: pending.Request.ID, Decision: selfreport.DecisionApproved})
	assert.ErrorIs(t, err, shared.ErrAlreadyResolved)
	assert.Len(t, h.logged(t, "u1"), 1)
	assert.Equal(t, 1, h.events.count(shared.EventSelfReportResolved))
}

func TestResolveSelfReport_FailedEmissionIsRedriven(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	submit := command.NewSubmitSelfReportHandler(h.engine, h.requests, nil)
	resolve := command.NewResolveSelfReportHandler(h.engine, h.requests, nil)
	approve := func(id string) (*command.ResolveSelfReportResult, error) {
		return resolve.Handle(ctx, command.ResolveSelfReportCommand{RequestID: id, Decision: selfreport.DecisionApproved})
	}

	pending, err := submit.Handle(ctx, command.SubmitSelfReportCommand{ProjectID: "p1", SkillID: "approve", UserID: "u1"})
	require.NoError(t, err)
	id := pending.Request.ID

	h.flaky.failNext(1)
	_, err = approve(id)
	require.ErrorIs(t, err, errStorageDown)
	assert.Empty(t, h.logged(t, "u1"))

	stored, err := h.requests.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, selfreport.StateApproved, stored.State)
	assert.True(t, stored.EmissionPending)

	_, err = resolve.Handle(ctx, command.ResolveSelfReportCommand{RequestID: id, Decision: selfreport.DecisionRejected})
	assert.ErrorIs(t, err, shared.ErrAlreadyResolved)

	res, err := approve(id)
	require.NoError(t, err)
	assert.False(t, res.Request.EmissionPending)
	require.NotNil(t, res.Ingestion)
	assert.True(t, res.Ingestion.Progress.Complete)

	logged := h.logged(t, "u1")
	require.Len(t, logged, 1)
	assert.Equal(t, id, logged[0].RequestID)
	assert.Equal(t, *stored.ResolvedAt, logged[0].Timestamp)

	_, err = approve(id)
	assert.ErrorIs(t, err, shared.ErrAlreadyResolved)
	assert.Len(t, h.logged(t, "u1"), 1)
	assert.Equal(t, 1, h.events.count(shared.EventSelfReportResolved))
}

func TestResolveSelfReport_SameMillisecondApprovalsBothCount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.catalog.DefineSkill(ctx, command.DefineSkillCommand{
		ProjectID: "p1", SubjectID: "s1", SkillID: "twice",
		PointIncrement: 10, NumPerformToCompletion: 2, SelfReportingType: catalog.SelfReportingApproval,
	})
	require.NoError(t, err)
	submit := command.NewSubmitSelfReportHandler(h.engine, h.requests, nil)
	resolve := command.NewResolveSelfReportHandler(h.engine, h.requests, nil)

	var results []*command.ResolveSelfReportResult
	for i := 0; i < 2; i++ {
		pending, err := submit.Handle(ctx, command.SubmitSelfReportCommand{ProjectID: "p1", SkillID: "twice", UserID: "u1"})
		require.NoError(t, err)
		res, err := resolve.Handle(ctx, command.ResolveSelfReportCommand{RequestID: pending.Request.ID, Decision: selfreport.DecisionApproved})
		require.NoError(t, err)
		require.NotNil(t, res.Ingestion)
		results = append(results, res)
	}

	assert.False(t, results[1].Ingestion.Duplicate)
	assert.True(t, results[1].Ingestion.Counted)
	assert.Equal(t, 20, results[1].Ingestion.Progress.Points)
	assert.True(t, results[1].Ingestion.Progress.Complete)

	logged := h.logged(t, "u1")
	require.Len(t, logged, 2)
	assert.Equal(t, now, logged[0].Timestamp)
	assert.Equal(t, now.Add(time.Millisecond), logged[1].Timestamp)
}

func TestResolveSelfReport_RejectLeavesProgress(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	submit := command.NewSubmitSelfReportHandler(h.engine, h.requests, nil)
	resolve := command.NewResolveSelfReportHandler(h.engine, h.requests, nil)

	pending, err := submit.Handle(ctx, command.SubmitSelfReportCommand{ProjectID: "p1", SkillID: "approve", UserID: "u1"})
	require.NoError(t, err)

	res, err := resolve.Handle(ctx, command.ResolveSelfReportCommand{RequestID: pending.Request.ID, Decision: selfreport.DecisionRejected})
	require.NoError(t, err)
	assert.Equal(t, selfreport.StateRejected, res.Request.State)
	assert.Nil(t, res.Ingestion)
	assert.Empty(t, h.logged(t, "u1"))

	_, err = resolve.Handle(ctx, command.ResolveSelfReportCommand{RequestID: "missing", Decision: selfreport.DecisionApproved})
	assert.True(t, shared.IsNotFound(err))

	_, err = resolve.Handle(ctx, command.ResolveSelfReportCommand{RequestID: pending.Request.ID, Decision: "Maybe"})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestResolveSelfReport_LockedSkillStaysApproved(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	submit := command.NewSubmitSelfReportHandler(h.engine, h.requests, nil)
	resolve := command.NewResolveSelfReportHandler(h.engine, h.requests, nil)

	pending, err := submit.Handle(ctx, command.SubmitSelfReportCommand{ProjectID: "p1", SkillID: "gated", UserID: "u1"})
	require.NoError(t, err)

	res, err := resolve.Handle(ctx, command.ResolveSelfReportCommand{RequestID: pending.Request.ID, Decision: selfreport.DecisionApproved})
	require.NoError(t, err)
	assert.Equal(t, selfreport.StateApproved, res.Request.State)
	assert.Nil(t, res.Ingestion)
	assert.ErrorIs(t, res.IngestionErr, shared.ErrSkillLocked)
	assert.False(t, res.Request.EmissionPending)
	assert.Empty(t, h.logged(t, "u1"))

	_, err = resolve.Handle(ctx, command.ResolveSelfReportCommand{RequestID: pending.Request.ID, Decision: selfreport.DecisionApproved})
	assert.ErrorIs(t, err, shared.ErrAlreadyResolved)
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG
// ══════════════════════════════════════════════════════════════════════════════

func TestCatalogHandler_SanitizesNamesAndKeepsLevels(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	before := h.engine.Catalog().View().Version()

	_, err := h.catalog.SetLevels(ctx, command.SetLevelsCommand{
		ProjectID: "p1",
		Levels:    catalog.LevelTable{{Level: 1, MinPoints: 20}},
	})
	require.NoError(t, err)

	res, err := h.catalog.DefineProject(ctx, command.DefineProjectCommand{
		ProjectID: "p1",
		Name:      `<script>x()</script><b>Intro</b> & more`,
	})
	require.NoError(t, err)
	assert.Greater(t, res.Version, before)

	p, ok := h.engine.Catalog().View().Project("p1")
	require.True(t, ok)
	assert.Equal(t, "Intro & more", p.Name)
	assert.Len(t, p.Levels, 1)
	assert.GreaterOrEqual(t, h.events.count(shared.EventCatalogChanged), 2)
}

func TestCatalogHandler_RejectsInvalidDefinitions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	version := h.engine.Catalog().View().Version()

	_, err := h.catalog.DefineDependency(ctx, command.DefineDependencyCommand{
		ProjectID: "p1", DependentSkillID: "direct", PrerequisiteSkillID: "gated",
	})
	assert.ErrorIs(t, err, shared.ErrCycleDetected)

	_, err = h.catalog.DefineSkill(ctx, command.DefineSkillCommand{
		ProjectID: "p1", SubjectID: "s1", SkillID: "broken", PointIncrement: -1, NumPerformToCompletion: 1,
	})
	assert.True(t, shared.IsConfig(err))

	_, err = h.catalog.SetLevels(ctx, command.SetLevelsCommand{
		ProjectID: "p1",
		Levels:    catalog.LevelTable{{Level: 1, MinPoints: 50}, {Level: 2, MinPoints: 10}},
	})
	assert.True(t, shared.IsConfig(err))

	assert.Equal(t, version, h.engine.Catalog().View().Version())
}

func TestCatalogHandler_BadgeLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.catalog.DefineBadge(ctx, command.DefineBadgeCommand{ProjectID: "p1", BadgeID: "starter", Name: "Starter", Enabled: true})
	assert.True(t, shared.IsConfig(err), "enabled badge without requirements")

	_, err = h.catalog.DefineBadge(ctx, command.DefineBadgeCommand{ProjectID: "p1", BadgeID: "starter", Name: "Starter"})
	require.NoError(t, err)
	_, err = h.catalog.AssignSkillToBadge(ctx, command.AssignSkillToBadgeCommand{
		BadgeProjectID: "p1", BadgeID: "starter", ProjectID: "p1", SkillID: "direct",
	})
	require.NoError(t, err)
	_, err = h.catalog.DefineBadge(ctx, command.DefineBadgeCommand{ProjectID: "p1", BadgeID: "starter", Name: "Starter", Enabled: true})
	require.NoError(t, err)

	_, err = h.catalog.AssignSkillToBadge(ctx, command.AssignSkillToBadgeCommand{
		BadgeProjectID: "p1", BadgeID: "ghost", ProjectID: "p1", SkillID: "direct",
	})
	assert.ErrorIs(t, err, shared.ErrUnknownBadge)

	b, ok := h.engine.Catalog().View().Badge(catalog.BadgeKey{ProjectID: "p1", BadgeID: "starter"})
	require.True(t, ok)
	assert.True(t, b.Enabled)
	assert.Equal(t, []catalog.SkillRef{{ProjectID: "p1", SkillID: "direct"}}, b.RequiredSkills)
}
