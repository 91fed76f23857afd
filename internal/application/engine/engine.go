// Package engine runs the point ingestion pipeline and maintains the per-user
// derived state (skills, subjects, projects, levels, badges) as one snapshot.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/alem-hub/skillforge/internal/domain/badge"
	"github.com/alem-hub/skillforge/internal/domain/catalog"
	"github.com/alem-hub/skillforge/internal/domain/progress"
	"github.com/alem-hub/skillforge/internal/domain/shared"
	"github.com/alem-hub/skillforge/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONTRACTS
// ══════════════════════════════════════════════════════════════════════════════

// Locker serializes work per key. The returned func releases the lock.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Policy controls what the engine keeps in the log.
type Policy struct {
	// RetainThrottled stores throttled events for audit. They never count.
	RetainThrottled bool
}

// Config contains engine configuration.
type Config struct {
	Policy      Policy
	LockTimeout time.Duration
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Policy:      Policy{RetainThrottled: true},
		LockTimeout: 5 * time.Second,
	}
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator overrides event id generation.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) { e.newID = gen }
}

// WithTracer overrides the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// ══════════════════════════════════════════════════════════════════════════════
// ENGINE
// ══════════════════════════════════════════════════════════════════════════════

// Engine is the single writer of point events.
type Engine struct {
	catalog   *catalog.Catalog
	events    progress.EventLog
	cache     SnapshotCache
	locker    Locker
	publisher shared.EventPublisher
	log       *logger.Logger
	cfg       Config

	now    func() time.Time
	newID  func() string
	tracer trace.Tracer
	group  singleflight.Group
}

// New creates an Engine. cache, publisher and log may be nil.
func New(
	cat *catalog.Catalog,
	events progress.EventLog,
	cache SnapshotCache,
	locker Locker,
	publisher shared.EventPublisher,
	log *logger.Logger,
	cfg Config,
	opts ...Option,
) *Engine {
	if locker == nil {
		panic("engine: nil locker")
	}
	if cache == nil {
		cache = noCache{}
	}
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	if log == nil {
		log = logger.Nop()
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultConfig().LockTimeout
	}

	e := &Engine{
		catalog:   cat,
		events:    events,
		cache:     cache,
		locker:    locker,
		publisher: publisher,
		log:       log.With(logger.Component("engine")),
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     func() string { return uuid.NewString() },
		tracer:    otel.Tracer("github.com/alem-hub/skillforge/engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Catalog returns the catalog the engine evaluates against.
func (e *Engine) Catalog() *catalog.Catalog {
	return e.catalog
}

// Now returns the engine clock reading.
func (e *Engine) Now() time.Time {
	return e.now()
}

// NewID returns a fresh identifier from the engine generator.
func (e *Engine) NewID() string {
	return e.newID()
}

// Publish sends events to the configured publisher and logs failures.
func (e *Engine) Publish(events ...shared.Event) {
	for _, ev := range events {
		if err := e.publisher.Publish(ev); err != nil {
			e.log.Error("failed to publish event",
				logger.String("event_type", string(ev.EventType())),
				logger.Err(err),
			)
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Ingestion
// ─────────────────────────────────────────────────────────────────────────────

// Submission is one point event offered to the engine.
type Submission struct {
	UserID    string
	Skill     catalog.SkillRef
	Timestamp time.Time
	Source    progress.Source

	// RequestID identifies an approved self report. Such events are deduplicated
	// by request and moved forward to the next free millisecond of the skill.
	RequestID string
}

// IngestResult describes what happened to a submission.
type IngestResult struct {
	Event     progress.PointEvent
	Outcome   progress.Outcome
	Duplicate bool
	Counted   bool
	Skill     SkillState
	Snapshot  *Snapshot
	Events    []shared.Event
}

// Accepted reports whether the event was admitted by the throttle.
func (r *IngestResult) Accepted() bool {
	return r.Outcome == progress.OutcomeAccepted
}

// Reason returns a short machine-readable explanation for a non-accepted outcome.
func (r *IngestResult) Reason() string {
	if r.Accepted() {
		return ""
	}
	return string(r.Outcome)
}

// Ingest validates a submission, applies the throttle and the dependency gate,
// appends the event and recomputes the user's snapshot, all under the user lock.
//
// Unknown skills and users, and locked skills, are returned as errors and leave
// no trace in the log. Throttled events are a successful call with a Throttled
// outcome. Resubmitting the same (user, skill, timestamp) returns the original outcome.
func (e *Engine) Ingest(ctx context.Context, sub Submission) (*IngestResult, error) {
	res, err := e.traced(ctx, sub, func(ctx context.Context, sub Submission, log *logger.Logger) (*IngestResult, error) {
		unlock, err := e.lock(ctx, sub.UserID)
		if err != nil {
			return nil, err
		}
		defer unlock()
		return e.ingestLocked(ctx, sub, log)
	})
	if err != nil {
		return nil, err
	}
	e.Publish(res.Events...)
	return res, nil
}

// UserSession is handed to WithUser callbacks while the user's lock is held.
type UserSession struct {
	engine *Engine
	userID string
	events []shared.Event
}

// UserID returns the locked user.
func (u *UserSession) UserID() string {
	return u.userID
}

// Ingest behaves like Engine.Ingest for the locked user without taking the lock
// again. Engine events are published once WithUser releases the lock.
func (u *UserSession) Ingest(ctx context.Context, sub Submission) (*IngestResult, error) {
	if uid, _ := shared.NewUserID(sub.UserID); uid.String() != u.userID {
		return nil, shared.NewDomainError("engine", "Ingest", shared.ErrInvalidInput,
			fmt.Sprintf("session is bound to user %s", u.userID))
	}
	res, err := u.engine.traced(ctx, sub, u.engine.ingestLocked)
	if err != nil {
		return nil, err
	}
	u.events = append(u.events, res.Events...)
	return res, nil
}

// WithUser runs fn while holding the user's lock, so state kept outside the
// event log can change together with the events fn ingests.
func (e *Engine) WithUser(ctx context.Context, userID string, fn func(ctx context.Context, u *UserSession) error) error {
	uid, err := shared.NewUserID(userID)
	if err != nil {
		return err
	}
	unlock, err := e.lock(ctx, uid.String())
	if err != nil {
		return err
	}
	u := &UserSession{engine: e, userID: uid.String()}
	err = fn(ctx, u)
	unlock()
	e.Publish(u.events...)
	return err
}

type ingestFunc func(ctx context.Context, sub Submission, log *logger.Logger) (*IngestResult, error)

// traced normalizes the submission and runs ingest inside an engine.Ingest span.
func (e *Engine) traced(ctx context.Context, sub Submission, ingest ingestFunc) (*IngestResult, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Ingest", trace.WithAttributes(
		attribute.String("user.id", sub.UserID),
		attribute.String("skill.ref", sub.Skill.String()),
		attribute.String("source", string(sub.Source)),
	))
	defer span.End()

	res, err := e.prepare(sub, ingest)(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("outcome", string(res.Outcome)), attribute.Bool("duplicate", res.Duplicate))
	return res, nil
}

func (e *Engine) prepare(sub Submission, ingest ingestFunc) func(context.Context) (*IngestResult, error) {
	return func(ctx context.Context) (*IngestResult, error) {
		log := e.log.With(logger.UserID(sub.UserID), logger.ProjectID(sub.Skill.ProjectID), logger.SkillID(sub.Skill.SkillID))

		userID, err := shared.NewUserID(sub.UserID)
		if err != nil {
			log.Warn("point event rejected", logger.Outcome("UnknownUser"))
			return nil, err
		}
		sub.UserID = userID.String()
		if sub.Source == "" {
			sub.Source = progress.SourceDirect
		}
		if !sub.Source.IsValid() {
			return nil, shared.NewDomainError("engine", "Ingest", shared.ErrInvalidInput,
				fmt.Sprintf("unknown event source %q", sub.Source))
		}
		if sub.Timestamp.IsZero() {
			sub.Timestamp = e.now()
		}
		sub.Timestamp = shared.EventTime(sub.Timestamp)

		if _, ok := e.catalog.View().Skill(sub.Skill); !ok {
			log.Warn("point event rejected", logger.Outcome("UnknownSkill"))
			return nil, shared.NewDomainError("engine", "Ingest", shared.ErrUnknownSkill,
				fmt.Sprintf("skill %s not found", sub.Skill))
		}
		return ingest(ctx, sub, log)
	}
}

// ingestLocked runs with the user's lock held and sub already normalized.
func (e *Engine) ingestLocked(ctx context.Context, sub Submission, log *logger.Logger) (*IngestResult, error) {
	// Catalog may have changed while waiting for the lock.
	view := e.catalog.View()
	skill, ok := view.Skill(sub.Skill)
	if !ok {
		log.Warn("point event rejected", logger.Outcome("UnknownSkill"))
		return nil, shared.NewDomainError("engine", "Ingest", shared.ErrUnknownSkill,
			fmt.Sprintf("skill %s not found", sub.Skill))
	}

	events, err := e.events.ListByUser(ctx, sub.UserID)
	if err != nil {
		return nil, fmt.Errorf("engine: failed to load event log: %w", err)
	}

	before := progress.Compute(view, sub.UserID, events)

	duplicate := func(prior progress.PointEvent) *IngestResult {
		snap := e.store(ctx, view, before, len(events))
		skillState, _ := snap.Skill(prior.Skill)
		log.Debug("duplicate point event", logger.Outcome(string(prior.Outcome)))
		return &IngestResult{
			Event:     prior,
			Outcome:   prior.Outcome,
			Duplicate: true,
			Skill:     skillState,
			Snapshot:  snap,
		}
	}

	ts := sub.Timestamp
	if sub.RequestID != "" {
		if prior, dup := progress.FindByRequest(events, sub.RequestID); dup {
			return duplicate(prior), nil
		}
		ts = progress.FreeTimestamp(events, sub.Skill, ts)
	} else if prior, dup := progress.FindOccurrence(events, sub.Skill, ts); dup {
		return duplicate(prior), nil
	}

	if sp := before.Skill(sub.Skill); sp == nil || !sp.Unlocked {
		unmet := view.UnmetPrerequisites(sub.Skill, before.SkillComplete)
		log.Warn("point event rejected",
			logger.Outcome("SkillLocked"),
			logger.Int("unmet_prerequisites", len(unmet)),
		)
		e.Publish(shared.NewPointRejectedEvent(sub.UserID, sub.Skill.ProjectID, sub.Skill.SkillID, "SkillLocked", ts))
		return nil, shared.NewDomainError("engine", "Ingest", shared.ErrSkillLocked,
			fmt.Sprintf("skill %s is locked: %d prerequisite(s) not complete", sub.Skill, len(unmet)))
	}

	decision := progress.Admit(skill, ts, progress.ForSkill(events, sub.Skill))
	ev := progress.PointEvent{
		ID:         e.newID(),
		UserID:     sub.UserID,
		Skill:      sub.Skill,
		Timestamp:  ts,
		Source:     sub.Source,
		Outcome:    progress.OutcomeAccepted,
		RecordedAt: e.now(),
		RequestID:  sub.RequestID,
	}
	if !decision.Admit {
		ev.Outcome = progress.OutcomeThrottled
	}

	// An approved self report is always logged so a retry finds it by request id.
	if decision.Admit || e.cfg.Policy.RetainThrottled || sub.RequestID != "" {
		if err := e.events.Append(ctx, ev); err != nil {
			return nil, fmt.Errorf("engine: failed to append event: %w", err)
		}
		events = append(events, ev)
	}

	after := progress.Compute(view, sub.UserID, events)
	snap := e.store(ctx, view, after, len(events))
	skillState, _ := snap.Skill(sub.Skill)

	res := &IngestResult{
		Event:    ev,
		Outcome:  ev.Outcome,
		Counted:  after.Skill(sub.Skill).Counted > before.Skill(sub.Skill).Counted,
		Skill:    skillState,
		Snapshot: snap,
	}
	res.Events = append(res.Events, shared.NewPointRecordedEvent(
		ev.ID, ev.UserID, ev.Skill.ProjectID, ev.Skill.SkillID, string(ev.Source), string(ev.Outcome), ev.Timestamp))

	if !decision.Admit {
		log.Info("point event throttled",
			logger.Int("window_count", decision.WindowCount),
			logger.String("reason", decision.Reason),
		)
		return res, nil
	}

	achieved := Achievements(sub.UserID, before, after, badge.EvaluateAll(view, before), snap.Badges)
	for _, a := range achieved {
		log.Info("achievement unlocked",
			logger.String("event_type", string(a.EventType())),
			logger.String("aggregate_id", a.AggregateID()),
		)
	}
	res.Events = append(res.Events, achieved...)
	return res, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Read side
// ─────────────────────────────────────────────────────────────────────────────

// Snapshot returns the user's derived state together with the catalog view it
// was computed against. A cached snapshot built for another catalog version, or
// by another process, is rebuilt from the log.
func (e *Engine) Snapshot(ctx context.Context, userID string) (*Snapshot, *catalog.View, error) {
	uid, err := shared.NewUserID(userID)
	if err != nil {
		return nil, nil, err
	}

	view := e.catalog.View()
	cached, err := e.cache.Get(ctx, uid.String())
	if err != nil {
		e.log.Warn("snapshot cache read failed", logger.UserID(uid.String()), logger.Err(err))
	}
	if cached != nil && view.Same(cached.CatalogEpoch, cached.CatalogVersion) {
		return cached, view, nil
	}

	type rebuilt struct {
		snap *Snapshot
		view *catalog.View
	}
	v, err, _ := e.group.Do(uid.String(), func() (interface{}, error) {
		snap, view, err := e.rebuild(ctx, uid.String())
		if err != nil {
			return nil, err
		}
		return rebuilt{snap: snap, view: view}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	r := v.(rebuilt)
	return r.snap, r.view, nil
}

// Rebuild recomputes the user's snapshot from the log and replaces the cached copy.
func (e *Engine) Rebuild(ctx context.Context, userID string) (*Snapshot, error) {
	uid, err := shared.NewUserID(userID)
	if err != nil {
		return nil, err
	}
	snap, _, err := e.rebuild(ctx, uid.String())
	return snap, err
}

func (e *Engine) rebuild(ctx context.Context, userID string) (*Snapshot, *catalog.View, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Rebuild", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	unlock, err := e.lock(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	view := e.catalog.View()
	events, err := e.events.ListByUser(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("engine: failed to load event log: %w", err)
	}
	st := progress.Compute(view, userID, events)
	return e.store(ctx, view, st, len(events)), view, nil
}

// History returns the user's accepted events and throttled audit entries for a project.
func (e *Engine) History(ctx context.Context, userID, projectID string) ([]progress.PointEvent, error) {
	uid, err := shared.NewUserID(userID)
	if err != nil {
		return nil, err
	}
	events, err := e.events.ListByUser(ctx, uid.String())
	if err != nil {
		return nil, fmt.Errorf("engine: failed to load event log: %w", err)
	}
	var out []progress.PointEvent
	for _, ev := range events {
		if projectID == "" || ev.Skill.ProjectID == projectID {
			out = append(out, ev)
		}
	}
	progress.SortByTimestamp(out)
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func (e *Engine) lock(ctx context.Context, userID string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, e.cfg.LockTimeout)
	defer cancel()

	unlock, err := e.locker.Lock(lockCtx, "user:"+userID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, shared.WrapError("engine", "Lock", shared.ErrLockTimeout,
				fmt.Sprintf("user %s is busy", userID), err)
		}
		return nil, fmt.Errorf("engine: failed to acquire user lock: %w", err)
	}
	return unlock, nil
}

// store builds the snapshot and writes it to the cache. Cache failures are logged,
// the log stays authoritative.
func (e *Engine) store(ctx context.Context, view *catalog.View, st *progress.UserState, logSize int) *Snapshot {
	snap := Build(view, st, logSize, e.now())
	if err := e.cache.Put(ctx, snap); err != nil {
		e.log.Warn("snapshot cache write failed", logger.UserID(st.UserID), logger.Err(err))
	}
	return snap
}

type noCache struct{}

func (noCache) Get(context.Context, string) (*Snapshot, error) { return nil, nil }
func (noCache) Put(context.Context, *Snapshot) error           { return nil }
func (noCache) Invalidate(context.Context, string) error       { return nil }
