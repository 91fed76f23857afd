// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Each event represents something significant that happened in the engine.
const (
	// Ingestion events
	EventPointRecorded EventType = "progress.point_recorded"
	EventPointRejected EventType = "progress.point_rejected"

	// Achievement events
	EventSkillAchieved EventType = "achievement.skill"
	EventLevelAchieved EventType = "achievement.level"
	EventBadgeAchieved EventType = "achievement.badge"

	// Self-report events
	EventSelfReportSubmitted EventType = "selfreport.submitted"
	EventSelfReportResolved  EventType = "selfreport.resolved"

	// Catalog events
	EventCatalogChanged EventType = "catalog.changed"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Ingestion Events
// ═══════════════════════════════════════════════════════════════════════════

// PointRecordedEvent is emitted when a point event is appended to the log,
// whether it was counted or throttled.
type PointRecordedEvent struct {
	BaseEvent
	EventID   string    `json:"event_id"`
	UserID    string    `json:"user_id"`
	ProjectID string    `json:"project_id"`
	SkillID   string    `json:"skill_id"`
	Source    string    `json:"source"`
	Outcome   string    `json:"outcome"`
	PerformAt time.Time `json:"perform_at"`
}

// Payload implements Event interface.
func (e PointRecordedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"event_id":   e.EventID,
		"user_id":    e.UserID,
		"project_id": e.ProjectID,
		"skill_id":   e.SkillID,
		"source":     e.Source,
		"outcome":    e.Outcome,
		"perform_at": e.PerformAt.Format(time.RFC3339Nano),
	}
}

// NewPointRecordedEvent creates a new PointRecordedEvent.
func NewPointRecordedEvent(eventID, userID, projectID, skillID, source, outcome string, performAt time.Time) PointRecordedEvent {
	return PointRecordedEvent{
		BaseEvent: NewBaseEvent(EventPointRecorded, userID),
		EventID:   eventID,
		UserID:    userID,
		ProjectID: projectID,
		SkillID:   skillID,
		Source:    source,
		Outcome:   outcome,
		PerformAt: performAt,
	}
}

// PointRejectedEvent is emitted when ingestion refuses an event without recording it.
type PointRejectedEvent struct {
	BaseEvent
	UserID    string    `json:"user_id"`
	ProjectID string    `json:"project_id"`
	SkillID   string    `json:"skill_id"`
	Reason    string    `json:"reason"`
	PerformAt time.Time `json:"perform_at"`
}

// Payload implements Event interface.
func (e PointRejectedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":    e.UserID,
		"project_id": e.ProjectID,
		"skill_id":   e.SkillID,
		"reason":     e.Reason,
		"perform_at": e.PerformAt.Format(time.RFC3339Nano),
	}
}

// NewPointRejectedEvent creates a new PointRejectedEvent.
func NewPointRejectedEvent(userID, projectID, skillID, reason string, performAt time.Time) PointRejectedEvent {
	return PointRejectedEvent{
		BaseEvent: NewBaseEvent(EventPointRejected, userID),
		UserID:    userID,
		ProjectID: projectID,
		SkillID:   skillID,
		Reason:    reason,
		PerformAt: performAt,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Achievement Events
// ═══════════════════════════════════════════════════════════════════════════

// SkillAchievedEvent is emitted the first time a skill reaches 100% for a user.
type SkillAchievedEvent struct {
	BaseEvent
	UserID     string    `json:"user_id"`
	ProjectID  string    `json:"project_id"`
	SkillID    string    `json:"skill_id"`
	AchievedAt time.Time `json:"achieved_at"`
}

// Payload implements Event interface.
func (e SkillAchievedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":     e.UserID,
		"project_id":  e.ProjectID,
		"skill_id":    e.SkillID,
		"achieved_at": e.AchievedAt.Format(time.RFC3339Nano),
	}
}

// NewSkillAchievedEvent creates a new SkillAchievedEvent.
func NewSkillAchievedEvent(userID, projectID, skillID string, achievedAt time.Time) SkillAchievedEvent {
	return SkillAchievedEvent{
		BaseEvent:  NewBaseEvent(EventSkillAchieved, userID),
		UserID:     userID,
		ProjectID:  projectID,
		SkillID:    skillID,
		AchievedAt: achievedAt,
	}
}

// LevelAchievedEvent is emitted when a user's project or subject level increases.
type LevelAchievedEvent struct {
	BaseEvent
	UserID     string    `json:"user_id"`
	ProjectID  string    `json:"project_id"`
	SubjectID  string    `json:"subject_id,omitempty"` // empty for project levels
	OldLevel   int       `json:"old_level"`
	NewLevel   int       `json:"new_level"`
	AchievedAt time.Time `json:"achieved_at"`
}

// Payload implements Event interface.
func (e LevelAchievedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":     e.UserID,
		"project_id":  e.ProjectID,
		"subject_id":  e.SubjectID,
		"old_level":   e.OldLevel,
		"new_level":   e.NewLevel,
		"achieved_at": e.AchievedAt.Format(time.RFC3339Nano),
	}
}

// NewLevelAchievedEvent creates a new LevelAchievedEvent.
func NewLevelAchievedEvent(userID, projectID, subjectID string, oldLevel, newLevel int, achievedAt time.Time) LevelAchievedEvent {
	return LevelAchievedEvent{
		BaseEvent:  NewBaseEvent(EventLevelAchieved, userID),
		UserID:     userID,
		ProjectID:  projectID,
		SubjectID:  subjectID,
		OldLevel:   oldLevel,
		NewLevel:   newLevel,
		AchievedAt: achievedAt,
	}
}

// BadgeAchievedEvent is emitted when a badge moves into a user's achieved set.
type BadgeAchievedEvent struct {
	BaseEvent
	UserID     string    `json:"user_id"`
	ProjectID  string    `json:"project_id,omitempty"` // empty for global badges
	BadgeID    string    `json:"badge_id"`
	AchievedAt time.Time `json:"achieved_at"`
}

// Payload implements Event interface.
func (e BadgeAchievedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":     e.UserID,
		"project_id":  e.ProjectID,
		"badge_id":    e.BadgeID,
		"achieved_at": e.AchievedAt.Format(time.RFC3339Nano),
	}
}

// NewBadgeAchievedEvent creates a new BadgeAchievedEvent.
func NewBadgeAchievedEvent(userID, projectID, badgeID string, achievedAt time.Time) BadgeAchievedEvent {
	return BadgeAchievedEvent{
		BaseEvent:  NewBaseEvent(EventBadgeAchieved, userID),
		UserID:     userID,
		ProjectID:  projectID,
		BadgeID:    badgeID,
		AchievedAt: achievedAt,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Self-Report Events
// ═══════════════════════════════════════════════════════════════════════════

// SelfReportSubmittedEvent is emitted when an approval request is created.
type SelfReportSubmittedEvent struct {
	BaseEvent
	RequestID string `json:"request_id"`
	UserID    string `json:"user_id"`
	ProjectID string `json:"project_id"`
	SkillID   string `json:"skill_id"`
}

// Payload implements Event interface.
func (e SelfReportSubmittedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"request_id": e.RequestID,
		"user_id":    e.UserID,
		"project_id": e.ProjectID,
		"skill_id":   e.SkillID,
	}
}

// NewSelfReportSubmittedEvent creates a new SelfReportSubmittedEvent.
func NewSelfReportSubmittedEvent(requestID, userID, projectID, skillID string) SelfReportSubmittedEvent {
	return SelfReportSubmittedEvent{
		BaseEvent: NewBaseEvent(EventSelfReportSubmitted, requestID),
		RequestID: requestID,
		UserID:    userID,
		ProjectID: projectID,
		SkillID:   skillID,
	}
}

// SelfReportResolvedEvent is emitted when an approver moves a request to a terminal state.
type SelfReportResolvedEvent struct {
	BaseEvent
	RequestID string `json:"request_id"`
	UserID    string `json:"user_id"`
	State     string `json:"state"`
}

// Payload implements Event interface.
func (e SelfReportResolvedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"request_id": e.RequestID,
		"user_id":    e.UserID,
		"state":      e.State,
	}
}

// NewSelfReportResolvedEvent creates a new SelfReportResolvedEvent.
func NewSelfReportResolvedEvent(requestID, userID, state string) SelfReportResolvedEvent {
	return SelfReportResolvedEvent{
		BaseEvent: NewBaseEvent(EventSelfReportResolved, requestID),
		RequestID: requestID,
		UserID:    userID,
		State:     state,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Catalog Events
// ═══════════════════════════════════════════════════════════════════════════

// CatalogChangedEvent is emitted after any definition change.
type CatalogChangedEvent struct {
	BaseEvent
	Entity  string `json:"entity"`
	Version int64  `json:"catalog_version"`
}

// Payload implements Event interface.
func (e CatalogChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"entity":          e.Entity,
		"catalog_version": e.Version,
	}
}

// NewCatalogChangedEvent creates a new CatalogChangedEvent.
func NewCatalogChangedEvent(aggregateID, entity string, version int64) CatalogChangedEvent {
	return CatalogChangedEvent{
		BaseEvent: NewBaseEvent(EventCatalogChanged, aggregateID),
		Entity:    entity,
		Version:   version,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Source        string          `json:"source,omitempty"` // publishing process, set by cross-process transports
	Payload       json.RawMessage `json:"payload"`
}

// NewEventEnvelope serializes an event's payload into an envelope.
func NewEventEnvelope(id string, event Event) (EventEnvelope, error) {
	payload, err := json.Marshal(event.Payload())
	if err != nil {
		return EventEnvelope{}, err
	}
	env := EventEnvelope{
		ID:          id,
		Type:        event.EventType(),
		AggregateID: event.AggregateID(),
		Timestamp:   event.OccurredAt(),
		Version:     1,
		Payload:     payload,
	}
	if b, ok := event.(interface{ correlationID() string }); ok {
		env.CorrelationID = b.correlationID()
	}
	return env, nil
}

func (e BaseEvent) correlationID() string {
	return e.CorrelationID
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// NopPublisher discards every event.
type NopPublisher struct{}

// Publish implements EventPublisher.
func (NopPublisher) Publish(Event) error { return nil }
