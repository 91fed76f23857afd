// Package progress turns the append-only point event log into per-user progress.
//
// The log is authoritative. Everything in UserState is derived and can be
// recomputed at any time from the user's events and the current catalog.
package progress

import (
	"context"
	"sort"
	"time"

	"github.com/alem-hub/skillforge/internal/domain/catalog"
)

// Source describes how a point event entered the engine.
type Source string

const (
	SourceDirect             Source = "Direct"
	SourceSelfReportApproved Source = "SelfReportApproved"
	SourceSelfReportHonor    Source = "SelfReportHonor"
)

// IsValid checks if the source is known.
func (s Source) IsValid() bool {
	switch s {
	case SourceDirect, SourceSelfReportApproved, SourceSelfReportHonor:
		return true
	default:
		return false
	}
}

// Outcome is the ingestion decision stored with every logged event.
type Outcome string

const (
	// OutcomeAccepted events contribute to progress up to the completion ceiling.
	OutcomeAccepted Outcome = "Accepted"
	// OutcomeThrottled events are kept for analytics and never counted.
	OutcomeThrottled Outcome = "Throttled"
)

// PointEvent is one immutable log entry.
type PointEvent struct {
	ID         string           `json:"id"`
	UserID     string           `json:"user_id"`
	Skill      catalog.SkillRef `json:"skill"`
	Timestamp  time.Time        `json:"timestamp"`
	Source     Source           `json:"source"`
	Outcome    Outcome          `json:"outcome"`
	RecordedAt time.Time        `json:"recorded_at"`

	// RequestID links an event to the approved self report that emitted it.
	RequestID string `json:"request_id,omitempty"`
}

// Accepted reports whether the event passed the throttle guard.
func (e PointEvent) Accepted() bool {
	return e.Outcome == OutcomeAccepted
}

// EventLog is the append-only store of point events.
type EventLog interface {
	// Append stores the event. Appending a second event for the same
	// (user, skill, timestamp), or with the same non-empty RequestID,
	// returns shared.ErrAlreadyExists.
	Append(ctx context.Context, e PointEvent) error

	// ListByUser returns every logged event of the user in append order.
	ListByUser(ctx context.Context, userID string) ([]PointEvent, error)
}

// FindOccurrence returns the logged event for (skill, ts), if any.
func FindOccurrence(events []PointEvent, skill catalog.SkillRef, ts time.Time) (PointEvent, bool) {
	for _, e := range events {
		if e.Skill == skill && e.Timestamp.Equal(ts) {
			return e, true
		}
	}
	return PointEvent{}, false
}

// FindByRequest returns the event emitted for a self report request, if any.
func FindByRequest(events []PointEvent, requestID string) (PointEvent, bool) {
	if requestID == "" {
		return PointEvent{}, false
	}
	for _, e := range events {
		if e.RequestID == requestID {
			return e, true
		}
	}
	return PointEvent{}, false
}

// FreeTimestamp returns the first millisecond at or after ts that no logged
// event of the skill occupies.
func FreeTimestamp(events []PointEvent, skill catalog.SkillRef, ts time.Time) time.Time {
	for {
		if _, taken := FindOccurrence(events, skill, ts); !taken {
			return ts
		}
		ts = ts.Add(time.Millisecond)
	}
}

// ForSkill returns the events of one skill.
func ForSkill(events []PointEvent, skill catalog.SkillRef) []PointEvent {
	var out []PointEvent
	for _, e := range events {
		if e.Skill == skill {
			out = append(out, e)
		}
	}
	return out
}

// SortByTimestamp orders events by performed time, breaking ties by skill and record time.
func SortByTimestamp(events []PointEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.Skill != b.Skill {
			return a.Skill.Less(b.Skill)
		}
		return a.RecordedAt.Before(b.RecordedAt)
	})
}
