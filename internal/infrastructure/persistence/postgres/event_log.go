package postgres

import (
	"context"
	"fmt"

	"github.com/alem-hub/skillforge/internal/domain/progress"
	"github.com/alem-hub/skillforge/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// POINT EVENT LOG
// ══════════════════════════════════════════════════════════════════════════════

// EventLog implements progress.EventLog for PostgreSQL.
// The unique occurrence constraint backs the idempotency guarantee even when
// two engine processes share the database.
type EventLog struct {
	conn *Connection
}

// NewEventLog creates a new EventLog.
func NewEventLog(conn *Connection) *EventLog {
	return &EventLog{conn: conn}
}

// Append inserts an event. A second event for the same occurrence, or for the
// same self report request, returns shared.ErrAlreadyExists.
func (l *EventLog) Append(ctx context.Context, e progress.PointEvent) error {
	_, err := l.conn.Exec(ctx, `
		INSERT INTO point_events (id, user_id, project_id, skill_id, performed_at, source, outcome, recorded_at, request_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''))
	`,
		e.ID, e.UserID, e.Skill.ProjectID, e.Skill.SkillID, e.Timestamp,
		string(e.Source), string(e.Outcome), e.RecordedAt, e.RequestID,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.WrapError("progress", "Append", shared.ErrAlreadyExists,
				fmt.Sprintf("event for %s at %s already logged", e.Skill, e.Timestamp), err)
		}
		return fmt.Errorf("failed to append point event: %w", err)
	}
	return nil
}

// ListByUser returns the user's events in append order.
func (l *EventLog) ListByUser(ctx context.Context, userID string) ([]progress.PointEvent, error) {
	rows, err := l.conn.Query(ctx, `
		SELECT id, user_id, project_id, skill_id, performed_at, source, outcome, recorded_at,
		       COALESCE(request_id, '')
		FROM point_events
		WHERE user_id = $1
		ORDER BY seq
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list point events: %w", err)
	}
	defer rows.Close()

	var out []progress.PointEvent
	for rows.Next() {
		var e progress.PointEvent
		var source, outcome string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Skill.ProjectID, &e.Skill.SkillID,
			&e.Timestamp, &source, &outcome, &e.RecordedAt, &e.RequestID); err != nil {
			return nil, fmt.Errorf("failed to scan point event: %w", err)
		}
		e.Timestamp = shared.EventTime(e.Timestamp)
		e.RecordedAt = e.RecordedAt.UTC()
		e.Source = progress.Source(source)
		e.Outcome = progress.Outcome(outcome)
		out = append(out, e)
	}
	return out, rows.Err()
}
