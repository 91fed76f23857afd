package sqlite

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/alem-hub/skillforge/internal/domain/catalog"
	"github.com/alem-hub/skillforge/internal/domain/progress"
	"github.com/alem-hub/skillforge/internal/domain/shared"
)

// EventLog реализует progress.EventLog. Идемпотентность обеспечивает
// уникальный индекс idx_point_occurrence.
type EventLog struct {
	db *gorm.DB
}

// NewEventLog создаёт журнал событий.
func NewEventLog(d *Database) *EventLog {
	return &EventLog{db: d.DB}
}

// Append добавляет событие. Повтор того же вхождения или заявки возвращает ErrAlreadyExists.
func (l *EventLog) Append(ctx context.Context, e progress.PointEvent) error {
	m := pointEventModel{
		ID:           e.ID,
		UserID:       e.UserID,
		ProjectID:    e.Skill.ProjectID,
		SkillID:      e.Skill.SkillID,
		PerformedAt:  e.Timestamp.UnixMilli(),
		Source:       string(e.Source),
		Outcome:      string(e.Outcome),
		RecordedAtMs: e.RecordedAt.UnixMilli(),
	}
	if e.RequestID != "" {
		id := e.RequestID
		m.RequestID = &id
	}
	res := l.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&m)
	if res.Error != nil {
		return fmt.Errorf("sqlite: добавление события: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return shared.NewDomainError("progress", "Append", shared.ErrAlreadyExists,
			fmt.Sprintf("событие %s в %s уже записано", e.Skill, e.Timestamp))
	}
	return nil
}

// ListByUser возвращает события пользователя в порядке добавления.
func (l *EventLog) ListByUser(ctx context.Context, userID string) ([]progress.PointEvent, error) {
	var rows []pointEventModel
	if err := l.db.WithContext(ctx).Where("user_id = ?", userID).Order("seq").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("sqlite: чтение событий: %w", err)
	}
	out := make([]progress.PointEvent, 0, len(rows))
	for _, m := range rows {
		var requestID string
		if m.RequestID != nil {
			requestID = *m.RequestID
		}
		out = append(out, progress.PointEvent{
			ID:         m.ID,
			UserID:     m.UserID,
			Skill:      catalog.SkillRef{ProjectID: m.ProjectID, SkillID: m.SkillID},
			Timestamp:  shared.FromUnixMillis(m.PerformedAt),
			Source:     progress.Source(m.Source),
			Outcome:    progress.Outcome(m.Outcome),
			RecordedAt: shared.FromUnixMillis(m.RecordedAtMs),
			RequestID:  requestID,
		})
	}
	return out, nil
}
