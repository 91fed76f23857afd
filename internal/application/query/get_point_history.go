package query

import (
	"context"
	"fmt"

	"github.com/alem-hub/skillforge/internal/application/engine"
	"github.com/alem-hub/skillforge/internal/domain/progress"
	"github.com/alem-hub/skillforge/internal/domain/shared"
	"github.com/alem-hub/skillforge/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET POINT HISTORY QUERY
// Накопительные очки по дням для графика прогресса.
// ══════════════════════════════════════════════════════════════════════════════

// GetPointHistoryQuery содержит параметры запроса.
type GetPointHistoryQuery struct {
	UserID    string
	ProjectID string

	// TimeZone задаёт границы дней: имя IANA или смещение "+05:00". Пусто - UTC.
	TimeZone string
}

// PointHistoryDTO - история очков.
type PointHistoryDTO struct {
	UserID    string                 `json:"user_id"`
	ProjectID string                 `json:"project_id"`
	TimeZone  string                 `json:"time_zone"`
	Days      []progress.DailyPoints `json:"days"`
}

// GetPointHistoryHandler обрабатывает запрос.
type GetPointHistoryHandler struct {
	engine *engine.Engine
}

// NewGetPointHistoryHandler создаёт обработчик.
func NewGetPointHistoryHandler(eng *engine.Engine) *GetPointHistoryHandler {
	return &GetPointHistoryHandler{engine: eng}
}

// Handle выполняет запрос.
func (h *GetPointHistoryHandler) Handle(ctx context.Context, q GetPointHistoryQuery) (*PointHistoryDTO, error) {
	loc, err := timeutil.ParseLocation(q.TimeZone)
	if err != nil {
		return nil, shared.NewDomainError("query", "history", shared.ErrInvalidInput, err.Error())
	}
	snap, view, err := h.engine.Snapshot(ctx, q.UserID)
	if err != nil {
		return nil, fmt.Errorf("get_point_history: %w", err)
	}
	if _, ok := view.Project(q.ProjectID); !ok {
		return nil, fmt.Errorf("get_point_history: %w", unknownProject(q.ProjectID))
	}

	days := progress.PointHistory(snap.Timeline, q.ProjectID, loc)
	if days == nil {
		days = []progress.DailyPoints{}
	}
	return &PointHistoryDTO{UserID: snap.UserID, ProjectID: q.ProjectID, TimeZone: loc.String(), Days: days}, nil
}
