package query

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/skillforge/internal/application/engine"
	"github.com/alem-hub/skillforge/internal/domain/badge"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET USER BADGES QUERY
// Полученные и доступные бейджи. При указании проекта глобальные бейджи
// фильтруются по наличию требований в этом проекте.
// ══════════════════════════════════════════════════════════════════════════════

// GetUserBadgesQuery содержит параметры запроса. ProjectID опционален.
type GetUserBadgesQuery struct {
	UserID    string
	ProjectID string
}

// BadgeDTO - бейдж с прогрессом пользователя.
type BadgeDTO struct {
	ProjectID  string               `json:"project_id,omitempty"`
	BadgeID    string               `json:"badge_id"`
	Name       string               `json:"name"`
	Global     bool                 `json:"global"`
	Achieved   bool                 `json:"achieved"`
	AchievedAt *time.Time           `json:"achieved_at,omitempty"`
	Percent    int                  `json:"percent"`
	Completed  int                  `json:"completed"`
	Total      int                  `json:"total"`
	Groups     []badge.ProjectGroup `json:"groups"`
}

// UserBadgesDTO - результат запроса.
type UserBadgesDTO struct {
	UserID    string     `json:"user_id"`
	ProjectID string     `json:"project_id,omitempty"`
	Achieved  []BadgeDTO `json:"achieved"`
	Available []BadgeDTO `json:"available"`

	// CompletedCount - число полученных бейджей, относящихся к проекту.
	CompletedCount int `json:"completed_count"`
}

// GetUserBadgesHandler обрабатывает запрос.
type GetUserBadgesHandler struct {
	engine *engine.Engine
}

// NewGetUserBadgesHandler создаёт обработчик.
func NewGetUserBadgesHandler(eng *engine.Engine) *GetUserBadgesHandler {
	return &GetUserBadgesHandler{engine: eng}
}

// Handle выполняет запрос.
func (h *GetUserBadgesHandler) Handle(ctx context.Context, q GetUserBadgesQuery) (*UserBadgesDTO, error) {
	snap, view, err := h.engine.Snapshot(ctx, q.UserID)
	if err != nil {
		return nil, fmt.Errorf("get_user_badges: %w", err)
	}
	if q.ProjectID != "" {
		if _, ok := view.Project(q.ProjectID); !ok {
			return nil, fmt.Errorf("get_user_badges: %w", unknownProject(q.ProjectID))
		}
	}

	scoped := badge.Scoped(snap.Badges, q.ProjectID)
	dto := &UserBadgesDTO{
		UserID:         snap.UserID,
		ProjectID:      q.ProjectID,
		Achieved:       []BadgeDTO{},
		Available:      []BadgeDTO{},
		CompletedCount: badge.CompletedCount(snap.Badges, q.ProjectID),
	}
	for _, s := range scoped {
		b := badgeDTO(s)
		if s.Achieved {
			dto.Achieved = append(dto.Achieved, b)
		} else {
			dto.Available = append(dto.Available, b)
		}
	}
	return dto, nil
}

func badgeDTO(s badge.Status) BadgeDTO {
	return BadgeDTO{
		ProjectID:  s.Badge.ProjectID,
		BadgeID:    s.Badge.ID,
		Name:       s.Badge.Name,
		Global:     s.Badge.IsGlobal(),
		Achieved:   s.Achieved,
		AchievedAt: s.AchievedAt,
		Percent:    s.Progress.Percent(),
		Completed:  s.Progress.Current,
		Total:      s.Progress.Target,
		Groups:     s.Groups,
	}
}
