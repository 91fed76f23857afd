// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/skillforge/internal/application/engine"
	"github.com/alem-hub/skillforge/internal/domain/catalog"
	"github.com/alem-hub/skillforge/internal/domain/progress"
	"github.com/alem-hub/skillforge/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET USER PROGRESS QUERY
// Прогресс пользователя в проекте: очки, процент, уровень, предметы и навыки.
// Всё читается из одного снимка, поэтому очки, разблокировки и уровни
// всегда согласованы между собой.
// ══════════════════════════════════════════════════════════════════════════════

// GetUserProgressQuery содержит параметры запроса.
type GetUserProgressQuery struct {
	UserID    string
	ProjectID string
}

// Validate проверяет параметры запроса.
func (q GetUserProgressQuery) Validate() error {
	if q.ProjectID == "" {
		return shared.NewDomainError("query", "get_user_progress", shared.ErrInvalidInput, "project_id is required")
	}
	return nil
}

// SkillProgressDTO - прогресс по навыку.
type SkillProgressDTO struct {
	SkillID           string                    `json:"skill_id"`
	Name              string                    `json:"name"`
	PointIncrement    int                       `json:"point_increment"`
	Occurrences       int                       `json:"occurrences"`
	Counted           int                       `json:"counted"`
	Target            int                       `json:"target"`
	Points            int                       `json:"points"`
	TotalPoints       int                       `json:"total_points"`
	Percent           int                       `json:"percent"`
	Complete          bool                      `json:"complete"`
	Locked            bool                      `json:"locked"`
	SelfReportingType catalog.SelfReportingType `json:"self_reporting_type"`

	// DirectDependents - сколько навыков напрямую зависят от этого.
	DirectDependents int `json:"direct_dependents"`

	AchievedAt      *time.Time `json:"achieved_at,omitempty"`
	LastPerformedAt *time.Time `json:"last_performed_at,omitempty"`
}

// SubjectProgressDTO - прогресс по предмету.
type SubjectProgressDTO struct {
	SubjectID   string                   `json:"subject_id"`
	Name        string                   `json:"name"`
	Points      int                      `json:"points"`
	TotalPoints int                      `json:"total_points"`
	Percent     int                      `json:"percent"`
	Level       int                      `json:"level"`
	Levels      []progress.LevelProgress `json:"levels"`
	Skills      []SkillProgressDTO       `json:"skills"`
}

// UserProgressDTO - прогресс пользователя в проекте.
type UserProgressDTO struct {
	UserID           string                   `json:"user_id"`
	ProjectID        string                   `json:"project_id"`
	ProjectName      string                   `json:"project_name"`
	LevelDisplayName string                   `json:"level_display_name"`
	Points           int                      `json:"points"`
	TotalPoints      int                      `json:"total_points"`
	Percent          int                      `json:"percent"`
	Level            int                      `json:"level"`
	Levels           []progress.LevelProgress `json:"levels"`
	Subjects         []SubjectProgressDTO     `json:"subjects"`
	ComputedAt       time.Time                `json:"computed_at"`
}

// GetUserProgressHandler обрабатывает запрос.
type GetUserProgressHandler struct {
	engine *engine.Engine
}

// NewGetUserProgressHandler создаёт обработчик.
func NewGetUserProgressHandler(eng *engine.Engine) *GetUserProgressHandler {
	return &GetUserProgressHandler{engine: eng}
}

// Handle выполняет запрос.
func (h *GetUserProgressHandler) Handle(ctx context.Context, q GetUserProgressQuery) (*UserProgressDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_user_progress: %w", err)
	}
	snap, view, err := h.engine.Snapshot(ctx, q.UserID)
	if err != nil {
		return nil, fmt.Errorf("get_user_progress: %w", err)
	}

	project, ok := view.Project(q.ProjectID)
	if !ok {
		return nil, fmt.Errorf("get_user_progress: %w", unknownProject(q.ProjectID))
	}

	dto := &UserProgressDTO{
		UserID:           snap.UserID,
		ProjectID:        project.ID,
		ProjectName:      project.Name,
		LevelDisplayName: project.DisplayLevelName(),
		ComputedAt:       snap.ComputedAt,
	}
	if g, ok := snap.Project(project.ID); ok {
		dto.Points, dto.TotalPoints, dto.Percent, dto.Level, dto.Levels = g.Points, g.TotalPoints, g.Percent, g.Level, g.Levels
	}

	for _, g := range snap.SubjectsOf(project.ID) {
		sub, _ := view.Subject(project.ID, g.SubjectID)
		sdto := SubjectProgressDTO{
			SubjectID:   g.SubjectID,
			Name:        sub.Name,
			Points:      g.Points,
			TotalPoints: g.TotalPoints,
			Percent:     g.Percent,
			Level:       g.Level,
			Levels:      g.Levels,
		}
		for _, st := range snap.SkillsOfSubject(project.ID, g.SubjectID) {
			sdto.Skills = append(sdto.Skills, skillDTO(view, st))
		}
		dto.Subjects = append(dto.Subjects, sdto)
	}
	return dto, nil
}

func skillDTO(view *catalog.View, st engine.SkillState) SkillProgressDTO {
	sk, _ := view.Skill(st.Ref())
	return SkillProgressDTO{
		SkillID:           st.SkillID,
		Name:              sk.Name,
		PointIncrement:    sk.PointIncrement,
		Occurrences:       st.Occurrences,
		Counted:           st.Counted,
		Target:            st.Target,
		Points:            st.Points,
		TotalPoints:       st.TotalPoints,
		Percent:           st.Percent,
		Complete:          st.Complete,
		Locked:            !st.Unlocked,
		SelfReportingType: sk.SelfReportingType,
		DirectDependents:  len(view.DependentsOf(st.Ref())),
		AchievedAt:        st.AchievedAt,
		LastPerformedAt:   st.LastPerformedAt,
	}
}

func unknownProject(id string) error {
	return shared.NewDomainError("query", "project", shared.ErrUnknownProject, fmt.Sprintf("project %s not found", id))
}
