package query

import (
	"context"
	"fmt"

	"github.com/alem-hub/skillforge/internal/application/engine"
	"github.com/alem-hub/skillforge/internal/domain/catalog"
	"github.com/alem-hub/skillforge/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET DEPENDENCY STATUS QUERY
// ══════════════════════════════════════════════════════════════════════════════

// GetDependencyStatusQuery содержит параметры запроса.
type GetDependencyStatusQuery struct {
	UserID    string
	ProjectID string
	SkillID   string
}

// DependencyStatusDTO - состояние блокировки навыка.
type DependencyStatusDTO struct {
	UserID             string             `json:"user_id"`
	Skill              catalog.SkillRef   `json:"skill"`
	Locked             bool               `json:"locked"`
	Prerequisites      []catalog.SkillRef `json:"prerequisites"`
	UnmetPrerequisites []catalog.SkillRef `json:"unmet_prerequisites"`
	DirectDependents   []catalog.SkillRef `json:"direct_dependents"`
}

// GetDependencyStatusHandler обрабатывает запрос.
type GetDependencyStatusHandler struct {
	engine *engine.Engine
}

// NewGetDependencyStatusHandler создаёт обработчик.
func NewGetDependencyStatusHandler(eng *engine.Engine) *GetDependencyStatusHandler {
	return &GetDependencyStatusHandler{engine: eng}
}

// Handle выполняет запрос.
func (h *GetDependencyStatusHandler) Handle(ctx context.Context, q GetDependencyStatusQuery) (*DependencyStatusDTO, error) {
	snap, view, err := h.engine.Snapshot(ctx, q.UserID)
	if err != nil {
		return nil, fmt.Errorf("get_dependency_status: %w", err)
	}

	ref := catalog.SkillRef{ProjectID: q.ProjectID, SkillID: q.SkillID}
	if _, ok := view.Skill(ref); !ok {
		return nil, fmt.Errorf("get_dependency_status: %w", shared.NewDomainError("query", "dependency_status",
			shared.ErrUnknownSkill, fmt.Sprintf("skill %s not found", ref)))
	}

	unmet := view.UnmetPrerequisites(ref, snap.SkillComplete)
	return &DependencyStatusDTO{
		UserID:             snap.UserID,
		Skill:              ref,
		Locked:             len(unmet) > 0,
		Prerequisites:      nonNil(view.PrerequisitesOf(ref)),
		UnmetPrerequisites: nonNil(unmet),
		DirectDependents:   nonNil(view.DependentsOf(ref)),
	}, nil
}

func nonNil(refs []catalog.SkillRef) []catalog.SkillRef {
	if refs == nil {
		return []catalog.SkillRef{}
	}
	return refs
}
