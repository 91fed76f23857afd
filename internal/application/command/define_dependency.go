package command

import (
	"context"
	"fmt"

	"github.com/alem-hub/skillforge/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// DEFINE DEPENDENCY COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// DefineDependencyCommand declares that DependentSkillID requires PrerequisiteSkillID.
type DefineDependencyCommand struct {
	ProjectID           string
	DependentSkillID    string
	PrerequisiteSkillID string
}

// Validate validates the command.
func (c DefineDependencyCommand) Validate() error {
	if c.ProjectID == "" || c.DependentSkillID == "" || c.PrerequisiteSkillID == "" {
		return shared.NewDomainError("command", "define_dependency", shared.ErrInvalidInput,
			"project_id, dependent and prerequisite skill ids are required")
	}
	return nil
}

// DefineDependency adds a prerequisite edge. An edge closing a cycle fails with
// CycleDetected and the graph is left unchanged.
func (h *CatalogHandler) DefineDependency(ctx context.Context, cmd DefineDependencyCommand) (*CatalogChangeResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("define_dependency: validation failed: %w", err)
	}
	if err := h.engine.Catalog().DefineDependency(ctx, cmd.ProjectID, cmd.DependentSkillID, cmd.PrerequisiteSkillID); err != nil {
		return nil, fmt.Errorf("define_dependency: %w", err)
	}
	return h.changed(cmd.ProjectID+"/"+cmd.DependentSkillID, "dependency"), nil
}
