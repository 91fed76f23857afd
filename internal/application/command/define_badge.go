package command

import (
	"context"
	"fmt"

	"github.com/alem-hub/skillforge/internal/domain/catalog"
)

// ══════════════════════════════════════════════════════════════════════════════
// BADGE DEFINITION COMMANDS
// A badge starts as a draft, collects requirements and is then enabled.
// ProjectID empty means a global badge.
// ══════════════════════════════════════════════════════════════════════════════

// DefineBadgeCommand creates a badge or updates its name and enabled flag.
type DefineBadgeCommand struct {
	ProjectID string
	BadgeID   string
	Name      string
	Enabled   bool
}

// AssignSkillToBadgeCommand adds a required skill.
type AssignSkillToBadgeCommand struct {
	BadgeProjectID string
	BadgeID        string
	ProjectID      string
	SkillID        string
}

// AssignProjectLevelToBadgeCommand sets the minimum level required in a project.
type AssignProjectLevelToBadgeCommand struct {
	BadgeProjectID string
	BadgeID        string
	ProjectID      string
	MinLevel       int
}

// DefineBadge executes DefineBadgeCommand.
func (h *CatalogHandler) DefineBadge(ctx context.Context, cmd DefineBadgeCommand) (*CatalogChangeResult, error) {
	b := catalog.Badge{
		ProjectID: cmd.ProjectID,
		ID:        cmd.BadgeID,
		Name:      sanitizeName(cmd.Name),
		Enabled:   cmd.Enabled,
	}
	if err := h.engine.Catalog().DefineBadge(ctx, b); err != nil {
		return nil, fmt.Errorf("define_badge: %w", err)
	}
	return h.changed(b.Key().String(), "badge"), nil
}

// AssignSkillToBadge executes AssignSkillToBadgeCommand.
func (h *CatalogHandler) AssignSkillToBadge(ctx context.Context, cmd AssignSkillToBadgeCommand) (*CatalogChangeResult, error) {
	key := catalog.BadgeKey{ProjectID: cmd.BadgeProjectID, BadgeID: cmd.BadgeID}
	ref := catalog.SkillRef{ProjectID: cmd.ProjectID, SkillID: cmd.SkillID}
	if err := h.engine.Catalog().AssignSkillToBadge(ctx, key, ref); err != nil {
		return nil, fmt.Errorf("assign_skill_to_badge: %w", err)
	}
	return h.changed(key.String(), "badge_skill"), nil
}

// AssignProjectLevelToBadge executes AssignProjectLevelToBadgeCommand.
func (h *CatalogHandler) AssignProjectLevelToBadge(ctx context.Context, cmd AssignProjectLevelToBadgeCommand) (*CatalogChangeResult, error) {
	key := catalog.BadgeKey{ProjectID: cmd.BadgeProjectID, BadgeID: cmd.BadgeID}
	if err := h.engine.Catalog().AssignProjectLevelToBadge(ctx, key, cmd.ProjectID, cmd.MinLevel); err != nil {
		return nil, fmt.Errorf("assign_level_to_badge: %w", err)
	}
	return h.changed(key.String(), "badge_level"), nil
}
