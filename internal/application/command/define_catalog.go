package command

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/alem-hub/skillforge/internal/application/engine"
	"github.com/alem-hub/skillforge/internal/domain/catalog"
	"github.com/alem-hub/skillforge/internal/domain/shared"
	"github.com/alem-hub/skillforge/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG DEFINITION COMMANDS
// Upserts of projects, subjects, skills and level tables. Invalid definitions
// are rejected with a ConfigError before they reach evaluation.
// ══════════════════════════════════════════════════════════════════════════════

var namePolicy = bluemonday.StrictPolicy()

// sanitizeName strips markup from a display name.
func sanitizeName(s string) string {
	return strings.TrimSpace(html.UnescapeString(namePolicy.Sanitize(s)))
}

// DefineProjectCommand creates or updates a project.
type DefineProjectCommand struct {
	ProjectID        string
	Name             string
	LevelDisplayName string

	// Levels replaces the project level table. Nil keeps the current table.
	Levels catalog.LevelTable
}

// DefineSubjectCommand creates or updates a subject.
type DefineSubjectCommand struct {
	ProjectID string
	SubjectID string
	Name      string
	Levels    catalog.LevelTable
}

// DefineSkillCommand creates or updates a skill.
type DefineSkillCommand struct {
	ProjectID                          string
	SubjectID                          string
	SkillID                            string
	Name                               string
	PointIncrement                     int
	NumPerformToCompletion             int
	PointIncrementInterval             int
	NumMaxOccurrencesIncrementInterval int
	SelfReportingType                  catalog.SelfReportingType
}

// SetLevelsCommand replaces a level table. SubjectID empty targets the project.
type SetLevelsCommand struct {
	ProjectID string
	SubjectID string
	Levels    catalog.LevelTable
}

// CatalogChangeResult reports the catalog version after a change.
type CatalogChangeResult struct {
	Version int64
}

// CatalogHandler handles catalog definition commands.
type CatalogHandler struct {
	engine *engine.Engine
	log    *logger.Logger
}

// NewCatalogHandler creates a new CatalogHandler.
func NewCatalogHandler(eng *engine.Engine, log *logger.Logger) *CatalogHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &CatalogHandler{engine: eng, log: log.With(logger.Component("catalog"))}
}

// DefineProject executes DefineProjectCommand.
func (h *CatalogHandler) DefineProject(ctx context.Context, cmd DefineProjectCommand) (*CatalogChangeResult, error) {
	cat := h.engine.Catalog()
	p := catalog.Project{
		ID:               cmd.ProjectID,
		Name:             sanitizeName(cmd.Name),
		LevelDisplayName: sanitizeName(cmd.LevelDisplayName),
		Levels:           cmd.Levels,
	}
	if p.Levels == nil {
		if existing, ok := cat.View().Project(cmd.ProjectID); ok {
			p.Levels = existing.Levels
		}
	}
	if err := cat.DefineProject(ctx, p); err != nil {
		return nil, fmt.Errorf("define_project: %w", err)
	}
	return h.changed(cmd.ProjectID, "project"), nil
}

// DefineSubject executes DefineSubjectCommand.
func (h *CatalogHandler) DefineSubject(ctx context.Context, cmd DefineSubjectCommand) (*CatalogChangeResult, error) {
	cat := h.engine.Catalog()
	s := catalog.Subject{
		ProjectID: cmd.ProjectID,
		ID:        cmd.SubjectID,
		Name:      sanitizeName(cmd.Name),
		Levels:    cmd.Levels,
	}
	if s.Levels == nil {
		if existing, ok := cat.View().Subject(cmd.ProjectID, cmd.SubjectID); ok {
			s.Levels = existing.Levels
		}
	}
	if err := cat.DefineSubject(ctx, s); err != nil {
		return nil, fmt.Errorf("define_subject: %w", err)
	}
	return h.changed(cmd.ProjectID+"/"+cmd.SubjectID, "subject"), nil
}

// DefineSkill executes DefineSkillCommand.
func (h *CatalogHandler) DefineSkill(ctx context.Context, cmd DefineSkillCommand) (*CatalogChangeResult, error) {
	s := catalog.Skill{
		ProjectID:                          cmd.ProjectID,
		SubjectID:                          cmd.SubjectID,
		ID:                                 cmd.SkillID,
		Name:                               sanitizeName(cmd.Name),
		PointIncrement:                     cmd.PointIncrement,
		NumPerformToCompletion:             cmd.NumPerformToCompletion,
		PointIncrementInterval:             cmd.PointIncrementInterval,
		NumMaxOccurrencesIncrementInterval: cmd.NumMaxOccurrencesIncrementInterval,
		SelfReportingType:                  cmd.SelfReportingType,
	}
	if err := h.engine.Catalog().DefineSkill(ctx, s); err != nil {
		return nil, fmt.Errorf("define_skill: %w", err)
	}
	return h.changed(s.Ref().String(), "skill"), nil
}

// SetLevels executes SetLevelsCommand.
func (h *CatalogHandler) SetLevels(ctx context.Context, cmd SetLevelsCommand) (*CatalogChangeResult, error) {
	cat := h.engine.Catalog()
	if cmd.SubjectID == "" {
		if err := cat.SetProjectLevels(ctx, cmd.ProjectID, cmd.Levels); err != nil {
			return nil, fmt.Errorf("set_levels: %w", err)
		}
		return h.changed(cmd.ProjectID, "project_levels"), nil
	}
	if err := cat.SetSubjectLevels(ctx, cmd.ProjectID, cmd.SubjectID, cmd.Levels); err != nil {
		return nil, fmt.Errorf("set_levels: %w", err)
	}
	return h.changed(cmd.ProjectID+"/"+cmd.SubjectID, "subject_levels"), nil
}

func (h *CatalogHandler) changed(aggregateID, entity string) *CatalogChangeResult {
	version := h.engine.Catalog().View().Version()
	h.log.Info("catalog changed",
		logger.String("entity", entity),
		logger.String("aggregate_id", aggregateID),
		logger.Int64("catalog_version", version),
	)
	h.engine.Publish(shared.NewCatalogChangedEvent(aggregateID, entity, version))
	return &CatalogChangeResult{Version: version}
}
