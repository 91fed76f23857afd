// Package command contains write operations (CQRS - Commands).
package command

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
// SUBMIT POINT EVENT COMMAND
// Direct ingestion path: an external system reports that a user performed a skill.
// ══════════════════════════════════════════════════════════════════════════════

// SubmitPointEventCommand contains the data of a direct point event.
type SubmitPointEventCommand struct {
	ProjectID string
	SkillID   string
	UserID    string

	// Timestamp is when the skill was performed (defaults to now if zero).
	Timestamp time.Time
}

// Validate validates the command.
func (c SubmitPointEventCommand) Validate() error {
	if c.ProjectID == "" || c.SkillID == "" {
		return shared.NewDomainError("command", "submit_point_event", shared.ErrInvalidInput,
			"project_id and skill_id are required")
	}
	return nil
}

// SubmitPointEventResult contains the outcome of an ingestion.
type SubmitPointEventResult struct {
	// Accepted is false when the event was throttled.
	Accepted bool

	// Counted is true when the event raised the skill's completion counter.
	Counted bool

	// Duplicate is true when the same occurrence was submitted before.
	Duplicate bool

	Outcome progress.Outcome
	Reason  string
	EventID string

	// Progress is the skill state right after the event.
	Progress engine.SkillState

	// Events contains the domain events generated.
	Events []shared.Event
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// SubmitPointEventHandler handles the SubmitPointEventCommand.
type SubmitPointEventHandler struct {
	engine *engine.Engine
}

// NewSubmitPointEventHandler creates a new SubmitPointEventHandler.
func NewSubmitPointEventHandler(eng *engine.Engine) *SubmitPointEventHandler {
	return &SubmitPointEventHandler{engine: eng}
}

// Handle executes the command.
func (h *SubmitPointEventHandler) Handle(ctx context.Context, cmd SubmitPointEventCommand) (*SubmitPointEventResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("submit_point_event: validation failed: %w", err)
	}

	res, err := h.engine.Ingest(ctx, engine.Submission{
		UserID:    cmd.UserID,
		Skill:     catalog.SkillRef{ProjectID: cmd.ProjectID, SkillID: cmd.SkillID},
		Timestamp: cmd.Timestamp,
		Source:    progress.SourceDirect,
	})
	if err != nil {
		return nil, fmt.Errorf("submit_point_event: %w", err)
	}

	return fromIngest(res), nil
}

func fromIngest(res *engine.IngestResult) *SubmitPointEventResult {
	return &SubmitPointEventResult{
		Accepted:  res.Accepted(),
		Counted:   res.Counted,
		Duplicate: res.Duplicate,
		Outcome:   res.Outcome,
		Reason:    res.Reason(),
		EventID:   res.Event.ID,
		Progress:  res.Skill,
		Events:    res.Events,
	}
}
