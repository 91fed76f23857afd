package command

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/skillforge/internal/application/engine"
	"github.com/alem-hub/skillforge/internal/domain/catalog"
	"github.com/alem-hub/skillforge/internal/domain/progress"
	"github.com/alem-hub/skillforge/internal/domain/selfreport"
	"github.com/alem-hub/skillforge/internal/domain/shared"
	"github.com/alem-hub/skillforge/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SUBMIT SELF REPORT COMMAND
// A user claims to have performed a skill. Approval skills create a pending
// request, HonorSystem skills are ingested at once, None skills refuse.
// ══════════════════════════════════════════════════════════════════════════════

// SubmitSelfReportCommand contains the claim.
type SubmitSelfReportCommand struct {
	ProjectID string
	SkillID   string
	UserID    string
	Timestamp time.Time
}

// Validate validates the command.
func (c SubmitSelfReportCommand) Validate() error {
	if c.ProjectID == "" || c.SkillID == "" {
		return shared.NewDomainError("command", "submit_self_report", shared.ErrInvalidInput,
			"project_id and skill_id are required")
	}
	return nil
}

// SubmitSelfReportResult is either a pending request or an immediate ingestion.
type SubmitSelfReportResult struct {
	// Request is set for Approval skills.
	Request *selfreport.Request

	// Ingestion is set for HonorSystem skills.
	Ingestion *SubmitPointEventResult
}

// Pending reports whether the claim waits for a reviewer.
func (r *SubmitSelfReportResult) Pending() bool {
	return r.Request != nil
}

// SubmitSelfReportHandler handles the SubmitSelfReportCommand.
type SubmitSelfReportHandler struct {
	engine   *engine.Engine
	requests selfreport.Repository
	log      *logger.Logger
}

// NewSubmitSelfReportHandler creates a new SubmitSelfReportHandler.
func NewSubmitSelfReportHandler(eng *engine.Engine, requests selfreport.Repository, log *logger.Logger) *SubmitSelfReportHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &SubmitSelfReportHandler{engine: eng, requests: requests, log: log}
}

// Handle executes the command.
func (h *SubmitSelfReportHandler) Handle(ctx context.Context, cmd SubmitSelfReportCommand) (*SubmitSelfReportResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("submit_self_report: validation failed: %w", err)
	}

	ref := catalog.SkillRef{ProjectID: cmd.ProjectID, SkillID: cmd.SkillID}
	skill, ok := h.engine.Catalog().View().Skill(ref)
	if !ok {
		h.log.Warn("self report rejected", logger.UserID(cmd.UserID), logger.SkillID(ref.String()), logger.Outcome("UnknownSkill"))
		return nil, fmt.Errorf("submit_self_report: %w", shared.NewDomainError("selfreport", "Submit",
			shared.ErrUnknownSkill, fmt.Sprintf("skill %s not found", ref)))
	}
	if _, err := shared.NewUserID(cmd.UserID); err != nil {
		return nil, fmt.Errorf("submit_self_report: %w", err)
	}

	switch skill.SelfReportingType.Normalize() {
	case catalog.SelfReportingHonorSystem:
		res, err := h.engine.Ingest(ctx, engine.Submission{
			UserID:    cmd.UserID,
			Skill:     ref,
			Timestamp: cmd.Timestamp,
			Source:    progress.SourceSelfReportHonor,
		})
		if err != nil {
			return nil, fmt.Errorf("submit_self_report: %w", err)
		}
		return &SubmitSelfReportResult{Ingestion: fromIngest(res)}, nil

	case catalog.SelfReportingApproval:
		requestedAt := cmd.Timestamp
		if requestedAt.IsZero() {
			requestedAt = h.engine.Now()
		}
		req, err := selfreport.NewRequest(h.engine.NewID(), cmd.UserID, ref, shared.EventTime(requestedAt))
		if err != nil {
			return nil, fmt.Errorf("submit_self_report: %w", err)
		}
		if err := h.requests.Create(ctx, req); err != nil {
			return nil, fmt.Errorf("submit_self_report: failed to save request: %w", err)
		}
		h.log.Info("self report pending", logger.RequestID(req.ID), logger.UserID(req.UserID), logger.SkillID(ref.String()))
		h.engine.Publish(shared.NewSelfReportSubmittedEvent(req.ID, req.UserID, ref.ProjectID, ref.SkillID))
		return &SubmitSelfReportResult{Request: req}, nil

	default:
		return nil, fmt.Errorf("submit_self_report: %w", shared.NewDomainError("selfreport", "Submit",
			shared.ErrSelfReportNotAllowed, fmt.Sprintf("skill %s does not accept self reports", ref)))
	}
}
