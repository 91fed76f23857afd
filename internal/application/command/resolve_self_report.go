package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/alem-hub/skillforge/internal/application/engine"
	"github.com/alem-hub/skillforge/internal/domain/progress"
	"github.com/alem-hub/skillforge/internal/domain/selfreport"
	"github.com/alem-hub/skillforge/internal/domain/shared"
	"github.com/alem-hub/skillforge/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESOLVE SELF REPORT COMMAND
// A reviewer approves or rejects a pending request. The first resolution wins.
// An approval stays marked EmissionPending until its point event is logged or
// refused by the engine, so approving it again re-drives a failed emission.
// ══════════════════════════════════════════════════════════════════════════════

// ResolveSelfReportCommand carries the reviewer decision.
type ResolveSelfReportCommand struct {
	RequestID string
	Decision  selfreport.Decision
}

// Validate validates the command.
func (c ResolveSelfReportCommand) Validate() error {
	if c.RequestID == "" {
		return shared.NewDomainError("command", "resolve_self_report", shared.ErrInvalidInput, "request_id is required")
	}
	_, err := c.Decision.Target()
	return err
}

// ResolveSelfReportResult contains the resolved request.
type ResolveSelfReportResult struct {
	Request *selfreport.Request

	// Ingestion is the outcome of the point event emitted on approval.
	Ingestion *SubmitPointEventResult

	// IngestionErr is set when the approved event was refused by the engine,
	// for example because the skill is locked. The request stays approved and
	// is not re-driven.
	IngestionErr error
}

// ResolveSelfReportHandler handles the ResolveSelfReportCommand.
type ResolveSelfReportHandler struct {
	engine   *engine.Engine
	requests selfreport.Repository
	log      *logger.Logger
}

// NewResolveSelfReportHandler creates a new ResolveSelfReportHandler.
func NewResolveSelfReportHandler(eng *engine.Engine, requests selfreport.Repository, log *logger.Logger) *ResolveSelfReportHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &ResolveSelfReportHandler{engine: eng, requests: requests, log: log}
}

// Handle executes the command.
func (h *ResolveSelfReportHandler) Handle(ctx context.Context, cmd ResolveSelfReportCommand) (*ResolveSelfReportResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("resolve_self_report: validation failed: %w", err)
	}

	stored, err := h.requests.Get(ctx, cmd.RequestID)
	if err != nil {
		return nil, fmt.Errorf("resolve_self_report: %w", err)
	}

	var result *ResolveSelfReportResult
	err = h.engine.WithUser(ctx, stored.UserID, func(ctx context.Context, user *engine.UserSession) error {
		var err error
		result, err = h.resolve(ctx, user, cmd)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("resolve_self_report: %w", err)
	}
	return result, nil
}

// resolve runs under the user lock. Only approvals still waiting for their
// event may pass an AlreadyResolved request.
func (h *ResolveSelfReportHandler) resolve(ctx context.Context, user *engine.UserSession, cmd ResolveSelfReportCommand) (*ResolveSelfReportResult, error) {
	req, err := h.requests.Resolve(ctx, cmd.RequestID, cmd.Decision, h.engine.Now())
	switch {
	case err == nil:
		h.log.With(logger.RequestID(req.ID), logger.UserID(req.UserID), logger.SkillID(req.Skill.String())).
			Info("self report resolved", logger.String("state", string(req.State)))
		h.engine.Publish(shared.NewSelfReportResolvedEvent(req.ID, req.UserID, string(req.State)))
	case errors.Is(err, shared.ErrAlreadyResolved) && cmd.Decision == selfreport.DecisionApproved:
		req, err = h.requests.Get(ctx, cmd.RequestID)
		if err != nil {
			return nil, err
		}
		if !req.EmissionPending {
			return nil, shared.ErrRequestResolved
		}
	default:
		return nil, err
	}

	result := &ResolveSelfReportResult{Request: req}
	if !req.EmissionPending {
		return result, nil
	}

	log := h.log.With(logger.RequestID(req.ID), logger.UserID(req.UserID), logger.SkillID(req.Skill.String()))
	res, err := user.Ingest(ctx, engine.Submission{
		UserID:    req.UserID,
		Skill:     req.Skill,
		Timestamp: *req.ResolvedAt,
		Source:    progress.SourceSelfReportApproved,
		RequestID: req.ID,
	})
	switch {
	case err == nil:
		result.Ingestion = fromIngest(res)
	case refused(err):
		log.Warn("approved self report was not ingested", logger.Err(err))
		result.IngestionErr = err
	default:
		log.Error("approved self report emission failed", logger.Err(err))
		return nil, err
	}

	if result.Request, err = h.requests.MarkEmitted(ctx, req.ID); err != nil {
		return nil, err
	}
	return result, nil
}

// refused reports whether the engine rejected the event for good. Anything
// else leaves the request EmissionPending for a retry.
func refused(err error) bool {
	return errors.Is(err, shared.ErrSkillLocked) ||
		errors.Is(err, shared.ErrUnknownSkill) ||
		errors.Is(err, shared.ErrUnknownUser) ||
		errors.Is(err, shared.ErrInvalidInput)
}
