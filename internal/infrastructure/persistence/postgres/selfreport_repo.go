package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/skillforge/internal/domain/catalog"
	"github.com/alem-hub/skillforge/internal/domain/selfreport"
	"github.com/alem-hub/skillforge/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SELF REPORT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// SelfReportRepository implements selfreport.Repository for PostgreSQL.
type SelfReportRepository struct {
	conn *Connection
}

// NewSelfReportRepository creates a new SelfReportRepository.
func NewSelfReportRepository(conn *Connection) *SelfReportRepository {
	return &SelfReportRepository{conn: conn}
}

const selfReportColumns = `id, user_id, project_id, skill_id, requested_at, state, resolved_at, emission_pending`

// Create inserts a new request.
func (r *SelfReportRepository) Create(ctx context.Context, req *selfreport.Request) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO self_report_requests (`+selfReportColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, req.ID, req.UserID, req.Skill.ProjectID, req.Skill.SkillID, req.RequestedAt, string(req.State), req.ResolvedAt, req.EmissionPending)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.WrapError("selfreport", "Create", shared.ErrAlreadyExists, "request id already used", err)
		}
		return fmt.Errorf("failed to create self report: %w", err)
	}
	return nil
}

// Get returns a request by id.
func (r *SelfReportRepository) Get(ctx context.Context, id string) (*selfreport.Request, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+selfReportColumns+` FROM self_report_requests WHERE id = $1`, id)
	req, err := scanSelfReport(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrSelfReportNotFound
		}
		return nil, fmt.Errorf("failed to get self report: %w", err)
	}
	return req, nil
}

// Resolve applies the decision to the stored request. The transition itself is
// Request.Resolve; the conditional UPDATE makes the first writer win and later
// callers get ErrRequestResolved.
func (r *SelfReportRepository) Resolve(ctx context.Context, id string, d selfreport.Decision, at time.Time) (*selfreport.Request, error) {
	req, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := req.Resolve(d, at); err != nil {
		return nil, err
	}

	row := r.conn.QueryRow(ctx, `
		UPDATE self_report_requests
		SET state = $2, resolved_at = $3, emission_pending = $4
		WHERE id = $1 AND state = $5
		RETURNING `+selfReportColumns, id, string(req.State), req.ResolvedAt, req.EmissionPending, string(selfreport.StatePending))

	resolved, err := scanSelfReport(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrRequestResolved
		}
		return nil, fmt.Errorf("failed to resolve self report: %w", err)
	}
	return resolved, nil
}

// MarkEmitted clears the emission marker of an approved request.
func (r *SelfReportRepository) MarkEmitted(ctx context.Context, id string) (*selfreport.Request, error) {
	req, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := req.MarkEmitted(); err != nil {
		return nil, err
	}
	if _, err := r.conn.Exec(ctx, `
		UPDATE self_report_requests SET emission_pending = FALSE WHERE id = $1
	`, id); err != nil {
		return nil, fmt.Errorf("failed to mark self report emitted: %w", err)
	}
	return req, nil
}

// ListPending returns pending requests, oldest first.
func (r *SelfReportRepository) ListPending(ctx context.Context, limit int) ([]*selfreport.Request, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT `+selfReportColumns+` FROM self_report_requests
		WHERE state = $1
		ORDER BY requested_at, id
		LIMIT $2
	`, string(selfreport.StatePending), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list self reports: %w", err)
	}
	defer rows.Close()

	var out []*selfreport.Request
	for rows.Next() {
		req, err := scanSelfReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan self report: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func scanSelfReport(row pgx.Row) (*selfreport.Request, error) {
	var (
		req   selfreport.Request
		skill catalog.SkillRef
		state string
	)
	if err := row.Scan(&req.ID, &req.UserID, &skill.ProjectID, &skill.SkillID, &req.RequestedAt, &state, &req.ResolvedAt, &req.EmissionPending); err != nil {
		return nil, err
	}
	req.Skill = skill
	req.State = selfreport.State(state)
	req.RequestedAt = req.RequestedAt.UTC()
	if req.ResolvedAt != nil {
		t := req.ResolvedAt.UTC()
		req.ResolvedAt = &t
	}
	return &req, nil
}
