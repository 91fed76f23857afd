package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/alem-hub/skillforge/internal/domain/catalog"
	"github.com/alem-hub/skillforge/internal/domain/selfreport"
	"github.com/alem-hub/skillforge/internal/domain/shared"
)

// SelfReportRepository реализует selfreport.Repository.
type SelfReportRepository struct {
	db *gorm.DB
}

// NewSelfReportRepository создаёт репозиторий заявок.
func NewSelfReportRepository(d *Database) *SelfReportRepository {
	return &SelfReportRepository{db: d.DB}
}

// Create сохраняет новую заявку.
func (r *SelfReportRepository) Create(ctx context.Context, req *selfreport.Request) error {
	m := toSelfReportModel(req)
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&m)
	if res.Error != nil {
		return fmt.Errorf("sqlite: создание заявки: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return shared.NewDomainError("selfreport", "Create", shared.ErrAlreadyExists, "идентификатор заявки уже занят")
	}
	return nil
}

// Get возвращает заявку по идентификатору.
func (r *SelfReportRepository) Get(ctx context.Context, id string) (*selfreport.Request, error) {
	var m selfReportModel
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, shared.ErrSelfReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: чтение заявки: %w", err)
	}
	return fromSelfReportModel(m), nil
}

// Resolve применяет Request.Resolve к сохранённой заявке.
// Условное обновление: выигрывает первый, остальные получают ErrRequestResolved.
func (r *SelfReportRepository) Resolve(ctx context.Context, id string, d selfreport.Decision, at time.Time) (*selfreport.Request, error) {
	req, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := req.Resolve(d, at); err != nil {
		return nil, err
	}

	m := toSelfReportModel(req)
	res := r.db.WithContext(ctx).Model(&selfReportModel{}).
		Where("id = ? AND state = ?", id, string(selfreport.StatePending)).
		Updates(map[string]any{
			"state":            m.State,
			"resolved_at_ms":   m.ResolvedAtMs,
			"emission_pending": m.EmissionPending,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("sqlite: разрешение заявки: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, shared.ErrRequestResolved
	}
	return fromSelfReportModel(m), nil
}

// MarkEmitted снимает отметку EmissionPending с одобренной заявки.
func (r *SelfReportRepository) MarkEmitted(ctx context.Context, id string) (*selfreport.Request, error) {
	req, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := req.MarkEmitted(); err != nil {
		return nil, err
	}
	err = r.db.WithContext(ctx).Model(&selfReportModel{}).
		Where("id = ?", id).
		Update("emission_pending", false).Error
	if err != nil {
		return nil, fmt.Errorf("sqlite: отметка заявки: %w", err)
	}
	return req, nil
}

// ListPending возвращает ожидающие заявки, старые первыми.
func (r *SelfReportRepository) ListPending(ctx context.Context, limit int) ([]*selfreport.Request, error) {
	var rows []selfReportModel
	err := r.db.WithContext(ctx).
		Where("state = ?", string(selfreport.StatePending)).
		Order("requested_at_ms, id").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("sqlite: список заявок: %w", err)
	}
	out := make([]*selfreport.Request, 0, len(rows))
	for _, m := range rows {
		out = append(out, fromSelfReportModel(m))
	}
	return out, nil
}

func toSelfReportModel(req *selfreport.Request) selfReportModel {
	m := selfReportModel{
		ID:            req.ID,
		UserID:        req.UserID,
		ProjectID:     req.Skill.ProjectID,
		SkillID:       req.Skill.SkillID,
		RequestedAtMs:   req.RequestedAt.UnixMilli(),
		State:           string(req.State),
		EmissionPending: req.EmissionPending,
	}
	if req.ResolvedAt != nil {
		ms := req.ResolvedAt.UnixMilli()
		m.ResolvedAtMs = &ms
	}
	return m
}

func fromSelfReportModel(m selfReportModel) *selfreport.Request {
	req := &selfreport.Request{
		ID:          m.ID,
		UserID:      m.UserID,
		Skill:       catalog.SkillRef{ProjectID: m.ProjectID, SkillID: m.SkillID},
		RequestedAt:     shared.FromUnixMillis(m.RequestedAtMs),
		State:           selfreport.State(m.State),
		EmissionPending: m.EmissionPending,
	}
	if m.ResolvedAtMs != nil {
		t := shared.FromUnixMillis(*m.ResolvedAtMs)
		req.ResolvedAt = &t
	}
	return req
}
