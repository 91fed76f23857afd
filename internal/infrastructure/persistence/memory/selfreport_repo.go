package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alem-hub/skillforge/internal/domain/selfreport"
	"github.com/alem-hub/skillforge/internal/domain/shared"
)

// SelfReportRepository хранит заявки в памяти.
type SelfReportRepository struct {
	mu       sync.Mutex
	requests map[string]selfreport.Request
}

// NewSelfReportRepository создаёт пустой репозиторий.
func NewSelfReportRepository() *SelfReportRepository {
	return &SelfReportRepository{requests: make(map[string]selfreport.Request)}
}

// Create сохраняет новую заявку.
func (r *SelfReportRepository) Create(_ context.Context, req *selfreport.Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.requests[req.ID]; ok {
		return shared.NewDomainError("selfreport", "Create", shared.ErrAlreadyExists,
			fmt.Sprintf("request %s already exists", req.ID))
	}
	r.requests[req.ID] = *req
	return nil
}

// Get возвращает заявку.
func (r *SelfReportRepository) Get(_ context.Context, id string) (*selfreport.Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok {
		return nil, shared.ErrSelfReportNotFound
	}
	return &req, nil
}

// Resolve применяет решение под мьютексом. Проигравший получает ErrRequestResolved.
func (r *SelfReportRepository) Resolve(_ context.Context, id string, d selfreport.Decision, at time.Time) (*selfreport.Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok {
		return nil, shared.ErrSelfReportNotFound
	}
	if err := req.Resolve(d, at); err != nil {
		return nil, err
	}
	r.requests[id] = req
	return &req, nil
}

// MarkEmitted снимает отметку EmissionPending.
func (r *SelfReportRepository) MarkEmitted(_ context.Context, id string) (*selfreport.Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok {
		return nil, shared.ErrSelfReportNotFound
	}
	if err := req.MarkEmitted(); err != nil {
		return nil, err
	}
	r.requests[id] = req
	return &req, nil
}

// ListPending возвращает ожидающие заявки, старые первыми.
func (r *SelfReportRepository) ListPending(_ context.Context, limit int) ([]*selfreport.Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*selfreport.Request
	for _, req := range r.requests {
		if req.State == selfreport.StatePending {
			req := req
			out = append(out, &req)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].RequestedAt.Before(out[j].RequestedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
