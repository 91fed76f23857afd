package query

import (
	"context"
	"fmt"

	"github.com/alem-hub/skillforge/internal/domain/selfreport"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIST PENDING SELF REPORTS QUERY
// Очередь заявок для проверяющего.
// ══════════════════════════════════════════════════════════════════════════════

// ListPendingSelfReportsQuery содержит параметры запроса.
type ListPendingSelfReportsQuery struct {
	Limit int
}

// ListPendingSelfReportsHandler обрабатывает запрос.
type ListPendingSelfReportsHandler struct {
	requests selfreport.Repository
}

// NewListPendingSelfReportsHandler создаёт обработчик.
func NewListPendingSelfReportsHandler(requests selfreport.Repository) *ListPendingSelfReportsHandler {
	return &ListPendingSelfReportsHandler{requests: requests}
}

// Handle выполняет запрос.
func (h *ListPendingSelfReportsHandler) Handle(ctx context.Context, q ListPendingSelfReportsQuery) ([]*selfreport.Request, error) {
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	out, err := h.requests.ListPending(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list_pending_self_reports: %w", err)
	}
	if out == nil {
		out = []*selfreport.Request{}
	}
	return out, nil
}
