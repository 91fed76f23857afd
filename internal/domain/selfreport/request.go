// Package selfreport содержит жизненный цикл заявок на самостоятельное выполнение навыка.
package selfreport

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/skillforge/internal/domain/catalog"
	"github.com/alem-hub/skillforge/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATE MACHINE
// Pending -> Approved | Rejected. Оба конечных состояния терминальные.
// Одобренная заявка помечается EmissionPending, пока её событие не записано.
// ══════════════════════════════════════════════════════════════════════════════

// State - состояние заявки.
type State string

const (
	// StatePending - заявка ждёт решения.
	StatePending State = "Pending"
	// StateApproved - заявка одобрена.
	StateApproved State = "Approved"
	// StateRejected - заявка отклонена без последствий для прогресса.
	StateRejected State = "Rejected"
)

// IsValid проверяет, что состояние корректно.
func (s State) IsValid() bool {
	switch s {
	case StatePending, StateApproved, StateRejected:
		return true
	default:
		return false
	}
}

// IsTerminal возвращает true для конечных состояний.
func (s State) IsTerminal() bool {
	return s == StateApproved || s == StateRejected
}

// Decision - решение проверяющего.
type Decision string

const (
	DecisionApproved Decision = "Approved"
	DecisionRejected Decision = "Rejected"
)

// Target возвращает состояние, в которое переводит решение.
func (d Decision) Target() (State, error) {
	switch d {
	case DecisionApproved:
		return StateApproved, nil
	case DecisionRejected:
		return StateRejected, nil
	default:
		return "", shared.NewDomainError("selfreport", "Resolve", shared.ErrInvalidInput,
			fmt.Sprintf("unknown decision %q", d))
	}
}

// Request - заявка пользователя.
type Request struct {
	ID          string           `json:"id"`
	UserID      string           `json:"user_id"`
	Skill       catalog.SkillRef `json:"skill"`
	RequestedAt time.Time        `json:"requested_at"`
	State       State            `json:"state"`
	ResolvedAt  *time.Time       `json:"resolved_at,omitempty"`

	// EmissionPending - заявка одобрена, но событие ещё не передано движку.
	// Повторное одобрение такой заявки довыпускает событие.
	EmissionPending bool `json:"emission_pending,omitempty"`
}

// NewRequest создаёт заявку в состоянии Pending.
func NewRequest(id, userID string, skill catalog.SkillRef, requestedAt time.Time) (*Request, error) {
	if id == "" {
		return nil, shared.NewDomainError("selfreport", "Create", shared.ErrEmptyValue, "request id is required")
	}
	if _, err := shared.NewUserID(userID); err != nil {
		return nil, err
	}
	return &Request{
		ID:          id,
		UserID:      userID,
		Skill:       skill,
		RequestedAt: requestedAt,
		State:       StatePending,
	}, nil
}

// Resolve переводит заявку из Pending в терминальное состояние.
// Повторное разрешение возвращает ErrRequestResolved.
func (r *Request) Resolve(d Decision, at time.Time) error {
	target, err := d.Target()
	if err != nil {
		return err
	}
	if r.State != StatePending {
		return shared.ErrRequestResolved
	}
	r.State = target
	r.ResolvedAt = &at
	r.EmissionPending = target == StateApproved
	return nil
}

// MarkEmitted снимает отметку EmissionPending. Событие записано движком
// или окончательно им отклонено.
func (r *Request) MarkEmitted() error {
	if r.State != StateApproved {
		return shared.NewDomainError("selfreport", "MarkEmitted", shared.ErrInvalidInput,
			fmt.Sprintf("request %s is %s, not approved", r.ID, r.State))
	}
	r.EmissionPending = false
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// Repository хранит заявки.
type Repository interface {
	// Create сохраняет новую заявку.
	Create(ctx context.Context, r *Request) error

	// Get возвращает заявку по id.
	// Возвращает ErrSelfReportNotFound, если заявка не найдена.
	Get(ctx context.Context, id string) (*Request, error)

	// Resolve атомарно применяет Request.Resolve к сохранённой заявке.
	// Если заявка уже разрешена, возвращает ErrRequestResolved и текущее состояние не меняется.
	// Выигрывает первый писатель.
	Resolve(ctx context.Context, id string, d Decision, at time.Time) (*Request, error)

	// MarkEmitted применяет Request.MarkEmitted и сохраняет заявку. Идемпотентен.
	MarkEmitted(ctx context.Context, id string) (*Request, error)

	// ListPending возвращает ожидающие заявки, отсортированные по времени создания.
	ListPending(ctx context.Context, limit int) ([]*Request, error)
}
