package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alem-hub/skillforge/internal/domain/catalog"
	"github.com/alem-hub/skillforge/internal/domain/progress"
	"github.com/alem-hub/skillforge/internal/domain/shared"
)

type occurrenceKey struct {
	userID string
	skill  catalog.SkillRef
	ts     int64
}

// EventLog - append-only журнал событий в памяти.
type EventLog struct {
	mu     sync.RWMutex
	byUser   map[string][]progress.PointEvent
	seen     map[occurrenceKey]struct{}
	requests map[string]struct{}
}

// NewEventLog создаёт пустой журнал.
func NewEventLog() *EventLog {
	return &EventLog{
		byUser:   make(map[string][]progress.PointEvent),
		seen:     make(map[occurrenceKey]struct{}),
		requests: make(map[string]struct{}),
	}
}

// Append добавляет событие. Повтор (user, skill, timestamp) или RequestID - ErrAlreadyExists.
func (l *EventLog) Append(_ context.Context, e progress.PointEvent) error {
	key := occurrenceKey{userID: e.UserID, skill: e.Skill, ts: e.Timestamp.UnixMilli()}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.seen[key]; ok {
		return shared.NewDomainError("progress", "Append", shared.ErrAlreadyExists,
			fmt.Sprintf("event %s@%s already recorded", e.Skill, e.Timestamp.Format(time.RFC3339Nano)))
	}
	if e.RequestID != "" {
		if _, ok := l.requests[e.RequestID]; ok {
			return shared.NewDomainError("progress", "Append", shared.ErrAlreadyExists,
				fmt.Sprintf("event for request %s already recorded", e.RequestID))
		}
		l.requests[e.RequestID] = struct{}{}
	}
	l.seen[key] = struct{}{}
	l.byUser[e.UserID] = append(l.byUser[e.UserID], e)
	return nil
}

// ListByUser возвращает копию событий пользователя в порядке записи.
func (l *EventLog) ListByUser(_ context.Context, userID string) ([]progress.PointEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	events := l.byUser[userID]
	out := make([]progress.PointEvent, len(events))
	copy(out, events)
	return out, nil
}

// Len возвращает общее число событий.
func (l *EventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.seen)
}
