package catalog

import (
	"context"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Контракт хранения определений. Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// DependencyEdge - сохранённое ребро графа зависимостей.
type DependencyEdge struct {
	Dependent    SkillRef `json:"dependent"`
	Prerequisite SkillRef `json:"prerequisite"`
}

// Definitions - полный набор определений для восстановления каталога.
type Definitions struct {
	Projects     []Project        `json:"projects"`
	Subjects     []Subject        `json:"subjects"`
	Skills       []Skill          `json:"skills"`
	Dependencies []DependencyEdge `json:"dependencies"`
	Badges       []Badge          `json:"badges"`
}

// Repository хранит определения каталога.
// Все Save-методы работают как upsert.
type Repository interface {
	// LoadAll возвращает все сохранённые определения.
	LoadAll(ctx context.Context) (*Definitions, error)

	// SaveProject сохраняет проект вместе с таблицей уровней.
	SaveProject(ctx context.Context, p Project) error

	// SaveSubject сохраняет предмет вместе с таблицей уровней.
	SaveSubject(ctx context.Context, s Subject) error

	// SaveSkill сохраняет навык.
	SaveSkill(ctx context.Context, s Skill) error

	// SaveDependency сохраняет ребро графа. Повторное сохранение не ошибка.
	SaveDependency(ctx context.Context, e DependencyEdge) error

	// SaveBadge сохраняет бейдж и полностью заменяет его требования.
	SaveBadge(ctx context.Context, b Badge) error
}
