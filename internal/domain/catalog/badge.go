package catalog

import (
	"github.com/alem-hub/skillforge/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// BADGE
// ══════════════════════════════════════════════════════════════════════════════

// BadgeKey указывает на бейдж. Пустой ProjectID означает глобальный бейдж.
type BadgeKey struct {
	ProjectID string
	BadgeID   string
}

// IsGlobal возвращает true для глобального бейджа.
func (k BadgeKey) IsGlobal() bool {
	return k.ProjectID == ""
}

// String возвращает "project/badge" или "global/badge".
func (k BadgeKey) String() string {
	if k.IsGlobal() {
		return "global/" + k.BadgeID
	}
	return k.ProjectID + "/" + k.BadgeID
}

// LevelRequirement - минимальный уровень пользователя в проекте.
type LevelRequirement struct {
	ProjectID string `json:"project_id" yaml:"project"`
	MinLevel  int    `json:"min_level" yaml:"level"`
}

// Badge - проектный или глобальный бейдж.
// Бейдж с Enabled=false является черновиком и не участвует в оценке.
type Badge struct {
	ProjectID      string             `json:"project_id,omitempty"`
	ID             string             `json:"id"`
	Name           string             `json:"name"`
	Enabled        bool               `json:"enabled"`
	RequiredSkills []SkillRef         `json:"required_skills"`
	RequiredLevels []LevelRequirement `json:"required_levels"`
}

// Key возвращает ключ бейджа.
func (b Badge) Key() BadgeKey {
	return BadgeKey{ProjectID: b.ProjectID, BadgeID: b.ID}
}

// IsGlobal возвращает true для глобального бейджа.
func (b Badge) IsGlobal() bool {
	return b.ProjectID == ""
}

// RequirementCount - общее число требований.
func (b Badge) RequirementCount() int {
	return len(b.RequiredSkills) + len(b.RequiredLevels)
}

// HasRequirements возвращает false для бейджа, который никогда не может быть получен.
func (b Badge) HasRequirements() bool {
	return b.RequirementCount() > 0
}

// RequiresProject проверяет, есть ли у бейджа хотя бы одно требование в проекте.
func (b Badge) RequiresProject(projectID string) bool {
	for _, s := range b.RequiredSkills {
		if s.ProjectID == projectID {
			return true
		}
	}
	for _, l := range b.RequiredLevels {
		if l.ProjectID == projectID {
			return true
		}
	}
	return false
}

// Projects возвращает проекты, упомянутые в требованиях, в порядке первого появления.
func (b Badge) Projects() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, s := range b.RequiredSkills {
		add(s.ProjectID)
	}
	for _, l := range b.RequiredLevels {
		add(l.ProjectID)
	}
	return out
}

// Validate проверяет определение бейджа без учёта каталога.
func (b Badge) Validate() error {
	const op = "DefineBadge"
	if !shared.ValidID(b.ID) {
		return shared.ConfigErrorf("catalog", op, "invalid badge id %q", b.ID)
	}
	if b.Enabled && !b.HasRequirements() {
		return shared.ConfigErrorf("catalog", op,
			"badge %s has no required skills or levels and can never be achieved", b.Key())
	}
	if !b.IsGlobal() {
		for _, s := range b.RequiredSkills {
			if s.ProjectID != b.ProjectID {
				return shared.ConfigErrorf("catalog", op,
					"project badge %s cannot require skill %s from another project", b.Key(), s)
			}
		}
		for _, l := range b.RequiredLevels {
			if l.ProjectID != b.ProjectID {
				return shared.ConfigErrorf("catalog", op,
					"project badge %s cannot require a level in project %s", b.Key(), l.ProjectID)
			}
		}
	}
	for _, l := range b.RequiredLevels {
		if l.MinLevel < 1 {
			return shared.ConfigErrorf("catalog", op, "badge %s: min level must be >= 1", b.Key())
		}
	}
	return nil
}

func (b Badge) clone() Badge {
	b.RequiredSkills = append([]SkillRef(nil), b.RequiredSkills...)
	b.RequiredLevels = append([]LevelRequirement(nil), b.RequiredLevels...)
	return b
}
