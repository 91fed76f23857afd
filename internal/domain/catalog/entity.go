// Package catalog содержит определения проектов, предметов, навыков, уровней и бейджей.
// Это ядро конфигурации движка - здесь нет пользовательского состояния.
package catalog

import (
	"time"

	"github.com/alem-hub/skillforge/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// SkillRef однозначно указывает на навык: skillId уникален внутри проекта.
type SkillRef struct {
	ProjectID string `json:"project_id" yaml:"project"`
	SkillID   string `json:"skill_id" yaml:"skill"`
}

// String возвращает "project/skill".
func (r SkillRef) String() string {
	return r.ProjectID + "/" + r.SkillID
}

// Less задаёт детерминированный порядок для выдачи.
func (r SkillRef) Less(o SkillRef) bool {
	if r.ProjectID != o.ProjectID {
		return r.ProjectID < o.ProjectID
	}
	return r.SkillID < o.SkillID
}

// SubjectKey указывает на предмет внутри проекта.
type SubjectKey struct {
	ProjectID string
	SubjectID string
}

// ══════════════════════════════════════════════════════════════════════════════
// ENUMS
// ══════════════════════════════════════════════════════════════════════════════

// SelfReportingType определяет, может ли пользователь сам заявить о выполнении навыка.
type SelfReportingType string

const (
	// SelfReportingNone - только внешние (Direct) события.
	SelfReportingNone SelfReportingType = "None"
	// SelfReportingHonorSystem - заявка сразу превращается в событие.
	SelfReportingHonorSystem SelfReportingType = "HonorSystem"
	// SelfReportingApproval - заявка ждёт решения проверяющего.
	SelfReportingApproval SelfReportingType = "Approval"
)

// IsValid проверяет, что тип корректен.
func (t SelfReportingType) IsValid() bool {
	switch t {
	case SelfReportingNone, SelfReportingHonorSystem, SelfReportingApproval:
		return true
	default:
		return false
	}
}

// Normalize приводит пустое значение к None.
func (t SelfReportingType) Normalize() SelfReportingType {
	if t == "" {
		return SelfReportingNone
	}
	return t
}

// UnlimitedOccurrences снимает ограничение на число засчитанных событий в окне.
const UnlimitedOccurrences = -1

// ══════════════════════════════════════════════════════════════════════════════
// LEVEL TABLE
// ══════════════════════════════════════════════════════════════════════════════

// LevelThreshold - минимальное число очков для уровня.
type LevelThreshold struct {
	Level     int `json:"level" yaml:"level"`
	MinPoints int `json:"min_points" yaml:"min_points"`
}

// LevelTable - строго возрастающая последовательность порогов.
type LevelTable []LevelThreshold

// Validate проверяет, что и уровни, и пороги строго возрастают.
func (t LevelTable) Validate() error {
	prevLevel, prevPoints := 0, -1
	for i, th := range t {
		if th.Level < 1 {
			return shared.ConfigErrorf("catalog", "ValidateLevels", "level at position %d must be >= 1", i)
		}
		if th.MinPoints < 0 {
			return shared.ConfigErrorf("catalog", "ValidateLevels", "level %d has negative min points", th.Level)
		}
		if th.Level <= prevLevel {
			return shared.ConfigErrorf("catalog", "ValidateLevels", "levels must be strictly increasing at level %d", th.Level)
		}
		if th.MinPoints <= prevPoints {
			return shared.ConfigErrorf("catalog", "ValidateLevels", "thresholds must be strictly increasing at level %d", th.Level)
		}
		prevLevel, prevPoints = th.Level, th.MinPoints
	}
	return nil
}

// MaxLevel возвращает наибольший уровень таблицы (0 для пустой).
func (t LevelTable) MaxLevel() int {
	if len(t) == 0 {
		return 0
	}
	return t[len(t)-1].Level
}

// Clone возвращает копию таблицы.
func (t LevelTable) Clone() LevelTable {
	if t == nil {
		return nil
	}
	return append(LevelTable(nil), t...)
}

// ══════════════════════════════════════════════════════════════════════════════
// ENTITIES
// ══════════════════════════════════════════════════════════════════════════════

// DefaultLevelDisplayName используется, если проект не задал своё название уровней.
const DefaultLevelDisplayName = "Level"

// Project владеет предметами и проектными бейджами.
type Project struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	LevelDisplayName string     `json:"level_display_name"`
	Levels           LevelTable `json:"levels"`
}

// Validate проверяет определение проекта.
func (p Project) Validate() error {
	if !shared.ValidID(p.ID) {
		return shared.ConfigErrorf("catalog", "DefineProject", "invalid project id %q", p.ID)
	}
	return p.Levels.Validate()
}

// DisplayLevelName возвращает название уровня для интерфейса.
func (p Project) DisplayLevelName() string {
	if p.LevelDisplayName == "" {
		return DefaultLevelDisplayName
	}
	return p.LevelDisplayName
}

// Subject группирует навыки внутри проекта.
type Subject struct {
	ProjectID string     `json:"project_id"`
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Levels    LevelTable `json:"levels"`
}

// Key возвращает составной ключ предмета.
func (s Subject) Key() SubjectKey {
	return SubjectKey{ProjectID: s.ProjectID, SubjectID: s.ID}
}

// Validate проверяет определение предмета.
func (s Subject) Validate() error {
	if !shared.ValidID(s.ID) {
		return shared.ConfigErrorf("catalog", "DefineSubject", "invalid subject id %q", s.ID)
	}
	return s.Levels.Validate()
}

// Skill - единица прогресса. Интервал задаётся в минутах.
type Skill struct {
	ProjectID                          string            `json:"project_id"`
	SubjectID                          string            `json:"subject_id"`
	ID                                 string            `json:"id"`
	Name                               string            `json:"name"`
	PointIncrement                     int               `json:"point_increment"`
	NumPerformToCompletion             int               `json:"num_perform_to_completion"`
	PointIncrementInterval             int               `json:"point_increment_interval"`
	NumMaxOccurrencesIncrementInterval int               `json:"num_max_occurrences_increment_interval"`
	SelfReportingType                  SelfReportingType `json:"self_reporting_type"`
}

// Ref возвращает ссылку на навык.
func (s Skill) Ref() SkillRef {
	return SkillRef{ProjectID: s.ProjectID, SkillID: s.ID}
}

// TotalPoints - сколько очков даёт полностью выполненный навык.
func (s Skill) TotalPoints() int {
	return s.PointIncrement * s.NumPerformToCompletion
}

// Interval возвращает окно троттлинга.
func (s Skill) Interval() time.Duration {
	return time.Duration(s.PointIncrementInterval) * time.Minute
}

// Unlimited возвращает true, если число событий в окне не ограничено.
func (s Skill) Unlimited() bool {
	return s.NumMaxOccurrencesIncrementInterval == UnlimitedOccurrences
}

// Validate проверяет инварианты навыка.
func (s Skill) Validate() error {
	const op = "DefineSkill"
	switch {
	case !shared.ValidID(s.ID):
		return shared.ConfigErrorf("catalog", op, "invalid skill id %q", s.ID)
	case !shared.ValidID(s.SubjectID):
		return shared.ConfigErrorf("catalog", op, "invalid subject id %q", s.SubjectID)
	case s.NumPerformToCompletion < 1:
		return shared.ConfigErrorf("catalog", op, "skill %s: numPerformToCompletion must be >= 1", s.ID)
	case s.PointIncrement < 0:
		return shared.ConfigErrorf("catalog", op, "skill %s: pointIncrement must be >= 0", s.ID)
	case s.PointIncrementInterval < 0:
		return shared.ConfigErrorf("catalog", op, "skill %s: pointIncrementInterval must be >= 0", s.ID)
	case s.PointIncrementInterval > 0 && s.NumMaxOccurrencesIncrementInterval < 1 && !s.Unlimited():
		return shared.ConfigErrorf("catalog", op, "skill %s: numMaxOccurrencesIncrementInterval must be >= 1 or -1", s.ID)
	case !s.SelfReportingType.Normalize().IsValid():
		return shared.ConfigErrorf("catalog", op, "skill %s: unknown self reporting type %q", s.ID, s.SelfReportingType)
	}
	return nil
}
