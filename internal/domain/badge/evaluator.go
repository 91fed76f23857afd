// Package badge оценивает проектные и глобальные бейджи по прогрессу пользователя.
package badge

import (
	"time"

	"github.com/alem-hub/skillforge/internal/domain/catalog"
	"github.com/alem-hub/skillforge/internal/domain/progress"
	"github.com/alem-hub/skillforge/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESULT TYPES
// ══════════════════════════════════════════════════════════════════════════════

// RequirementKind - тип требования бейджа.
type RequirementKind string

const (
	RequirementSkill RequirementKind = "skill"
	RequirementLevel RequirementKind = "level"
)

// RequirementStatus - состояние одного требования для пользователя.
type RequirementStatus struct {
	Kind         RequirementKind `json:"kind"`
	ProjectID    string          `json:"project_id"`
	SubjectID    string          `json:"subject_id,omitempty"`
	SkillID      string          `json:"skill_id,omitempty"`
	MinLevel     int             `json:"min_level,omitempty"`
	CurrentLevel int             `json:"current_level,omitempty"`
	Percent      int             `json:"percent"`
	Complete     bool            `json:"complete"`
	AchievedAt   *time.Time      `json:"achieved_at,omitempty"`
}

// ProjectGroup группирует требования по проекту-владельцу.
type ProjectGroup struct {
	ProjectID    string              `json:"project_id"`
	Requirements []RequirementStatus `json:"requirements"`
	Completed    int                 `json:"completed"`
	Total        int                 `json:"total"`
}

// Status - результат оценки бейджа для пользователя.
type Status struct {
	Badge      catalog.Badge       `json:"badge"`
	Achieved   bool                `json:"achieved"`
	AchievedAt *time.Time          `json:"achieved_at,omitempty"`
	Groups     []ProjectGroup      `json:"groups"`
	Progress   shared.Progressable `json:"progress"`
}

// ══════════════════════════════════════════════════════════════════════════════
// EVALUATION
// ══════════════════════════════════════════════════════════════════════════════

// Evaluate оценивает один бейдж.
//
// Бейдж получен, только если он включён, у него есть хотя бы одно требование
// и все требования выполнены. Время получения - максимум времени выполнения
// требований, то есть время события, закрывшего последнее из них.
func Evaluate(b catalog.Badge, st *progress.UserState) Status {
	s := Status{Badge: b}

	groups := make(map[string]*ProjectGroup)
	var order []string
	group := func(projectID string) *ProjectGroup {
		g, ok := groups[projectID]
		if !ok {
			g = &ProjectGroup{ProjectID: projectID}
			groups[projectID] = g
			order = append(order, projectID)
		}
		return g
	}

	completed, total := 0, 0
	var latest *time.Time
	allDone := true

	record := func(r RequirementStatus) {
		g := group(r.ProjectID)
		g.Requirements = append(g.Requirements, r)
		g.Total++
		total++
		if !r.Complete {
			allDone = false
			return
		}
		g.Completed++
		completed++
		if r.AchievedAt != nil && (latest == nil || r.AchievedAt.After(*latest)) {
			latest = r.AchievedAt
		}
	}

	seen := make(map[catalog.SkillRef]bool)
	for _, ref := range b.RequiredSkills {
		if seen[ref] {
			continue
		}
		seen[ref] = true
		record(skillRequirement(ref, st))
	}
	for _, lr := range b.RequiredLevels {
		record(levelRequirement(lr, st))
	}

	for _, id := range order {
		s.Groups = append(s.Groups, *groups[id])
	}

	s.Progress = shared.Progressable{
		Kind:    shared.KindBadge,
		ID:      b.Key().String(),
		Current: completed,
		Target:  total,
	}
	if b.Enabled && total > 0 && allDone {
		s.Achieved = true
		s.AchievedAt = latest
		s.Progress.AchievedAt = latest
	}
	return s
}

func skillRequirement(ref catalog.SkillRef, st *progress.UserState) RequirementStatus {
	r := RequirementStatus{Kind: RequirementSkill, ProjectID: ref.ProjectID, SkillID: ref.SkillID}
	sp := st.Skill(ref)
	if sp == nil {
		return r
	}
	r.SubjectID = sp.Skill.SubjectID
	r.Percent = sp.Percent()
	r.Complete = sp.Complete()
	r.AchievedAt = sp.AchievedAt
	return r
}

func levelRequirement(lr catalog.LevelRequirement, st *progress.UserState) RequirementStatus {
	r := RequirementStatus{Kind: RequirementLevel, ProjectID: lr.ProjectID, MinLevel: lr.MinLevel}
	p := st.Projects[lr.ProjectID]
	if p == nil {
		return r
	}
	r.CurrentLevel = p.Level
	r.Complete = p.Level >= lr.MinLevel
	if r.Complete {
		r.Percent = 100
	} else if threshold, ok := thresholdFor(p, lr.MinLevel); ok && threshold > 0 {
		r.Percent = shared.Progressable{Current: p.Points, Target: threshold}.Percent()
	}
	for _, row := range p.Levels {
		if row.Level >= lr.MinLevel && row.AchievedAt != nil {
			if r.AchievedAt == nil || row.AchievedAt.Before(*r.AchievedAt) {
				r.AchievedAt = row.AchievedAt
			}
		}
	}
	return r
}

func thresholdFor(p *progress.GroupProgress, minLevel int) (int, bool) {
	for _, row := range p.Levels {
		if row.Level >= minLevel {
			return row.MinPoints, true
		}
	}
	return 0, false
}

// EvaluateAll оценивает все включённые бейджи каталога. Черновики пропускаются.
func EvaluateAll(view *catalog.View, st *progress.UserState) []Status {
	var out []Status
	for _, b := range view.Badges() {
		if !b.Enabled {
			continue
		}
		out = append(out, Evaluate(b, st))
	}
	return out
}

// Achieved возвращает только полученные бейджи.
func Achieved(statuses []Status) []Status {
	var out []Status
	for _, s := range statuses {
		if s.Achieved {
			out = append(out, s)
		}
	}
	return out
}

// InScope проверяет, относится ли бейдж к просматриваемому проекту.
// Проектный бейдж относится только к своему проекту. Глобальный - к каждому
// проекту, в котором у него есть хотя бы одно требование.
func InScope(b catalog.Badge, projectID string) bool {
	if projectID == "" {
		return true
	}
	if !b.IsGlobal() {
		return b.ProjectID == projectID
	}
	return b.RequiresProject(projectID)
}

// Scoped фильтрует результаты по проекту.
func Scoped(statuses []Status, projectID string) []Status {
	var out []Status
	for _, s := range statuses {
		if InScope(s.Badge, projectID) {
			out = append(out, s)
		}
	}
	return out
}

// CompletedCount считает полученные бейджи, относящиеся к проекту.
// Глобальный бейдж с требованиями только в других проектах не учитывается.
func CompletedCount(statuses []Status, projectID string) int {
	n := 0
	for _, s := range statuses {
		if s.Achieved && InScope(s.Badge, projectID) {
			n++
		}
	}
	return n
}
