package progress

import (
	"time"

	"github.com/alem-hub/skillforge/internal/domain/catalog"
	"github.com/alem-hub/skillforge/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// DERIVED STATE
// ══════════════════════════════════════════════════════════════════════════════

// SkillProgress is the derived progress of one user on one skill.
type SkillProgress struct {
	Skill catalog.Skill `json:"-"`
	// Occurrences counts every accepted event, including ones past completion.
	Occurrences int `json:"occurrences"`
	// Counted is Occurrences capped at numPerformToCompletion.
	Counted         int        `json:"counted"`
	Points          int        `json:"points"`
	AchievedAt      *time.Time `json:"achieved_at,omitempty"`
	LastPerformedAt *time.Time `json:"last_performed_at,omitempty"`
	Unlocked        bool       `json:"unlocked"`
}

// Complete reports whether the skill is at 100%.
func (p *SkillProgress) Complete() bool {
	return p.Occurrences >= p.Skill.NumPerformToCompletion
}

// Percent returns completion floored to [0, 100].
func (p *SkillProgress) Percent() int {
	return p.Progress().Percent()
}

// Progress returns the skill as a Progressable.
func (p *SkillProgress) Progress() shared.Progressable {
	return shared.Progressable{
		Kind:       shared.KindSkill,
		ID:         p.Skill.Ref().String(),
		Current:    p.Counted,
		Target:     p.Skill.NumPerformToCompletion,
		AchievedAt: p.AchievedAt,
	}
}

// GroupProgress is the aggregate of a subject or a project.
type GroupProgress struct {
	ID          string          `json:"id"`
	Points      int             `json:"points"`
	TotalPoints int             `json:"total_points"`
	Level       int             `json:"level"`
	Levels      []LevelProgress `json:"levels"`
	kind        shared.ProgressKind
}

// Percent returns points earned over points available, floored.
func (g *GroupProgress) Percent() int {
	return g.Progress().Percent()
}

// Progress returns the group as a Progressable. A group is achieved when all points are earned.
func (g *GroupProgress) Progress() shared.Progressable {
	return shared.Progressable{
		Kind:    g.kind,
		ID:      g.ID,
		Current: g.Points,
		Target:  g.TotalPoints,
	}
}

// LevelAchievedAt returns when the user first reached level.
func (g *GroupProgress) LevelAchievedAt(level int) *time.Time {
	for _, l := range g.Levels {
		if l.Level == level {
			return l.AchievedAt
		}
	}
	return nil
}

// CountedEvent is an accepted occurrence that earned points.
type CountedEvent struct {
	Skill     catalog.SkillRef `json:"skill"`
	Timestamp time.Time        `json:"timestamp"`
	Points    int              `json:"points"`
}

// UserState is the full derived state of one user against one catalog version.
type UserState struct {
	UserID         string
	CatalogVersion int64
	Skills         map[catalog.SkillRef]*SkillProgress
	Subjects       map[catalog.SubjectKey]*GroupProgress
	Projects       map[string]*GroupProgress
	Timeline       []CountedEvent
	Throttled      int
	subjectOf      map[catalog.SkillRef]catalog.SubjectKey
}

// Skill returns the progress of a skill, or nil if the skill is unknown.
func (s *UserState) Skill(ref catalog.SkillRef) *SkillProgress {
	return s.Skills[ref]
}

// SkillComplete reports whether ref is at 100% for the user.
func (s *UserState) SkillComplete(ref catalog.SkillRef) bool {
	p := s.Skills[ref]
	return p != nil && p.Complete()
}

// ProjectLevel returns the user's level in the project.
func (s *UserState) ProjectLevel(projectID string) int {
	if p := s.Projects[projectID]; p != nil {
		return p.Level
	}
	return 0
}

// ══════════════════════════════════════════════════════════════════════════════
// AGGREGATION
// ══════════════════════════════════════════════════════════════════════════════

// Compute derives a user's state from the catalog and the user's event log.
//
// Accepted events are replayed in timestamp order. The occurrence that brings a
// skill to numPerformToCompletion sets its achievement time; occurrences past
// that point are counted in Occurrences but earn nothing. Level achievement
// times come from the same replay, so they are event timestamps, never
// evaluation times.
func Compute(view *catalog.View, userID string, events []PointEvent) *UserState {
	st := &UserState{
		UserID:         userID,
		CatalogVersion: view.Version(),
		Skills:         make(map[catalog.SkillRef]*SkillProgress),
		Subjects:       make(map[catalog.SubjectKey]*GroupProgress),
		Projects:       make(map[string]*GroupProgress),
		subjectOf:      make(map[catalog.SkillRef]catalog.SubjectKey),
	}

	projectLevels := make(map[string]*levelTracker)
	subjectLevels := make(map[catalog.SubjectKey]*levelTracker)

	for _, p := range view.Projects() {
		st.Projects[p.ID] = &GroupProgress{ID: p.ID, kind: shared.KindProject}
		projectLevels[p.ID] = newLevelTracker(p.Levels)
		for _, sub := range view.SubjectsOf(p.ID) {
			st.Subjects[sub.Key()] = &GroupProgress{ID: sub.ID, kind: shared.KindSubject}
			subjectLevels[sub.Key()] = newLevelTracker(sub.Levels)
		}
	}
	for _, sk := range view.Skills() {
		key := catalog.SubjectKey{ProjectID: sk.ProjectID, SubjectID: sk.SubjectID}
		st.Skills[sk.Ref()] = &SkillProgress{Skill: sk}
		st.subjectOf[sk.Ref()] = key
		if g := st.Subjects[key]; g != nil {
			g.TotalPoints += sk.TotalPoints()
		}
		if g := st.Projects[sk.ProjectID]; g != nil {
			g.TotalPoints += sk.TotalPoints()
		}
	}

	ordered := make([]PointEvent, 0, len(events))
	for _, e := range events {
		if !e.Accepted() {
			st.Throttled++
			continue
		}
		if _, ok := st.Skills[e.Skill]; ok {
			ordered = append(ordered, e)
		}
	}
	SortByTimestamp(ordered)

	for _, e := range ordered {
		sp := st.Skills[e.Skill]
		sp.Occurrences++
		ts := e.Timestamp
		sp.LastPerformedAt = &ts
		if sp.Occurrences > sp.Skill.NumPerformToCompletion {
			continue
		}

		sp.Counted = sp.Occurrences
		sp.Points += sp.Skill.PointIncrement
		if sp.Occurrences == sp.Skill.NumPerformToCompletion {
			sp.AchievedAt = &ts
		}
		st.Timeline = append(st.Timeline, CountedEvent{Skill: e.Skill, Timestamp: ts, Points: sp.Skill.PointIncrement})

		key := st.subjectOf[e.Skill]
		if g := st.Subjects[key]; g != nil {
			g.Points += sp.Skill.PointIncrement
			subjectLevels[key].observe(g.Points, ts)
		}
		if g := st.Projects[e.Skill.ProjectID]; g != nil {
			g.Points += sp.Skill.PointIncrement
			projectLevels[e.Skill.ProjectID].observe(g.Points, ts)
		}
	}

	for key, g := range st.Subjects {
		sub, _ := view.Subject(key.ProjectID, key.SubjectID)
		g.Level = LevelOf(g.Points, sub.Levels)
		g.Levels = subjectLevels[key].rows()
	}
	for id, g := range st.Projects {
		p, _ := view.Project(id)
		g.Level = LevelOf(g.Points, p.Levels)
		g.Levels = projectLevels[id].rows()
	}
	for ref, sp := range st.Skills {
		sp.Unlocked = view.IsUnlocked(ref, st.SkillComplete)
	}

	return st
}
