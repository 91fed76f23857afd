package engine

import (
	"context"
	"sort"
	"time"

	"github.com/alem-hub/skillforge/internal/domain/badge"
	"github.com/alem-hub/skillforge/internal/domain/catalog"
	"github.com/alem-hub/skillforge/internal/domain/progress"
)

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT
// The complete derived state of one user, computed from the event log against
// one catalog version. Snapshots are immutable once built.
// ══════════════════════════════════════════════════════════════════════════════

// SkillState is the per-skill part of a snapshot.
type SkillState struct {
	ProjectID       string     `json:"project_id"`
	SubjectID       string     `json:"subject_id"`
	SkillID         string     `json:"skill_id"`
	Occurrences     int        `json:"occurrences"`
	Counted         int        `json:"counted"`
	Target          int        `json:"target"`
	Points          int        `json:"points"`
	TotalPoints     int        `json:"total_points"`
	Percent         int        `json:"percent"`
	Complete        bool       `json:"complete"`
	Unlocked        bool       `json:"unlocked"`
	AchievedAt      *time.Time `json:"achieved_at,omitempty"`
	LastPerformedAt *time.Time `json:"last_performed_at,omitempty"`
}

// Ref returns the catalog reference of the skill.
func (s SkillState) Ref() catalog.SkillRef {
	return catalog.SkillRef{ProjectID: s.ProjectID, SkillID: s.SkillID}
}

// GroupState is a subject or project aggregate.
type GroupState struct {
	ProjectID   string                   `json:"project_id"`
	SubjectID   string                   `json:"subject_id,omitempty"`
	Points      int                      `json:"points"`
	TotalPoints int                      `json:"total_points"`
	Percent     int                      `json:"percent"`
	Level       int                      `json:"level"`
	Levels      []progress.LevelProgress `json:"levels"`
}

// Snapshot is the cached read model of a user.
type Snapshot struct {
	UserID         string                  `json:"user_id"`
	CatalogEpoch   string                  `json:"catalog_epoch"`
	CatalogVersion int64                   `json:"catalog_version"`
	LogSize        int                     `json:"log_size"`
	Throttled      int                     `json:"throttled"`
	Skills         []SkillState            `json:"skills"`
	Subjects       []GroupState            `json:"subjects"`
	Projects       []GroupState            `json:"projects"`
	Badges         []badge.Status          `json:"badges"`
	Timeline       []progress.CountedEvent `json:"timeline"`
	ComputedAt     time.Time               `json:"computed_at"`
}

// Skill looks up a skill state.
func (s *Snapshot) Skill(ref catalog.SkillRef) (SkillState, bool) {
	for _, sk := range s.Skills {
		if sk.ProjectID == ref.ProjectID && sk.SkillID == ref.SkillID {
			return sk, true
		}
	}
	return SkillState{}, false
}

// SkillComplete reports whether the user completed the skill.
func (s *Snapshot) SkillComplete(ref catalog.SkillRef) bool {
	sk, ok := s.Skill(ref)
	return ok && sk.Complete
}

// Project looks up a project aggregate.
func (s *Snapshot) Project(projectID string) (GroupState, bool) {
	for _, p := range s.Projects {
		if p.ProjectID == projectID {
			return p, true
		}
	}
	return GroupState{}, false
}

// SubjectsOf returns the subject aggregates of a project.
func (s *Snapshot) SubjectsOf(projectID string) []GroupState {
	var out []GroupState
	for _, g := range s.Subjects {
		if g.ProjectID == projectID {
			out = append(out, g)
		}
	}
	return out
}

// SkillsOfSubject returns the skill states of a subject.
func (s *Snapshot) SkillsOfSubject(projectID, subjectID string) []SkillState {
	var out []SkillState
	for _, sk := range s.Skills {
		if sk.ProjectID == projectID && sk.SubjectID == subjectID {
			out = append(out, sk)
		}
	}
	return out
}

// SnapshotCache stores the latest snapshot per user.
// Get returns (nil, nil) on a miss.
type SnapshotCache interface {
	Get(ctx context.Context, userID string) (*Snapshot, error)
	Put(ctx context.Context, s *Snapshot) error
	Invalidate(ctx context.Context, userID string) error
}

// Build projects a computed user state into a snapshot.
func Build(view *catalog.View, st *progress.UserState, logSize int, now time.Time) *Snapshot {
	snap := &Snapshot{
		UserID:         st.UserID,
		CatalogEpoch:   view.Epoch(),
		CatalogVersion: view.Version(),
		LogSize:        logSize,
		Throttled:      st.Throttled,
		Timeline:       append([]progress.CountedEvent(nil), st.Timeline...),
		ComputedAt:     now,
	}

	for _, sk := range view.Skills() {
		sp := st.Skill(sk.Ref())
		if sp == nil {
			continue
		}
		snap.Skills = append(snap.Skills, SkillState{
			ProjectID:       sk.ProjectID,
			SubjectID:       sk.SubjectID,
			SkillID:         sk.ID,
			Occurrences:     sp.Occurrences,
			Counted:         sp.Counted,
			Target:          sk.NumPerformToCompletion,
			Points:          sp.Points,
			TotalPoints:     sk.TotalPoints(),
			Percent:         sp.Percent(),
			Complete:        sp.Complete(),
			Unlocked:        sp.Unlocked,
			AchievedAt:      sp.AchievedAt,
			LastPerformedAt: sp.LastPerformedAt,
		})
	}

	for _, p := range view.Projects() {
		if g := st.Projects[p.ID]; g != nil {
			snap.Projects = append(snap.Projects, groupState(p.ID, "", g))
		}
		for _, sub := range view.SubjectsOf(p.ID) {
			if g := st.Subjects[sub.Key()]; g != nil {
				snap.Subjects = append(snap.Subjects, groupState(p.ID, sub.ID, g))
			}
		}
	}
	sort.SliceStable(snap.Subjects, func(i, j int) bool {
		if snap.Subjects[i].ProjectID != snap.Subjects[j].ProjectID {
			return snap.Subjects[i].ProjectID < snap.Subjects[j].ProjectID
		}
		return snap.Subjects[i].SubjectID < snap.Subjects[j].SubjectID
	})

	snap.Badges = badge.EvaluateAll(view, st)
	return snap
}

func groupState(projectID, subjectID string, g *progress.GroupProgress) GroupState {
	return GroupState{
		ProjectID:   projectID,
		SubjectID:   subjectID,
		Points:      g.Points,
		TotalPoints: g.TotalPoints,
		Percent:     g.Percent(),
		Level:       g.Level,
		Levels:      append([]progress.LevelProgress(nil), g.Levels...),
	}
}
