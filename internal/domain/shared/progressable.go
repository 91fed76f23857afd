package shared

import "time"

// ProgressKind tags the entity behind a Progressable.
type ProgressKind string

const (
	KindSkill   ProgressKind = "skill"
	KindSubject ProgressKind = "subject"
	KindProject ProgressKind = "project"
	KindLevel   ProgressKind = "level"
	KindBadge   ProgressKind = "badge"
)

// Progressable is the common "percent complete" view shared by skills,
// subjects, projects, levels and badges.
type Progressable struct {
	Kind       ProgressKind `json:"kind"`
	ID         string       `json:"id"`
	Current    int          `json:"current"`
	Target     int          `json:"target"`
	AchievedAt *time.Time   `json:"achieved_at,omitempty"`
}

// Percent returns completion floored to an integer in [0, 100].
func (p Progressable) Percent() int {
	if p.Target <= 0 || p.Current <= 0 {
		return 0
	}
	if p.Current >= p.Target {
		return 100
	}
	return p.Current * 100 / p.Target
}

// Achieved reports whether the completion criterion has been met.
func (p Progressable) Achieved() bool {
	return p.AchievedAt != nil
}
