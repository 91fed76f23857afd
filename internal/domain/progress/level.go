package progress

import (
	"time"

	"github.com/alem-hub/skillforge/internal/domain/catalog"
)

// LevelOf returns the highest level whose threshold is <= total, or 0.
// It is a pure function of the points and the table.
func LevelOf(total int, table catalog.LevelTable) int {
	level := 0
	for _, th := range table {
		if th.MinPoints > total {
			break
		}
		level = th.Level
	}
	return level
}

// levelTracker records when cumulative points first crossed each threshold.
type levelTracker struct {
	table    catalog.LevelTable
	achieved map[int]time.Time
}

func newLevelTracker(table catalog.LevelTable) *levelTracker {
	return &levelTracker{table: table, achieved: make(map[int]time.Time)}
}

func (t *levelTracker) observe(total int, at time.Time) {
	for _, th := range t.table {
		if th.MinPoints > total {
			return
		}
		if _, ok := t.achieved[th.Level]; !ok {
			t.achieved[th.Level] = at
		}
	}
}

// LevelProgress describes one row of a level table for a user.
type LevelProgress struct {
	Level      int        `json:"level"`
	MinPoints  int        `json:"min_points"`
	AchievedAt *time.Time `json:"achieved_at,omitempty"`
}

func (t *levelTracker) rows() []LevelProgress {
	out := make([]LevelProgress, 0, len(t.table))
	for _, th := range t.table {
		row := LevelProgress{Level: th.Level, MinPoints: th.MinPoints}
		if at, ok := t.achieved[th.Level]; ok {
			at := at
			row.AchievedAt = &at
		}
		out = append(out, row)
	}
	return out
}
