package progress

import (
	"time"

	"github.com/alem-hub/skillforge/internal/domain/shared"
)

// DailyPoints is one point of the cumulative points chart.
type DailyPoints struct {
	Day    string `json:"day"`
	Earned int    `json:"earned"`
	Points int    `json:"points"`
}

// PointHistory returns cumulative counted points per calendar day in loc
// (nil means UTC) for a project. timeline must be ordered by timestamp, as
// UserState.Timeline is. Days without counted events are omitted.
func PointHistory(timeline []CountedEvent, projectID string, loc *time.Location) []DailyPoints {
	var out []DailyPoints
	total := 0
	for _, e := range timeline {
		if e.Skill.ProjectID != projectID {
			continue
		}
		total += e.Points
		day := shared.DayKey(e.Timestamp, loc)
		if n := len(out); n > 0 && out[n-1].Day == day {
			out[n-1].Earned += e.Points
			out[n-1].Points = total
			continue
		}
		out = append(out, DailyPoints{Day: day, Earned: e.Points, Points: total})
	}
	return out
}
