package progress

import (
	"fmt"
	"time"

	"github.com/alem-hub/skillforge/internal/domain/catalog"
)

// Decision is the throttle guard's verdict for one incoming event.
type Decision struct {
	Admit  bool
	Reason string
	// WindowCount is the highest number of accepted events found in any
	// window that would contain the incoming event.
	WindowCount int
}

// Admit decides whether an event at ts counts for skill, given the user's
// prior events for that skill.
//
// With a zero interval every event is admitted. Otherwise the event is
// admitted only if no window of length pointIncrementInterval containing ts
// already holds numMaxOccurrencesIncrementInterval accepted events. Checking
// every containing window, not just the trailing one ending at ts, keeps the
// cap intact when events arrive out of order.
func Admit(skill catalog.Skill, ts time.Time, prior []PointEvent) Decision {
	interval := skill.Interval()
	if interval <= 0 || skill.Unlimited() {
		return Decision{Admit: true}
	}

	// Accepted timestamps that share at least one window with ts.
	var near []time.Time
	for _, e := range prior {
		if !e.Accepted() || e.Skill != skill.Ref() {
			continue
		}
		if e.Timestamp.After(ts.Add(-interval)) && e.Timestamp.Before(ts.Add(interval)) {
			near = append(near, e.Timestamp)
		}
	}

	// A window (end-interval, end] contains ts iff end is in [ts, ts+interval).
	// The count only changes at event timestamps, so those ends are enough.
	ends := []time.Time{ts}
	for _, t := range near {
		if !t.Before(ts) {
			ends = append(ends, t)
		}
	}

	worst := 0
	for _, end := range ends {
		n := 0
		for _, t := range near {
			if t.After(end.Add(-interval)) && !t.After(end) {
				n++
			}
		}
		if n > worst {
			worst = n
		}
	}

	if worst >= skill.NumMaxOccurrencesIncrementInterval {
		return Decision{
			Admit:       false,
			Reason:      fmt.Sprintf("only %d occurrence(s) allowed every %s", skill.NumMaxOccurrencesIncrementInterval, interval),
			WindowCount: worst,
		}
	}
	return Decision{Admit: true, WindowCount: worst}
}
