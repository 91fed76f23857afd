package engine

import (
	"sort"

	"github.com/alem-hub/skillforge/internal/domain/badge"
	"github.com/alem-hub/skillforge/internal/domain/catalog"
	"github.com/alem-hub/skillforge/internal/domain/progress"
	"github.com/alem-hub/skillforge/internal/domain/shared"
)

// Achievements diffs two derived states of the same user and returns an event
// for every skill, level and badge that became achieved. Each event carries the
// timestamp of the point event that crossed the threshold.
func Achievements(userID string, before, after *progress.UserState, badgesBefore, badgesAfter []badge.Status) []shared.Event {
	var out []shared.Event

	for _, sk := range sortedSkills(after) {
		sp := after.Skills[sk]
		if sp.Complete() && !before.SkillComplete(sk) && sp.AchievedAt != nil {
			out = append(out, shared.NewSkillAchievedEvent(userID, sk.ProjectID, sk.SkillID, *sp.AchievedAt))
		}
	}

	for id, g := range after.Projects {
		prev := 0
		if p := before.Projects[id]; p != nil {
			prev = p.Level
		}
		if g.Level > prev {
			if at := g.LevelAchievedAt(g.Level); at != nil {
				out = append(out, shared.NewLevelAchievedEvent(userID, id, "", prev, g.Level, *at))
			}
		}
	}
	for key, g := range after.Subjects {
		prev := 0
		if p := before.Subjects[key]; p != nil {
			prev = p.Level
		}
		if g.Level > prev {
			if at := g.LevelAchievedAt(g.Level); at != nil {
				out = append(out, shared.NewLevelAchievedEvent(userID, key.ProjectID, key.SubjectID, prev, g.Level, *at))
			}
		}
	}

	had := make(map[catalog.BadgeKey]bool, len(badgesBefore))
	for _, s := range badgesBefore {
		if s.Achieved {
			had[s.Badge.Key()] = true
		}
	}
	for _, s := range badgesAfter {
		if s.Achieved && !had[s.Badge.Key()] && s.AchievedAt != nil {
			out = append(out, shared.NewBadgeAchievedEvent(userID, s.Badge.ProjectID, s.Badge.ID, *s.AchievedAt))
		}
	}
	return out
}

func sortedSkills(st *progress.UserState) []catalog.SkillRef {
	refs := make([]catalog.SkillRef, 0, len(st.Skills))
	for ref := range st.Skills {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Less(refs[j]) })
	return refs
}
