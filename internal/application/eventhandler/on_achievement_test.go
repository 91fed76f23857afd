package eventhandler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/skillforge/internal/domain/shared"
	"github.com/alem-hub/skillforge/internal/infrastructure/messaging"
)

func TestOnAchievementHandler_Feed(t *testing.T) {
	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{})
	h := NewOnAchievementHandler(nil, FeedConfig{PerUser: 2})
	require.NoError(t, h.Register(bus))

	t0 := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, bus.Publish(shared.NewSkillAchievedEvent("u1", "web", "tags", t0)))
	require.NoError(t, bus.Publish(shared.NewBadgeAchievedEvent("u1", "", "global", t0.Add(2*time.Minute))))
	require.NoError(t, bus.Publish(shared.NewLevelAchievedEvent("u1", "web", "", 0, 1, t0.Add(time.Minute))))
	require.NoError(t, bus.Publish(shared.NewPointRejectedEvent("u1", "web", "tags", "SkillLocked", t0)))

	feed := h.Recent("u1", 0)
	require.Len(t, feed, 2, "oldest entry is evicted")
	assert.Equal(t, KindBadge, feed[0].Kind)
	assert.Equal(t, "global", feed[0].BadgeID)
	assert.Equal(t, KindLevel, feed[1].Kind)
	assert.Equal(t, 1, feed[1].Level)

	assert.Len(t, h.Recent("u1", 1), 1)
	assert.Empty(t, h.Recent("u2", 10))
}

func TestOnAchievementHandler_IgnoresOtherEvents(t *testing.T) {
	h := NewOnAchievementHandler(nil, FeedConfig{})
	assert.NoError(t, h.Handle(shared.NewCatalogChangedEvent("web", "project", 1)))
	assert.Empty(t, h.Recent("web", 0))
}
