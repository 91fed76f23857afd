package dependency

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/skillforge/internal/domain/shared"
)

func TestGraph_AddEdgeRejectsCycle(t *testing.T) {
	g := New[string]()
	require.NoError(t, g.AddEdge("A", "B"))
	require.NoError(t, g.AddEdge("B", "C"))

	err := g.AddEdge("C", "A")
	assert.True(t, errors.Is(err, shared.ErrCycleDetected))

	// Graph unchanged
	assert.Equal(t, 2, g.Len())
	assert.Empty(t, g.PrerequisitesOf("C"))
	assert.Empty(t, g.DependentsOf("A"))
}

func TestGraph_SelfEdge(t *testing.T) {
	g := New[string]()
	err := g.AddEdge("A", "A")
	assert.ErrorIs(t, err, shared.ErrCycleDetected)
	assert.Equal(t, 0, g.Len())
}

func TestGraph_DuplicateEdgeIsNoop(t *testing.T) {
	g := New[string]()
	require.NoError(t, g.AddEdge("A", "B"))
	require.NoError(t, g.AddEdge("A", "B"))
	assert.Equal(t, 1, g.Len())
	assert.Equal(t, []string{"A"}, g.DependentsOf("B"))
}

func TestGraph_DiamondIsAllowed(t *testing.T) {
	g := New[string]()
	require.NoError(t, g.AddEdge("D", "B"))
	require.NoError(t, g.AddEdge("D", "C"))
	require.NoError(t, g.AddEdge("B", "A"))
	require.NoError(t, g.AddEdge("C", "A"))

	assert.True(t, g.HasPath("D", "A"))
	assert.False(t, g.HasPath("A", "D"))
	assert.ElementsMatch(t, []string{"B", "C"}, g.DependentsOf("A"))
}

func TestGraph_IsUnlocked(t *testing.T) {
	g := New[string]()
	require.NoError(t, g.AddEdge("dependent", "p1"))
	require.NoError(t, g.AddEdge("dependent", "p2"))

	done := map[string]bool{"p1": true}
	complete := func(k string) bool { return done[k] }

	assert.False(t, g.IsUnlocked("dependent", complete))
	assert.Equal(t, []string{"p2"}, g.UnmetPrerequisites("dependent", complete))
	assert.True(t, g.IsUnlocked("p1", complete), "skill without prerequisites is unlocked")

	done["p2"] = true
	assert.True(t, g.IsUnlocked("dependent", complete))
	assert.Empty(t, g.UnmetPrerequisites("dependent", complete))
}

func TestGraph_CloneIsIndependent(t *testing.T) {
	g := New[string]()
	require.NoError(t, g.AddEdge("A", "B"))

	c := g.Clone()
	require.NoError(t, c.AddEdge("B", "C"))

	assert.Equal(t, 1, g.Len())
	assert.Equal(t, 2, c.Len())
}
