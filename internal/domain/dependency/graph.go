// Package dependency maintains the skill prerequisite graph.
//
// Edges point from a dependent skill to the skill it requires. The edge set is
// kept acyclic at write time: AddEdge runs a reachability check before the edge
// is committed, so evaluation code never needs traversal guards.
package dependency

import (
	"fmt"

	"github.com/alem-hub/skillforge/internal/domain/shared"
)

// Edge is a single dependent -> prerequisite relation.
type Edge[K comparable] struct {
	Dependent    K `json:"dependent"`
	Prerequisite K `json:"prerequisite"`
}

// Graph is a directed acyclic graph of prerequisites.
// Adjacency lists keep insertion order so listings are deterministic.
// Graph is not safe for concurrent use; the catalog guards it.
type Graph[K comparable] struct {
	prerequisites map[K][]K
	dependents    map[K][]K
}

// New creates an empty graph.
func New[K comparable]() *Graph[K] {
	return &Graph[K]{
		prerequisites: make(map[K][]K),
		dependents:    make(map[K][]K),
	}
}

// AddEdge records that dependent requires prerequisite.
// Adding an existing edge is a no-op. An edge that would close a cycle is
// rejected with ErrCycleDetected and the graph is left unchanged.
func (g *Graph[K]) AddEdge(dependent, prerequisite K) error {
	if dependent == prerequisite {
		return shared.NewDomainError("dependency", "AddEdge", shared.ErrCycleDetected,
			fmt.Sprintf("skill %v cannot depend on itself", dependent))
	}
	if contains(g.prerequisites[dependent], prerequisite) {
		return nil
	}
	if g.HasPath(prerequisite, dependent) {
		return shared.NewDomainError("dependency", "AddEdge", shared.ErrCycleDetected,
			fmt.Sprintf("%v already depends on %v", prerequisite, dependent))
	}

	g.prerequisites[dependent] = append(g.prerequisites[dependent], prerequisite)
	g.dependents[prerequisite] = append(g.dependents[prerequisite], dependent)
	return nil
}

// HasPath reports whether to is reachable from from by following prerequisite edges.
func (g *Graph[K]) HasPath(from, to K) bool {
	if from == to {
		return true
	}
	visited := map[K]bool{from: true}
	stack := []K{from}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, next := range g.prerequisites[n] {
			if next == to {
				return true
			}
			if !visited[next] {
				visited[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}

// PrerequisitesOf returns the direct prerequisites of k.
func (g *Graph[K]) PrerequisitesOf(k K) []K {
	return append([]K(nil), g.prerequisites[k]...)
}

// DependentsOf returns the skills that directly require k.
func (g *Graph[K]) DependentsOf(k K) []K {
	return append([]K(nil), g.dependents[k]...)
}

// IsUnlocked reports whether every direct prerequisite of k is complete.
// A skill with no prerequisites is always unlocked.
func (g *Graph[K]) IsUnlocked(k K, complete func(K) bool) bool {
	for _, p := range g.prerequisites[k] {
		if !complete(p) {
			return false
		}
	}
	return true
}

// UnmetPrerequisites returns the direct prerequisites of k that are not complete.
func (g *Graph[K]) UnmetPrerequisites(k K, complete func(K) bool) []K {
	var out []K
	for _, p := range g.prerequisites[k] {
		if !complete(p) {
			out = append(out, p)
		}
	}
	return out
}

// Edges returns all edges. Order is unspecified.
func (g *Graph[K]) Edges() []Edge[K] {
	var out []Edge[K]
	for dep, prereqs := range g.prerequisites {
		for _, p := range prereqs {
			out = append(out, Edge[K]{Dependent: dep, Prerequisite: p})
		}
	}
	return out
}

// Len returns the number of edges.
func (g *Graph[K]) Len() int {
	n := 0
	for _, prereqs := range g.prerequisites {
		n += len(prereqs)
	}
	return n
}

// Clone returns a deep copy.
func (g *Graph[K]) Clone() *Graph[K] {
	c := New[K]()
	for k, v := range g.prerequisites {
		c.prerequisites[k] = append([]K(nil), v...)
	}
	for k, v := range g.dependents {
		c.dependents[k] = append([]K(nil), v...)
	}
	return c
}

func contains[K comparable](list []K, k K) bool {
	for _, v := range list {
		if v == k {
			return true
		}
	}
	return false
}
