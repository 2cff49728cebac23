// Package graph evaluates stage-to-stage dependency edges for a space.
// Edges point from a group to a predecessor; sequential edges require the
// predecessor stage to be fully exited by a task before entry, parallel
// edges are informational only.
package graph

import (
	"fmt"

	"stageflow/internal/domain"
)

const (
	KindSequential = "sequential"
	KindParallel   = "parallel"
)

// UnsatisfiedError blocks a stage move; Predecessor names the unmet
// sequential dependency when one exists.
type UnsatisfiedError struct {
	GroupID     string
	Predecessor string
	Reason      string
}

func (e UnsatisfiedError) Error() string {
	return e.Reason
}

// CycleError rejects a sequential edge that would close a dependency cycle.
type CycleError struct {
	GroupID          string
	DependsOnGroupID string
}

func (e CycleError) Error() string {
	return fmt.Sprintf("dependency %s -> %s would create a cycle", e.GroupID, e.DependsOnGroupID)
}

// CanEnter checks whether a task may enter target. closedStages holds the
// group IDs for which the task has a closed (exited) stage-history entry.
// Rule order: approval gate first, then sequential predecessors.
func CanEnter(target domain.Group, task domain.Task, closedStages map[string]bool) error {
	if target.IsApprovalGate && task.ApprovalStatus != "approved" {
		return UnsatisfiedError{
			GroupID: target.ID,
			Reason:  fmt.Sprintf("approval required to enter stage %s", target.Name),
		}
	}
	for _, dep := range target.Dependencies {
		if dep.Kind != KindSequential {
			continue
		}
		if !closedStages[dep.DependsOnGroupID] {
			return UnsatisfiedError{
				GroupID:     target.ID,
				Predecessor: dep.DependsOnGroupID,
				Reason:      fmt.Sprintf("stage %s must be completed first", dep.DependsOnGroupID),
			}
		}
	}
	return nil
}

// EnsureAcyclic verifies that adding the sequential edge from -> to keeps
// the sequential dependency graph acyclic. edges maps each group to its
// existing sequential predecessors.
func EnsureAcyclic(edges map[string][]string, from, to string) error {
	if from == to {
		return CycleError{GroupID: from, DependsOnGroupID: to}
	}
	// A cycle exists iff `from` is already reachable from `to` via
	// predecessor edges.
	seen := map[string]bool{}
	stack := []string{to}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == from {
			return CycleError{GroupID: from, DependsOnGroupID: to}
		}
		if seen[cur] {
			continue
		}
		seen[cur] = true
		stack = append(stack, edges[cur]...)
	}
	return nil
}

// SequentialEdges indexes a dependency list by group, keeping only
// sequential edges.
func SequentialEdges(deps []domain.Dependency) map[string][]string {
	out := map[string][]string{}
	for _, d := range deps {
		if d.Kind != KindSequential {
			continue
		}
		out[d.GroupID] = append(out[d.GroupID], d.DependsOnGroupID)
	}
	return out
}

// ValidKind reports whether kind is a recognized edge kind.
func ValidKind(kind string) bool {
	return kind == KindSequential || kind == KindParallel
}
