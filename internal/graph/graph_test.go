package graph

import (
	"errors"
	"testing"

	"stageflow/internal/domain"
)

func group(id string, gate bool, deps ...domain.Dependency) domain.Group {
	return domain.Group{ID: id, Name: id, IsApprovalGate: gate, Dependencies: deps}
}

func seq(group, dependsOn string) domain.Dependency {
	return domain.Dependency{GroupID: group, DependsOnGroupID: dependsOn, Kind: KindSequential}
}

func par(group, dependsOn string) domain.Dependency {
	return domain.Dependency{GroupID: group, DependsOnGroupID: dependsOn, Kind: KindParallel}
}

func TestCanEnterSequentialGate(t *testing.T) {
	target := group("review", false, seq("review", "build"))
	task := domain.Task{ID: "t1", ApprovalStatus: "pending"}

	err := CanEnter(target, task, map[string]bool{})
	var unsat UnsatisfiedError
	if !errors.As(err, &unsat) {
		t.Fatalf("expected UnsatisfiedError, got %v", err)
	}
	if unsat.Predecessor != "build" {
		t.Fatalf("predecessor = %q, want build", unsat.Predecessor)
	}

	if err := CanEnter(target, task, map[string]bool{"build": true}); err != nil {
		t.Fatalf("expected entry allowed: %v", err)
	}
}

func TestCanEnterApprovalGate(t *testing.T) {
	target := group("release", true)
	task := domain.Task{ID: "t1", ApprovalStatus: "pending"}

	err := CanEnter(target, task, map[string]bool{})
	var unsat UnsatisfiedError
	if !errors.As(err, &unsat) {
		t.Fatalf("expected UnsatisfiedError, got %v", err)
	}
	if unsat.Predecessor != "" {
		t.Fatalf("approval denial should not name a predecessor")
	}

	task.ApprovalStatus = "approved"
	if err := CanEnter(target, task, map[string]bool{}); err != nil {
		t.Fatalf("expected entry after approval: %v", err)
	}
}

func TestCanEnterApprovalCheckedBeforeDependencies(t *testing.T) {
	target := group("release", true, seq("release", "build"))
	task := domain.Task{ID: "t1", ApprovalStatus: "pending"}
	err := CanEnter(target, task, map[string]bool{})
	var unsat UnsatisfiedError
	if !errors.As(err, &unsat) {
		t.Fatalf("expected UnsatisfiedError, got %v", err)
	}
	if unsat.Predecessor != "" {
		t.Fatalf("approval rule should fire before dependency rule")
	}
}

func TestParallelEdgesImposeNothing(t *testing.T) {
	target := group("qa", false, par("qa", "docs"))
	task := domain.Task{ID: "t1", ApprovalStatus: "pending"}
	if err := CanEnter(target, task, map[string]bool{}); err != nil {
		t.Fatalf("parallel edge must not block: %v", err)
	}
}

func TestEnsureAcyclic(t *testing.T) {
	edges := map[string][]string{
		"c": {"b"},
		"b": {"a"},
	}
	if err := EnsureAcyclic(edges, "d", "c"); err != nil {
		t.Fatalf("acyclic edge rejected: %v", err)
	}
	// a -> c would close a cycle a <- b <- c.
	err := EnsureAcyclic(edges, "a", "c")
	var cyc CycleError
	if !errors.As(err, &cyc) {
		t.Fatalf("expected CycleError, got %v", err)
	}
	if err := EnsureAcyclic(edges, "a", "a"); err == nil {
		t.Fatalf("self edge must be rejected")
	}
}

func TestSequentialEdges(t *testing.T) {
	deps := []domain.Dependency{seq("b", "a"), par("b", "x"), seq("c", "b")}
	edges := SequentialEdges(deps)
	if len(edges["b"]) != 1 || edges["b"][0] != "a" {
		t.Fatalf("unexpected edges for b: %v", edges["b"])
	}
	if len(edges["c"]) != 1 {
		t.Fatalf("unexpected edges for c: %v", edges["c"])
	}
}
