package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"stageflow/internal/config"
	"stageflow/internal/db"
	"stageflow/internal/domain"
	"stageflow/internal/engine"
	"stageflow/internal/engine/auth"
	"stageflow/internal/graph"
	"stageflow/internal/hub"
	"stageflow/internal/migrate"
)

type env struct {
	eng   engine.Engine
	clock time.Time
}

// mondayMorning is a Monday at 09:00 UTC, the opening instant of the
// default working calendar.
var mondayMorning = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newEnv(t *testing.T) *env {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := &env{clock: mondayMorning}
	e.eng = engine.New(conn, nil)
	e.eng.Now = func() time.Time { return e.clock }
	e.eng.Hub = hub.New(nil)
	return e
}

func (e *env) advance(d time.Duration) { e.clock = e.clock.Add(d) }

func (e *env) seedSpace(t *testing.T, id string, parallel bool) (domain.Space, map[string]domain.Group) {
	t.Helper()
	cfg := config.Default(id)
	cfg.ParallelTasks = parallel
	space, groups, err := e.eng.InitSpace(context.Background(), cfg, "alice")
	if err != nil {
		t.Fatalf("init space: %v", err)
	}
	byName := map[string]domain.Group{}
	for _, g := range groups {
		byName[g.Name] = g
	}
	return space, byName
}

func (e *env) createTask(t *testing.T, spaceID, title, owner string) domain.Task {
	t.Helper()
	task, err := e.eng.CreateTask(context.Background(), engine.TaskCreateOptions{
		SpaceID: spaceID, Title: title, OwnerID: owner, ActorID: "alice",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func TestInitSpaceSeedsTemplate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	space, groups := e.seedSpace(t, "acme", true)

	if space.ID != "acme" {
		t.Fatalf("space id = %s", space.ID)
	}
	if len(groups) != 4 {
		t.Fatalf("expected 4 groups, got %d", len(groups))
	}
	intake := groups["intake"]
	if !intake.IsStart || !intake.IsApprovalGate {
		t.Fatalf("intake should be start and approval gate: %+v", intake)
	}
	if !groups["done"].IsTerminal {
		t.Fatalf("done should be terminal")
	}
	build := groups["build"]
	if len(build.Dependencies) != 1 || build.Dependencies[0].DependsOnGroupID != intake.ID {
		t.Fatalf("build dependencies = %+v", build.Dependencies)
	}
	m, err := e.eng.Repo.GetMembership(ctx, "acme", "alice")
	if err != nil {
		t.Fatalf("get membership: %v", err)
	}
	if m.Role != "owner" {
		t.Fatalf("role = %s, want owner", m.Role)
	}
}

func TestInitSpaceNormalizesWorkingDays(t *testing.T) {
	e := newEnv(t)
	cfg := config.Default("acme")
	cfg.Calendar.WorkingDays = []string{"Friday", "MONDAY"}

	space, _, err := e.eng.InitSpace(context.Background(), cfg, "alice")
	if err != nil {
		t.Fatalf("init space: %v", err)
	}
	want := []string{"monday", "friday"}
	if len(space.WorkingDays) != len(want) {
		t.Fatalf("working days = %v, want %v", space.WorkingDays, want)
	}
	for i := range want {
		if space.WorkingDays[i] != want[i] {
			t.Fatalf("working days = %v, want %v", space.WorkingDays, want)
		}
	}
}

func TestCreateTaskStartsAtStartStage(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, groups := e.seedSpace(t, "acme", true)

	task := e.createTask(t, "acme", "ship the widget", "alice")
	if task.GroupID != groups["intake"].ID {
		t.Fatalf("task group = %s, want intake", task.GroupID)
	}
	if task.Status != engine.StatusInProgress {
		t.Fatalf("status = %s", task.Status)
	}
	if task.Classification != "in_progress" {
		t.Fatalf("classification = %s", task.Classification)
	}
	if task.DueAt == nil || task.StartedAt == nil {
		t.Fatalf("started/due not stamped: %+v", task)
	}
	history, err := e.eng.Repo.ListStageHistory(ctx, task.ID)
	if err != nil {
		t.Fatalf("list stage history: %v", err)
	}
	if len(history) != 1 || history[0].ExitedAt != nil {
		t.Fatalf("expected one open stage entry, got %+v", history)
	}
}

func TestCreateTaskRequiresMembership(t *testing.T) {
	e := newEnv(t)
	e.seedSpace(t, "acme", true)

	_, err := e.eng.CreateTask(context.Background(), engine.TaskCreateOptions{
		SpaceID: "acme", Title: "sneaky", ActorID: "mallory",
	})
	var forbidden auth.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected ForbiddenError, got %v", err)
	}
}

func TestSerialSpaceRejectsSecondActiveTask(t *testing.T) {
	e := newEnv(t)
	e.seedSpace(t, "serial", false)

	e.createTask(t, "serial", "first", "alice")
	_, err := e.eng.CreateTask(context.Background(), engine.TaskCreateOptions{
		SpaceID: "serial", Title: "second", ActorID: "alice",
	})
	var invalid engine.InvalidStateError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidStateError, got %v", err)
	}
}

func TestStatusTransitionRules(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seedSpace(t, "acme", true)
	task := e.createTask(t, "acme", "t", "alice")

	// paused may only resume, never complete directly
	if _, err := e.eng.SetTaskStatus(ctx, task.ID, engine.StatusPaused, "alice", ""); err != nil {
		t.Fatalf("pause: %v", err)
	}
	var invalid engine.InvalidStateError
	if _, err := e.eng.SetTaskStatus(ctx, task.ID, engine.StatusCompleted, "alice", ""); !errors.As(err, &invalid) {
		t.Fatalf("paused -> completed should be invalid, got %v", err)
	}
	if _, err := e.eng.SetTaskStatus(ctx, task.ID, engine.StatusInProgress, "alice", ""); err != nil {
		t.Fatalf("resume: %v", err)
	}
	// approval decisions never go through SetTaskStatus
	if _, err := e.eng.SetTaskStatus(ctx, task.ID, engine.StatusApproved, "alice", ""); !errors.As(err, &invalid) {
		t.Fatalf("direct approve should be invalid, got %v", err)
	}
	if _, err := e.eng.SetTaskStatus(ctx, task.ID, engine.StatusCompleted, "alice", ""); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := e.eng.SetTaskStatus(ctx, task.ID, engine.StatusPaused, "alice", ""); !errors.As(err, &invalid) {
		t.Fatalf("completed -> paused should be invalid, got %v", err)
	}
}

func TestPauseResumeAccounting(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seedSpace(t, "acme", true)
	task := e.createTask(t, "acme", "t", "alice")

	e.advance(1 * time.Hour)
	if _, err := e.eng.SetTaskStatus(ctx, task.ID, engine.StatusPaused, "alice", "lunch"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	e.advance(2 * time.Hour)
	if _, err := e.eng.SetTaskStatus(ctx, task.ID, engine.StatusInProgress, "alice", ""); err != nil {
		t.Fatalf("resume: %v", err)
	}
	e.advance(2 * time.Hour)
	got, err := e.eng.SetTaskStatus(ctx, task.ID, engine.StatusCompleted, "alice", "")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got.PausedHours != 2 {
		t.Fatalf("paused hours = %v, want 2", got.PausedHours)
	}
	if got.ActualHours == nil || *got.ActualHours != 3 {
		t.Fatalf("actual hours = %v, want 3", got.ActualHours)
	}
	if got.PauseStartedAt != nil {
		t.Fatalf("pause marker should be cleared")
	}
	// intake estimates zero hours, so five wall hours is a late finish
	if got.Classification != "late" || got.DelayHours != 5 {
		t.Fatalf("classification = %s delay = %v", got.Classification, got.DelayHours)
	}
}

func TestMoveBlockedBySequentialDependency(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, groups := e.seedSpace(t, "acme", true)
	task := e.createTask(t, "acme", "t", "alice")

	_, err := e.eng.MoveTask(ctx, engine.MoveOptions{
		TaskID: task.ID, TargetGroupID: groups["done"].ID, ActorID: "alice",
	})
	var unsat graph.UnsatisfiedError
	if !errors.As(err, &unsat) {
		t.Fatalf("expected UnsatisfiedError, got %v", err)
	}
	if unsat.Predecessor != groups["review"].ID {
		t.Fatalf("predecessor = %s, want review", unsat.Predecessor)
	}
	// a denied move leaves the task where it was
	after, err := e.eng.Repo.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if after.GroupID != groups["intake"].ID {
		t.Fatalf("task moved despite denial: %s", after.GroupID)
	}
}

func TestApprovalGateFlow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, groups := e.seedSpace(t, "acme", true)
	task := e.createTask(t, "acme", "t", "alice")

	// approval is only valid once the task is completed at the gate
	var invalid engine.InvalidStateError
	if _, err := e.eng.RecordApproval(ctx, task.ID, engine.StatusApproved, "alice", ""); !errors.As(err, &invalid) {
		t.Fatalf("approve before completion should be invalid, got %v", err)
	}
	if _, err := e.eng.SetTaskStatus(ctx, task.ID, engine.StatusCompleted, "alice", ""); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, err := e.eng.RecordApproval(ctx, task.ID, engine.StatusApproved, "alice", "looks good")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got.ApprovalStatus != "approved" || got.Status != engine.StatusApproved {
		t.Fatalf("approval not recorded: %+v", got)
	}

	moved, err := e.eng.MoveTask(ctx, engine.MoveOptions{
		TaskID: task.ID, TargetGroupID: groups["build"].ID, ActorID: "alice",
	})
	if err != nil {
		t.Fatalf("move to build: %v", err)
	}
	if moved.Status != engine.StatusInProgress {
		t.Fatalf("move should reset status, got %s", moved.Status)
	}
	// the decision persists across the move
	if moved.ApprovalStatus != "approved" {
		t.Fatalf("approval status = %s", moved.ApprovalStatus)
	}

	// review is a gate; the standing approval admits the task
	if _, err := e.eng.MoveTask(ctx, engine.MoveOptions{
		TaskID: task.ID, TargetGroupID: groups["review"].ID, ActorID: "alice",
	}); err != nil {
		t.Fatalf("move to review: %v", err)
	}
	if _, err := e.eng.SetTaskStatus(ctx, task.ID, engine.StatusCompleted, "alice", ""); err != nil {
		t.Fatalf("complete review: %v", err)
	}
	if _, err := e.eng.RecordApproval(ctx, task.ID, engine.StatusApproved, "alice", ""); err != nil {
		t.Fatalf("approve review: %v", err)
	}
	final, err := e.eng.MoveTask(ctx, engine.MoveOptions{
		TaskID: task.ID, TargetGroupID: groups["done"].ID, ActorID: "alice",
	})
	if err != nil {
		t.Fatalf("move to done: %v", err)
	}
	if final.GroupID != groups["done"].ID {
		t.Fatalf("task not in done: %s", final.GroupID)
	}
}

func TestRecordApprovalOutsideGate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, groups := e.seedSpace(t, "acme", true)
	task := e.createTask(t, "acme", "t", "alice")

	if _, err := e.eng.SetTaskStatus(ctx, task.ID, engine.StatusCompleted, "alice", ""); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := e.eng.RecordApproval(ctx, task.ID, engine.StatusApproved, "alice", ""); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := e.eng.MoveTask(ctx, engine.MoveOptions{
		TaskID: task.ID, TargetGroupID: groups["build"].ID, ActorID: "alice",
	}); err != nil {
		t.Fatalf("move: %v", err)
	}
	if _, err := e.eng.SetTaskStatus(ctx, task.ID, engine.StatusCompleted, "alice", ""); err != nil {
		t.Fatalf("complete build: %v", err)
	}
	_, err := e.eng.RecordApproval(ctx, task.ID, engine.StatusApproved, "alice", "")
	var invalid engine.InvalidStateError
	if !errors.As(err, &invalid) {
		t.Fatalf("approval outside a gate should be invalid, got %v", err)
	}
}

func TestMoveRecomputesDueFromTargetEstimate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, groups := e.seedSpace(t, "acme", true)
	task := e.createTask(t, "acme", "t", "alice")

	if _, err := e.eng.SetTaskStatus(ctx, task.ID, engine.StatusCompleted, "alice", ""); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := e.eng.RecordApproval(ctx, task.ID, engine.StatusApproved, "alice", ""); err != nil {
		t.Fatalf("approve: %v", err)
	}
	moved, err := e.eng.MoveTask(ctx, engine.MoveOptions{
		TaskID: task.ID, TargetGroupID: groups["build"].ID, ActorID: "alice",
	})
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if moved.EstimatedHours != 16 {
		t.Fatalf("estimated hours = %v, want 16", moved.EstimatedHours)
	}
	// 16 working hours from Monday 09:00 at 8h/day lands Tuesday 17:00
	wantDue := time.Date(2026, 3, 3, 17, 0, 0, 0, time.UTC).Format(time.RFC3339)
	if moved.DueAt == nil || *moved.DueAt != wantDue {
		t.Fatalf("due = %v, want %s", moved.DueAt, wantDue)
	}
	if moved.CompletedAt != nil || moved.ActualHours != nil {
		t.Fatalf("completion fields should reset: %+v", moved)
	}
}

func TestMoveClosesStageEntryWithPauseAccounting(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, groups := e.seedSpace(t, "acme", true)
	task := e.createTask(t, "acme", "t", "alice")

	e.advance(1 * time.Hour)
	if _, err := e.eng.SetTaskStatus(ctx, task.ID, engine.StatusPaused, "alice", ""); err != nil {
		t.Fatalf("pause: %v", err)
	}
	e.advance(1 * time.Hour)
	if _, err := e.eng.SetTaskStatus(ctx, task.ID, engine.StatusInProgress, "alice", ""); err != nil {
		t.Fatalf("resume: %v", err)
	}
	e.advance(1 * time.Hour)
	if _, err := e.eng.SetTaskStatus(ctx, task.ID, engine.StatusCompleted, "alice", ""); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := e.eng.RecordApproval(ctx, task.ID, engine.StatusApproved, "alice", ""); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := e.eng.MoveTask(ctx, engine.MoveOptions{
		TaskID: task.ID, TargetGroupID: groups["build"].ID, ActorID: "alice",
	}); err != nil {
		t.Fatalf("move: %v", err)
	}

	history, err := e.eng.Repo.ListStageHistory(ctx, task.ID)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(history))
	}
	closed, open := history[0], history[1]
	if closed.ExitedAt == nil {
		t.Fatalf("first entry should be closed")
	}
	// 3 wall hours in intake minus the 1h pause
	if closed.HoursSpent == nil || *closed.HoursSpent != 2 {
		t.Fatalf("hours spent = %v, want 2", closed.HoursSpent)
	}
	if open.ExitedAt != nil {
		t.Fatalf("second entry should be open")
	}
	if open.PausedHoursAtEntry != 1 {
		t.Fatalf("paused hours at entry = %v, want 1", open.PausedHoursAtEntry)
	}
	if open.GroupID != groups["build"].ID {
		t.Fatalf("open entry group = %s", open.GroupID)
	}
}

func TestNonOwnerMemberCannotMutateTask(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seedSpace(t, "acme", true)
	if _, err := e.eng.AddMember(ctx, "acme", "bob", "member", "alice"); err != nil {
		t.Fatalf("add member: %v", err)
	}
	task := e.createTask(t, "acme", "alice's task", "alice")

	_, err := e.eng.SetTaskStatus(ctx, task.ID, engine.StatusPaused, "bob", "")
	var forbidden auth.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected ForbiddenError, got %v", err)
	}
	// the owner and admins still can
	if _, err := e.eng.SetTaskStatus(ctx, task.ID, engine.StatusPaused, "alice", ""); err != nil {
		t.Fatalf("owner pause: %v", err)
	}
}

func TestDependencyCycleRejected(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, groups := e.seedSpace(t, "acme", true)

	// done -> review already exists; review -> done would close a loop
	_, err := e.eng.AddGroupDependency(ctx, groups["review"].ID, groups["done"].ID, graph.KindSequential, "alice")
	var cfgErr engine.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	// a parallel edge in the same direction is fine
	if _, err := e.eng.AddGroupDependency(ctx, groups["review"].ID, groups["done"].ID, graph.KindParallel, "alice"); err != nil {
		t.Fatalf("parallel edge: %v", err)
	}
}

func TestDeleteTaskCascades(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seedSpace(t, "acme", true)
	task := e.createTask(t, "acme", "t", "alice")
	if _, err := e.eng.AddComment(ctx, task.ID, "note", "alice"); err != nil {
		t.Fatalf("comment: %v", err)
	}

	if err := e.eng.DeleteTask(ctx, task.ID, "alice"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := e.eng.Repo.GetTask(ctx, task.ID); err == nil {
		t.Fatalf("task should be gone")
	}
	history, err := e.eng.Repo.ListStageHistory(ctx, task.ID)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("stage history should cascade, got %d rows", len(history))
	}
	comments, err := e.eng.Repo.ListComments(ctx, task.ID)
	if err != nil {
		t.Fatalf("list comments: %v", err)
	}
	if len(comments) != 0 {
		t.Fatalf("comments should cascade, got %d rows", len(comments))
	}
}

func TestHubSeesEngineEvents(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seedSpace(t, "acme", true)

	sub, err := e.eng.Hub.Subscribe(ctx, "acme", "alice", "Alice")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	task := e.createTask(t, "acme", "observable", "alice")

	var seen []hub.Event
	for len(sub.C) > 0 {
		seen = append(seen, <-sub.C)
	}
	found := false
	for _, evt := range seen {
		if evt.Type == hub.EventTaskCreated && evt.TaskID == task.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("task-created not observed; saw %+v", seen)
	}
}

func TestEngineBroadcastsActorName(t *testing.T) {
	e := newEnv(t)
	e.seedSpace(t, "acme", true)
	ctx := engine.WithActorName(context.Background(), "Alice")

	sub, err := e.eng.Hub.Subscribe(ctx, "acme", "alice", "Alice")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	task, err := e.eng.CreateTask(ctx, engine.TaskCreateOptions{
		SpaceID: "acme", Title: "named", ActorID: "alice",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	for len(sub.C) > 0 {
		evt := <-sub.C
		if evt.Type == hub.EventTaskCreated && evt.TaskID == task.ID {
			if evt.ActorName != "Alice" {
				t.Fatalf("actor name = %q, want Alice", evt.ActorName)
			}
			return
		}
	}
	t.Fatalf("task-created not observed")
}
