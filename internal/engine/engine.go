package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"stageflow/internal/calendar"
	"stageflow/internal/classify"
	"stageflow/internal/config"
	"stageflow/internal/domain"
	"stageflow/internal/engine/auth"
	"stageflow/internal/events"
	"stageflow/internal/graph"
	"stageflow/internal/hub"
	"stageflow/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Auth   auth.Service
	Hub    *hub.Hub
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Auth:   auth.Service{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// InvalidStateError rejects an operation not valid for the entity's
// current status.
type InvalidStateError struct {
	Reason string
}

func (e InvalidStateError) Error() string { return e.Reason }

// ConfigurationError reports an unusable space or workflow setup.
type ConfigurationError struct {
	Reason string
}

func (e ConfigurationError) Error() string { return e.Reason }

const (
	StatusInProgress = "in_progress"
	StatusPaused     = "paused"
	StatusCompleted  = "completed"
	StatusApproved   = "approved"
	StatusRejected   = "rejected"
)

type actorNameKey struct{}

// WithActorName attaches the acting actor's display name to the context.
// Hub broadcasts triggered by engine operations carry it alongside the
// actor id.
func WithActorName(ctx context.Context, name string) context.Context {
	if name == "" {
		return ctx
	}
	return context.WithValue(ctx, actorNameKey{}, name)
}

// ActorNameFromContext returns the display name set by WithActorName.
func ActorNameFromContext(ctx context.Context) string {
	name, _ := ctx.Value(actorNameKey{}).(string)
	return name
}

// InitSpace creates a space from config, seeding the workflow template and
// granting the acting actor the owner role.
func (e Engine) InitSpace(ctx context.Context, cfg *config.Config, actorID string) (domain.Space, []domain.Group, error) {
	if cfg == nil {
		return domain.Space{}, nil, errors.New("config not loaded")
	}
	if err := cfg.Validate(); err != nil {
		return domain.Space{}, nil, err
	}
	days, err := calendar.ParseWeekdays(cfg.Calendar.WorkingDays)
	if err != nil {
		return domain.Space{}, nil, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	s := domain.Space{
		ID:            cfg.Space.ID,
		Name:          cfg.Space.Name,
		DayStart:      cfg.Calendar.DayStart,
		DayEnd:        cfg.Calendar.DayEnd,
		// Stored canonically so listings and calendar lookups agree on
		// casing and order regardless of how the config spelled them.
		WorkingDays:   days.Names(),
		ParallelTasks: cfg.ParallelTasks,
		CreatedAt:     now,
	}
	if s.Name == "" {
		s.Name = s.ID
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, nil, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertSpaceTx(ctx, tx, s); err != nil {
		return s, nil, fmt.Errorf("insert space: %w", err)
	}
	if actorID == "" {
		actorID = "local-user"
	}
	if err := e.Repo.UpsertMembershipTx(ctx, tx, domain.Membership{
		SpaceID: s.ID, ActorID: actorID, Role: "owner", CreatedAt: now,
	}); err != nil {
		return s, nil, fmt.Errorf("insert membership: %w", err)
	}

	idsByName := map[string]string{}
	var groups []domain.Group
	for _, tmpl := range cfg.Workflow.Groups {
		g := domain.Group{
			ID:             uuid.NewSHA1(uuid.NameSpaceOID, []byte(s.ID+"|group|"+tmpl.Name)).String(),
			SpaceID:        s.ID,
			Name:           tmpl.Name,
			Position:       tmpl.Position,
			EstimatedHours: tmpl.EstimatedHours,
			IsStart:        tmpl.Start,
			IsApprovalGate: tmpl.ApprovalGate,
			IsTerminal:     tmpl.Terminal,
			CreatedAt:      now,
		}
		if err := e.Repo.InsertGroupTx(ctx, tx, g); err != nil {
			return s, nil, fmt.Errorf("insert group %s: %w", g.Name, err)
		}
		idsByName[g.Name] = g.ID
		groups = append(groups, g)
	}
	for i, tmpl := range cfg.Workflow.Groups {
		for _, dep := range tmpl.DependsOn {
			kind := dep.Kind
			if kind == "" {
				kind = graph.KindSequential
			}
			d := domain.Dependency{
				GroupID:          idsByName[tmpl.Name],
				DependsOnGroupID: idsByName[dep.Group],
				Kind:             kind,
			}
			if err := e.Repo.InsertGroupDependencyTx(ctx, tx, d); err != nil {
				return s, nil, fmt.Errorf("insert dependency: %w", err)
			}
			groups[i].Dependencies = append(groups[i].Dependencies, d)
		}
	}
	if err := e.Events.Append(ctx, tx, "space.init", s.ID, "space", s.ID, actorID, events.EventPayload{"groups": len(groups)}); err != nil {
		return s, nil, err
	}
	if err := tx.Commit(); err != nil {
		return s, nil, err
	}
	return s, groups, nil
}

// GroupCreateOptions are parameters for adding a workflow stage.
type GroupCreateOptions struct {
	ID             string
	SpaceID        string
	Name           string
	Position       int
	EstimatedHours float64
	IsStart        bool
	IsApprovalGate bool
	IsTerminal     bool
	ActorID        string
}

func (e Engine) CreateGroup(ctx context.Context, opts GroupCreateOptions) (domain.Group, error) {
	if opts.Name == "" {
		return domain.Group{}, errors.New("name is required")
	}
	if opts.EstimatedHours < 0 {
		return domain.Group{}, ConfigurationError{Reason: "estimated hours must be non-negative"}
	}
	if _, err := e.Repo.GetSpace(ctx, opts.SpaceID); err != nil {
		return domain.Group{}, err
	}
	if opts.IsStart {
		n, err := e.Repo.CountStartGroups(ctx, opts.SpaceID)
		if err != nil {
			return domain.Group{}, err
		}
		if n > 0 {
			return domain.Group{}, ConfigurationError{Reason: "space already has a start stage"}
		}
	}
	now := e.now().UTC().Format(time.RFC3339)
	id := opts.ID
	if id == "" {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(opts.SpaceID+"|group|"+opts.Name+"|"+now)).String()
	}
	g := domain.Group{
		ID:             id,
		SpaceID:        opts.SpaceID,
		Name:           opts.Name,
		Position:       opts.Position,
		EstimatedHours: opts.EstimatedHours,
		IsStart:        opts.IsStart,
		IsApprovalGate: opts.IsApprovalGate,
		IsTerminal:     opts.IsTerminal,
		CreatedAt:      now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return g, err
	}
	defer tx.Rollback()
	if err := e.Auth.RequireSpaceAdmin(ctx, tx, opts.SpaceID, opts.ActorID); err != nil {
		return g, err
	}
	if err := e.Repo.InsertGroupTx(ctx, tx, g); err != nil {
		return g, fmt.Errorf("insert group: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "group.created", g.SpaceID, "group", g.ID, opts.ActorID, events.EventPayload{"name": g.Name, "position": g.Position}); err != nil {
		return g, err
	}
	if err := tx.Commit(); err != nil {
		return g, err
	}
	return g, nil
}

// AddGroupDependency links a stage to a predecessor. Sequential edges are
// cycle-checked at insertion time; a cycle is a configuration error.
func (e Engine) AddGroupDependency(ctx context.Context, groupID, dependsOnID, kind, actorID string) (domain.Dependency, error) {
	if kind == "" {
		kind = graph.KindSequential
	}
	if !graph.ValidKind(kind) {
		return domain.Dependency{}, fmt.Errorf("invalid dependency kind %s", kind)
	}
	g, err := e.Repo.GetGroup(ctx, groupID)
	if err != nil {
		return domain.Dependency{}, err
	}
	pred, err := e.Repo.GetGroup(ctx, dependsOnID)
	if err != nil {
		return domain.Dependency{}, err
	}
	if g.SpaceID != pred.SpaceID {
		return domain.Dependency{}, InvalidStateError{Reason: "dependency must stay within one space"}
	}
	if kind == graph.KindSequential {
		all, err := e.Repo.ListSpaceDependencies(ctx, g.SpaceID)
		if err != nil {
			return domain.Dependency{}, err
		}
		if err := graph.EnsureAcyclic(graph.SequentialEdges(all), groupID, dependsOnID); err != nil {
			return domain.Dependency{}, ConfigurationError{Reason: err.Error()}
		}
	}
	d := domain.Dependency{GroupID: groupID, DependsOnGroupID: dependsOnID, Kind: kind}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return d, err
	}
	defer tx.Rollback()
	if err := e.Auth.RequireSpaceAdmin(ctx, tx, g.SpaceID, actorID); err != nil {
		return d, err
	}
	if err := e.Repo.InsertGroupDependencyTx(ctx, tx, d); err != nil {
		return d, err
	}
	if err := e.Events.Append(ctx, tx, "group.dependency.added", g.SpaceID, "group", groupID, actorID, events.EventPayload{
		"depends_on": dependsOnID,
		"kind":       kind,
	}); err != nil {
		return d, err
	}
	return d, tx.Commit()
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ID             string
	SpaceID        string
	Title          string
	Description    string
	OwnerID        string
	EstimatedHours *float64
	ActorID        string
}

// CreateTask anchors a new task to the space's start stage with a freshly
// computed due instant and an in_progress status entry.
func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if opts.Title == "" {
		return domain.Task{}, errors.New("title is required")
	}
	if opts.SpaceID == "" {
		return domain.Task{}, errors.New("space is required")
	}
	space, err := e.Repo.GetSpace(ctx, opts.SpaceID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := e.Auth.RequireMember(ctx, opts.SpaceID, opts.ActorID); err != nil {
		return domain.Task{}, err
	}
	if !space.ParallelTasks {
		n, err := e.Repo.CountActiveTasks(ctx, opts.SpaceID)
		if err != nil {
			return domain.Task{}, err
		}
		if n > 0 {
			return domain.Task{}, InvalidStateError{Reason: "space does not permit parallel in-flight tasks"}
		}
	}
	start, err := e.Repo.StartGroup(ctx, opts.SpaceID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Task{}, ConfigurationError{Reason: "space has no start stage"}
	}
	if err != nil {
		return domain.Task{}, err
	}

	estimated := start.EstimatedHours
	if opts.EstimatedHours != nil {
		estimated = *opts.EstimatedHours
	}
	now := e.now().UTC()
	due, err := e.dueInstant(space, now, estimated)
	if err != nil {
		return domain.Task{}, err
	}
	nowStr := now.Format(time.RFC3339)
	dueStr := due.Format(time.RFC3339)

	id := opts.ID
	if id == "" {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(opts.SpaceID+"|"+opts.Title+"|"+nowStr)).String()
	}
	var owner *string
	if opts.OwnerID != "" {
		owner = &opts.OwnerID
	}
	t := domain.Task{
		ID:             id,
		SpaceID:        opts.SpaceID,
		GroupID:        start.ID,
		Title:          opts.Title,
		Description:    opts.Description,
		OwnerID:        owner,
		Status:         StatusInProgress,
		ApprovalStatus: "pending",
		EstimatedHours: estimated,
		StartedAt:      &nowStr,
		DueAt:          &dueStr,
		Classification: classify.InProgress,
		CreatedAt:      nowStr,
		UpdatedAt:      nowStr,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTaskTx(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.Repo.InsertStageEntryTx(ctx, tx, domain.StageEntry{
		TaskID:       t.ID,
		GroupID:      start.ID,
		EnteredAt:    nowStr,
		OwnerAtEntry: owner,
		DueAt:        &dueStr,
	}); err != nil {
		return t, err
	}
	if err := e.Repo.InsertStatusEntryTx(ctx, tx, domain.StatusEntry{
		TaskID: t.ID, Status: StatusInProgress, ActorID: opts.ActorID, CreatedAt: nowStr,
	}); err != nil {
		return t, err
	}
	if err := e.Events.Append(ctx, tx, "task.created", t.SpaceID, "task", t.ID, opts.ActorID, events.EventPayload{
		"title": t.Title, "group_id": t.GroupID, "due_at": dueStr,
	}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	e.publish(ctx, t.SpaceID, opts.ActorID, hub.Event{
		Type:    hub.EventTaskCreated,
		TaskID:  t.ID,
		ActorID: opts.ActorID,
		Payload: map[string]any{"task": t},
	})
	return t, nil
}

func ensureStatusTransition(oldStatus, newStatus string) error {
	switch oldStatus {
	case StatusInProgress:
		if newStatus == StatusPaused || newStatus == StatusCompleted {
			return nil
		}
	case StatusPaused:
		if newStatus == StatusInProgress {
			return nil
		}
	case StatusCompleted:
		if newStatus == StatusApproved || newStatus == StatusRejected {
			return nil
		}
	}
	return InvalidStateError{Reason: fmt.Sprintf("invalid status transition %s -> %s", oldStatus, newStatus)}
}

// SetTaskStatus moves a task between in_progress, paused and completed,
// maintaining pause accounting and completion classification.
func (e Engine) SetTaskStatus(ctx context.Context, taskID, newStatus, actorID, note string) (domain.Task, error) {
	if newStatus == StatusApproved || newStatus == StatusRejected {
		return domain.Task{}, InvalidStateError{Reason: "approval decisions go through the approve operation"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return t, err
	}
	if err := e.Auth.RequireTaskCapability(ctx, tx, t.SpaceID, t.OwnerID, actorID); err != nil {
		return t, err
	}
	if err := ensureStatusTransition(t.Status, newStatus); err != nil {
		return t, err
	}
	space, err := e.Repo.GetSpace(ctx, t.SpaceID)
	if err != nil {
		return t, err
	}

	now := e.now().UTC()
	nowStr := now.Format(time.RFC3339)
	changed := map[string]any{"status": newStatus}

	switch newStatus {
	case StatusPaused:
		t.PauseStartedAt = &nowStr
	case StatusInProgress:
		if t.PauseStartedAt != nil {
			pausedSince, err := parseInstant(*t.PauseStartedAt)
			if err != nil {
				return t, err
			}
			t.PausedHours += calendar.ElapsedHours(pausedSince, now)
			t.PauseStartedAt = nil
			changed["paused_hours"] = t.PausedHours
		}
		if t.StartedAt == nil {
			due, err := e.dueInstant(space, now, t.EstimatedHours)
			if err != nil {
				return t, err
			}
			dueStr := due.Format(time.RFC3339)
			t.StartedAt = &nowStr
			t.DueAt = &dueStr
			changed["due_at"] = dueStr
		}
	case StatusCompleted:
		started, err := parseInstant(stringOr(t.StartedAt, nowStr))
		if err != nil {
			return t, err
		}
		actual := calendar.ElapsedHours(started, now) - t.PausedHours
		if actual < 0 {
			actual = 0
		}
		t.CompletedAt = &nowStr
		t.ActualHours = &actual
		outcome := classify.Classify(now, parseOptionalInstant(t.DueAt))
		t.Classification = outcome.Label
		t.DelayHours = outcome.DelayHours
		changed["actual_hours"] = actual
		changed["classification"] = outcome.Label
	}
	t.Status = newStatus
	t.UpdatedAt = nowStr

	if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.Repo.InsertStatusEntryTx(ctx, tx, domain.StatusEntry{
		TaskID: t.ID, Status: newStatus, ActorID: actorID, Note: note, CreatedAt: nowStr,
	}); err != nil {
		return t, err
	}
	if err := e.Events.Append(ctx, tx, "task.status", t.SpaceID, "task", t.ID, actorID, events.EventPayload(changed)); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	e.publish(ctx, t.SpaceID, actorID, hub.Event{
		Type:    hub.EventTaskUpdated,
		TaskID:  t.ID,
		ActorID: actorID,
		Payload: map[string]any{"changed": changed},
	})
	return t, nil
}

// MoveOptions are parameters for a stage move.
type MoveOptions struct {
	TaskID        string
	TargetGroupID string
	ActorID       string
	NewOwner      *string
}

// MoveTask transitions a task into a new stage: the dependency graph
// authorizes the move, the open stage entry is closed and classified, group
// membership swaps in the same transaction, and a fresh due instant is
// computed for the target stage.
func (e Engine) MoveTask(ctx context.Context, opts MoveOptions) (domain.Task, error) {
	target, err := e.Repo.GetGroup(ctx, opts.TargetGroupID)
	if err != nil {
		return domain.Task{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, opts.TaskID)
	if err != nil {
		return t, err
	}
	if err := e.Auth.RequireTaskCapability(ctx, tx, t.SpaceID, t.OwnerID, opts.ActorID); err != nil {
		return t, err
	}
	if target.SpaceID != t.SpaceID {
		return t, InvalidStateError{Reason: "target stage belongs to a different space"}
	}
	space, err := e.Repo.GetSpace(ctx, t.SpaceID)
	if err != nil {
		return t, err
	}

	closed, err := e.Repo.ClosedStageSetTx(ctx, tx, t.ID)
	if err != nil {
		return t, err
	}
	// The move itself closes the current stage entry, so the stage being
	// left satisfies sequential edges pointing at it.
	closed[t.GroupID] = true
	if err := graph.CanEnter(target, t, closed); err != nil {
		return t, err
	}

	now := e.now().UTC()
	nowStr := now.Format(time.RFC3339)

	// A pause interval ends when the stage is left.
	if t.PauseStartedAt != nil {
		pausedSince, err := parseInstant(*t.PauseStartedAt)
		if err != nil {
			return t, err
		}
		t.PausedHours += calendar.ElapsedHours(pausedSince, now)
		t.PauseStartedAt = nil
	}

	entry, err := e.Repo.OpenStageEntryTx(ctx, tx, t.ID)
	if err != nil {
		return t, err
	}
	enteredAt, err := parseInstant(entry.EnteredAt)
	if err != nil {
		return t, err
	}
	stagePaused := t.PausedHours - entry.PausedHoursAtEntry
	hoursSpent := calendar.ElapsedHours(enteredAt, now) - stagePaused
	if hoursSpent < 0 {
		hoursSpent = 0
	}
	outcome := classify.Classify(now, parseOptionalInstant(entry.DueAt))
	if err := e.Repo.CloseStageEntryTx(ctx, tx, t.ID, nowStr, hoursSpent, outcome.Label, outcome.DelayHours); err != nil {
		return t, err
	}

	due, err := e.dueInstant(space, now, target.EstimatedHours)
	if err != nil {
		return t, err
	}
	dueStr := due.Format(time.RFC3339)

	fromGroup := t.GroupID
	t.GroupID = target.ID
	t.Status = StatusInProgress
	t.EstimatedHours = target.EstimatedHours
	t.StartedAt = &nowStr
	t.DueAt = &dueStr
	t.CompletedAt = nil
	t.ActualHours = nil
	t.Classification = classify.InProgress
	t.DelayHours = 0
	if opts.NewOwner != nil {
		if *opts.NewOwner == "" {
			t.OwnerID = nil
		} else {
			t.OwnerID = opts.NewOwner
		}
	}
	t.UpdatedAt = nowStr

	if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.Repo.InsertStageEntryTx(ctx, tx, domain.StageEntry{
		TaskID:             t.ID,
		GroupID:            target.ID,
		EnteredAt:          nowStr,
		OwnerAtEntry:       t.OwnerID,
		DueAt:              &dueStr,
		PausedHoursAtEntry: t.PausedHours,
	}); err != nil {
		return t, err
	}
	if err := e.Repo.InsertStatusEntryTx(ctx, tx, domain.StatusEntry{
		TaskID: t.ID, Status: StatusInProgress, ActorID: opts.ActorID,
		Note: fmt.Sprintf("moved to %s", target.Name), CreatedAt: nowStr,
	}); err != nil {
		return t, err
	}
	if err := e.Events.Append(ctx, tx, "task.moved", t.SpaceID, "task", t.ID, opts.ActorID, events.EventPayload{
		"from_group": fromGroup,
		"to_group":   target.ID,
		"due_at":     dueStr,
	}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	e.publish(ctx, t.SpaceID, opts.ActorID, hub.Event{
		Type:    hub.EventTaskMoved,
		TaskID:  t.ID,
		ActorID: opts.ActorID,
		Payload: map[string]any{
			"from_group": fromGroup,
			"to_group":   target.ID,
			"position":   target.Position,
		},
	})
	return t, nil
}

// RecordApproval registers an approve/reject decision. Valid only while the
// task sits completed in an approval-gate stage.
func (e Engine) RecordApproval(ctx context.Context, taskID, decision, actorID, note string) (domain.Task, error) {
	if decision != StatusApproved && decision != StatusRejected {
		return domain.Task{}, fmt.Errorf("invalid approval decision %s", decision)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return t, err
	}
	if err := e.Auth.RequireTaskCapability(ctx, tx, t.SpaceID, t.OwnerID, actorID); err != nil {
		return t, err
	}
	group, err := e.Repo.GetGroup(ctx, t.GroupID)
	if err != nil {
		return t, err
	}
	if !group.IsApprovalGate {
		return t, InvalidStateError{Reason: fmt.Sprintf("stage %s is not an approval gate", group.Name)}
	}
	if err := ensureStatusTransition(t.Status, decision); err != nil {
		return t, err
	}

	nowStr := e.now().UTC().Format(time.RFC3339)
	t.ApprovalStatus = decision
	t.Status = decision
	t.UpdatedAt = nowStr

	if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.Repo.InsertStatusEntryTx(ctx, tx, domain.StatusEntry{
		TaskID: t.ID, Status: decision, ActorID: actorID, Note: note, CreatedAt: nowStr,
	}); err != nil {
		return t, err
	}
	if err := e.Events.Append(ctx, tx, "task.approval", t.SpaceID, "task", t.ID, actorID, events.EventPayload{"decision": decision}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	e.publish(ctx, t.SpaceID, actorID, hub.Event{
		Type:    hub.EventTaskUpdated,
		TaskID:  t.ID,
		ActorID: actorID,
		Payload: map[string]any{"changed": map[string]any{"approval_status": decision}},
	})
	return t, nil
}

// AddMember grants an actor a role in the space. Upserting an existing
// member changes their role.
func (e Engine) AddMember(ctx context.Context, spaceID, actorID, role, byActorID string) (domain.Membership, error) {
	switch role {
	case "owner", "admin", "member":
	default:
		return domain.Membership{}, fmt.Errorf("invalid role %s", role)
	}
	if _, err := e.Repo.GetSpace(ctx, spaceID); err != nil {
		return domain.Membership{}, err
	}
	m := domain.Membership{
		SpaceID:   spaceID,
		ActorID:   actorID,
		Role:      role,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return m, err
	}
	defer tx.Rollback()
	if err := e.Auth.RequireSpaceAdmin(ctx, tx, spaceID, byActorID); err != nil {
		return m, err
	}
	if err := e.Repo.UpsertMembershipTx(ctx, tx, m); err != nil {
		return m, err
	}
	if err := e.Events.Append(ctx, tx, "member.upserted", spaceID, "member", actorID, byActorID, events.EventPayload{"role": role}); err != nil {
		return m, err
	}
	return m, tx.Commit()
}

// AddComment appends a comment and announces it to space observers.
func (e Engine) AddComment(ctx context.Context, taskID, body, actorID string) (domain.Comment, error) {
	if body == "" {
		return domain.Comment{}, errors.New("body is required")
	}
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Comment{}, err
	}
	if err := e.Auth.RequireMember(ctx, t.SpaceID, actorID); err != nil {
		return domain.Comment{}, err
	}
	nowStr := e.now().UTC().Format(time.RFC3339)
	c := domain.Comment{
		ID:        uuid.New().String(),
		TaskID:    t.ID,
		SpaceID:   t.SpaceID,
		AuthorID:  actorID,
		Body:      body,
		CreatedAt: nowStr,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return c, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertCommentTx(ctx, tx, c); err != nil {
		return c, err
	}
	if err := e.Events.Append(ctx, tx, "comment.added", t.SpaceID, "comment", c.ID, actorID, events.EventPayload{"task_id": t.ID}); err != nil {
		return c, err
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	e.publish(ctx, t.SpaceID, actorID, hub.Event{
		Type:    hub.EventCommentAdded,
		TaskID:  t.ID,
		ActorID: actorID,
		Payload: map[string]any{
			"comment": map[string]any{"author": c.AuthorID, "body": c.Body, "timestamp": c.CreatedAt},
		},
	})
	return c, nil
}

// DeleteTask removes a task and its history.
func (e Engine) DeleteTask(ctx context.Context, taskID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return err
	}
	if err := e.Auth.RequireTaskCapability(ctx, tx, t.SpaceID, t.OwnerID, actorID); err != nil {
		return err
	}
	if err := e.Repo.DeleteTaskTx(ctx, tx, taskID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "task.deleted", t.SpaceID, "task", t.ID, actorID, nil); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.publish(ctx, t.SpaceID, actorID, hub.Event{
		Type:    hub.EventTaskDeleted,
		TaskID:  t.ID,
		ActorID: actorID,
	})
	return nil
}

// DeleteSpace removes a space, cascading to its groups, tasks and history.
func (e Engine) DeleteSpace(ctx context.Context, spaceID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Auth.RequireSpaceAdmin(ctx, tx, spaceID, actorID); err != nil {
		return err
	}
	if err := e.Repo.DeleteSpaceTx(ctx, tx, spaceID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "space.deleted", "", "space", spaceID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// --- helpers ---

func (e Engine) dueInstant(space domain.Space, start time.Time, hours float64) (time.Time, error) {
	window, err := calendar.ParseWindow(space.DayStart, space.DayEnd)
	if err != nil {
		return time.Time{}, err
	}
	days, err := calendar.ParseWeekdays(space.WorkingDays)
	if err != nil {
		return time.Time{}, err
	}
	return calendar.DueInstant(start, hours, window, days)
}

// publish hands an event to the hub. Delivery is best-effort; failures
// never fail the committed mutation.
func (e Engine) publish(ctx context.Context, spaceID, actorID string, evt hub.Event) {
	if e.Hub == nil {
		return
	}
	if evt.ActorName == "" {
		evt.ActorName = ActorNameFromContext(ctx)
	}
	_ = e.Hub.Publish(ctx, spaceID, actorID, evt)
}

func parseInstant(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

func parseOptionalInstant(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return nil
	}
	return &t
}

func stringOr(s *string, fallback string) string {
	if s != nil {
		return *s
	}
	return fallback
}
