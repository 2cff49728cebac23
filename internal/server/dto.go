package server

import (
	"stageflow/internal/domain"
)

type CreateSpaceRequest struct {
	ID            string                `json:"id"`
	Name          string                `json:"name,omitempty"`
	DayStart      string                `json:"day_start,omitempty" example:"09:00"`
	DayEnd        string                `json:"day_end,omitempty" example:"17:00"`
	WorkingDays   []string              `json:"working_days,omitempty"`
	ParallelTasks *bool                 `json:"parallel_tasks,omitempty"`
	Groups        []CreateGroupTemplate `json:"groups,omitempty"`
}

type CreateGroupTemplate struct {
	Name           string                 `json:"name"`
	Position       int                    `json:"position"`
	EstimatedHours float64                `json:"estimated_hours,omitempty"`
	Start          bool                   `json:"start,omitempty"`
	ApprovalGate   bool                   `json:"approval_gate,omitempty"`
	Terminal       bool                   `json:"terminal,omitempty"`
	DependsOn      []CreateDependencyLink `json:"depends_on,omitempty"`
}

type CreateDependencyLink struct {
	Group string `json:"group"`
	Kind  string `json:"kind,omitempty" enum:"sequential,parallel"`
}

type SpaceResponse struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	DayStart      string   `json:"day_start"`
	DayEnd        string   `json:"day_end"`
	WorkingDays   []string `json:"working_days"`
	ParallelTasks bool     `json:"parallel_tasks"`
	CreatedAt     string   `json:"created_at"`
}

func spaceResponse(s domain.Space) SpaceResponse {
	return SpaceResponse{
		ID:            s.ID,
		Name:          s.Name,
		DayStart:      s.DayStart,
		DayEnd:        s.DayEnd,
		WorkingDays:   s.WorkingDays,
		ParallelTasks: s.ParallelTasks,
		CreatedAt:     s.CreatedAt,
	}
}

type AddMemberRequest struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role" enum:"owner,admin,member"`
}

type MemberResponse struct {
	SpaceID   string `json:"space_id"`
	ActorID   string `json:"actor_id"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
}

func memberResponse(m domain.Membership) MemberResponse {
	return MemberResponse{SpaceID: m.SpaceID, ActorID: m.ActorID, Role: m.Role, CreatedAt: m.CreatedAt}
}

type CreateGroupRequest struct {
	ID             string  `json:"id,omitempty"`
	Name           string  `json:"name"`
	Position       int     `json:"position"`
	EstimatedHours float64 `json:"estimated_hours,omitempty"`
	Start          bool    `json:"start,omitempty"`
	ApprovalGate   bool    `json:"approval_gate,omitempty"`
	Terminal       bool    `json:"terminal,omitempty"`
}

type AddDependencyRequest struct {
	DependsOn string `json:"depends_on"`
	Kind      string `json:"kind,omitempty" enum:"sequential,parallel"`
}

type DependencyResponse struct {
	GroupID   string `json:"group_id"`
	DependsOn string `json:"depends_on"`
	Kind      string `json:"kind"`
}

type GroupResponse struct {
	ID             string               `json:"id"`
	SpaceID        string               `json:"space_id"`
	Name           string               `json:"name"`
	Position       int                  `json:"position"`
	EstimatedHours float64              `json:"estimated_hours"`
	IsStart        bool                 `json:"is_start"`
	IsApprovalGate bool                 `json:"is_approval_gate"`
	IsTerminal     bool                 `json:"is_terminal"`
	Dependencies   []DependencyResponse `json:"dependencies"`
	CreatedAt      string               `json:"created_at"`
}

func groupResponse(g domain.Group) GroupResponse {
	deps := []DependencyResponse{}
	for _, d := range g.Dependencies {
		deps = append(deps, DependencyResponse{GroupID: d.GroupID, DependsOn: d.DependsOnGroupID, Kind: d.Kind})
	}
	return GroupResponse{
		ID:             g.ID,
		SpaceID:        g.SpaceID,
		Name:           g.Name,
		Position:       g.Position,
		EstimatedHours: g.EstimatedHours,
		IsStart:        g.IsStart,
		IsApprovalGate: g.IsApprovalGate,
		IsTerminal:     g.IsTerminal,
		Dependencies:   deps,
		CreatedAt:      g.CreatedAt,
	}
}

func mapGroups(items []domain.Group) []GroupResponse {
	res := []GroupResponse{}
	for _, g := range items {
		res = append(res, groupResponse(g))
	}
	return res
}

type CreateTaskRequest struct {
	ID             string   `json:"id,omitempty"`
	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	OwnerID        string   `json:"owner_id,omitempty"`
	EstimatedHours *float64 `json:"estimated_hours,omitempty"`
}

type SetStatusRequest struct {
	Status string `json:"status" enum:"in_progress,paused,completed"`
	Note   string `json:"note,omitempty"`
}

type MoveTaskRequest struct {
	GroupID string  `json:"group_id"`
	OwnerID *string `json:"owner_id,omitempty"`
}

type ApprovalRequest struct {
	Decision string `json:"decision" enum:"approved,rejected"`
	Note     string `json:"note,omitempty"`
}

type TaskResponse struct {
	ID             string   `json:"id"`
	SpaceID        string   `json:"space_id"`
	GroupID        string   `json:"group_id"`
	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	OwnerID        *string  `json:"owner_id,omitempty"`
	Status         string   `json:"status"`
	ApprovalStatus string   `json:"approval_status"`
	EstimatedHours float64  `json:"estimated_hours"`
	StartedAt      *string  `json:"started_at,omitempty"`
	DueAt          *string  `json:"due_at,omitempty"`
	CompletedAt    *string  `json:"completed_at,omitempty"`
	PausedHours    float64  `json:"paused_hours"`
	ActualHours    *float64 `json:"actual_hours,omitempty"`
	Classification string   `json:"classification"`
	DelayHours     float64  `json:"delay_hours"`
	CreatedAt      string   `json:"created_at"`
	UpdatedAt      string   `json:"updated_at"`
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:             t.ID,
		SpaceID:        t.SpaceID,
		GroupID:        t.GroupID,
		Title:          t.Title,
		Description:    t.Description,
		OwnerID:        t.OwnerID,
		Status:         t.Status,
		ApprovalStatus: t.ApprovalStatus,
		EstimatedHours: t.EstimatedHours,
		StartedAt:      t.StartedAt,
		DueAt:          t.DueAt,
		CompletedAt:    t.CompletedAt,
		PausedHours:    t.PausedHours,
		ActualHours:    t.ActualHours,
		Classification: t.Classification,
		DelayHours:     t.DelayHours,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
}

func mapTasks(items []domain.Task) []TaskResponse {
	res := []TaskResponse{}
	for _, t := range items {
		res = append(res, taskResponse(t))
	}
	return res
}

type StageEntryResponse struct {
	GroupID            string   `json:"group_id"`
	EnteredAt          string   `json:"entered_at"`
	ExitedAt           *string  `json:"exited_at,omitempty"`
	OwnerAtEntry       *string  `json:"owner_at_entry,omitempty"`
	DueAt              *string  `json:"due_at,omitempty"`
	PausedHoursAtEntry float64  `json:"paused_hours_at_entry"`
	HoursSpent         *float64 `json:"hours_spent,omitempty"`
	Classification     *string  `json:"classification,omitempty"`
	DelayHours         *float64 `json:"delay_hours,omitempty"`
}

type StatusEntryResponse struct {
	Status    string `json:"status"`
	ActorID   string `json:"actor_id"`
	Note      string `json:"note,omitempty"`
	CreatedAt string `json:"created_at"`
}

type TaskHistoryResponse struct {
	Stages   []StageEntryResponse  `json:"stages"`
	Statuses []StatusEntryResponse `json:"statuses"`
}

func historyResponse(stages []domain.StageEntry, statuses []domain.StatusEntry) TaskHistoryResponse {
	res := TaskHistoryResponse{Stages: []StageEntryResponse{}, Statuses: []StatusEntryResponse{}}
	for _, e := range stages {
		res.Stages = append(res.Stages, StageEntryResponse{
			GroupID:            e.GroupID,
			EnteredAt:          e.EnteredAt,
			ExitedAt:           e.ExitedAt,
			OwnerAtEntry:       e.OwnerAtEntry,
			DueAt:              e.DueAt,
			PausedHoursAtEntry: e.PausedHoursAtEntry,
			HoursSpent:         e.HoursSpent,
			Classification:     e.Classification,
			DelayHours:         e.DelayHours,
		})
	}
	for _, s := range statuses {
		res.Statuses = append(res.Statuses, StatusEntryResponse{
			Status: s.Status, ActorID: s.ActorID, Note: s.Note, CreatedAt: s.CreatedAt,
		})
	}
	return res
}

type AddCommentRequest struct {
	Body string `json:"body"`
}

type CommentResponse struct {
	ID        string `json:"id"`
	TaskID    string `json:"task_id"`
	AuthorID  string `json:"author_id"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at"`
}

func commentResponse(c domain.Comment) CommentResponse {
	return CommentResponse{ID: c.ID, TaskID: c.TaskID, AuthorID: c.AuthorID, Body: c.Body, CreatedAt: c.CreatedAt}
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	SpaceID    string `json:"space_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload,omitempty"`
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		SpaceID:    e.SpaceID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    e.Payload,
	}
}

type PresenceResponse struct {
	SpaceID string   `json:"space_id"`
	Actors  []string `json:"actors"`
}

type TypingRequest struct {
	TaskID string `json:"task_id,omitempty"`
	Active bool   `json:"active"`
}
