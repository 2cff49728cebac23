package domain

type Space struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	DayStart      string   `json:"day_start" example:"09:00"`
	DayEnd        string   `json:"day_end" example:"17:00"`
	WorkingDays   []string `json:"working_days"`
	ParallelTasks bool     `json:"parallel_tasks"`
	CreatedAt     string   `json:"created_at" format:"date-time"`
}

type Group struct {
	ID             string       `json:"id"`
	SpaceID        string       `json:"space_id"`
	Name           string       `json:"name"`
	Position       int          `json:"position"`
	EstimatedHours float64      `json:"estimated_hours"`
	IsStart        bool         `json:"is_start"`
	IsApprovalGate bool         `json:"is_approval_gate"`
	IsTerminal     bool         `json:"is_terminal"`
	Dependencies   []Dependency `json:"dependencies,omitempty"`
	CreatedAt      string       `json:"created_at" format:"date-time"`
}

// Dependency is an edge from GroupID to a predecessor in the same space.
type Dependency struct {
	GroupID          string `json:"group_id"`
	DependsOnGroupID string `json:"depends_on_group_id"`
	Kind             string `json:"kind" enum:"sequential,parallel"`
}

type Task struct {
	ID             string   `json:"id"`
	SpaceID        string   `json:"space_id"`
	GroupID        string   `json:"group_id"`
	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	OwnerID        *string  `json:"owner_id,omitempty"`
	Status         string   `json:"status" enum:"in_progress,paused,completed,approved,rejected"`
	ApprovalStatus string   `json:"approval_status" enum:"pending,approved,rejected"`
	EstimatedHours float64  `json:"estimated_hours"`
	StartedAt      *string  `json:"started_at,omitempty" format:"date-time"`
	DueAt          *string  `json:"due_at,omitempty" format:"date-time"`
	CompletedAt    *string  `json:"completed_at,omitempty" format:"date-time"`
	PausedHours    float64  `json:"paused_hours"`
	PauseStartedAt *string  `json:"pause_started_at,omitempty" format:"date-time"`
	ActualHours    *float64 `json:"actual_hours,omitempty"`
	Classification string   `json:"classification" enum:"early,on_time,late,in_progress"`
	DelayHours     float64  `json:"delay_hours"`
	CreatedAt      string   `json:"created_at" format:"date-time"`
	UpdatedAt      string   `json:"updated_at" format:"date-time"`
}

// StageEntry is one stage-history row. Exactly one entry per task has a
// null ExitedAt: the entry for the task's current group.
type StageEntry struct {
	ID                 int64    `json:"id"`
	TaskID             string   `json:"task_id"`
	GroupID            string   `json:"group_id"`
	EnteredAt          string   `json:"entered_at" format:"date-time"`
	ExitedAt           *string  `json:"exited_at,omitempty" format:"date-time"`
	OwnerAtEntry       *string  `json:"owner_at_entry,omitempty"`
	DueAt              *string  `json:"due_at,omitempty" format:"date-time"`
	PausedHoursAtEntry float64  `json:"paused_hours_at_entry"`
	HoursSpent         *float64 `json:"hours_spent,omitempty"`
	Classification     *string  `json:"classification,omitempty" enum:"early,on_time,late"`
	DelayHours         *float64 `json:"delay_hours,omitempty"`
}

type StatusEntry struct {
	ID        int64  `json:"id"`
	TaskID    string `json:"task_id"`
	Status    string `json:"status"`
	ActorID   string `json:"actor_id"`
	Note      string `json:"note,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Comment struct {
	ID        string `json:"id"`
	TaskID    string `json:"task_id"`
	SpaceID   string `json:"space_id"`
	AuthorID  string `json:"author_id"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Membership struct {
	SpaceID   string `json:"space_id"`
	ActorID   string `json:"actor_id"`
	Role      string `json:"role" enum:"owner,admin,member"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	SpaceID    string `json:"space_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
