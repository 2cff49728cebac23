package stageflowsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Stageflow HTTP API client.
type Client struct {
	BaseURL     string
	SpaceID     string
	BearerToken string
	// ActorID is sent via the legacy X-Actor-Id header when no bearer
	// token is set. Servers accept it only in dev mode.
	ActorID    string
	ActorName  string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, spaceID string) *Client {
	return &Client{
		BaseURL: baseURL,
		SpaceID: spaceID,
		Timeout: 10 * time.Second,
	}
}

// Group represents a workflow stage.
type Group struct {
	ID             string       `json:"id"`
	SpaceID        string       `json:"space_id"`
	Name           string       `json:"name"`
	Position       int          `json:"position"`
	EstimatedHours float64      `json:"estimated_hours"`
	IsStart        bool         `json:"is_start"`
	IsApprovalGate bool         `json:"is_approval_gate"`
	IsTerminal     bool         `json:"is_terminal"`
	Dependencies   []Dependency `json:"dependencies"`
}

// Dependency is an edge from a stage to a predecessor.
type Dependency struct {
	GroupID   string `json:"group_id"`
	DependsOn string `json:"depends_on"`
	Kind      string `json:"kind"`
}

// Task represents the API task model.
type Task struct {
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
}

// StageEntry is one stay of a task inside a stage.
type StageEntry struct {
	GroupID        string   `json:"group_id"`
	EnteredAt      string   `json:"entered_at"`
	ExitedAt       *string  `json:"exited_at,omitempty"`
	DueAt          *string  `json:"due_at,omitempty"`
	HoursSpent     *float64 `json:"hours_spent,omitempty"`
	Classification *string  `json:"classification,omitempty"`
	DelayHours     *float64 `json:"delay_hours,omitempty"`
}

// StatusEntry is one status transition in a task's history.
type StatusEntry struct {
	Status    string `json:"status"`
	ActorID   string `json:"actor_id"`
	Note      string `json:"note,omitempty"`
	CreatedAt string `json:"created_at"`
}

// TaskHistory bundles stage and status history.
type TaskHistory struct {
	Stages   []StageEntry  `json:"stages"`
	Statuses []StatusEntry `json:"statuses"`
}

// Comment is a task comment.
type Comment struct {
	ID        string `json:"id"`
	TaskID    string `json:"task_id"`
	AuthorID  string `json:"author_id"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	SpaceID    string `json:"space_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload,omitempty"`
}

// Presence lists actors currently subscribed to the space stream.
type Presence struct {
	SpaceID string   `json:"space_id"`
	Actors  []string `json:"actors"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateTask creates a task in the space's start stage.
func (c *Client) CreateTask(ctx context.Context, title, description string) (Task, error) {
	body := map[string]any{
		"title":       title,
		"description": description,
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, c.spacePath("tasks"), body, &resp)
	return resp, err
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, c.spacePath("tasks/"+url.PathEscape(id)), nil, &resp)
	return resp, err
}

// ListTasks lists tasks, optionally filtered by stage and status.
func (c *Client) ListTasks(ctx context.Context, groupID, status string) ([]Task, error) {
	endpoint := c.spacePath("tasks")
	q := url.Values{}
	if groupID != "" {
		q.Set("group_id", groupID)
	}
	if status != "" {
		q.Set("status", status)
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Task
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// SetStatus pauses, resumes or completes a task.
func (c *Client) SetStatus(ctx context.Context, taskID, status, note string) (Task, error) {
	body := map[string]any{"status": status, "note": note}
	var resp Task
	endpoint := c.spacePath("tasks/" + url.PathEscape(taskID) + "/status")
	err := c.do(ctx, http.MethodPatch, endpoint, body, &resp)
	return resp, err
}

// MoveTask moves a task to another stage.
func (c *Client) MoveTask(ctx context.Context, taskID, groupID string) (Task, error) {
	body := map[string]any{"group_id": groupID}
	var resp Task
	endpoint := c.spacePath("tasks/" + url.PathEscape(taskID) + "/move")
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// RecordApproval records an approve/reject decision at a gate.
func (c *Client) RecordApproval(ctx context.Context, taskID, decision, note string) (Task, error) {
	body := map[string]any{"decision": decision, "note": note}
	var resp Task
	endpoint := c.spacePath("tasks/" + url.PathEscape(taskID) + "/approval")
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// History returns the task's stage and status history.
func (c *Client) History(ctx context.Context, taskID string) (TaskHistory, error) {
	var resp TaskHistory
	endpoint := c.spacePath("tasks/" + url.PathEscape(taskID) + "/history")
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// AddComment adds a comment to a task.
func (c *Client) AddComment(ctx context.Context, taskID, body string) (Comment, error) {
	var resp Comment
	endpoint := c.spacePath("tasks/" + url.PathEscape(taskID) + "/comments")
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"body": body}, &resp)
	return resp, err
}

// ListGroups lists the space's workflow stages.
func (c *Client) ListGroups(ctx context.Context) ([]Group, error) {
	var resp []Group
	err := c.do(ctx, http.MethodGet, c.spacePath("groups"), nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := c.spacePath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Presence returns actors on the space's live stream.
func (c *Client) Presence(ctx context.Context) (Presence, error) {
	var resp Presence
	err := c.do(ctx, http.MethodGet, c.spacePath("presence"), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
		if c.ActorName != "" {
			req.Header.Set("X-Actor-Name", c.ActorName)
		}
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) spacePath(p string) string {
	space := url.PathEscape(c.SpaceID)
	return fmt.Sprintf("v0/spaces/%s/%s", space, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
