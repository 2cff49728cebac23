package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/go-chi/chi/v5"

	"stageflow/internal/calendar"
	"stageflow/internal/config"
	"stageflow/internal/engine"
	"stageflow/internal/engine/auth"
	"stageflow/internal/graph"
	"stageflow/internal/hub"
	"stageflow/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Hub      *hub.Hub
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"dependency_unsatisfied"`
	Message string         `json:"message" example:"stage build must be completed first"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Stageflow API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Stageflow API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerOpenAPI(router, api, basePath)
	registerHealth(group)
	registerSpaces(group, cfg.Engine)
	registerMembers(group, cfg.Engine)
	registerGroups(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerComments(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerStream(group, cfg.Hub)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"capability": fe.Capability})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var ue graph.UnsatisfiedError
	if errors.As(err, &ue) {
		details := map[string]any{"group_id": ue.GroupID}
		if ue.Predecessor != "" {
			details["predecessor"] = ue.Predecessor
		}
		return newAPIError(http.StatusUnprocessableEntity, "dependency_unsatisfied", err.Error(), details)
	}
	var ie engine.InvalidStateError
	if errors.As(err, &ie) {
		return newAPIError(http.StatusConflict, "invalid_state", err.Error(), nil)
	}
	var cfgErr engine.ConfigurationError
	if errors.As(err, &cfgErr) {
		return newAPIError(http.StatusBadRequest, "invalid_configuration", err.Error(), nil)
	}
	var calErr calendar.ConfigError
	if errors.As(err, &calErr) {
		return newAPIError(http.StatusBadRequest, "invalid_calendar", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "invalid_state"
	case http.StatusUnprocessableEntity:
		return "dependency_unsatisfied"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
			}
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Stageflow API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerSpaces(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-space",
		Method:        http.MethodPost,
		Path:          "/spaces",
		Summary:       "Create space",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateSpaceRequest `json:"body"`
	}) (*struct {
		Body SpaceResponse `json:"body"`
	}, error) {
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		principal, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		cfg := spaceConfig(input.Body)
		space, _, err := e.InitSpace(ctx, cfg, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SpaceResponse `json:"body"`
		}{Body: spaceResponse(space)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-spaces",
		Method:      http.MethodGet,
		Path:        "/spaces",
		Summary:     "List spaces",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []SpaceResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListSpaces(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		res := []SpaceResponse{}
		for _, s := range items {
			res = append(res, spaceResponse(s))
		}
		return &struct {
			Body []SpaceResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-space",
		Method:      http.MethodGet,
		Path:        "/spaces/{space_id}",
		Summary:     "Get space",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SpaceID string `path:"space_id"`
	}) (*struct {
		Body SpaceResponse `json:"body"`
	}, error) {
		s, err := e.Repo.GetSpace(ctx, input.SpaceID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SpaceResponse `json:"body"`
		}{Body: spaceResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-space",
		Method:      http.MethodDelete,
		Path:        "/spaces/{space_id}",
		Summary:     "Delete space",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		SpaceID string `path:"space_id"`
	}) (*struct{}, error) {
		principal, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteSpace(ctx, input.SpaceID, principal.ActorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

// spaceConfig maps a create request onto the workflow template config,
// falling back to defaults for everything the request omits.
func spaceConfig(req CreateSpaceRequest) *config.Config {
	cfg := config.Default(req.ID)
	if req.Name != "" {
		cfg.Space.Name = req.Name
	}
	if req.DayStart != "" {
		cfg.Calendar.DayStart = req.DayStart
	}
	if req.DayEnd != "" {
		cfg.Calendar.DayEnd = req.DayEnd
	}
	if len(req.WorkingDays) > 0 {
		cfg.Calendar.WorkingDays = req.WorkingDays
	}
	if req.ParallelTasks != nil {
		cfg.ParallelTasks = *req.ParallelTasks
	}
	if len(req.Groups) > 0 {
		cfg.Workflow.Groups = nil
		for _, g := range req.Groups {
			tmpl := config.GroupTemplate{
				Name:           g.Name,
				Position:       g.Position,
				EstimatedHours: g.EstimatedHours,
				Start:          g.Start,
				ApprovalGate:   g.ApprovalGate,
				Terminal:       g.Terminal,
			}
			for _, d := range g.DependsOn {
				tmpl.DependsOn = append(tmpl.DependsOn, config.DependencyTemplate{Group: d.Group, Kind: d.Kind})
			}
			cfg.Workflow.Groups = append(cfg.Workflow.Groups, tmpl)
		}
	}
	return cfg
}

func registerMembers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-member",
		Method:        http.MethodPost,
		Path:          "/spaces/{space_id}/members",
		Summary:       "Add or update member",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		SpaceID string           `path:"space_id"`
		Body    AddMemberRequest `json:"body"`
	}) (*struct {
		Body MemberResponse `json:"body"`
	}, error) {
		if input.Body.ActorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		principal, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.AddMember(ctx, input.SpaceID, input.Body.ActorID, input.Body.Role, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MemberResponse `json:"body"`
		}{Body: memberResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-members",
		Method:      http.MethodGet,
		Path:        "/spaces/{space_id}/members",
		Summary:     "List members",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SpaceID string `path:"space_id"`
	}) (*struct {
		Body []MemberResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetSpace(ctx, input.SpaceID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListMemberships(ctx, input.SpaceID)
		if err != nil {
			return nil, handleError(err)
		}
		res := []MemberResponse{}
		for _, m := range items {
			res = append(res, memberResponse(m))
		}
		return &struct {
			Body []MemberResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerGroups(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-group",
		Method:        http.MethodPost,
		Path:          "/spaces/{space_id}/groups",
		Summary:       "Create workflow stage",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		SpaceID string             `path:"space_id"`
		Body    CreateGroupRequest `json:"body"`
	}) (*struct {
		Body GroupResponse `json:"body"`
	}, error) {
		principal, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		g, err := e.CreateGroup(ctx, engine.GroupCreateOptions{
			ID:             input.Body.ID,
			SpaceID:        input.SpaceID,
			Name:           input.Body.Name,
			Position:       input.Body.Position,
			EstimatedHours: input.Body.EstimatedHours,
			IsStart:        input.Body.Start,
			IsApprovalGate: input.Body.ApprovalGate,
			IsTerminal:     input.Body.Terminal,
			ActorID:        principal.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GroupResponse `json:"body"`
		}{Body: groupResponse(g)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-groups",
		Method:      http.MethodGet,
		Path:        "/spaces/{space_id}/groups",
		Summary:     "List workflow stages",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SpaceID string `path:"space_id"`
	}) (*struct {
		Body []GroupResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetSpace(ctx, input.SpaceID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListGroups(ctx, input.SpaceID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []GroupResponse `json:"body"`
		}{Body: mapGroups(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-group-dependency",
		Method:        http.MethodPost,
		Path:          "/spaces/{space_id}/groups/{group_id}/deps",
		Summary:       "Link a stage to a predecessor",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		SpaceID string               `path:"space_id"`
		GroupID string               `path:"group_id"`
		Body    AddDependencyRequest `json:"body"`
	}) (*struct {
		Body DependencyResponse `json:"body"`
	}, error) {
		if input.Body.DependsOn == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "depends_on is required", nil)
		}
		principal, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.AddGroupDependency(ctx, input.GroupID, input.Body.DependsOn, input.Body.Kind, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DependencyResponse `json:"body"`
		}{Body: DependencyResponse{GroupID: d.GroupID, DependsOn: d.DependsOnGroupID, Kind: d.Kind}}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/spaces/{space_id}/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		SpaceID string            `path:"space_id"`
		Body    CreateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if input.Body.Title == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		principal, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
			ID:             input.Body.ID,
			SpaceID:        input.SpaceID,
			Title:          input.Body.Title,
			Description:    input.Body.Description,
			OwnerID:        input.Body.OwnerID,
			EstimatedHours: input.Body.EstimatedHours,
			ActorID:        principal.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/spaces/{space_id}/tasks",
		Summary:     "List tasks",
	}, func(ctx context.Context, input *struct {
		SpaceID string `path:"space_id"`
		GroupID string `query:"group_id"`
		Status  string `query:"status"`
		OwnerID string `query:"owner_id"`
		Limit   int    `query:"limit" default:"50"`
	}) (*struct {
		Body []TaskResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListTasks(ctx, repo.TaskFilters{
			SpaceID: input.SpaceID,
			GroupID: input.GroupID,
			Status:  input.Status,
			OwnerID: input.OwnerID,
			Limit:   input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TaskResponse `json:"body"`
		}{Body: mapTasks(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/spaces/{space_id}/tasks/{id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SpaceID string `path:"space_id"`
		ID      string `path:"id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		t, err := e.Repo.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if t.SpaceID != input.SpaceID {
			return nil, newAPIError(http.StatusNotFound, "not_found", "task not found in space", nil)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-task-status",
		Method:      http.MethodPatch,
		Path:        "/spaces/{space_id}/tasks/{id}/status",
		Summary:     "Pause, resume or complete a task",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		SpaceID string           `path:"space_id"`
		ID      string           `path:"id"`
		Body    SetStatusRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if input.Body.Status == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "status is required", nil)
		}
		principal, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.SetTaskStatus(ctx, input.ID, input.Body.Status, principal.ActorID, input.Body.Note)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "move-task",
		Method:      http.MethodPost,
		Path:        "/spaces/{space_id}/tasks/{id}/move",
		Summary:     "Move task to another stage",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		SpaceID string          `path:"space_id"`
		ID      string          `path:"id"`
		Body    MoveTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if input.Body.GroupID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "group_id is required", nil)
		}
		principal, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.MoveTask(ctx, engine.MoveOptions{
			TaskID:        input.ID,
			TargetGroupID: input.Body.GroupID,
			ActorID:       principal.ActorID,
			NewOwner:      input.Body.OwnerID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-task",
		Method:      http.MethodPost,
		Path:        "/spaces/{space_id}/tasks/{id}/approval",
		Summary:     "Record an approval decision",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		SpaceID string          `path:"space_id"`
		ID      string          `path:"id"`
		Body    ApprovalRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if input.Body.Decision == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "decision is required", nil)
		}
		principal, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.RecordApproval(ctx, input.ID, input.Body.Decision, principal.ActorID, input.Body.Note)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-history",
		Method:      http.MethodGet,
		Path:        "/spaces/{space_id}/tasks/{id}/history",
		Summary:     "Task stage and status history",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SpaceID string `path:"space_id"`
		ID      string `path:"id"`
	}) (*struct {
		Body TaskHistoryResponse `json:"body"`
	}, error) {
		t, err := e.Repo.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if t.SpaceID != input.SpaceID {
			return nil, newAPIError(http.StatusNotFound, "not_found", "task not found in space", nil)
		}
		stages, err := e.Repo.ListStageHistory(ctx, t.ID)
		if err != nil {
			return nil, handleError(err)
		}
		statuses, err := e.Repo.ListStatusHistory(ctx, t.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskHistoryResponse `json:"body"`
		}{Body: historyResponse(stages, statuses)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/spaces/{space_id}/tasks/{id}",
		Summary:     "Delete task",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		SpaceID string `path:"space_id"`
		ID      string `path:"id"`
	}) (*struct{}, error) {
		principal, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteTask(ctx, input.ID, principal.ActorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerComments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-comment",
		Method:        http.MethodPost,
		Path:          "/spaces/{space_id}/tasks/{id}/comments",
		Summary:       "Add comment",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		SpaceID string            `path:"space_id"`
		ID      string            `path:"id"`
		Body    AddCommentRequest `json:"body"`
	}) (*struct {
		Body CommentResponse `json:"body"`
	}, error) {
		if input.Body.Body == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body is required", nil)
		}
		principal, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.AddComment(ctx, input.ID, input.Body.Body, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CommentResponse `json:"body"`
		}{Body: commentResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-comments",
		Method:      http.MethodGet,
		Path:        "/spaces/{space_id}/tasks/{id}/comments",
		Summary:     "List comments",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SpaceID string `path:"space_id"`
		ID      string `path:"id"`
	}) (*struct {
		Body []CommentResponse `json:"body"`
	}, error) {
		t, err := e.Repo.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if t.SpaceID != input.SpaceID {
			return nil, newAPIError(http.StatusNotFound, "not_found", "task not found in space", nil)
		}
		items, err := e.Repo.ListComments(ctx, t.ID)
		if err != nil {
			return nil, handleError(err)
		}
		res := []CommentResponse{}
		for _, c := range items {
			res = append(res, commentResponse(c))
		}
		return &struct {
			Body []CommentResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/spaces/{space_id}/events",
		Summary:     "Latest audit events",
	}, func(ctx context.Context, input *struct {
		SpaceID    string `path:"space_id"`
		Limit      int    `query:"limit" default:"50"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		items, err := e.Repo.LatestEvents(ctx, input.Limit, input.SpaceID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		res := []EventResponse{}
		for _, evt := range items {
			res = append(res, eventResponse(evt))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerStream(api huma.API, h *hub.Hub) {
	huma.Register(api, huma.Operation{
		OperationID: "presence",
		Method:      http.MethodGet,
		Path:        "/spaces/{space_id}/presence",
		Summary:     "Actors currently observing the space",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		SpaceID string `path:"space_id"`
	}) (*struct {
		Body PresenceResponse `json:"body"`
	}, error) {
		principal, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		actors, err := h.Presence(ctx, input.SpaceID, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		if actors == nil {
			actors = []string{}
		}
		return &struct {
			Body PresenceResponse `json:"body"`
		}{Body: PresenceResponse{SpaceID: input.SpaceID, Actors: actors}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "typing",
		Method:      http.MethodPost,
		Path:        "/spaces/{space_id}/typing",
		Summary:     "Broadcast a typing indicator",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		SpaceID string        `path:"space_id"`
		Body    TypingRequest `json:"body"`
	}) (*struct{}, error) {
		principal, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		evtType := hub.EventTypingStop
		if input.Body.Active {
			evtType = hub.EventTypingStart
		}
		err := h.Publish(ctx, input.SpaceID, principal.ActorID, hub.Event{
			Type:      evtType,
			TaskID:    input.Body.TaskID,
			ActorID:   principal.ActorID,
			ActorName: principal.ActorName,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	sse.Register(api, huma.Operation{
		OperationID: "stream",
		Method:      http.MethodGet,
		Path:        "/spaces/{space_id}/stream",
		Summary:     "Live event stream for a space",
	}, map[string]any{
		"message": hub.Event{},
	}, func(ctx context.Context, input *struct {
		SpaceID string `path:"space_id"`
	}, send sse.Sender) {
		principal, authErr := actorFromContext(ctx)
		if authErr != nil {
			return
		}
		sub, err := h.Subscribe(ctx, input.SpaceID, principal.ActorID, principal.ActorName)
		if err != nil {
			return
		}
		// Close only this space's subscription; the actor may hold live
		// streams to other spaces on other connections.
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-sub.C:
				if !ok {
					return
				}
				if err := send.Data(evt); err != nil {
					return
				}
			}
		}
	})
}
