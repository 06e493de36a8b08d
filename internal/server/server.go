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
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"weave/internal/app"
	"weave/internal/discovery"
	"weave/internal/domain"
	"weave/internal/engine"
	"weave/internal/pipeline"
	"weave/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	App            *app.App
	BasePath       string
	AllowedOrigins []string
	Auth           AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"issue not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Weave API.
func New(cfg Config) (http.Handler, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app is required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/api"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = cfg.App.Log
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(requestLogger(cfg.App.Log.Named("http")))
	router.Use(newCORSMiddleware(cfg.AllowedOrigins))
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Weave API", "0.1.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	a := cfg.App
	registerDocs(router, basePath)
	registerHealth(group, a.Queue)
	registerIssues(group, a)
	registerPlans(group, a)
	registerVolunteers(group, a.Engine)
	registerAssignments(group, a.Engine)
	registerAgentLogs(group, a.Repo)
	registerOpenAPI(router, api, basePath, cfg.Auth.enabled())

	return router, nil
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Debug("request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()))
		})
	}
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
	msg := err.Error()
	switch {
	case errors.Is(err, repo.ErrNotFound), errors.Is(err, discovery.ErrIssueNotFound):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case errors.Is(err, engine.ErrBlocked):
		return newAPIError(http.StatusConflict, "prerequisites_pending", msg, nil)
	case errors.Is(err, repo.ErrConflict):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case errors.Is(err, engine.ErrInvalid):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	case errors.Is(err, pipeline.ErrQueueFull), errors.Is(err, pipeline.ErrQueueClosed):
		return newAPIError(http.StatusServiceUnavailable, "queue_unavailable", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get(path.Join(basePath, "docs"), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string, secured bool) {
	var spec []byte
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			if secured {
				applyAuthSecurity(oas)
			}
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
		for _, op := range []*huma.Operation{item.Get, item.Post} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

// applyAuthSecurity marks mutations as bearer protected.
func applyAuthSecurity(oas *huma.OpenAPI) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	for _, item := range oas.Paths {
		if item.Post != nil {
			item.Post.Security = []map[string][]string{{"bearerAuth": {}}}
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
    <title>Weave API Docs</title>
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
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API, queue *pipeline.Queue) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body HealthResponse `json:"body"`
	}, error) {
		return &struct {
			Body HealthResponse `json:"body"`
		}{Body: HealthResponse{Status: "ok", QueuePending: queue.Pending()}}, nil
	})
}

func registerIssues(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-issue",
		Method:        http.MethodPost,
		Path:          "/issues",
		Summary:       "Report an issue and queue it for processing",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateIssueRequest
	}) (*struct {
		Body IssueCreatedResponse `json:"body"`
	}, error) {
		issue, err := a.Engine.CreateIssue(ctx, engine.IssueCreateOptions{
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Lat:         input.Body.Lat,
			Lng:         input.Body.Lng,
			Address:     input.Body.Address,
			Category:    input.Body.Category,
			Images:      input.Body.Images,
			CreatedBy:   subjectFromContext(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		queued := true
		if err := a.Queue.Enqueue(issue.ID); err != nil {
			// The issue is stored; it can be processed explicitly later.
			a.Log.Warn("issue not queued", zap.String("issue_id", issue.ID), zap.Error(err))
			queued = false
		}
		return &struct {
			Body IssueCreatedResponse `json:"body"`
		}{Body: IssueCreatedResponse{Issue: issue, Queued: queued}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-issues",
		Method:      http.MethodGet,
		Path:        "/issues",
		Summary:     "List issues, newest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"pending,analyzing,planning,in_progress,resolved"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedIssues `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		cursorTS, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := a.Repo.ListIssues(ctx, repo.IssueFilters{
			Status: input.Status, Limit: limit + 1, CursorCreatedAt: cursorTS, CursorID: cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedIssues{Items: items}
		if len(items) > limit {
			last := items[limit-1]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
			resp.Items = items[:limit]
		}
		return &struct {
			Body paginatedIssues `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-issue",
		Method:      http.MethodGet,
		Path:        "/issues/{issue_id}",
		Summary:     "Get issue",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		IssueID string `path:"issue_id"`
	}) (*struct {
		Body domain.Issue `json:"body"`
	}, error) {
		issue, err := a.Repo.GetIssue(ctx, input.IssueID)
		if err != nil {
			return nil, handleError(fmt.Errorf("issue %s: %w", input.IssueID, err))
		}
		return &struct {
			Body domain.Issue `json:"body"`
		}{Body: issue}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "process-issue",
		Method:      http.MethodPost,
		Path:        "/issues/{issue_id}/process",
		Summary:     "Run classify, decompose and match for an issue",
		Description: "Runs synchronously and returns the pipeline outcome unless async is set, in which case the run is queued.",
		Errors:      []int{http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		IssueID string `path:"issue_id"`
		Async   bool   `query:"async"`
	}) (*struct {
		Body ProcessResponse `json:"body"`
	}, error) {
		if _, err := a.Repo.GetIssue(ctx, input.IssueID); err != nil {
			return nil, handleError(fmt.Errorf("issue %s: %w", input.IssueID, err))
		}
		if input.Async {
			if err := a.Queue.Enqueue(input.IssueID); err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body ProcessResponse `json:"body"`
			}{Body: ProcessResponse{Queued: true}}, nil
		}
		out := a.Runner.Run(ctx, input.IssueID)
		if out.Status == pipeline.OutcomeNotFound {
			return nil, newAPIError(http.StatusNotFound, "not_found", out.Message, map[string]any{"session_id": out.SessionID})
		}
		return &struct {
			Body ProcessResponse `json:"body"`
		}{Body: ProcessResponse{Outcome: &out}}, nil
	})
}

func registerPlans(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "list-action-plans",
		Method:      http.MethodGet,
		Path:        "/action-plans",
		Summary:     "List action plans",
	}, func(ctx context.Context, input *struct {
		Status  string `query:"status" enum:"draft,active,completed"`
		IssueID string `query:"issue_id"`
		Limit   int    `query:"limit" default:"50"`
	}) (*struct {
		Body paginatedPlans `json:"body"`
	}, error) {
		items, err := a.Repo.ListPlans(ctx, repo.PlanFilters{Status: input.Status, IssueID: input.IssueID, Limit: normalizeLimit(input.Limit)})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body paginatedPlans `json:"body"`
		}{Body: paginatedPlans{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-action-plan",
		Method:      http.MethodGet,
		Path:        "/action-plans/{plan_id}",
		Summary:     "Get action plan with its tasks",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PlanID string `path:"plan_id"`
	}) (*struct {
		Body PlanDetailResponse `json:"body"`
	}, error) {
		plan, err := a.Repo.GetPlan(ctx, input.PlanID)
		if err != nil {
			return nil, handleError(fmt.Errorf("action plan %s: %w", input.PlanID, err))
		}
		tasks, err := a.Repo.ListTasksByPlan(ctx, nil, plan.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PlanDetailResponse `json:"body"`
		}{Body: PlanDetailResponse{Plan: plan, Tasks: tasks}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-action-plan-tasks",
		Method:      http.MethodGet,
		Path:        "/action-plans/{plan_id}/tasks",
		Summary:     "List tasks of an action plan by priority",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PlanID string `path:"plan_id"`
	}) (*struct {
		Body paginatedTasks `json:"body"`
	}, error) {
		if _, err := a.Repo.GetPlan(ctx, input.PlanID); err != nil {
			return nil, handleError(fmt.Errorf("action plan %s: %w", input.PlanID, err))
		}
		tasks, err := a.Repo.ListTasksByPlan(ctx, nil, input.PlanID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body paginatedTasks `json:"body"`
		}{Body: paginatedTasks{Items: tasks}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "match-action-plan",
		Method:      http.MethodPost,
		Path:        "/action-plans/{plan_id}/match",
		Summary:     "Match volunteers to the plan's open seats",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PlanID string `path:"plan_id"`
	}) (*struct {
		Body MatchResponse `json:"body"`
	}, error) {
		sum, err := a.Runner.Matcher.Match(ctx, uuid.NewString(), input.PlanID)
		if err != nil {
			return nil, handleError(err)
		}
		if sum.Status == domain.StageNotFound {
			return nil, newAPIError(http.StatusNotFound, "not_found", sum.Message, map[string]any{"session_id": sum.SessionID})
		}
		return &struct {
			Body MatchResponse `json:"body"`
		}{Body: sum}, nil
	})
}

func registerVolunteers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-volunteer",
		Method:        http.MethodPost,
		Path:          "/volunteers",
		Summary:       "Register a volunteer",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateVolunteerRequest
	}) (*struct {
		Body domain.Volunteer `json:"body"`
	}, error) {
		v, err := e.RegisterVolunteer(ctx, engine.VolunteerCreateOptions{
			Name:         input.Body.Name,
			Email:        input.Body.Email,
			Skills:       input.Body.Skills,
			Availability: input.Body.Availability,
			Lat:          input.Body.Lat,
			Lng:          input.Body.Lng,
			Reliability:  input.Body.ReliabilityScore,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Volunteer `json:"body"`
		}{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-volunteers",
		Method:      http.MethodGet,
		Path:        "/volunteers",
		Summary:     "List volunteers",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50"`
	}) (*struct {
		Body paginatedVolunteers `json:"body"`
	}, error) {
		items, err := e.Repo.ListVolunteers(ctx, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body paginatedVolunteers `json:"body"`
		}{Body: paginatedVolunteers{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-volunteer",
		Method:      http.MethodGet,
		Path:        "/volunteers/{volunteer_id}",
		Summary:     "Get volunteer",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		VolunteerID string `path:"volunteer_id"`
	}) (*struct {
		Body domain.Volunteer `json:"body"`
	}, error) {
		v, err := e.Repo.GetVolunteer(ctx, input.VolunteerID)
		if err != nil {
			return nil, handleError(fmt.Errorf("volunteer %s: %w", input.VolunteerID, err))
		}
		return &struct {
			Body domain.Volunteer `json:"body"`
		}{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-volunteer-assignments",
		Method:      http.MethodGet,
		Path:        "/volunteers/{volunteer_id}/assignments",
		Summary:     "List a volunteer's assignments",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		VolunteerID string `path:"volunteer_id"`
		Status      string `query:"status" enum:"assigned,in_progress,completed,withdrawn"`
	}) (*struct {
		Body paginatedAssignments `json:"body"`
	}, error) {
		if _, err := e.Repo.GetVolunteer(ctx, input.VolunteerID); err != nil {
			return nil, handleError(fmt.Errorf("volunteer %s: %w", input.VolunteerID, err))
		}
		items, err := e.Repo.ListAssignments(ctx, nil, repo.AssignmentFilters{VolunteerID: input.VolunteerID, Status: input.Status})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body paginatedAssignments `json:"body"`
		}{Body: paginatedAssignments{Items: items}}, nil
	})
}

func registerAssignments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-task-assignments",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/assignments",
		Summary:     "List a task's assignments",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body paginatedAssignments `json:"body"`
	}, error) {
		if _, err := e.Repo.GetTask(ctx, nil, input.TaskID); err != nil {
			return nil, handleError(fmt.Errorf("task %s: %w", input.TaskID, err))
		}
		items, err := e.Repo.ListAssignments(ctx, nil, repo.AssignmentFilters{TaskID: input.TaskID})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body paginatedAssignments `json:"body"`
		}{Body: paginatedAssignments{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "assign-volunteer",
		Method:        http.MethodPost,
		Path:          "/tasks/{task_id}/assign/{volunteer_id}",
		Summary:       "Manually assign a volunteer to a task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		TaskID      string `path:"task_id"`
		VolunteerID string `path:"volunteer_id"`
		Body        *AssignRequest
	}) (*struct {
		Body domain.TaskAssignment `json:"body"`
	}, error) {
		notes := ""
		if input.Body != nil {
			notes = input.Body.Notes
		}
		a, err := e.AssignVolunteer(ctx, input.TaskID, input.VolunteerID, notes)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TaskAssignment `json:"body"`
		}{Body: a}, nil
	})

	type assignmentPath struct {
		AssignmentID string `path:"assignment_id"`
		Force        bool   `query:"force"`
	}
	transitions := []struct {
		id, verb, summary string
		apply             func(context.Context, assignmentPath) (domain.TaskAssignment, error)
	}{
		{"start-assignment", "start", "Start work on an assignment", func(ctx context.Context, in assignmentPath) (domain.TaskAssignment, error) {
			return e.StartAssignment(ctx, in.AssignmentID, in.Force)
		}},
		{"complete-assignment", "complete", "Complete an assignment", func(ctx context.Context, in assignmentPath) (domain.TaskAssignment, error) {
			return e.CompleteAssignment(ctx, in.AssignmentID)
		}},
		{"withdraw-assignment", "withdraw", "Withdraw from an assignment", func(ctx context.Context, in assignmentPath) (domain.TaskAssignment, error) {
			return e.WithdrawAssignment(ctx, in.AssignmentID)
		}},
	}
	for _, tr := range transitions {
		huma.Register(api, huma.Operation{
			OperationID: tr.id,
			Method:      http.MethodPost,
			Path:        "/assignments/{assignment_id}/" + tr.verb,
			Summary:     tr.summary,
			Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
		}, func(ctx context.Context, input *assignmentPath) (*struct {
			Body domain.TaskAssignment `json:"body"`
		}, error) {
			a, err := tr.apply(ctx, *input)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body domain.TaskAssignment `json:"body"`
			}{Body: a}, nil
		})
	}
}

func registerAgentLogs(api huma.API, r repo.Repo) {
	huma.Register(api, huma.Operation{
		OperationID: "list-agent-logs",
		Method:      http.MethodGet,
		Path:        "/agent-logs",
		Summary:     "List execution ledger entries, newest first",
	}, func(ctx context.Context, input *struct {
		AgentType string `query:"agent_type" enum:"issue_discovery,action_planning,volunteer_matching"`
		SubjectID string `query:"subject_id"`
		Limit     int    `query:"limit" default:"50"`
	}) (*struct {
		Body paginatedLogs `json:"body"`
	}, error) {
		items, err := r.ListAgentLogs(ctx, repo.LogFilters{AgentType: input.AgentType, SubjectID: input.SubjectID, Limit: normalizeLimit(input.Limit)})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body paginatedLogs `json:"body"`
		}{Body: paginatedLogs{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-session-logs",
		Method:      http.MethodGet,
		Path:        "/agent-logs/session/{session_id}",
		Summary:     "List the ledger entries of one pipeline session",
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
	}) (*struct {
		Body paginatedLogs `json:"body"`
	}, error) {
		items, err := r.ListAgentLogs(ctx, repo.LogFilters{SessionID: input.SessionID})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body paginatedLogs `json:"body"`
		}{Body: paginatedLogs{Items: items}}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}
