package weavesdk

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

// Client is a minimal Weave HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client for the API served at baseURL under /api.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/api",
		// Synchronous processing waits on the completion service.
		Timeout: 2 * time.Minute,
	}
}

type Location struct {
	Lat     *float64 `json:"lat,omitempty"`
	Lng     *float64 `json:"lng,omitempty"`
	Address string   `json:"address,omitempty"`
}

// Issue represents the API issue model.
type Issue struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Location    Location       `json:"location"`
	Category    string         `json:"category"`
	Priority    float64        `json:"priority"`
	Status      string         `json:"status"`
	Metadata    map[string]any `json:"metadata"`
	CreatedAt   string         `json:"created_at"`
}

// NewIssue holds the fields accepted when reporting an issue.
type NewIssue struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Lat         *float64 `json:"lat,omitempty"`
	Lng         *float64 `json:"lng,omitempty"`
	Address     string   `json:"address,omitempty"`
	Category    string   `json:"category,omitempty"`
	Images      []string `json:"images,omitempty"`
}

// ActionPlan represents the API plan model (partial).
type ActionPlan struct {
	ID                 string  `json:"id"`
	IssueID            string  `json:"issue_id"`
	Title              string  `json:"title"`
	Status             string  `json:"status"`
	RequiredVolunteers int     `json:"required_volunteers"`
	AssignedVolunteers int     `json:"assigned_volunteers"`
	ProgressPercentage float64 `json:"progress_percentage"`
}

// Task represents a plan task (partial).
type Task struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	RequiredPeople  int      `json:"required_people"`
	EstimatedHours  float64  `json:"estimated_hours"`
	Status          string   `json:"status"`
	Priority        int      `json:"priority"`
	PrerequisiteIDs []string `json:"prerequisite_ids"`
	SkillsRequired  []string `json:"skills_required"`
}

// PlanDetail is a plan with its tasks in priority order.
type PlanDetail struct {
	Plan  ActionPlan `json:"plan"`
	Tasks []Task     `json:"tasks"`
}

type Assignment struct {
	ID          string `json:"id"`
	TaskID      string `json:"task_id"`
	VolunteerID string `json:"volunteer_id"`
	Status      string `json:"status"`
	Source      string `json:"source"`
	Notes       string `json:"notes"`
}

// MatchSummary reports one matching run.
type MatchSummary struct {
	Status                 string       `json:"status"`
	Message                string       `json:"message"`
	SessionID              string       `json:"session_id"`
	ActionPlanID           string       `json:"action_plan_id"`
	TotalTasks             int          `json:"total_tasks"`
	TasksFullyAssigned     int          `json:"tasks_fully_assigned"`
	TasksPartiallyAssigned int          `json:"tasks_partially_assigned"`
	TotalAssignmentsMade   int          `json:"total_assignments_made"`
	Assignments            []Assignment `json:"assignments"`
}

// Outcome reports one pipeline run (partial).
type Outcome struct {
	SessionID string `json:"session_id"`
	IssueID   string `json:"issue_id"`
	Status    string `json:"status"`
	Stage     string `json:"stage"`
	Message   string `json:"message"`
	Plan      *struct {
		ActionPlanID string `json:"action_plan_id"`
		FallbackUsed bool   `json:"fallback_used"`
		Existing     bool   `json:"existing"`
	} `json:"plan"`
	Match *MatchSummary `json:"match"`
}

// LogEntry is one execution ledger entry.
type LogEntry struct {
	ID              string         `json:"id"`
	SessionID       string         `json:"session_id"`
	AgentType       string         `json:"agent_type"`
	Action          string         `json:"action"`
	SubjectID       string         `json:"subject_id"`
	InputData       map[string]any `json:"input_data"`
	OutputData      map[string]any `json:"output_data"`
	ConfidenceScore *float64       `json:"confidence_score"`
	ExecutionTimeMS int64          `json:"execution_time_ms"`
	Success         bool           `json:"success"`
	ErrorMessage    string         `json:"error_message"`
	CreatedAt       string         `json:"created_at"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateIssue reports an issue. The server queues it for processing; queued
// is false when the queue was full.
func (c *Client) CreateIssue(ctx context.Context, in NewIssue) (issue Issue, queued bool, err error) {
	var resp struct {
		Issue  Issue `json:"issue"`
		Queued bool  `json:"queued"`
	}
	err = c.do(ctx, http.MethodPost, "issues", in, &resp)
	return resp.Issue, resp.Queued, err
}

// GetIssue fetches an issue by id.
func (c *Client) GetIssue(ctx context.Context, id string) (Issue, error) {
	var resp Issue
	err := c.do(ctx, http.MethodGet, "issues/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ProcessIssue runs the pipeline for an issue and waits for the outcome.
func (c *Client) ProcessIssue(ctx context.Context, id string) (Outcome, error) {
	var resp struct {
		Outcome *Outcome `json:"outcome"`
	}
	err := c.do(ctx, http.MethodPost, "issues/"+url.PathEscape(id)+"/process", nil, &resp)
	if err != nil || resp.Outcome == nil {
		return Outcome{}, err
	}
	return *resp.Outcome, nil
}

// GetPlan fetches a plan with its tasks.
func (c *Client) GetPlan(ctx context.Context, id string) (PlanDetail, error) {
	var resp PlanDetail
	err := c.do(ctx, http.MethodGet, "action-plans/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// MatchPlan assigns volunteers to the plan's open seats.
func (c *Client) MatchPlan(ctx context.Context, id string) (MatchSummary, error) {
	var resp MatchSummary
	err := c.do(ctx, http.MethodPost, "action-plans/"+url.PathEscape(id)+"/match", nil, &resp)
	return resp, err
}

// ListAgentLogs returns ledger entries, newest first. Empty filters are ignored.
func (c *Client) ListAgentLogs(ctx context.Context, agentType string, limit int) ([]LogEntry, error) {
	q := url.Values{}
	if agentType != "" {
		q.Set("agent_type", agentType)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	endpoint := "agent-logs"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []LogEntry `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// SessionLogs returns the ledger entries of one pipeline run.
func (c *Client) SessionLogs(ctx context.Context, sessionID string) ([]LogEntry, error) {
	var resp struct {
		Items []LogEntry `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "agent-logs/session/"+url.PathEscape(sessionID), nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	u := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
