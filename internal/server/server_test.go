package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	neturl "net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"weave/internal/app"
	"weave/internal/completion"
	"weave/internal/config"
	"weave/internal/domain"
	"weave/internal/matching"
	"weave/internal/pipeline"
)

type testServer struct {
	URL    string
	App    *app.App
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, authCfg AuthConfig) (*testServer, func()) {
	t.Helper()
	cfg := config.Default()
	cfg.Completion.Provider = config.ProviderNone
	a, err := app.Build(context.Background(), app.Options{
		Workspace:  t.TempDir(),
		Config:     cfg,
		Logger:     zaptest.NewLogger(t),
		Completion: completion.Unavailable{},
	})
	if err != nil {
		t.Fatalf("build app: %v", err)
	}
	handler, err := New(Config{App: a, BasePath: "/api", Auth: authCfg})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		App:    a,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			a.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

type errorEnvelope struct {
	Error apiErrorBody `json:"error"`
}

func createVolunteer(t *testing.T, srv *testServer, name string, skills ...string) domain.Volunteer {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/volunteers", map[string]any{
		"name":   name,
		"skills": skills,
		"lat":    40.7128,
		"lng":    -74.0060,
	}, nil)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	return decode[domain.Volunteer](t, data)
}

func createIssue(t *testing.T, srv *testServer) domain.Issue {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/issues", map[string]any{
		"title":       "Pothole on Main Street",
		"description": "A deep pothole near the school crossing needs repair before winter.",
		"lat":         40.7130,
		"lng":         -74.0055,
	}, nil)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	created := decode[IssueCreatedResponse](t, data)
	assert.True(t, created.Queued)
	assert.Equal(t, domain.IssueStatusPending, created.Issue.Status)
	assert.Equal(t, 0.5, created.Issue.Priority)
	return created.Issue
}

func processIssue(t *testing.T, srv *testServer, issueID string) pipeline.Outcome {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/issues/"+issueID+"/process", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	resp := decode[ProcessResponse](t, data)
	require.NotNil(t, resp.Outcome)
	return *resp.Outcome
}

func TestHealth(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	health := decode[HealthResponse](t, data)
	assert.Equal(t, "ok", health.Status)
	assert.Zero(t, health.QueuePending)
}

func TestCreateIssueValidation(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/issues", map[string]any{
		"title":       "Bad",
		"description": "Too short a title for this issue.",
	}, nil)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	env := decode[errorEnvelope](t, data)
	assert.Equal(t, "bad_request", env.Error.Code)
}

func TestUnknownIssueIsNotFound(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/issues/missing"},
		{http.MethodPost, "/api/issues/missing/process"},
		{http.MethodGet, "/api/action-plans/missing"},
		{http.MethodPost, "/api/action-plans/missing/match"},
		{http.MethodGet, "/api/volunteers/missing/assignments"},
	} {
		res, data := doJSON(t, srv.Client(), tc.method, srv.URL+tc.path, nil, nil)
		require.Equal(t, http.StatusNotFound, res.StatusCode, "%s %s: %s", tc.method, tc.path, data)
		assert.Equal(t, "not_found", decode[errorEnvelope](t, data).Error.Code)
	}
}

func TestProcessIssueEndToEnd(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()

	createVolunteer(t, srv, "Ana", "documentation", "assessment")
	createVolunteer(t, srv, "Ben", "construction", "manual labor")
	issue := createIssue(t, srv)

	out := processIssue(t, srv, issue.ID)
	require.Equal(t, pipeline.OutcomeOK, out.Status, out.Message)
	require.NotNil(t, out.Discovery)
	assert.True(t, out.Discovery.FallbackUsed)
	assert.Equal(t, "infrastructure", out.Discovery.Analysis.Category)
	require.NotNil(t, out.Plan)
	assert.True(t, out.Plan.FallbackUsed)
	require.NotNil(t, out.Match)
	// Infrastructure fallback needs 2, 2, 4 and 2 people; two volunteers fill
	// every task except the repair work.
	assert.Equal(t, 8, out.Match.TotalAssignmentsMade)
	assert.Equal(t, 3, out.Match.TasksFullyAssigned)
	assert.Equal(t, 1, out.Match.TasksPartiallyAssigned)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/api/action-plans/"+out.Plan.PlanID, nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	detail := decode[PlanDetailResponse](t, data)
	assert.Equal(t, domain.PlanStatusActive, detail.Plan.Status)
	assert.Equal(t, 2, detail.Plan.AssignedVolunteers)
	assert.Equal(t, 10, detail.Plan.RequiredVolunteers)
	require.Len(t, detail.Tasks, 4)
	assert.Equal(t, "Assessment and Documentation", detail.Tasks[0].Name)
	assert.Equal(t, []string{detail.Tasks[0].ID}, detail.Tasks[1].PrerequisiteIDs)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/issues/"+issue.ID, nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	got := decode[domain.Issue](t, data)
	assert.Equal(t, domain.IssueStatusPlanning, got.Status)
	assert.Equal(t, out.Plan.PlanID, got.Metadata["action_plan_id"])

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/agent-logs/session/"+out.SessionID, nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	logs := decode[paginatedLogs](t, data)
	require.Len(t, logs.Items, 3)
	agents := map[string]bool{}
	for _, entry := range logs.Items {
		agents[entry.AgentType] = true
		assert.Equal(t, out.SessionID, entry.SessionID)
	}
	assert.True(t, agents[domain.AgentDiscovery] && agents[domain.AgentPlanning] && agents[domain.AgentMatching])

	// A second match run only fills open seats and the volunteers are taken.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/action-plans/"+out.Plan.PlanID+"/match", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	again := decode[matching.Summary](t, data)
	assert.Equal(t, domain.StageOK, again.Status)
	assert.Equal(t, 0, again.TotalAssignmentsMade)

	// Processing again reuses the existing plan.
	second := processIssue(t, srv, issue.ID)
	require.NotNil(t, second.Plan)
	assert.True(t, second.Plan.Existing)
	assert.Equal(t, out.Plan.PlanID, second.Plan.PlanID)
}

func TestAssignmentLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()

	createVolunteer(t, srv, "Ana")
	createVolunteer(t, srv, "Ben")
	issue := createIssue(t, srv)
	out := processIssue(t, srv, issue.ID)
	require.Equal(t, pipeline.OutcomeOK, out.Status, out.Message)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/api/action-plans/"+out.Plan.PlanID+"/tasks", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	tasks := decode[paginatedTasks](t, data).Items
	require.Len(t, tasks, 4)

	assignmentsOf := func(taskID string) []domain.TaskAssignment {
		res, data := doJSON(t, client, http.MethodGet, srv.URL+"/api/tasks/"+taskID+"/assignments", nil, nil)
		require.Equal(t, http.StatusOK, res.StatusCode, string(data))
		return decode[paginatedAssignments](t, data).Items
	}
	first := assignmentsOf(tasks[0].ID)
	require.Len(t, first, 2)
	second := assignmentsOf(tasks[1].ID)
	require.NotEmpty(t, second)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/assignments/"+second[0].ID+"/start", nil, nil)
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	assert.Equal(t, "prerequisites_pending", decode[errorEnvelope](t, data).Error.Code)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/assignments/"+first[0].ID+"/complete", nil, nil)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, "complete before start: %s", data)

	for _, a := range first {
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/assignments/"+a.ID+"/start", nil, nil)
		require.Equal(t, http.StatusOK, res.StatusCode, string(data))
		assert.Equal(t, domain.AssignmentInProgress, decode[domain.TaskAssignment](t, data).Status)
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/assignments/"+a.ID+"/complete", nil, nil)
		require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/action-plans/"+out.Plan.PlanID, nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	detail := decode[PlanDetailResponse](t, data)
	assert.Equal(t, domain.TaskStatusCompleted, detail.Tasks[0].Status)
	assert.InDelta(t, 25.0, detail.Plan.ProgressPercentage, 1e-9)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/assignments/"+second[0].ID+"/start", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/issues/"+issue.ID, nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, domain.IssueStatusInProgress, decode[domain.Issue](t, data).Status)
}

func TestManualAssignConflict(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()

	issue := createIssue(t, srv)
	out := processIssue(t, srv, issue.ID)
	// No volunteers yet: matching halts but the plan exists.
	require.Equal(t, pipeline.OutcomeHalted, out.Status)
	require.NotNil(t, out.Plan)
	require.NotEmpty(t, out.Plan.Tasks)
	vol := createVolunteer(t, srv, "Cleo")
	taskID := out.Plan.Tasks[0].ID

	url := srv.URL + "/api/tasks/" + taskID + "/assign/" + vol.ID
	res, data := doJSON(t, client, http.MethodPost, url, map[string]any{"notes": "called in"}, nil)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	a := decode[domain.TaskAssignment](t, data)
	assert.Equal(t, domain.SourceManual, a.Source)
	assert.Equal(t, "called in", a.Notes)

	res, data = doJSON(t, client, http.MethodPost, url, nil, nil)
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/volunteers/"+vol.ID+"/assignments", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Len(t, decode[paginatedAssignments](t, data).Items, 1)
}

func TestListIssuesPagination(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	for i := 0; i < 3; i++ {
		createIssue(t, srv)
	}

	seen := map[string]bool{}
	url := srv.URL + "/api/issues?limit=2"
	res, data := doJSON(t, srv.Client(), http.MethodGet, url, nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	page := decode[paginatedIssues](t, data)
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)
	for _, i := range page.Items {
		seen[i.ID] = true
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, url+"&cursor="+neturl.QueryEscape(page.NextCursor), nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	page = decode[paginatedIssues](t, data)
	require.Len(t, page.Items, 1)
	assert.Empty(t, page.NextCursor)
	assert.False(t, seen[page.Items[0].ID])

	res, _ = doJSON(t, srv.Client(), http.MethodGet, url+"&cursor=bogus", nil, nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestBearerAuthOnMutations(t *testing.T) {
	const secret = "test-secret"
	srv, cleanup := newTestServer(t, AuthConfig{JWTSecret: secret})
	defer cleanup()
	client := srv.Client()
	body := map[string]any{
		"title":       "Broken street light",
		"description": "The light on Elm street has been out for a week.",
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/issues", body, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode, string(data))

	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/api/issues", body, map[string]string{"Authorization": "Bearer nope"})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)

	token, err := IssueToken(secret, "reporter-1")
	require.NoError(t, err)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/issues", body, map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	assert.Equal(t, "reporter-1", decode[IssueCreatedResponse](t, data).Issue.CreatedBy)

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/api/issues", nil, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestOpenAPIDocument(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	doc := decode[map[string]any](t, data)
	paths, ok := doc["paths"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, paths, "/api/issues/{issue_id}/process")
	assert.Contains(t, paths, "/api/assignments/{assignment_id}/withdraw")
}
