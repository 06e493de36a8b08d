package discovery_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"weave/internal/completion"
	"weave/internal/db"
	"weave/internal/discovery"
	"weave/internal/domain"
	"weave/internal/ledger"
	"weave/internal/migrate"
	"weave/internal/repo"
)

type testEnv struct {
	Repo repo.Repo
	Ctx  context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if _, err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return testEnv{Repo: repo.Repo{DB: conn}, Ctx: context.Background()}
}

func (env testEnv) classifier(t *testing.T, svc completion.Service) discovery.Classifier {
	return discovery.Classifier{
		Repo:       env.Repo,
		Completion: svc,
		Ledger:     ledger.Writer{Repo: env.Repo},
		Log:        zaptest.NewLogger(t),
		Now:        func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) },
	}
}

func (env testEnv) seedIssue(t *testing.T, title, desc string) domain.Issue {
	t.Helper()
	issue := domain.Issue{
		ID: uuid.NewString(), Title: title, Description: desc, Category: "other", Priority: 0.5,
		Status: domain.IssueStatusPending, Images: []string{}, Metadata: map[string]any{},
		CreatedAt: "2024-03-01T00:00:00Z", UpdatedAt: "2024-03-01T00:00:00Z",
	}
	require.NoError(t, env.Repo.InsertIssue(env.Ctx, issue))
	return issue
}

func (env testEnv) logs(t *testing.T, subject string) []domain.ExecutionLogEntry {
	t.Helper()
	entries, err := env.Repo.ListAgentLogs(env.Ctx, repo.LogFilters{SubjectID: subject})
	require.NoError(t, err)
	return entries
}

func answer(text string) completion.Service {
	return completion.ServiceFunc(func(context.Context, string, string) completion.Result {
		return completion.FromText(text)
	})
}

func TestClassifyWithModelAnswer(t *testing.T) {
	env := newTestEnv(t)
	issue := env.seedIssue(t, "Trash in the creek", "Plastic bags are piling up under the footbridge.")

	var prompt string
	svc := completion.ServiceFunc(func(_ context.Context, p, _ string) completion.Result {
		prompt = p
		return completion.FromText("```json\n{\"category\":\"environment\",\"priority\":0.7,\"urgency\":\"high\",\"confidence\":0.9,\"tags\":[\"creek\"]}\n```")
	})
	res, err := env.classifier(t, svc).Classify(env.Ctx, "s1", issue.ID)
	require.NoError(t, err)
	assert.Contains(t, prompt, issue.Title)
	assert.Equal(t, domain.StageOK, res.Status)
	assert.False(t, res.FallbackUsed)
	assert.True(t, res.Advance())

	stored, err := env.Repo.GetIssue(env.Ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, "environment", stored.Category)
	assert.Equal(t, 0.7, stored.Priority)
	assert.Equal(t, domain.IssueStatusPlanning, stored.Status)
	assert.Equal(t, "2024-03-01T12:00:00Z", stored.Metadata["analyzed_at"])
	analysis, ok := stored.Metadata["discovery_analysis"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "high", analysis["urgency"])

	entries := env.logs(t, issue.ID)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, domain.AgentDiscovery, e.AgentType)
	assert.Equal(t, domain.ActionAnalyzeIssue, e.Action)
	assert.Equal(t, "s1", e.SessionID)
	assert.True(t, e.Success)
	assert.Empty(t, e.ErrorMessage)
	require.NotNil(t, e.ConfidenceScore)
	assert.Equal(t, 0.9, *e.ConfidenceScore)
}

func TestClassifyFallsBack(t *testing.T) {
	cases := []struct {
		name   string
		svc    completion.Service
		reason string
	}{
		{"unavailable", completion.Unavailable{}, "service_unavailable"},
		{"prose", answer("I cannot help with that."), "parse_error"},
		{"unknown category", answer(`{"category":"weather"}`), "parse_error"},
		{"transport error", completion.ServiceFunc(func(context.Context, string, string) completion.Result {
			return completion.Failed(errors.New("connection reset"))
		}), "service_unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			issue := env.seedIssue(t, "Urgent pothole repair", "A deep pothole on Elm road is damaging tires.")

			res, err := env.classifier(t, tc.svc).Classify(env.Ctx, "s1", issue.ID)
			require.NoError(t, err)
			assert.True(t, res.FallbackUsed)
			assert.Equal(t, tc.reason, res.Failure)
			assert.Equal(t, discovery.Heuristic(issue.Title, issue.Description, ""), res.Analysis)

			stored, err := env.Repo.GetIssue(env.Ctx, issue.ID)
			require.NoError(t, err)
			assert.Equal(t, "infrastructure", stored.Category)
			assert.Equal(t, 0.85, stored.Priority)
			assert.Equal(t, true, stored.Metadata["fallback_used"])

			entries := env.logs(t, issue.ID)
			require.Len(t, entries, 1)
			assert.True(t, entries[0].Success)
			assert.Equal(t, "fallback used: "+tc.reason, entries[0].ErrorMessage)
			require.NotNil(t, entries[0].ConfidenceScore)
			assert.Equal(t, discovery.HeuristicConfidence, *entries[0].ConfidenceScore)
		})
	}
}

func TestClassifyInvalidIssueStaysPending(t *testing.T) {
	env := newTestEnv(t)
	issue := env.seedIssue(t, "asdf asdf", "qwerty qwerty qwerty")

	res, err := env.classifier(t, answer(`{"category":"civic","is_valid":false}`)).Classify(env.Ctx, "s1", issue.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StageOK, res.Status)
	assert.False(t, res.Advance())

	stored, err := env.Repo.GetIssue(env.Ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IssueStatusPending, stored.Status)
	assert.Contains(t, stored.Metadata, "analyzed_at")
}

func TestClassifyUnknownIssue(t *testing.T) {
	env := newTestEnv(t)
	called := false
	svc := completion.ServiceFunc(func(context.Context, string, string) completion.Result {
		called = true
		return completion.Result{}
	})

	res, err := env.classifier(t, svc).Classify(env.Ctx, "s1", "missing")
	require.ErrorIs(t, err, discovery.ErrIssueNotFound)
	assert.Equal(t, domain.StageNotFound, res.Status)
	assert.False(t, called)

	entries := env.logs(t, "missing")
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Success)
	assert.Contains(t, entries[0].ErrorMessage, "issue not found")
}

func TestClassifyStoreFailureReleasesIssue(t *testing.T) {
	env := newTestEnv(t)
	issue := env.seedIssue(t, "Broken bench in the park", "The slats on the north bench snapped last week.")

	svc := completion.ServiceFunc(func(ctx context.Context, _, _ string) completion.Result {
		_, err := env.Repo.DB.ExecContext(ctx, `CREATE TRIGGER reject_analysis BEFORE UPDATE ON issues
			WHEN NEW.metadata_json LIKE '%discovery_analysis%'
			BEGIN SELECT RAISE(ABORT, 'disk full'); END`)
		require.NoError(t, err)
		return completion.Failed(errors.New("offline"))
	})

	res, err := env.classifier(t, svc).Classify(env.Ctx, "session-1", issue.ID)
	require.Error(t, err)
	assert.ErrorContains(t, err, "store analysis")
	assert.Equal(t, domain.StageError, res.Status)

	got, err := env.Repo.GetIssue(env.Ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IssueStatusPending, got.Status)
	assert.NotContains(t, got.Metadata, "analyzed_at")

	entries := env.logs(t, issue.ID)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Success)
}
