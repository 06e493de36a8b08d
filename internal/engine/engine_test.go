package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"weave/internal/config"
	"weave/internal/db"
	"weave/internal/domain"
	"weave/internal/engine"
	"weave/internal/migrate"
	"weave/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if _, err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default(), zap.NewNop())
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func ptr(v float64) *float64 { return &v }

// seedPlan stores an issue and a plan whose tasks each depend on the
// previous one. It returns the tasks in order.
func seedPlan(t *testing.T, env testEnv, required ...int) (domain.Issue, domain.ActionPlan, []domain.Task) {
	t.Helper()
	issue, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{
		Title:       "Overgrown community garden",
		Description: "Weeds have taken over the raised beds behind the library.",
	})
	require.NoError(t, err)
	ts := "2024-01-01T00:00:00Z"
	plan := domain.ActionPlan{
		ID: "plan-1", IssueID: issue.ID, Title: "Action Plan: garden", Status: domain.PlanStatusDraft,
		Priority: "medium", EstimatedDurationDays: 3, Metadata: map[string]any{}, CreatedAt: ts, UpdatedAt: ts,
	}
	var tasks []domain.Task
	for i, n := range required {
		plan.RequiredVolunteers += n
		task := domain.Task{
			ID: "task-" + string(rune('a'+i)), ActionPlanID: plan.ID, Name: "Step " + string(rune('A'+i)),
			RequiredPeople: n, EstimatedHours: 2, Status: domain.TaskStatusPending, Priority: i + 1,
			Prerequisites: []string{}, SkillsRequired: []string{}, CreatedAt: ts, UpdatedAt: ts,
		}
		if i > 0 {
			task.PrerequisiteIDs = []string{tasks[i-1].ID}
		}
		tasks = append(tasks, task)
	}
	r := env.Engine.Repo
	require.NoError(t, r.InsertPlan(env.Ctx, nil, plan))
	for _, task := range tasks {
		require.NoError(t, r.InsertTask(env.Ctx, nil, task))
		for _, pre := range task.PrerequisiteIDs {
			require.NoError(t, r.InsertPrerequisite(env.Ctx, nil, task.ID, pre))
		}
	}
	return issue, plan, tasks
}

func addVolunteer(t *testing.T, env testEnv, name string) domain.Volunteer {
	t.Helper()
	v, err := env.Engine.RegisterVolunteer(env.Ctx, engine.VolunteerCreateOptions{Name: name})
	require.NoError(t, err)
	return v
}

func TestCreateIssueDefaultsAndValidation(t *testing.T) {
	env := newTestEnv(t)

	issue, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{
		Title:       "  Broken swing  ",
		Description: "The swing chain snapped at the north playground.",
		Lat:         ptr(40.7),
		Lng:         ptr(-74.0),
		Address:     "North Playground",
	})
	require.NoError(t, err)
	assert.Equal(t, "Broken swing", issue.Title)
	assert.Equal(t, domain.IssueStatusPending, issue.Status)
	assert.Equal(t, 0.5, issue.Priority)
	assert.Equal(t, "other", issue.Category)
	assert.Equal(t, []string{}, issue.Images)
	assert.True(t, issue.Location.HasCoordinates())
	assert.Equal(t, "2024-01-01T00:00:00Z", issue.CreatedAt)

	stored, err := env.Engine.Repo.GetIssue(env.Ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, issue.Title, stored.Title)

	cases := []engine.IssueCreateOptions{
		{Title: "Hole", Description: "A hole in the sidewalk near the bus stop."},
		{Title: "Sidewalk hole", Description: "Too short"},
		{Title: "Sidewalk hole", Description: "A hole in the sidewalk near the bus stop.", Lat: ptr(91), Lng: ptr(0)},
		{Title: "Sidewalk hole", Description: "A hole in the sidewalk near the bus stop.", Lat: ptr(10)},
	}
	for _, opts := range cases {
		_, err := env.Engine.CreateIssue(env.Ctx, opts)
		assert.ErrorIs(t, err, engine.ErrInvalid, "%+v", opts)
	}
}

func TestRegisterVolunteerValidation(t *testing.T) {
	env := newTestEnv(t)

	v, err := env.Engine.RegisterVolunteer(env.Ctx, engine.VolunteerCreateOptions{
		Name:   "Dana",
		Skills: []string{" painting ", "", "carpentry"},
		Lat:    ptr(40.71),
		Lng:    ptr(-74.0),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"painting", "carpentry"}, v.Skills)
	require.NotNil(t, v.Location)
	assert.Equal(t, domain.DefaultReliability, v.Reliability())

	_, err = env.Engine.RegisterVolunteer(env.Ctx, engine.VolunteerCreateOptions{Name: " "})
	assert.ErrorIs(t, err, engine.ErrInvalid)
	_, err = env.Engine.RegisterVolunteer(env.Ctx, engine.VolunteerCreateOptions{Name: "Eli", Reliability: ptr(1.2)})
	assert.ErrorIs(t, err, engine.ErrInvalid)
}

func TestManualAssignConflictsOnDuplicatePair(t *testing.T) {
	env := newTestEnv(t)
	_, _, tasks := seedPlan(t, env, 2)
	v := addVolunteer(t, env, "Fay")

	a, err := env.Engine.AssignVolunteer(env.Ctx, tasks[0].ID, v.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceManual, a.Source)
	assert.Equal(t, "Manually assigned", a.Notes)

	_, err = env.Engine.AssignVolunteer(env.Ctx, tasks[0].ID, v.ID, "again")
	assert.ErrorIs(t, err, repo.ErrConflict)

	_, err = env.Engine.AssignVolunteer(env.Ctx, "missing", v.ID, "")
	assert.ErrorIs(t, err, repo.ErrNotFound)

	plan, err := env.Engine.Repo.GetPlan(env.Ctx, "plan-1")
	require.NoError(t, err)
	assert.Equal(t, 1, plan.AssignedVolunteers)
	assert.Equal(t, domain.PlanStatusActive, plan.Status)
}

func TestAssignmentTransitions(t *testing.T) {
	env := newTestEnv(t)
	_, _, tasks := seedPlan(t, env, 1)
	v := addVolunteer(t, env, "Gus")
	a, err := env.Engine.AssignVolunteer(env.Ctx, tasks[0].ID, v.ID, "")
	require.NoError(t, err)

	_, err = env.Engine.CompleteAssignment(env.Ctx, a.ID)
	assert.ErrorIs(t, err, engine.ErrInvalid, "assigned -> completed skips start")

	started, err := env.Engine.StartAssignment(env.Ctx, a.ID, false)
	require.NoError(t, err)
	assert.Equal(t, domain.AssignmentInProgress, started.Status)
	require.NotNil(t, started.StartedAt)

	done, err := env.Engine.CompleteAssignment(env.Ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, done.CompletedAt)

	_, err = env.Engine.WithdrawAssignment(env.Ctx, a.ID)
	assert.ErrorIs(t, err, engine.ErrInvalid, "completed is terminal")

	_, err = env.Engine.StartAssignment(env.Ctx, "missing", false)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestStartBlockedByPrerequisites(t *testing.T) {
	env := newTestEnv(t)
	_, _, tasks := seedPlan(t, env, 1, 1)
	v := addVolunteer(t, env, "Hal")
	w := addVolunteer(t, env, "Ivy")
	first, err := env.Engine.AssignVolunteer(env.Ctx, tasks[0].ID, v.ID, "")
	require.NoError(t, err)
	second, err := env.Engine.AssignVolunteer(env.Ctx, tasks[1].ID, w.ID, "")
	require.NoError(t, err)

	_, err = env.Engine.StartAssignment(env.Ctx, second.ID, false)
	require.ErrorIs(t, err, engine.ErrBlocked)
	assert.Contains(t, err.Error(), "Step A")

	forced, err := env.Engine.StartAssignment(env.Ctx, second.ID, true)
	require.NoError(t, err)
	assert.Equal(t, domain.AssignmentInProgress, forced.Status)

	_, err = env.Engine.StartAssignment(env.Ctx, first.ID, false)
	require.NoError(t, err)
}

func TestProgressAndResolution(t *testing.T) {
	env := newTestEnv(t)
	issue, plan, tasks := seedPlan(t, env, 1, 2)
	vols := []domain.Volunteer{addVolunteer(t, env, "Jo"), addVolunteer(t, env, "Kit")}

	finish := func(taskID, volunteerID string) {
		t.Helper()
		a, err := env.Engine.AssignVolunteer(env.Ctx, taskID, volunteerID, "")
		require.NoError(t, err)
		_, err = env.Engine.StartAssignment(env.Ctx, a.ID, false)
		require.NoError(t, err)
		_, err = env.Engine.CompleteAssignment(env.Ctx, a.ID)
		require.NoError(t, err)
	}

	finish(tasks[0].ID, vols[0].ID)
	got, err := env.Engine.Repo.GetPlan(env.Ctx, plan.ID)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, got.ProgressPercentage, 1e-9)
	assert.Equal(t, domain.PlanStatusActive, got.Status)
	gotIssue, err := env.Engine.Repo.GetIssue(env.Ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IssueStatusInProgress, gotIssue.Status)

	// One of two required people done leaves the task in progress.
	finish(tasks[1].ID, vols[0].ID)
	task, err := env.Engine.Repo.GetTask(env.Ctx, nil, tasks[1].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusInProgress, task.Status)

	finish(tasks[1].ID, vols[1].ID)
	got, err = env.Engine.Repo.GetPlan(env.Ctx, plan.ID)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, got.ProgressPercentage, 1e-9)
	assert.Equal(t, domain.PlanStatusCompleted, got.Status)
	gotIssue, err = env.Engine.Repo.GetIssue(env.Ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IssueStatusResolved, gotIssue.Status)

	_, err = env.Engine.AssignVolunteer(env.Ctx, tasks[0].ID, vols[1].ID, "")
	assert.ErrorIs(t, err, engine.ErrInvalid, "completed tasks take no new volunteers")
}

func TestWithdrawFreesSeat(t *testing.T) {
	env := newTestEnv(t)
	_, plan, tasks := seedPlan(t, env, 1)
	v := addVolunteer(t, env, "Lou")
	a, err := env.Engine.AssignVolunteer(env.Ctx, tasks[0].ID, v.ID, "")
	require.NoError(t, err)

	_, err = env.Engine.WithdrawAssignment(env.Ctx, a.ID)
	require.NoError(t, err)
	counts, err := env.Engine.Repo.ActiveAssignmentCounts(env.Ctx)
	require.NoError(t, err)
	assert.Zero(t, counts[v.ID])

	got, err := env.Engine.Repo.GetPlan(env.Ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.AssignedVolunteers)
	assert.Equal(t, domain.PlanStatusDraft, got.Status)
}
