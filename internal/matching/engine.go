// Package matching scores volunteers against tasks and performs greedy,
// capacity-aware assignment for an action plan.
package matching

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"weave/internal/domain"
	"weave/internal/ledger"
	"weave/internal/repo"
)

const (
	MessagePlanNotFound = "action plan not found"
	MessageNoTasks      = "no tasks for action plan"
	MessageNoVolunteers = "no volunteers available"
)

type Engine struct {
	Repo   repo.Repo
	Ledger ledger.Writer
	Log    *zap.Logger
	Now    func() time.Time
	// MaxConcurrentTasks defaults to DefaultMaxConcurrentTasks.
	MaxConcurrentTasks int
	// StrictCapacity reserves capacity in the same statement that inserts the
	// assignment instead of trusting the snapshot count.
	StrictCapacity bool
}

type UnassignedTask struct {
	TaskID   string `json:"task_id"`
	TaskName string `json:"task_name"`
	Required int    `json:"required"`
	Assigned int    `json:"assigned"`
}

type Summary struct {
	Status                 string                  `json:"status"`
	Message                string                  `json:"message,omitempty"`
	SessionID              string                  `json:"session_id"`
	ActionPlanID           string                  `json:"action_plan_id"`
	TotalTasks             int                     `json:"total_tasks"`
	TasksFullyAssigned     int                     `json:"tasks_fully_assigned"`
	TasksPartiallyAssigned int                     `json:"tasks_partially_assigned"`
	TotalAssignmentsMade   int                     `json:"total_assignments_made"`
	UnassignedTasks        []UnassignedTask        `json:"unassigned_tasks"`
	AssignedVolunteers     int                     `json:"assigned_volunteers"`
	PlanStatus             string                  `json:"plan_status,omitempty"`
	Overflow               bool                    `json:"overflow"`
	Assignments            []domain.TaskAssignment `json:"assignments"`
}

func (e Engine) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

func (e Engine) log() *zap.Logger {
	if e.Log == nil {
		return zap.NewNop()
	}
	return e.Log
}

func (e Engine) limit() int {
	if e.MaxConcurrentTasks < 1 {
		return DefaultMaxConcurrentTasks
	}
	return e.MaxConcurrentTasks
}

// Match staffs the plan's tasks. Missing plan, tasks or volunteers are
// reported in the summary status; only store faults return an error.
func (e Engine) Match(ctx context.Context, sessionID, planID string) (Summary, error) {
	timer := ledger.StartTimer()
	sum := Summary{SessionID: sessionID, ActionPlanID: planID, UnassignedTasks: []UnassignedTask{}, Assignments: []domain.TaskAssignment{}}
	log := e.log().With(zap.String("session_id", sessionID), zap.String("action_plan_id", planID))
	input := ledger.Payload{"action_plan_id": planID}

	plan, err := e.Repo.GetPlan(ctx, planID)
	if errors.Is(err, repo.ErrNotFound) {
		return e.halt(ctx, log, sum, timer, input, domain.StageNotFound, MessagePlanNotFound), nil
	}
	if err != nil {
		return e.fail(ctx, log, sum, timer, input, fmt.Errorf("load plan: %w", err))
	}
	sum.PlanStatus = plan.Status

	tasks, err := e.Repo.ListTasksByPlan(ctx, nil, planID)
	if err != nil {
		return e.fail(ctx, log, sum, timer, input, fmt.Errorf("load tasks: %w", err))
	}
	sum.TotalTasks = len(tasks)
	input["tasks_count"] = len(tasks)
	if len(tasks) == 0 {
		return e.halt(ctx, log, sum, timer, input, domain.StageEmpty, MessageNoTasks), nil
	}

	volunteers, err := e.Repo.ListVolunteers(ctx, 0)
	if err != nil {
		return e.fail(ctx, log, sum, timer, input, fmt.Errorf("load volunteers: %w", err))
	}
	input["total_volunteers"] = len(volunteers)
	if len(volunteers) == 0 {
		return e.halt(ctx, log, sum, timer, input, domain.StageEmpty, MessageNoVolunteers), nil
	}

	active, err := e.Repo.ActiveAssignmentCounts(ctx)
	if err != nil {
		return e.fail(ctx, log, sum, timer, input, fmt.Errorf("count active assignments: %w", err))
	}
	pool, busy, overflow := Partition(volunteers, active, e.limit())
	sum.Overflow = overflow
	input["available_volunteers"] = len(volunteers) - len(busy)
	input["busy_volunteers"] = len(busy)
	if overflow {
		log.Warn("all volunteers at capacity, using least busy", zap.Int("busy", len(busy)))
	}

	var issueLocation *domain.Location
	if issue, err := e.Repo.GetIssue(ctx, plan.IssueID); err == nil {
		issueLocation = &issue.Location
	} else if !errors.Is(err, repo.ErrNotFound) {
		return e.fail(ctx, log, sum, timer, input, fmt.Errorf("load issue: %w", err))
	}

	existing, err := e.Repo.ListAssignments(ctx, nil, repo.AssignmentFilters{PlanID: planID})
	if err != nil {
		return e.fail(ctx, log, sum, timer, input, fmt.Errorf("load assignments: %w", err))
	}
	onTask := map[string]map[string]bool{}
	filled := map[string]int{}
	for _, a := range existing {
		if onTask[a.TaskID] == nil {
			onTask[a.TaskID] = map[string]bool{}
		}
		onTask[a.TaskID][a.VolunteerID] = true
		if a.Status != domain.AssignmentWithdrawn {
			filled[a.TaskID]++
		}
	}

	for _, task := range tasks {
		if task.Status == domain.TaskStatusCompleted {
			sum.TasksFullyAssigned++
			continue
		}
		made, err := e.staffTask(ctx, task, pool, issueLocation, onTask[task.ID], filled[task.ID], overflow, &sum)
		if err != nil {
			return e.fail(ctx, log, sum, timer, input, err)
		}
		have := filled[task.ID] + made
		switch {
		case have >= task.RequiredPeople:
			sum.TasksFullyAssigned++
		case have > 0:
			sum.TasksPartiallyAssigned++
			sum.UnassignedTasks = append(sum.UnassignedTasks, UnassignedTask{TaskID: task.ID, TaskName: task.Name, Required: task.RequiredPeople, Assigned: have})
		default:
			sum.UnassignedTasks = append(sum.UnassignedTasks, UnassignedTask{TaskID: task.ID, TaskName: task.Name, Required: task.RequiredPeople})
		}
	}

	ts := e.now().UTC().Format(time.RFC3339)
	err = e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		n, err := e.Repo.CountPlanVolunteers(ctx, tx, planID)
		if err != nil {
			return err
		}
		sum.AssignedVolunteers = n
		status := plan.Status
		if status != domain.PlanStatusCompleted {
			status = domain.PlanStatusDraft
			if n > 0 {
				status = domain.PlanStatusActive
			}
		}
		sum.PlanStatus = status
		return e.Repo.UpdatePlanStaffing(ctx, tx, planID, n, status, ts)
	})
	if err != nil {
		return e.fail(ctx, log, sum, timer, input, fmt.Errorf("update plan staffing: %w", err))
	}

	sum.Status = domain.StageOK
	e.record(ctx, log, ledger.Entry{
		SessionID: sessionID, SubjectID: planID, Elapsed: timer.Elapsed(), Success: true,
		Input: input, Output: summaryPayload(sum),
	})
	log.Info("volunteers matched",
		zap.Int("assignments", sum.TotalAssignmentsMade),
		zap.Int("fully_assigned", sum.TasksFullyAssigned),
		zap.Int("partially_assigned", sum.TasksPartiallyAssigned))
	return sum, nil
}

// staffTask fills the task's open seats from the ranked pool and returns the
// number of assignments created.
func (e Engine) staffTask(ctx context.Context, task domain.Task, pool []domain.Volunteer, issueLocation *domain.Location,
	skip map[string]bool, filled int, overflow bool, sum *Summary) (int, error) {
	open := task.RequiredPeople - filled
	if open <= 0 {
		return 0, nil
	}
	made := 0
	for _, c := range Rank(task, pool, issueLocation) {
		if made == open {
			break
		}
		if skip[c.Volunteer.ID] {
			continue
		}
		a := domain.TaskAssignment{
			ID:          uuid.NewString(),
			TaskID:      task.ID,
			VolunteerID: c.Volunteer.ID,
			Status:      domain.AssignmentAssigned,
			Source:      domain.SourceAuto,
			AssignedAt:  e.now().UTC().Format(time.RFC3339),
			Notes:       Notes(c.Scores),
		}
		var err error
		if e.StrictCapacity && !overflow {
			var ok bool
			ok, err = e.Repo.ReserveAssignment(ctx, nil, a, e.limit())
			if err == nil && !ok {
				continue
			}
		} else {
			err = e.Repo.InsertAssignment(ctx, nil, a)
		}
		if errors.Is(err, repo.ErrConflict) {
			// Assigned by a concurrent run.
			continue
		}
		if err != nil {
			return made, fmt.Errorf("assign volunteer %s to task %s: %w", c.Volunteer.ID, task.ID, err)
		}
		made++
		sum.TotalAssignmentsMade++
		sum.Assignments = append(sum.Assignments, a)
	}
	if filled+made >= task.RequiredPeople && made > 0 &&
		(task.Status == domain.TaskStatusPending || task.Status == domain.TaskStatusAssigned) {
		if err := e.Repo.UpdateTaskStatus(ctx, nil, task.ID, domain.TaskStatusPending, e.now().UTC().Format(time.RFC3339)); err != nil {
			return made, fmt.Errorf("update task %s: %w", task.ID, err)
		}
	}
	return made, nil
}

func summaryPayload(s Summary) ledger.Payload {
	unassigned := make([]ledger.Payload, 0, len(s.UnassignedTasks))
	for _, u := range s.UnassignedTasks {
		unassigned = append(unassigned, ledger.Struct(u))
	}
	return ledger.Payload{
		"total_tasks":              s.TotalTasks,
		"tasks_fully_assigned":     s.TasksFullyAssigned,
		"tasks_partially_assigned": s.TasksPartiallyAssigned,
		"total_assignments_made":   s.TotalAssignmentsMade,
		"unassigned_tasks":         unassigned,
		"assigned_volunteers":      s.AssignedVolunteers,
		"overflow":                 s.Overflow,
	}
}

// halt reports a non-fatal empty or missing resource. The plan is untouched.
func (e Engine) halt(ctx context.Context, log *zap.Logger, sum Summary, timer ledger.Timer, input ledger.Payload, status, msg string) Summary {
	sum.Status = status
	sum.Message = msg
	log.Info("matching halted", zap.String("reason", msg))
	e.record(ctx, log, ledger.Entry{
		SessionID: sum.SessionID, SubjectID: sum.ActionPlanID, Elapsed: timer.Elapsed(),
		Input: input, Output: ledger.Payload{"message": msg}, ErrorMessage: msg,
	})
	return sum
}

func (e Engine) fail(ctx context.Context, log *zap.Logger, sum Summary, timer ledger.Timer, input ledger.Payload, err error) (Summary, error) {
	sum.Status = domain.StageError
	sum.Message = err.Error()
	log.Error("matching failed", zap.Error(err), zap.Stack("stack"))
	e.record(ctx, log, ledger.Entry{
		SessionID: sum.SessionID, SubjectID: sum.ActionPlanID, Elapsed: timer.Elapsed(),
		Input: input, Output: summaryPayload(sum), ErrorMessage: err.Error(),
	})
	return sum, err
}

func (e Engine) record(ctx context.Context, log *zap.Logger, entry ledger.Entry) {
	entry.AgentType = domain.AgentMatching
	entry.Action = domain.ActionMatchVolunteers
	if _, err := e.Ledger.Append(ctx, entry); err != nil {
		log.Warn("ledger append failed", zap.Error(err))
	}
}
