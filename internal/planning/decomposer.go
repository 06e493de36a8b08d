// Package planning expands a classified issue into an action plan with an
// ordered task list.
package planning

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"weave/internal/completion"
	"weave/internal/domain"
	"weave/internal/ledger"
	"weave/internal/repo"
)

type Decomposer struct {
	Repo       repo.Repo
	Completion completion.Service
	Ledger     ledger.Writer
	Log        *zap.Logger
	Now        func() time.Time
}

type Result struct {
	Status       string            `json:"status"`
	SessionID    string            `json:"session_id"`
	IssueID      string            `json:"issue_id"`
	PlanID       string            `json:"action_plan_id,omitempty"`
	Existing     bool              `json:"existing"`
	FallbackUsed bool              `json:"fallback_used"`
	Plan         domain.ActionPlan `json:"action_plan"`
	Tasks        []domain.Task     `json:"tasks"`
	Graph        Graph             `json:"graph"`
}

func (d Decomposer) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

func (d Decomposer) log() *zap.Logger {
	if d.Log == nil {
		return zap.NewNop()
	}
	return d.Log
}

// Decompose creates the issue's plan, or returns the existing one. Plan,
// tasks, prerequisite edges and the issue link are written in one
// transaction.
func (d Decomposer) Decompose(ctx context.Context, sessionID, issueID string) (Result, error) {
	timer := ledger.StartTimer()
	res := Result{SessionID: sessionID, IssueID: issueID}
	log := d.log().With(zap.String("session_id", sessionID), zap.String("issue_id", issueID))

	issue, err := d.Repo.GetIssue(ctx, issueID)
	if err != nil {
		res.Status = domain.StageError
		if errors.Is(err, repo.ErrNotFound) {
			res.Status = domain.StageNotFound
			err = fmt.Errorf("issue %s: %w", issueID, repo.ErrNotFound)
		}
		d.record(ctx, log, ledger.Entry{
			SessionID: sessionID, SubjectID: issueID, Elapsed: timer.Elapsed(),
			Input: ledger.Payload{"issue_id": issueID}, ErrorMessage: err.Error(),
		})
		return res, err
	}

	if existing, err := d.Repo.GetPlanByIssue(ctx, issueID); err == nil {
		return d.existing(ctx, log, res, timer, existing), nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return d.fail(ctx, log, res, timer, issue, fmt.Errorf("check existing plan: %w", err))
	}

	analysis := analysisFor(issue)
	draft, fallbackReason := d.draft(ctx, issue, analysis)
	res.FallbackUsed = fallbackReason != ""
	if res.FallbackUsed {
		log.Info("completion unusable, using fallback plan", zap.String("reason", fallbackReason))
	}
	if draft.Title == "" {
		draft.Title = issue.Title
	}

	ts := d.now().UTC().Format(time.RFC3339)
	plan := domain.ActionPlan{
		ID:                    uuid.NewString(),
		IssueID:               issueID,
		Title:                 draft.Title,
		Description:           draft.Description,
		Status:                domain.PlanStatusDraft,
		Priority:              NormalizePriority(draft.Priority),
		EstimatedDurationDays: draft.EstimatedDurationDays,
		RequiredVolunteers:    draft.RequiredVolunteers,
		CreatedAt:             ts,
		UpdatedAt:             ts,
	}
	tasks := make([]domain.Task, len(draft.Tasks))
	for i, td := range draft.Tasks {
		tasks[i] = domain.Task{
			ID:             uuid.NewString(),
			ActionPlanID:   plan.ID,
			Name:           td.Name,
			Description:    td.Description,
			RequiredPeople: td.RequiredPeople,
			EstimatedHours: td.EstimatedHours,
			Status:         domain.TaskStatusPending,
			Priority:       td.Priority,
			Prerequisites:  td.Prerequisites,
			SkillsRequired: td.SkillsRequired,
			CreatedAt:      ts,
			UpdatedAt:      ts,
		}
	}
	graph := BuildGraph(tasks)
	for _, e := range graph.Edges {
		for i := range tasks {
			if tasks[i].ID == e.TaskID {
				tasks[i].PrerequisiteIDs = append(tasks[i].PrerequisiteIDs, e.PrerequisiteID)
			}
		}
	}
	if len(graph.Dropped) > 0 {
		log.Warn("dropped prerequisite references", zap.Int("count", len(graph.Dropped)))
	}
	plan.Metadata = map[string]any{
		"session_id":            sessionID,
		"success_criteria":      draft.SuccessCriteria,
		"safety_considerations": draft.SafetyConsiderations,
		"fallback_used":         res.FallbackUsed,
		"dropped_prerequisites": graph.Dropped,
	}

	err = d.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		if err := d.Repo.InsertPlan(ctx, tx, plan); err != nil {
			return err
		}
		for _, t := range tasks {
			if err := d.Repo.InsertTask(ctx, tx, t); err != nil {
				return fmt.Errorf("insert task %q: %w", t.Name, err)
			}
		}
		for _, e := range graph.Edges {
			if err := d.Repo.InsertPrerequisite(ctx, tx, e.TaskID, e.PrerequisiteID); err != nil {
				return fmt.Errorf("insert prerequisite: %w", err)
			}
		}
		return d.Repo.UpdateIssue(ctx, tx, issueID, repo.IssueUpdate{
			Status:   domain.IssueStatusPlanning,
			Metadata: map[string]any{"action_plan_id": plan.ID},
			At:       ts,
		})
	})
	if errors.Is(err, repo.ErrConflict) {
		// A concurrent run created the plan first.
		existing, gerr := d.Repo.GetPlanByIssue(ctx, issueID)
		if gerr == nil {
			return d.existing(ctx, log, res, timer, existing), nil
		}
		err = gerr
	}
	if err != nil {
		return d.fail(ctx, log, res, timer, issue, fmt.Errorf("store plan: %w", err))
	}

	res.Status = domain.StageOK
	res.PlanID = plan.ID
	res.Plan = plan
	res.Tasks = tasks
	res.Graph = graph

	entry := ledger.Entry{
		SessionID:  sessionID,
		SubjectID:  issueID,
		Input:      ledger.Payload{"title": issue.Title, "category": issue.Category},
		Output:     ledger.Struct(draft),
		Confidence: ledger.Float(draft.Confidence),
		Elapsed:    timer.Elapsed(),
		Success:    true,
	}
	entry.Output["action_plan_id"] = plan.ID
	if res.FallbackUsed {
		entry.Confidence = ledger.Float(FallbackConfidence)
		entry.ErrorMessage = "Used fallback planning"
	}
	d.record(ctx, log, entry)
	log.Info("action plan created", zap.String("action_plan_id", plan.ID), zap.Int("tasks", len(tasks)),
		zap.Bool("fallback", res.FallbackUsed))
	return res, nil
}

// draft asks the completion service for a plan and falls back to the category
// template. The returned reason is empty when the model plan was used.
func (d Decomposer) draft(ctx context.Context, issue domain.Issue, a domain.DiscoveryAnalysis) (Draft, string) {
	out := d.Completion.Complete(ctx, buildPrompt(issue, a), systemInstruction)
	if !out.OK() {
		return Fallback(a.Category, issue.Title), string(out.Failure)
	}
	draft, err := ParseDraft(out.Payload)
	if errors.Is(err, ErrNoTasks) {
		return Fallback(a.Category, issue.Title), "empty_tasks"
	}
	if err != nil {
		return Fallback(a.Category, issue.Title), string(completion.FailureParse)
	}
	return draft, ""
}

// analysisFor reads the stored discovery analysis, defaulting from the issue
// when classification never ran.
func analysisFor(issue domain.Issue) domain.DiscoveryAnalysis {
	a := domain.DiscoveryAnalysis{
		Category:                  issue.Category,
		Priority:                  issue.Priority,
		Urgency:                   "medium",
		EstimatedScope:            "medium",
		EstimatedVolunteersNeeded: 5,
		IsValid:                   true,
	}
	raw, ok := issue.Metadata["discovery_analysis"]
	if !ok {
		return a
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return a
	}
	var stored domain.DiscoveryAnalysis
	if err := json.Unmarshal(data, &stored); err != nil || stored.Category == "" {
		return a
	}
	return stored
}

func (d Decomposer) existing(ctx context.Context, log *zap.Logger, res Result, timer ledger.Timer, plan domain.ActionPlan) Result {
	res.Status = domain.StageOK
	res.Existing = true
	res.PlanID = plan.ID
	res.Plan = plan
	if tasks, err := d.Repo.ListTasksByPlan(ctx, nil, plan.ID); err == nil {
		res.Tasks = tasks
	}
	d.record(ctx, log, ledger.Entry{
		SessionID: res.SessionID, SubjectID: res.IssueID, Elapsed: timer.Elapsed(), Success: true,
		Input:  ledger.Payload{"issue_id": res.IssueID},
		Output: ledger.Payload{"action_plan_id": plan.ID, "message": "Action plan already exists"},
	})
	log.Info("action plan already exists", zap.String("action_plan_id", plan.ID))
	return res
}

func (d Decomposer) fail(ctx context.Context, log *zap.Logger, res Result, timer ledger.Timer, issue domain.Issue, err error) (Result, error) {
	res.Status = domain.StageError
	log.Error("planning failed", zap.Error(err), zap.Stack("stack"))
	d.record(ctx, log, ledger.Entry{
		SessionID: res.SessionID, SubjectID: issue.ID, Elapsed: timer.Elapsed(),
		Input: ledger.Payload{"title": issue.Title}, ErrorMessage: err.Error(),
	})
	return res, err
}

func (d Decomposer) record(ctx context.Context, log *zap.Logger, e ledger.Entry) {
	e.AgentType = domain.AgentPlanning
	e.Action = domain.ActionCreateActionPlan
	if _, err := d.Ledger.Append(ctx, e); err != nil {
		log.Warn("ledger append failed", zap.Error(err))
	}
}
