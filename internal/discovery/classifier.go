// Package discovery classifies raw issues into scored, categorized analyses,
// using the completion service when it answers and keyword heuristics when it
// does not.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"weave/internal/completion"
	"weave/internal/domain"
	"weave/internal/ledger"
	"weave/internal/repo"
)

var ErrIssueNotFound = errors.New("issue not found")

type Classifier struct {
	Repo       repo.Repo
	Completion completion.Service
	Ledger     ledger.Writer
	Log        *zap.Logger
	Now        func() time.Time
}

type Result struct {
	Status       string                   `json:"status"`
	SessionID    string                   `json:"session_id"`
	IssueID      string                   `json:"issue_id"`
	Analysis     domain.DiscoveryAnalysis `json:"analysis"`
	FallbackUsed bool                     `json:"fallback_used"`
	Failure      string                   `json:"fallback_reason,omitempty"`
}

// Advance reports whether the issue should proceed to planning.
func (r Result) Advance() bool {
	return r.Status == domain.StageOK && r.Analysis.IsValid
}

func (c Classifier) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

func (c Classifier) log() *zap.Logger {
	if c.Log == nil {
		return zap.NewNop()
	}
	return c.Log
}

// Classify analyzes the issue, updates its category, priority, status and
// metadata, and writes one ledger entry. The only error it returns for a
// healthy store is ErrIssueNotFound.
func (c Classifier) Classify(ctx context.Context, sessionID, issueID string) (Result, error) {
	timer := ledger.StartTimer()
	res := Result{SessionID: sessionID, IssueID: issueID}
	log := c.log().With(zap.String("session_id", sessionID), zap.String("issue_id", issueID))

	issue, err := c.Repo.GetIssue(ctx, issueID)
	if err != nil {
		res.Status = domain.StageError
		if errors.Is(err, repo.ErrNotFound) {
			res.Status = domain.StageNotFound
			err = fmt.Errorf("%w: %s", ErrIssueNotFound, issueID)
		}
		c.record(ctx, log, ledger.Entry{
			SessionID: sessionID, SubjectID: issueID, Elapsed: timer.Elapsed(),
			Input:        ledger.Payload{"issue_id": issueID},
			ErrorMessage: err.Error(),
		})
		return res, err
	}

	at := c.now().UTC().Format(time.RFC3339)
	if err := c.Repo.UpdateIssue(ctx, nil, issueID, repo.IssueUpdate{Status: domain.IssueStatusAnalyzing, At: at}); err != nil {
		return c.fail(ctx, log, res, timer, issue, fmt.Errorf("mark issue analyzing: %w", err))
	}

	var analysis domain.DiscoveryAnalysis
	out := c.Completion.Complete(ctx, buildPrompt(issue), systemInstruction)
	if out.OK() {
		analysis, err = ParseAnalysis(out.Payload)
		if err != nil {
			out = completion.Result{Failure: completion.FailureParse, Err: err}
		}
	}
	if !out.OK() {
		res.FallbackUsed = true
		res.Failure = string(out.Failure)
		log.Info("completion unusable, using heuristic classifier",
			zap.String("reason", string(out.Failure)), zap.Error(out.Err))
		analysis = Heuristic(issue.Title, issue.Description, issue.Location.Address)
	}
	res.Analysis = analysis

	status := domain.IssueStatusPlanning
	if !analysis.IsValid {
		status = domain.IssueStatusPending
	}
	priority := analysis.Priority
	at = c.now().UTC().Format(time.RFC3339)
	err = c.Repo.UpdateIssue(ctx, nil, issueID, repo.IssueUpdate{
		Category: analysis.Category,
		Priority: &priority,
		Status:   status,
		Metadata: map[string]any{
			"discovery_analysis": analysis,
			"analyzed_at":        at,
			"fallback_used":      res.FallbackUsed,
		},
		At: at,
	})
	if err != nil {
		c.release(ctx, log, issueID)
		return c.fail(ctx, log, res, timer, issue, fmt.Errorf("store analysis: %w", err))
	}

	entry := ledger.Entry{
		SessionID:  sessionID,
		SubjectID:  issueID,
		Input:      ledger.Payload{"title": issue.Title, "description": issue.Description},
		Output:     ledger.Struct(analysis),
		Confidence: ledger.Float(analysis.Confidence),
		Elapsed:    timer.Elapsed(),
		Success:    true,
	}
	if res.FallbackUsed {
		entry.ErrorMessage = fmt.Sprintf("fallback used: %s", res.Failure)
	}
	c.record(ctx, log, entry)

	res.Status = domain.StageOK
	log.Info("issue classified",
		zap.String("category", analysis.Category),
		zap.Bool("valid", analysis.IsValid),
		zap.Bool("fallback", res.FallbackUsed))
	return res, nil
}

func (c Classifier) fail(ctx context.Context, log *zap.Logger, res Result, timer ledger.Timer, issue domain.Issue, err error) (Result, error) {
	res.Status = domain.StageError
	log.Error("classification failed", zap.Error(err), zap.Stack("stack"))
	c.record(ctx, log, ledger.Entry{
		SessionID: res.SessionID, SubjectID: issue.ID, Elapsed: timer.Elapsed(),
		Input:        ledger.Payload{"title": issue.Title, "description": issue.Description},
		ErrorMessage: err.Error(),
	})
	return res, err
}

// release returns an issue stuck in analyzing to pending so it is picked up
// again.
func (c Classifier) release(ctx context.Context, log *zap.Logger, issueID string) {
	at := c.now().UTC().Format(time.RFC3339)
	if err := c.Repo.UpdateIssue(ctx, nil, issueID, repo.IssueUpdate{Status: domain.IssueStatusPending, At: at}); err != nil {
		log.Warn("release issue to pending", zap.Error(err))
	}
}

func (c Classifier) record(ctx context.Context, log *zap.Logger, e ledger.Entry) {
	e.AgentType = domain.AgentDiscovery
	e.Action = domain.ActionAnalyzeIssue
	if _, err := c.Ledger.Append(ctx, e); err != nil {
		log.Warn("ledger append failed", zap.Error(err))
	}
}
