// Package pipeline runs classify, decompose and match for an issue and
// schedules those runs on a bounded worker pool.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"weave/internal/discovery"
	"weave/internal/domain"
	"weave/internal/matching"
	"weave/internal/planning"
)

// Outcome statuses.
const (
	OutcomeOK       = "ok"
	OutcomeHalted   = "halted"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)

// Stage names.
const (
	StageDiscovery = "discovery"
	StagePlanning  = "planning"
	StageMatching  = "matching"
)

type Outcome struct {
	SessionID string            `json:"session_id"`
	IssueID   string            `json:"issue_id"`
	Status    string            `json:"status"`
	Stage     string            `json:"stage"`
	Message   string            `json:"message,omitempty"`
	Discovery *discovery.Result `json:"discovery,omitempty"`
	Plan      *planning.Result  `json:"plan,omitempty"`
	Match     *matching.Summary `json:"match,omitempty"`
}

// Failed reports an unexpected fault, the only retryable outcome.
func (o Outcome) Failed() bool {
	return o.Status == OutcomeError
}

type Runner struct {
	Classifier discovery.Classifier
	Decomposer planning.Decomposer
	Matcher    matching.Engine
	Log        *zap.Logger
}

func (r Runner) log() *zap.Logger {
	if r.Log == nil {
		return zap.NewNop()
	}
	return r.Log
}

// Run executes the stages in order, each gated on the previous one. Panics
// are recovered into error outcomes carrying the session id.
func (r Runner) Run(ctx context.Context, issueID string) (out Outcome) {
	out = Outcome{SessionID: uuid.NewString(), IssueID: issueID}
	log := r.log().With(zap.String("session_id", out.SessionID), zap.String("issue_id", issueID))
	defer func() {
		if rec := recover(); rec != nil {
			out.Status = OutcomeError
			out.Message = fmt.Sprintf("panic in %s stage: %v", out.Stage, rec)
			log.Error("pipeline panic", zap.String("stage", out.Stage), zap.Any("panic", rec), zap.Stack("stack"))
		}
	}()

	out.Stage = StageDiscovery
	disc, err := r.Classifier.Classify(ctx, out.SessionID, issueID)
	out.Discovery = &disc
	if err != nil {
		if errors.Is(err, discovery.ErrIssueNotFound) {
			out.Status = OutcomeNotFound
		} else {
			out.Status = OutcomeError
		}
		out.Message = err.Error()
		return out
	}
	if !disc.Advance() {
		out.Status = OutcomeHalted
		out.Message = "issue marked invalid; left pending"
		log.Info("pipeline halted after discovery")
		return out
	}

	out.Stage = StagePlanning
	plan, err := r.Decomposer.Decompose(ctx, out.SessionID, issueID)
	out.Plan = &plan
	if err != nil {
		out.Status = OutcomeError
		if plan.Status == domain.StageNotFound {
			out.Status = OutcomeNotFound
		}
		out.Message = err.Error()
		return out
	}

	out.Stage = StageMatching
	sum, err := r.Matcher.Match(ctx, out.SessionID, plan.PlanID)
	out.Match = &sum
	if err != nil {
		out.Status = OutcomeError
		out.Message = err.Error()
		return out
	}
	if sum.Status != domain.StageOK {
		out.Status = OutcomeHalted
		out.Message = sum.Message
		return out
	}
	out.Status = OutcomeOK
	log.Info("pipeline finished", zap.String("action_plan_id", plan.PlanID),
		zap.Int("assignments", sum.TotalAssignmentsMade))
	return out
}
