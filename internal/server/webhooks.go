package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"weave/internal/config"
	"weave/internal/pipeline"
)

const (
	defaultWebhookTimeout = 5 * time.Second
	defaultWebhookBuffer  = 64
)

// WebhookDispatcher posts finished pipeline outcomes to the configured
// webhooks. Delivery is best effort: a full buffer or failing hook drops the
// outcome after logging it.
type WebhookDispatcher struct {
	hooks    []config.WebhookConfig
	client   *http.Client
	log      *zap.Logger
	outcomes chan pipeline.Outcome
}

func NewWebhookDispatcher(hooks []config.WebhookConfig, log *zap.Logger) *WebhookDispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &WebhookDispatcher{
		hooks:    hooks,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		log:      log.Named("webhooks"),
		outcomes: make(chan pipeline.Outcome, defaultWebhookBuffer),
	}
}

// Notify queues an outcome without blocking. It fits QueueOptions.OnOutcome.
func (d *WebhookDispatcher) Notify(out pipeline.Outcome) {
	if len(d.hooks) == 0 {
		return
	}
	select {
	case d.outcomes <- out:
	default:
		d.log.Warn("webhook buffer full, dropping outcome", zap.String("session_id", out.SessionID))
	}
}

// Run delivers queued outcomes until ctx is done.
func (d *WebhookDispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case out := <-d.outcomes:
			d.dispatchAll(ctx, out)
		}
	}
}

func (d *WebhookDispatcher) dispatchAll(ctx context.Context, out pipeline.Outcome) {
	for _, hook := range d.hooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		if !newOutcomeFilter(hook.Outcomes).match(out.Status) {
			continue
		}
		if err := d.post(ctx, hook, out); err != nil {
			d.log.Warn("webhook delivery failed",
				zap.String("url", hook.URL),
				zap.String("session_id", out.SessionID),
				zap.Error(err))
		}
	}
}

type webhookOutcome struct {
	SessionID       string `json:"session_id"`
	IssueID         string `json:"issue_id"`
	Status          string `json:"status"`
	Stage           string `json:"stage"`
	Message         string `json:"message,omitempty"`
	ActionPlanID    string `json:"action_plan_id,omitempty"`
	AssignmentsMade int    `json:"assignments_made"`
	FallbackUsed    bool   `json:"fallback_used"`
}

func outcomeBody(out pipeline.Outcome) webhookOutcome {
	body := webhookOutcome{
		SessionID: out.SessionID,
		IssueID:   out.IssueID,
		Status:    out.Status,
		Stage:     out.Stage,
		Message:   out.Message,
	}
	if out.Discovery != nil && out.Discovery.FallbackUsed {
		body.FallbackUsed = true
	}
	if out.Plan != nil {
		body.ActionPlanID = out.Plan.PlanID
		body.FallbackUsed = body.FallbackUsed || out.Plan.FallbackUsed
	}
	if out.Match != nil {
		body.AssignmentsMade = out.Match.TotalAssignmentsMade
	}
	return body
}

func (d *WebhookDispatcher) post(ctx context.Context, hook config.WebhookConfig, out pipeline.Outcome) error {
	data, err := json.Marshal(outcomeBody(out))
	if err != nil {
		return err
	}
	client := d.client
	if hook.TimeoutSeconds > 0 {
		client = &http.Client{Timeout: time.Duration(hook.TimeoutSeconds) * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Weave-Outcome", out.Status)
	req.Header.Set("X-Weave-Delivery", out.SessionID)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Weave-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

type outcomeFilter struct {
	all bool
	set map[string]struct{}
}

func newOutcomeFilter(statuses []string) outcomeFilter {
	set := make(map[string]struct{}, len(statuses))
	for _, s := range statuses {
		if key := strings.TrimSpace(s); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return outcomeFilter{all: true}
	}
	return outcomeFilter{set: set}
}

func (f outcomeFilter) match(status string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[status]
	return ok
}
