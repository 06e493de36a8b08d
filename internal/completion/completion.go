// Package completion turns prompts into structured JSON payloads from an
// external text-generation service. Failures are reported in the Result and
// never returned as errors, so callers always have a fallback branch.
package completion

import (
	"context"
	"encoding/json"
	"errors"
)

type FailureReason string

const (
	FailureNone        FailureReason = ""
	FailureUnavailable FailureReason = "service_unavailable"
	FailureParse       FailureReason = "parse_error"
)

// ErrNotConfigured is reported when no completion provider is set up.
var ErrNotConfigured = errors.New("completion service not configured")

type Result struct {
	Payload json.RawMessage
	Text    string
	Failure FailureReason
	Err     error
}

func (r Result) OK() bool {
	return r.Failure == FailureNone && len(r.Payload) > 0
}

type Service interface {
	Complete(ctx context.Context, prompt, systemInstruction string) Result
}

// ServiceFunc adapts a function to Service.
type ServiceFunc func(ctx context.Context, prompt, systemInstruction string) Result

func (f ServiceFunc) Complete(ctx context.Context, prompt, systemInstruction string) Result {
	return f(ctx, prompt, systemInstruction)
}

// FromText builds a Result from raw generated text.
func FromText(text string) Result {
	payload, err := ExtractJSON(text)
	if err != nil {
		return Result{Text: text, Failure: FailureParse, Err: err}
	}
	return Result{Payload: payload, Text: text}
}

// Failed builds a service_unavailable Result.
func Failed(err error) Result {
	return Result{Failure: FailureUnavailable, Err: err}
}

// Unavailable is the provider used when no completion backend is configured.
type Unavailable struct{}

func (Unavailable) Complete(context.Context, string, string) Result {
	return Failed(ErrNotConfigured)
}
