package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"weave/internal/domain"
	"weave/internal/repo"
)

// Writer appends execution entries. Entries are never updated or removed.
type Writer struct {
	Repo repo.Repo
	Now  func() time.Time
}

type Payload map[string]any

// Entry is what a stage reports about one invocation.
type Entry struct {
	SessionID    string
	AgentType    string
	Action       string
	SubjectID    string
	Input        Payload
	Output       Payload
	Confidence   *float64
	Elapsed      time.Duration
	Success      bool
	ErrorMessage string
}

func (w Writer) now() time.Time {
	if w.Now == nil {
		return time.Now()
	}
	return w.Now()
}

// Append stores the entry and returns the stored record.
func (w Writer) Append(ctx context.Context, e Entry) (domain.ExecutionLogEntry, error) {
	if e.SessionID == "" {
		return domain.ExecutionLogEntry{}, fmt.Errorf("ledger entry requires a session id")
	}
	if e.Input == nil {
		e.Input = Payload{}
	}
	if e.Output == nil {
		e.Output = Payload{}
	}
	rec := domain.ExecutionLogEntry{
		ID:              uuid.NewString(),
		SessionID:       e.SessionID,
		AgentType:       e.AgentType,
		Action:          e.Action,
		SubjectID:       e.SubjectID,
		InputData:       e.Input,
		OutputData:      e.Output,
		ConfidenceScore: e.Confidence,
		ExecutionTimeMS: e.Elapsed.Milliseconds(),
		Success:         e.Success,
		ErrorMessage:    e.ErrorMessage,
		CreatedAt:       w.now().UTC().Format(time.RFC3339Nano),
	}
	if err := w.Repo.InsertAgentLog(ctx, rec); err != nil {
		return rec, fmt.Errorf("append ledger entry: %w", err)
	}
	return rec, nil
}

// Timer measures a stage invocation.
type Timer struct {
	start time.Time
}

func StartTimer() Timer {
	return Timer{start: time.Now()}
}

func (t Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// Float returns a pointer to v, for confidence scores.
func Float(v float64) *float64 {
	return &v
}

// Struct converts a JSON-tagged value into a Payload.
func Struct(v any) Payload {
	out := Payload{}
	data, err := json.Marshal(v)
	if err != nil {
		return out
	}
	_ = json.Unmarshal(data, &out)
	return out
}
