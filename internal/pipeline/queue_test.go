package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

type fakeProcessor struct {
	run func(ctx context.Context, issueID string) Outcome
}

func (f fakeProcessor) Run(ctx context.Context, issueID string) Outcome {
	return f.run(ctx, issueID)
}

type outcomes struct {
	mu  sync.Mutex
	got []Outcome
}

func (o *outcomes) add(out Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.got = append(o.got, out)
}

func (o *outcomes) list() []Outcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Outcome(nil), o.got...)
}

func TestQueueDrainsOnClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	var calls atomic.Int32
	proc := fakeProcessor{run: func(_ context.Context, id string) Outcome {
		calls.Add(1)
		return Outcome{IssueID: id, Status: OutcomeOK}
	}}
	var rec outcomes
	q := NewQueue(proc, QueueOptions{Workers: 2, Size: 8, OnOutcome: rec.add}, zaptest.NewLogger(t))
	q.Start(context.Background())

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(id))
	}
	require.NoError(t, q.Close())

	assert.Equal(t, int32(3), calls.Load())
	ids := map[string]bool{}
	for _, out := range rec.list() {
		ids[out.IssueID] = true
	}
	assert.Equal(t, map[string]bool{"a": true, "b": true, "c": true}, ids)
	assert.ErrorIs(t, q.Enqueue("d"), ErrQueueClosed)
}

func TestQueueFull(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := NewQueue(fakeProcessor{run: func(context.Context, string) Outcome { return Outcome{} }},
		QueueOptions{Size: 1}, zaptest.NewLogger(t))
	require.NoError(t, q.Enqueue("a"))
	assert.ErrorIs(t, q.Enqueue("b"), ErrQueueFull)
	assert.Equal(t, 1, q.Pending())
	require.NoError(t, q.Close())
}

func TestQueueRetriesFailures(t *testing.T) {
	defer goleak.VerifyNone(t)

	var calls atomic.Int32
	proc := fakeProcessor{run: func(_ context.Context, id string) Outcome {
		if calls.Add(1) < 3 {
			return Outcome{IssueID: id, Status: OutcomeError, Message: "database is locked"}
		}
		return Outcome{IssueID: id, Status: OutcomeOK}
	}}
	var rec outcomes
	q := NewQueue(proc, QueueOptions{MaxAttempts: 3, RetryDelay: time.Millisecond, OnOutcome: rec.add}, zaptest.NewLogger(t))
	q.Start(context.Background())
	require.NoError(t, q.Enqueue("a"))
	require.NoError(t, q.Close())

	assert.Equal(t, int32(3), calls.Load())
	got := rec.list()
	require.Len(t, got, 1)
	assert.Equal(t, OutcomeOK, got[0].Status)
}

func TestQueueDoesNotRetryHalts(t *testing.T) {
	defer goleak.VerifyNone(t)

	var calls atomic.Int32
	proc := fakeProcessor{run: func(_ context.Context, id string) Outcome {
		calls.Add(1)
		return Outcome{IssueID: id, Status: OutcomeHalted}
	}}
	q := NewQueue(proc, QueueOptions{MaxAttempts: 5, RetryDelay: time.Millisecond}, zaptest.NewLogger(t))
	q.Start(context.Background())
	require.NoError(t, q.Enqueue("a"))
	require.NoError(t, q.Close())
	assert.Equal(t, int32(1), calls.Load())
}

func TestQueueCoalescesConcurrentJobs(t *testing.T) {
	defer goleak.VerifyNone(t)

	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	proc := fakeProcessor{run: func(_ context.Context, id string) Outcome {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return Outcome{IssueID: id, Status: OutcomeOK}
	}}
	var rec outcomes
	q := NewQueue(proc, QueueOptions{Workers: 2, Size: 4, OnOutcome: rec.add}, zaptest.NewLogger(t))
	q.Start(context.Background())

	require.NoError(t, q.Enqueue("same"))
	<-started
	require.NoError(t, q.Enqueue("same"))
	require.Eventually(t, func() bool { return q.Pending() == 0 }, time.Second, time.Millisecond)
	// Let the second worker reach the in-flight call.
	time.Sleep(50 * time.Millisecond)
	close(release)
	require.NoError(t, q.Close())

	assert.Equal(t, int32(1), calls.Load())
	got := rec.list()
	require.Len(t, got, 1)
	assert.Equal(t, "same", got[0].IssueID)
}

func TestQueueStopDropsPendingJobs(t *testing.T) {
	defer goleak.VerifyNone(t)

	release := make(chan struct{})
	var calls atomic.Int32
	proc := fakeProcessor{run: func(ctx context.Context, id string) Outcome {
		calls.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return Outcome{IssueID: id, Status: OutcomeOK}
	}}
	q := NewQueue(proc, QueueOptions{Size: 4}, zaptest.NewLogger(t))
	q.Start(context.Background())
	require.NoError(t, q.Enqueue("a"))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, q.Enqueue("b"))
	require.NoError(t, q.Enqueue("c"))

	require.NoError(t, q.Stop())
	assert.Equal(t, int32(1), calls.Load())
	close(release)
}
