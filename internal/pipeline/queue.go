package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

var (
	ErrQueueFull   = errors.New("pipeline queue full")
	ErrQueueClosed = errors.New("pipeline queue closed")
)

// Processor runs one pipeline for an issue.
type Processor interface {
	Run(ctx context.Context, issueID string) Outcome
}

type QueueOptions struct {
	Workers     int
	Size        int
	MaxAttempts int
	// RetryDelay is multiplied by the attempt number.
	RetryDelay time.Duration
	// OnOutcome, when set, receives every final outcome.
	OnOutcome func(Outcome)
}

// Queue buffers pipeline jobs and runs them on a fixed set of workers. Jobs
// for an issue already being processed join the running pipeline.
type Queue struct {
	proc  Processor
	opts  QueueOptions
	log   *zap.Logger
	jobs  chan string
	group singleflight.Group

	mu      sync.Mutex
	closed  bool
	started bool
	eg      *errgroup.Group
	cancel  context.CancelFunc
}

func NewQueue(proc Processor, opts QueueOptions, log *zap.Logger) *Queue {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Size < 1 {
		opts.Size = 1
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 200 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Queue{proc: proc, opts: opts, log: log.Named("pipeline"), jobs: make(chan string, opts.Size)}
}

// Start launches the workers. Cancelling ctx stops them; queued jobs are
// dropped.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true
	ctx, q.cancel = context.WithCancel(ctx)
	q.eg, ctx = errgroup.WithContext(ctx)
	for i := 0; i < q.opts.Workers; i++ {
		q.eg.Go(func() error {
			q.work(ctx)
			return nil
		})
	}
	q.log.Info("pipeline workers started", zap.Int("workers", q.opts.Workers), zap.Int("queue_size", q.opts.Size))
}

// Enqueue schedules a pipeline run without blocking.
func (q *Queue) Enqueue(issueID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.jobs <- issueID:
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending returns the number of queued jobs not yet picked up.
func (q *Queue) Pending() int {
	return len(q.jobs)
}

// Close stops accepting jobs, lets the workers drain the queue and waits.
func (q *Queue) Close() error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()
	return q.Wait()
}

// Stop cancels the workers without draining and waits for them.
func (q *Queue) Stop() error {
	q.mu.Lock()
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Unlock()
	return q.Close()
}

// Wait blocks until every worker has exited.
func (q *Queue) Wait() error {
	q.mu.Lock()
	eg := q.eg
	q.mu.Unlock()
	if eg == nil {
		return nil
	}
	return eg.Wait()
}

func (q *Queue) work(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case id, ok := <-q.jobs:
			if !ok {
				return
			}
			ran := false
			v, _, _ := q.group.Do(id, func() (any, error) {
				ran = true
				return q.process(ctx, id), nil
			})
			if !ran {
				// The worker that ran the shared pipeline reports its outcome.
				q.log.Debug("coalesced duplicate pipeline job", zap.String("issue_id", id))
				continue
			}
			if q.opts.OnOutcome != nil {
				q.opts.OnOutcome(v.(Outcome))
			}
		}
	}
}

// process retries unexpected faults up to MaxAttempts.
func (q *Queue) process(ctx context.Context, issueID string) Outcome {
	var out Outcome
	for attempt := 1; attempt <= q.opts.MaxAttempts; attempt++ {
		out = q.proc.Run(ctx, issueID)
		if !out.Failed() {
			return out
		}
		q.log.Warn("pipeline attempt failed",
			zap.String("issue_id", issueID),
			zap.String("session_id", out.SessionID),
			zap.String("stage", out.Stage),
			zap.Int("attempt", attempt),
			zap.String("error", out.Message))
		if attempt == q.opts.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return out
		case <-time.After(time.Duration(attempt) * q.opts.RetryDelay):
		}
	}
	return out
}
