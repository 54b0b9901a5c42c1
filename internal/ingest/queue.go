// Package ingest decouples real-time playback observation from remote write
// latency: a bounded buffer batches observations for concurrent flushes, and
// a priority task queue paces every other remote write.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/arthurnavah/echoline/internal/observe"
	"github.com/arthurnavah/echoline/internal/resilience"
)

// Priority orders queued tasks. Within one priority tasks run FIFO.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityMedium
	PriorityLow

	priorityCount
)

// String implements [fmt.Stringer] for log output.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// Queue defaults.
const (
	defaultConcurrency = 3
	defaultTaskTimeout = 10 * time.Second
	defaultSpacing     = 100 * time.Millisecond
	defaultAttempts    = 3
)

// ErrQueueStopped is returned by [Queue.Submit] after [Queue.Stop].
var ErrQueueStopped = errors.New("ingest: queue stopped")

// Task is one unit of remote work.
type Task struct {
	// Name identifies the task in logs.
	Name string

	// Priority selects the tier. Zero value is PriorityHigh.
	Priority Priority

	// Fn does the work. The passed context carries the per-attempt timeout.
	Fn func(ctx context.Context) error
}

// QueueConfig tunes a [Queue]. Zero-value fields fall back to defaults.
type QueueConfig struct {
	// Concurrency bounds simultaneous task executions. Default: 3.
	Concurrency int

	// TaskTimeout is the per-attempt deadline. Default: 10s.
	TaskTimeout time.Duration

	// Spacing is the pause between consecutive dispatches. Default: 100ms.
	Spacing time.Duration

	// Attempts is the per-task try count. Default: 3.
	Attempts int

	// RetryBackoff is the initial per-task retry backoff, doubling per
	// attempt. Default: 1s.
	RetryBackoff time.Duration

	// Logger defaults to [slog.Default].
	Logger *slog.Logger

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

func (c QueueConfig) withDefaults() QueueConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = defaultTaskTimeout
	}
	if c.Spacing <= 0 {
		c.Spacing = defaultSpacing
	}
	if c.Attempts <= 0 {
		c.Attempts = defaultAttempts
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Metrics == nil {
		c.Metrics = observe.DefaultMetrics()
	}
	return c
}

// Queue is a priority task queue with bounded concurrency, inter-task
// spacing, per-task timeout, and per-task retry. Safe for concurrent use.
type Queue struct {
	cfg     QueueConfig
	logger  *slog.Logger
	metrics *observe.Metrics
	sem     *semaphore.Weighted

	mu      sync.Mutex
	tiers   [priorityCount][]Task
	stopped bool
	wake    chan struct{}

	taskCtx context.Context
	cancel  context.CancelFunc
	workers sync.WaitGroup
	done    chan struct{}
}

// NewQueue builds a queue; call [Queue.Start] to begin dispatching.
func NewQueue(cfg QueueConfig) *Queue {
	cfg = cfg.withDefaults()
	return &Queue{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "ingest.queue"),
		metrics: cfg.Metrics,
		sem:     semaphore.NewWeighted(int64(cfg.Concurrency)),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Start launches the dispatcher. Must be called exactly once.
//
// Tasks run under ctx directly, not under the dispatcher's cancellable
// child: [Queue.Stop] halts dispatching but lets started tasks finish.
func (q *Queue) Start(ctx context.Context) {
	q.taskCtx = ctx
	dispatchCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	go q.dispatch(dispatchCtx)
}

// Submit enqueues a task. Returns [ErrQueueStopped] after [Queue.Stop].
func (q *Queue) Submit(t Task) error {
	if t.Fn == nil {
		return errors.New("ingest: task fn must not be nil")
	}
	if t.Priority < PriorityHigh || t.Priority >= priorityCount {
		t.Priority = PriorityLow
	}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return ErrQueueStopped
	}
	q.tiers[t.Priority] = append(q.tiers[t.Priority], t)
	q.mu.Unlock()

	q.metrics.QueueDepth.Add(context.Background(), 1)
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// pop removes the oldest task of the highest non-empty tier.
func (q *Queue) pop() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for p := range q.tiers {
		if len(q.tiers[p]) > 0 {
			t := q.tiers[p][0]
			q.tiers[p] = q.tiers[p][1:]
			return t, true
		}
	}
	return Task{}, false
}

func (q *Queue) dispatch(ctx context.Context) {
	defer close(q.done)

	for {
		t, ok := q.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}

		if err := q.sem.Acquire(ctx, 1); err != nil {
			return
		}

		q.workers.Add(1)
		go func(t Task) {
			defer q.workers.Done()
			defer q.sem.Release(1)
			q.run(q.taskCtx, t)
		}(t)

		select {
		case <-ctx.Done():
			return
		case <-time.After(q.cfg.Spacing):
		}
	}
}

// run executes one task with retries and the per-attempt timeout.
func (q *Queue) run(ctx context.Context, t Task) {
	defer q.metrics.QueueDepth.Add(context.Background(), -1)

	err := resilience.Retry(ctx, resilience.RetryConfig{
		Attempts:       q.cfg.Attempts,
		InitialBackoff: q.cfg.RetryBackoff,
	}, t.Name,
		func(ctx context.Context) error {
			attemptCtx, cancel := context.WithTimeout(ctx, q.cfg.TaskTimeout)
			defer cancel()
			return t.Fn(attemptCtx)
		})
	if err != nil {
		q.logger.Warn("queued task failed after retries",
			"task", t.Name,
			"priority", t.Priority,
			"error", err)
	}
}

// Stop rejects further submissions, stops dispatching, and waits for running
// tasks to finish. Buffered but undispatched tasks are dropped.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	dropped := 0
	for p := range q.tiers {
		dropped += len(q.tiers[p])
		q.tiers[p] = nil
	}
	q.mu.Unlock()

	if q.cancel != nil {
		q.cancel()
		<-q.done
	}
	q.workers.Wait()

	if dropped > 0 {
		q.metrics.QueueDepth.Add(context.Background(), -int64(dropped))
		q.logger.Debug("undispatched tasks dropped on stop", "dropped", dropped)
	}
}

// Depth reports the number of queued, undispatched tasks.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for p := range q.tiers {
		n += len(q.tiers[p])
	}
	return n
}
