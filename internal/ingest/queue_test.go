package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestQueue(cfg QueueConfig) *Queue {
	if cfg.Spacing == 0 {
		cfg.Spacing = time.Millisecond
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = time.Millisecond
	}
	return NewQueue(cfg)
}

func TestQueueRunsSubmittedTasks(t *testing.T) {
	t.Parallel()

	q := newTestQueue(QueueConfig{})
	q.Start(context.Background())
	defer q.Stop()

	var ran atomic.Int32
	done := make(chan struct{})
	err := q.Submit(Task{Name: "write", Fn: func(context.Context) error {
		ran.Add(1)
		close(done)
		return nil
	}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task never ran")
	}
	if ran.Load() != 1 {
		t.Errorf("task ran %d times, want 1", ran.Load())
	}
}

func TestQueuePriorityOrdering(t *testing.T) {
	t.Parallel()

	// Concurrency 1 forces strictly sequential execution so the dispatch
	// order is observable.
	q := newTestQueue(QueueConfig{Concurrency: 1})

	var mu sync.Mutex
	var order []string
	record := func(name string) Task {
		return Task{Name: name, Fn: func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}}
	}

	low1 := record("low-1")
	low1.Priority = PriorityLow
	low2 := record("low-2")
	low2.Priority = PriorityLow
	med := record("med")
	med.Priority = PriorityMedium
	high := record("high")
	high.Priority = PriorityHigh

	// Enqueue before starting so the dispatcher sees the full backlog.
	for _, task := range []Task{low1, low2, med, high} {
		if err := q.Submit(task); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	q.Start(context.Background())

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(order)
		mu.Unlock()
		if n == 4 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("only %d tasks ran", n)
		case <-time.After(5 * time.Millisecond):
		}
	}
	q.Stop()

	want := []string{"high", "med", "low-1", "low-2"}
	for i, name := range want {
		if order[i] != name {
			t.Fatalf("dispatch order = %v, want %v", order, want)
		}
	}
}

func TestQueueRetriesFailedTask(t *testing.T) {
	t.Parallel()

	q := newTestQueue(QueueConfig{Attempts: 3})
	q.Start(context.Background())
	defer q.Stop()

	var attempts atomic.Int32
	done := make(chan struct{})
	err := q.Submit(Task{Name: "flaky", Fn: func(context.Context) error {
		if attempts.Add(1) < 3 {
			return errors.New("transient")
		}
		close(done)
		return nil
	}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task never succeeded")
	}
	if attempts.Load() != 3 {
		t.Errorf("attempts = %d, want 3", attempts.Load())
	}
}

func TestQueueStopLetsRunningTaskFinish(t *testing.T) {
	t.Parallel()

	q := newTestQueue(QueueConfig{})
	q.Start(context.Background())

	entered := make(chan struct{})
	release := make(chan struct{})
	var ctxErr error
	var finished atomic.Bool
	err := q.Submit(Task{Name: "inflight", Fn: func(ctx context.Context) error {
		close(entered)
		<-release
		ctxErr = ctx.Err()
		finished.Store(true)
		return nil
	}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("task never started")
	}

	stopDone := make(chan struct{})
	go func() {
		q.Stop()
		close(stopDone)
	}()

	// Let Stop cancel the dispatcher while the task is still in flight.
	time.Sleep(20 * time.Millisecond)
	close(release)

	select {
	case <-stopDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop never returned")
	}
	if !finished.Load() {
		t.Fatal("Stop returned before the running task finished")
	}
	if ctxErr != nil {
		t.Errorf("task context error = %v, want nil (Stop must not cancel in-flight work)", ctxErr)
	}
}

func TestQueueStopRejectsSubmissions(t *testing.T) {
	t.Parallel()

	q := newTestQueue(QueueConfig{})
	q.Start(context.Background())
	q.Stop()

	err := q.Submit(Task{Name: "late", Fn: func(context.Context) error { return nil }})
	if !errors.Is(err, ErrQueueStopped) {
		t.Errorf("Submit after Stop = %v, want ErrQueueStopped", err)
	}
}

func TestQueueDepth(t *testing.T) {
	t.Parallel()

	q := newTestQueue(QueueConfig{})
	for i := 0; i < 4; i++ {
		if err := q.Submit(Task{Name: "queued", Fn: func(context.Context) error { return nil }}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	if got := q.Depth(); got != 4 {
		t.Errorf("Depth = %d, want 4 before dispatch starts", got)
	}
	q.Stop()
}
