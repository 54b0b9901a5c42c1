package sched

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestEvery_InvokesOnInterval(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	task := Every(context.Background(), "tick", 5*time.Millisecond, func(context.Context) {
		runs.Add(1)
	})
	defer task.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if runs.Load() < 3 {
		t.Fatalf("runs = %d, want at least 3", runs.Load())
	}
}

func TestEvery_SkipsOverlappingTicks(t *testing.T) {
	t.Parallel()

	var started atomic.Int32
	block := make(chan struct{})
	task := Every(context.Background(), "slow", 5*time.Millisecond, func(context.Context) {
		started.Add(1)
		<-block
	})
	defer task.Stop()

	// Let several intervals elapse while the first invocation is stuck.
	deadline := time.Now().Add(2 * time.Second)
	for started.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	if got := started.Load(); got != 1 {
		t.Errorf("invocations = %d, want 1 (overlapping ticks skipped)", got)
	}
	close(block)
}

func TestStop_WaitsForInFlightInvocation(t *testing.T) {
	t.Parallel()

	var finished atomic.Bool
	entered := make(chan struct{})
	task := Every(context.Background(), "inflight", time.Millisecond, func(context.Context) {
		select {
		case entered <- struct{}{}:
		default:
		}
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
	})

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("task never started")
	}
	task.Stop()

	if !finished.Load() {
		t.Error("Stop returned before the in-flight invocation finished")
	}
}

func TestStop_Idempotent(t *testing.T) {
	t.Parallel()

	task := Every(context.Background(), "idem", time.Millisecond, func(context.Context) {})
	task.Stop()
	task.Stop()
}

func TestEvery_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	var runs atomic.Int32
	task := Every(ctx, "ctx", time.Millisecond, func(context.Context) {
		runs.Add(1)
	})
	cancel()

	// After cancellation the loop exits; Stop must still return promptly.
	done := make(chan struct{})
	go func() {
		task.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop hung after context cancellation")
	}

	before := runs.Load()
	time.Sleep(20 * time.Millisecond)
	if after := runs.Load(); after != before {
		t.Errorf("task still running after cancel: %d -> %d", before, after)
	}
}
