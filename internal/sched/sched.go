// Package sched provides the interval tasks the engine's periodic work runs
// on: the 2s real-time monitor, the learning cycle, and daily pruning.
//
// Every task carries a reentrancy guard: if a tick fires while the previous
// invocation is still running, the tick is skipped rather than overlapped.
// This matches the single-threaded scheduling model the estimator's update
// ordering depends on.
package sched

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Task is a named interval job. Create one with [Every]; stop it with
// [Task.Stop]. Safe for concurrent use.
type Task struct {
	name     string
	interval time.Duration
	fn       func(context.Context)

	running  atomic.Bool // reentrancy guard
	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

// Every starts a background goroutine invoking fn every interval until
// [Task.Stop] is called or ctx is cancelled. Ticks that arrive while a
// previous invocation is still running are skipped and logged.
//
// The first invocation happens one full interval after Every returns.
func Every(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{
		name:     name,
		interval: interval,
		fn:       fn,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go t.loop(ctx)
	return t
}

func (t *Task) loop(ctx context.Context) {
	defer close(t.done)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.tick(ctx)
		}
	}
}

// tick runs one guarded invocation.
func (t *Task) tick(ctx context.Context) {
	if !t.running.CompareAndSwap(false, true) {
		slog.Debug("interval task still running, skipping tick", "task", t.name)
		return
	}
	defer t.running.Store(false)
	t.fn(ctx)
}

// Stop halts further scheduling and waits for an in-flight invocation to
// return. It does not cancel remote calls the invocation may have started
// with its own contexts.
func (t *Task) Stop() {
	t.stopOnce.Do(func() {
		t.cancel()
		<-t.done
	})
}
