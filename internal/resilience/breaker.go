package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by [Breaker.Allow] while the breaker is open
// and the cool-down has not yet elapsed.
var ErrBreakerOpen = errors.New("breaker is open")

// Breaker is a small three-state circuit breaker (closed, open, half-open)
// used to stop hammering the pattern store during an outage. Unlike a
// wrapping Execute-style breaker it exposes an Allow/Report pair, which fits
// call sites that already run inside a retry loop.
//
// Safe for concurrent use.
type Breaker struct {
	name        string
	maxFailures int
	coolDown    time.Duration

	mu        sync.Mutex
	failures  int
	openSince time.Time
	probing   bool
}

// NewBreaker creates a breaker that opens after maxFailures consecutive
// failures and allows a probe call after coolDown. Zero values default to
// 5 failures and 30s.
func NewBreaker(name string, maxFailures int, coolDown time.Duration) *Breaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if coolDown <= 0 {
		coolDown = 30 * time.Second
	}
	return &Breaker{name: name, maxFailures: maxFailures, coolDown: coolDown}
}

// Allow reports whether a call may proceed. While open it returns
// [ErrBreakerOpen] until the cool-down elapses, then admits a single probe;
// further calls stay rejected until that probe is reported.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failures < b.maxFailures {
		return nil
	}
	if b.probing {
		return ErrBreakerOpen
	}
	if time.Since(b.openSince) < b.coolDown {
		return ErrBreakerOpen
	}
	b.probing = true
	slog.Info("breaker admitting probe", "name", b.name)
	return nil
}

// Report records the outcome of a call previously admitted by [Breaker.Allow].
func (b *Breaker) Report(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if b.failures >= b.maxFailures {
			slog.Info("breaker closed", "name", b.name)
		}
		b.failures = 0
		b.probing = false
		return
	}

	b.failures++
	b.probing = false
	if b.failures == b.maxFailures {
		b.openSince = time.Now()
		slog.Warn("breaker opened",
			"name", b.name,
			"consecutive_failures", b.failures)
	} else if b.failures > b.maxFailures {
		// Failed probe — restart the cool-down.
		b.openSince = time.Now()
	}
}

// Open reports whether the breaker is currently rejecting calls.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures >= b.maxFailures && time.Since(b.openSince) < b.coolDown
}
