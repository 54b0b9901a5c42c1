package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient failure")

// fastCfg keeps test backoffs in the millisecond range.
var fastCfg = RetryConfig{
	Attempts:       3,
	InitialBackoff: time.Millisecond,
	MaxBackoff:     4 * time.Millisecond,
}

func TestRetry_SucceedsFirstAttempt(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Retry(context.Background(), fastCfg, "op", func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetry_RecoversAfterFailures(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Retry(context.Background(), fastCfg, "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Retry(context.Background(), fastCfg, "op", func(context.Context) error {
		calls++
		return errTransient
	})
	if !errors.Is(err, errTransient) {
		t.Fatalf("err = %v, want errTransient", err)
	}
	if calls != fastCfg.Attempts {
		t.Errorf("calls = %d, want %d", calls, fastCfg.Attempts)
	}
}

func TestRetry_NonRetryableAbortsImmediately(t *testing.T) {
	t.Parallel()

	permanent := errors.New("invalid credentials")
	cfg := fastCfg
	cfg.RetryIf = func(err error) bool { return !errors.Is(err, permanent) }

	calls := 0
	err := Retry(context.Background(), cfg, "op", func(context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("err = %v, want permanent error", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry for non-retryable errors)", calls)
	}
}

func TestRetry_ContextCancelledDuringBackoff(t *testing.T) {
	t.Parallel()

	cfg := RetryConfig{Attempts: 3, InitialBackoff: time.Hour, MaxBackoff: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	errc := make(chan error, 1)
	go func() {
		errc <- Retry(ctx, cfg, "op", func(context.Context) error {
			calls++
			return errTransient
		})
	}()

	// Let the first attempt fail, then cancel while it sleeps.
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
		if !errors.Is(err, errTransient) {
			t.Errorf("err = %v, should join the last attempt error", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Retry did not return after cancellation")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryValue_ReturnsResult(t *testing.T) {
	t.Parallel()

	calls := 0
	got, err := RetryValue(context.Background(), fastCfg, "op", func(context.Context) (int, error) {
		calls++
		if calls < 2 {
			return 0, errTransient
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 {
		t.Errorf("value = %d, want 42", got)
	}
}

func TestRetryConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg := RetryConfig{}.withDefaults()
	if cfg.Attempts != DefaultAttempts {
		t.Errorf("Attempts = %d, want %d", cfg.Attempts, DefaultAttempts)
	}
	if cfg.InitialBackoff != DefaultInitialBackoff {
		t.Errorf("InitialBackoff = %v, want %v", cfg.InitialBackoff, DefaultInitialBackoff)
	}
	if cfg.MaxBackoff != DefaultMaxBackoff {
		t.Errorf("MaxBackoff = %v, want %v", cfg.MaxBackoff, DefaultMaxBackoff)
	}
}
