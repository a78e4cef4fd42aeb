package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryInitialBackoff = time.Millisecond
	cfg.RetryMaxBackoff = 2 * time.Millisecond
	return cfg
}

func retryAlways(error) ErrorClassification {
	return ErrorClassification{Retryable: true, RecordFailure: true}
}

func TestExecutorRetriesUntilSuccess(t *testing.T) {
	exec := NewExecutor(fastConfig())

	calls := 0
	err := exec.Execute(context.Background(), "embed", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, retryAlways)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestExecutorStopsAtAttemptCeiling(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryMaxAttempts = 2
	exec := NewExecutor(cfg)

	calls := 0
	boom := errors.New("still down")
	err := exec.Execute(context.Background(), "generate", func(context.Context) error {
		calls++
		return boom
	}, retryAlways)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestExecutorDoesNotRetryTerminalErrors(t *testing.T) {
	exec := NewExecutor(fastConfig())

	calls := 0
	err := exec.Execute(context.Background(), "generate", func(context.Context) error {
		calls++
		return errors.New("bad request")
	}, func(error) ErrorClassification {
		return ErrorClassification{Retryable: false, RecordFailure: false}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestExecutorHonorsContextCancellation(t *testing.T) {
	exec := NewExecutor(fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := exec.Execute(ctx, "embed", func(context.Context) error {
		calls++
		cancel()
		return errors.New("transient")
	}, retryAlways)
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1: cancelled context must stop the retry loop", calls)
	}
}

func TestExecutorOpensBreakerAfterRepeatedFailures(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryMaxAttempts = 1
	cfg.BreakerMinRequests = 3
	cfg.BreakerFailureRatio = 0.5
	exec := NewExecutor(cfg)

	fail := func(context.Context) error { return errors.New("provider down") }
	for i := 0; i < 3; i++ {
		if err := exec.Execute(context.Background(), "publish", fail, retryAlways); err == nil {
			t.Fatalf("call %d: expected error", i)
		}
	}

	err := exec.Execute(context.Background(), "publish", fail, retryAlways)
	if !IsCircuitOpen(err) {
		t.Fatalf("err = %v, want open-circuit error", err)
	}
}

func TestExecutorKeepsBreakersPerOperation(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryMaxAttempts = 1
	cfg.BreakerMinRequests = 2
	exec := NewExecutor(cfg)

	fail := func(context.Context) error { return errors.New("provider down") }
	for i := 0; i < 3; i++ {
		_ = exec.Execute(context.Background(), "embed", fail, retryAlways)
	}
	if err := exec.Execute(context.Background(), "embed", fail, retryAlways); !IsCircuitOpen(err) {
		t.Fatalf("embed breaker should be open, got %v", err)
	}

	// A different operation name gets its own breaker and still runs.
	if err := exec.Execute(context.Background(), "generate", func(context.Context) error { return nil }, retryAlways); err != nil {
		t.Fatalf("generate should be unaffected: %v", err)
	}
}

func TestExecutorIgnoredFailuresDoNotTripBreaker(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryMaxAttempts = 1
	cfg.BreakerMinRequests = 2
	exec := NewExecutor(cfg)

	ignore := func(error) ErrorClassification {
		return ErrorClassification{Retryable: false, RecordFailure: false}
	}
	fail := func(context.Context) error { return errors.New("caller mistake") }
	for i := 0; i < 5; i++ {
		if err := exec.Execute(context.Background(), "embed", fail, ignore); IsCircuitOpen(err) {
			t.Fatalf("call %d: breaker tripped on non-recorded failures", i)
		}
	}
}

func TestConfigNormalizeFillsDefaults(t *testing.T) {
	got := Config{}.normalize()
	def := DefaultConfig()
	if got.RetryMaxAttempts != def.RetryMaxAttempts {
		t.Fatalf("RetryMaxAttempts = %d, want %d", got.RetryMaxAttempts, def.RetryMaxAttempts)
	}
	if got.RetryMaxBackoff < got.RetryInitialBackoff {
		t.Fatalf("max backoff %v below initial %v", got.RetryMaxBackoff, got.RetryInitialBackoff)
	}
	if got.BreakerFailureRatio <= 0 || got.BreakerFailureRatio > 1 {
		t.Fatalf("BreakerFailureRatio = %v out of range", got.BreakerFailureRatio)
	}
}
