package retry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/joshsymonds/sendersweep/internal/mail"
)

type sleepRecorder struct {
	delays []time.Duration
	err    error
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	_ = ctx
	s.delays = append(s.delays, d)
	return s.err
}

func newTestExecutor(maxRetries int) (*Executor, *sleepRecorder) {
	rec := &sleepRecorder{}
	exec := NewExecutor(maxRetries, 2*time.Second, slogDiscard())
	exec.Sleep = rec.sleep
	return exec, rec
}

func throttled() error {
	return &mail.RemoteError{Provider: "graph", Op: "list", Status: http.StatusTooManyRequests}
}

func TestRunSucceedsWithoutRetry(t *testing.T) {
	exec, rec := newTestExecutor(5)
	calls := 0
	err := exec.Run(context.Background(), "list", func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 || len(rec.delays) != 0 {
		t.Fatalf("expected one call and no sleeps, got %d calls %d sleeps", calls, len(rec.delays))
	}
}

func TestRunReturnsNonTransientUnwrapped(t *testing.T) {
	exec, rec := newTestExecutor(5)
	forbidden := &mail.RemoteError{Provider: "graph", Op: "delete", Status: http.StatusForbidden}
	calls := 0
	err := exec.Run(context.Background(), "delete", func(context.Context) error {
		calls++
		return forbidden
	})
	if err != forbidden {
		t.Fatalf("expected the original error back, got %v", err)
	}
	if calls != 1 || len(rec.delays) != 0 {
		t.Fatalf("non-transient error must not be retried: %d calls", calls)
	}
	if errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("non-transient error reported as exhausted")
	}
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	exec, rec := newTestExecutor(5)
	calls := 0
	got, err := Do(context.Background(), exec, "list", func(context.Context) (string, error) {
		calls++
		if calls <= 2 {
			return "", throttled()
		}
		return "page", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "page" {
		t.Fatalf("unexpected value %q", got)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if len(rec.delays) != 2 {
		t.Fatalf("expected 2 sleeps, got %d", len(rec.delays))
	}
	if rec.delays[0] != 4*time.Second || rec.delays[1] != 8*time.Second {
		t.Fatalf("unexpected backoff delays: %v", rec.delays)
	}
	if rec.delays[1] <= rec.delays[0] {
		t.Fatalf("backoff must increase: %v", rec.delays)
	}
}

func TestRunExhaustsAfterCeiling(t *testing.T) {
	for _, ceiling := range []int{0, 1, 5} {
		exec, rec := newTestExecutor(ceiling)
		calls := 0
		err := exec.Run(context.Background(), "detail", func(context.Context) error {
			calls++
			return throttled()
		})
		if !errors.Is(err, ErrRetriesExhausted) {
			t.Fatalf("ceiling %d: expected exhausted error, got %v", ceiling, err)
		}
		var ex *ExhaustedError
		if !errors.As(err, &ex) {
			t.Fatalf("ceiling %d: expected *ExhaustedError, got %T", ceiling, err)
		}
		if _, ok := mail.AsTransient(ex.Last); !ok {
			t.Fatalf("ceiling %d: last error not carried: %v", ceiling, ex.Last)
		}
		if len(rec.delays) != ceiling {
			t.Fatalf("ceiling %d: expected %d retries, got %d", ceiling, ceiling, len(rec.delays))
		}
		if calls != ceiling+1 {
			t.Fatalf("ceiling %d: expected %d calls, got %d", ceiling, ceiling+1, calls)
		}
	}
}

func TestRunPrefersRetryAfterHint(t *testing.T) {
	exec, rec := newTestExecutor(5)
	calls := 0
	err := exec.Run(context.Background(), "list", func(context.Context) error {
		calls++
		if calls == 1 {
			return &mail.RemoteError{Status: http.StatusServiceUnavailable, RetryAfter: 17 * time.Second}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rec.delays) != 1 || rec.delays[0] != 17*time.Second {
		t.Fatalf("expected retry-after delay, got %v", rec.delays)
	}
}

func TestRunStopsWhenSleepInterrupted(t *testing.T) {
	exec, rec := newTestExecutor(5)
	rec.err = context.Canceled
	calls := 0
	err := exec.Run(context.Background(), "list", func(context.Context) error {
		calls++
		return throttled()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}

func TestSleepContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := SleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("sleep did not return promptly")
	}
}

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
