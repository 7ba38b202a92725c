// Package retry re-runs remote calls that fail with a transient signal.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joshsymonds/sendersweep/internal/mail"
)

const (
	DefaultMaxRetries = 5
	DefaultBaseDelay  = 2 * time.Second
)

// ErrRetriesExhausted matches every *ExhaustedError via errors.Is.
var ErrRetriesExhausted = errors.New("retries exhausted")

// ExhaustedError is returned once a call keeps failing transiently past the
// retry ceiling. Last is the final underlying error.
type ExhaustedError struct {
	Op       string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: retries exhausted after %d attempts: %v", e.Op, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

func (e *ExhaustedError) Is(target error) bool { return target == ErrRetriesExhausted }

// Executor wraps single remote calls with backoff on 429/503 responses.
// It is not safe for concurrent use; the pipeline is sequential.
type Executor struct {
	MaxRetries int
	BaseDelay  time.Duration
	Logger     *slog.Logger
	// Sleep blocks for d or until ctx is done. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor constructs an Executor, substituting defaults for zero values.
func NewExecutor(maxRetries int, baseDelay time.Duration, logger *slog.Logger) *Executor {
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Executor{
		MaxRetries: maxRetries,
		BaseDelay:  baseDelay,
		Logger:     logger,
		Sleep:      SleepContext,
	}
}

// Run executes fn until it succeeds, fails non-transiently, or the retry
// ceiling is exceeded. Non-transient errors are returned untouched.
func (e *Executor) Run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempt := 0
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		re, ok := mail.AsTransient(err)
		if !ok {
			return err
		}
		attempt++
		if attempt > e.MaxRetries {
			return &ExhaustedError{Op: op, Attempts: attempt, Last: err}
		}
		delay := e.delay(re, attempt)
		e.Logger.WarnContext(ctx, "throttled; backing off",
			slog.String("operation", op),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.Int("status", re.Status),
		)
		if sleepErr := e.Sleep(ctx, delay); sleepErr != nil {
			return fmt.Errorf("%s: backoff interrupted: %w", op, sleepErr)
		}
	}
}

// Do is Run for calls that produce a value.
func Do[T any](ctx context.Context, e *Executor, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := e.Run(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// delay prefers the server's Retry-After hint, else base * 2^attempt (uncapped).
func (e *Executor) delay(re *mail.RemoteError, attempt int) time.Duration {
	if re.RetryAfter > 0 {
		return re.RetryAfter
	}
	return e.BaseDelay * time.Duration(int64(1)<<uint(attempt))
}

// SleepContext blocks for d or until ctx is canceled.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("sleep canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
