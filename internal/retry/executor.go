package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"papercast/internal/config"
	"papercast/internal/logging"
	"papercast/internal/services"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 1 * time.Second
	defaultMaxDelay    = 60 * time.Second
)

// Policy captures the bounds of one retry loop.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// PolicyFromConfig builds a Policy from the retry configuration section.
func PolicyFromConfig(cfg config.Retry) Policy {
	return Policy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   time.Duration(cfg.BaseDelayMS) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.MaxDelayMS) * time.Millisecond,
	}
}

// Operation is a single attempt of work. It must be safe to invoke again
// after a transient failure.
type Operation func(ctx context.Context) error

// AttemptObserver is invoked after every attempt with the attempt number
// (1-based) and its outcome. A nil error means the attempt succeeded.
type AttemptObserver func(attempt int, err error)

// Executor runs operations under a retry policy with exponential backoff.
// Only transient failures are retried; permanent failures and context
// cancellation surface immediately.
type Executor struct {
	policy   Policy
	logger   *slog.Logger
	sleeper  func(time.Duration)
	observer AttemptObserver
}

// Option customizes the executor.
type Option func(*Executor)

// WithLogger attaches a logger for per-attempt diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithSleeper overrides how backoff sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(e *Executor) {
		e.sleeper = sleeper
	}
}

// WithObserver registers a callback invoked after every attempt.
func WithObserver(observer AttemptObserver) Option {
	return func(e *Executor) {
		e.observer = observer
	}
}

// NewExecutor constructs an executor, normalizing out-of-range policy values.
func NewExecutor(policy Policy, opts ...Option) *Executor {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = defaultMaxAttempts
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = defaultBaseDelay
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = defaultMaxDelay
	}
	executor := &Executor{
		policy: policy,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(executor)
	}
	return executor
}

// Execute runs op until it succeeds, exhausts the attempt budget, or hits a
// non-retryable failure. The returned error is the last attempt's error.
func (e *Executor) Execute(ctx context.Context, name string, op Operation) error {
	if op == nil {
		return errors.New("retry: nil operation")
	}

	var lastErr error
	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if e.observer != nil {
			e.observer(attempt, err)
		}
		if err == nil {
			if attempt > 1 {
				e.logger.InfoContext(ctx, "operation recovered",
					logging.String("operation", name),
					logging.Int(logging.FieldAttempt, attempt))
			}
			return nil
		}
		lastErr = err

		if !e.shouldRetry(ctx, err, attempt) {
			return err
		}

		delay := e.delayFor(err, attempt)
		e.logger.WarnContext(ctx, "operation failed, retrying",
			logging.String("operation", name),
			logging.Int(logging.FieldAttempt, attempt),
			logging.Duration("delay", delay),
			logging.Error(err))
		if err := e.sleep(ctx, delay); err != nil {
			return err
		}
	}

	return fmt.Errorf("%s: failed after %d attempts: %w", name, e.policy.MaxAttempts, lastErr)
}

func (e *Executor) shouldRetry(ctx context.Context, err error, attempt int) bool {
	if attempt >= e.policy.MaxAttempts {
		return false
	}
	if ctx.Err() != nil {
		return false
	}
	return services.IsTransient(err)
}

// delayFor computes the wait before the next attempt. A server-provided
// Retry-After hint overrides exponential backoff, subject to the cap.
func (e *Executor) delayFor(err error, attempt int) time.Duration {
	if hint, ok := services.RetryAfterFrom(err); ok && hint > 0 {
		return e.capDelay(hint)
	}
	return e.backoffDelay(attempt)
}

// backoffDelay doubles per attempt: attempt 1 -> base, attempt 2 -> base*2, ...
func (e *Executor) backoffDelay(attempt int) time.Duration {
	delay := e.policy.BaseDelay
	for i := 1; i < attempt; i++ {
		if delay > e.policy.MaxDelay/2 {
			return e.policy.MaxDelay
		}
		delay *= 2
	}
	return e.capDelay(delay)
}

func (e *Executor) capDelay(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	if delay > e.policy.MaxDelay {
		return e.policy.MaxDelay
	}
	return delay
}

func (e *Executor) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if e.sleeper != nil {
		e.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
