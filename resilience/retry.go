package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// BackoffStrategy selects how the delay grows between attempts.
type BackoffStrategy int

const (
	BackoffExponential BackoffStrategy = iota
	BackoffLinear
	BackoffConstant
)

// RetryConfig configures a Retry.
type RetryConfig struct {
	// MaxAttempts including the first one. Default: 3
	MaxAttempts int

	// MaxElapsed stops retrying once this much time has passed since the
	// first attempt, even if attempts remain. Zero means no limit.
	MaxElapsed time.Duration

	// InitialDelay before the first retry. Default: 100ms
	InitialDelay time.Duration

	// MaxDelay caps a single delay. Default: 30s
	MaxDelay time.Duration

	// Multiplier for exponential backoff. Default: 2.0
	Multiplier float64

	// Strategy selects the backoff curve. Default: BackoffExponential
	Strategy BackoffStrategy

	// Jitter adds up to 25% random delay.
	Jitter bool

	// RetryIf decides whether an error is worth another attempt.
	// Default: every non-nil error.
	RetryIf func(err error) bool

	// OnRetry runs before each retry with the attempt that just failed.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Retry re-runs an operation with backoff.
type Retry struct {
	cfg RetryConfig
}

// NewRetry creates a Retry.
func NewRetry(cfg RetryConfig) *Retry {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.RetryIf == nil {
		cfg.RetryIf = func(err error) bool { return err != nil }
	}
	return &Retry{cfg: cfg}
}

// Config returns the effective configuration.
func (r *Retry) Config() RetryConfig { return r.cfg }

// Execute runs op until it succeeds, returns a non-retryable error, or the
// attempt or time budget is spent. An exhausted budget returns
// ErrMaxRetriesExceeded wrapping the last error.
func (r *Retry) Execute(ctx context.Context, op func(context.Context) error) error {
	start := time.Now()
	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil || !r.cfg.RetryIf(err) {
			return err
		}
		delay := r.Delay(attempt)
		if attempt >= r.cfg.MaxAttempts ||
			(r.cfg.MaxElapsed > 0 && time.Since(start)+delay > r.cfg.MaxElapsed) {
			return fmt.Errorf("%w after %d attempts: %w", ErrMaxRetriesExceeded, attempt, err)
		}
		if r.cfg.OnRetry != nil {
			r.cfg.OnRetry(attempt, err, delay)
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// Delay returns the wait after the given failed attempt (1-based).
func (r *Retry) Delay(attempt int) time.Duration {
	var d time.Duration
	switch r.cfg.Strategy {
	case BackoffConstant:
		d = r.cfg.InitialDelay
	case BackoffLinear:
		d = r.cfg.InitialDelay * time.Duration(attempt)
	default:
		d = time.Duration(float64(r.cfg.InitialDelay) * math.Pow(r.cfg.Multiplier, float64(attempt-1)))
	}
	if d > r.cfg.MaxDelay || d < 0 {
		d = r.cfg.MaxDelay
	}
	if r.cfg.Jitter && d >= 4 {
		// #nosec G404 -- timing jitter, not security sensitive.
		d += time.Duration(rand.Int64N(int64(d / 4)))
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
