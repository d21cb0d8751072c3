package resilience

import (
	"context"
	"time"
)

// Executor composes the patterns around one operation. From the outside in:
// rate limiter, bulkhead, circuit breaker, retry, per-attempt timeout. The
// breaker therefore sees one result per Execute, after retries.
type Executor struct {
	limiter  *RateLimiter
	bulkhead *Bulkhead
	breaker  *CircuitBreaker
	retry    *Retry
	timeout  *Timeout
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// NewExecutor creates an Executor. Without options it runs op directly.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func WithCircuitBreaker(cb *CircuitBreaker) ExecutorOption {
	return func(e *Executor) { e.breaker = cb }
}

func WithRetry(r *Retry) ExecutorOption {
	return func(e *Executor) { e.retry = r }
}

func WithRateLimiter(rl *RateLimiter) ExecutorOption {
	return func(e *Executor) { e.limiter = rl }
}

func WithBulkhead(b *Bulkhead) ExecutorOption {
	return func(e *Executor) { e.bulkhead = b }
}

// WithTimeout bounds each attempt. A non-positive d disables the bound.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = NewTimeout(d)
		}
	}
}

type stage func(context.Context, func(context.Context) error) error

// Execute runs op through the configured patterns.
func (e *Executor) Execute(ctx context.Context, op func(context.Context) error) error {
	// innermost first
	var stages []stage
	if e.timeout != nil {
		stages = append(stages, e.timeout.Execute)
	}
	if e.retry != nil {
		stages = append(stages, e.retry.Execute)
	}
	if e.breaker != nil {
		stages = append(stages, e.breaker.Execute)
	}
	if e.bulkhead != nil {
		stages = append(stages, e.bulkhead.Execute)
	}
	if e.limiter != nil {
		stages = append(stages, e.limiter.Execute)
	}
	run := op
	for _, s := range stages {
		inner, s := run, s
		run = func(ctx context.Context) error { return s(ctx, inner) }
	}
	return run(ctx)
}
