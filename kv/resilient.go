package kv

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonwraymond/tokencache/resilience"
)

// ResilientConfig configures the fault handling applied to a remote store.
type ResilientConfig struct {
	// MaxAttempts per operation, including the first. Default: 3
	MaxAttempts int

	// InitialDelay before the first retry. Default: 20ms
	InitialDelay time.Duration

	// OpTimeout bounds a single attempt. Default: 5s
	OpTimeout time.Duration

	// MaxFailures opens the circuit. Default: 5
	MaxFailures int

	// ResetTimeout before a half-open trial call. Default: 10s
	ResetTimeout time.Duration

	// OnStateChange observes circuit transitions.
	OnStateChange func(from, to resilience.State)
}

// Resilient runs every operation of a store through retry, timeout and a
// circuit breaker. A missing key is a normal answer: it is neither retried
// nor counted against the circuit.
type Resilient struct {
	store    Store
	executor *resilience.Executor
	breaker  *resilience.CircuitBreaker
}

// NewResilient wraps store with the given fault handling.
func NewResilient(store Store, cfg ResilientConfig) *Resilient {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 20 * time.Millisecond
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 5 * time.Second
	}

	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		MaxFailures:   cfg.MaxFailures,
		ResetTimeout:  cfg.ResetTimeout,
		OnStateChange: cfg.OnStateChange,
		IsFailure:     isStoreFault,
	})
	retry := resilience.NewRetry(resilience.RetryConfig{
		MaxAttempts:  cfg.MaxAttempts,
		InitialDelay: cfg.InitialDelay,
		MaxDelay:     time.Second,
		Jitter:       true,
		RetryIf:      isStoreFault,
	})

	return &Resilient{
		store:   store,
		breaker: breaker,
		executor: resilience.NewExecutor(
			resilience.WithCircuitBreaker(breaker),
			resilience.WithRetry(retry),
			resilience.WithTimeout(cfg.OpTimeout),
		),
	}
}

// isStoreFault reports whether err indicates an unhealthy store.
func isStoreFault(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrNotFound) &&
		!errors.Is(err, ErrInvalidKey) &&
		!errors.Is(err, ErrKeyTooLong) &&
		!errors.Is(err, context.Canceled)
}

// Breaker exposes the circuit breaker for health reporting.
func (r *Resilient) Breaker() *resilience.CircuitBreaker {
	return r.breaker
}

// Unwrap returns the wrapped store.
func (r *Resilient) Unwrap() Store {
	return r.store
}

func (r *Resilient) Write(ctx context.Context, key string, value []byte) error {
	return r.executor.Execute(ctx, func(ctx context.Context) error {
		return r.store.Write(ctx, key, value)
	})
}

func (r *Resilient) Read(ctx context.Context, key string) ([]byte, error) {
	return execute(ctx, r.executor, func(ctx context.Context) ([]byte, error) {
		return r.store.Read(ctx, key)
	})
}

func (r *Resilient) Delete(ctx context.Context, key string) error {
	return r.executor.Execute(ctx, func(ctx context.Context) error {
		return r.store.Delete(ctx, key)
	})
}

func (r *Resilient) Has(ctx context.Context, key string) (bool, error) {
	return execute(ctx, r.executor, func(ctx context.Context) (bool, error) {
		return r.store.Has(ctx, key)
	})
}

// Keys lists keys through the same fault handling as single-key operations.
func (r *Resilient) Keys(ctx context.Context, prefix string) ([]string, error) {
	lister, ok := r.store.(Lister)
	if !ok {
		return nil, ErrNotListable
	}
	return execute(ctx, r.executor, func(ctx context.Context) ([]string, error) {
		return lister.Keys(ctx, prefix)
	})
}

func (r *Resilient) Close() error {
	return r.store.Close()
}

// execute runs op through the executor and returns the value of the attempt
// that succeeded. An attempt abandoned by the timeout may still finish later,
// so the result is guarded.
func execute[T any](ctx context.Context, ex *resilience.Executor, op func(context.Context) (T, error)) (T, error) {
	var (
		mu  sync.Mutex
		out T
	)
	err := ex.Execute(ctx, func(ctx context.Context) error {
		value, err := op(ctx)
		if err != nil {
			return err
		}
		mu.Lock()
		out = value
		mu.Unlock()
		return nil
	})
	mu.Lock()
	defer mu.Unlock()
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// Ensure Resilient implements ListStore
var _ ListStore = (*Resilient)(nil)
