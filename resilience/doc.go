// Package resilience provides the fault-handling building blocks used around
// cache stores: retry with backoff, a circuit breaker, per-attempt timeouts,
// a bulkhead and a token-bucket rate limiter.
//
// kv.Resilient composes them with an Executor for remote stores. The memo
// write-behind queue bounds its backlog with a Bulkhead, the reachability
// sweeper throttles deletions with a RateLimiter, and visibility waits poll
// with Retry.
//
//	ex := resilience.NewExecutor(
//	    resilience.WithCircuitBreaker(resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{})),
//	    resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{MaxAttempts: 3})),
//	    resilience.WithTimeout(time.Second),
//	)
//	err := ex.Execute(ctx, func(ctx context.Context) error {
//	    return store.Write(ctx, key, value)
//	})
package resilience
