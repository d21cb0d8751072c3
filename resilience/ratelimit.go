package resilience

import (
	"context"
	"sync"
	"time"
)

// RateLimiterConfig configures a RateLimiter.
type RateLimiterConfig struct {
	// Rate is the refill rate in tokens per second. Default: 100
	Rate float64

	// Burst is the bucket capacity. Default: 10
	Burst int

	// WaitOnLimit makes Execute wait for a token instead of failing.
	WaitOnLimit bool

	// MaxWait bounds a single Wait. Default: 1s
	MaxWait time.Duration

	// Now overrides the clock. Default: time.Now
	Now func() time.Time
}

// RateLimiter is a token bucket.
type RateLimiter struct {
	cfg RateLimiterConfig

	mu     sync.Mutex
	tokens float64
	last   time.Time
}

// NewRateLimiter creates a full bucket.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.Rate <= 0 {
		cfg.Rate = 100
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &RateLimiter{cfg: cfg, tokens: float64(cfg.Burst), last: cfg.Now()}
}

// Allow takes one token if available.
func (rl *RateLimiter) Allow() bool { return rl.AllowN(1) }

// AllowN takes n tokens if available.
func (rl *RateLimiter) AllowN(n int) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refillLocked()
	if rl.tokens < float64(n) {
		return false
	}
	rl.tokens -= float64(n)
	return true
}

// Wait blocks until a token is available, MaxWait passes or ctx ends.
func (rl *RateLimiter) Wait(ctx context.Context) error { return rl.WaitN(ctx, 1) }

// WaitN blocks until n tokens are available, MaxWait passes or ctx ends.
func (rl *RateLimiter) WaitN(ctx context.Context, n int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline := rl.cfg.Now().Add(rl.cfg.MaxWait)
	for {
		wait, ok := rl.reserve(n)
		if ok {
			return nil
		}
		remaining := deadline.Sub(rl.cfg.Now())
		if remaining <= 0 {
			return ErrRateLimitExceeded
		}
		if wait > remaining {
			wait = remaining
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// reserve takes n tokens, or reports how long until they would be there.
func (rl *RateLimiter) reserve(n int) (time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refillLocked()
	if rl.tokens >= float64(n) {
		rl.tokens -= float64(n)
		return 0, true
	}
	missing := float64(n) - rl.tokens
	return time.Duration(missing / rl.cfg.Rate * float64(time.Second)), false
}

// Execute runs op if a token is available, or after waiting for one when
// WaitOnLimit is set.
func (rl *RateLimiter) Execute(ctx context.Context, op func(context.Context) error) error {
	if rl.cfg.WaitOnLimit {
		if err := rl.Wait(ctx); err != nil {
			return err
		}
	} else if !rl.Allow() {
		return ErrRateLimitExceeded
	}
	return op(ctx)
}

// Tokens returns the number of available tokens.
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refillLocked()
	return rl.tokens
}

// Reset refills the bucket.
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.tokens = float64(rl.cfg.Burst)
	rl.last = rl.cfg.Now()
}

func (rl *RateLimiter) refillLocked() {
	now := rl.cfg.Now()
	if elapsed := now.Sub(rl.last); elapsed > 0 {
		rl.tokens += elapsed.Seconds() * rl.cfg.Rate
		if max := float64(rl.cfg.Burst); rl.tokens > max {
			rl.tokens = max
		}
	}
	rl.last = now
}
