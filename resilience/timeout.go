package resilience

import (
	"context"
	"errors"
	"time"
)

// Timeout bounds a single attempt.
type Timeout struct {
	limit time.Duration
}

// NewTimeout creates a Timeout. A non-positive limit defaults to 30s.
func NewTimeout(limit time.Duration) *Timeout {
	if limit <= 0 {
		limit = 30 * time.Second
	}
	return &Timeout{limit: limit}
}

// Limit returns the configured bound.
func (t *Timeout) Limit() time.Duration { return t.limit }

// Execute runs op with a deadline. When the deadline passes first it returns
// ErrTimeout without waiting for op; op sees its context canceled.
func (t *Timeout) Execute(ctx context.Context, op func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, t.limit)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- op(ctx) }()

	select {
	case err := <-done:
		if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrTimeout
		}
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrTimeout
		}
		return ctx.Err()
	}
}
