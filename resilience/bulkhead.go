package resilience

import (
	"context"
	"sync/atomic"
	"time"
)

// BulkheadConfig configures a Bulkhead.
type BulkheadConfig struct {
	// MaxConcurrent is the number of slots. Default: 10
	MaxConcurrent int

	// MaxWait is how long Acquire waits for a slot. Zero fails at once.
	MaxWait time.Duration
}

// Bulkhead caps how many operations hold a slot at the same time.
type Bulkhead struct {
	cfg      BulkheadConfig
	slots    chan struct{}
	peak     atomic.Int64
	rejected atomic.Int64
}

// BulkheadMetrics is a point-in-time view of a bulkhead.
type BulkheadMetrics struct {
	Active        int
	MaxActive     int
	Available     int
	MaxConcurrent int
	Rejected      int64
}

// NewBulkhead creates a Bulkhead.
func NewBulkhead(cfg BulkheadConfig) *Bulkhead {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 10
	}
	return &Bulkhead{cfg: cfg, slots: make(chan struct{}, cfg.MaxConcurrent)}
}

// TryAcquire takes a slot if one is free.
func (b *Bulkhead) TryAcquire() bool {
	select {
	case b.slots <- struct{}{}:
		b.notePeak()
		return true
	default:
		return false
	}
}

// Acquire takes a slot, waiting up to MaxWait. It returns ErrBulkheadFull
// when none frees up in time.
func (b *Bulkhead) Acquire(ctx context.Context) error {
	if b.TryAcquire() {
		return nil
	}
	if b.cfg.MaxWait <= 0 {
		b.rejected.Add(1)
		return ErrBulkheadFull
	}
	t := time.NewTimer(b.cfg.MaxWait)
	defer t.Stop()
	select {
	case b.slots <- struct{}{}:
		b.notePeak()
		return nil
	case <-t.C:
		b.rejected.Add(1)
		return ErrBulkheadFull
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot taken by Acquire or TryAcquire.
func (b *Bulkhead) Release() {
	select {
	case <-b.slots:
	default:
	}
}

// Execute runs op while holding a slot.
func (b *Bulkhead) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := b.Acquire(ctx); err != nil {
		return err
	}
	defer b.Release()
	return op(ctx)
}

// Active returns the number of held slots.
func (b *Bulkhead) Active() int { return len(b.slots) }

// Capacity returns the number of slots.
func (b *Bulkhead) Capacity() int { return cap(b.slots) }

// Metrics returns a snapshot.
func (b *Bulkhead) Metrics() BulkheadMetrics {
	active := len(b.slots)
	return BulkheadMetrics{
		Active:        active,
		MaxActive:     int(b.peak.Load()),
		Available:     cap(b.slots) - active,
		MaxConcurrent: cap(b.slots),
		Rejected:      b.rejected.Load(),
	}
}

func (b *Bulkhead) notePeak() {
	n := int64(len(b.slots))
	for {
		p := b.peak.Load()
		if n <= p || b.peak.CompareAndSwap(p, n) {
			return
		}
	}
}
