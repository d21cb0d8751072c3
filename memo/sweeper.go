package memo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/jonwraymond/tokencache/content"
	"github.com/jonwraymond/tokencache/meta"
	"github.com/jonwraymond/tokencache/observe"
	"github.com/jonwraymond/tokencache/resilience"
)

// SweeperConfig configures a Sweeper.
type SweeperConfig struct {
	// FalsePositiveRate of the mark set. A false positive only keeps garbage
	// for another sweep. Default: 0.001
	FalsePositiveRate float64

	// DeleteRate caps deletions per second. Default: 200
	DeleteRate float64

	// Logger receives one line per sweep.
	Logger observe.Logger

	// Now overrides the clock.
	Now func() time.Time
}

// SweepStats summarizes one sweep.
type SweepStats struct {
	Started    time.Time
	Duration   time.Duration
	Referenced int // distinct hashes referenced by metadata
	Scanned    int // payloads in the content store
	Suspected  int // unreferenced for the first time, kept for now
	Deleted    int // payloads removed
	Orphans    int // shard sets without a head record removed
}

// Sweeper reclaims payloads that no metadata references.
//
// A payload is deleted only after two consecutive sweeps found it
// unreferenced, so a payload written just before its metadata survives the
// sweep that races with it. Run sweeps further apart than the longest write.
//
// Contract:
// - Concurrency: Sweep calls are serialized.
// - Errors: listing failures abort the sweep; a failed delete is skipped and
// retried on the next sweep.
type Sweeper struct {
	content *content.Store
	meta    *meta.Store
	fpRate  float64
	limiter *resilience.RateLimiter
	logger  observe.Logger
	now     func() time.Time

	mu       sync.Mutex
	suspects map[content.Hash]bool
	orphans  map[content.Hash]bool
	last     SweepStats
}

// NewSweeper creates a Sweeper over the two stores. Both must be backed by a
// listable kv store.
func NewSweeper(c *content.Store, m *meta.Store, cfg SweeperConfig) (*Sweeper, error) {
	if c == nil || m == nil {
		return nil, errors.New("memo: sweeper needs content and meta stores")
	}
	if cfg.FalsePositiveRate <= 0 || cfg.FalsePositiveRate >= 1 {
		cfg.FalsePositiveRate = 0.001
	}
	if cfg.DeleteRate <= 0 {
		cfg.DeleteRate = 200
	}
	if cfg.Logger == nil {
		cfg.Logger = observe.NopLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Sweeper{
		content: c,
		meta:    m,
		fpRate:  cfg.FalsePositiveRate,
		limiter: resilience.NewRateLimiter(resilience.RateLimiterConfig{
			Rate:    cfg.DeleteRate,
			Burst:   max(1, int(cfg.DeleteRate)),
			MaxWait: time.Minute,
		}),
		logger:   cfg.Logger,
		now:      cfg.Now,
		suspects: map[content.Hash]bool{},
		orphans:  map[content.Hash]bool{},
	}, nil
}

// Last returns the stats of the previous sweep.
func (s *Sweeper) Last() SweepStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Sweep runs one mark and sweep pass.
func (s *Sweeper) Sweep(ctx context.Context) (SweepStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := SweepStats{Started: s.now()}

	// Mark before listing content: a payload stored after this point is at
	// worst suspected once.
	refs, err := s.meta.Refs(ctx)
	if err != nil {
		return stats, fmt.Errorf("memo: sweep mark: %w", err)
	}
	marked := bloom.NewWithEstimates(uint(max(len(refs), 1)), s.fpRate)
	for h := range refs {
		marked.AddString(string(h))
	}
	stats.Referenced = len(refs)

	hashes, err := s.content.Hashes(ctx)
	if err != nil {
		return stats, fmt.Errorf("memo: sweep list: %w", err)
	}
	stats.Scanned = len(hashes)

	nextSuspects := make(map[content.Hash]bool)
	for _, h := range hashes {
		if marked.TestString(string(h)) {
			continue
		}
		if !s.suspects[h] {
			nextSuspects[h] = true
			stats.Suspected++
			continue
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return stats, err
		}
		if err := s.content.Delete(ctx, h); err != nil {
			nextSuspects[h] = true
			s.logger.Warn(ctx, "sweep delete failed", observe.Field{Key: "hash", Value: string(h)}, observe.Field{Key: "error", Value: err})
			continue
		}
		stats.Deleted++
	}
	s.suspects = nextSuspects

	orphans, err := s.content.OrphanShards(ctx)
	if err != nil {
		return stats, fmt.Errorf("memo: sweep shards: %w", err)
	}
	nextOrphans := make(map[content.Hash]bool)
	for _, h := range orphans {
		if !s.orphans[h] {
			nextOrphans[h] = true
			continue
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return stats, err
		}
		if err := s.content.DeleteShards(ctx, h); err != nil {
			nextOrphans[h] = true
			continue
		}
		stats.Orphans++
	}
	s.orphans = nextOrphans

	stats.Duration = s.now().Sub(stats.Started)
	s.last = stats
	s.logger.Info(ctx, "sweep finished",
		observe.Field{Key: "referenced", Value: stats.Referenced},
		observe.Field{Key: "scanned", Value: stats.Scanned},
		observe.Field{Key: "suspected", Value: stats.Suspected},
		observe.Field{Key: "deleted", Value: stats.Deleted},
		observe.Field{Key: "orphans", Value: stats.Orphans})
	return stats, nil
}
