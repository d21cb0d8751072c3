package kv

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Dialer opens a new handle to a store.
type Dialer func(ctx context.Context) (Store, error)

// PoolConfig configures a Pool.
type PoolConfig struct {
	// Size is the number of handles kept per process. Default: 4
	Size int

	// Dial opens a handle. Required.
	Dial Dialer
}

// Pool hands out isolated store handles keyed by (process id, slot).
//
// Callers pass a slot naming their worker; slots are spread over Size handles
// with xxhash, so a given slot always lands on the same handle. A handle that
// was dialed by a different process id is dropped without being closed and is
// redialed: a forked child never shares a parent's connection.
type Pool struct {
	dial Dialer

	mu      sync.Mutex
	handles []*pooledHandle
	closed  bool
	pid     func() int
}

type pooledHandle struct {
	pid   int
	store Store
}

// NewPool creates a pool. Handles are dialed lazily on first use.
func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.Dial == nil {
		return nil, errors.New("kv: pool dialer is required")
	}
	if cfg.Size <= 0 {
		cfg.Size = 4
	}
	return &Pool{
		dial:    cfg.Dial,
		handles: make([]*pooledHandle, cfg.Size),
		pid:     os.Getpid,
	}, nil
}

// Get returns the handle for slot, dialing it if needed.
func (p *Pool) Get(ctx context.Context, slot string) (Store, error) {
	idx := int(xxhash.Sum64String(slot) % uint64(len(p.handles)))
	pid := p.pid()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	if h := p.handles[idx]; h != nil && h.pid == pid {
		return h.store, nil
	}

	store, err := p.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("kv: dial handle %d: %w", idx, err)
	}
	p.handles[idx] = &pooledHandle{pid: pid, store: store}
	return store, nil
}

// Close closes every handle dialed by the current process.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	pid := p.pid()
	var errs []error
	for i, h := range p.handles {
		if h == nil || h.pid != pid {
			continue
		}
		if err := h.store.Close(); err != nil {
			errs = append(errs, err)
		}
		p.handles[i] = nil
	}
	return errors.Join(errs...)
}

type slotKey struct{}

// WithSlot tags ctx with the pool slot of the calling worker.
func WithSlot(ctx context.Context, slot string) context.Context {
	return context.WithValue(ctx, slotKey{}, slot)
}

// SlotFromContext returns the slot set by WithSlot, or "".
func SlotFromContext(ctx context.Context) string {
	slot, _ := ctx.Value(slotKey{}).(string)
	return slot
}

// Store returns a Store view of the pool that routes each operation to the
// handle of the slot carried by its context.
func (p *Pool) Store() ListStore {
	return &poolStore{pool: p}
}

type poolStore struct {
	pool *Pool
}

func (s *poolStore) handle(ctx context.Context) (Store, error) {
	return s.pool.Get(ctx, SlotFromContext(ctx))
}

func (s *poolStore) Write(ctx context.Context, key string, value []byte) error {
	h, err := s.handle(ctx)
	if err != nil {
		return err
	}
	return h.Write(ctx, key, value)
}

func (s *poolStore) Read(ctx context.Context, key string) ([]byte, error) {
	h, err := s.handle(ctx)
	if err != nil {
		return nil, err
	}
	return h.Read(ctx, key)
}

func (s *poolStore) Delete(ctx context.Context, key string) error {
	h, err := s.handle(ctx)
	if err != nil {
		return err
	}
	return h.Delete(ctx, key)
}

func (s *poolStore) Has(ctx context.Context, key string) (bool, error) {
	h, err := s.handle(ctx)
	if err != nil {
		return false, err
	}
	return h.Has(ctx, key)
}

func (s *poolStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	h, err := s.handle(ctx)
	if err != nil {
		return nil, err
	}
	lister, ok := h.(Lister)
	if !ok {
		return nil, ErrNotListable
	}
	return lister.Keys(ctx, prefix)
}

func (s *poolStore) Close() error {
	return s.pool.Close()
}
