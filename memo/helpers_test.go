package memo

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonwraymond/tokencache/content"
	"github.com/jonwraymond/tokencache/fingerprint"
	"github.com/jonwraymond/tokencache/kv"
	"github.com/jonwraymond/tokencache/meta"
	"github.com/jonwraymond/tokencache/token"
)

var errStoreDown = errors.New("store down")

// faultyStore fails every operation while down is set.
type faultyStore struct {
	*kv.Memory
	down atomic.Bool
}

func (f *faultyStore) Read(ctx context.Context, key string) ([]byte, error) {
	if f.down.Load() {
		return nil, errStoreDown
	}
	return f.Memory.Read(ctx, key)
}

func (f *faultyStore) Write(ctx context.Context, key string, value []byte) error {
	if f.down.Load() {
		return errStoreDown
	}
	return f.Memory.Write(ctx, key, value)
}

func (f *faultyStore) Has(ctx context.Context, key string) (bool, error) {
	if f.down.Load() {
		return false, errStoreDown
	}
	return f.Memory.Has(ctx, key)
}

func (f *faultyStore) Delete(ctx context.Context, key string) error {
	if f.down.Load() {
		return errStoreDown
	}
	return f.Memory.Delete(ctx, key)
}

// failingSource makes registry refreshes fail while down is set.
type failingSource struct {
	*token.MemorySource
	down atomic.Bool
}

func (f *failingSource) FindAll(ctx context.Context) (map[token.Segment]token.Record, error) {
	if f.down.Load() {
		return nil, errStoreDown
	}
	return f.MemorySource.FindAll(ctx)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	m        *Manager
	content  *content.Store
	meta     *meta.Store
	registry *token.Registry
	source   *failingSource
	contentK *faultyStore
	metaK    *faultyStore
	clock    *testClock
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		source:   &failingSource{MemorySource: token.NewMemorySource()},
		contentK: &faultyStore{Memory: kv.NewMemory()},
		metaK:    &faultyStore{Memory: kv.NewMemory()},
		clock:    &testClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)},
	}
	reg, err := token.NewRegistry(h.source, token.Config{RefreshInterval: time.Hour, Now: h.clock.Now})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	h.registry = reg
	h.content = content.New(h.contentK, content.Config{MaxValueSize: 64})
	h.meta = meta.New(h.metaK)

	m, err := New(cfg, Deps{
		Content:  h.content,
		Meta:     h.meta,
		Registry: reg,
		Clock:    h.clock.Now,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	h.m = m
	return h
}

// counted wraps a two-argument function that returns value() and counts its
// invocations.
type counted struct {
	calls atomic.Int32
	value func(a, b int) string
	err   error
}

func (c *counted) fn(ctx context.Context, args fingerprint.Args) (string, error) {
	c.calls.Add(1)
	if c.err != nil {
		return "", c.err
	}
	a, _ := fingerprint.Arg[int](args, "a")
	b, _ := fingerprint.Arg[int](args, "b")
	return c.value(a, b), nil
}

var sumSig = fingerprint.Signature{
	Owner:  "quotes",
	Name:   "Sum",
	Params: []fingerprint.Param{fingerprint.Required("a"), fingerprint.Optional("b", 0)},
}

func mustWrap[R any](t *testing.T, m *Manager, sig fingerprint.Signature, tag token.Tag, fn func(context.Context, fingerprint.Args) (R, error), opts ...Option[R]) *Func[R] {
	t.Helper()
	f, err := Wrap(m, sig, tag, fn, opts...)
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}
	return f
}

func call[R any](t *testing.T, f *Func[R], ctx context.Context, args ...any) (R, Outcome) {
	t.Helper()
	v, o, err := f.CallWithOutcome(ctx, args, nil)
	if err != nil {
		t.Fatalf("Call(%v) error = %v (outcome %v)", args, err, o)
	}
	return v, o
}
