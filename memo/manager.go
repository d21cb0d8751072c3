package memo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/tokencache/content"
	"github.com/jonwraymond/tokencache/fingerprint"
	"github.com/jonwraymond/tokencache/meta"
	"github.com/jonwraymond/tokencache/observe"
	"github.com/jonwraymond/tokencache/resilience"
	"github.com/jonwraymond/tokencache/token"
)

// DefaultCorruptionGrace is how long a payload may stay missing before its
// metadata is purged.
const DefaultCorruptionGrace = 10 * time.Minute

// WriteMode selects how computed results are persisted.
type WriteMode string

const (
	// WriteSync persists before the call returns.
	WriteSync WriteMode = "sync"

	// WriteAsync hands writes to the write-behind queue. A full queue
	// degrades to a synchronous write.
	WriteAsync WriteMode = "async"
)

// Config configures a Manager.
type Config struct {
	// Enabled turns caching on. A disabled manager calls every function
	// directly and never touches the stores.
	Enabled bool

	// CorruptionGrace is how long a missing payload is tolerated before the
	// metadata is purged. Default: 10m
	CorruptionGrace time.Duration

	// WriteMode is sync or async. Default: sync
	WriteMode WriteMode

	// QueueSize bounds the write-behind backlog. Default: 256
	QueueSize int

	// Workers drain the write-behind queue. Default: 4
	Workers int

	// VisibilityTimeout bounds WaitVisible. Default: 2s
	VisibilityTimeout time.Duration

	// Codec names the default result codec: json or gob. Default: json
	Codec string
}

// DefaultConfig returns an enabled, synchronous configuration.
func DefaultConfig() Config {
	return Config{Enabled: true}
}

func (c *Config) applyDefaults() {
	if c.CorruptionGrace <= 0 {
		c.CorruptionGrace = DefaultCorruptionGrace
	}
	if c.WriteMode == "" {
		c.WriteMode = WriteSync
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = 2 * time.Second
	}
}

// Deps are the collaborators of a Manager.
type Deps struct {
	Content  *content.Store
	Meta     *meta.Store
	Registry *token.Registry

	// Fingerprinter derives call keys. Default: fingerprint.New()
	Fingerprinter fingerprint.Fingerprinter

	// Observer provides tracing and metrics. Default: observe.Nop()
	Observer observe.Observer

	// Logger overrides the observer's logger.
	Logger observe.Logger

	// Clock overrides time.Now.
	Clock func() time.Time
}

// Manager runs the invalidation state machine for every wrapped function.
//
// Contract:
// - Concurrency: safe for concurrent use. Concurrent calls with the same key
// in one process share one computation.
// - Errors: store faults degrade the call to a direct computation; only
// errors of the wrapped function, context cancellation and argument binding
// errors reach the caller.
type Manager struct {
	cfg      Config
	content  *content.Store
	meta     *meta.Store
	registry *token.Registry
	fp       fingerprint.Fingerprinter
	mw       *observe.Middleware
	logger   observe.Logger
	now      func() time.Time

	enabled  atomic.Bool
	disabled atomic.Int64
	outdated atomic.Int64

	flight singleflight.Group
	queue  *writeQueue

	closeOnce sync.Once
	closed    atomic.Bool
}

// New creates a Manager.
func New(cfg Config, deps Deps) (*Manager, error) {
	if deps.Content == nil || deps.Meta == nil || deps.Registry == nil {
		return nil, errors.New("memo: content, meta and registry are required")
	}
	if cfg.WriteMode != "" && cfg.WriteMode != WriteSync && cfg.WriteMode != WriteAsync {
		return nil, fmt.Errorf("memo: unknown write mode %q", cfg.WriteMode)
	}
	if _, err := defaultCodec[struct{}](cfg.Codec); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if deps.Fingerprinter == nil {
		deps.Fingerprinter = fingerprint.New()
	}
	if deps.Observer == nil {
		deps.Observer = observe.Nop()
	}
	if deps.Logger == nil {
		deps.Logger = deps.Observer.Logger()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	metrics, err := observe.NewMetrics(deps.Observer.Meter())
	if err != nil {
		return nil, fmt.Errorf("memo: metrics: %w", err)
	}

	m := &Manager{
		cfg:      cfg,
		content:  deps.Content,
		meta:     deps.Meta,
		registry: deps.Registry,
		fp:       deps.Fingerprinter,
		mw:       observe.NewMiddleware(observe.NewTracer(deps.Observer.Tracer()), metrics, deps.Logger),
		logger:   deps.Logger,
		now:      deps.Clock,
	}
	m.enabled.Store(cfg.Enabled)
	if cfg.WriteMode == WriteAsync {
		m.queue = newWriteQueue(cfg.QueueSize, cfg.Workers, m.persistQueued)
	}
	return m, nil
}

// Registry returns the token registry the manager consults.
func (m *Manager) Registry() *token.Registry { return m.registry }

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// SetEnabled turns caching on or off at runtime.
func (m *Manager) SetEnabled(on bool) { m.enabled.Store(on) }

// Enable is SetEnabled(true).
func (m *Manager) Enable() { m.SetEnabled(true) }

// Enabled reports whether calls are cached, ignoring scoped guards.
func (m *Manager) Enabled() bool { return m.enabled.Load() }

// Guard holds a scoped override until released.
type Guard struct {
	once    sync.Once
	release func()
}

// Release ends the override. Extra calls do nothing.
func (g *Guard) Release() {
	g.once.Do(g.release)
}

func hold(counter *atomic.Int64) *Guard {
	counter.Add(1)
	return &Guard{release: func() { counter.Add(-1) }}
}

// Disable bypasses the cache for every call until the guard is released.
func (m *Manager) Disable() *Guard { return hold(&m.disabled) }

// ForceOutdated makes every call behave as stale until the guard is
// released. Guards nest.
func (m *Manager) ForceOutdated() *Guard { return hold(&m.outdated) }

type noCacheKey struct{}

// NoCache returns a context whose calls bypass the cache.
func NoCache(ctx context.Context) context.Context {
	return context.WithValue(ctx, noCacheKey{}, true)
}

func (m *Manager) active(ctx context.Context) bool {
	if v, _ := ctx.Value(noCacheKey{}).(bool); v {
		return false
	}
	return m.enabled.Load() && m.disabled.Load() == 0 && !m.closed.Load()
}

func (m *Manager) forcedOutdated() bool { return m.outdated.Load() > 0 }

// Purge deletes the metadata of one call. The payload stays until the
// sweeper finds it unreferenced.
func (m *Manager) Purge(ctx context.Context, key fingerprint.Key) error {
	if m.closed.Load() {
		return ErrClosed
	}
	return m.meta.Delete(ctx, key.String())
}

// Flush returns once every write queued before the call is applied. It is a
// no-op in sync mode.
func (m *Manager) Flush(ctx context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if m.queue == nil {
		return nil
	}
	return m.queue.flush(ctx)
}

// QueueStats reports the write-behind backlog. Both are zero in sync mode.
func (m *Manager) QueueStats() (pending, capacity int) {
	if m.queue == nil {
		return 0, 0
	}
	return m.queue.slots.Active(), m.queue.slots.Capacity()
}

// WaitVisible polls the metadata store until key has metadata whose token is
// not older than since, backing off up to VisibilityTimeout. A zero since
// waits for any metadata.
func (m *Manager) WaitVisible(ctx context.Context, key fingerprint.Key, since time.Time) error {
	if m.closed.Load() {
		return ErrClosed
	}
	errPending := errors.New("pending")
	retry := resilience.NewRetry(resilience.RetryConfig{
		MaxAttempts:  1 << 20,
		MaxElapsed:   m.cfg.VisibilityTimeout,
		InitialDelay: 2 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Jitter:       true,
		RetryIf:      func(err error) bool { return errors.Is(err, errPending) },
	})
	err := retry.Execute(ctx, func(ctx context.Context) error {
		md, err := m.meta.Get(ctx, key.String())
		if errors.Is(err, meta.ErrNotFound) || (err == nil && md.Token.Before(since)) {
			return errPending
		}
		return err
	})
	if errors.Is(err, resilience.ErrMaxRetriesExceeded) {
		return fmt.Errorf("%w: %s after %s", ErrNotVisible, key, m.cfg.VisibilityTimeout)
	}
	return err
}

// Close drains the write-behind queue and stops its workers. Calls made
// after Close bypass the cache; Purge, Flush and WaitVisible return
// ErrClosed.
func (m *Manager) Close(ctx context.Context) error {
	var err error
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		if m.queue != nil {
			err = m.queue.close(ctx)
		}
	})
	return err
}
