package health

import (
	"context"
	"fmt"
	"time"

	"github.com/jonwraymond/tokencache/kv"
	"github.com/jonwraymond/tokencache/resilience"
	"github.com/jonwraymond/tokencache/token"
)

// DefaultCheckKey is the key StoreChecker looks up. It need not exist.
const DefaultCheckKey = "__health__"

// StoreChecker checks a kv.Store with Has. When the store is a
// kv.Resilient, an open circuit is unhealthy and a half-open one degraded.
type StoreChecker struct {
	name  string
	store kv.Store
	key   string
}

// NewStoreChecker creates a StoreChecker. An empty key means
// DefaultCheckKey.
func NewStoreChecker(name string, store kv.Store, key string) *StoreChecker {
	if key == "" {
		key = DefaultCheckKey
	}
	return &StoreChecker{name: name, store: store, key: key}
}

func (c *StoreChecker) Name() string { return c.name }

func (c *StoreChecker) Check(ctx context.Context) Result {
	details := map[string]any{}
	if r, ok := c.store.(*kv.Resilient); ok {
		m := r.Breaker().Metrics()
		details["circuit"] = m.State.String()
		details["consecutive_failures"] = m.ConsecutiveFailures
		switch m.State {
		case resilience.StateOpen:
			return Unhealthy("circuit open", resilience.ErrCircuitOpen).WithDetails(details)
		case resilience.StateHalfOpen:
			return Degraded("circuit half-open").WithDetails(details)
		}
	}

	start := time.Now()
	if _, err := c.store.Has(ctx, c.key); err != nil {
		return Unhealthy("store check failed", err).WithDetails(details)
	}
	details["latency"] = time.Since(start).String()
	return Healthy("store reachable").WithDetails(details)
}

// RegistryChecker reloads the registry view when it is older than the
// refresh interval. A failed reload is unhealthy: every cached call falls
// back to direct computation until the source recovers.
type RegistryChecker struct {
	registry *token.Registry
}

// NewRegistryChecker creates a RegistryChecker.
func NewRegistryChecker(r *token.Registry) *RegistryChecker {
	return &RegistryChecker{registry: r}
}

func (c *RegistryChecker) Name() string { return "registry" }

func (c *RegistryChecker) Check(ctx context.Context) Result {
	interval := c.registry.RefreshInterval()
	if age, ok := c.registry.ViewAge(); !ok || age >= interval {
		if err := c.registry.Refresh(ctx); err != nil {
			return Unhealthy("token source unreachable", err)
		}
	}
	age, _ := c.registry.ViewAge()
	return Healthy("token view current").WithDetails(map[string]any{
		"view_age":         age.String(),
		"refresh_interval": interval.String(),
		"apis":             len(c.registry.APIs()),
	})
}

// QueueStater reports a write-behind backlog. memo.Manager implements it.
type QueueStater interface {
	QueueStats() (pending, capacity int)
}

// QueueChecker reports a write-behind queue filled beyond a threshold as
// degraded: new writes are then made synchronously.
type QueueChecker struct {
	queue     QueueStater
	threshold float64
}

// NewQueueChecker creates a QueueChecker. Threshold is the degraded fill
// ratio. Default: 0.8
func NewQueueChecker(q QueueStater, threshold float64) *QueueChecker {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.8
	}
	return &QueueChecker{queue: q, threshold: threshold}
}

func (c *QueueChecker) Name() string { return "write_queue" }

func (c *QueueChecker) Check(context.Context) Result {
	pending, capacity := c.queue.QueueStats()
	details := map[string]any{"pending": pending, "capacity": capacity}
	if capacity == 0 {
		return Healthy("synchronous writes").WithDetails(details)
	}
	fill := float64(pending) / float64(capacity)
	if fill >= c.threshold {
		return Degraded(fmt.Sprintf("write queue %.0f%% full", fill*100)).WithDetails(details)
	}
	return Healthy("write queue draining").WithDetails(details)
}

var (
	_ Checker = (*StoreChecker)(nil)
	_ Checker = (*RegistryChecker)(nil)
	_ Checker = (*QueueChecker)(nil)
)
