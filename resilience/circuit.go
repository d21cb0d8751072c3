package resilience

import (
	"context"
	"sync"
	"time"
)

// State is a circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures a CircuitBreaker.
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the
	// circuit. Default: 5
	MaxFailures int

	// ResetTimeout is how long the circuit stays open before letting trial calls
	// through. Default: 30s
	ResetTimeout time.Duration

	// HalfOpenMaxRequests is the number of concurrent trial calls allowed while
	// half-open. Default: 1
	HalfOpenMaxRequests int

	// OnStateChange observes transitions. It runs with the breaker locked
	// and must not call back into it.
	OnStateChange func(from, to State)

	// IsFailure classifies errors. Default: every non-nil error.
	IsFailure func(err error) bool

	// Now overrides the clock. Default: time.Now
	Now func() time.Time
}

// CircuitBreaker stops calling a failing dependency until it has had time
// to recover.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	trials   int
	counts   Counts
}

// Counts are cumulative breaker statistics.
type Counts struct {
	Successes int64
	Failures  int64
	Rejected  int64
}

// CircuitBreakerMetrics is a point-in-time view of a breaker.
type CircuitBreakerMetrics struct {
	State               State
	ConsecutiveFailures int
	OpenedAt            time.Time
	Counts
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = 1
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return err != nil }
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{cfg: cfg}
}

// Execute runs op unless the circuit is open.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	trial, err := cb.admit()
	if err != nil {
		return err
	}
	err = op(ctx)
	cb.record(trial, cb.cfg.IsFailure(err))
	return err
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stateLocked()
}

// Reset closes the circuit and clears the failure streak.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.transitionLocked(StateClosed)
}

// Metrics returns a snapshot of the breaker.
func (cb *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return CircuitBreakerMetrics{
		State:               cb.stateLocked(),
		ConsecutiveFailures: cb.failures,
		OpenedAt:            cb.openedAt,
		Counts:              cb.counts,
	}
}

func (cb *CircuitBreaker) admit() (trial bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.stateLocked() {
	case StateOpen:
		cb.counts.Rejected++
		return false, ErrCircuitOpen
	case StateHalfOpen:
		if cb.trials >= cb.cfg.HalfOpenMaxRequests {
			cb.counts.Rejected++
			return false, ErrCircuitOpen
		}
		cb.trials++
		return true, nil
	}
	return false, nil
}

func (cb *CircuitBreaker) record(trial, failed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if failed {
		cb.counts.Failures++
	} else {
		cb.counts.Successes++
	}
	if trial && cb.trials > 0 {
		cb.trials--
	}

	switch cb.state {
	case StateClosed:
		if !failed {
			cb.failures = 0
			return
		}
		cb.failures++
		if cb.failures >= cb.cfg.MaxFailures {
			cb.open()
		}
	case StateHalfOpen:
		if failed {
			cb.open()
			return
		}
		cb.failures = 0
		cb.transitionLocked(StateClosed)
	}
}

func (cb *CircuitBreaker) open() {
	cb.openedAt = cb.cfg.Now()
	cb.transitionLocked(StateOpen)
}

// stateLocked moves an open circuit to half-open once ResetTimeout elapsed.
func (cb *CircuitBreaker) stateLocked() State {
	if cb.state == StateOpen && cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		cb.transitionLocked(StateHalfOpen)
	}
	return cb.state
}

func (cb *CircuitBreaker) transitionLocked(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.trials = 0
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}
