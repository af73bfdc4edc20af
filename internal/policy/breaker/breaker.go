// Package breaker implements the process-wide circuit breaker that stops
// outbound fetches after sustained failures.
package breaker

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/proxyfetch/internal/fetch"
	"github.com/JakeFAU/proxyfetch/internal/metrics"
)

// State is the breaker position.
type State int

// Breaker states.
const (
	Closed State = iota
	HalfOpen
	Open
)

// String renders the state in upper case.
func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case HalfOpen:
		return "HALF_OPEN"
	case Open:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config holds breaker configuration.
type Config struct {
	Threshold    int
	ResetTimeout time.Duration
}

// Snapshot is a point-in-time copy of the breaker.
type Snapshot struct {
	State         State
	FailureCount  int
	LastFailureAt time.Time
	Threshold     int
	ResetTimeout  time.Duration
}

// Breaker counts consecutive failures and trips open at the threshold.
type Breaker struct {
	mu            sync.Mutex
	clock         fetch.Clock
	logger        *zap.Logger
	threshold     int
	resetTimeout  time.Duration
	state         State
	failureCount  int
	lastFailureAt time.Time
}

// New creates a closed Breaker. Non-positive values fall back to 500 failures
// and a 60s reset timeout.
func New(cfg Config, clock fetch.Clock, logger *zap.Logger) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 500
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.SetBreakerState(metrics.BreakerClosed)
	return &Breaker{
		clock:        clock,
		logger:       logger.Named("breaker"),
		threshold:    cfg.Threshold,
		resetTimeout: cfg.ResetTimeout,
		state:        Closed,
	}
}

// CanExecute reports whether a fetch may proceed. An open breaker whose reset
// timeout has elapsed moves to half-open and lets the caller through.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open && b.clock.Now().Sub(b.lastFailureAt) > b.resetTimeout {
		b.transition(HalfOpen)
	}
	return b.state != Open
}

// OnSuccess closes the breaker and clears the failure history.
func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount = 0
	b.lastFailureAt = time.Time{}
	b.transition(Closed)
}

// OnFailure records a failure and opens the breaker at the threshold.
func (b *Breaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailureAt = b.clock.Now()
	if b.failureCount >= b.threshold {
		b.transition(Open)
	}
}

// Snapshot returns the current breaker fields.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Snapshot{
		State:         b.state,
		FailureCount:  b.failureCount,
		LastFailureAt: b.lastFailureAt,
		Threshold:     b.threshold,
		ResetTimeout:  b.resetTimeout,
	}
}

// transition must be called with b.mu held.
func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	b.logger.Info("circuit breaker state change",
		zap.Stringer("from", b.state),
		zap.Stringer("to", to),
		zap.Int("failures", b.failureCount),
	)
	b.state = to
	switch to {
	case Closed:
		metrics.SetBreakerState(metrics.BreakerClosed)
	case HalfOpen:
		metrics.SetBreakerState(metrics.BreakerHalfOpen)
	case Open:
		metrics.SetBreakerState(metrics.BreakerOpen)
	}
}
