// Package scheduler runs a task repeatedly on a fixed interval in the background.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Ticker delivers ticks on C until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory builds a Ticker for the given interval.
type TickerFactory func(d time.Duration) Ticker

type stdTicker struct{ t *time.Ticker }

func (s stdTicker) C() <-chan time.Time { return s.t.C }
func (s stdTicker) Stop()               { s.t.Stop() }

// NewStdTicker wraps time.NewTicker.
func NewStdTicker(d time.Duration) Ticker {
	return stdTicker{t: time.NewTicker(d)}
}

// Task is one unit of periodic work. It should log its own failures.
type Task func(ctx context.Context)

// Loop invokes a Task every interval. The first run happens one interval after
// Start. Runs never overlap.
type Loop struct {
	name      string
	interval  time.Duration
	task      Task
	newTicker TickerFactory
	logger    *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Loop.
type Option func(*Loop)

// WithTicker overrides the ticker factory.
func WithTicker(f TickerFactory) Option {
	return func(l *Loop) { l.newTicker = f }
}

// New creates a stopped Loop.
func New(name string, interval time.Duration, task Task, logger *zap.Logger, opts ...Option) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Loop{
		name:      name,
		interval:  interval,
		task:      task,
		newTicker: NewStdTicker,
		logger:    logger.Named("scheduler").With(zap.String("loop", name)),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start launches the loop. It returns false if the loop is already running.
// The loop ends when ctx is cancelled or Stop is called.
func (l *Loop) Start(ctx context.Context) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.runningLocked() {
		return false
	}
	if l.cancel != nil {
		// The parent context ended the previous run.
		l.cancel()
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l.cancel = cancel
	l.done = done

	ticker := l.newTicker(l.interval)
	go l.run(loopCtx, ticker, done)
	l.logger.Info("loop started", zap.Duration("interval", l.interval))
	return true
}

func (l *Loop) run(ctx context.Context, ticker Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			l.task(ctx)
		}
	}
}

// Stop cancels the loop and waits for an in-flight run to finish. Stopping a
// stopped loop is a no-op.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	l.logger.Info("loop stopped")
}

// Running reports whether the loop goroutine is alive: started, not stopped,
// and its context not cancelled.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.runningLocked()
}

func (l *Loop) runningLocked() bool {
	if l.done == nil {
		return false
	}
	select {
	case <-l.done:
		return false
	default:
		return true
	}
}

// Interval returns the configured interval.
func (l *Loop) Interval() time.Duration {
	return l.interval
}
