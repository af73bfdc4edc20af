// Package ratelimit implements a sliding-window log limiter over the shared
// outbound request budget.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/proxyfetch/internal/fetch"
)

// Config holds rate limiter configuration.
type Config struct {
	MaxRequests int
	Window      time.Duration
}

// SlidingWindow admits at most MaxRequests within any trailing Window. It keeps
// every admitted instant, so the count is exact.
type SlidingWindow struct {
	mu          sync.Mutex
	clock       fetch.Clock
	maxRequests int
	window      time.Duration
	admitted    []time.Time
}

// New creates a SlidingWindow. Non-positive values fall back to 6000 per minute.
func New(cfg Config, clock fetch.Clock) *SlidingWindow {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 6000
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &SlidingWindow{
		clock:       clock,
		maxRequests: cfg.MaxRequests,
		window:      cfg.Window,
	}
}

// Admit records one request at the current instant if capacity remains.
func (l *SlidingWindow) Admit() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.prune(now)
	if len(l.admitted) >= l.maxRequests {
		return false
	}
	l.admitted = append(l.admitted, now)
	return true
}

// WaitTime reports how long until the oldest admitted request leaves the window.
// It is zero while capacity is available.
func (l *SlidingWindow) WaitTime() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.prune(now)
	if len(l.admitted) < l.maxRequests {
		return 0
	}
	wait := l.admitted[0].Add(l.window).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

// Usage returns the number of requests in the current window and the budget.
func (l *SlidingWindow) Usage() (used, limit int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.prune(l.clock.Now())
	return len(l.admitted), l.maxRequests
}

// String renders the usage as "used/max".
func (l *SlidingWindow) String() string {
	used, limit := l.Usage()
	return fmt.Sprintf("%d/%d", used, limit)
}

// prune drops entries whose age has reached the window. Callers hold l.mu.
func (l *SlidingWindow) prune(now time.Time) {
	cut := 0
	for cut < len(l.admitted) && now.Sub(l.admitted[cut]) >= l.window {
		cut++
	}
	if cut == 0 {
		return
	}
	l.admitted = append(l.admitted[:0], l.admitted[cut:]...)
}
