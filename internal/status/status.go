// Package status assembles the operator-facing view of the fetch engine.
package status

import (
	"fmt"
	"time"

	"github.com/JakeFAU/proxyfetch/internal/policy/breaker"
	"github.com/JakeFAU/proxyfetch/internal/proxypool"
)

// Loop states.
const (
	Running = "running"
	Stopped = "stopped"
)

// Status is a point-in-time snapshot of the shared engine state.
type Status struct {
	CircuitBreaker    string `json:"circuit_breaker"`
	FailureCount      int    `json:"failure_count"`
	ProxyCount        int    `json:"proxy_count"`
	HealthyProxyCount int    `json:"healthy_proxy_count"`
	RateLimitStatus   string `json:"rate_limit_status"`
	CurrentProxyIndex int    `json:"current_proxy_index"`
	AutoUpdateTimer   string `json:"auto_update_timer"`
	UpdateInterval    string `json:"update_interval"`
	HealthSweep       string `json:"health_sweep"`
}

// BreakerView exposes breaker state.
type BreakerView interface {
	Snapshot() breaker.Snapshot
}

// PoolView exposes pool counters.
type PoolView interface {
	Stats() proxypool.Stats
}

// LimiterView renders limiter usage as "used/max".
type LimiterView interface {
	String() string
}

// LoopView exposes a background loop.
type LoopView interface {
	Running() bool
}

// IntervalLoopView is a LoopView with a known period.
type IntervalLoopView interface {
	LoopView
	Interval() time.Duration
}

// Reporter reads every component on demand.
type Reporter struct {
	Breaker BreakerView
	Pool    PoolView
	Limiter LimiterView
	Updater IntervalLoopView
	Sweeper LoopView
}

// Current builds a Status.
func (r Reporter) Current() Status {
	snap := r.Breaker.Snapshot()
	stats := r.Pool.Stats()
	return Status{
		CircuitBreaker:    snap.State.String(),
		FailureCount:      snap.FailureCount,
		ProxyCount:        stats.Total,
		HealthyProxyCount: stats.Healthy,
		RateLimitStatus:   r.Limiter.String(),
		CurrentProxyIndex: stats.Index,
		AutoUpdateTimer:   loopState(r.Updater),
		UpdateInterval:    FormatInterval(r.Updater.Interval()),
		HealthSweep:       loopState(r.Sweeper),
	}
}

func loopState(l LoopView) string {
	if l != nil && l.Running() {
		return Running
	}
	return Stopped
}

// FormatInterval renders whole minutes as "N minutes" and anything else with
// time.Duration formatting.
func FormatInterval(d time.Duration) string {
	if d <= 0 || d%time.Minute != 0 {
		return d.String()
	}
	n := int(d / time.Minute)
	if n == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", n)
}
