package updater

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/proxyfetch/internal/proxypool"
	"github.com/JakeFAU/proxyfetch/internal/scheduler"
)

// DefaultSweepInterval is the health sweep period.
const DefaultSweepInterval = 5 * time.Minute

// Sweeper re-probes the pool on a fixed interval.
type Sweeper struct {
	pool   *proxypool.Pool
	prober proxypool.Prober
	logger *zap.Logger
	loop   *scheduler.Loop
}

// NewSweeper creates a Sweeper with a stopped loop.
func NewSweeper(pool *proxypool.Pool, prober proxypool.Prober, interval time.Duration, logger *zap.Logger, opts ...scheduler.Option) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sweeper{pool: pool, prober: prober, logger: logger.Named("sweeper")}
	s.loop = scheduler.New("health-sweep", interval, func(ctx context.Context) {
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Warn("scheduled sweep incomplete", zap.Error(err))
		}
	}, logger, opts...)
	return s
}

// Sweep probes every proxy once.
func (s *Sweeper) Sweep(ctx context.Context) (proxypool.SweepResult, error) {
	return s.pool.Sweep(ctx, s.prober)
}

// ForceSweep sweeps immediately, outside the schedule.
func (s *Sweeper) ForceSweep(ctx context.Context) (proxypool.SweepResult, error) {
	s.logger.Info("sweep forced", zap.Int("proxies", s.pool.Len()))
	return s.Sweep(ctx)
}

// StartIfPopulated starts the loop only when the pool holds proxies. It
// reports whether the loop is running afterwards.
func (s *Sweeper) StartIfPopulated(ctx context.Context) bool {
	if s.pool.Len() == 0 {
		s.logger.Info("pool empty, health sweep not scheduled")
		return false
	}
	s.loop.Start(ctx)
	return s.loop.Running()
}

// Stop halts the loop.
func (s *Sweeper) Stop() {
	s.loop.Stop()
}

// Running reports whether the loop is active.
func (s *Sweeper) Running() bool {
	return s.loop.Running()
}
