package proxypool

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/proxyfetch/internal/metrics"
)

// SweepBatchSize bounds the number of concurrent probes in a sweep.
const SweepBatchSize = 50

// Prober checks whether a proxy can reach the echo endpoint.
type Prober interface {
	Probe(ctx context.Context, addr string) bool
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, addr string) bool

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context, addr string) bool {
	return f(ctx, addr)
}

// SweepResult summarizes one health sweep.
type SweepResult struct {
	Checked int `json:"checked"`
	Healthy int `json:"healthy"`
	Evicted int `json:"evicted"`
}

// Sweep probes every proxy in batches of SweepBatchSize and then evicts the
// records that failed this sweep with at least EvictAfter consecutive failures.
// A cancelled context stops the sweep between batches without evicting.
func (p *Pool) Sweep(ctx context.Context, prober Prober) (SweepResult, error) {
	addrs := p.Addresses()
	passed := make([]bool, len(addrs))

	var res SweepResult
	for start := 0; start < len(addrs); start += SweepBatchSize {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("sweep interrupted: %w", err)
		}
		end := min(start+SweepBatchSize, len(addrs))

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				ok := prober.Probe(ctx, addrs[i])
				metrics.ObserveProbe(ok)
				if ok {
					p.MarkHealthy(addrs[i])
				} else {
					p.MarkUnhealthy(addrs[i])
				}
				passed[i] = ok
				return nil
			})
		}
		_ = g.Wait()
		res.Checked += end - start
	}

	for _, ok := range passed {
		if ok {
			res.Healthy++
		}
	}

	pass := make(map[string]bool, len(addrs))
	for i, addr := range addrs {
		pass[addr] = passed[i]
	}
	res.Evicted = p.evict(pass)

	p.logger.Info("health sweep finished",
		zap.Int("checked", res.Checked),
		zap.Int("healthy", res.Healthy),
		zap.Int("evicted", res.Evicted),
	)
	return res, nil
}

// evict removes records with EvictAfter or more failures that did not pass.
// Addresses added after the sweep began are left alone.
func (p *Pool) evict(passed map[string]bool) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	kept := p.order[:0:0]
	evicted := 0
	for _, addr := range p.order {
		ok, swept := passed[addr]
		if swept && !ok && p.records[addr].ConsecutiveFailures >= EvictAfter {
			delete(p.records, addr)
			evicted++
			p.logger.Debug("proxy evicted", zap.String("proxy", addr))
			continue
		}
		kept = append(kept, addr)
	}
	p.order = kept
	p.publishLocked()
	return evicted
}
