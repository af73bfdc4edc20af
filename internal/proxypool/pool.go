// Package proxypool holds the known proxy endpoints, their health, and the
// round-robin cursor used to hand them out.
package proxypool

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/proxyfetch/internal/fetch"
	"github.com/JakeFAU/proxyfetch/internal/metrics"
)

const (
	// UnhealthyAfter is the failure count at which a record is deprioritized.
	UnhealthyAfter = 5
	// EvictAfter is the failure count at which a record failing a sweep is removed.
	EvictAfter = 10
)

// Record is the health state of one proxy.
type Record struct {
	Address             string    `json:"address"`
	Healthy             bool      `json:"healthy"`
	LastCheck           time.Time `json:"last_check"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}

// Stats summarizes the pool for status reporting.
type Stats struct {
	Total   int `json:"total"`
	Healthy int `json:"healthy"`
	Index   int `json:"index"`
}

// Pool owns every Record. All methods are safe for concurrent use.
type Pool struct {
	mu      sync.Mutex
	clock   fetch.Clock
	logger  *zap.Logger
	order   []string
	records map[string]*Record
	index   int
}

// New creates an empty Pool.
func New(clock fetch.Clock, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		clock:   clock,
		logger:  logger.Named("proxypool"),
		records: make(map[string]*Record),
	}
}

// Load replaces the address set with the valid entries of lines and returns how
// many were kept. Known addresses keep their health record.
func (p *Pool) Load(lines []string) int {
	addrs := ParseList(lines)

	p.mu.Lock()
	defer p.mu.Unlock()

	records := make(map[string]*Record, len(addrs))
	for _, addr := range addrs {
		if rec, ok := p.records[addr]; ok {
			records[addr] = rec
			continue
		}
		records[addr] = &Record{Address: addr, Healthy: true}
	}
	p.order = addrs
	p.records = records
	p.publishLocked()

	p.logger.Info("proxy list loaded", zap.Int("input_lines", len(lines)), zap.Int("proxies", len(addrs)))
	return len(addrs)
}

// Reset forgets all health history and rewinds the round-robin cursor.
func (p *Pool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, addr := range p.order {
		p.records[addr] = &Record{Address: addr, Healthy: true}
	}
	p.index = 0
	p.publishLocked()
}

// Next returns the next proxy in rotation. Healthy records are preferred; if
// none are healthy every record is a candidate. It returns false only when the
// pool is empty.
func (p *Pool) Next() (Record, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.order) == 0 {
		return Record{}, false
	}
	candidates := make([]string, 0, len(p.order))
	for _, addr := range p.order {
		if p.records[addr].Healthy {
			candidates = append(candidates, addr)
		}
	}
	if len(candidates) == 0 {
		candidates = p.order
	}
	addr := candidates[p.index%len(candidates)]
	p.index++
	return *p.records[addr], true
}

// MarkHealthy clears the failure count of addr.
func (p *Pool) MarkHealthy(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.records[addr]
	if !ok {
		return
	}
	wasHealthy := rec.Healthy
	rec.ConsecutiveFailures = 0
	rec.Healthy = true
	rec.LastCheck = p.clock.Now()
	if !wasHealthy {
		p.publishLocked()
	}
}

// MarkUnhealthy counts one failure against addr.
func (p *Pool) MarkUnhealthy(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.records[addr]
	if !ok {
		return
	}
	rec.ConsecutiveFailures++
	rec.LastCheck = p.clock.Now()
	if rec.Healthy && rec.ConsecutiveFailures >= UnhealthyAfter {
		rec.Healthy = false
		p.logger.Debug("proxy marked unhealthy", zap.String("proxy", addr), zap.Int("failures", rec.ConsecutiveFailures))
		p.publishLocked()
	}
}

// Addresses returns the current address list in load order.
func (p *Pool) Addresses() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// Record returns a copy of the health record for addr.
func (p *Pool) Record(addr string) (Record, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.records[addr]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Len returns the number of proxies.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.order)
}

// Stats returns pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{Total: len(p.order), Healthy: p.healthyLocked(), Index: p.index}
}

func (p *Pool) healthyLocked() int {
	n := 0
	for _, addr := range p.order {
		if p.records[addr].Healthy {
			n++
		}
	}
	return n
}

func (p *Pool) publishLocked() {
	metrics.SetPoolSize(len(p.order), p.healthyLocked())
}
