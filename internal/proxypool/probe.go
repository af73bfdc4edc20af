package proxypool

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/proxyfetch/internal/fetch"
)

// Probe defaults.
const (
	DefaultProbeTarget  = "https://httpbin.org/ip"
	DefaultProbeTimeout = 60 * time.Second
)

// HTTPProber sends one GET to an IP echo endpoint through the proxy. Only a 200
// counts as healthy.
type HTTPProber struct {
	transport fetch.Transport
	target    string
	timeout   time.Duration
	logger    *zap.Logger
}

// NewHTTPProber creates an HTTPProber. Empty values take the defaults.
func NewHTTPProber(transport fetch.Transport, target string, timeout time.Duration, logger *zap.Logger) *HTTPProber {
	if target == "" {
		target = DefaultProbeTarget
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPProber{
		transport: transport,
		target:    target,
		timeout:   timeout,
		logger:    logger.Named("probe"),
	}
}

// Probe implements Prober.
func (h *HTTPProber) Probe(ctx context.Context, addr string) bool {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	resp, err := h.transport.Do(ctx, fetch.Request{Method: http.MethodGet, URL: h.target}, addr)
	if err != nil {
		h.logger.Debug("probe failed", zap.String("proxy", addr), zap.Error(err))
		return false
	}
	return resp.StatusCode == http.StatusOK
}
