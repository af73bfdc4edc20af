// Package engine coordinates one outbound fetch: admission by the breaker and
// rate limiter, proxy selection, per-attempt fingerprints, response
// classification and retry with backoff.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/proxyfetch/internal/fetch"
	"github.com/JakeFAU/proxyfetch/internal/fingerprint"
	"github.com/JakeFAU/proxyfetch/internal/metrics"
	"github.com/JakeFAU/proxyfetch/internal/proxypool"
)

// DefaultMaxRetries is the attempt budget used when a caller passes zero.
const DefaultMaxRetries = 6

// Breaker is the failure-isolation gate.
type Breaker interface {
	CanExecute() bool
	OnSuccess()
	OnFailure()
}

// Limiter is the outbound admission budget.
type Limiter interface {
	WaitTime() time.Duration
	Admit() bool
}

// ProxySource supplies proxies and absorbs their outcomes.
type ProxySource interface {
	Next() (proxypool.Record, bool)
	MarkHealthy(addr string)
	MarkUnhealthy(addr string)
}

// HeaderSource builds the identity headers of one attempt.
type HeaderSource interface {
	Headers(targetURL string) (http.Header, error)
}

// Config holds the retry policy.
type Config struct {
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// JitterMax bounds the random delay added to every wait. Zero disables it.
	JitterMax time.Duration
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Breaker   Breaker
	Limiter   Limiter
	Pool      ProxySource
	Headers   HeaderSource
	Transport fetch.Transport
	Sleeper   fetch.Sleeper
	Random    fetch.RandomSource
	Logger    *zap.Logger
}

// Engine runs fetches. It keeps no state of its own.
type Engine struct {
	cfg  Config
	deps Deps
	log  *zap.Logger
}

// New creates an Engine, filling zero config values with defaults.
func New(cfg Config, deps Deps) *Engine {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}
	if cfg.JitterMax < 0 {
		cfg.JitterMax = 0
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{cfg: cfg, deps: deps, log: logger.Named("engine")}
}

// Fetch retrieves targetURL. maxRetries <= 0 selects the configured default.
// It returns a Result on the first attempt that is not an anti-bot block, or
// one of the package errors.
func (e *Engine) Fetch(ctx context.Context, targetURL string, opts fetch.Options, maxRetries int) (fetch.Result, error) {
	if maxRetries <= 0 {
		maxRetries = e.cfg.MaxRetries
	}

	if _, err := fingerprint.ParseTarget(targetURL); err != nil {
		metrics.ObserveFetchResult(targetURL, "invalid_url")
		return fetch.Result{}, err
	}
	if !e.deps.Breaker.CanExecute() {
		metrics.ObserveFetchResult(targetURL, "circuit_open")
		return fetch.Result{}, ErrCircuitOpen
	}

	if wait := e.deps.Limiter.WaitTime(); wait > 0 {
		total := wait + e.jitter()
		e.log.Warn("rate limit reached, waiting", zap.Duration("wait", wait), zap.Duration("total", total))
		metrics.ObserveRateLimitDelay(total)
		if err := e.deps.Sleeper.Sleep(ctx, total); err != nil {
			return fetch.Result{}, fmt.Errorf("rate limit wait: %w", err)
		}
	}
	if !e.deps.Limiter.Admit() {
		metrics.ObserveFetchResult(targetURL, "rate_limited")
		return fetch.Result{}, &RateLimitedError{Wait: e.deps.Limiter.WaitTime()}
	}

	var proxyAddr string
	if rec, ok := e.deps.Pool.Next(); ok {
		proxyAddr = rec.Address
	}

	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	var body []byte
	if opts.Body != "" {
		body = []byte(opts.Body)
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		result, err := e.attempt(ctx, targetURL, method, body, proxyAddr)
		if err == nil {
			e.deps.Breaker.OnSuccess()
			if proxyAddr != "" {
				e.deps.Pool.MarkHealthy(proxyAddr)
			}
			metrics.ObserveFetchResult(targetURL, "ok")
			return result, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fetch.Result{}, fmt.Errorf("fetch cancelled: %w", ctxErr)
		}

		lastErr = err
		e.deps.Breaker.OnFailure()
		if proxyAddr != "" {
			e.deps.Pool.MarkUnhealthy(proxyAddr)
		}
		e.log.Warn("request failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxRetries),
			zap.String("proxy", proxyAddr),
			zap.Error(err),
		)
		if attempt == maxRetries {
			break
		}
		if err := e.deps.Sleeper.Sleep(ctx, e.backoff(attempt)+e.jitter()); err != nil {
			return fetch.Result{}, fmt.Errorf("retry backoff: %w", err)
		}
	}

	metrics.ObserveFetchResult(targetURL, "retries_exhausted")
	return fetch.Result{}, &RetriesExhaustedError{Attempts: maxRetries, Cause: lastErr}
}

func (e *Engine) attempt(ctx context.Context, targetURL, method string, body []byte, proxyAddr string) (fetch.Result, error) {
	headers, err := e.deps.Headers.Headers(targetURL)
	if err != nil {
		return fetch.Result{}, fmt.Errorf("build headers: %w", err)
	}

	resp, err := e.deps.Transport.Do(ctx, fetch.Request{
		Method: method,
		URL:    targetURL,
		Header: headers,
		Body:   body,
	}, proxyAddr)
	if err != nil {
		metrics.ObserveFetchAttempt("network", resp.Duration)
		return fetch.Result{}, fmt.Errorf("%w: %w", ErrNetworkFailure, err)
	}
	if err := classify(resp); err != nil {
		metrics.ObserveFetchAttempt("blocked", resp.Duration)
		return fetch.Result{}, err
	}
	metrics.ObserveFetchAttempt("success", resp.Duration)

	return fetch.Result{
		Body:       resp.Body,
		Headers:    resp.Header,
		StatusCode: resp.StatusCode,
		OK:         resp.StatusCode >= 200 && resp.StatusCode < 300,
	}, nil
}

// backoff is min(BaseBackoff * 2^attempt, MaxBackoff).
func (e *Engine) backoff(attempt int) time.Duration {
	d := e.cfg.BaseBackoff
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= e.cfg.MaxBackoff {
			return e.cfg.MaxBackoff
		}
	}
	return d
}

func (e *Engine) jitter() time.Duration {
	if e.cfg.JitterMax == 0 {
		return 0
	}
	return time.Duration(e.deps.Random.Float64() * float64(e.cfg.JitterMax))
}

// IsRetryable reports whether err is a per-attempt failure the engine retries.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrAntiBotChallenge) || errors.Is(err, ErrNetworkFailure)
}
