// Package api exposes the HTTP interface for the proxyfetch service.
package api

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/proxyfetch/internal/config"
	"github.com/JakeFAU/proxyfetch/internal/engine"
	"github.com/JakeFAU/proxyfetch/internal/fetch"
	"github.com/JakeFAU/proxyfetch/internal/metrics"
	"github.com/JakeFAU/proxyfetch/internal/proxypool"
	"github.com/JakeFAU/proxyfetch/internal/status"
)

const controlTimeout = 60 * time.Second

// statusClientClosedRequest is the nginx convention for a caller that hung up
// before the response was ready.
const statusClientClosedRequest = 499

// Body encodings reported by /v1/fetch.
const (
	BodyEncodingText   = "text"
	BodyEncodingBase64 = "base64"
)

// Fetcher runs a fetch through the engine.
type Fetcher interface {
	Fetch(ctx context.Context, targetURL string, opts fetch.Options, maxRetries int) (fetch.Result, error)
}

// StatusReporter returns the current engine status.
type StatusReporter interface {
	Current() status.Status
}

// Refresher triggers an out-of-schedule proxy list refresh.
type Refresher interface {
	ForceRefresh(ctx context.Context) bool
	LastDiff() (fetch.Diff, time.Time)
}

// HealthSweeper triggers an out-of-schedule health sweep.
type HealthSweeper interface {
	ForceSweep(ctx context.Context) (proxypool.SweepResult, error)
}

// IDGenerator produces request identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Deps are the collaborators served over HTTP.
type Deps struct {
	Fetcher   Fetcher
	Status    StatusReporter
	Refresher Refresher
	Sweeper   HealthSweeper
	IDs       IDGenerator
}

// Server wires HTTP handlers to the fetch engine and its background jobs.
type Server struct {
	router chi.Router
	deps   Deps
	log    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{deps: deps, log: logger.Named("api")}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware(deps.IDs))
	r.Use(loggingMiddleware(s.log))
	r.Use(recoverMiddleware(s.log))
	r.Use(metrics.Middleware)
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(controlTimeout))
		r.Get("/healthz", s.healthz)
		r.Get("/readyz", s.readyz)
		r.Get("/v1/status", s.status)
	})
	r.Handle("/metrics", metrics.Handler())

	// Fetches and admin jobs can outlast any fixed budget; they run until the
	// client goes away.
	r.Route("/v1", func(r chi.Router) {
		r.Post("/fetch", s.fetch)
		r.Route("/admin/proxies", func(r chi.Router) {
			r.Post("/refresh", s.refresh)
			r.Post("/sweep", s.sweep)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	// An empty pool is still ready: fetches fall back to direct connections.
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.deps.Status.Current())
}

type fetchRequest struct {
	URL        string `json:"url"`
	Method     string `json:"method"`
	Body       string `json:"body"`
	MaxRetries int    `json:"max_retries"`
}

type fetchResponse struct {
	OK           bool        `json:"ok"`
	StatusCode   int         `json:"status_code"`
	Headers      http.Header `json:"headers"`
	Body         string      `json:"body"`
	BodyEncoding string      `json:"body_encoding"`
}

// encodeBody returns valid UTF-8 bodies as-is and base64 for anything else,
// so JSON encoding never replaces bytes.
func encodeBody(body []byte) (string, string) {
	if utf8.Valid(body) {
		return string(body), BodyEncodingText
	}
	return base64.StdEncoding.EncodeToString(body), BodyEncodingBase64
}

func (s *Server) fetch(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.MaxRetries < 0 {
		s.writeError(w, http.StatusBadRequest, "max_retries must be >= 0")
		return
	}

	result, err := s.deps.Fetcher.Fetch(r.Context(), req.URL, fetch.Options{Method: req.Method, Body: req.Body}, req.MaxRetries)
	if err != nil {
		s.writeFetchError(w, err)
		return
	}
	body, encoding := encodeBody(result.Body)
	s.writeJSON(w, http.StatusOK, fetchResponse{
		OK:           result.OK,
		StatusCode:   result.StatusCode,
		Headers:      result.Headers,
		Body:         body,
		BodyEncoding: encoding,
	})
}

func (s *Server) writeFetchError(w http.ResponseWriter, err error) {
	var limited *engine.RateLimitedError
	switch {
	case errors.Is(err, engine.ErrInvalidURL):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrCircuitOpen):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &limited):
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(limited.Wait)))
		s.writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, engine.ErrRateLimited):
		s.writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, engine.ErrRetriesExhausted):
		s.writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		s.writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, context.Canceled):
		s.log.Debug("fetch abandoned by client", zap.Error(err))
		s.writeError(w, statusClientClosedRequest, err.Error())
	default:
		s.log.Error("fetch failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

type refreshResponse struct {
	Refreshed   bool       `json:"refreshed"`
	Diff        fetch.Diff `json:"diff"`
	RefreshedAt *time.Time `json:"refreshed_at,omitempty"`
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	ok := s.deps.Refresher.ForceRefresh(r.Context())
	resp := refreshResponse{Refreshed: ok}
	if diff, at := s.deps.Refresher.LastDiff(); !at.IsZero() {
		resp.Diff = diff
		resp.RefreshedAt = &at
	}
	code := http.StatusOK
	if !ok {
		code = http.StatusBadGateway
	}
	s.writeJSON(w, code, resp)
}

func (s *Server) sweep(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Sweeper.ForceSweep(r.Context())
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func requestIDMiddleware(ids IDGenerator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" && ids != nil {
				if id, err := ids.NewID(); err == nil {
					reqID = id
				}
			}
			ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
			w.Header().Set("X-Request-ID", reqID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestID returns the identifier assigned to the request carried by ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", RequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeJSON(logger, w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeJSON(nil, w, http.StatusForbidden, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	writeJSON(s.log, w, status, payload)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(s.log, w, status, map[string]string{"error": msg})
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil && logger != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}
