package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/proxyfetch/internal/config"
	"github.com/JakeFAU/proxyfetch/internal/engine"
	"github.com/JakeFAU/proxyfetch/internal/fetch"
	"github.com/JakeFAU/proxyfetch/internal/proxypool"
	"github.com/JakeFAU/proxyfetch/internal/status"
)

func TestServer_Fetch_Succeeds(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{result: fetch.Result{
		Body:       []byte("hello"),
		Headers:    http.Header{"Content-Type": {"text/plain"}},
		StatusCode: http.StatusOK,
		OK:         true,
	}}
	server := newTestServer(fetcher)

	reqBody := []byte(`{"url":"https://example.com/a","method":"POST","body":"x=1","max_retries":3}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/fetch", bytes.NewReader(reqBody))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp fetchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.OK)
	require.Equal(t, "hello", resp.Body)
	require.Equal(t, BodyEncodingText, resp.BodyEncoding)
	require.Equal(t, "text/plain", resp.Headers.Get("Content-Type"))

	call := fetcher.lastCall()
	require.Equal(t, "https://example.com/a", call.url)
	require.Equal(t, fetch.Options{Method: "POST", Body: "x=1"}, call.opts)
	require.Equal(t, 3, call.maxRetries)
}

func TestServer_Fetch_BinaryBodyIsBase64(t *testing.T) {
	t.Parallel()

	raw := []byte{0x1f, 0x8b, 0xff, 0x00, 'h', 'i'}
	server := newTestServer(&fakeFetcher{result: fetch.Result{Body: raw, StatusCode: http.StatusOK, OK: true}})

	req := httptest.NewRequest(http.MethodPost, "/v1/fetch", bytes.NewBufferString(`{"url":"https://example.com/bin"}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp fetchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, BodyEncodingBase64, resp.BodyEncoding)
	decoded, err := base64.StdEncoding.DecodeString(resp.Body)
	require.NoError(t, err)
	require.Equal(t, raw, decoded)
}

func TestServer_Fetch_CancelledNotLoggedAsError(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	server := NewServer(Deps{
		Fetcher:   &fakeFetcher{err: fmt.Errorf("fetch cancelled: %w", context.Canceled)},
		Status:    fakeStatus{},
		Refresher: &fakeRefresher{},
		Sweeper:   &fakeSweeper{},
	}, config.Config{}, zap.New(core))

	req := httptest.NewRequest(http.MethodPost, "/v1/fetch", bytes.NewBufferString(`{"url":"https://example.com"}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, statusClientClosedRequest, rec.Code)
	require.Zero(t, logs.FilterLevelExact(zap.ErrorLevel).Len())
}

func TestServer_Fetch_InvalidJSON(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeFetcher{})
	req := httptest.NewRequest(http.MethodPost, "/v1/fetch", bytes.NewBufferString("{invalid"))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Fetch_NegativeRetries(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeFetcher{})
	req := httptest.NewRequest(http.MethodPost, "/v1/fetch", bytes.NewBufferString(`{"url":"https://a","max_retries":-1}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Fetch_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		code int
	}{
		{"invalid url", engine.ErrInvalidURL, http.StatusBadRequest},
		{"circuit open", engine.ErrCircuitOpen, http.StatusServiceUnavailable},
		{"rate limited", &engine.RateLimitedError{Wait: 1500 * time.Millisecond}, http.StatusTooManyRequests},
		{"retries exhausted", &engine.RetriesExhaustedError{Attempts: 6, Cause: engine.ErrAntiBotChallenge}, http.StatusBadGateway},
		{"deadline", fmt.Errorf("fetch cancelled: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"client gone", fmt.Errorf("fetch cancelled: %w", context.Canceled), statusClientClosedRequest},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			server := newTestServer(&fakeFetcher{err: tt.err})
			req := httptest.NewRequest(http.MethodPost, "/v1/fetch", bytes.NewBufferString(`{"url":"https://example.com"}`))
			rec := httptest.NewRecorder()
			server.Handler().ServeHTTP(rec, req)

			require.Equal(t, tt.code, rec.Code)
			require.Contains(t, rec.Body.String(), "error")
		})
	}
}

func TestServer_Fetch_RetryAfterHeader(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeFetcher{err: &engine.RateLimitedError{Wait: 1500 * time.Millisecond}})
	req := httptest.NewRequest(http.MethodPost, "/v1/fetch", bytes.NewBufferString(`{"url":"https://example.com"}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, "2", rec.Header().Get("Retry-After"))
}

func TestServer_Status(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeFetcher{})
	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got status.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "CLOSED", got.CircuitBreaker)
	require.Equal(t, "12/6000", got.RateLimitStatus)
	require.Equal(t, 3, got.ProxyCount)
}

func TestServer_Refresh(t *testing.T) {
	t.Parallel()

	refresher := &fakeRefresher{ok: true, diff: fetch.Diff{Before: 1, After: 2, Added: 1, Retained: 1}, at: time.Unix(100, 0)}
	server := NewServer(Deps{Fetcher: &fakeFetcher{}, Status: fakeStatus{}, Refresher: refresher, Sweeper: &fakeSweeper{}}, config.Config{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/proxies/refresh", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp refreshResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Refreshed)
	require.Equal(t, 1, resp.Diff.Added)
	require.Equal(t, 1, refresher.calls)
}

func TestServer_RefreshFailure(t *testing.T) {
	t.Parallel()

	server := NewServer(Deps{Fetcher: &fakeFetcher{}, Status: fakeStatus{}, Refresher: &fakeRefresher{}, Sweeper: &fakeSweeper{}}, config.Config{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/proxies/refresh", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.NotContains(t, rec.Body.String(), "refreshed_at")
}

func TestServer_Sweep(t *testing.T) {
	t.Parallel()

	sweeper := &fakeSweeper{result: proxypool.SweepResult{Checked: 4, Healthy: 3, Evicted: 1}}
	server := NewServer(Deps{Fetcher: &fakeFetcher{}, Status: fakeStatus{}, Refresher: &fakeRefresher{}, Sweeper: sweeper}, config.Config{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/proxies/sweep", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got proxypool.SweepResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, sweeper.result, got)
}

func TestServer_SweepError(t *testing.T) {
	t.Parallel()

	sweeper := &fakeSweeper{err: context.Canceled}
	server := NewServer(Deps{Fetcher: &fakeFetcher{}, Status: fakeStatus{}, Refresher: &fakeRefresher{}, Sweeper: sweeper}, config.Config{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/proxies/sweep", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_HealthAndMetrics(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeFetcher{})
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}}
	server := NewServer(Deps{Fetcher: &fakeFetcher{}, Status: fakeStatus{}}, cfg, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/healthz?api_key=secret", nil)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	newTestServer(&fakeFetcher{}).Handler().ServeHTTP(rec, req)

	require.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))
}

func TestRequestIDMiddlewareKeepsInboundID(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "upstream")
	newTestServer(&fakeFetcher{}).Handler().ServeHTTP(rec, req)

	require.Equal(t, "upstream", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	t.Parallel()

	require.Equal(t, 1, retryAfterSeconds(0))
	require.Equal(t, 1, retryAfterSeconds(200*time.Millisecond))
	require.Equal(t, 60, retryAfterSeconds(time.Minute))
}

// --- helpers/fakes ---

type fetchCall struct {
	url        string
	opts       fetch.Options
	maxRetries int
}

type fakeFetcher struct {
	mu     sync.Mutex
	result fetch.Result
	err    error
	calls  []fetchCall
}

func (f *fakeFetcher) Fetch(_ context.Context, targetURL string, opts fetch.Options, maxRetries int) (fetch.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fetchCall{url: targetURL, opts: opts, maxRetries: maxRetries})
	return f.result, f.err
}

func (f *fakeFetcher) lastCall() fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

type fakeStatus struct{}

func (fakeStatus) Current() status.Status {
	return status.Status{
		CircuitBreaker:  "CLOSED",
		ProxyCount:      3,
		RateLimitStatus: "12/6000",
		AutoUpdateTimer: status.Running,
		UpdateInterval:  "10 minutes",
	}
}

type fakeRefresher struct {
	ok    bool
	diff  fetch.Diff
	at    time.Time
	calls int
}

func (f *fakeRefresher) ForceRefresh(context.Context) bool {
	f.calls++
	return f.ok
}

func (f *fakeRefresher) LastDiff() (fetch.Diff, time.Time) {
	return f.diff, f.at
}

type fakeSweeper struct {
	result proxypool.SweepResult
	err    error
}

func (f *fakeSweeper) ForceSweep(context.Context) (proxypool.SweepResult, error) {
	return f.result, f.err
}

type fakeIDGen struct {
	mu sync.Mutex
	n  int
}

func (f *fakeIDGen) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return fmt.Sprintf("req-%d", f.n), nil
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}

func newTestServer(fetcher Fetcher) *Server {
	return NewServer(Deps{
		Fetcher:   fetcher,
		Status:    fakeStatus{},
		Refresher: &fakeRefresher{},
		Sweeper:   &fakeSweeper{},
		IDs:       &fakeIDGen{},
	}, config.Config{}, zap.NewNop())
}
