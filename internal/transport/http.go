// Package transport sends single HTTP requests, directly or through an HTTP
// proxy, without following redirects.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/proxyfetch/internal/fetch"
)

// Config controls connection handling.
type Config struct {
	// RequestTimeout bounds a whole exchange. Zero means no client timeout.
	RequestTimeout time.Duration
	// MaxBodyBytes bounds both the raw and the decoded body. Zero means 32 MiB.
	MaxBodyBytes int64
	// CacheSize is the number of per-proxy transports kept warm.
	CacheSize int
}

// ErrBodyTooLarge is returned when a body exceeds MaxBodyBytes.
var ErrBodyTooLarge = errors.New("response body too large")

// HTTP implements fetch.Transport on net/http. One *http.Transport is kept per
// proxy address in an LRU; evicted transports drop their idle connections.
type HTTP struct {
	cfg        Config
	direct     *http.Transport
	transports *lru.Cache[string, *http.Transport]
	logger     *zap.Logger
}

// New creates an HTTP transport.
func New(cfg Config, logger *zap.Logger) (*HTTP, error) {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 32 << 20
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cache, err := lru.NewWithEvict(cfg.CacheSize, func(_ string, t *http.Transport) {
		t.CloseIdleConnections()
	})
	if err != nil {
		return nil, fmt.Errorf("transport cache: %w", err)
	}
	return &HTTP{
		cfg:        cfg,
		direct:     newHTTPTransport(nil),
		transports: cache,
		logger:     logger.Named("transport"),
	}, nil
}

func newHTTPTransport(proxy *url.URL) *http.Transport {
	t := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
		DisableCompression:    true,
	}
	if proxy != nil {
		t.Proxy = http.ProxyURL(proxy)
	}
	return t
}

func (h *HTTP) transportFor(proxyAddr string) *http.Transport {
	if proxyAddr == "" {
		return h.direct
	}
	if t, ok := h.transports.Get(proxyAddr); ok {
		return t
	}
	t := newHTTPTransport(&url.URL{Scheme: "http", Host: proxyAddr})
	if prev, ok, _ := h.transports.PeekOrAdd(proxyAddr, t); ok {
		return prev
	}
	return t
}

// Do implements fetch.Transport.
func (h *HTTP) Do(ctx context.Context, req fetch.Request, proxyAddr string) (fetch.Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return fetch.Response{}, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range req.Header {
		httpReq.Header[k] = append([]string(nil), vs...)
	}

	client := &http.Client{
		Transport: h.transportFor(proxyAddr),
		Timeout:   h.cfg.RequestTimeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	start := time.Now()
	resp, err := client.Do(httpReq)
	if err != nil {
		return fetch.Response{}, fmt.Errorf("send via %q: %w", displayProxy(proxyAddr), err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			h.logger.Debug("close response body", zap.Error(cerr))
		}
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, h.cfg.MaxBodyBytes+1))
	if err != nil {
		return fetch.Response{}, fmt.Errorf("read body: %w", err)
	}
	if int64(len(raw)) > h.cfg.MaxBodyBytes {
		return fetch.Response{}, fmt.Errorf("%w: limit %d bytes", ErrBodyTooLarge, h.cfg.MaxBodyBytes)
	}

	header := resp.Header.Clone()
	decoded, applied, err := Decode(raw, header.Values("Content-Encoding"), h.cfg.MaxBodyBytes)
	switch {
	case errors.Is(err, ErrBodyTooLarge):
		return fetch.Response{}, err
	case err != nil:
		h.logger.Debug("body left encoded", zap.String("url", req.URL), zap.Error(err))
		decoded = raw
	case applied:
		header.Del("Content-Encoding")
		header.Del("Content-Length")
	}

	return fetch.Response{
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       decoded,
		Duration:   time.Since(start),
	}, nil
}

// Close drops idle connections on every cached transport.
func (h *HTTP) Close() {
	h.transports.Purge()
	h.direct.CloseIdleConnections()
}

// Cached reports how many proxy transports are held.
func (h *HTTP) Cached() int {
	return h.transports.Len()
}

func displayProxy(addr string) string {
	if addr == "" {
		return "direct"
	}
	return addr
}
