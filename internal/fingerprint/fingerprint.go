// Package fingerprint builds randomized browser-like request headers so that
// successive requests do not share an identity.
package fingerprint

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/JakeFAU/proxyfetch/internal/fetch"
	"github.com/JakeFAU/proxyfetch/internal/random"
)

// ErrInvalidURL is returned when the target is not an absolute URL.
var ErrInvalidURL = errors.New("invalid url")

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:129.0) Gecko/20100101 Firefox/129.0",
}

var languages = [][2]string{
	{"en-US", "en"},
	{"ja-JP", "ja"},
	{"de-DE", "de"},
}

// UserAgents returns a copy of the identity catalog.
func UserAgents() []string {
	return append([]string(nil), userAgents...)
}

// IDGenerator yields unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Generator produces one header set per call. It holds no per-call state.
type Generator struct {
	rand  fetch.RandomSource
	ids   IDGenerator
	clock fetch.Clock
}

// New creates a Generator.
func New(rand fetch.RandomSource, ids IDGenerator, clock fetch.Clock) *Generator {
	return &Generator{rand: rand, ids: ids, clock: clock}
}

// ParseTarget parses an absolute http(s) URL.
func ParseTarget(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q is not absolute", ErrInvalidURL, raw)
	}
	return u, nil
}

// Headers returns a fresh header set for targetURL.
func (g *Generator) Headers(targetURL string) (http.Header, error) {
	u, err := ParseTarget(targetURL)
	if err != nil {
		return nil, err
	}
	origin := u.Scheme + "://" + u.Host

	ua := userAgents[random.Index(g.rand.Float64(), len(userAgents))]
	lang := languages[random.Index(g.rand.Float64(), len(languages))]
	weight := 0.1 + g.rand.Float64()*0.9

	sessionID, err := g.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("session id: %w", err)
	}
	requestID, err := g.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("request id: %w", err)
	}
	short := strings.ReplaceAll(sessionID, "-", "")
	if len(short) > 16 {
		short = short[:16]
	}

	mobile := "?0"
	if strings.Contains(ua, "Mobile") {
		mobile = "?1"
	}

	h := make(http.Header, 18)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	h.Set("Accept-Encoding", "gzip, deflate, br, zstd")
	h.Set("Accept-Language", lang[0]+","+lang[1]+";q="+formatWeight(weight))
	h.Set("Cache-Control", "no-cache")
	h.Set("Pragma", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("User-Agent", ua)
	h.Set("Sec-CH-UA", `"Not/A)Brand";v="8", "Chromium";v="138", "Google Chrome";v="138"`)
	h.Set("Sec-CH-UA-Mobile", mobile)
	h.Set("Sec-CH-UA-Platform", `"Windows"`)
	h.Set("DNT", "1")
	h.Set("Referer", origin+"/?t="+strconv.FormatInt(g.clock.Now().UnixMilli(), 10))
	h.Set("Origin", origin)
	h.Set("X-Session-ID", sessionID)
	h.Set("Client-Session", short)
	h.Set("X-Request-ID", requestID)
	return h, nil
}

// formatWeight renders w with two decimals, keeping it below 1.00.
func formatWeight(w float64) string {
	s := strconv.FormatFloat(w, 'f', 2, 64)
	if s == "1.00" {
		return "0.99"
	}
	return s
}
