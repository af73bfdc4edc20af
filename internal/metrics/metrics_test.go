package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	require.NotNil(t, fetchAttemptsTotal)
	require.NotNil(t, breakerState)
	require.NotNil(t, poolProxies)
	require.NotNil(t, httpRequestsTotal)
}

func TestObserveHelpers(t *testing.T) {
	SetBreakerState(BreakerOpen)
	require.InDelta(t, 2, testutil.ToFloat64(breakerState), 0)

	SetPoolSize(12, 7)
	require.InDelta(t, 12, testutil.ToFloat64(poolProxies.WithLabelValues("all")), 0)
	require.InDelta(t, 7, testutil.ToFloat64(poolProxies.WithLabelValues("healthy")), 0)

	before := testutil.ToFloat64(probesTotal.WithLabelValues("healthy"))
	ObserveProbe(true)
	require.InDelta(t, before+1, testutil.ToFloat64(probesTotal.WithLabelValues("healthy")), 0)

	ObserveFetchResult("https://Target.example/x", "ok")
	require.InDelta(t, 1, testutil.ToFloat64(fetchResultsTotal.WithLabelValues("target.example", "ok")), 0)

	ObserveFetchAttempt("blocked", 250*time.Millisecond)
	require.InDelta(t, 1, testutil.ToFloat64(fetchAttemptsTotal.WithLabelValues("blocked")), 0)

	ObserveRefresh("success")
	require.InDelta(t, 1, testutil.ToFloat64(refreshesTotal.WithLabelValues("success")), 0)

	ObserveRateLimitDelay(time.Second)
	require.Positive(t, testutil.CollectAndCount(rateLimitDelaysSeconds))
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
