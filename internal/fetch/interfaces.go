package fetch

import (
	"context"
	"time"
)

// Transport sends one request, optionally through an HTTP proxy ("ip:port").
// An empty proxy address means a direct connection. Redirects are never followed.
type Transport interface {
	Do(ctx context.Context, req Request, proxyAddr string) (Response, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Sleeper suspends the caller for d or until ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// RandomSource yields uniform fractions in [0, 1).
type RandomSource interface {
	Float64() float64
}

// SnapshotStore persists the validated proxy list between restarts.
type SnapshotStore interface {
	Exists(ctx context.Context) (bool, error)
	Load(ctx context.Context) ([]string, error)
	Save(ctx context.Context, addrs []string) error
	Remove(ctx context.Context) error
}

// Notifier receives a summary after every successful proxy list refresh.
type Notifier interface {
	NotifyRefresh(ctx context.Context, diff Diff) error
}
