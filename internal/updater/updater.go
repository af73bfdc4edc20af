// Package updater keeps the proxy pool in step with the remote proxy list and
// runs the periodic health sweep.
package updater

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/proxyfetch/internal/fetch"
	"github.com/JakeFAU/proxyfetch/internal/hash/sha256"
	"github.com/JakeFAU/proxyfetch/internal/metrics"
	"github.com/JakeFAU/proxyfetch/internal/proxypool"
	"github.com/JakeFAU/proxyfetch/internal/scheduler"
)

// Defaults for Config.
const (
	DefaultSourceURL = "https://raw.githubusercontent.com/vmheaven/VMHeaven-Free-Proxy-Updated/refs/heads/main/https.txt"
	DefaultInterval  = 10 * time.Minute
)

// Config controls the refresh loop.
type Config struct {
	SourceURL string
	Interval  time.Duration
	// PurgeSnapshotOnStart deletes any stored snapshot before Bootstrap checks
	// for one, forcing a remote refresh on every start.
	PurgeSnapshotOnStart bool
}

// Deps are the collaborators of an Updater.
type Deps struct {
	Pool      *proxypool.Pool
	Prober    proxypool.Prober
	Transport fetch.Transport
	Store     fetch.SnapshotStore
	Notifier  fetch.Notifier
	// Hasher digests the refreshed list. Nil uses SHA-256.
	Hasher    Hasher
	Logger    *zap.Logger
}

// Hasher digests an address list.
type Hasher interface {
	HashList(addrs []string) (string, error)
}

// Updater refreshes the pool from the remote list.
type Updater struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
	loop   *scheduler.Loop

	refreshMu sync.Mutex
	lastDiff  fetch.Diff
	lastAt    time.Time
}

// New creates an Updater with a stopped refresh loop.
func New(cfg Config, deps Deps, opts ...scheduler.Option) *Updater {
	if cfg.SourceURL == "" {
		cfg.SourceURL = DefaultSourceURL
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if deps.Hasher == nil {
		deps.Hasher = sha256.New()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	u := &Updater{cfg: cfg, deps: deps, logger: logger.Named("updater")}

	var runs int
	u.loop = scheduler.New("proxy-refresh", cfg.Interval, func(ctx context.Context) {
		runs++
		u.logger.Info("scheduled refresh triggered", zap.Int("run", runs))
		if u.Refresh(ctx) {
			u.logger.Info("scheduled refresh completed", zap.Int("run", runs))
		} else {
			u.logger.Warn("scheduled refresh failed", zap.Int("run", runs))
		}
	}, logger, opts...)
	return u
}

// Refresh downloads the remote list and, if it holds at least one valid
// address, persists it, reloads the pool, resets health history and runs one
// sweep. It reports whether the pool was replaced. Failures are logged.
func (u *Updater) Refresh(ctx context.Context) bool {
	u.refreshMu.Lock()
	defer u.refreshMu.Unlock()

	log := u.logger.With(zap.String("source", u.cfg.SourceURL))
	log.Info("fetching proxy list")

	resp, err := u.deps.Transport.Do(ctx, fetch.Request{Method: http.MethodGet, URL: u.cfg.SourceURL}, "")
	if err != nil {
		log.Error("failed to download proxy list", zap.Error(err))
		metrics.ObserveRefresh("download_error")
		return false
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Error("proxy list download rejected", zap.Int("status", resp.StatusCode))
		metrics.ObserveRefresh("download_error")
		return false
	}

	addrs := proxypool.ParseText(string(resp.Body))
	log.Info("proxy list parsed", zap.Int("bytes", len(resp.Body)), zap.Int("valid", len(addrs)))
	if len(addrs) == 0 {
		log.Warn("no valid proxies found in downloaded list")
		metrics.ObserveRefresh("empty")
		return false
	}

	before := u.deps.Pool.Addresses()
	if err := u.deps.Store.Save(ctx, addrs); err != nil {
		log.Error("failed to persist proxy snapshot", zap.Error(err))
	}

	u.deps.Pool.Load(addrs)
	u.deps.Pool.Reset()
	if _, err := u.deps.Pool.Sweep(ctx, u.deps.Prober); err != nil {
		log.Warn("post-refresh sweep incomplete", zap.Error(err))
	}

	after := u.deps.Pool.Addresses()
	diff := fetch.ComputeDiff(before, after)
	if sum, err := u.deps.Hasher.HashList(after); err == nil {
		diff.Checksum = sum
	} else {
		log.Warn("failed to digest proxy list", zap.Error(err))
	}
	u.lastDiff, u.lastAt = diff, time.Now()
	// The notifier reports the diff; this line only adds the source for tracing.
	log.Debug("proxy list updated",
		zap.Int("before", diff.Before),
		zap.Int("after", diff.After),
		zap.Int("added", diff.Added),
		zap.Int("removed", diff.Removed),
		zap.Int("retained", diff.Retained),
		zap.String("checksum", diff.Checksum),
	)
	if u.deps.Notifier != nil {
		if err := u.deps.Notifier.NotifyRefresh(ctx, diff); err != nil {
			log.Warn("refresh notification failed", zap.Error(err))
		}
	}
	metrics.ObserveRefresh("success")
	return true
}

// ForceRefresh refreshes immediately, outside the schedule.
func (u *Updater) ForceRefresh(ctx context.Context) bool {
	u.logger.Info("refresh forced")
	return u.Refresh(ctx)
}

// LastDiff returns the diff of the most recent successful refresh and when it
// happened. The time is zero before the first success.
func (u *Updater) LastDiff() (fetch.Diff, time.Time) {
	u.refreshMu.Lock()
	defer u.refreshMu.Unlock()
	return u.lastDiff, u.lastAt
}

// Bootstrap prepares the pool at startup. It purges the snapshot when
// configured to, refreshes from the remote list when no snapshot exists, and
// otherwise loads the stored snapshot.
func (u *Updater) Bootstrap(ctx context.Context) error {
	if u.cfg.PurgeSnapshotOnStart {
		if err := u.deps.Store.Remove(ctx); err != nil {
			return fmt.Errorf("purge snapshot: %w", err)
		}
		u.logger.Info("proxy snapshot purged")
	}

	exists, err := u.deps.Store.Exists(ctx)
	if err != nil {
		return fmt.Errorf("check snapshot: %w", err)
	}
	if !exists {
		u.logger.Info("no proxy snapshot, fetching remote list")
		if !u.Refresh(ctx) {
			u.logger.Warn("initial refresh failed, starting with an empty pool")
		}
		return nil
	}

	addrs, err := u.deps.Store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	n := u.deps.Pool.Load(addrs)
	u.logger.Info("proxy snapshot loaded", zap.Int("proxies", n))
	return nil
}

// Start launches the periodic refresh loop.
func (u *Updater) Start(ctx context.Context) bool {
	return u.loop.Start(ctx)
}

// Stop halts the refresh loop.
func (u *Updater) Stop() {
	u.loop.Stop()
}

// Running reports whether the refresh loop is active.
func (u *Updater) Running() bool {
	return u.loop.Running()
}

// Interval returns the refresh period.
func (u *Updater) Interval() time.Duration {
	return u.cfg.Interval
}
