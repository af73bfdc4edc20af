package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"

	"github.com/JakeFAU/proxyfetch/internal/api"
	"github.com/JakeFAU/proxyfetch/internal/clock/system"
	"github.com/JakeFAU/proxyfetch/internal/config"
	"github.com/JakeFAU/proxyfetch/internal/engine"
	"github.com/JakeFAU/proxyfetch/internal/fetch"
	"github.com/JakeFAU/proxyfetch/internal/fingerprint"
	"github.com/JakeFAU/proxyfetch/internal/id/uuid"
	"github.com/JakeFAU/proxyfetch/internal/logging"
	"github.com/JakeFAU/proxyfetch/internal/notify"
	pubsubnotify "github.com/JakeFAU/proxyfetch/internal/notify/pubsub"
	"github.com/JakeFAU/proxyfetch/internal/policy/breaker"
	"github.com/JakeFAU/proxyfetch/internal/policy/ratelimit"
	"github.com/JakeFAU/proxyfetch/internal/proxypool"
	"github.com/JakeFAU/proxyfetch/internal/random"
	filesnapshot "github.com/JakeFAU/proxyfetch/internal/snapshot/file"
	gcssnapshot "github.com/JakeFAU/proxyfetch/internal/snapshot/gcs"
	pgsnapshot "github.com/JakeFAU/proxyfetch/internal/snapshot/postgres"
	"github.com/JakeFAU/proxyfetch/internal/status"
	"github.com/JakeFAU/proxyfetch/internal/transport"
	"github.com/JakeFAU/proxyfetch/internal/updater"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, stop, cfg, logger); err != nil {
		logger.Error("proxyfetch exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, stop context.CancelFunc, cfg config.Config, logger *zap.Logger) error {
	clock := system.New()
	rng := random.NewSecure()
	idGen := uuid.New()

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequests: cfg.RateLimit.MaxRequests,
		Window:      cfg.RateLimit.Window(),
	}, clock)
	circuit := breaker.New(breaker.Config{
		Threshold:    cfg.Breaker.Threshold,
		ResetTimeout: cfg.Breaker.ResetTimeout(),
	}, clock, logger)
	pool := proxypool.New(clock, logger)

	fetchTransport, err := transport.New(transport.Config{
		RequestTimeout: cfg.Fetch.RequestTimeout(),
		MaxBodyBytes:   cfg.Fetch.MaxBodyBytes,
		CacheSize:      cfg.Fetch.TransportCacheSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("build fetch transport: %w", err)
	}
	defer fetchTransport.Close()

	// Probes touch every proxy in the list; keeping their connections apart
	// stops a sweep from flushing the fetch path's warm transports.
	probeTransport, err := transport.New(transport.Config{
		MaxBodyBytes: 1 << 20,
		CacheSize:    proxypool.SweepBatchSize,
	}, logger.Named("probe"))
	if err != nil {
		return fmt.Errorf("build probe transport: %w", err)
	}
	defer probeTransport.Close()
	prober := proxypool.NewHTTPProber(probeTransport, cfg.Probe.Target, cfg.Probe.Timeout(), logger)

	fetchEngine := engine.New(engine.Config{
		MaxRetries:  cfg.Fetch.MaxRetries,
		BaseBackoff: cfg.Fetch.BackoffInitial(),
		MaxBackoff:  cfg.Fetch.BackoffMax(),
		JitterMax:   cfg.Fetch.JitterMax(),
	}, engine.Deps{
		Breaker:   circuit,
		Limiter:   limiter,
		Pool:      pool,
		Headers:   fingerprint.New(rng, idGen, clock),
		Transport: fetchTransport,
		Sleeper:   clock,
		Random:    rng,
		Logger:    logger,
	})

	store, closeStore, err := buildSnapshotStore(ctx, cfg.Snapshot)
	if err != nil {
		return err
	}
	defer closeStore()

	notifier, closeNotifier, err := buildNotifier(ctx, cfg.Notify, logger)
	if err != nil {
		return err
	}
	defer closeNotifier()

	refresher := updater.New(updater.Config{
		SourceURL:            cfg.Updater.SourceURL,
		Interval:             cfg.Updater.Interval(),
		PurgeSnapshotOnStart: cfg.Updater.PurgeSnapshotOnStart,
	}, updater.Deps{
		Pool:      pool,
		Prober:    prober,
		Transport: fetchTransport,
		Store:     store,
		Notifier:  notifier,
		Logger:    logger,
	})
	sweeper := updater.NewSweeper(pool, prober, cfg.Probe.SweepInterval(), logger)

	if err := refresher.Bootstrap(ctx); err != nil {
		logger.Warn("bootstrap incomplete, continuing with current pool", zap.Error(err))
	}
	if !sweeper.StartIfPopulated(ctx) {
		logger.Warn("proxy pool empty, health sweep not started")
	}
	if cfg.Updater.Enabled {
		refresher.Start(ctx)
	}
	defer sweeper.Stop()
	defer refresher.Stop()

	apiServer := api.NewServer(api.Deps{
		Fetcher: fetchEngine,
		Status: status.Reporter{
			Breaker: circuit,
			Pool:    pool,
			Limiter: limiter,
			Updater: refresher,
			Sweeper: sweeper,
		},
		Refresher: refresher,
		Sweeper:   sweeper,
		IDs:       idGen,
	}, cfg, logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}

func buildSnapshotStore(ctx context.Context, cfg config.SnapshotConfig) (fetch.SnapshotStore, func(), error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		store, err := pgsnapshot.New(ctx, pgsnapshot.Config{
			DSN:      cfg.Postgres.DSN,
			Table:    cfg.Postgres.Table,
			MaxConns: cfg.Postgres.MaxConns,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres snapshot: %w", err)
		}
		return store, store.Close, nil
	case config.BackendGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("create storage client: %w", err)
		}
		store, err := gcssnapshot.New(client, gcssnapshot.Config{Bucket: cfg.GCS.Bucket, Object: cfg.GCS.Object})
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("open gcs snapshot: %w", err)
		}
		return store, func() { _ = client.Close() }, nil
	default:
		store, err := filesnapshot.New(filesnapshot.Config{Path: cfg.File.Path})
		if err != nil {
			return nil, nil, fmt.Errorf("open file snapshot: %w", err)
		}
		return store, func() {}, nil
	}
}

func buildNotifier(ctx context.Context, cfg config.NotifyConfig, logger *zap.Logger) (fetch.Notifier, func(), error) {
	logNotifier := notify.NewLog(logger)
	if cfg.PubSub.Topic == "" {
		return logNotifier, func() {}, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("create pubsub client: %w", err)
	}
	publisher := pubsubnotify.New(client.Topic(cfg.PubSub.Topic))
	closeFn := func() {
		publisher.Stop()
		if err := client.Close(); err != nil {
			logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	return notify.Multi{logNotifier, publisher}, closeFn, nil
}
