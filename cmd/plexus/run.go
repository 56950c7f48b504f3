package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/dnscache"

	"github.com/plexushq/plexus/internal/config"
	"github.com/plexushq/plexus/internal/cooldown"
	"github.com/plexushq/plexus/internal/metrics"
	"github.com/plexushq/plexus/internal/provider"
	"github.com/plexushq/plexus/internal/quota"
	"github.com/plexushq/plexus/internal/router"
	"github.com/plexushq/plexus/internal/server"
	"github.com/plexushq/plexus/internal/storage/debugfs"
	"github.com/plexushq/plexus/internal/storage/sqlite"
	"github.com/plexushq/plexus/internal/worker"
)

// dnsRefreshInterval controls how often cached upstream DNS entries are
// re-resolved in the background.
const dnsRefreshInterval = 5 * time.Minute

func run(configPath string) error {
	store, err := config.NewStore(configPath)
	if err != nil {
		return err
	}
	snap := store.Current()
	setupLogging(snap.File.LogLevel)

	addr := fmt.Sprintf(":%d", snap.File.Server.Port)
	slog.Info("starting plexus", "version", version, "addr", addr)

	db, err := sqlite.New(snap.File.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Routing core
	cooldowns := cooldown.NewManager()
	quotas := quota.NewTracker()
	applyQuotaLimits(quotas, snap.File.Quotas)
	rtr := router.New(store, cooldowns, quotas, time.Now().UnixNano())

	// Upstream clients share one pooled, DNS-cached transport.
	resolver := &dnscache.Resolver{}
	clientCache, err := provider.NewCache(provider.NewTransport(resolver))
	if err != nil {
		return err
	}
	invoker := provider.NewInvoker(clientCache)
	go refreshDNS(ctx, resolver)

	// Observability
	registry := prometheus.NewRegistry()
	var m *metrics.Metrics
	if snap.File.Telemetry.Metrics.Enabled {
		m = metrics.NewMetrics(registry)
	}
	collector := metrics.NewCollector()

	var tracerShutdown func(context.Context) error
	if tc := snap.File.Telemetry.Tracing; tc.Enabled {
		tracerShutdown, err = metrics.SetupTracing(ctx, tc.Endpoint, tc.SampleRate)
		if err != nil {
			return err
		}
	}

	// Background workers
	var traces *worker.TraceWriter
	if m != nil {
		traces = worker.NewTraceWriter(db, m.TraceQueueLength)
	} else {
		traces = worker.NewTraceWriter(db, nil)
	}
	workers := []worker.Worker{traces, worker.NewQuotaSyncWorker(quotas, db)}

	var debugStore *debugfs.Store
	if dc := snap.File.Debug; dc.Enabled {
		debugStore, err = debugfs.New(dc.Dir)
		if err != nil {
			return err
		}
		workers = append(workers, worker.NewDebugRetentionWorker(debugStore, dc.RetentionDays))
	}
	runner := worker.NewRunner(workers...)

	// Quota limits follow config reloads.
	events, cancelSub := store.Subscribe()
	defer cancelSub()
	go func() {
		for range events {
			applyQuotaLimits(quotas, store.Current().File.Quotas)
		}
	}()

	handler := server.New(server.Deps{
		Config:         store,
		Router:         rtr,
		Invoker:        invoker,
		Cooldowns:      cooldowns,
		Quotas:         quotas,
		Traces:         traces,
		Collector:      collector,
		Metrics:        m,
		Registry:       registry,
		Debug:          debugStore,
		DB:             db,
		Version:        version,
		RequestTimeout: snap.File.Server.RequestTimeout,
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  snap.File.Server.ReadTimeout,
		WriteTimeout: snap.File.Server.WriteTimeout,
	}

	workerErr := make(chan error, 1)
	go func() {
		workerErr <- runner.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	slog.Info("plexus ready", "addr", addr)

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-serveErr:
		stop()
		<-workerErr
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), snap.File.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-workerErr; err != nil {
		return err
	}
	if tracerShutdown != nil {
		if err := tracerShutdown(shutdownCtx); err != nil {
			slog.Warn("tracer shutdown failed", "error", err)
		}
	}

	slog.Info("plexus stopped")
	return nil
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

// applyQuotaLimits declares window limits from the config's quota checkers.
// Options whose key names a window type carry a numeric limit; checker-type
// specific options (MiniMax credentials) are not numeric and are skipped.
func applyQuotaLimits(tracker *quota.Tracker, quotas map[string]config.QuotaCheckerEntry) {
	for name, q := range quotas {
		for opt, raw := range q.Options {
			wt := quota.WindowType(opt)
			if wt.Duration() == 0 && wt != quota.WindowSubscription {
				continue
			}
			if v, err := strconv.ParseFloat(raw, 64); err == nil {
				tracker.SetLimit(name, wt, v)
			}
		}
	}
}

// refreshDNS re-resolves cached entries until ctx is cancelled.
func refreshDNS(ctx context.Context, resolver *dnscache.Resolver) {
	ticker := time.NewTicker(dnsRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			resolver.Refresh(true)
		case <-ctx.Done():
			return
		}
	}
}
