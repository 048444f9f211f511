package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/shareview/internal/adapters/http/api"
	"github.com/okian/shareview/internal/adapters/http/swagger"
	"github.com/okian/shareview/internal/adapters/repository"
	"github.com/okian/shareview/internal/adapters/source"
	"github.com/okian/shareview/internal/app"
	"github.com/okian/shareview/internal/config"
	"github.com/okian/shareview/internal/domain/shares"
	"github.com/okian/shareview/pkg/logger"
	"github.com/okian/shareview/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 10 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	if err := logger.Init(); err != nil {
		_, _ = os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	loggerInstance := logger.Get()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		loggerInstance.Error(ctx, "failed to load config", logger.Error(err))
		os.Exit(1)
	}

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		loggerInstance.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	svc, err := newService(ctx, cfg, loggerInstance)
	if err != nil {
		loggerInstance.Error(ctx, "failed to build service", logger.Error(err))
		os.Exit(1)
	}
	if err := svc.Start(ctx); err != nil {
		loggerInstance.Error(ctx, "failed to start service", logger.Error(err))
		svc.Stop()
		os.Exit(1)
	}
	defer svc.Stop()

	go startSystemMetricsUpdater(ctx)
	go watchReducer(ctx, svc, loggerInstance)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newMux(ctx, svc),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		loggerInstance.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			loggerInstance.Error(ctx, "HTTP server failed", logger.Error(err))
			stop()
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	loggerInstance.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		loggerInstance.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	loggerInstance.Info(ctx, "server stopped")
}

// newService builds the store, share function and event source named by cfg.
func newService(ctx context.Context, cfg *config.Config, l logger.Logger) (*app.Service, error) {
	store, err := openStore(ctx, cfg, l)
	if err != nil {
		return nil, err
	}

	opts := []app.Option{
		app.WithLogger(l.Named("service")),
		app.WithStore(store),
		app.WithQueueSize(cfg.QueueSize),
		app.WithAggregateStrategy(cfg.AggregateStrategy),
		app.WithVerifyAggregates(cfg.VerifyAggregates),
		app.WithSS58Prefix(cfg.SS58Prefix),
		app.WithDumpSource(cfg.DumpPath),
		app.WithShareFunc(shares.NewStandard(
			shares.WithPInstantWeight(cfg.PInstantWeight),
			shares.WithConfidenceWeights(cfg.ConfidenceWeights, cfg.DefaultConfidenceWeight),
		)),
	}
	if cfg.EventsPath != "" {
		src, err := source.OpenFile(cfg.EventsPath, source.WithBatchSize(cfg.BatchSize))
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("open events: %w", err)
		}
		opts = append(opts, app.WithSource(src))
	}
	return app.New(opts...), nil
}

func openStore(ctx context.Context, cfg *config.Config, l logger.Logger) (repository.Store, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return repository.NewMemoryStore(), nil
	case config.StoreSQLite:
		store, err := repository.OpenSQLite(ctx, cfg.DBPath, repository.WithLogger(l.Named("sqlite")))
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.DBPath, err)
		}
		return store, nil
	}
	return nil, fmt.Errorf("%w: store %q", config.ErrInvalidConfig, cfg.Store)
}

// newMux registers the docs and read API routes.
func newMux(ctx context.Context, svc *app.Service) *http.ServeMux {
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(svc, svc).Register(ctx, mux)
	return mux
}

// watchReducer logs why the reducer stopped. Reads keep being served after
// a halt so the last committed state stays inspectable.
func watchReducer(ctx context.Context, svc *app.Service, l logger.Logger) {
	select {
	case <-ctx.Done():
		return
	case <-svc.Done():
	}
	if err := svc.Err(); err != nil {
		l.Error(ctx, "reducer halted; serving last committed state",
			logger.Error(err),
			logger.Bool("fatal", app.IsFatal(err)),
		)
		return
	}
	l.Info(ctx, "reducer finished", logger.Any("stats", svc.GetStats()))
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}
