package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cmip-ref/ref-go/internal/executor/local"
	"github.com/cmip-ref/ref-go/internal/metric"
	"github.com/cmip-ref/ref-go/internal/platform/env"
	"github.com/cmip-ref/ref-go/internal/platform/httpserver"
	"github.com/cmip-ref/ref-go/internal/platform/postgres"
	"github.com/cmip-ref/ref-go/internal/platform/sqlite"
	"github.com/cmip-ref/ref-go/internal/providers/example"
	"github.com/cmip-ref/ref-go/internal/registry"
	"github.com/cmip-ref/ref-go/internal/registry/declare"
	"github.com/cmip-ref/ref-go/internal/repo"
	"github.com/cmip-ref/ref-go/internal/repo/memory"
	"github.com/cmip-ref/ref-go/internal/repo/sqlstore"
	"github.com/cmip-ref/ref-go/internal/solver"
	"github.com/cmip-ref/ref-go/internal/storage/bundles"
)

func main() {
	level, err := env.LogLevel("SOLVER_LOG_LEVEL", slog.LevelInfo)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpCfg, err := httpserver.ConfigFromEnv(serviceName)
	if err != nil {
		logger.Error("invalid http config", "error", err)
		os.Exit(2)
	}
	interval, err := env.Duration("SOLVER_INTERVAL", 0)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	parallelism, err := env.Int("SOLVER_GROUPING_PARALLELISM", 4)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	maxRuns, err := env.Int("SOLVER_MAX_CONCURRENT_RUNS", 4)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	store, err := openStore(ctx)
	if err != nil {
		logger.Error("store unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	bundleStore, err := bundles.Open(startupCtx)
	cancel()
	if err != nil {
		logger.Error("bundle store unavailable", "error", err)
		os.Exit(1)
	}

	providers, err := loadProviders()
	if err != nil {
		logger.Error("invalid metric providers", "error", err)
		os.Exit(2)
	}
	reg, err := registry.New(logger, providers...)
	if err != nil {
		logger.Error("registry init failed", "error", err)
		os.Exit(2)
	}
	exec, err := local.New(bundleStore, logger)
	if err != nil {
		logger.Error("executor init failed", "error", err)
		os.Exit(2)
	}

	s, err := solver.New(logger, reg, store, exec, solver.Config{
		GroupingParallelism: parallelism,
		MaxConcurrentRuns:   maxRuns,
		Metrics:             solver.NewMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logger.Error("solver init failed", "error", err)
		os.Exit(2)
	}

	if _, err := s.Solve(ctx); err != nil {
		logger.Warn("initial solve finished with errors", "error", err)
	}
	if interval > 0 {
		go runPeriodic(ctx, logger, s, interval)
	}

	mux := http.NewServeMux()
	api := newSolverAPI(logger, store, bundleStore, s, prometheus.DefaultGatherer)
	api.register(mux)

	if err := httpserver.Run(ctx, logger, httpCfg, httpserver.Wrap(logger, mux)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// openStore selects the repository backend from SOLVER_STORAGE_DRIVER.
func openStore(ctx context.Context) (repo.Store, error) {
	driver, err := env.OneOf("SOLVER_STORAGE_DRIVER", "sqlite", "postgres", "sqlite", "memory")
	if err != nil {
		return nil, err
	}
	switch driver {
	case "memory":
		return memory.New(), nil
	case "postgres":
		cfg, err := postgres.ConfigFromEnv()
		if err != nil {
			return nil, err
		}
		db, err := postgres.Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return migrated(ctx, db, sqlstore.DialectPostgres)
	default:
		cfg, err := sqlite.ConfigFromEnv()
		if err != nil {
			return nil, err
		}
		db, err := sqlite.Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return migrated(ctx, db, sqlstore.DialectSQLite)
	}
}

func migrated(ctx context.Context, db *sql.DB, dialect sqlstore.Dialect) (repo.Store, error) {
	store, err := sqlstore.New(db, dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

// loadProviders returns the built-in providers plus the declared one from
// SOLVER_METRICS_FILE, if set.
func loadProviders() ([]*metric.Provider, error) {
	builtin, err := example.New()
	if err != nil {
		return nil, err
	}
	providers := []*metric.Provider{builtin}
	if path := env.String("SOLVER_METRICS_FILE", ""); path != "" {
		declared, err := declare.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		providers = append(providers, declared)
	}
	return providers, nil
}
