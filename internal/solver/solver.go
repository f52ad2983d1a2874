package solver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cmip-ref/ref-go/internal/domain"
	"github.com/cmip-ref/ref-go/internal/executor"
	"github.com/cmip-ref/ref-go/internal/grouping"
	"github.com/cmip-ref/ref-go/internal/metric"
	"github.com/cmip-ref/ref-go/internal/registry"
	"github.com/cmip-ref/ref-go/internal/repo"
	"github.com/cmip-ref/ref-go/internal/tracker"
)

// ErrBusy is returned when a solve is already running.
var ErrBusy = errors.New("solve already in progress")

// Repository is the storage the solver reads the catalog from and records
// executions in.
type Repository interface {
	repo.CatalogRepository
	repo.ProviderRepository
	repo.ExecutionRepository
}

type Config struct {
	GroupingParallelism int
	MaxConcurrentRuns   int
	Metrics             *Metrics
}

// Summary counts what one solve pass did.
type Summary struct {
	Groups            int      `json:"groups"`
	ExecutionsCreated int      `json:"executions_created"`
	Skipped           int      `json:"skipped"`
	Dispatched        int      `json:"dispatched"`
	Succeeded         int      `json:"succeeded"`
	Failed            int      `json:"failed"`
	NotStarted        int      `json:"not_started"`
	Errors            []string `json:"errors,omitempty"`
}

type Solver struct {
	logger   *slog.Logger
	registry *registry.Registry
	store    Repository
	engine   *grouping.Engine
	tracker  *tracker.Tracker
	executor executor.Executor
	metrics  *Metrics
	maxRuns  int

	running sync.Mutex
}

func New(logger *slog.Logger, reg *registry.Registry, store Repository, exec executor.Executor, cfg Config) (*Solver, error) {
	if reg == nil {
		return nil, errors.New("registry is required")
	}
	if store == nil {
		return nil, errors.New("repository is required")
	}
	if exec == nil {
		return nil, errors.New("executor is required")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	t, err := tracker.New(store)
	if err != nil {
		return nil, err
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	maxRuns := cfg.MaxConcurrentRuns
	if maxRuns < 1 {
		maxRuns = 1
	}
	return &Solver{
		logger:   logger,
		registry: reg,
		store:    store,
		engine:   grouping.NewEngine(logger, cfg.GroupingParallelism),
		tracker:  t,
		executor: exec,
		metrics:  metrics,
		maxRuns:  maxRuns,
	}, nil
}

// pass accumulates the outcome of one Solve across dispatch goroutines.
type pass struct {
	mu      sync.Mutex
	summary Summary
	errs    []error
}

func (p *pass) update(fn func(*Summary)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.summary)
}

func (p *pass) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs = append(p.errs, err)
	p.summary.Errors = append(p.summary.Errors, err.Error())
}

// Solve runs every registered metric over the groups it applies to and
// dispatches the groups whose inputs changed since their last run.
// Requirement failures are collected; the remaining requirements still run.
func (s *Solver) Solve(ctx context.Context) (Summary, error) {
	if !s.running.TryLock() {
		return Summary{}, ErrBusy
	}
	defer s.running.Unlock()

	start := time.Now()
	summary, err := s.solve(ctx)
	s.metrics.solveDuration.Observe(time.Since(start).Seconds())
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.metrics.solves.WithLabelValues(outcome).Inc()
	s.logger.Info("solve finished",
		"groups", summary.Groups,
		"created", summary.ExecutionsCreated,
		"dispatched", summary.Dispatched,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"duration", time.Since(start),
	)
	return summary, err
}

func (s *Solver) solve(ctx context.Context) (Summary, error) {
	entries, err := s.registry.Sync(ctx, s.store)
	if err != nil {
		return Summary{}, err
	}
	rows, err := s.store.ListDatasets(ctx, "")
	if err != nil {
		return Summary{}, fmt.Errorf("load catalog: %w", err)
	}
	catalog := domain.NewCatalog(rows)
	s.logger.Debug("catalog loaded", "datasets", len(catalog), "metrics", len(entries))

	p := &pass{}
	var g errgroup.Group
	g.SetLimit(s.maxRuns)

	for _, entry := range entries {
		slug := entry.Metric.Slug()
		for i, req := range entry.Metric.Requirements() {
			groups, err := s.engine.Groups(ctx, catalog, req)
			if err != nil {
				err = fmt.Errorf("%s/%s requirement %d: %w", entry.Provider.Slug, slug, i, err)
				s.logger.Error("requirement failed", "metric", slug, "requirement", i, "error", err)
				p.fail(err)
				continue
			}
			s.metrics.groups.WithLabelValues(slug).Add(float64(len(groups)))
			p.update(func(sum *Summary) { sum.Groups += len(groups) })

			for _, group := range groups {
				if err := ctx.Err(); err != nil {
					_ = g.Wait()
					return p.summary, errors.Join(append(p.errs, err)...)
				}
				claim, err := s.tracker.Resolve(ctx, entry.MetricID, group)
				if err != nil {
					p.fail(fmt.Errorf("%s/%s: %w", entry.Provider.Slug, slug, err))
					continue
				}
				if claim.Created {
					s.logger.Info(fmt.Sprintf("Created metric execution %s", group.Key), "metric", slug)
					s.metrics.executionsCreated.WithLabelValues(slug).Inc()
					p.update(func(sum *Summary) { sum.ExecutionsCreated++ })
				}
				s.metrics.decisions.WithLabelValues(string(claim.Reason)).Inc()
				if !claim.Run {
					claim.Release()
					p.update(func(sum *Summary) { sum.Skipped++ })
					continue
				}

				def := metric.Definition{
					Provider:       entry.Provider.Slug,
					Metric:         entry.Metric,
					Key:            group.Key,
					Group:          group,
					DatasetHash:    claim.Hash,
					OutputFragment: metric.FragmentFor(entry.Provider.Slug, slug, group.Key, claim.Hash),
				}
				s.logger.Info(fmt.Sprintf("Running metric %s for %s", slug, group.Key), "reason", claim.Reason)
				p.update(func(sum *Summary) { sum.Dispatched++ })
				g.Go(func() error {
					defer claim.Release()
					s.dispatch(ctx, p, claim, def)
					return nil
				})
			}
		}
	}
	_ = g.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.summary, errors.Join(p.errs...)
}

// dispatch runs one definition and records its result. Nothing is recorded
// when the executor reports that the run never started.
func (s *Solver) dispatch(ctx context.Context, p *pass, claim *tracker.Claim, def metric.Definition) {
	slug := def.Metric.Slug()
	start := time.Now()
	res, err := s.executor.Run(ctx, def)
	s.metrics.runDuration.WithLabelValues(slug).Observe(time.Since(start).Seconds())

	if errors.Is(err, executor.ErrNotStarted) {
		s.logger.Warn("metric run not started", "metric", slug, "key", def.Key, "error", err)
		s.metrics.runs.WithLabelValues(slug, "not_started").Inc()
		p.update(func(sum *Summary) { sum.NotStarted++ })
		return
	}
	if err != nil {
		res = metric.Result{OutputFragment: def.OutputFragment, Error: err.Error()}
	}
	if !res.Successful {
		s.logger.Warn("metric run failed", "metric", slug, "key", def.Key, "error", res.Error)
	}

	if _, err := s.tracker.Record(ctx, claim, res); err != nil {
		p.fail(fmt.Errorf("%s/%s: %w", def.Provider, slug, err))
		return
	}
	outcome := "success"
	if !res.Successful {
		outcome = "failure"
	}
	s.metrics.runs.WithLabelValues(slug, outcome).Inc()
	p.update(func(sum *Summary) {
		if res.Successful {
			sum.Succeeded++
		} else {
			sum.Failed++
		}
	})
}

// MarkDirty forces the execution to run on the next solve.
func (s *Solver) MarkDirty(ctx context.Context, executionID string) error {
	return s.tracker.MarkDirty(ctx, executionID)
}
