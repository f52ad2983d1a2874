package repo

import (
	"context"
	"errors"

	"github.com/cmip-ref/ref-go/internal/domain"
)

var ErrNotFound = errors.New("not found")

type ExecutionFilter struct {
	MetricID   string
	MetricSlug string
	Dirty      *bool
	Limit      int
}

// CatalogRepository manages ingested datasets.
type CatalogRepository interface {
	// UpsertDataset inserts a dataset keyed by slug; an existing row is returned unchanged.
	UpsertDataset(ctx context.Context, dataset domain.Dataset) (domain.Dataset, bool, error)
	// ListDatasets returns every dataset of the source type, retracted ones included,
	// ordered by insertion. An empty source type lists all datasets.
	ListDatasets(ctx context.Context, sourceType domain.SourceDatasetType) ([]domain.Dataset, error)
	RetractDataset(ctx context.Context, slug string) error
}

// ProviderRepository manages registered providers and their metrics.
type ProviderRepository interface {
	GetOrCreateProvider(ctx context.Context, provider domain.Provider) (domain.Provider, bool, error)
	GetOrCreateMetric(ctx context.Context, metric domain.Metric) (domain.Metric, bool, error)
}

// ExecutionRepository manages metric executions and their result history.
type ExecutionRepository interface {
	// GetOrCreateExecution returns the execution for (metricID, key) with its
	// results, creating it when absent. The bool reports creation.
	GetOrCreateExecution(ctx context.Context, metricID, key string) (domain.MetricExecution, bool, error)
	GetExecution(ctx context.Context, id string) (domain.MetricExecution, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]domain.MetricExecution, error)

	// RecordResult upserts the result on (execution, dataset hash), makes it the
	// latest attempt, links its datasets and clears the execution's dirty flag.
	RecordResult(ctx context.Context, result domain.ExecutionResult) (domain.ExecutionResult, error)
	SetDirty(ctx context.Context, executionID string, dirty bool) error
	SetRetracted(ctx context.Context, executionID string, retracted bool) error
}

// Store is the full persistence surface used by the solver service.
type Store interface {
	CatalogRepository
	ProviderRepository
	ExecutionRepository
	Ping(ctx context.Context) error
	Close() error
}
