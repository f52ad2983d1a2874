package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/cmip-ref/ref-go/internal/domain"
	"github.com/cmip-ref/ref-go/internal/metric"
	"github.com/cmip-ref/ref-go/internal/repo"
)

// Registry holds the providers active in this process.
type Registry struct {
	logger    *slog.Logger
	providers []*metric.Provider
}

// Entry pairs a metric with its provider. IDs are set once synced.
type Entry struct {
	Provider   *metric.Provider
	Metric     metric.Metric
	ProviderID string
	MetricID   string
}

func New(logger *slog.Logger, providers ...*metric.Provider) (*Registry, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	seen := make(map[string]struct{}, len(providers))
	for _, p := range providers {
		if p == nil {
			return nil, errors.New("provider is required")
		}
		if strings.TrimSpace(p.Slug) == "" {
			return nil, errors.New("provider slug is required")
		}
		if _, dup := seen[p.Slug]; dup {
			return nil, fmt.Errorf("provider registered twice: %s", p.Slug)
		}
		seen[p.Slug] = struct{}{}
	}
	return &Registry{logger: logger, providers: append([]*metric.Provider(nil), providers...)}, nil
}

func (r *Registry) Providers() []*metric.Provider {
	return append([]*metric.Provider(nil), r.providers...)
}

// Metrics lists every (provider, metric) pair in registration order.
func (r *Registry) Metrics() []Entry {
	var out []Entry
	for _, p := range r.providers {
		for _, m := range p.Metrics() {
			out = append(out, Entry{Provider: p, Metric: m})
		}
	}
	return out
}

// Sync makes sure every provider and metric has a row and returns the
// entries with their ids.
func (r *Registry) Sync(ctx context.Context, providers repo.ProviderRepository) ([]Entry, error) {
	var out []Entry
	for _, p := range r.providers {
		row, created, err := providers.GetOrCreateProvider(ctx, domain.Provider{Slug: p.Slug, Name: p.Name, Version: p.Version})
		if err != nil {
			return nil, fmt.Errorf("register provider %s: %w", p.Slug, err)
		}
		if created {
			r.logger.Info("Created provider", "provider", p.Slug, "version", p.Version)
		}
		for _, m := range p.Metrics() {
			mrow, created, err := providers.GetOrCreateMetric(ctx, domain.Metric{ProviderID: row.ID, Slug: m.Slug(), Name: m.Name()})
			if err != nil {
				return nil, fmt.Errorf("register metric %s/%s: %w", p.Slug, m.Slug(), err)
			}
			if created {
				r.logger.Info("Created metric", "provider", p.Slug, "metric", m.Slug())
			}
			out = append(out, Entry{Provider: p, Metric: m, ProviderID: row.ID, MetricID: mrow.ID})
		}
	}
	return out, nil
}
