package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/cmip-ref/ref-go/internal/executor"
	"github.com/cmip-ref/ref-go/internal/metric"
	"github.com/cmip-ref/ref-go/internal/storage/bundles"
)

// BundleFile is the object name written under each execution fragment.
const BundleFile = "output.json"

// Executor runs metrics in-process and writes their bundle to a bundle store.
type Executor struct {
	store  bundles.Store
	logger *slog.Logger
}

var _ executor.Executor = (*Executor)(nil)

func New(store bundles.Store, logger *slog.Logger) (*Executor, error) {
	if store == nil {
		return nil, errors.New("bundle store is required")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Executor{store: store, logger: logger}, nil
}

func (e *Executor) Run(ctx context.Context, def metric.Definition) (metric.Result, error) {
	if def.Metric == nil {
		return metric.Result{}, fmt.Errorf("%w: metric is required", executor.ErrNotStarted)
	}
	fragment := strings.TrimSpace(def.OutputFragment)
	if fragment == "" {
		return metric.Result{}, fmt.Errorf("%w: output fragment is required", executor.ErrNotStarted)
	}
	if err := ctx.Err(); err != nil {
		return metric.Result{}, fmt.Errorf("%w: %w", executor.ErrNotStarted, err)
	}

	result := metric.Result{OutputFragment: fragment}
	bundle, err := runMetric(ctx, def)
	if err != nil {
		e.logger.Warn("metric failed", "metric", def.Metric.Slug(), "key", def.Key, "error", err)
		result.Error = err.Error()
		return result, nil
	}

	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		result.Error = fmt.Sprintf("encode bundle: %v", err)
		return result, nil
	}
	info, err := e.store.Put(ctx, path.Join(fragment, BundleFile), data, "application/json")
	if err != nil {
		e.logger.Warn("bundle write failed", "metric", def.Metric.Slug(), "key", def.Key, "error", err)
		result.Error = fmt.Sprintf("write bundle: %v", err)
		return result, nil
	}

	result.Successful = true
	result.Path = info.Location
	e.logger.Debug("bundle written", "metric", def.Metric.Slug(), "key", def.Key, "location", info.Location, "bytes", info.Size)
	return result, nil
}

// runMetric converts a panicking metric into a failed run.
func runMetric(ctx context.Context, def metric.Definition) (bundle metric.Bundle, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("metric panicked: %v", r)
		}
	}()
	return def.Metric.Run(ctx, def)
}
