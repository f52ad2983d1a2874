package grouping

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/cmip-ref/ref-go/internal/constraint"
	"github.com/cmip-ref/ref-go/internal/domain"
	"github.com/cmip-ref/ref-go/internal/metric"
)

var ErrKeyCollision = errors.New("group identity key collision")

// Engine partitions a catalog into the groups a requirement runs over.
type Engine struct {
	logger      *slog.Logger
	parallelism int
}

func NewEngine(logger *slog.Logger, parallelism int) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if parallelism < 1 {
		parallelism = 1
	}
	return &Engine{logger: logger, parallelism: parallelism}
}

type partition struct {
	values   []string
	datasets domain.Catalog
}

// Groups filters the catalog, partitions the matches by the requirement's
// group-by facets and runs the constraint pipeline on every partition. The
// pipeline sees every dataset of the requirement's source type, not only the
// filtered ones. Groups are returned ordered by their group-by values.
func (e *Engine) Groups(ctx context.Context, catalog domain.Catalog, req metric.DataRequirement) ([]domain.Group, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	pipeline, err := req.Pipeline()
	if err != nil {
		return nil, err
	}

	source := catalog.OfType(req.SourceType)
	partitions, err := e.partition(source, req)
	if err != nil {
		return nil, err
	}

	outcomes := make([]constraint.Outcome, len(partitions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)
	for i, p := range partitions {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := pipeline.Apply(domain.NewGroup(p.values, p.datasets), source)
			if err != nil {
				return fmt.Errorf("group %s: %w", domain.GroupKey(p.values), err)
			}
			outcomes[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	groups := make([]domain.Group, 0, len(outcomes))
	for _, out := range outcomes {
		if !out.Accepted {
			e.logger.Debug("group rejected",
				"key", out.Group.Key,
				"constraint", out.RejectedBy,
				"reason", out.Reason,
			)
			continue
		}
		groups = append(groups, out.Group)
	}
	return groups, nil
}

func (e *Engine) partition(source domain.Catalog, req metric.DataRequirement) ([]partition, error) {
	index := make(map[string]int)
	keys := make(map[string]string)
	var parts []partition

	for _, ds := range source {
		if !req.Matches(ds) {
			continue
		}
		values, missing := groupValues(ds, req.GroupBy)
		if missing != "" {
			e.logger.Debug("dataset lacks group_by facet", "dataset", ds.Slug, "facet", missing)
			continue
		}
		tuple := tupleKey(values)
		i, ok := index[tuple]
		if !ok {
			key := domain.GroupKey(values)
			if other, clash := keys[key]; clash && other != tuple {
				return nil, fmt.Errorf("%w: %s", ErrKeyCollision, key)
			}
			keys[key] = tuple
			i = len(parts)
			index[tuple] = i
			parts = append(parts, partition{values: values})
		}
		parts[i].datasets = append(parts[i].datasets, ds)
	}

	slices.SortStableFunc(parts, func(a, b partition) int {
		return slices.Compare(a.values, b.values)
	})
	return parts, nil
}

func groupValues(ds *domain.Dataset, groupBy []string) ([]string, string) {
	values := make([]string, 0, len(groupBy))
	for _, facet := range groupBy {
		v, ok := ds.Facet(facet)
		if !ok {
			return nil, facet
		}
		values = append(values, v)
	}
	return values, ""
}

// tupleKey encodes values unambiguously.
func tupleKey(values []string) string {
	var b strings.Builder
	for _, v := range values {
		fmt.Fprintf(&b, "%d:%s;", len(v), v)
	}
	return b.String()
}
