// Package example is a small built-in provider used for local runs and tests.
// Its metrics summarise dataset metadata instead of reading model output.
package example

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/cmip-ref/ref-go/internal/constraint"
	"github.com/cmip-ref/ref-go/internal/domain"
	"github.com/cmip-ref/ref-go/internal/metric"
)

const (
	ProviderSlug    = "example"
	ProviderName    = "Example"
	ProviderVersion = "0.1.0"
)

// New returns the example provider with both metrics registered.
func New() (*metric.Provider, error) {
	p := metric.NewProvider(ProviderSlug, ProviderName, ProviderVersion)
	for _, m := range []metric.Metric{GlobalMeanTimeseries{}, EquilibriumClimateSensitivity{}} {
		if err := p.Register(m); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// GlobalMeanTimeseries runs once per model, variable, experiment and variant.
type GlobalMeanTimeseries struct{}

func (GlobalMeanTimeseries) Slug() string { return "global-mean-timeseries" }
func (GlobalMeanTimeseries) Name() string { return "Global Mean Timeseries" }

func (GlobalMeanTimeseries) Requirements() []metric.DataRequirement {
	return []metric.DataRequirement{{
		SourceType: domain.SourceCMIP6,
		Filters:    []domain.FacetFilter{domain.Facet("variable_id", "tas", "rsut")},
		GroupBy:    []string{"source_id", "variable_id", "experiment_id", "variant_label"},
	}}
}

func (m GlobalMeanTimeseries) Run(ctx context.Context, def metric.Definition) (metric.Bundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sourceID, err := single(def.Group, "source_id")
	if err != nil {
		return nil, err
	}
	variable, err := single(def.Group, "variable_id")
	if err != nil {
		return nil, err
	}
	results := map[string]any{
		sourceID: map[string]any{
			"global": map[string]any{
				variable: map[string]any{
					"datasets":       def.Group.Len(),
					"latest_version": latestVersion(def.Group.Datasets),
				},
			},
		},
	}
	return metric.NewBundle(def, ProviderSlug, ProviderVersion, []string{"source_id", "variable_id"}, results), nil
}

// EquilibriumClimateSensitivity needs both the abrupt-4xCO2 and piControl runs
// of a model variant.
type EquilibriumClimateSensitivity struct{}

var (
	ecsVariables   = []string{"rlut", "rsdt", "rsut", "tas"}
	ecsExperiments = []string{"abrupt-4xCO2", "piControl"}
)

func (EquilibriumClimateSensitivity) Slug() string { return "equilibrium-climate-sensitivity" }
func (EquilibriumClimateSensitivity) Name() string { return "Equilibrium Climate Sensitivity" }

func (EquilibriumClimateSensitivity) Requirements() []metric.DataRequirement {
	return []metric.DataRequirement{{
		SourceType: domain.SourceCMIP6,
		Filters: []domain.FacetFilter{domain.NewFacetFilter(map[string][]string{
			"variable_id":   ecsVariables,
			"experiment_id": ecsExperiments,
		})},
		GroupBy: []string{"source_id", "variant_label"},
		Constraints: []constraint.Constraint{
			constraint.RequireFacets("experiment_id", ecsExperiments...),
		},
	}}
}

func (m EquilibriumClimateSensitivity) Run(ctx context.Context, def metric.Definition) (metric.Bundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sourceID, err := single(def.Group, "source_id")
	if err != nil {
		return nil, err
	}
	coverage := make(map[string][]string, len(ecsExperiments))
	for _, experiment := range ecsExperiments {
		var variables []string
		for _, ds := range def.Group.Datasets {
			if exp, _ := ds.Facet("experiment_id"); exp != experiment {
				continue
			}
			if v, ok := ds.Facet("variable_id"); ok {
				variables = append(variables, v)
			}
		}
		sort.Strings(variables)
		coverage[experiment] = variables
	}
	results := map[string]any{
		sourceID: map[string]any{
			"global": map[string]any{
				"ecs": map[string]any{
					"coverage": coverage,
					"complete": complete(coverage),
				},
			},
		},
	}
	return metric.NewBundle(def, ProviderSlug, ProviderVersion, []string{"source_id", "experiment_id"}, results), nil
}

func complete(coverage map[string][]string) bool {
	for _, experiment := range ecsExperiments {
		for _, v := range ecsVariables {
			if !slices.Contains(coverage[experiment], v) {
				return false
			}
		}
	}
	return true
}

// single returns the only value of facet within the group.
func single(group domain.Group, facet string) (string, error) {
	values := group.Datasets.Values(facet)
	if len(values) != 1 {
		return "", fmt.Errorf("group %s: want one %s, got %d", group.Key, facet, len(values))
	}
	return values[0], nil
}

func latestVersion(datasets domain.Catalog) string {
	var latest string
	for _, ds := range datasets {
		if v, ok := ds.Facet(domain.FacetVersion); ok && v > latest {
			latest = v
		}
	}
	return latest
}
