package declare

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/cmip-ref/ref-go/internal/constraint"
	"github.com/cmip-ref/ref-go/internal/domain"
	"github.com/cmip-ref/ref-go/internal/metric"
)

// LoadFile parses a declaration file and builds its provider.
func LoadFile(path string) (*metric.Provider, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	spec, err := ParseSpec(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return Build(spec)
}

// Build turns a validated declaration into a provider.
func Build(spec Spec) (*metric.Provider, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	name := spec.Provider.Name
	if name == "" {
		name = spec.Provider.Slug
	}
	p := metric.NewProvider(spec.Provider.Slug, name, spec.Provider.Version)
	for _, ms := range spec.Metrics {
		m, err := buildMetric(spec.Provider, ms)
		if err != nil {
			return nil, fmt.Errorf("metric %s: %w", ms.Slug, err)
		}
		if err := p.Register(m); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func buildMetric(provider ProviderSpec, ms MetricSpec) (*declaredMetric, error) {
	reqs := make([]metric.DataRequirement, 0, len(ms.Requirements))
	for _, rs := range ms.Requirements {
		req, err := buildRequirement(rs)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	name := ms.Name
	if name == "" {
		name = ms.Slug
	}
	summary := ms.Summary
	if len(summary) == 0 {
		summary = ms.Requirements[0].GroupBy
	}
	return &declaredMetric{
		slug:     ms.Slug,
		name:     name,
		pkg:      provider.Slug,
		version:  provider.Version,
		summary:  append([]string(nil), summary...),
		requires: reqs,
	}, nil
}

func buildRequirement(rs RequirementSpec) (metric.DataRequirement, error) {
	req := metric.DataRequirement{
		SourceType: domain.NormalizeSourceType(rs.SourceType),
		GroupBy:    append([]string(nil), rs.GroupBy...),
	}
	for _, fs := range rs.Filters {
		req.Filters = append(req.Filters, domain.FacetFilter{Facets: facetMap(fs.Facets), Exclude: fs.Exclude})
	}
	for _, cs := range rs.Constraints {
		c, err := buildConstraint(cs)
		if err != nil {
			return metric.DataRequirement{}, err
		}
		req.Constraints = append(req.Constraints, c)
	}
	return req, req.Validate()
}

func buildConstraint(cs ConstraintSpec) (constraint.Constraint, error) {
	switch strings.ToLower(strings.TrimSpace(cs.Type)) {
	case ConstraintRequireFacets:
		return constraint.RequireFacets(cs.Dimension, cs.Values...), nil
	case ConstraintAddSupplementary:
		if len(cs.Facets) == 0 {
			return constraint.Constraint{}, fmt.Errorf("%s: %w", cs.Type, errNoFacets)
		}
		return constraint.AddSupplementaryDataset(constraint.Supplementary{
			Facets:           facetMap(cs.Facets),
			Matching:         cs.Matching,
			OptionalMatching: cs.OptionalMatching,
		}), nil
	case ConstraintAddCellAreas:
		return constraint.AddCellAreas(), nil
	case ConstraintAddSubRegionMasks:
		return constraint.AddSubRegionMasks(), nil
	case ConstraintSelectParentExperiment:
		return constraint.SelectParentExperiment(), nil
	default:
		return constraint.Constraint{}, fmt.Errorf("constraint type unsupported: %q", cs.Type)
	}
}

func facetMap(in map[string]Values) map[string][]string {
	out := make(map[string][]string, len(in))
	for k, v := range in {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// declaredMetric summarises its input group instead of computing a diagnostic.
type declaredMetric struct {
	slug     string
	name     string
	pkg      string
	version  string
	summary  []string
	requires []metric.DataRequirement
}

func (m *declaredMetric) Slug() string                           { return m.slug }
func (m *declaredMetric) Name() string                           { return m.name }
func (m *declaredMetric) Requirements() []metric.DataRequirement { return m.requires }

func (m *declaredMetric) Run(ctx context.Context, def metric.Definition) (metric.Bundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if def.Group.Len() == 0 {
		return nil, fmt.Errorf("group %s is empty", def.Key)
	}
	counts := make(map[string]any, len(m.summary))
	for _, facet := range m.summary {
		counts[facet] = len(def.Group.Datasets.Values(facet))
	}
	results := map[string]any{
		def.Key: map[string]any{
			"dataset_count": def.Group.Len(),
			"distinct":      counts,
		},
	}
	return metric.NewBundle(def, m.pkg, m.version, m.summary, results), nil
}
