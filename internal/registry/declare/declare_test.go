package declare

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/cmip-ref/ref-go/internal/domain"
	"github.com/cmip-ref/ref-go/internal/metric"
)

func TestLoadFile(t *testing.T) {
	p, err := LoadFile(filepath.Join("testdata", "provider.yaml"))
	if err != nil {
		t.Fatalf("LoadFile() err=%v", err)
	}
	if p.Slug != "catalog-summary" || p.Version != "0.1.0" {
		t.Fatalf("provider=%s@%s", p.Slug, p.Version)
	}
	metrics := p.Metrics()
	if len(metrics) != 2 {
		t.Fatalf("metrics=%d, want 2", len(metrics))
	}

	coverage := metrics[0].Requirements()[0]
	if coverage.SourceType != domain.SourceCMIP6 {
		t.Fatalf("source_type=%q", coverage.SourceType)
	}
	if diff := cmp.Diff([]string{"Amon"}, coverage.Filters[0].Facets["table_id"]); diff != "" {
		t.Fatalf("scalar facet not expanded (-want +got):\n%s", diff)
	}
	if !coverage.Filters[1].Exclude {
		t.Fatalf("expected second filter to exclude")
	}

	withAreas := metrics[1].Requirements()[0]
	if len(withAreas.Constraints) != 2 {
		t.Fatalf("constraints=%d, want 2", len(withAreas.Constraints))
	}
	if withAreas.Constraints[0].Operation == nil || withAreas.Constraints[1].Validator == nil {
		t.Fatalf("constraints built with wrong capabilities")
	}
	if metrics[1].Name() != "historical-with-cell-areas" {
		t.Fatalf("name=%q, want slug fallback", metrics[1].Name())
	}
}

func TestParseSpec_Invalid(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"schema", "schema: other\n", "schema must be"},
		{"no metrics", "schema: ref.provider.v1\nprovider: {slug: p, version: '1'}\n", "metrics must be non-empty"},
		{"bad source", `schema: ref.provider.v1
provider: {slug: p, version: '1'}
metrics:
  - slug: m
    requirements:
      - source_type: cmip5
        group_by: [source_id]
`, "source_type unsupported"},
		{"duplicate metric", `schema: ref.provider.v1
provider: {slug: p, version: '1'}
metrics:
  - slug: m
    requirements: [{source_type: cmip6, group_by: [source_id]}]
  - slug: m
    requirements: [{source_type: cmip6, group_by: [source_id]}]
`, "must be unique"},
		{"unknown constraint", `schema: ref.provider.v1
provider: {slug: p, version: '1'}
metrics:
  - slug: m
    requirements:
      - source_type: cmip6
        group_by: [source_id]
        constraints: [{type: magic}]
`, "type unsupported"},
		{"require facets needs values", `schema: ref.provider.v1
provider: {slug: p, version: '1'}
metrics:
  - slug: m
    requirements:
      - source_type: cmip6
        group_by: [source_id]
        constraints: [{type: require_facets, dimension: experiment_id}]
`, "values must be non-empty"},
		{"facet values mapping", `schema: ref.provider.v1
provider: {slug: p, version: '1'}
metrics:
  - slug: m
    requirements:
      - source_type: cmip6
        group_by: [source_id]
        filters: [{facets: {variable_id: {a: b}}}]
`, "expected a value or a list"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseSpec([]byte(tc.yaml))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err=%q, want substring %q", err, tc.want)
			}
		})
	}
}

func TestDeclaredMetricRun(t *testing.T) {
	p, err := LoadFile(filepath.Join("testdata", "provider.yaml"))
	if err != nil {
		t.Fatalf("LoadFile() err=%v", err)
	}
	m, ok := p.Get("ensemble-coverage")
	if !ok {
		t.Fatalf("metric not registered")
	}
	group := domain.NewGroup([]string{"M", "tas"}, domain.Catalog{
		{Slug: "a", InstanceID: "a", Facets: domain.Facets{"variant_label": "r1", "experiment_id": "historical"}},
		{Slug: "b", InstanceID: "b", Facets: domain.Facets{"variant_label": "r2", "experiment_id": "historical"}},
	})
	bundle, err := m.Run(context.Background(), metric.Definition{Key: group.Key, Group: group, DatasetHash: "h"})
	if err != nil {
		t.Fatalf("Run() err=%v", err)
	}
	results := bundle["RESULTS"].(map[string]any)[group.Key].(map[string]any)
	if results["dataset_count"] != 2 {
		t.Fatalf("dataset_count=%v, want 2", results["dataset_count"])
	}
	distinct := results["distinct"].(map[string]any)
	if distinct["variant_label"] != 2 || distinct["experiment_id"] != 1 {
		t.Fatalf("distinct=%v", distinct)
	}

	_, err = m.Run(context.Background(), metric.Definition{Key: "empty", Group: domain.NewGroup(nil, nil)})
	if err == nil {
		t.Fatalf("expected error for empty group")
	}
}

func TestBuildConstraint_SupplementaryNeedsFacets(t *testing.T) {
	_, err := buildConstraint(ConstraintSpec{Type: ConstraintAddSupplementary})
	if !errors.Is(err, errNoFacets) {
		t.Fatalf("err=%v, want errNoFacets", err)
	}
}
