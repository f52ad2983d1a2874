package grouping

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/cmip-ref/ref-go/internal/constraint"
	"github.com/cmip-ref/ref-go/internal/domain"
	"github.com/cmip-ref/ref-go/internal/metric"
)

func row(slug, source, variable, experiment string) *domain.Dataset {
	return &domain.Dataset{
		Slug:       slug,
		InstanceID: "CMIP6." + slug,
		SourceType: domain.SourceCMIP6,
		Facets: domain.Facets{
			"source_id":     source,
			"variable_id":   variable,
			"experiment_id": experiment,
		},
	}
}

func keys(groups []domain.Group) []string {
	out := make([]string, 0, len(groups))
	for _, g := range groups {
		out = append(out, g.Key)
	}
	return out
}

func requirement(constraints ...constraint.Constraint) metric.DataRequirement {
	return metric.DataRequirement{
		SourceType:  domain.SourceCMIP6,
		Filters:     []domain.FacetFilter{domain.Facet("variable_id", "tas")},
		GroupBy:     []string{"source_id", "experiment_id"},
		Constraints: constraints,
	}
}

func TestGroups_PartitionsAndOrders(t *testing.T) {
	catalog := domain.Catalog{
		row("b-hist-1", "B", "tas", "historical"),
		row("a-hist", "A", "tas", "historical"),
		row("b-hist-2", "B", "tas", "historical"),
		row("a-pr", "A", "pr", "historical"),
		row("a-pi", "A", "tas", "piControl"),
	}

	groups, err := NewEngine(nil, 2).Groups(context.Background(), catalog, requirement())
	if err != nil {
		t.Fatalf("Groups() err=%v", err)
	}
	if diff := cmp.Diff([]string{"A_historical", "A_piControl", "B_historical"}, keys(groups)); diff != "" {
		t.Fatalf("keys mismatch (-want +got):\n%s", diff)
	}
	got := groups[2].Datasets.InstanceIDs()
	if diff := cmp.Diff([]string{"CMIP6.b-hist-1", "CMIP6.b-hist-2"}, got); diff != "" {
		t.Fatalf("datasets mismatch (-want +got):\n%s", diff)
	}
	if groups[2].Datasets[0].Slug != "b-hist-1" {
		t.Fatalf("catalog order not preserved within partition")
	}
}

func TestGroups_SkipsDatasetsMissingGroupByFacet(t *testing.T) {
	noExperiment := &domain.Dataset{Slug: "x", InstanceID: "x", SourceType: domain.SourceCMIP6, Facets: domain.Facets{"variable_id": "tas", "source_id": "A"}}
	catalog := domain.Catalog{noExperiment, row("a", "A", "tas", "historical")}

	groups, err := NewEngine(nil, 1).Groups(context.Background(), catalog, requirement())
	if err != nil {
		t.Fatalf("Groups() err=%v", err)
	}
	if len(groups) != 1 || groups[0].Len() != 1 {
		t.Fatalf("groups=%v, want one group with one dataset", keys(groups))
	}
}

func TestGroups_SingleRejectionDropsOneGroup(t *testing.T) {
	catalog := domain.Catalog{
		row("a", "A", "tas", "historical"),
		row("b", "B", "tas", "historical"),
		row("c", "C", "tas", "historical"),
	}
	rejectB := constraint.Constraint{
		Name: "not-b",
		Validator: constraint.ValidatorFunc(func(g domain.Group) bool {
			return g.Values[0] != "B"
		}),
	}

	without, err := NewEngine(nil, 4).Groups(context.Background(), catalog, requirement())
	if err != nil {
		t.Fatalf("Groups() err=%v", err)
	}
	with, err := NewEngine(nil, 4).Groups(context.Background(), catalog, requirement(rejectB))
	if err != nil {
		t.Fatalf("Groups() err=%v", err)
	}
	if len(without)-len(with) != 1 {
		t.Fatalf("groups without=%d with=%d, want exactly one dropped", len(without), len(with))
	}
	if diff := cmp.Diff([]string{"A_historical", "C_historical"}, keys(with)); diff != "" {
		t.Fatalf("keys mismatch (-want +got):\n%s", diff)
	}
}

func TestGroups_RequireFacetsRejection(t *testing.T) {
	catalog := domain.Catalog{
		row("a-hist", "A", "tas", "historical"),
		row("a-pi", "A", "tas", "piControl"),
		row("b-hist", "B", "tas", "historical"),
	}
	req := metric.DataRequirement{
		SourceType:  domain.SourceCMIP6,
		Filters:     []domain.FacetFilter{domain.Facet("variable_id", "tas")},
		GroupBy:     []string{"source_id"},
		Constraints: []constraint.Constraint{constraint.RequireFacets("experiment_id", "historical", "piControl")},
	}
	groups, err := NewEngine(nil, 1).Groups(context.Background(), catalog, req)
	if err != nil {
		t.Fatalf("Groups() err=%v", err)
	}
	if diff := cmp.Diff([]string{"A"}, keys(groups)); diff != "" {
		t.Fatalf("keys mismatch (-want +got):\n%s", diff)
	}
}

func TestGroups_NotImplementedSurfaces(t *testing.T) {
	catalog := domain.Catalog{row("a", "A", "tas", "historical")}
	_, err := NewEngine(nil, 1).Groups(context.Background(), catalog, requirement(constraint.SelectParentExperiment()))
	if !errors.Is(err, constraint.ErrNotImplemented) {
		t.Fatalf("err=%v, want ErrNotImplemented", err)
	}
}

func TestGroups_KeyCollision(t *testing.T) {
	catalog := domain.Catalog{
		row("one", "A_B", "tas", "C"),
		row("two", "A", "tas", "B_C"),
	}
	_, err := NewEngine(nil, 1).Groups(context.Background(), catalog, requirement())
	if !errors.Is(err, ErrKeyCollision) {
		t.Fatalf("err=%v, want ErrKeyCollision", err)
	}
}

func TestGroups_SupplementaryDrawsFromUnfilteredCatalog(t *testing.T) {
	model := row("tas", "A", "tas", "historical")
	model.Facets["grid_label"] = "gn"
	area := &domain.Dataset{Slug: "area", InstanceID: "area", SourceType: domain.SourceCMIP6, Facets: domain.Facets{
		"source_id": "A", "grid_label": "gn", "variable_id": "areacella", "frequency": "fx",
	}}
	catalog := domain.Catalog{model, area}

	groups, err := NewEngine(nil, 1).Groups(context.Background(), catalog, requirement(constraint.AddCellAreas()))
	if err != nil {
		t.Fatalf("Groups() err=%v", err)
	}
	if len(groups) != 1 || groups[0].Len() != 2 {
		t.Fatalf("groups=%v, want one group with the cell area added", keys(groups))
	}
}

func TestGroups_Deterministic(t *testing.T) {
	var catalog domain.Catalog
	for _, src := range []string{"E", "C", "A", "D", "B"} {
		for _, exp := range []string{"ssp585", "historical", "ssp126"} {
			catalog = append(catalog, row(src+"-"+exp, src, "tas", exp))
		}
	}
	first, err := NewEngine(nil, 8).Groups(context.Background(), catalog, requirement())
	if err != nil {
		t.Fatalf("Groups() err=%v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := NewEngine(nil, 8).Groups(context.Background(), catalog, requirement())
		if err != nil {
			t.Fatalf("Groups() err=%v", err)
		}
		if diff := cmp.Diff(keys(first), keys(again)); diff != "" {
			t.Fatalf("run %d differs (-first +again):\n%s", i, diff)
		}
	}
	if len(first) != 15 {
		t.Fatalf("groups=%d, want 15", len(first))
	}
}
