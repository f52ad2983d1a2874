package metric

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cmip-ref/ref-go/internal/constraint"
	"github.com/cmip-ref/ref-go/internal/domain"
)

type stubMetric struct {
	slug string
	reqs []DataRequirement
}

func (m stubMetric) Slug() string                    { return m.slug }
func (m stubMetric) Name() string                    { return m.slug }
func (m stubMetric) Requirements() []DataRequirement { return m.reqs }
func (m stubMetric) Run(context.Context, Definition) (Bundle, error) {
	return Bundle{}, nil
}

func validRequirement() DataRequirement {
	return DataRequirement{
		SourceType: domain.SourceCMIP6,
		Filters:    []domain.FacetFilter{domain.Facet("variable_id", "tas")},
		GroupBy:    []string{"source_id"},
	}
}

func TestDataRequirementValidate(t *testing.T) {
	if err := validRequirement().Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}

	bad := DataRequirement{
		SourceType:  "cmip5",
		GroupBy:     []string{"source_id", "source_id"},
		Filters:     []domain.FacetFilter{{}},
		Constraints: []constraint.Constraint{{Name: "nothing"}},
	}
	err := bad.Validate()
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err=%v, want ValidationError", err)
	}
	if len(verr.Issues) != 4 {
		t.Fatalf("issues=%v, want 4", verr.Issues)
	}
}

func TestDataRequirementMatches(t *testing.T) {
	req := validRequirement()
	tas := &domain.Dataset{SourceType: domain.SourceCMIP6, Facets: domain.Facets{"variable_id": "tas"}}
	obs := &domain.Dataset{SourceType: domain.SourceObs4MIPs, Facets: domain.Facets{"variable_id": "tas"}}
	noFacet := &domain.Dataset{SourceType: domain.SourceCMIP6}

	if !req.Matches(tas) {
		t.Fatalf("expected tas to match")
	}
	if req.Matches(obs) {
		t.Fatalf("expected source type mismatch")
	}
	if req.Matches(noFacet) {
		t.Fatalf("expected missing facet not to match")
	}
}

func TestProviderRegister(t *testing.T) {
	p := NewProvider("example", "Example", "1.0.0")
	if err := p.Register(stubMetric{slug: "a", reqs: []DataRequirement{validRequirement()}}); err != nil {
		t.Fatalf("Register() err=%v", err)
	}
	err := p.Register(stubMetric{slug: "a", reqs: []DataRequirement{validRequirement()}})
	if !errors.Is(err, ErrDuplicateMetric) {
		t.Fatalf("err=%v, want ErrDuplicateMetric", err)
	}
	if err := p.Register(stubMetric{slug: "b"}); err == nil {
		t.Fatalf("expected error for metric without requirements")
	}
	if _, ok := p.Get("a"); !ok {
		t.Fatalf("expected metric a")
	}
	if got := len(p.Metrics()); got != 1 {
		t.Fatalf("metrics=%d, want 1", got)
	}
}

func TestFragmentFor(t *testing.T) {
	got := FragmentFor("example", "gmt", "ACCESS_tas", "abc")
	if got != "example/gmt/ACCESS_tas/abc" {
		t.Fatalf("fragment=%q", got)
	}
	if strings.HasPrefix(got, "/") {
		t.Fatalf("fragment must be relative")
	}
}
