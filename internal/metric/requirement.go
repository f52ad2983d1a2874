package metric

import (
	"fmt"
	"strings"

	"github.com/cmip-ref/ref-go/internal/constraint"
	"github.com/cmip-ref/ref-go/internal/domain"
)

// DataRequirement declares which datasets a metric consumes and how they
// are grouped into executions.
type DataRequirement struct {
	SourceType  domain.SourceDatasetType
	Filters     []domain.FacetFilter
	GroupBy     []string
	Constraints []constraint.Constraint
}

func (r DataRequirement) Validate() error {
	verr := &domain.ValidationError{Subject: "data requirement"}
	if domain.NormalizeSourceType(string(r.SourceType)) == "" {
		verr.Add(fmt.Sprintf("source_type unsupported: %q", r.SourceType))
	}
	if len(r.GroupBy) == 0 {
		verr.Add("group_by is required")
	}
	seen := make(map[string]struct{}, len(r.GroupBy))
	for _, facet := range r.GroupBy {
		if strings.TrimSpace(facet) == "" {
			verr.Add("group_by facet is empty")
			continue
		}
		if _, dup := seen[facet]; dup {
			verr.Add(fmt.Sprintf("group_by facet repeated: %s", facet))
		}
		seen[facet] = struct{}{}
	}
	for i, f := range r.Filters {
		if err := f.Validate(); err != nil {
			verr.Add(fmt.Sprintf("filters[%d]: %v", i, err))
		}
	}
	for i, c := range r.Constraints {
		if err := c.Validate(); err != nil {
			verr.Add(fmt.Sprintf("constraints[%d]: %v", i, err))
		}
	}
	return verr.OrNil()
}

// Matches reports whether ds is of the requirement's source type and passes
// its filters.
func (r DataRequirement) Matches(ds *domain.Dataset) bool {
	if ds == nil || ds.SourceType != r.SourceType {
		return false
	}
	return domain.MatchAny(r.Filters, ds)
}

func (r DataRequirement) Pipeline() (*constraint.Pipeline, error) {
	return constraint.NewPipeline(r.Constraints...)
}
