package constraint

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cmip-ref/ref-go/internal/domain"
)

// RequireFacets accepts a group only when its datasets cover every required
// value of dimension. A group with no dataset carrying dimension is rejected.
func RequireFacets(dimension string, required ...string) Constraint {
	req := append([]string(nil), required...)
	return Constraint{
		Name: fmt.Sprintf("RequireFacets(%s=%s)", dimension, strings.Join(req, ",")),
		Validator: ValidatorFunc(func(group domain.Group) bool {
			present := make(map[string]struct{})
			for _, ds := range group.Datasets {
				if v, ok := ds.Facet(dimension); ok {
					present[v] = struct{}{}
				}
			}
			if len(present) == 0 {
				return false
			}
			for _, v := range req {
				if _, ok := present[v]; !ok {
					return false
				}
			}
			return true
		}),
	}
}

// SelectParentExperiment will add the parent experiment of each dataset.
// Parent lookup is not available, so it always fails with ErrNotImplemented.
func SelectParentExperiment() Constraint {
	return Constraint{
		Name: "SelectParentExperiment",
		Operation: OperationFunc(func(domain.Group, domain.Catalog) (domain.Group, error) {
			return domain.Group{}, ErrNotImplemented
		}),
	}
}

// Supplementary pulls extra datasets, such as cell measures, into a group.
type Supplementary struct {
	// Facets describing the supplementary dataset.
	Facets map[string][]string
	// Facets whose group values the supplementary dataset must share.
	Matching []string
	// Facets used to rank candidates when several match.
	OptionalMatching []string
}

// AddSupplementaryDataset returns a constraint wrapping s as an operation.
func AddSupplementaryDataset(s Supplementary) Constraint {
	return Constraint{
		Name:      "AddSupplementaryDataset(" + domain.FacetFilter{Facets: s.Facets}.String() + ")",
		Operation: s,
	}
}

// AddCellAreas adds the areacella cell measure matching each group.
func AddCellAreas() Constraint {
	return AddSupplementaryDataset(ancillary("areacella", "fx"))
}

// AddSubRegionMasks adds the sftlf land fraction matching each group.
func AddSubRegionMasks() Constraint {
	return AddSupplementaryDataset(ancillary("sftlf", "fx"))
}

func ancillary(variable, frequency string) Supplementary {
	return Supplementary{
		Facets:           map[string][]string{"variable_id": {variable}, "frequency": {frequency}},
		Matching:         []string{"source_id", "grid_label"},
		OptionalMatching: []string{"member_id", "experiment_id"},
	}
}

func (s Supplementary) Apply(group domain.Group, catalog domain.Catalog) (domain.Group, error) {
	selector := make(map[string][]string, len(s.Facets)+len(s.Matching))
	for facet, values := range s.Facets {
		selector[facet] = append([]string(nil), values...)
	}
	for _, facet := range s.Matching {
		selector[facet] = append(selector[facet], group.Datasets.Values(facet)...)
	}

	candidates := catalog.Filter(domain.NewFacetFilter(selector))
	if len(candidates) == 0 {
		return group, nil
	}

	if len(s.OptionalMatching) > 0 {
		candidates = s.bestMatches(group, candidates)
	}

	merged := make(domain.Catalog, 0, len(group.Datasets)+len(candidates))
	merged = append(merged, group.Datasets...)
	merged = append(merged, candidates...)
	return group.WithDatasets(merged), nil
}

// bestMatches keeps one candidate per distinct facet combination in the
// group: highest shared facet count, then highest version, then the first
// in catalog order. Winners are returned in catalog order.
func (s Supplementary) bestMatches(group domain.Group, candidates domain.Catalog) domain.Catalog {
	facets := append(append([]string(nil), s.Matching...), s.OptionalMatching...)

	winners := make(map[int]struct{})
	for _, combo := range combinations(group.Datasets, facets) {
		best := -1
		bestScore := -1
		for i, candidate := range candidates {
			score := 0
			for j, facet := range facets {
				v, ok := candidate.Facet(facet)
				if ok && combo[j].ok && v == combo[j].value {
					score++
				}
			}
			if score > bestScore {
				best, bestScore = i, score
				continue
			}
			if score == bestScore && newerVersion(candidate, candidates[best]) {
				best = i
			}
		}
		winners[best] = struct{}{}
	}

	idx := make([]int, 0, len(winners))
	for i := range winners {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	out := make(domain.Catalog, 0, len(idx))
	for _, i := range idx {
		out = append(out, candidates[i])
	}
	return out
}

type facetValue struct {
	value string
	ok    bool
}

// combinations lists the distinct facet tuples of the datasets in order of
// first appearance.
func combinations(datasets domain.Catalog, facets []string) [][]facetValue {
	seen := make(map[string]struct{})
	var out [][]facetValue
	for _, ds := range datasets {
		combo := make([]facetValue, len(facets))
		var key strings.Builder
		for i, facet := range facets {
			v, ok := ds.Facet(facet)
			combo[i] = facetValue{value: v, ok: ok}
			fmt.Fprintf(&key, "%t:%d:%s|", ok, len(v), v)
		}
		if _, dup := seen[key.String()]; dup {
			continue
		}
		seen[key.String()] = struct{}{}
		out = append(out, combo)
	}
	return out
}

// newerVersion reports whether a has a strictly greater version than b.
// A missing version sorts lowest.
func newerVersion(a, b *domain.Dataset) bool {
	av, aok := a.Facet(domain.FacetVersion)
	bv, bok := b.Facet(domain.FacetVersion)
	switch {
	case !aok:
		return false
	case !bok:
		return true
	default:
		return av > bv
	}
}
