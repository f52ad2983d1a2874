package domain

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
)

// FacetFilter selects datasets whose facets carry one of the allowed values.
// Every named facet must match. An Exclude filter removes what it matches.
type FacetFilter struct {
	Facets  map[string][]string
	Exclude bool
}

// NewFacetFilter builds a keep filter from facet -> allowed values.
func NewFacetFilter(facets map[string][]string) FacetFilter {
	return FacetFilter{Facets: facets}
}

// Facet returns a single-facet keep filter.
func Facet(name string, values ...string) FacetFilter {
	return FacetFilter{Facets: map[string][]string{name: values}}
}

// Matches reports whether the dataset satisfies every facet of the filter.
// A facet missing from the dataset is a non-match.
func (f FacetFilter) Matches(ds *Dataset) bool {
	if ds == nil {
		return false
	}
	for name, allowed := range f.Facets {
		value, ok := ds.Facet(name)
		if !ok {
			return false
		}
		if !slices.Contains(allowed, value) {
			return false
		}
	}
	return true
}

func (f FacetFilter) Validate() error {
	if len(f.Facets) == 0 {
		return errors.New("facet filter has no facets")
	}
	for name, allowed := range f.Facets {
		if strings.TrimSpace(name) == "" {
			return errors.New("facet filter has an empty facet name")
		}
		if len(allowed) == 0 {
			return fmt.Errorf("facet %q has no allowed values", name)
		}
	}
	return nil
}

func (f FacetFilter) String() string {
	names := make([]string, 0, len(f.Facets))
	for name := range f.Facets {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+strings.Join(f.Facets[name], "|"))
	}
	prefix := ""
	if f.Exclude {
		prefix = "!"
	}
	return prefix + "{" + strings.Join(parts, ",") + "}"
}

// MatchAny applies keep filters as OR and exclude filters as AND NOT.
// With no keep filters every dataset is kept.
func MatchAny(filters []FacetFilter, ds *Dataset) bool {
	kept := true
	sawKeep := false
	for _, f := range filters {
		if f.Exclude {
			continue
		}
		if !sawKeep {
			sawKeep = true
			kept = false
		}
		if f.Matches(ds) {
			kept = true
			break
		}
	}
	if !kept {
		return false
	}
	for _, f := range filters {
		if f.Exclude && f.Matches(ds) {
			return false
		}
	}
	return true
}

// Filter returns the catalog rows matching the filters, preserving order.
func (c Catalog) Filter(filters ...FacetFilter) Catalog {
	out := make(Catalog, 0, len(c))
	for _, ds := range c {
		if MatchAny(filters, ds) {
			out = append(out, ds)
		}
	}
	return out
}
