package domain

import "strings"

// KeySeparator joins group-by values into an identity key.
const KeySeparator = "_"

// Group is a set of datasets sharing the same group-by facet values.
type Group struct {
	Key      string
	Values   []string
	Datasets Catalog
}

// GroupKey joins group-by values in declared order.
func GroupKey(values []string) string {
	return strings.Join(values, KeySeparator)
}

func NewGroup(values []string, datasets Catalog) Group {
	v := append([]string(nil), values...)
	return Group{Key: GroupKey(v), Values: v, Datasets: datasets.Dedupe()}
}

func (g Group) Len() int { return len(g.Datasets) }

// WithDatasets returns a copy of g holding the given datasets, deduplicated.
func (g Group) WithDatasets(datasets Catalog) Group {
	out := g
	out.Values = append([]string(nil), g.Values...)
	out.Datasets = datasets.Dedupe()
	return out
}
