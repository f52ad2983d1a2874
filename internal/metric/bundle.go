package metric

import "sort"

// BundleSchema is the schema name stamped on every output bundle.
const BundleSchema = "CMEC-REF"

// NewBundle builds a CMEC-style bundle whose dimensions are the distinct
// facet values of the group for each listed facet.
func NewBundle(def Definition, pkg, version string, facets []string, results map[string]any) Bundle {
	dims := make(map[string]any, len(facets))
	for _, facet := range facets {
		values := def.Group.Datasets.Values(facet)
		sort.Strings(values)
		entry := make(map[string]any, len(values))
		for _, v := range values {
			entry[v] = map[string]any{}
		}
		dims[facet] = entry
	}
	structure := append([]string(nil), facets...)
	return Bundle{
		"DIMENSIONS": map[string]any{
			"dimensions":     dims,
			"json_structure": structure,
		},
		"SCHEMA": map[string]any{
			"name":    BundleSchema,
			"package": pkg,
			"version": version,
		},
		"RESULTS": results,
		"PROVENANCE": map[string]any{
			"key":          def.Key,
			"dataset_hash": def.DatasetHash,
			"datasets":     def.Group.Datasets.InstanceIDs(),
		},
	}
}
