package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// SourceDatasetType names the family a dataset was ingested from.
type SourceDatasetType string

const (
	SourceCMIP6    SourceDatasetType = "cmip6"
	SourceCMIP7    SourceDatasetType = "cmip7"
	SourceObs4MIPs SourceDatasetType = "obs4mips"
)

// NormalizeSourceType maps free-form values to a known source type.
func NormalizeSourceType(value string) SourceDatasetType {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(SourceCMIP6):
		return SourceCMIP6
	case string(SourceCMIP7):
		return SourceCMIP7
	case string(SourceObs4MIPs):
		return SourceObs4MIPs
	default:
		return ""
	}
}

// FacetVersion is the facet used to break ties between otherwise equal datasets.
const FacetVersion = "version"

// Facets holds the metadata attributes of a dataset.
type Facets map[string]string

// Get returns the facet value and whether the facet is present.
func (f Facets) Get(name string) (string, bool) {
	if f == nil {
		return "", false
	}
	v, ok := f[name]
	return v, ok
}

// Dataset is one immutable catalog row.
type Dataset struct {
	ID         string
	Slug       string
	InstanceID string
	SourceType SourceDatasetType
	Facets     Facets
	Retracted  bool
	CreatedAt  time.Time
}

func (d Dataset) Validate() error {
	if strings.TrimSpace(d.Slug) == "" {
		return errors.New("dataset slug is required")
	}
	if strings.TrimSpace(d.InstanceID) == "" {
		return errors.New("dataset instance id is required")
	}
	if NormalizeSourceType(string(d.SourceType)) == "" {
		return fmt.Errorf("dataset source type unsupported: %q", d.SourceType)
	}
	return nil
}

// Facet is shorthand for d.Facets.Get(name).
func (d *Dataset) Facet(name string) (string, bool) {
	if d == nil {
		return "", false
	}
	return d.Facets.Get(name)
}

// identity returns the value groups deduplicate on.
func (d *Dataset) identity() string {
	if d.Slug != "" {
		return d.Slug
	}
	return d.InstanceID
}

// Catalog is a read-only snapshot of datasets. Groups point into it.
type Catalog []*Dataset

// NewCatalog builds a snapshot from repository rows, dropping retracted datasets.
func NewCatalog(rows []Dataset) Catalog {
	out := make(Catalog, 0, len(rows))
	for i := range rows {
		if rows[i].Retracted {
			continue
		}
		ds := rows[i]
		out = append(out, &ds)
	}
	return out
}

// OfType returns the datasets of the given source type, preserving order.
func (c Catalog) OfType(sourceType SourceDatasetType) Catalog {
	out := make(Catalog, 0, len(c))
	for _, ds := range c {
		if ds.SourceType == sourceType {
			out = append(out, ds)
		}
	}
	return out
}

// Values returns the distinct values of a facet in catalog order.
func (c Catalog) Values(facet string) []string {
	seen := make(map[string]struct{}, len(c))
	out := make([]string, 0)
	for _, ds := range c {
		v, ok := ds.Facet(facet)
		if !ok {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Dedupe removes repeated datasets, keeping the first occurrence.
func (c Catalog) Dedupe() Catalog {
	seen := make(map[string]struct{}, len(c))
	out := make(Catalog, 0, len(c))
	for _, ds := range c {
		if ds == nil {
			continue
		}
		id := ds.identity()
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, ds)
	}
	return out
}

// InstanceIDs returns the sorted instance ids of the datasets.
func (c Catalog) InstanceIDs() []string {
	out := make([]string, 0, len(c))
	for _, ds := range c {
		out = append(out, ds.InstanceID)
	}
	sort.Strings(out)
	return out
}
