package declare

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cmip-ref/ref-go/internal/domain"
)

const SpecSchemaV1 = "ref.provider.v1"

var errNoFacets = errors.New("no facets")

const (
	ConstraintRequireFacets          = "require_facets"
	ConstraintAddSupplementary       = "add_supplementary_dataset"
	ConstraintAddCellAreas           = "add_cell_areas"
	ConstraintAddSubRegionMasks      = "add_sub_region_masks"
	ConstraintSelectParentExperiment = "select_parent_experiment"
)

type Spec struct {
	Schema   string       `yaml:"schema"`
	Provider ProviderSpec `yaml:"provider"`
	Metrics  []MetricSpec `yaml:"metrics"`
}

type ProviderSpec struct {
	Slug    string `yaml:"slug"`
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type MetricSpec struct {
	Slug         string            `yaml:"slug"`
	Name         string            `yaml:"name"`
	Summary      []string          `yaml:"summary,omitempty"`
	Requirements []RequirementSpec `yaml:"requirements"`
}

type RequirementSpec struct {
	SourceType  string           `yaml:"source_type"`
	Filters     []FilterSpec     `yaml:"filters,omitempty"`
	GroupBy     []string         `yaml:"group_by"`
	Constraints []ConstraintSpec `yaml:"constraints,omitempty"`
}

type FilterSpec struct {
	Facets  map[string]Values `yaml:"facets"`
	Exclude bool              `yaml:"exclude,omitempty"`
}

type ConstraintSpec struct {
	Type             string            `yaml:"type"`
	Dimension        string            `yaml:"dimension,omitempty"`
	Values           Values            `yaml:"values,omitempty"`
	Facets           map[string]Values `yaml:"facets,omitempty"`
	Matching         []string          `yaml:"matching,omitempty"`
	OptionalMatching []string          `yaml:"optional_matching,omitempty"`
}

// Values accepts either a single scalar or a sequence of scalars.
type Values []string

func (v *Values) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*v = Values{node.Value}
		return nil
	case yaml.SequenceNode:
		var out []string
		if err := node.Decode(&out); err != nil {
			return err
		}
		*v = out
		return nil
	default:
		return fmt.Errorf("line %d: expected a value or a list of values", node.Line)
	}
}

func ParseSpec(input []byte) (Spec, error) {
	var spec Spec
	if err := yaml.Unmarshal(input, &spec); err != nil {
		return Spec{}, fmt.Errorf("decode spec: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

func (s Spec) Validate() error {
	if strings.TrimSpace(s.Schema) != SpecSchemaV1 {
		return fmt.Errorf("schema must be %q", SpecSchemaV1)
	}
	verr := &domain.ValidationError{Subject: "provider declaration"}
	if strings.TrimSpace(s.Provider.Slug) == "" {
		verr.Add("provider.slug is required")
	}
	if strings.TrimSpace(s.Provider.Version) == "" {
		verr.Add("provider.version is required")
	}
	if len(s.Metrics) == 0 {
		verr.Add("metrics must be non-empty")
	}

	seen := make(map[string]struct{}, len(s.Metrics))
	for i, m := range s.Metrics {
		prefix := fmt.Sprintf("metrics[%d]", i)
		slug := strings.TrimSpace(m.Slug)
		if slug == "" {
			verr.Add(prefix + ".slug is required")
		} else if _, dup := seen[slug]; dup {
			verr.Add(fmt.Sprintf("%s.slug must be unique (duplicate %q)", prefix, slug))
		}
		seen[slug] = struct{}{}

		if len(m.Requirements) == 0 {
			verr.Add(prefix + ".requirements must be non-empty")
		}
		for j, req := range m.Requirements {
			validateRequirement(verr, fmt.Sprintf("%s.requirements[%d]", prefix, j), req)
		}
	}
	return verr.OrNil()
}

func validateRequirement(verr *domain.ValidationError, prefix string, req RequirementSpec) {
	if domain.NormalizeSourceType(req.SourceType) == "" {
		verr.Add(fmt.Sprintf("%s.source_type unsupported: %q", prefix, req.SourceType))
	}
	if len(req.GroupBy) == 0 {
		verr.Add(prefix + ".group_by must be non-empty")
	}
	for i, f := range req.Filters {
		if len(f.Facets) == 0 {
			verr.Add(fmt.Sprintf("%s.filters[%d].facets must be non-empty", prefix, i))
		}
	}
	for i, c := range req.Constraints {
		cp := fmt.Sprintf("%s.constraints[%d]", prefix, i)
		switch strings.ToLower(strings.TrimSpace(c.Type)) {
		case ConstraintRequireFacets:
			if strings.TrimSpace(c.Dimension) == "" {
				verr.Add(cp + ".dimension is required for " + ConstraintRequireFacets)
			}
			if len(c.Values) == 0 {
				verr.Add(cp + ".values must be non-empty for " + ConstraintRequireFacets)
			}
		case ConstraintAddSupplementary:
			if len(c.Facets) == 0 {
				verr.Add(cp + ".facets must be non-empty for " + ConstraintAddSupplementary)
			}
		case ConstraintAddCellAreas, ConstraintAddSubRegionMasks, ConstraintSelectParentExperiment:
		case "":
			verr.Add(cp + ".type is required")
		default:
			verr.Add(fmt.Sprintf("%s.type unsupported: %q", cp, c.Type))
		}
	}
}
