package metric

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cmip-ref/ref-go/internal/domain"
)

// Metric is a diagnostic that can be evaluated over a group of datasets.
type Metric interface {
	Slug() string
	Name() string
	Requirements() []DataRequirement
	Run(ctx context.Context, def Definition) (Bundle, error)
}

// Bundle is the CMEC-style output of a metric run.
type Bundle map[string]any

// Definition describes one execution of a metric over a group.
type Definition struct {
	Provider    string
	Metric      Metric
	Key         string
	Group       domain.Group
	DatasetHash string

	// Relative location of the execution's output.
	OutputFragment string
}

// Result is what an executor reports for a started execution.
type Result struct {
	Successful     bool
	Path           string
	OutputFragment string
	Error          string
}

// FragmentFor returns the relative output path for an execution.
func FragmentFor(provider, metricSlug, key, hash string) string {
	return strings.Join([]string{provider, metricSlug, key, hash}, "/")
}

// Provider groups metrics under a versioned slug.
type Provider struct {
	Slug    string
	Name    string
	Version string

	mu      sync.RWMutex
	metrics []Metric
	slugs   map[string]struct{}
}

func NewProvider(slug, name, version string) *Provider {
	return &Provider{Slug: slug, Name: name, Version: version, slugs: make(map[string]struct{})}
}

var ErrDuplicateMetric = errors.New("metric already registered")

// Register adds m after validating its requirements.
func (p *Provider) Register(m Metric) error {
	if m == nil {
		return errors.New("metric is required")
	}
	slug := strings.TrimSpace(m.Slug())
	if slug == "" {
		return errors.New("metric slug is required")
	}
	reqs := m.Requirements()
	if len(reqs) == 0 {
		return fmt.Errorf("metric %s: at least one data requirement is required", slug)
	}
	for i, req := range reqs {
		if err := req.Validate(); err != nil {
			return fmt.Errorf("metric %s: requirements[%d]: %w", slug, i, err)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.slugs == nil {
		p.slugs = make(map[string]struct{})
	}
	if _, dup := p.slugs[slug]; dup {
		return fmt.Errorf("%w: %s/%s", ErrDuplicateMetric, p.Slug, slug)
	}
	p.slugs[slug] = struct{}{}
	p.metrics = append(p.metrics, m)
	return nil
}

// Metrics returns the registered metrics in registration order.
func (p *Provider) Metrics() []Metric {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Metric(nil), p.metrics...)
}

// Get looks up a metric by slug.
func (p *Provider) Get(slug string) (Metric, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, m := range p.metrics {
		if m.Slug() == slug {
			return m, true
		}
	}
	return nil, false
}
