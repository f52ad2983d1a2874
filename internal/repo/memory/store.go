package memory

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cmip-ref/ref-go/internal/domain"
	"github.com/cmip-ref/ref-go/internal/repo"
)

// Store keeps everything in process memory. It is used for tests and the
// "memory" storage driver.
type Store struct {
	mu sync.RWMutex

	datasets      []domain.Dataset
	datasetBySlug map[string]int

	providers      map[string]domain.Provider
	metrics        map[string]domain.Metric
	metricBySlug   map[string]string
	executions     map[string]*domain.MetricExecution
	executionByKey map[string]string
	executionOrder []string

	now func() time.Time
}

var _ repo.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		datasetBySlug:  make(map[string]int),
		providers:      make(map[string]domain.Provider),
		metrics:        make(map[string]domain.Metric),
		metricBySlug:   make(map[string]string),
		executions:     make(map[string]*domain.MetricExecution),
		executionByKey: make(map[string]string),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }

func (s *Store) UpsertDataset(_ context.Context, ds domain.Dataset) (domain.Dataset, bool, error) {
	if err := ds.Validate(); err != nil {
		return domain.Dataset{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.datasetBySlug[ds.Slug]; ok {
		return cloneDataset(s.datasets[i]), false, nil
	}
	if strings.TrimSpace(ds.ID) == "" {
		ds.ID = uuid.NewString()
	}
	if ds.CreatedAt.IsZero() {
		ds.CreatedAt = s.now()
	}
	ds = cloneDataset(ds)
	s.datasetBySlug[ds.Slug] = len(s.datasets)
	s.datasets = append(s.datasets, ds)
	return cloneDataset(ds), true, nil
}

func (s *Store) ListDatasets(_ context.Context, sourceType domain.SourceDatasetType) ([]domain.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Dataset, 0, len(s.datasets))
	for _, ds := range s.datasets {
		if sourceType != "" && ds.SourceType != sourceType {
			continue
		}
		out = append(out, cloneDataset(ds))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Slug < out[j].Slug
	})
	return out, nil
}

func (s *Store) RetractDataset(_ context.Context, slug string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.datasetBySlug[slug]
	if !ok {
		return repo.ErrNotFound
	}
	s.datasets[i].Retracted = true
	return nil
}

func (s *Store) GetOrCreateProvider(_ context.Context, p domain.Provider) (domain.Provider, bool, error) {
	if strings.TrimSpace(p.Slug) == "" {
		return domain.Provider{}, false, errors.New("provider slug is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := p.Slug + "@" + p.Version
	if existing, ok := s.providers[key]; ok {
		return existing, false, nil
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	s.providers[key] = p
	return p, true, nil
}

func (s *Store) GetOrCreateMetric(_ context.Context, m domain.Metric) (domain.Metric, bool, error) {
	if strings.TrimSpace(m.Slug) == "" {
		return domain.Metric{}, false, errors.New("metric slug is required")
	}
	if strings.TrimSpace(m.ProviderID) == "" {
		return domain.Metric{}, false, errors.New("provider id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := m.ProviderID + "/" + m.Slug
	if id, ok := s.metricBySlug[key]; ok {
		return s.metrics[id], false, nil
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	s.metrics[m.ID] = m
	s.metricBySlug[key] = m.ID
	return m, true, nil
}

func (s *Store) GetOrCreateExecution(_ context.Context, metricID, key string) (domain.MetricExecution, bool, error) {
	if strings.TrimSpace(metricID) == "" {
		return domain.MetricExecution{}, false, errors.New("metric id is required")
	}
	if strings.TrimSpace(key) == "" {
		return domain.MetricExecution{}, false, errors.New("key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.metrics[metricID]; !ok {
		return domain.MetricExecution{}, false, repo.ErrNotFound
	}
	k := metricID + "\x00" + key
	if id, ok := s.executionByKey[k]; ok {
		return cloneExecution(*s.executions[id]), false, nil
	}
	now := s.now()
	exec := &domain.MetricExecution{
		ID:        uuid.NewString(),
		MetricID:  metricID,
		Key:       key,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.executions[exec.ID] = exec
	s.executionByKey[k] = exec.ID
	s.executionOrder = append(s.executionOrder, exec.ID)
	return cloneExecution(*exec), true, nil
}

func (s *Store) GetExecution(_ context.Context, id string) (domain.MetricExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.executions[id]
	if !ok {
		return domain.MetricExecution{}, repo.ErrNotFound
	}
	return cloneExecution(*exec), nil
}

func (s *Store) ListExecutions(_ context.Context, filter repo.ExecutionFilter) ([]domain.MetricExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.MetricExecution, 0)
	for _, id := range s.executionOrder {
		exec := s.executions[id]
		if filter.MetricID != "" && exec.MetricID != filter.MetricID {
			continue
		}
		if filter.MetricSlug != "" && s.metrics[exec.MetricID].Slug != filter.MetricSlug {
			continue
		}
		if filter.Dirty != nil && exec.Dirty != *filter.Dirty {
			continue
		}
		out = append(out, cloneExecution(*exec))
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) RecordResult(_ context.Context, res domain.ExecutionResult) (domain.ExecutionResult, error) {
	if strings.TrimSpace(res.DatasetHash) == "" {
		return domain.ExecutionResult{}, errors.New("dataset hash is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.executions[res.ExecutionID]
	if !ok {
		return domain.ExecutionResult{}, repo.ErrNotFound
	}

	now := s.now()
	attempt := 1
	for _, r := range exec.Results {
		if r.Attempt >= attempt {
			attempt = r.Attempt + 1
		}
	}

	idx := -1
	for i := range exec.Results {
		if exec.Results[i].DatasetHash == res.DatasetHash {
			idx = i
			break
		}
	}
	if idx < 0 {
		if res.ID == "" {
			res.ID = uuid.NewString()
		}
		res.CreatedAt = now
		res.DatasetIDs = append([]string(nil), res.DatasetIDs...)
		exec.Results = append(exec.Results, res)
		idx = len(exec.Results) - 1
	} else {
		existing := &exec.Results[idx]
		existing.Successful = res.Successful
		existing.Path = res.Path
		existing.OutputFragment = res.OutputFragment
		existing.DatasetIDs = mergeIDs(existing.DatasetIDs, res.DatasetIDs)
	}
	exec.Results[idx].Attempt = attempt
	exec.Results[idx].UpdatedAt = now
	stored := cloneResult(exec.Results[idx])
	sort.SliceStable(exec.Results, func(i, j int) bool { return exec.Results[i].Attempt < exec.Results[j].Attempt })

	exec.Dirty = false
	exec.UpdatedAt = now
	return stored, nil
}

func (s *Store) SetDirty(_ context.Context, executionID string, dirty bool) error {
	return s.update(executionID, func(e *domain.MetricExecution) { e.Dirty = dirty })
}

func (s *Store) SetRetracted(_ context.Context, executionID string, retracted bool) error {
	return s.update(executionID, func(e *domain.MetricExecution) { e.Retracted = retracted })
}

func (s *Store) update(id string, fn func(*domain.MetricExecution)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.executions[id]
	if !ok {
		return repo.ErrNotFound
	}
	fn(exec)
	exec.UpdatedAt = s.now()
	return nil
}

func mergeIDs(a, b []string) []string {
	out := append([]string(nil), a...)
	for _, id := range b {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

func cloneDataset(ds domain.Dataset) domain.Dataset {
	facets := make(domain.Facets, len(ds.Facets))
	for k, v := range ds.Facets {
		facets[k] = v
	}
	ds.Facets = facets
	return ds
}

func cloneResult(r domain.ExecutionResult) domain.ExecutionResult {
	r.DatasetIDs = append([]string(nil), r.DatasetIDs...)
	if r.Successful != nil {
		r.Successful = domain.BoolPtr(*r.Successful)
	}
	return r
}

func cloneExecution(e domain.MetricExecution) domain.MetricExecution {
	results := make([]domain.ExecutionResult, 0, len(e.Results))
	for _, r := range e.Results {
		results = append(results, cloneResult(r))
	}
	e.Results = results
	return e
}
