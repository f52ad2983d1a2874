package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cmip-ref/ref-go/internal/domain"
	"github.com/cmip-ref/ref-go/internal/platform/httpserver"
	"github.com/cmip-ref/ref-go/internal/repo"
	"github.com/cmip-ref/ref-go/internal/solver"
	"github.com/cmip-ref/ref-go/internal/storage/bundles"
)

const serviceName = "solver"

type solverAPI struct {
	logger   *slog.Logger
	store    repo.Store
	bundles  bundles.Store
	solver   *solver.Solver
	gatherer prometheus.Gatherer
}

func newSolverAPI(logger *slog.Logger, store repo.Store, bundleStore bundles.Store, s *solver.Solver, gatherer prometheus.Gatherer) *solverAPI {
	return &solverAPI{
		logger:   logger,
		store:    store,
		bundles:  bundleStore,
		solver:   s,
		gatherer: gatherer,
	}
}

func (api *solverAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", httpserver.Healthz(serviceName))
	mux.HandleFunc("GET /readyz", httpserver.Readyz(serviceName,
		httpserver.ReadinessCheck{Name: "store", Timeout: 750 * time.Millisecond, Check: api.store.Ping},
		httpserver.ReadinessCheck{Name: "bundles", Timeout: 750 * time.Millisecond, Check: api.bundles.Ping},
	))
	mux.Handle("GET /metrics", promhttp.HandlerFor(api.gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("POST /solve", api.handleSolve)

	mux.HandleFunc("GET /datasets", api.handleListDatasets)
	mux.HandleFunc("POST /datasets", api.handleIngestDataset)
	mux.HandleFunc("POST /datasets/{slug}/retract", api.handleRetractDataset)

	mux.HandleFunc("GET /executions", api.handleListExecutions)
	mux.HandleFunc("GET /executions/{execution_id}", api.handleGetExecution)
	mux.HandleFunc("POST /executions/{execution_id}/dirty", api.handleMarkDirty)
}

func (api *solverAPI) handleSolve(w http.ResponseWriter, r *http.Request) {
	summary, err := api.solver.Solve(r.Context())
	switch {
	case errors.Is(err, solver.ErrBusy):
		httpserver.WriteError(w, r, http.StatusConflict, "solve_in_progress")
		return
	case err != nil && len(summary.Errors) == 0:
		api.logger.Error("solve failed", "error", err)
		httpserver.WriteError(w, r, http.StatusInternalServerError, "solve_failed")
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, summary)
}

type dataset struct {
	DatasetID  string            `json:"dataset_id"`
	Slug       string            `json:"slug"`
	InstanceID string            `json:"instance_id"`
	SourceType string            `json:"source_type"`
	Facets     map[string]string `json:"facets"`
	Retracted  bool              `json:"retracted"`
	CreatedAt  time.Time         `json:"created_at"`
}

func toDataset(d domain.Dataset) dataset {
	facets := map[string]string(d.Facets)
	if facets == nil {
		facets = map[string]string{}
	}
	return dataset{
		DatasetID:  d.ID,
		Slug:       d.Slug,
		InstanceID: d.InstanceID,
		SourceType: string(d.SourceType),
		Facets:     facets,
		Retracted:  d.Retracted,
		CreatedAt:  d.CreatedAt,
	}
}

type ingestDatasetRequest struct {
	Slug       string            `json:"slug,omitempty"`
	InstanceID string            `json:"instance_id"`
	SourceType string            `json:"source_type"`
	Facets     map[string]string `json:"facets"`
}

func (api *solverAPI) handleIngestDataset(w http.ResponseWriter, r *http.Request) {
	var req ingestDatasetRequest
	if err := decodeJSON(r, &req); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	instanceID := strings.TrimSpace(req.InstanceID)
	slug := strings.TrimSpace(req.Slug)
	if slug == "" {
		slug = instanceID
	}
	ds := domain.Dataset{
		Slug:       slug,
		InstanceID: instanceID,
		SourceType: domain.NormalizeSourceType(req.SourceType),
		Facets:     domain.Facets(req.Facets),
	}
	if err := ds.Validate(); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_dataset")
		return
	}

	row, created, err := api.store.UpsertDataset(r.Context(), ds)
	if err != nil {
		api.logger.Error("dataset ingest failed", "slug", slug, "error", err)
		httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
		api.logger.Info("dataset ingested", "slug", row.Slug, "source_type", row.SourceType)
	}
	httpserver.WriteJSON(w, status, toDataset(row))
}

func (api *solverAPI) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	var sourceType domain.SourceDatasetType
	if raw := strings.TrimSpace(r.URL.Query().Get("source_type")); raw != "" {
		sourceType = domain.NormalizeSourceType(raw)
		if sourceType == "" {
			httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_source_type")
			return
		}
	}
	rows, err := api.store.ListDatasets(r.Context(), sourceType)
	if err != nil {
		httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	out := make([]dataset, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDataset(row))
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"datasets": out})
}

func (api *solverAPI) handleRetractDataset(w http.ResponseWriter, r *http.Request) {
	slug := strings.TrimSpace(r.PathValue("slug"))
	if err := api.store.RetractDataset(r.Context(), slug); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			httpserver.WriteError(w, r, http.StatusNotFound, "not_found")
			return
		}
		httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.logger.Info("dataset retracted", "slug", slug)
	w.WriteHeader(http.StatusNoContent)
}

type executionResult struct {
	ResultID       string    `json:"result_id"`
	DatasetHash    string    `json:"dataset_hash"`
	Attempt        int       `json:"attempt"`
	Successful     *bool     `json:"successful"`
	Path           string    `json:"path,omitempty"`
	OutputFragment string    `json:"output_fragment"`
	DatasetIDs     []string  `json:"dataset_ids"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type execution struct {
	ExecutionID  string            `json:"execution_id"`
	MetricID     string            `json:"metric_id"`
	Key          string            `json:"key"`
	Dirty        bool              `json:"dirty"`
	Retracted    bool              `json:"retracted"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	LatestResult *executionResult  `json:"latest_result,omitempty"`
	Results      []executionResult `json:"results,omitempty"`
}

func toExecutionResult(res domain.ExecutionResult) executionResult {
	ids := res.DatasetIDs
	if ids == nil {
		ids = []string{}
	}
	return executionResult{
		ResultID:       res.ID,
		DatasetHash:    res.DatasetHash,
		Attempt:        res.Attempt,
		Successful:     res.Successful,
		Path:           res.Path,
		OutputFragment: res.OutputFragment,
		DatasetIDs:     ids,
		CreatedAt:      res.CreatedAt,
		UpdatedAt:      res.UpdatedAt,
	}
}

func toExecution(e domain.MetricExecution, withHistory bool) execution {
	out := execution{
		ExecutionID: e.ID,
		MetricID:    e.MetricID,
		Key:         e.Key,
		Dirty:       e.Dirty,
		Retracted:   e.Retracted,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
	if latest := e.Latest(); latest != nil {
		res := toExecutionResult(*latest)
		out.LatestResult = &res
	}
	if withHistory {
		for _, res := range e.Results {
			out.Results = append(out.Results, toExecutionResult(res))
		}
	}
	return out
}

func (api *solverAPI) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repo.ExecutionFilter{
		MetricSlug: strings.TrimSpace(q.Get("metric")),
		Limit:      clampInt(parseIntQuery(r, "limit", 100), 1, 1000),
	}
	if raw := strings.TrimSpace(q.Get("dirty")); raw != "" {
		dirty, err := strconv.ParseBool(raw)
		if err != nil {
			httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_dirty")
			return
		}
		filter.Dirty = &dirty
	}

	rows, err := api.store.ListExecutions(r.Context(), filter)
	if err != nil {
		api.logger.Error("list executions failed", "error", err)
		httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	out := make([]execution, 0, len(rows))
	for _, row := range rows {
		out = append(out, toExecution(row, false))
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"executions": out})
}

func (api *solverAPI) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	row, err := api.store.GetExecution(r.Context(), strings.TrimSpace(r.PathValue("execution_id")))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			httpserver.WriteError(w, r, http.StatusNotFound, "not_found")
			return
		}
		httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, toExecution(row, true))
}

func (api *solverAPI) handleMarkDirty(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("execution_id"))
	if err := api.solver.MarkDirty(r.Context(), id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			httpserver.WriteError(w, r, http.StatusNotFound, "not_found")
			return
		}
		httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.logger.Info("execution marked dirty", "execution_id", id)
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"execution_id": id, "dirty": true})
}

// runPeriodic solves every interval until ctx is done.
func runPeriodic(ctx context.Context, logger *slog.Logger, s *solver.Solver, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Solve(ctx); err != nil && !errors.Is(err, solver.ErrBusy) {
				logger.Warn("periodic solve finished with errors", "error", err)
			}
		}
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func parseIntQuery(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get(key)))
	if err != nil {
		return def
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
