package solver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the solver's Prometheus collectors. A nil registerer leaves
// them unregistered.
type Metrics struct {
	solves            *prometheus.CounterVec
	solveDuration     prometheus.Histogram
	groups            *prometheus.CounterVec
	executionsCreated *prometheus.CounterVec
	decisions         *prometheus.CounterVec
	runs              *prometheus.CounterVec
	runDuration       *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		solves: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ref_solver_solves_total",
			Help: "Solve passes by outcome",
		}, []string{"outcome"}),
		solveDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ref_solver_solve_duration_seconds",
			Help:    "Wall time of a full solve pass including dispatch",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		groups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ref_solver_groups_total",
			Help: "Groups accepted by the constraint pipeline",
		}, []string{"metric"}),
		executionsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ref_solver_executions_created_total",
			Help: "Metric executions created",
		}, []string{"metric"}),
		decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ref_solver_run_decisions_total",
			Help: "Run decisions by reason",
		}, []string{"reason"}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ref_solver_runs_total",
			Help: "Dispatched metric runs by outcome",
		}, []string{"metric", "outcome"}),
		runDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ref_solver_run_duration_seconds",
			Help:    "Duration of a single metric run",
			Buckets: prometheus.DefBuckets,
		}, []string{"metric"}),
	}
}
