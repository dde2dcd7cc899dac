// Package jobs provides metrics for batch job operations.
package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricBatchJobsTotal        = "batch_jobs_total"
	MetricBatchJobsDuration     = "batch_jobs_duration_seconds"
	MetricBatchJobErrorsTotal   = "batch_job_errors_total"
	MetricFormulaErrorsTotal    = "formula_errors_total"
	MetricPublishedEntriesTotal = "published_entries_total"
)

// Job type constants for labeling.
const (
	JobTypeEventMigration = "event_migration"
	JobTypeGroupResolve   = "group_resolve"
	JobTypeRankingCompute = "ranking_compute"
	JobTypeRevenueRecalc  = "revenue_recalc"
	JobTypeBaseRanking    = "base_ranking"
)

// Status constants for job completion.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Metrics contains Prometheus metrics for batch job operations.
// All operations are thread-safe.
type Metrics struct {
	jobsTotal        *prometheus.CounterVec
	jobsDuration     *prometheus.HistogramVec
	jobErrors        *prometheus.CounterVec
	formulaErrors    *prometheus.CounterVec
	publishedEntries *prometheus.CounterVec
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricBatchJobsTotal,
				Help: "Total number of batch job executions by type and status",
			},
			[]string{"job_type", "status"},
		),
		jobsDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricBatchJobsDuration,
				Help:    "Histogram of batch job duration in seconds by job type",
				Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0, 120.0, 300.0},
			},
			[]string{"job_type"},
		),
		jobErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricBatchJobErrorsTotal,
				Help: "Total number of batch job errors by type and error type",
			},
			[]string{"job_type", "error_type"},
		),
		formulaErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricFormulaErrorsTotal,
				Help: "Total number of formula evaluation errors by reason",
			},
			[]string{"reason"},
		),
		publishedEntries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricPublishedEntriesTotal,
				Help: "Total number of ranking records published by mode",
			},
			[]string{"mode"},
		),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.jobsTotal,
		m.jobsDuration,
		m.jobErrors,
		m.formulaErrors,
		m.publishedEntries,
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncJobsTotal increments the jobs total counter.
// jobType: The type of job (e.g., JobTypeEventMigration)
// status: The completion status (StatusSuccess or StatusFailure)
func (m *Metrics) IncJobsTotal(jobType, status string) {
	m.jobsTotal.WithLabelValues(jobType, status).Inc()
}

// ObserveJobDuration records a job duration sample.
func (m *Metrics) ObserveJobDuration(jobType string, seconds float64) {
	m.jobsDuration.WithLabelValues(jobType).Observe(seconds)
}

// IncJobErrors increments the job errors counter.
// errorType: The type of error (e.g., "timeout", "database_error", "cache_error")
func (m *Metrics) IncJobErrors(jobType, errorType string) {
	m.jobErrors.WithLabelValues(jobType, errorType).Inc()
}

// IncFormulaErrors increments the formula error counter for the given reason
// (e.g., "unresolved_variable", "division_by_zero", "parse_error").
func (m *Metrics) IncFormulaErrors(reason string) {
	m.formulaErrors.WithLabelValues(reason).Inc()
}

// IncPublishedEntries adds to the published record counter for the given
// publish mode ("targeted" or "full").
func (m *Metrics) IncPublishedEntries(mode string, n int) {
	m.publishedEntries.WithLabelValues(mode).Add(float64(n))
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.jobsTotal,
		m.jobsDuration,
		m.jobErrors,
		m.formulaErrors,
		m.publishedEntries,
	}
}
