// Package metrics exposes Prometheus instrumentation for provisioning runs.
//
// All methods are nil-safe: a nil *RunMetrics is a no-op, so callers that
// run without instrumentation pass nil and pay nothing.
package metrics

import (
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

// RunMetrics instruments the executor's backend calls and row outcomes.
type RunMetrics struct {
	operations  *prometheus.CounterVec
	opDuration  *prometheus.HistogramVec
	retries     *prometheus.CounterVec
	rows        *prometheus.CounterVec
	runDuration prometheus.Histogram
}

// New registers the run metrics on reg. Pass prometheus.DefaultRegisterer
// for the process-global registry, or a fresh registry in tests.
func New(reg prometheus.Registerer) *RunMetrics {
	return &RunMetrics{
		operations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "keeperperms_operations_total",
				Help: "Backend operations by type and status",
			},
			[]string{"operation", "status"}, // status: "success", "skipped", "failed"
		),
		opDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "keeperperms_operation_duration_seconds",
				Help: "Duration of backend operations",
				Buckets: []float64{
					0.05, // cached folder lookups
					0.1,
					0.25,
					0.5,
					1,
					2.5,
					5,
					10, // calls that exhausted retries
				},
			},
			[]string{"operation"},
		),
		retries: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "keeperperms_operation_retries_total",
				Help: "Retried backend operations by type",
			},
			[]string{"operation"},
		),
		rows: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "keeperperms_rows_total",
				Help: "CSV row outcomes by result",
			},
			[]string{"result"}, // "success", "failed"
		),
		runDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "keeperperms_run_duration_seconds",
				Help:    "Wall-clock duration of complete runs",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
		),
	}
}

// ObserveOperation records one backend call.
func (m *RunMetrics) ObserveOperation(operation, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, status).Inc()
	m.opDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// ObserveSkip records an operation satisfied from the checkpoint without a
// backend call.
func (m *RunMetrics) ObserveSkip(operation string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, "skipped").Inc()
}

// ObserveRetry records a retried backend call.
func (m *RunMetrics) ObserveRetry(operation string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(operation).Inc()
}

// ObserveRow records the final outcome of one CSV row.
func (m *RunMetrics) ObserveRow(success bool) {
	if m == nil {
		return
	}
	result := "failed"
	if success {
		result = "success"
	}
	m.rows.WithLabelValues(result).Inc()
}

// ObserveRun records the wall-clock duration of a run.
func (m *RunMetrics) ObserveRun(d time.Duration) {
	if m == nil {
		return
	}
	m.runDuration.Observe(d.Seconds())
}

// WriteText renders every metric in g in the Prometheus text exposition
// format. The process is a one-shot CLI with no scrape endpoint, so this
// is how a run's observations leave the process (apply --metrics).
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
