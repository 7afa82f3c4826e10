// Package metrics provides metrics collection for ETL pipeline runs.
// Stage timings, row counts and per-rule validation removals are recorded on a private
// Prometheus registry. A batch run has no scrape endpoint, so the registry is exported once
// at the end of the run in the node_exporter textfile format.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Run status label values
const (
	StatusSuccess  = "success"
	StatusFailed   = "failed"
	StatusDegraded = "degraded"
)

// Recorder receives observations from the pipeline and the validator.
type Recorder interface {
	// ObserveStage records one executed stage with its row counts and duration.
	ObserveStage(stage string, rowsIn, rowsOut int, elapsed time.Duration)
	// ObserveRemoved records rows removed by a validation rule.
	ObserveRemoved(rule string, count int)
	// ObserveRun records the outcome of a complete pipeline run.
	ObserveRun(status string, elapsed time.Duration)
}

// NopRecorder discards every observation.
type NopRecorder struct{}

func (NopRecorder) ObserveStage(string, int, int, time.Duration) {}
func (NopRecorder) ObserveRemoved(string, int)                   {}
func (NopRecorder) ObserveRun(string, time.Duration)             {}

// PrometheusRecorder records observations as Prometheus metrics
type PrometheusRecorder struct {
	registry *prometheus.Registry

	stageDuration *prometheus.HistogramVec
	stageRows     *prometheus.CounterVec
	removedRows   *prometheus.CounterVec
	runs          *prometheus.CounterVec
	runDuration   prometheus.Gauge
	lastRun       prometheus.Gauge
}

// NewPrometheusRecorder creates a recorder with its own registry under the given namespace.
func NewPrometheusRecorder(namespace string) *PrometheusRecorder {
	if namespace == "" {
		namespace = "etl"
	}

	r := &PrometheusRecorder{
		registry: prometheus.NewRegistry(),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "stage",
				Name:      "duration_seconds",
				Help:      "Duration of pipeline stages",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		stageRows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stage",
				Name:      "rows_total",
				Help:      "Rows entering and leaving pipeline stages",
			},
			[]string{"stage", "direction"},
		),
		removedRows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "validation",
				Name:      "removed_rows_total",
				Help:      "Rows removed by validation rule",
			},
			[]string{"rule"},
		),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Pipeline runs by outcome",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_duration_seconds",
			Help:      "Duration of the most recent pipeline run",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the most recent pipeline run finished",
		}),
	}

	r.registry.MustRegister(r.stageDuration, r.stageRows, r.removedRows, r.runs, r.runDuration, r.lastRun)
	return r
}

// ObserveStage implements Recorder
func (r *PrometheusRecorder) ObserveStage(stage string, rowsIn, rowsOut int, elapsed time.Duration) {
	r.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
	r.stageRows.WithLabelValues(stage, "in").Add(float64(rowsIn))
	r.stageRows.WithLabelValues(stage, "out").Add(float64(rowsOut))
}

// ObserveRemoved implements Recorder
func (r *PrometheusRecorder) ObserveRemoved(rule string, count int) {
	if count <= 0 {
		return
	}
	r.removedRows.WithLabelValues(rule).Add(float64(count))
}

// ObserveRun implements Recorder
func (r *PrometheusRecorder) ObserveRun(status string, elapsed time.Duration) {
	r.runs.WithLabelValues(status).Inc()
	r.runDuration.Set(elapsed.Seconds())
	r.lastRun.SetToCurrentTime()
}

// Registry returns the recorder's registry.
func (r *PrometheusRecorder) Registry() *prometheus.Registry {
	return r.registry
}

// WriteTextfile writes every collected metric to path in the text exposition format.
// The file is written atomically so a concurrent textfile collector never sees a partial file.
func (r *PrometheusRecorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
