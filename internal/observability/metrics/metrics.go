// Package metrics provides Prometheus metrics for pipeline runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"red-ai/internal/pipeline"
)

const namespace = "red_ai"

// Metrics holds all Prometheus metrics for the pipeline. It implements
// pipeline.RunObserver.
type Metrics struct {
	// Run metrics
	RunsTotal   *prometheus.CounterVec
	RunDuration prometheus.Histogram

	// Stage metrics
	StageDuration *prometheus.HistogramVec
	StageFailures *prometheus.CounterVec

	// Turn enrichment
	EnrichmentsTotal *prometheus.CounterVec

	// Event publishing
	EventPublishTotal   *prometheus.CounterVec
	EventPublishLatency prometheus.Histogram
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of pipeline runs by outcome",
		}, []string{"status"}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of pipeline runs in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 45},
		}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
		}, []string{"stage"}),
		StageFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Total number of stage failures by error kind",
		}, []string{"stage", "kind"}),
		EnrichmentsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_enrichments_total",
			Help:      "Total number of conversation turn enrichments by outcome",
		}, []string{"status"}),
		EventPublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_total",
			Help:      "Total number of run events published by outcome",
		}, []string{"status"}),
		EventPublishLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_publish_latency_seconds",
			Help:      "Latency of run event publishing in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
	}
}

// StageFinished records a stage's duration and, on failure, its error kind.
func (m *Metrics) StageFinished(stage pipeline.StageName, d time.Duration, err error) {
	m.StageDuration.WithLabelValues(string(stage)).Observe(d.Seconds())
	if err != nil {
		m.StageFailures.WithLabelValues(string(stage), errorKind(err)).Inc()
	}
}

// RunFinished records a run's duration and outcome.
func (m *Metrics) RunFinished(d time.Duration, err error) {
	m.RunDuration.Observe(d.Seconds())
	m.RunsTotal.WithLabelValues(status(err)).Inc()
}

func (m *Metrics) TurnEnriched(err error) {
	m.EnrichmentsTotal.WithLabelValues(status(err)).Inc()
}

// RecordEventPublish records one run event publish attempt.
func (m *Metrics) RecordEventPublish(err error, latency time.Duration) {
	m.EventPublishTotal.WithLabelValues(status(err)).Inc()
	m.EventPublishLatency.Observe(latency.Seconds())
}

func status(err error) string {
	if err != nil {
		return "failed"
	}
	return "succeeded"
}

func errorKind(err error) string {
	if pe, ok := pipeline.AsError(err); ok {
		return string(pe.Kind)
	}
	return "unknown"
}
