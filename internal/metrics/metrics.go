// Package metrics exposes prometheus collectors for jobs, workflow stages,
// search providers and model calls.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/mohammad-safakhou/deeres/internal/executor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "deeres"

// Metrics holds every collector registered by the service.
type Metrics struct {
	registry *prometheus.Registry

	jobsSubmitted *prometheus.CounterVec
	jobsFinished  *prometheus.CounterVec
	jobDuration   prometheus.Histogram
	jobsReaped    prometheus.Counter
	activeJobs    prometheus.Gauge
	queuedJobs    prometheus.Gauge

	stageDuration *prometheus.HistogramVec
	stageRetries  *prometheus.CounterVec

	searchLatency *prometheus.HistogramVec
	llmLatency    *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		jobsSubmitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Report jobs accepted, by initial status.",
		}, []string{"status"}),
		jobsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Report jobs that reached a terminal status.",
		}, []string{"status"}),
		jobDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Time from job start to a terminal status.",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		jobsReaped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_reaped_total",
			Help:      "Jobs removed after exceeding the maximum age.",
		}),
		activeJobs: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_active",
			Help:      "Jobs currently running.",
		}),
		queuedJobs: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_queued",
			Help:      "Jobs waiting for a slot.",
		}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Workflow task duration by stage.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"stage"}),
		stageRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_retries_total",
			Help:      "Workflow task retries by stage.",
		}, []string{"stage"}),
		searchLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_request_duration_seconds",
			Help:      "Search provider request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "outcome"}),
		llmLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Model call latency.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"provider", "model", "op", "outcome"}),
	}
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) JobSubmitted(status string) {
	m.jobsSubmitted.WithLabelValues(status).Inc()
}

func (m *Metrics) JobFinished(status string, took time.Duration) {
	m.jobsFinished.WithLabelValues(status).Inc()
	m.jobDuration.Observe(took.Seconds())
}

func (m *Metrics) JobsReaped(n int) {
	m.jobsReaped.Add(float64(n))
}

func (m *Metrics) SetLoad(active, queued int) {
	m.activeJobs.Set(float64(active))
	m.queuedJobs.Set(float64(queued))
}

// ObserveSearch matches search.ObserveFunc.
func (m *Metrics) ObserveSearch(provider string, took time.Duration, err error) {
	m.searchLatency.WithLabelValues(provider, outcome(err)).Observe(took.Seconds())
}

// ObserveLLM matches llm.ObserveFunc.
func (m *Metrics) ObserveLLM(provider, model, op string, took time.Duration, err error) {
	m.llmLatency.WithLabelValues(provider, model, op, outcome(err)).Observe(took.Seconds())
}

// Executor returns callbacks for executor.WithMetrics.
func (m *Metrics) Executor() executor.Metrics {
	return executor.Metrics{
		RetryCounter: func(_ context.Context, t executor.Task, _ int) {
			m.stageRetries.WithLabelValues(t.Stage).Inc()
		},
		Duration: func(_ context.Context, t executor.Task, d time.Duration) {
			m.stageDuration.WithLabelValues(t.Stage).Observe(d.Seconds())
		},
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
