package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Worker jobs: memory extraction, consolidation and chunk indexing.
type WorkerMetrics struct {
	registry *prometheus.Registry

	jobsTotal      *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobsInFlight   prometheus.Gauge
	factsExtracted *prometheus.CounterVec
	factsMerged    *prometheus.CounterVec
	factsPruned    *prometheus.CounterVec
	chunksIndexed  *prometheus.CounterVec
	llmTokensTotal *prometheus.CounterVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	jobsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "litagent",
			Subsystem: "worker",
			Name:      "jobs_total",
			Help:      "Total processed worker jobs by kind and status.",
		},
		[]string{"service", "job", "status"},
	)
	jobDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "litagent",
			Subsystem: "worker",
			Name:      "job_duration_seconds",
			Help:      "Worker job duration in seconds by kind and status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "job", "status"},
	)
	jobsInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "litagent",
			Subsystem: "worker",
			Name:      "jobs_in_flight",
			Help:      "Number of in-flight worker jobs.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	factsExtracted := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "litagent",
			Subsystem: "memory",
			Name:      "facts_extracted_total",
			Help:      "Total facts extracted from concluded conversations.",
		},
		[]string{"service"},
	)
	factsMerged := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "litagent",
			Subsystem: "memory",
			Name:      "facts_merged_total",
			Help:      "Total facts merged into near-duplicates instead of inserted.",
		},
		[]string{"service"},
	)
	factsPruned := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "litagent",
			Subsystem: "memory",
			Name:      "facts_pruned_total",
			Help:      "Total facts pruned by consolidation.",
		},
		[]string{"service"},
	)
	chunksIndexed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "litagent",
			Subsystem: "index",
			Name:      "chunks_indexed_total",
			Help:      "Total chunks embedded and indexed.",
		},
		[]string{"service"},
	)

	llmTokensTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "litagent",
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Approximate token usage by direction.",
		},
		[]string{"service", "direction", "model"},
	)

	registry.MustRegister(jobsTotal, jobDuration, jobsInFlight, factsExtracted, factsMerged, factsPruned, chunksIndexed, llmTokensTotal)

	return &WorkerMetrics{
		registry:       registry,
		jobsTotal:      jobsTotal,
		jobDuration:    jobDuration,
		jobsInFlight:   jobsInFlight,
		factsExtracted: factsExtracted,
		factsMerged:    factsMerged,
		factsPruned:    factsPruned,
		chunksIndexed:  chunksIndexed,
		llmTokensTotal: llmTokensTotal,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartJob() {
	m.jobsInFlight.Inc()
}

func (m *WorkerMetrics) FinishJob(service, job string, duration time.Duration, err error) {
	m.jobsInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.jobsTotal.WithLabelValues(service, job, status).Inc()
	m.jobDuration.WithLabelValues(service, job, status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) AddFactsExtracted(service string, n int) {
	if n > 0 {
		m.factsExtracted.WithLabelValues(service).Add(float64(n))
	}
}

func (m *WorkerMetrics) AddFactsMerged(service string, n int) {
	if n > 0 {
		m.factsMerged.WithLabelValues(service).Add(float64(n))
	}
}

func (m *WorkerMetrics) AddFactsPruned(service string, n int) {
	if n > 0 {
		m.factsPruned.WithLabelValues(service).Add(float64(n))
	}
}

func (m *WorkerMetrics) AddChunksIndexed(service string, n int) {
	if n > 0 {
		m.chunksIndexed.WithLabelValues(service).Add(float64(n))
	}
}

func (m *WorkerMetrics) RecordTokenUsage(service, model string, promptTokens, completionTokens int) {
	if model == "" {
		model = "unknown"
	}
	if promptTokens > 0 {
		m.llmTokensTotal.WithLabelValues(service, "in", model).Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.llmTokensTotal.WithLabelValues(service, "out", model).Add(float64(completionTokens))
	}
}
