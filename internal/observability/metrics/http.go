package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	retrievalRequestsTotal *prometheus.CounterVec
	retrievedChunks        *prometheus.HistogramVec
	retrievalDuration      *prometheus.HistogramVec
	retrievalDegradedTotal *prometheus.CounterVec
	llmTokensTotal         *prometheus.CounterVec
	agentRunsTotal         *prometheus.CounterVec
	agentIterations        *prometheus.HistogramVec
	agentToolCallsTotal    *prometheus.CounterVec
	memoryHitsTotal        *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "litagent",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "litagent",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "litagent",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	retrievalRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "litagent",
			Subsystem: "retrieval",
			Name:      "requests_total",
			Help:      "Total hybrid retrieval searches.",
		},
		[]string{"service"},
	)
	retrievedChunks := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "litagent",
			Subsystem: "retrieval",
			Name:      "retrieved_chunks",
			Help:      "Distribution of chunks returned per search.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"service"},
	)
	retrievalDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "litagent",
			Subsystem: "retrieval",
			Name:      "duration_seconds",
			Help:      "Hybrid retrieval duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service"},
	)
	retrievalDegradedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "litagent",
			Subsystem: "retrieval",
			Name:      "degraded_total",
			Help:      "Total searches that lost one or both retrieval legs.",
		},
		[]string{"service", "leg"},
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
	agentRunsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "litagent",
			Subsystem: "agent",
			Name:      "runs_total",
			Help:      "Total completed agent runs by termination reason.",
		},
		[]string{"service", "termination"},
	)
	agentIterations := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "litagent",
			Subsystem: "agent",
			Name:      "iterations",
			Help:      "Distribution of loop iterations per run.",
			Buckets:   []float64{1, 2, 3, 4, 5, 6, 8, 10},
		},
		[]string{"service"},
	)
	agentToolCallsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "litagent",
			Subsystem: "agent",
			Name:      "tool_calls_total",
			Help:      "Total tool invocations by tool and outcome.",
		},
		[]string{"service", "tool", "status"},
	)
	memoryHitsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "litagent",
			Subsystem: "memory",
			Name:      "hits_total",
			Help:      "Total recalled memory facts injected into runs.",
		},
		[]string{"service"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		retrievalRequestsTotal,
		retrievedChunks,
		retrievalDuration,
		retrievalDegradedTotal,
		llmTokensTotal,
		agentRunsTotal,
		agentIterations,
		agentToolCallsTotal,
		memoryHitsTotal,
	)

	return &HTTPServerMetrics{
		registry:               registry,
		requestTotal:           requestTotal,
		requestDuration:        requestDuration,
		requestInFlight:        requestInFlight,
		retrievalRequestsTotal: retrievalRequestsTotal,
		retrievedChunks:        retrievedChunks,
		retrievalDuration:      retrievalDuration,
		retrievalDegradedTotal: retrievalDegradedTotal,
		llmTokensTotal:         llmTokensTotal,
		agentRunsTotal:         agentRunsTotal,
		agentIterations:        agentIterations,
		agentToolCallsTotal:    agentToolCallsTotal,
		memoryHitsTotal:        memoryHitsTotal,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			r.URL.Path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

func (m *HTTPServerMetrics) RecordRetrieval(service string, chunkCount int, degradedLeg string, duration time.Duration) {
	m.retrievalRequestsTotal.WithLabelValues(service).Inc()
	m.retrievedChunks.WithLabelValues(service).Observe(float64(chunkCount))
	m.retrievalDuration.WithLabelValues(service).Observe(duration.Seconds())
	if degradedLeg != "" {
		m.retrievalDegradedTotal.WithLabelValues(service, degradedLeg).Inc()
	}
}

func (m *HTTPServerMetrics) RecordTokenUsage(service, model string, promptTokens, completionTokens int) {
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

func (m *HTTPServerMetrics) RecordAgentRun(service, termination string, iterations int) {
	if termination == "" {
		termination = "unknown"
	}
	m.agentRunsTotal.WithLabelValues(service, termination).Inc()
	if iterations > 0 {
		m.agentIterations.WithLabelValues(service).Observe(float64(iterations))
	}
}

func (m *HTTPServerMetrics) RecordAgentToolCall(service, tool, status string) {
	if tool == "" {
		tool = "unknown"
	}
	if status == "" {
		status = "unknown"
	}
	m.agentToolCallsTotal.WithLabelValues(service, tool, status).Inc()
}

func (m *HTTPServerMetrics) RecordMemoryHits(service string, hits int) {
	if hits <= 0 {
		return
	}
	m.memoryHitsTotal.WithLabelValues(service).Add(float64(hits))
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

func (w *statusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
