package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "lumichat"

const (
	EndpointStream = "stream"
	EndpointSend   = "send"

	StatusSuccess = "success"
	StatusError   = "error"
)

// Metrics holds the Prometheus metrics of chat generation.
// Each server owns a registry so several servers can live in one process.
type Metrics struct {
	registry *prometheus.Registry

	// RequestsTotal counts chat requests. Labels: endpoint, status.
	RequestsTotal *prometheus.CounterVec
	// GenerationDurationSeconds measures upstream generation time. Labels: endpoint, status.
	GenerationDurationSeconds *prometheus.HistogramVec
	// ActiveStreams tracks streams currently writing to a client.
	ActiveStreams prometheus.Gauge
	// FragmentsTotal counts fragments forwarded to clients.
	FragmentsTotal prometheus.Counter
	// ClientDisconnectsTotal counts streams abandoned by the client.
	ClientDisconnectsTotal prometheus.Counter
}

// NewMetrics creates the metrics on a fresh registry that also carries the Go and process collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "chat",
				Name:      "requests_total",
				Help:      "Total number of chat requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),
		GenerationDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "chat",
				Name:      "generation_duration_seconds",
				Help:      "Duration of LLM generations by endpoint and status",
				Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"endpoint", "status"},
		),
		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "chat",
			Name:      "active_streams",
			Help:      "Number of streaming responses in progress",
		}),
		FragmentsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "chat",
			Name:      "stream_fragments_total",
			Help:      "Total number of text fragments streamed to clients",
		}),
		ClientDisconnectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "chat",
			Name:      "client_disconnects_total",
			Help:      "Total number of streams abandoned by the client",
		}),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRequest records one finished chat request.
func (m *Metrics) RecordRequest(endpoint string, err error, duration time.Duration) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.RequestsTotal.WithLabelValues(endpoint, status).Inc()
	m.GenerationDurationSeconds.WithLabelValues(endpoint, status).Observe(duration.Seconds())
}
