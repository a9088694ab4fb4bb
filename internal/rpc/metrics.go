package rpc

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are the daemon's Prometheus collectors. Each Metrics owns its
// registry so several servers can live in one process.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	subscriptions   prometheus.Gauge
	pendingExternal prometheus.Gauge
	pipelines       *prometheus.CounterVec
	ports           prometheus.Gauge
}

// NewMetrics creates and registers the collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "walletd",
				Name:      "requests_total",
				Help:      "Port requests by message type and outcome.",
			},
			[]string{"type", "outcome"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "walletd",
				Name:      "request_duration_seconds",
				Help:      "Time spent in request handlers.",
				Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5},
			},
			[]string{"type"},
		),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "walletd",
			Name:      "active_subscriptions",
			Help:      "Live subscriptions across all ports.",
		}),
		pendingExternal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "walletd",
			Name:      "pending_external_requests",
			Help:      "External signature requests waiting for the user.",
		}),
		pipelines: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "walletd",
				Name:      "pipeline_outcomes_total",
				Help:      "Finished transaction pipelines by kind, signer mode and last stage.",
			},
			[]string{"kind", "mode", "stage"},
		),
		ports: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "walletd",
			Name:      "open_ports",
			Help:      "Connected port clients.",
		}),
	}

	m.registry.MustRegister(
		m.requests,
		m.requestDuration,
		m.subscriptions,
		m.pendingExternal,
		m.pipelines,
		m.ports,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) observeRequest(msgType, outcome string, d time.Duration) {
	m.requests.WithLabelValues(msgType, outcome).Inc()
	if outcome != "unknown_type" {
		m.requestDuration.WithLabelValues(msgType).Observe(d.Seconds())
	}
}

// SetSubscriptions records the number of live subscriptions.
func (m *Metrics) SetSubscriptions(n int) { m.subscriptions.Set(float64(n)) }

// SetPendingExternal records the number of pending external requests.
func (m *Metrics) SetPendingExternal(n int) { m.pendingExternal.Set(float64(n)) }

// ObservePipeline counts a finished pipeline.
func (m *Metrics) ObservePipeline(kind, mode, stage string) {
	m.pipelines.WithLabelValues(kind, mode, stage).Inc()
}

func (m *Metrics) portOpened() { m.ports.Inc() }
func (m *Metrics) portClosed() { m.ports.Dec() }
