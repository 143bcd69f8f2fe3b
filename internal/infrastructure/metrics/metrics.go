// Package metrics exposes the pipeline's Prometheus instruments.
// Every method is safe on a nil *Metrics so components can run without instrumentation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "smartbin"

type Metrics struct {
	registry *prometheus.Registry

	messagesReceived   *prometheus.CounterVec
	decodeErrors       *prometheus.CounterVec
	broadcasts         *prometheus.CounterVec
	broadcastFailures  prometheus.Counter
	wsConnections      prometheus.Gauge
	notifications      *prometheus.CounterVec
	binLevels          *prometheus.GaugeVec
	binAlerts          *prometheus.CounterVec
	ledgerOps          *prometheus.CounterVec
	ledgerPersistFails *prometheus.CounterVec
	storageErrors      *prometheus.CounterVec
	httpRequestsTotal  *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

// NewMetrics creates the instruments on a private registry that also carries the Go and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Inbound bus messages by topic.",
		}, []string{"topic"}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Inbound messages dropped because they could not be decoded.",
		}, []string{"topic"}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_deliveries_total",
			Help:      "Dashboard messages delivered by kind.",
		}, []string{"kind"}),
		broadcastFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_failures_total",
			Help:      "Dashboard sends that failed and dropped the connection.",
		}),
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections",
			Help:      "Currently registered dashboard connections.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Outbound notifications by kind and outcome.",
		}, []string{"kind", "outcome"}),
		binLevels: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bin_level_percent",
			Help:      "Last reported fill level per bin.",
		}, []string{"bin"}),
		binAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bin_full_alerts_total",
			Help:      "Bins that crossed into the alerting state.",
		}, []string{"bin"}),
		ledgerOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_operations_total",
			Help:      "Ledger operations by type and result.",
		}, []string{"op", "result"}),
		ledgerPersistFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_persist_failures_total",
			Help:      "Committed ledger mutations that could not be written to the store.",
		}, []string{"op"}),
		storageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_errors_total",
			Help:      "Failed writes to the cache or archive backends.",
		}, []string{"backend"}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.messagesReceived,
		m.decodeErrors,
		m.broadcasts,
		m.broadcastFailures,
		m.wsConnections,
		m.notifications,
		m.binLevels,
		m.binAlerts,
		m.ledgerOps,
		m.ledgerPersistFails,
		m.storageErrors,
		m.httpRequestsTotal,
		m.httpDuration,
	)

	return m
}

// Registry returns the registry the instruments live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler counts requests and observes latency under the given route label.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		if m != nil {
			m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}

func (m *Metrics) MessageReceived(topic string) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(topic).Inc()
}

func (m *Metrics) DecodeError(topic string) {
	if m == nil {
		return
	}
	m.decodeErrors.WithLabelValues(topic).Inc()
}

func (m *Metrics) BroadcastDelivered(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.broadcasts.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) BroadcastFailed() {
	if m == nil {
		return
	}
	m.broadcastFailures.Inc()
}

func (m *Metrics) SetConnections(n int) {
	if m == nil {
		return
	}
	m.wsConnections.Set(float64(n))
}

func (m *Metrics) NotificationSent(kind string, ok bool) {
	if m == nil {
		return
	}
	outcome := "sent"
	if !ok {
		outcome = "failed"
	}
	m.notifications.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) SetBinLevel(bin string, level float64) {
	if m == nil {
		return
	}
	m.binLevels.WithLabelValues(bin).Set(level)
}

func (m *Metrics) BinAlert(bin string) {
	if m == nil {
		return
	}
	m.binAlerts.WithLabelValues(bin).Inc()
}

// LedgerOperation records the result of a ledger call: "ok" or an error class.
func (m *Metrics) LedgerOperation(op, result string) {
	if m == nil {
		return
	}
	m.ledgerOps.WithLabelValues(op, result).Inc()
}

func (m *Metrics) LedgerPersistFailed(op string) {
	if m == nil {
		return
	}
	m.ledgerPersistFails.WithLabelValues(op).Inc()
}

func (m *Metrics) StorageError(backend string) {
	if m == nil {
		return
	}
	m.storageErrors.WithLabelValues(backend).Inc()
}
