// Package metrics exposes chatd's Prometheus collectors.
//
// All methods are safe on a nil *Metrics so components can run without
// instrumentation in tests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chat"

// Metrics holds the collectors registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	onlineIdentities prometheus.Gauge
	presenceHandles  prometheus.Gauge
	connections      prometheus.Gauge

	delivered        prometheus.Counter
	dropped          prometheus.Counter
	lastSeenFailures prometheus.Counter
	wsRejected       *prometheus.CounterVec

	refresh *prometheus.CounterVec
	logins  *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New builds and registers every collector, plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		onlineIdentities: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "presence", Name: "online_identities",
			Help: "Identities with at least one live realtime connection.",
		}),
		presenceHandles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "presence", Name: "handles",
			Help: "Connection handles bound to an identity.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "ws", Name: "connections",
			Help: "Open websocket connections, announced or not.",
		}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "realtime", Name: "messages_delivered_total",
			Help: "newMessage events enqueued to a connection.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "realtime", Name: "events_dropped_total",
			Help: "Outbound events dropped because a connection's send buffer was full.",
		}),
		lastSeenFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "presence", Name: "last_seen_write_failures_total",
			Help: "Failed last-seen writes after a connection closed.",
		}),
		wsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ws", Name: "rejected_total",
			Help: "Inbound websocket events rejected, by reason.",
		}, []string{"reason"}),
		refresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "refresh_total",
			Help: "Refresh attempts by result.",
		}, []string{"result"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "login_total",
			Help: "Login attempts by result.",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by method and status class.",
		}, []string{"method", "class"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.onlineIdentities,
		m.presenceHandles,
		m.connections,
		m.delivered,
		m.dropped,
		m.lastSeenFailures,
		m.wsRejected,
		m.refresh,
		m.logins,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Registry returns the underlying registry.
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
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// SetPresence records registry sizes.
func (m *Metrics) SetPresence(identities, handles int) {
	if m == nil {
		return
	}
	m.onlineIdentities.Set(float64(identities))
	m.presenceHandles.Set(float64(handles))
}

// ConnOpened and ConnClosed track open websocket connections.
func (m *Metrics) ConnOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) ConnClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

// Delivered counts n enqueued newMessage events.
func (m *Metrics) Delivered(n int) {
	if m != nil && n > 0 {
		m.delivered.Add(float64(n))
	}
}

// Dropped counts one event lost to a full send buffer.
func (m *Metrics) Dropped() {
	if m != nil {
		m.dropped.Inc()
	}
}

// LastSeenFailed counts one failed last-seen write.
func (m *Metrics) LastSeenFailed() {
	if m != nil {
		m.lastSeenFailures.Inc()
	}
}

// Rejected counts an inbound websocket event refused for reason.
func (m *Metrics) Rejected(reason string) {
	if m != nil {
		m.wsRejected.WithLabelValues(reason).Inc()
	}
}

// ObserveRefresh counts a refresh outcome.
func (m *Metrics) ObserveRefresh(result string) {
	if m != nil {
		m.refresh.WithLabelValues(result).Inc()
	}
}

// ObserveLogin counts a login outcome.
func (m *Metrics) ObserveLogin(result string) {
	if m != nil {
		m.logins.WithLabelValues(result).Inc()
	}
}

// ObserveHTTP records one finished request.
func (m *Metrics) ObserveHTTP(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(status/100)+"xx").Inc()
	m.httpDuration.WithLabelValues(method).Observe(d.Seconds())
}
