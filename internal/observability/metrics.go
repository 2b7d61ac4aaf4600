package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "obex",
			Subsystem: "admin_http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"service", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "obex",
			Subsystem: "admin_http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path", "status"},
	)
	transportBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "obex",
			Subsystem: "transport",
			Name:      "bytes_total",
			Help:      "Bytes crossing monitored transports.",
		},
		[]string{"service", "kind", "direction"},
	)
	sessionRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "obex",
			Subsystem: "session",
			Name:      "requests_total",
			Help:      "Finished OBEX requests by role, opcode and response code.",
		},
		[]string{"service", "role", "op", "code"},
	)
	sessionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "obex",
			Subsystem: "session",
			Name:      "request_duration_seconds",
			Help:      "OBEX request duration in seconds, first packet to final response.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "role", "op"},
	)
	sessionPackets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "obex",
			Subsystem: "session",
			Name:      "request_packets_total",
			Help:      "Request packets exchanged per finished OBEX request.",
		},
		[]string{"service", "role", "op"},
	)
	bodyBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "obex",
			Subsystem: "session",
			Name:      "body_bytes_total",
			Help:      "Object body bytes moved by PUT and GET.",
		},
		[]string{"service", "role", "op"},
	)
	aborts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "obex",
			Subsystem: "session",
			Name:      "aborts_total",
			Help:      "Streaming operations ended by ABORT.",
		},
		[]string{"service", "role"},
	)
	activeSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "obex",
			Subsystem: "server",
			Name:      "active_sessions",
			Help:      "Server sessions currently being served.",
		},
		[]string{"service", "kind"},
	)
	acceptedSessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "obex",
			Subsystem: "server",
			Name:      "accepted_total",
			Help:      "Transports accepted by the notifier.",
		},
		[]string{"service", "kind"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			transportBytes,
			sessionRequests, sessionDuration, sessionPackets, bodyBytes, aborts,
			activeSessions, acceptedSessions,
		)
	})
}

func RecordHTTPRequest(service, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(service, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(service, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordTransportBytes(service, kind, direction string, n int) {
	RegisterMetrics()
	transportBytes.WithLabelValues(service, kind, direction).Add(float64(n))
}

// RecordRequest counts one finished request. code is empty when the request
// failed before a response arrived.
func RecordRequest(service, role, op, code string, packets int, body int64, duration time.Duration, aborted bool) {
	RegisterMetrics()
	if code == "" {
		code = "none"
	}
	sessionRequests.WithLabelValues(service, role, op, code).Inc()
	sessionDuration.WithLabelValues(service, role, op).Observe(duration.Seconds())
	sessionPackets.WithLabelValues(service, role, op).Add(float64(packets))
	if body > 0 {
		bodyBytes.WithLabelValues(service, role, op).Add(float64(body))
	}
	if aborted {
		aborts.WithLabelValues(service, role).Inc()
	}
}

func RecordSessionOpened(service, kind string) {
	RegisterMetrics()
	acceptedSessions.WithLabelValues(service, kind).Inc()
	activeSessions.WithLabelValues(service, kind).Inc()
}

func RecordSessionClosed(service, kind string) {
	RegisterMetrics()
	activeSessions.WithLabelValues(service, kind).Dec()
}
