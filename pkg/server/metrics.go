package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the server. A nil *Metrics is
// valid and records nothing, so tests can skip registration entirely.
type Metrics struct {
	activeSessions       prometheus.Gauge
	sessionsAccepted     prometheus.Counter
	sessionsDisconnected prometheus.Counter

	onlineUsers prometheus.Gauge

	requestsReceived *prometheus.CounterVec // by action
	requestErrors    *prometheus.CounterVec // by action
	pushesSent       *prometheus.CounterVec // by kind

	framesRejected prometheus.Counter
	payloadBytes   prometheus.Histogram
}

// NewMetrics registers the server metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "boltchat_active_sessions",
			Help: "Current number of open sessions",
		}),
		sessionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "boltchat_sessions_accepted_total",
			Help: "Total number of sessions accepted",
		}),
		sessionsDisconnected: factory.NewCounter(prometheus.CounterOpts{
			Name: "boltchat_sessions_disconnected_total",
			Help: "Total number of sessions torn down",
		}),
		onlineUsers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "boltchat_online_users",
			Help: "Current number of authenticated users",
		}),
		requestsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "boltchat_requests_total",
			Help: "Total requests received by action",
		}, []string{"action"}),
		requestErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "boltchat_request_errors_total",
			Help: "Total error responses by action",
		}, []string{"action"}),
		pushesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "boltchat_pushes_sent_total",
			Help: "Total pushes delivered to clients by kind",
		}, []string{"kind"}),
		framesRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "boltchat_frames_rejected_total",
			Help: "Total inbound frames that failed decoding",
		}),
		payloadBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "boltchat_payload_bytes",
			Help:    "Size of decoded inbound frame payloads",
			Buckets: prometheus.ExponentialBuckets(16, 4, 8),
		}),
	}
}

func (m *Metrics) RecordActiveSessions(count int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(count))
}

func (m *Metrics) RecordSessionAccepted() {
	if m == nil {
		return
	}
	m.sessionsAccepted.Inc()
}

func (m *Metrics) RecordSessionDisconnected() {
	if m == nil {
		return
	}
	m.sessionsDisconnected.Inc()
}

func (m *Metrics) RecordOnlineUsers(count int) {
	if m == nil {
		return
	}
	m.onlineUsers.Set(float64(count))
}

func (m *Metrics) RecordRequest(action string) {
	if m == nil {
		return
	}
	m.requestsReceived.WithLabelValues(action).Inc()
}

func (m *Metrics) RecordRequestError(action string) {
	if m == nil {
		return
	}
	m.requestErrors.WithLabelValues(action).Inc()
}

func (m *Metrics) RecordPush(kind string) {
	if m == nil {
		return
	}
	m.pushesSent.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordFrameRejected() {
	if m == nil {
		return
	}
	m.framesRejected.Inc()
}

func (m *Metrics) RecordPayloadSize(n int) {
	if m == nil {
		return
	}
	m.payloadBytes.Observe(float64(n))
}
