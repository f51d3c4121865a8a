package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce           sync.Once
	httpRequestsTotal      *prometheus.CounterVec
	httpDurationSeconds    *prometheus.HistogramVec
	messagesSentTotal      *prometheus.CounterVec
	notificationsPublished *prometheus.CounterVec
	realtimeConnections    prometheus.Gauge
	presenceOnlineUsers    prometheus.Gauge
	realtimeEventsDropped  *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		httpDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		messagesSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "messages_sent_total",
			Help: "Messages persisted, by kind (direct, anonymous, reply).",
		}, []string{"kind"})

		notificationsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_published_total",
			Help: "Notifications persisted and pushed, by type.",
		}, []string{"type"})

		realtimeConnections = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "realtime_connections_active",
			Help: "Websocket connections currently served by this node.",
		})

		presenceOnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "presence_online_users",
			Help: "Users with at least one joined connection on this node.",
		})

		realtimeEventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_events_dropped_total",
			Help: "Realtime frames dropped because a client queue was full.",
		}, []string{"event"})

		prometheus.MustRegister(
			httpRequestsTotal,
			httpDurationSeconds,
			messagesSentTotal,
			notificationsPublished,
			realtimeConnections,
			presenceOnlineUsers,
			realtimeEventsDropped,
		)
	})
}

// HTTPRequests exposes the counter for API requests.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPDuration exposes the latency histogram for API requests.
func HTTPDuration() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpDurationSeconds
}

func MessagesSent() *prometheus.CounterVec {
	RegisterMetrics()
	return messagesSentTotal
}

func NotificationsPublished() *prometheus.CounterVec {
	RegisterMetrics()
	return notificationsPublished
}

func RealtimeConnections() prometheus.Gauge {
	RegisterMetrics()
	return realtimeConnections
}

func PresenceOnlineUsers() prometheus.Gauge {
	RegisterMetrics()
	return presenceOnlineUsers
}

func RealtimeEventsDropped() *prometheus.CounterVec {
	RegisterMetrics()
	return realtimeEventsDropped
}
