package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the server's prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	httpRequests  *prometheus.CounterVec
	httpLatency   *prometheus.HistogramVec
	slotQueries   *prometheus.CounterVec
	bookings      *prometheus.CounterVec
	captions      *prometheus.CounterVec
	uploads       *prometheus.CounterVec
	notifications *prometheus.CounterVec
	wsClients     prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mediscan",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route template, method and status code",
		}, []string{"route", "method", "code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mediscan",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route template",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		slotQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mediscan",
			Subsystem: "slots",
			Name:      "queries_total",
			Help:      "Free-slot computations by outcome",
		}, []string{"outcome"}),
		bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mediscan",
			Subsystem: "appointments",
			Name:      "bookings_total",
			Help:      "Booking and reschedule attempts by operation and outcome",
		}, []string{"operation", "outcome"}),
		captions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mediscan",
			Subsystem: "reports",
			Name:      "captions_total",
			Help:      "Caption service calls by status",
		}, []string{"status"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mediscan",
			Subsystem: "storage",
			Name:      "uploads_total",
			Help:      "Object storage writes by driver and status",
		}, []string{"driver", "status"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mediscan",
			Subsystem: "notify",
			Name:      "deliveries_total",
			Help:      "Notification deliveries by channel and status",
		}, []string{"channel", "status"}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mediscan",
			Subsystem: "ws",
			Name:      "connected_clients",
			Help:      "Open websocket connections",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.httpRequests, m.httpLatency, m.slotQueries, m.bookings,
		m.captions, m.uploads, m.notifications, m.wsClients)
	return m
}

func (m *Metrics) ObserveHTTP(route, method, code string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, code).Inc()
	m.httpLatency.WithLabelValues(route, method).Observe(d.Seconds())
}

func (m *Metrics) ObserveSlotQuery(outcome string) {
	if m == nil {
		return
	}
	m.slotQueries.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveBooking(operation, outcome string) {
	if m == nil {
		return
	}
	m.bookings.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) ObserveCaption(status string) {
	if m == nil {
		return
	}
	m.captions.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveUpload(driver, status string) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(driver, status).Inc()
}

func (m *Metrics) ObserveNotification(channel, status string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(channel, status).Inc()
}

func (m *Metrics) ClientConnected() {
	if m == nil {
		return
	}
	m.wsClients.Inc()
}

func (m *Metrics) ClientDisconnected() {
	if m == nil {
		return
	}
	m.wsClients.Dec()
}

// Outcome labels an operation result from its error.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}
