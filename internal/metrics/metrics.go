// Package metrics собирает Prometheus-метрики relay. Все методы безопасны для nil *Metrics.
package metrics

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry
	handler  http.Handler

	messages          *prometheus.CounterVec
	generatorCalls    *prometheus.CounterVec
	generatorDuration prometheus.Histogram
	escalations       prometheus.Counter
	bookings          *prometheus.CounterVec
	connections       prometheus.Gauge
	rooms             prometheus.Gauge
	httpRequests      *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	messages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_messages_total",
		Help: "Messages appended and fanned out, by author role",
	}, []string{"role"})

	generatorCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_generator_calls_total",
		Help: "Response generator invocations, by outcome",
	}, []string{"outcome"})

	generatorDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_generator_duration_seconds",
		Help:    "Response generator latency",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
	})

	escalations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_escalations_total",
		Help: "Rooms moved from bot-handled to human-handled by the generator",
	})

	bookings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_booking_claims_total",
		Help: "Booking claim attempts, by result",
	}, []string{"result"})

	connections := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_ws_connections",
		Help: "Open websocket connections",
	})

	rooms := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_rooms_active",
		Help: "Rooms held in memory",
	})

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_http_requests_total",
		Help: "HTTP API requests, by method and status",
	}, []string{"method", "status"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "relay_goroutines",
		Help: "Number of goroutines",
	}, func() float64 { return float64(runtime.NumGoroutine()) })

	registry.MustRegister(messages, generatorCalls, generatorDuration, escalations, bookings, connections, rooms, httpRequests, goroutines)

	return &Metrics{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		messages:          messages,
		generatorCalls:    generatorCalls,
		generatorDuration: generatorDuration,
		escalations:       escalations,
		bookings:          bookings,
		connections:       connections,
		rooms:             rooms,
		httpRequests:      httpRequests,
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

func (m *Metrics) MessageRouted(role string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(role).Inc()
}

// GeneratorCall: outcome = "ok", "error", "timeout".
func (m *Metrics) GeneratorCall(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.generatorCalls.WithLabelValues(outcome).Inc()
	m.generatorDuration.Observe(d.Seconds())
}

func (m *Metrics) Escalated() {
	if m == nil {
		return
	}
	m.escalations.Inc()
}

func (m *Metrics) BookingClaim(claimed bool) {
	if m == nil {
		return
	}
	result := "lost"
	if claimed {
		result = "claimed"
	}
	m.bookings.WithLabelValues(result).Inc()
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

func (m *Metrics) SetRooms(n int) {
	if m == nil {
		return
	}
	m.rooms.Set(float64(n))
}

func (m *Metrics) HTTPRequest(method string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}
