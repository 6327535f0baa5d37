package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	AppointmentsCreated *prometheus.CounterVec
	BookingRejected     *prometheus.CounterVec
	StatusTransitions   *prometheus.CounterVec
	PrescriptionsSaved  prometheus.Counter

	PaymentEvents       *prometheus.CounterVec
	GatewayBreakerState prometheus.Gauge
	AbandonedReleased   prometheus.Counter
}

// NewCollector registers every metric on a private registry so several
// collectors can coexist in one process (tests, multiple binaries).
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Collector{
		registry: reg,

		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route, and status code.",
		}, []string{"method", "route", "status"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "route"}),

		AppointmentsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "appointments_created_total",
			Help:      "Appointments created, by payment mode (free or paid).",
		}, []string{"mode"}),

		BookingRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "rejected_total",
			Help:      "Booking attempts rejected, by reason.",
		}, []string{"reason"}),

		StatusTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "status_transitions_total",
			Help:      "Appointment status transitions applied.",
		}, []string{"from", "to"}),

		PrescriptionsSaved: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "prescriptions_saved_total",
			Help:      "Prescriptions created or updated.",
		}),

		PaymentEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "events_total",
			Help:      "Payment lifecycle events by kind and outcome.",
		}, []string{"kind", "outcome"}),

		GatewayBreakerState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "gateway_breaker_state",
			Help:      "Gateway circuit breaker state: 0 closed, 1 half-open, 2 open.",
		}),

		AbandonedReleased: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "abandoned_released_total",
			Help:      "Unpaid bookings released by the expiry worker.",
		}),
	}
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Gatherer exposes the registry for tests.
func (c *Collector) Gatherer() prometheus.Gatherer {
	return c.registry
}
