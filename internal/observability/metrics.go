package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BookingsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "travelbot", Name: "bookings_processed_total", Help: "Bookings processed by final status."},
		[]string{"service", "status"},
	)
	StepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "travelbot", Name: "step_duration_seconds",
			Help:    "Duration of booking pipeline steps.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"step", "outcome"},
	)
	SelectorHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "travelbot", Name: "selector_resolutions_total", Help: "Selector resolutions by target and winning strategy."},
		[]string{"target", "strategy"},
	)
	DiagnosticsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "travelbot", Name: "diagnostics_total", Help: "Diagnostic records by step outcome."},
		[]string{"outcome"},
	)
	Failures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "travelbot", Name: "booking_failures_total", Help: "Failed booking runs by kind and driver-level cause."},
		[]string{"kind", "cause"},
	)
	LeaseEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "travelbot", Name: "lease_events_total", Help: "Booking lease acquire/release/held events."},
		[]string{"event"},
	)
)

func InitRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(BookingsProcessed, StepDuration, SelectorHits, DiagnosticsEmitted, Failures, LeaseEvents)
	return reg
}

func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func ObserveBooking(service, status string) {
	BookingsProcessed.WithLabelValues(service, status).Inc()
}

func ObserveStep(step string, err error, dur time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	StepDuration.WithLabelValues(step, outcome).Observe(dur.Seconds())
}

func ObserveFailure(kind, cause string) {
	if cause == "" {
		cause = "other"
	}
	Failures.WithLabelValues(kind, cause).Inc()
}

func ObserveSelector(target, strategy string) { // strategy "none" when exhausted
	SelectorHits.WithLabelValues(target, strategy).Inc()
}

func ObserveDiagnostic(outcome string) {
	DiagnosticsEmitted.WithLabelValues(outcome).Inc()
}

func ObserveLease(event string) { // event: acquire|release|held|revert
	LeaseEvents.WithLabelValues(event).Inc()
}
