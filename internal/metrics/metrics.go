package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "servhub",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	bookingOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "servhub",
			Name:      "booking_operations_total",
			Help:      "Facade booking operations by type and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	profileLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "servhub",
			Name:      "profile_lookups_total",
			Help:      "Profile lookups by result (hit, miss, error).",
		},
		[]string{"result"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, bookingOps, profileLookups)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// IncBookingOp increments the counter for a facade operation outcome.
func IncBookingOp(operation, outcome string) {
	bookingOps.WithLabelValues(operation, outcome).Inc()
}

// IncProfileLookup increments the counter for a profile lookup result.
func IncProfileLookup(result string) {
	profileLookups.WithLabelValues(result).Inc()
}
