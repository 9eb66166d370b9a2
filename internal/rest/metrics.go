package rest

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records outbound backend calls. A nil *Metrics records nothing.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewMetrics creates the backend call metrics and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scimbridge_backend_requests_total",
				Help: "Total number of requests sent to provisioning backends.",
			},
			[]string{"instance", "method", "classification"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scimbridge_backend_request_duration_seconds",
				Help:    "Histogram of latencies for provisioning backend requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"instance", "method"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.RequestsTotal, m.RequestDuration)
	}
	return m
}

func (m *Metrics) observe(instance, method string, class string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(instance, method, class).Inc()
	m.RequestDuration.WithLabelValues(instance, method).Observe(elapsed.Seconds())
}
