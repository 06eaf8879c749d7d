/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package diag

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultRequestDurationBuckets is default buckets into which observations of serving diagnostics requests are counted.
var DefaultRequestDurationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}

// PrometheusMetrics represents collectors of the diagnostics server.
type PrometheusMetrics struct {
	RequestDuration *prometheus.HistogramVec
}

// NewPrometheusMetrics creates a new instance of PrometheusMetrics.
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	return &PrometheusMetrics{
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "diag_http_request_duration_seconds",
			Help:      "Duration of serving diagnostics HTTP requests.",
			Buckets:   DefaultRequestDurationBuckets,
		}, []string{"method", "route_pattern", "status"}),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(pm.RequestDuration)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister(registerer prometheus.Registerer) {
	registerer.Unregister(pm.RequestDuration)
}

func (pm *PrometheusMetrics) observeRequest(method, routePattern string, status int, elapsed time.Duration) {
	pm.RequestDuration.WithLabelValues(method, routePattern, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
