/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package restapi

import "github.com/prometheus/client_golang/prometheus"

var metricsResponseErrors *prometheus.CounterVec

const (
	metricsSubsystem = "restapi"

	metricsLabelResponseErrorDomain = "domain"
	metricsLabelResponseErrorCode   = "code"
)

// MustInitAndRegisterMetrics initializes restapi global metrics and registers them in registerer.
// Panic will be raised in case of error.
func MustInitAndRegisterMetrics(namespace string, registerer prometheus.Registerer) {
	metricsResponseErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: metricsSubsystem,
		Name:      "response_errors_total",
		Help:      "The total number of REST API errors that were responded.",
	}, []string{metricsLabelResponseErrorDomain, metricsLabelResponseErrorCode})
	registerer.MustRegister(metricsResponseErrors)
}

// UnregisterMetrics unregisters restapi global metrics.
func UnregisterMetrics(registerer prometheus.Registerer) {
	if metricsResponseErrors != nil {
		registerer.Unregister(metricsResponseErrors)
		metricsResponseErrors = nil
	}
}
