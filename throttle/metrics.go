/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package throttle

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/acronis/go-callthrottle/internal/libinfo"
	"github.com/acronis/go-callthrottle/lrucache"
)

const metricsLabelThrottle = "throttle"

// Values of the "result" label.
const (
	ResultSuccess   = "success"
	ResultHard      = "hard_failure"
	ResultSoft      = "soft_failure"
	ResultExhausted = "retries_exhausted"
	ResultCanceled  = "canceled"
)

// MetricsCollector receives events of a single Instance.
type MetricsCollector interface {
	IncAdmissions()
	IncResults(result string)
	IncCoalesced()
	SetQueueLength(n int)
	SetInFlight(n int)
	SetBackoff(d time.Duration)
	ObserveQueueWait(d time.Duration)
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	// Namespace is prepended to all metric names.
	Namespace string
	// ConstLabels is a set of labels applied to all metrics.
	// Throttle metrics also get the go_callthrottle_version label.
	ConstLabels prometheus.Labels
	// QueueWaitBuckets are the histogram buckets (in seconds) for time spent in the queue.
	QueueWaitBuckets []float64
}

// PrometheusMetrics collects metrics of all instances of a Registry, labeled by instance name.
type PrometheusMetrics struct {
	AdmissionsTotal *prometheus.CounterVec
	ResultsTotal    *prometheus.CounterVec
	CoalescedTotal  *prometheus.CounterVec
	QueueLength     *prometheus.GaugeVec
	InFlight        *prometheus.GaugeVec
	BackoffSeconds  *prometheus.GaugeVec
	QueueWait       *prometheus.HistogramVec

	// Cache tracks the coalescing cache of every instance.
	Cache *lrucache.PrometheusMetrics
}

// NewPrometheusMetrics creates a new instance of PrometheusMetrics with default options.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts creates a new instance of PrometheusMetrics with the provided options.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	constLabels := libinfo.AddPrometheusLibVersionLabel(opts.ConstLabels)
	buckets := opts.QueueWaitBuckets
	if buckets == nil {
		buckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}
	}
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: opts.Namespace, Name: name, Help: help, ConstLabels: constLabels,
		}, append([]string{metricsLabelThrottle}, labels...))
	}
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: opts.Namespace, Name: name, Help: help, ConstLabels: constLabels,
		}, []string{metricsLabelThrottle})
	}
	return &PrometheusMetrics{
		AdmissionsTotal: counter("throttle_admissions_total", "Number of units of work admitted for execution."),
		ResultsTotal:    counter("throttle_results_total", "Number of settled attempts by result.", "result"),
		CoalescedTotal:  counter("throttle_coalesced_total", "Number of calls that joined already submitted work."),
		QueueLength:     gauge("throttle_queue_length", "Number of units of work waiting for admission."),
		InFlight:        gauge("throttle_in_flight", "Number of units of work currently running."),
		BackoffSeconds:  gauge("throttle_backoff_seconds", "Delay applied by the latest soft failure."),
		QueueWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   opts.Namespace,
			Name:        "throttle_queue_wait_seconds",
			Help:        "Time a unit of work spent in the queue before admission.",
			ConstLabels: constLabels,
			Buckets:     buckets,
		}, []string{metricsLabelThrottle}),
		Cache: lrucache.NewPrometheusMetricsWithOpts(lrucache.PrometheusMetricsOpts{
			Namespace:         opts.Namespace,
			ConstLabels:       constLabels,
			CurriedLabelNames: []string{metricsLabelThrottle},
		}),
	}
}

// Collectors returns all underlying Prometheus collectors.
func (pm *PrometheusMetrics) Collectors() []prometheus.Collector {
	return append([]prometheus.Collector{
		pm.AdmissionsTotal, pm.ResultsTotal, pm.CoalescedTotal,
		pm.QueueLength, pm.InFlight, pm.BackoffSeconds, pm.QueueWait,
	}, pm.Cache.Collectors()...)
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(pm.Collectors()...)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister(registerer prometheus.Registerer) {
	for _, c := range pm.Collectors() {
		registerer.Unregister(c)
	}
}

// ForInstance returns collectors bound to the named instance.
func (pm *PrometheusMetrics) ForInstance(name string) (MetricsCollector, lrucache.MetricsCollector) {
	labels := prometheus.Labels{metricsLabelThrottle: name}
	return &instanceMetrics{
		admissions: pm.AdmissionsTotal.With(labels),
		results:    pm.ResultsTotal.MustCurryWith(labels),
		coalesced:  pm.CoalescedTotal.With(labels),
		queueLen:   pm.QueueLength.With(labels),
		inFlight:   pm.InFlight.With(labels),
		backoff:    pm.BackoffSeconds.With(labels),
		queueWait:  pm.QueueWait.With(labels),
	}, pm.Cache.MustCurryWith(labels)
}

type instanceMetrics struct {
	admissions prometheus.Counter
	results    *prometheus.CounterVec
	coalesced  prometheus.Counter
	queueLen   prometheus.Gauge
	inFlight   prometheus.Gauge
	backoff    prometheus.Gauge
	queueWait  prometheus.Observer
}

func (m *instanceMetrics) IncAdmissions()             { m.admissions.Inc() }
func (m *instanceMetrics) IncResults(result string)   { m.results.WithLabelValues(result).Inc() }
func (m *instanceMetrics) IncCoalesced()              { m.coalesced.Inc() }
func (m *instanceMetrics) SetQueueLength(n int)       { m.queueLen.Set(float64(n)) }
func (m *instanceMetrics) SetInFlight(n int)          { m.inFlight.Set(float64(n)) }
func (m *instanceMetrics) SetBackoff(d time.Duration) { m.backoff.Set(d.Seconds()) }
func (m *instanceMetrics) ObserveQueueWait(d time.Duration) {
	m.queueWait.Observe(d.Seconds())
}

type disabledMetrics struct{}

func (disabledMetrics) IncAdmissions()                 {}
func (disabledMetrics) IncResults(string)              {}
func (disabledMetrics) IncCoalesced()                  {}
func (disabledMetrics) SetQueueLength(int)             {}
func (disabledMetrics) SetInFlight(int)                {}
func (disabledMetrics) SetBackoff(time.Duration)       {}
func (disabledMetrics) ObserveQueueWait(time.Duration) {}
