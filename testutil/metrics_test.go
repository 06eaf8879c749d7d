/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestRequireSamplesCountInCounter(t *testing.T) {
	admissions := prometheus.NewCounter(prometheus.CounterOpts{Name: "admissions_total"})
	admissions.Add(42)

	mockT := &MockT{}
	RequireSamplesCountInCounter(mockT, admissions, 41)
	require.True(t, mockT.Failed)

	mockT = &MockT{}
	RequireSamplesCountInCounter(mockT, admissions, 42)
	require.False(t, mockT.Failed)
}

func TestRequireSamplesCountInHistogram(t *testing.T) {
	queueWait := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "queue_wait_seconds", Buckets: []float64{0.1, 1, 10}})
	queueWait.Observe(0.5)

	mockT := &MockT{}
	RequireSamplesCountInHistogram(mockT, queueWait, 0)
	require.True(t, mockT.Failed)

	mockT = &MockT{}
	RequireSamplesCountInHistogram(mockT, queueWait, 1)
	require.False(t, mockT.Failed)
}

func TestRequireGaugeValue(t *testing.T) {
	inFlight := prometheus.NewGauge(prometheus.GaugeOpts{Name: "in_flight"})
	inFlight.Set(3)

	mockT := &MockT{}
	RequireGaugeValue(mockT, inFlight, 4)
	require.True(t, mockT.Failed)

	mockT = &MockT{}
	RequireGaugeValue(mockT, inFlight, 3)
	require.False(t, mockT.Failed)
}
