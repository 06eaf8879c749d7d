/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package service runs long-living units (servers, workers) and stops them on OS signals.
package service

// Unit is a component of a service with its own lifecycle.
type Unit interface {
	// Start runs the unit. It may block for the lifetime of the unit or return right after
	// initialization. A failure is reported by writing to fatalErr; a successful Start writes nothing
	// and never uses the channel after returning.
	Start(fatalErr chan<- error)

	// Stop halts the unit. It may be called even if Start failed or was never called.
	Stop(gracefully bool) error
}

// MetricsRegisterer is an interface for objects that can register its own metrics.
type MetricsRegisterer interface {
	MustRegisterMetrics()
	UnregisterMetrics()
}
