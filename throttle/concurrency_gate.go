/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package throttle

import (
	"go.uber.org/atomic"
)

// ConcurrencyGate bounds the number of running units of work.
// Acquire and Release are called under the Instance mutex; InFlight may be read from anywhere.
type ConcurrencyGate struct {
	limit    int32
	inFlight atomic.Int32
}

// NewConcurrencyGate creates a gate with the given limit.
func NewConcurrencyGate(limit int) *ConcurrencyGate {
	return &ConcurrencyGate{limit: int32(limit)}
}

// Available reports whether a slot is free.
func (g *ConcurrencyGate) Available() bool {
	return g.inFlight.Load() < g.limit
}

// TryAcquire takes a slot if one is free.
func (g *ConcurrencyGate) TryAcquire() bool {
	if !g.Available() {
		return false
	}
	g.inFlight.Inc()
	return true
}

// Release frees a slot taken by TryAcquire.
func (g *ConcurrencyGate) Release() {
	if g.inFlight.Dec() < 0 {
		panic("throttle: concurrency gate released more times than acquired")
	}
}

// InFlight returns the number of taken slots.
func (g *ConcurrencyGate) InFlight() int {
	return int(g.inFlight.Load())
}
