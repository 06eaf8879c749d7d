/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package throttle

import (
	"time"

	"github.com/gammazero/deque"
)

const minWindowQueueCapacity = 16

// RateWindow is a sliding log of admission timestamps.
// It allows at most limit admissions within any rolling window.
// RateWindow is not safe for concurrent use; Instance guards it with its mutex.
type RateWindow struct {
	limit      int
	window     time.Duration
	admissions *deque.Deque // time.Time, oldest at the front
}

// NewRateWindow creates a RateWindow.
func NewRateWindow(limit int, window time.Duration) *RateWindow {
	return &RateWindow{
		limit:      limit,
		window:     window,
		admissions: deque.New(minWindowQueueCapacity, minWindowQueueCapacity),
	}
}

// prune drops admissions that no longer fall inside the window ending at now.
func (w *RateWindow) prune(now time.Time) {
	for w.admissions.Len() > 0 && now.Sub(w.admissions.Front().(time.Time)) >= w.window {
		w.admissions.PopFront()
	}
}

// Delay returns how long to wait before another admission is allowed. Zero means admit now.
func (w *RateWindow) Delay(now time.Time) time.Duration {
	w.prune(now)
	if w.admissions.Len() < w.limit {
		return 0
	}
	// Only the oldest admission has to leave the window to free a slot.
	oldest := w.admissions.At(w.admissions.Len() - w.limit).(time.Time)
	if d := oldest.Add(w.window).Sub(now); d > 0 {
		return d
	}
	return 0
}

// Record registers an admission at now.
func (w *RateWindow) Record(now time.Time) {
	w.admissions.PushBack(now)
}

// Count returns the number of admissions inside the window ending at now.
func (w *RateWindow) Count(now time.Time) int {
	w.prune(now)
	return w.admissions.Len()
}
