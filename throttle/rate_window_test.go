/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package throttle

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestRateWindow_Delay(t *testing.T) {
	clock := clockwork.NewFakeClock()
	w := NewRateWindow(2, time.Second)

	require.Zero(t, w.Delay(clock.Now()))
	w.Record(clock.Now())
	clock.Advance(300 * time.Millisecond)
	require.Zero(t, w.Delay(clock.Now()))
	w.Record(clock.Now())

	// Full: the first admission leaves the window 700ms from now.
	require.Equal(t, 700*time.Millisecond, w.Delay(clock.Now()))
	require.Equal(t, 2, w.Count(clock.Now()))

	clock.Advance(700 * time.Millisecond)
	require.Zero(t, w.Delay(clock.Now()))
	require.Equal(t, 1, w.Count(clock.Now()))

	clock.Advance(time.Hour)
	require.Zero(t, w.Count(clock.Now()))
}

func TestRateWindow_NeverExceedsLimit(t *testing.T) {
	const limit, window = 5, time.Second
	clock := clockwork.NewFakeClock()
	w := NewRateWindow(limit, window)

	var admitted []time.Time
	for len(admitted) < 40 {
		if d := w.Delay(clock.Now()); d > 0 {
			clock.Advance(d)
			continue
		}
		w.Record(clock.Now())
		admitted = append(admitted, clock.Now())
		clock.Advance(37 * time.Millisecond)
	}

	for i := limit; i < len(admitted); i++ {
		require.GreaterOrEqual(t, admitted[i].Sub(admitted[i-limit]), window,
			"admissions %d and %d are within one window", i-limit, i)
	}
}
