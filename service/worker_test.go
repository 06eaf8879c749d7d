/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-callthrottle/log"
	"github.com/acronis/go-callthrottle/log/logtest"
)

func requireNoRun(t *testing.T, runs <-chan error) {
	t.Helper()
	select {
	case <-runs:
		require.Fail(t, "worker should not run yet")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPeriodicWorker_Run(t *testing.T) {
	t.Run("runs after initial delay and then every interval", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		runs := make(chan error, 10)
		pw := NewPeriodicWorkerWithOpts(WorkerFunc(func(ctx context.Context) error {
			runs <- nil
			return nil
		}), time.Minute, log.NewDisabledLogger(), PeriodicWorkerOpts{InitialDelay: 10 * time.Second, Clock: clock})

		ctx, cancel := context.WithCancel(context.Background())
		runErr := make(chan error, 1)
		go func() { runErr <- pw.Run(ctx) }()

		clock.BlockUntil(1)
		clock.Advance(9 * time.Second)
		requireNoRun(t, runs)
		clock.Advance(time.Second)
		<-runs

		for i := 0; i < 3; i++ {
			clock.BlockUntil(1)
			clock.Advance(time.Minute)
			<-runs
		}

		cancel()
		require.NoError(t, <-runErr)
	})

	t.Run("interval depends on error", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		runs := make(chan error, 10)
		calls := 0
		pw := NewPeriodicWorkerWithOpts(WorkerFunc(func(ctx context.Context) error {
			calls++
			var err error
			if calls == 1 {
				err = errors.New("upstream unavailable")
			}
			runs <- err
			return err
		}), time.Minute, logtest.NewRecorder(), PeriodicWorkerOpts{
			InitialDelay: time.Second,
			Clock:        clock,
			IntervalDelayFunc: func(worker Worker, err error) time.Duration {
				if err != nil {
					return 5 * time.Minute
				}
				return time.Minute
			},
		})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() { _ = pw.Run(ctx) }()

		clock.BlockUntil(1)
		clock.Advance(time.Second)
		require.Error(t, <-runs)

		clock.BlockUntil(1)
		clock.Advance(time.Minute)
		requireNoRun(t, runs)
		clock.Advance(4 * time.Minute)
		require.NoError(t, <-runs)
	})

	t.Run("stops by ErrPeriodicWorkerStop", func(t *testing.T) {
		calls := 0
		logger := logtest.NewRecorder()
		pw := NewPeriodicWorker(WorkerFunc(func(ctx context.Context) error {
			calls++
			if calls == 2 {
				return ErrPeriodicWorkerStop
			}
			return nil
		}), time.Millisecond, logger)

		require.NoError(t, pw.Run(context.Background()))
		require.Equal(t, 2, calls)
		_, found := logger.FindEntry("periodic worker stopped")
		require.True(t, found)
	})

	t.Run("panic is logged and propagated", func(t *testing.T) {
		logger := logtest.NewRecorder()
		pw := NewPeriodicWorker(WorkerFunc(func(ctx context.Context) error {
			panic("stats snapshot failed")
		}), time.Millisecond, logger)

		require.PanicsWithValue(t, "stats snapshot failed", func() { _ = pw.Run(context.Background()) })
		_, found := logger.FindEntry("panic: stats snapshot failed")
		require.True(t, found)
	})
}
