/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package throttle

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"go.uber.org/atomic"

	"github.com/acronis/go-callthrottle/internal/libinfo"
	"github.com/acronis/go-callthrottle/log"
	"github.com/acronis/go-callthrottle/log/logtest"
	"github.com/acronis/go-callthrottle/testutil"
)

const (
	waitTimeout = 5 * time.Second
	waitTick    = time.Millisecond
)

type InstanceTestSuite struct {
	suite.Suite
}

func TestInstance(t *testing.T) {
	suite.Run(t, new(InstanceTestSuite))
}

func (ts *InstanceTestSuite) newInstance(cfg Config, opts Opts) *Instance {
	inst, err := NewWithOpts("test", cfg, opts)
	ts.Require().NoError(err)
	return inst
}

func fastConfig() Config {
	return Config{
		MaxRequests:   1000,
		Window:        time.Second,
		MaxConcurrent: 100,
		Backoff:       BackoffConfig{Initial: 5 * time.Millisecond, Multiplier: 2, Max: 20 * time.Millisecond},
	}
}

type result struct {
	val interface{}
	err error
}

func doAsync(inst *Instance, ctx context.Context, key string, priority int, fn func(ctx context.Context) (interface{}, error)) <-chan result {
	ch := make(chan result, 1)
	go func() {
		v, err := inst.Do(ctx, key, priority, fn)
		ch <- result{v, err}
	}()
	return ch
}

func (ts *InstanceTestSuite) receive(ch <-chan result) result {
	select {
	case r := <-ch:
		return r
	case <-time.After(waitTimeout):
		ts.FailNow("timed out waiting for call result")
	}
	return result{}
}

func (ts *InstanceTestSuite) TestNewWithOpts_InvalidConfig() {
	_, err := New("broken", Config{MaxRequests: 0, Window: time.Second, MaxConcurrent: 1})
	ts.Require().Error(err)
	ts.Contains(err.Error(), `invalid config for throttle "broken"`)

	_, err = New("broken", Config{MaxRequests: 1, Window: time.Second, MaxConcurrent: 1,
		Backoff: BackoffConfig{Initial: time.Second, Max: time.Millisecond}})
	ts.Require().Error(err)
}

func (ts *InstanceTestSuite) TestDo_EmptyKey() {
	inst := ts.newInstance(fastConfig(), Opts{})
	_, err := inst.Do(context.Background(), "", 0, func(ctx context.Context) (interface{}, error) {
		ts.FailNow("must not be executed")
		return nil, nil
	})
	ts.Require().ErrorIs(err, ErrEmptyKey)
}

func (ts *InstanceTestSuite) TestDo_CanceledContext() {
	inst := ts.newInstance(fastConfig(), Opts{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := inst.Do(ctx, "k", 0, func(ctx context.Context) (interface{}, error) {
		ts.FailNow("must not be executed")
		return nil, nil
	})
	ts.Require().ErrorIs(err, context.Canceled)
	ts.Zero(inst.QueueLen())
}

func (ts *InstanceTestSuite) TestCoalescing_PendingCallExecutesOnce() {
	inst := ts.newInstance(fastConfig(), Opts{})
	release := make(chan struct{})
	var executions atomic.Int32
	fn := func(ctx context.Context) (interface{}, error) {
		executions.Inc()
		<-release
		return "balance:42", nil
	}

	const callers = 20
	results := make([]<-chan result, 0, callers)
	results = append(results, doAsync(inst, context.Background(), "eth_getBalance:0xabc", 0, fn))
	ts.Require().Eventually(func() bool { return executions.Load() == 1 }, waitTimeout, waitTick)
	for i := 1; i < callers; i++ {
		results = append(results, doAsync(inst, context.Background(), "eth_getBalance:0xabc", 0, fn))
	}
	ts.Require().Eventually(func() bool { return inst.Stats().CoalescedTotal == callers-1 }, waitTimeout, waitTick)
	close(release)

	for _, ch := range results {
		r := ts.receive(ch)
		ts.Require().NoError(r.err)
		ts.Require().Equal("balance:42", r.val)
	}
	ts.Equal(int32(1), executions.Load())
	ts.Equal(uint64(1), inst.Stats().AdmittedTotal)
}

func (ts *InstanceTestSuite) TestCoalescing_SettledResultWithinWindow() {
	clock := clockwork.NewFakeClock()
	cfg := fastConfig()
	cfg.Coalesce = CoalesceConfig{Window: 100 * time.Millisecond}
	inst := ts.newInstance(cfg, Opts{Clock: clock})

	var executions atomic.Int32
	fn := func(ctx context.Context) (interface{}, error) {
		return int(executions.Inc()), nil
	}

	v, err := inst.Do(context.Background(), "k", 0, fn)
	ts.Require().NoError(err)
	ts.Require().Equal(1, v)

	clock.Advance(99 * time.Millisecond)
	v, err = inst.Do(context.Background(), "k", 0, fn)
	ts.Require().NoError(err)
	ts.Require().Equal(1, v, "settled result is shared within the window")

	clock.Advance(time.Millisecond)
	v, err = inst.Do(context.Background(), "k", 0, fn)
	ts.Require().NoError(err)
	ts.Require().Equal(2, v, "settled result is not shared once the window has passed")
}

func (ts *InstanceTestSuite) TestCoalescing_PendingCallSurvivesKeyCapacity() {
	cfg := fastConfig()
	cfg.Coalesce = CoalesceConfig{MaxKeys: 1}
	inst := ts.newInstance(cfg, Opts{})

	release := make(chan struct{})
	var executions atomic.Int32
	fn := func(ctx context.Context) (interface{}, error) {
		executions.Inc()
		<-release
		return "done", nil
	}
	results := []<-chan result{doAsync(inst, context.Background(), "a", 0, fn)}
	ts.Require().Eventually(func() bool { return executions.Load() == 1 }, waitTimeout, waitTick)
	results = append(results, doAsync(inst, context.Background(), "b", 0, fn))
	ts.Require().Eventually(func() bool { return executions.Load() == 2 }, waitTimeout, waitTick)
	results = append(results, doAsync(inst, context.Background(), "a", 0, fn))
	ts.Require().Eventually(func() bool { return inst.Stats().CoalescedTotal == 1 }, waitTimeout, waitTick)
	close(release)

	for _, ch := range results {
		r := ts.receive(ch)
		ts.Require().NoError(r.err)
		ts.Equal("done", r.val)
	}
	ts.Equal(int32(2), executions.Load())
	ts.Equal(uint64(2), inst.Stats().AdmittedTotal)
}

func (ts *InstanceTestSuite) TestCoalescing_ErrorsAreShared() {
	inst := ts.newInstance(fastConfig(), Opts{})
	release := make(chan struct{})
	var executions atomic.Int32
	fn := func(ctx context.Context) (interface{}, error) {
		executions.Inc()
		<-release
		return nil, &statusErr{code: 401}
	}
	first := doAsync(inst, context.Background(), "k", 0, fn)
	ts.Require().Eventually(func() bool { return executions.Load() == 1 }, waitTimeout, waitTick)
	second := doAsync(inst, context.Background(), "k", 0, fn)
	ts.Require().Eventually(func() bool { return inst.Stats().CoalescedTotal == 1 }, waitTimeout, waitTick)
	close(release)

	for _, ch := range []<-chan result{first, second} {
		r := ts.receive(ch)
		var se *statusErr
		ts.Require().ErrorAs(r.err, &se)
		ts.Equal(401, se.code)
	}
	ts.Equal(int32(1), executions.Load())
}

func (ts *InstanceTestSuite) TestConcurrencyNeverExceedsLimit() {
	cfg := fastConfig()
	cfg.MaxConcurrent = 3
	inst := ts.newInstance(cfg, Opts{})

	var cur, maxSeen atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := inst.Do(context.Background(), "k"+strconv.Itoa(i), 0, func(ctx context.Context) (interface{}, error) {
				n := cur.Inc()
				for {
					m := maxSeen.Load()
					if n <= m || maxSeen.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				cur.Dec()
				return nil, nil
			})
			ts.NoError(err)
		}(i)
	}
	wg.Wait()

	ts.LessOrEqual(maxSeen.Load(), int32(3))
	ts.Equal(uint64(20), inst.Stats().AdmittedTotal)
	ts.Eventually(func() bool { return inst.InFlight() == 0 }, waitTimeout, waitTick)
}

func (ts *InstanceTestSuite) TestRateWindowSpreadsAdmissions() {
	cfg := fastConfig()
	cfg.MaxRequests = 5
	cfg.Window = 200 * time.Millisecond
	inst := ts.newInstance(cfg, Opts{})

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 15; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := inst.Do(context.Background(), "k"+strconv.Itoa(i), 0, func(ctx context.Context) (interface{}, error) {
				return nil, nil
			})
			ts.NoError(err)
		}(i)
	}
	wg.Wait()

	ts.GreaterOrEqual(time.Since(start), 2*cfg.Window, "15 calls at 5 per window need at least 2 full windows")
}

func (ts *InstanceTestSuite) TestRateWindowWithFakeClock() {
	clock := clockwork.NewFakeClock()
	inst := ts.newInstance(Config{MaxRequests: 2, Window: time.Second, MaxConcurrent: 1}, Opts{Clock: clock})

	var mu sync.Mutex
	var admittedAt []time.Time
	fn := func(ctx context.Context) (interface{}, error) {
		mu.Lock()
		admittedAt = append(admittedAt, clock.Now())
		mu.Unlock()
		return nil, nil
	}
	results := []<-chan result{
		doAsync(inst, context.Background(), "a", 0, fn),
		doAsync(inst, context.Background(), "b", 0, fn),
		doAsync(inst, context.Background(), "c", 0, fn),
	}

	var errs []error
	done := 0
	ts.Require().Eventually(func() bool {
		for done < len(results) {
			select {
			case r := <-results[done]:
				errs = append(errs, r.err)
				done++
				continue
			default:
			}
			break
		}
		if done == len(results) {
			return true
		}
		if inst.QueueLen() > 0 && inst.InFlight() == 0 {
			clock.Advance(10 * time.Millisecond)
		}
		return false
	}, waitTimeout, waitTick)
	for _, err := range errs {
		ts.Require().NoError(err)
	}

	mu.Lock()
	defer mu.Unlock()
	ts.Require().Len(admittedAt, 3)
	ts.Less(admittedAt[1].Sub(admittedAt[0]), time.Second, "second admission fits into the first window")
	ts.GreaterOrEqual(admittedAt[2].Sub(admittedAt[0]), time.Second, "third admission waits for the window to slide")
}

func (ts *InstanceTestSuite) TestSoftFailure_BackoffGrows() {
	cfg := fastConfig()
	cfg.Backoff = BackoffConfig{Initial: 20 * time.Millisecond, Multiplier: 2, Max: 80 * time.Millisecond}
	inst := ts.newInstance(cfg, Opts{})

	var startedAt []time.Time
	v, err := inst.Do(context.Background(), "k", 0, func(ctx context.Context) (interface{}, error) {
		startedAt = append(startedAt, time.Now())
		if len(startedAt) <= 4 {
			return nil, &statusErr{code: 429}
		}
		return "ok", nil
	})
	ts.Require().NoError(err)
	ts.Require().Equal("ok", v)
	ts.Require().Len(startedAt, 5)

	wantGaps := []time.Duration{20 * time.Millisecond, 40 * time.Millisecond, 80 * time.Millisecond, 80 * time.Millisecond}
	for i, want := range wantGaps {
		ts.GreaterOrEqual(startedAt[i+1].Sub(startedAt[i]), want, "gap before attempt %d", i+2)
	}

	stats := inst.Stats()
	ts.Zero(stats.ConsecutiveSoftFailures, "success resets the backoff")
	ts.Equal(80*time.Millisecond, time.Duration(stats.LastBackoff))
}

func (ts *InstanceTestSuite) TestSoftFailure_RetriedBeforeQueuedWork() {
	cfg := fastConfig()
	cfg.MaxConcurrent = 1
	inst := ts.newInstance(cfg, Opts{})

	release := make(chan struct{})
	var mu sync.Mutex
	var order []string
	record := func(key string) {
		mu.Lock()
		order = append(order, key)
		mu.Unlock()
	}

	var attempts atomic.Int32
	first := doAsync(inst, context.Background(), "a", 0, func(ctx context.Context) (interface{}, error) {
		record("a")
		if attempts.Inc() == 1 {
			<-release
			return nil, &statusErr{code: 503}
		}
		return nil, nil
	})
	ts.Require().Eventually(func() bool { return attempts.Load() == 1 }, waitTimeout, waitTick)
	second := doAsync(inst, context.Background(), "b", 10, func(ctx context.Context) (interface{}, error) {
		record("b")
		return nil, nil
	})
	ts.Require().Eventually(func() bool { return inst.QueueLen() == 1 }, waitTimeout, waitTick)
	close(release)

	ts.Require().NoError(ts.receive(first).err)
	ts.Require().NoError(ts.receive(second).err)
	ts.Equal([]string{"a", "a", "b"}, order)
}

func (ts *InstanceTestSuite) TestSoftFailure_RetriesExhausted() {
	cfg := fastConfig()
	cfg.MaxRetries = 2
	recorder := logtest.NewRecorder()
	inst := ts.newInstance(cfg, Opts{Logger: recorder})

	var attempts atomic.Int32
	_, err := inst.Do(context.Background(), "k", 0, func(ctx context.Context) (interface{}, error) {
		attempts.Inc()
		return nil, &statusErr{code: 503}
	})
	var exhaustedErr *RetriesExhaustedError
	ts.Require().ErrorAs(err, &exhaustedErr)
	ts.Equal(3, exhaustedErr.Attempts)
	var se *statusErr
	ts.Require().ErrorAs(err, &se)
	ts.Equal(int32(3), attempts.Load())

	ts.Equal(2, recorder.CountEntries("soft failure, backing off"))
	entry, found := recorder.FindEntry("giving up on call after soft failures")
	ts.Require().True(found)
	ts.Equal(log.LevelWarn, entry.Level)
}

func (ts *InstanceTestSuite) TestHardFailure_NotRetried() {
	for _, err := range []error{&statusErr{code: 401}, &rpcErr{code: RPCCodeMethodNotFound}, errors.New("invalid params")} {
		ts.Run(err.Error(), func() {
			inst := ts.newInstance(fastConfig(), Opts{})
			var attempts atomic.Int32
			_, gotErr := inst.Do(context.Background(), "k", 0, func(ctx context.Context) (interface{}, error) {
				attempts.Inc()
				return nil, err
			})
			ts.Require().ErrorIs(gotErr, err)
			ts.Equal(int32(1), attempts.Load())

			stats := inst.Stats()
			ts.Zero(stats.ConsecutiveSoftFailures)
			ts.Nil(stats.BackoffUntil)
		})
	}
}

func (ts *InstanceTestSuite) TestPanicBecomesHardFailure() {
	inst := ts.newInstance(fastConfig(), Opts{})
	_, err := inst.Do(context.Background(), "k", 0, func(ctx context.Context) (interface{}, error) {
		panic("boom")
	})
	var panicErr *PanicError
	ts.Require().ErrorAs(err, &panicErr)
	ts.Equal("boom", panicErr.Value)
	ts.Eventually(func() bool { return inst.InFlight() == 0 }, waitTimeout, waitTick)
}

func (ts *InstanceTestSuite) TestPriorityOrder() {
	cfg := fastConfig()
	cfg.MaxConcurrent = 1
	inst := ts.newInstance(cfg, Opts{})

	release := make(chan struct{})
	blocker := doAsync(inst, context.Background(), "blocker", 0, func(ctx context.Context) (interface{}, error) {
		<-release
		return nil, nil
	})
	ts.Require().Eventually(func() bool { return inst.InFlight() == 1 }, waitTimeout, waitTick)

	var mu sync.Mutex
	var order []string
	var results []<-chan result
	for n, item := range []struct {
		key      string
		priority int
	}{{"low", 0}, {"high", 10}, {"mid", 5}, {"high-2", 10}} {
		key := item.key
		results = append(results, doAsync(inst, context.Background(), key, item.priority, func(ctx context.Context) (interface{}, error) {
			mu.Lock()
			order = append(order, key)
			mu.Unlock()
			return nil, nil
		}))
		want := n + 1
		ts.Require().Eventually(func() bool { return inst.QueueLen() == want }, waitTimeout, waitTick)
	}
	close(release)

	ts.Require().NoError(ts.receive(blocker).err)
	for _, ch := range results {
		ts.Require().NoError(ts.receive(ch).err)
	}
	ts.Equal([]string{"high", "high-2", "mid", "low"}, order)
}

func (ts *InstanceTestSuite) TestClear() {
	cfg := fastConfig()
	cfg.MaxConcurrent = 1
	metrics := NewPrometheusMetrics()
	instMetrics, cacheMetrics := metrics.ForInstance("test")
	inst := ts.newInstance(cfg, Opts{Metrics: instMetrics, CacheMetrics: cacheMetrics})

	release := make(chan struct{})
	var blockerCtxErr error
	blocker := doAsync(inst, context.Background(), "blocker", 0, func(ctx context.Context) (interface{}, error) {
		<-release
		blockerCtxErr = ctx.Err()
		return "done", nil
	})
	ts.Require().Eventually(func() bool { return inst.InFlight() == 1 }, waitTimeout, waitTick)

	var executed atomic.Int32
	fn := func(ctx context.Context) (interface{}, error) {
		executed.Inc()
		return nil, nil
	}
	var queued []<-chan result
	for i := 0; i < 3; i++ {
		queued = append(queued, doAsync(inst, context.Background(), fmt.Sprintf("q%d", i), 0, fn))
	}
	ts.Require().Eventually(func() bool { return inst.QueueLen() == 3 }, waitTimeout, waitTick)

	ts.Equal(3, inst.Clear())
	ts.Zero(inst.QueueLen())
	for _, ch := range queued {
		ts.Require().ErrorIs(ts.receive(ch).err, ErrCanceled)
	}
	testutil.RequireSamplesCountInCounter(ts.T(), metrics.ResultsTotal.WithLabelValues("test", ResultCanceled), 3)

	close(release)
	r := ts.receive(blocker)
	ts.Require().NoError(r.err, "running work is not affected")
	ts.Equal("done", r.val)
	ts.NoError(blockerCtxErr)
	ts.Zero(executed.Load())

	// A cleared key is not coalesced onto the canceled call.
	_, err := inst.Do(context.Background(), "q0", 0, fn)
	ts.Require().NoError(err)
	ts.Equal(int32(1), executed.Load())

	ts.Zero(inst.Clear())
}

func (ts *InstanceTestSuite) TestWaiterCancellation() {
	inst := ts.newInstance(fastConfig(), Opts{})
	release := make(chan struct{})
	workCtxErr := make(chan error, 1)
	fn := func(ctx context.Context) (interface{}, error) {
		<-release
		workCtxErr <- ctx.Err()
		return 42, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	first := doAsync(inst, ctx, "k", 0, fn)
	ts.Require().Eventually(func() bool { return inst.InFlight() == 1 }, waitTimeout, waitTick)
	second := doAsync(inst, context.Background(), "k", 0, fn)
	ts.Require().Eventually(func() bool { return inst.Stats().CoalescedTotal == 1 }, waitTimeout, waitTick)

	cancel()
	ts.Require().ErrorIs(ts.receive(first).err, context.Canceled)

	close(release)
	r := ts.receive(second)
	ts.Require().NoError(r.err)
	ts.Equal(42, r.val)
	ts.NoError(<-workCtxErr, "work is not canceled with its first caller")
}

func (ts *InstanceTestSuite) TestExecute() {
	cfg := fastConfig()
	cfg.Coalesce.Window = time.Minute
	inst := ts.newInstance(cfg, Opts{})

	n, err := Execute(context.Background(), inst, "slot", func(ctx context.Context) (uint64, error) {
		return 250_000_000, nil
	})
	ts.Require().NoError(err)
	ts.Equal(uint64(250_000_000), n)

	_, err = Execute(context.Background(), inst, "slot", func(ctx context.Context) (string, error) {
		return "never", nil
	})
	var typeErr *ResultTypeError
	ts.Require().ErrorAs(err, &typeErr)
	ts.Equal("slot", typeErr.Key)
	ts.Equal("string", typeErr.Expected)
	ts.Equal("uint64", typeErr.Actual)

	p, err := ExecuteWithPriority(context.Background(), inst, "nil", 3, func(ctx context.Context) (*int, error) {
		return nil, nil
	})
	ts.Require().NoError(err)
	ts.Nil(p)
}

func (ts *InstanceTestSuite) TestDrainLoopStopsWhenIdle() {
	inst := ts.newInstance(fastConfig(), Opts{})
	for i := 0; i < 3; i++ {
		_, err := inst.Do(context.Background(), "k"+strconv.Itoa(i), 0, func(ctx context.Context) (interface{}, error) {
			return nil, nil
		})
		ts.Require().NoError(err)
	}
	ts.Eventually(func() bool {
		inst.mu.Lock()
		defer inst.mu.Unlock()
		return !inst.draining
	}, waitTimeout, waitTick)
}

func (ts *InstanceTestSuite) TestMetrics() {
	metrics := NewPrometheusMetrics()
	registry := prometheus.NewPedanticRegistry()
	metrics.MustRegister(registry)
	defer metrics.Unregister(registry)

	instMetrics, cacheMetrics := metrics.ForInstance("test")
	cfg := fastConfig()
	cfg.Coalesce.Grace = time.Minute
	inst := ts.newInstance(cfg, Opts{Metrics: instMetrics, CacheMetrics: cacheMetrics})

	var attempts atomic.Int32
	_, err := inst.Do(context.Background(), "soft-then-ok", 0, func(ctx context.Context) (interface{}, error) {
		if attempts.Inc() == 1 {
			return nil, &statusErr{code: 429}
		}
		return "ok", nil
	})
	ts.Require().NoError(err)
	_, err = inst.Do(context.Background(), "hard", 0, func(ctx context.Context) (interface{}, error) {
		return nil, &statusErr{code: 403}
	})
	ts.Require().Error(err)

	testutil.RequireSamplesCountInCounter(ts.T(), metrics.AdmissionsTotal.WithLabelValues("test"), 3)
	testutil.RequireSamplesCountInCounter(ts.T(), metrics.ResultsTotal.WithLabelValues("test", ResultSuccess), 1)
	testutil.RequireSamplesCountInCounter(ts.T(), metrics.ResultsTotal.WithLabelValues("test", ResultSoft), 1)
	testutil.RequireSamplesCountInCounter(ts.T(), metrics.ResultsTotal.WithLabelValues("test", ResultHard), 1)
	testutil.RequireSamplesCountInHistogram(ts.T(),
		metrics.QueueWait.WithLabelValues("test").(prometheus.Histogram), 3)

	families, err := registry.Gather()
	ts.Require().NoError(err)
	var names []string
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	ts.Contains(names, "throttle_results_total")
	ts.Contains(names, "throttle_queue_wait_seconds")
	ts.Contains(names, "cache_entries_amount")
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName())
			}
			ts.Contains(labels, libinfo.PrometheusLibVersionLabel, "metric %s", mf.GetName())
		}
	}
}

func (ts *InstanceTestSuite) TestRetryAfterHintDelaysAdmissions() {
	clock := clockwork.NewFakeClock()
	t0 := clock.Now()
	cfg := fastConfig()
	cfg.Backoff.Max = 10 * time.Second
	inst := ts.newInstance(cfg, Opts{Clock: clock})

	var attemptsAt []time.Time
	ch := doAsync(inst, context.Background(), "limited", 0, func(ctx context.Context) (interface{}, error) {
		attemptsAt = append(attemptsAt, clock.Now())
		if len(attemptsAt) == 1 {
			return nil, &statusErr{code: 429, retryAfter: 3 * time.Second}
		}
		return "ok", nil
	})
	ts.Require().Eventually(func() bool { return inst.Stats().BackoffUntil != nil }, waitTimeout, waitTick)
	ts.Equal(t0.Add(3*time.Second), *inst.Stats().BackoffUntil)
	ts.Equal(1, inst.QueueLen())

	clock.Advance(3 * time.Second)
	r := ts.receive(ch)
	ts.Require().NoError(r.err)
	ts.Require().Len(attemptsAt, 2)
	ts.Equal(t0.Add(3*time.Second), attemptsAt[1])
}
