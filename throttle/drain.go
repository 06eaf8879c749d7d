/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package throttle

import (
	"time"

	"github.com/acronis/go-callthrottle/log"
)

type waitReason int

const (
	waitNone waitReason = iota
	waitBackoff
	waitRateWindow
	waitConcurrency
)

// ensureDrainLocked starts the drain loop unless it is already running.
func (i *Instance) ensureDrainLocked() {
	if i.draining {
		return
	}
	i.draining = true
	go i.drain()
}

// signal wakes the drain loop if it is waiting. A pending signal is kept until consumed.
func (i *Instance) signal() {
	select {
	case i.wake <- struct{}{}:
	default:
	}
}

// drain admits queued work until the queue is empty. At most one drain loop runs per instance.
func (i *Instance) drain() {
	for {
		i.mu.Lock()
		if i.queue.Len() == 0 {
			i.draining = false
			i.mu.Unlock()
			return
		}
		now := i.clock.Now()
		delay, reason := i.admissionDelayLocked(now)
		if reason == waitNone {
			i.admitLocked(now)
			i.mu.Unlock()
			continue
		}
		i.mu.Unlock()

		i.logWait(reason, delay)
		i.sleep(delay)
	}
}

// admissionDelayLocked checks backoff, then the rate window, then the concurrency gate.
// A zero delay with waitConcurrency means "until a running call settles".
func (i *Instance) admissionDelayLocked(now time.Time) (time.Duration, waitReason) {
	if d := i.backoff.Delay(now); d > 0 {
		return d, waitBackoff
	}
	if d := i.window.Delay(now); d > 0 {
		return d + i.cfg.RateWindowMargin, waitRateWindow
	}
	if !i.gate.Available() {
		return 0, waitConcurrency
	}
	return 0, waitNone
}

func (i *Instance) admitLocked(now time.Time) {
	if i.queue.Len() == 0 || !i.gate.TryAcquire() {
		return
	}
	item, _ := i.queue.Pop()
	i.window.Record(now)
	item.attempts++
	i.admittedTotal.Inc()

	i.metrics.IncAdmissions()
	i.metrics.SetQueueLength(i.queue.Len())
	i.metrics.SetInFlight(i.gate.InFlight())
	i.metrics.ObserveQueueWait(now.Sub(item.enqueuedAt))

	go i.run(item)
}

func (i *Instance) sleep(d time.Duration) {
	if d <= 0 {
		<-i.wake
		return
	}
	t := i.clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.Chan():
	case <-i.wake:
	}
}

func (i *Instance) logWait(reason waitReason, d time.Duration) {
	switch reason {
	case waitBackoff:
		i.logger.Debug("admission suspended by backoff", log.Duration("delay", d))
	case waitRateWindow:
		i.delayLog.Do(func() {
			i.logger.Info("rate limit reached, delaying admission",
				log.Duration("delay", d), log.Int("max_requests", i.cfg.MaxRequests), log.Duration("window", i.cfg.Window))
		})
	case waitConcurrency:
		i.logger.Debug("all concurrency slots taken, waiting", log.Int("max_concurrent", i.cfg.MaxConcurrent))
	}
}

func (i *Instance) run(item *queuedItem) {
	val, err := i.invoke(item)
	i.settle(item, val, err)
}

func (i *Instance) invoke(item *queuedItem) (val interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			val, err = nil, &PanicError{Value: r}
		}
	}()
	return item.fn(item.ctx)
}

// settle applies the outcome of one attempt. Every attempt releases its slot exactly once.
func (i *Instance) settle(item *queuedItem, val interface{}, err error) {
	i.mu.Lock()
	defer i.signal()
	defer i.mu.Unlock()

	i.gate.Release()
	i.metrics.SetInFlight(i.gate.InFlight())
	logger := i.logger.With(log.String("item_id", item.id.String()), log.String("key", item.key))

	if err == nil {
		i.backoff.Reset()
		i.finishLocked(item, val, nil, ResultSuccess)
		return
	}

	if Classify(err) != FailureSoft {
		logger.Debug("call failed permanently", log.Error(err), log.Int("attempts", item.attempts))
		i.finishLocked(item, nil, err, ResultHard)
		return
	}

	if i.cfg.MaxRetries > 0 && item.attempts > i.cfg.MaxRetries {
		logger.Warn("giving up on call after soft failures", log.Error(err), log.Int("attempts", item.attempts))
		i.finishLocked(item, nil, &RetriesExhaustedError{Attempts: item.attempts, Err: err}, ResultExhausted)
		return
	}

	now := i.clock.Now()
	delay := i.backoff.Signal(now, RetryAfterHint(err))
	item.enqueuedAt = now
	i.queue.PushFront(item)
	i.ensureDrainLocked()

	i.metrics.IncResults(ResultSoft)
	i.metrics.SetBackoff(delay)
	i.metrics.SetQueueLength(i.queue.Len())
	logger.Warn("soft failure, backing off",
		log.Error(err), log.Duration("delay", delay), log.Int("attempts", item.attempts))
}

func (i *Instance) finishLocked(item *queuedItem, val interface{}, err error, result string) {
	item.call.settle(val, err)
	i.coalescer.release(item.key, item.call)
	i.metrics.IncResults(result)
}
