/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package throttle

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/xid"
	"go.uber.org/atomic"
	"golang.org/x/time/rate"

	"github.com/acronis/go-callthrottle/config"
	"github.com/acronis/go-callthrottle/log"
	"github.com/acronis/go-callthrottle/lrucache"
)

// Executor runs units of work under throttling.
type Executor interface {
	Do(ctx context.Context, key string, priority int, fn func(ctx context.Context) (interface{}, error)) (interface{}, error)
}

// Opts represents options for an Instance.
type Opts struct {
	// Logger is used for diagnostics. Disabled by default.
	Logger log.FieldLogger
	// Metrics receives instance events. Disabled by default.
	Metrics MetricsCollector
	// CacheMetrics receives coalescing cache events. Disabled by default.
	CacheMetrics lrucache.MetricsCollector
	// Clock drives all timing decisions. Real clock by default.
	Clock clockwork.Clock
	// DelayLogInterval limits how often waits for the rate window are logged at info level.
	DelayLogInterval time.Duration
}

const defaultDelayLogInterval = 10 * time.Second

// Instance is an independently throttled scheduler for one endpoint class.
// All admission state is guarded by a single mutex; admitted work runs on its own goroutine.
type Instance struct {
	name    string
	cfg     Config
	logger  log.FieldLogger
	metrics MetricsCollector
	clock   clockwork.Clock

	mu        sync.Mutex
	queue     *priorityQueue
	window    *RateWindow
	gate      *ConcurrencyGate
	backoff   *BackoffController
	coalescer *coalescer
	draining  bool

	// wake is signaled whenever the drain loop may be able to make progress.
	wake chan struct{}

	delayLog rate.Sometimes

	admittedTotal  atomic.Uint64
	coalescedTotal atomic.Uint64
}

var _ Executor = (*Instance)(nil)

// New creates an Instance with default options.
func New(name string, cfg Config) (*Instance, error) {
	return NewWithOpts(name, cfg, Opts{})
}

// NewWithOpts creates an Instance. Zero optional fields of cfg get their defaults.
func NewWithOpts(name string, cfg Config, opts Opts) (*Instance, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config for throttle %q: %w", name, err)
	}
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = disabledMetrics{}
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.DelayLogInterval == 0 {
		opts.DelayLogInterval = defaultDelayLogInterval
	}
	c, err := newCoalescer(cfg.Coalesce, opts.Clock, opts.CacheMetrics)
	if err != nil {
		return nil, fmt.Errorf("create coalescing cache for throttle %q: %w", name, err)
	}
	return &Instance{
		name:      name,
		cfg:       cfg,
		logger:    opts.Logger.With(log.String("throttle", name)),
		metrics:   opts.Metrics,
		clock:     opts.Clock,
		queue:     newPriorityQueue(),
		window:    NewRateWindow(cfg.MaxRequests, cfg.Window),
		gate:      NewConcurrencyGate(cfg.MaxConcurrent),
		backoff:   NewBackoffController(cfg.Backoff),
		coalescer: c,
		wake:      make(chan struct{}, 1),
		delayLog:  rate.Sometimes{Interval: opts.DelayLogInterval},
	}, nil
}

// Name returns the instance name.
func (i *Instance) Name() string { return i.name }

// Config returns the effective configuration.
func (i *Instance) Config() Config { return i.cfg }

// Do submits fn under key and waits for its result.
//
// If work for the same key is still pending, or was created less than the coalescing window ago,
// the call joins it and fn is not executed. Otherwise fn is queued with the given priority
// (higher runs first) and executed once rate, concurrency and backoff limits allow.
//
// fn receives a context that carries the values of ctx but is never canceled, since its result
// may be shared. Cancelling ctx only stops this caller from waiting.
func (i *Instance) Do(
	ctx context.Context, key string, priority int, fn func(ctx context.Context) (interface{}, error),
) (interface{}, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	i.mu.Lock()
	now := i.clock.Now()
	if existing, ok := i.coalescer.lookup(key, now); ok {
		i.mu.Unlock()
		i.coalescedTotal.Inc()
		i.metrics.IncCoalesced()
		i.logger.Debug("call coalesced", log.String("key", key))
		return existing.wait(ctx)
	}
	cl := newCall(now)
	i.coalescer.store(key, cl)
	item := &queuedItem{
		id:         xid.New(),
		key:        key,
		priority:   priority,
		enqueuedAt: now,
		ctx:        context.WithoutCancel(ctx),
		fn:         fn,
		call:       cl,
	}
	i.queue.Push(item)
	i.metrics.SetQueueLength(i.queue.Len())
	i.ensureDrainLocked()
	i.mu.Unlock()

	i.logger.Debug("call enqueued",
		log.String("item_id", item.id.String()), log.String("key", key), log.Int("priority", priority))
	return cl.wait(ctx)
}

// Execute runs fn through e with default priority. See Instance.Do.
func Execute[T any](ctx context.Context, e Executor, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	return ExecuteWithPriority(ctx, e, key, 0, fn)
}

// ExecuteWithPriority runs fn through e with the given priority. See Instance.Do.
func ExecuteWithPriority[T any](
	ctx context.Context, e Executor, key string, priority int, fn func(ctx context.Context) (T, error),
) (T, error) {
	var zero T
	v, err := e.Do(ctx, key, priority, func(ctx context.Context) (interface{}, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	res, ok := v.(T)
	if !ok {
		return zero, &ResultTypeError{
			Key:      key,
			Expected: reflect.TypeOf((*T)(nil)).Elem().String(),
			Actual:   reflect.TypeOf(v).String(),
		}
	}
	return res, nil
}

// Clear rejects all queued work with ErrCanceled and returns how many calls were dropped.
// Work already running is not affected.
func (i *Instance) Clear() int {
	i.mu.Lock()
	items := i.queue.Drain()
	for _, item := range items {
		i.coalescer.forget(item.key, item.call)
		item.call.settle(nil, ErrCanceled)
		i.metrics.IncResults(ResultCanceled)
	}
	i.metrics.SetQueueLength(0)
	i.mu.Unlock()

	i.signal()
	if len(items) > 0 {
		i.logger.Info("queue cleared", log.Int("canceled", len(items)))
	}
	return len(items)
}

// QueueLen returns the number of calls waiting for admission.
func (i *Instance) QueueLen() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.queue.Len()
}

// InFlight returns the number of running units of work.
func (i *Instance) InFlight() int {
	return i.gate.InFlight()
}

// Stats is a point-in-time snapshot of an Instance.
type Stats struct {
	Name                    string              `json:"name"`
	QueueLength             int                 `json:"queueLength"`
	InFlight                int                 `json:"inFlight"`
	MaxConcurrent           int                 `json:"maxConcurrent"`
	WindowAdmissions        int                 `json:"windowAdmissions"`
	MaxRequests             int                 `json:"maxRequests"`
	Window                  config.TimeDuration `json:"window"`
	BackoffUntil            *time.Time          `json:"backoffUntil,omitempty"`
	LastBackoff             config.TimeDuration `json:"lastBackoff"`
	ConsecutiveSoftFailures int                 `json:"consecutiveSoftFailures"`
	CoalescingEntries       int                 `json:"coalescingEntries"`
	AdmittedTotal           uint64              `json:"admittedTotal"`
	CoalescedTotal          uint64              `json:"coalescedTotal"`
}

// Stats returns a snapshot of the instance state.
func (i *Instance) Stats() Stats {
	i.mu.Lock()
	defer i.mu.Unlock()

	now := i.clock.Now()
	s := Stats{
		Name:                    i.name,
		QueueLength:             i.queue.Len(),
		InFlight:                i.gate.InFlight(),
		MaxConcurrent:           i.cfg.MaxConcurrent,
		WindowAdmissions:        i.window.Count(now),
		MaxRequests:             i.cfg.MaxRequests,
		Window:                  config.TimeDuration(i.cfg.Window),
		LastBackoff:             config.TimeDuration(i.backoff.LastDelay()),
		ConsecutiveSoftFailures: i.backoff.Consecutive(),
		CoalescingEntries:       i.coalescer.len(),
		AdmittedTotal:           i.admittedTotal.Load(),
		CoalescedTotal:          i.coalescedTotal.Load(),
	}
	if resumeAt := i.backoff.ResumeAt(); resumeAt.After(now) {
		s.BackoffUntil = &resumeAt
	}
	return s
}
