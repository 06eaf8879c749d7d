/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package retry provides backoff policies and a helper for retrying one-off operations.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// IsRetryable defines a func that can tell if error is retryable as opposed to persistent.
type IsRetryable func(error) bool

// RetryableFunc is function that does some work and can be potentially retried.
type RetryableFunc func(ctx context.Context) error

// Policy defines backoff strategy.
type Policy interface {
	NewBackOff() backoff.BackOff
}

// The PolicyFunc type is an adapter to allow the use of ordinary functions as retry.Policy.
type PolicyFunc func() backoff.BackOff

// NewBackOff implements retry.Policy.
func (f PolicyFunc) NewBackOff() backoff.BackOff {
	return f()
}

// DoWithRetry executes fn with retry according to policy p and with respect to context ctx.
// Only errors accepted by isRetryable are retried (any error, if it is nil).
// Notify, if not nil, is called before every retry with the error and the delay.
func DoWithRetry(ctx context.Context, p Policy, isRetryable IsRetryable, notify backoff.Notify, fn RetryableFunc) error {
	bctx := backoff.WithContext(p.NewBackOff(), ctx)
	op := func() error {
		err := fn(bctx.Context())
		if err != nil && isRetryable != nil && !isRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.RetryNotify(op, bctx, notify)
}

// ExponentialBackoffOpts configures ExponentialBackoffPolicy.
type ExponentialBackoffOpts struct {
	// InitialInterval is the first delay.
	InitialInterval time.Duration
	// Multiplier is applied to the delay after each attempt. 1.5 if zero.
	Multiplier float64
	// MaxInterval caps the delay. Unbounded (math.MaxInt64) if zero.
	MaxInterval time.Duration
	// RandomizationFactor spreads the delay within [d*(1-f), d*(1+f)]. Zero gives exact delays.
	RandomizationFactor float64
	// MaxElapsedTime stops the backoff after this much time. Zero means never stop.
	MaxElapsedTime time.Duration
	// MaxAttempts limits the number of retries. Zero means unlimited.
	MaxAttempts int
}

// ExponentialBackoffPolicy produces exponentially growing delays.
type ExponentialBackoffPolicy struct {
	opts ExponentialBackoffOpts
}

// NewExponentialBackoffPolicy returns an exponential backoff policy (1.5 multiplier, no jitter)
// with given initial interval and max retry attempt count.
func NewExponentialBackoffPolicy(initialInterval time.Duration, maxRetryAttempts int) ExponentialBackoffPolicy {
	return NewExponentialBackoffPolicyWithOpts(ExponentialBackoffOpts{
		InitialInterval: initialInterval,
		MaxAttempts:     maxRetryAttempts,
	})
}

// NewExponentialBackoffPolicyWithOpts returns an exponential backoff policy with the given options.
func NewExponentialBackoffPolicyWithOpts(opts ExponentialBackoffOpts) ExponentialBackoffPolicy {
	if opts.Multiplier == 0 {
		opts.Multiplier = backoff.DefaultMultiplier
	}
	return ExponentialBackoffPolicy{opts: opts}
}

// NewBackOff implements retry.Policy.
func (p ExponentialBackoffPolicy) NewBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.opts.InitialInterval
	eb.Multiplier = p.opts.Multiplier
	eb.RandomizationFactor = p.opts.RandomizationFactor
	eb.MaxElapsedTime = p.opts.MaxElapsedTime
	if p.opts.MaxInterval > 0 {
		eb.MaxInterval = p.opts.MaxInterval
	} else {
		eb.MaxInterval = time.Duration(1<<63 - 1)
	}
	var bf backoff.BackOff = eb
	if p.opts.MaxAttempts > 0 {
		bf = backoff.WithMaxRetries(eb, uint64(p.opts.MaxAttempts))
	}
	bf.Reset()
	return bf
}

// ConstantBackoffPolicy means repeat up to max times with constant interval delays.
type ConstantBackoffPolicy struct {
	interval    time.Duration
	maxAttempts int
}

// NewConstantBackoffPolicy returns a constant backoff policy with given interval and max retry attempt count.
func NewConstantBackoffPolicy(interval time.Duration, maxRetryAttempts int) ConstantBackoffPolicy {
	return ConstantBackoffPolicy{interval, maxRetryAttempts}
}

// NewBackOff implements retry.Policy.
func (p ConstantBackoffPolicy) NewBackOff() backoff.BackOff {
	var bf backoff.BackOff = backoff.NewConstantBackOff(p.interval)
	if p.maxAttempts > 0 {
		bf = backoff.WithMaxRetries(bf, uint64(p.maxAttempts))
	}
	bf.Reset()
	return bf
}
