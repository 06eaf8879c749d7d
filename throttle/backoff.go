/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package throttle

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/acronis/go-callthrottle/retry"
)

// BackoffController holds the instance-wide pause triggered by soft failures.
// Every consecutive soft failure multiplies the delay up to the configured maximum;
// a success restores the initial delay.
// BackoffController is not safe for concurrent use; Instance guards it with its mutex.
type BackoffController struct {
	policy      backoff.BackOff
	maxHint     time.Duration
	resumeAt    time.Time
	lastDelay   time.Duration
	consecutive int
}

// NewBackoffController creates a controller from the backoff part of a config.
func NewBackoffController(cfg BackoffConfig) *BackoffController {
	b := NewBackoffControllerWithPolicy(retry.NewExponentialBackoffPolicyWithOpts(retry.ExponentialBackoffOpts{
		InitialInterval:     cfg.Initial,
		Multiplier:          cfg.Multiplier,
		MaxInterval:         cfg.Max,
		RandomizationFactor: cfg.Jitter,
	}))
	b.maxHint = cfg.Max
	return b
}

// NewBackoffControllerWithPolicy creates a controller with delays produced by the given policy.
// A policy that returns backoff.Stop keeps the last delay.
func NewBackoffControllerWithPolicy(p retry.Policy) *BackoffController {
	return &BackoffController{policy: p.NewBackOff()}
}

// Delay returns how long admissions must still be suspended at now.
func (b *BackoffController) Delay(now time.Time) time.Duration {
	if d := b.resumeAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Signal registers a soft failure at now and returns the applied delay.
// The delay is at least hint, so a server-provided Retry-After is honored,
// but the hint itself is capped by the configured maximum delay.
func (b *BackoffController) Signal(now time.Time, hint time.Duration) time.Duration {
	d := b.policy.NextBackOff()
	if d == backoff.Stop {
		d = b.lastDelay
	}
	if b.maxHint > 0 && hint > b.maxHint {
		hint = b.maxHint
	}
	if hint > d {
		d = hint
	}
	b.lastDelay = d
	b.consecutive++
	if resumeAt := now.Add(d); resumeAt.After(b.resumeAt) {
		b.resumeAt = resumeAt
	}
	return d
}

// Reset restores the initial delay after a success. A pause already in effect is kept.
func (b *BackoffController) Reset() {
	if b.consecutive == 0 {
		return
	}
	b.policy.Reset()
	b.consecutive = 0
}

// ResumeAt returns the time admissions resume. Zero if never paused.
func (b *BackoffController) ResumeAt() time.Time { return b.resumeAt }

// LastDelay returns the delay applied by the latest soft failure.
func (b *BackoffController) LastDelay() time.Duration { return b.lastDelay }

// Consecutive returns the number of soft failures since the last success.
func (b *BackoffController) Consecutive() int { return b.consecutive }
