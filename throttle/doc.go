/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package throttle gates outbound calls to rate-limited remote endpoints.
//
// An Instance combines a sliding-window rate limiter, a concurrency gate, a priority queue,
// a short-lived coalescing cache and an adaptive backoff controller. Calls for the same key
// that arrive while a previous call is still pending (or shortly after it was created) share
// a single execution. Soft failures (rate limiting, timeouts, network errors) slow the whole
// instance down and put the work back at the front of the queue. Hard failures are returned
// to the callers immediately.
//
// A Registry holds independently throttled instances, one per endpoint class.
package throttle
