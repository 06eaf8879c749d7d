/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// StatusError reports a response whose status tells the client to slow down
// (408, 429, 502, 503, 504). The throttle classifies it as a soft failure.
type StatusError struct {
	Code   int
	Status string

	// RetryAfterDelay is parsed from the Retry-After header. Zero if absent.
	RetryAfterDelay time.Duration
}

// NewStatusError creates a StatusError from a response.
func NewStatusError(resp *http.Response) *StatusError {
	retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
	return &StatusError{Code: resp.StatusCode, Status: resp.Status, RetryAfterDelay: retryAfter}
}

func (e *StatusError) Error() string {
	if e.RetryAfterDelay > 0 {
		return fmt.Sprintf("unexpected HTTP status %d (retry after %s)", e.Code, e.RetryAfterDelay)
	}
	return fmt.Sprintf("unexpected HTTP status %d", e.Code)
}

// StatusCode returns the HTTP status code of the response.
func (e *StatusError) StatusCode() int { return e.Code }

// RetryAfter returns the delay requested by the server.
func (e *StatusError) RetryAfter() time.Duration { return e.RetryAfterDelay }

// IsThrottlingStatus reports whether the status asks the client to retry later.
func IsThrottlingStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// parseRetryAfter accepts both delay-seconds and HTTP-date forms.
func parseRetryAfter(val string) (time.Duration, bool) {
	if val == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(val); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	t, err := http.ParseTime(val)
	if err != nil {
		return 0, false
	}
	if d := time.Until(t); d > 0 {
		return d, true
	}
	return 0, true
}
