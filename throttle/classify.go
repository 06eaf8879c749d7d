/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package throttle

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/cloudflare/ahocorasick"
)

// FailureClass tells the scheduler what to do with a failed unit of work.
type FailureClass int

// Failure classes.
const (
	// FailureHard errors are returned to the callers without retry.
	FailureHard FailureClass = iota
	// FailureSoft errors trigger backoff and put the work back at the front of the queue.
	FailureSoft
	// FailureCanceled marks work dropped by Instance.Clear.
	FailureCanceled
)

func (c FailureClass) String() string {
	switch c {
	case FailureSoft:
		return "soft"
	case FailureCanceled:
		return "canceled"
	default:
		return "hard"
	}
}

// StatusCoder is implemented by errors that carry an HTTP status code.
type StatusCoder interface {
	StatusCode() int
}

// RPCCoder is implemented by errors that carry a JSON-RPC error code.
type RPCCoder interface {
	RPCCode() int
}

// RetryAfterer is implemented by errors that carry a server-provided retry delay.
type RetryAfterer interface {
	RetryAfter() time.Duration
}

// JSON-RPC error codes with a known meaning for throttling.
const (
	RPCCodeMethodNotFound = -32601
	RPCCodeLimitExceeded  = -32005
	RPCCodeServerBusy     = -32098
	RPCCodeTooManyReqs    = -32029
)

var hardPhrases = []string{
	"unauthorized",
	"unauthenticated",
	"forbidden",
	"invalid api key",
	"invalid apikey",
	"api key is invalid",
	"api key not found",
	"missing api key",
	"authentication failed",
	"access denied",
	"method not found",
	"method not supported",
	"method is not supported",
	"method not available",
}

var softPhrases = []string{
	"rate limit",
	"rate-limit",
	"ratelimit",
	"too many requests",
	"request limit",
	"limit exceeded",
	"timeout",
	"timed out",
	"econnreset",
	"connection reset",
	"connection refused",
	"socket hang up",
	"network error",
	"network failure",
	"fetch failed",
	"service unavailable",
	"bad gateway",
	"gateway timeout",
	"temporarily unavailable",
}

var (
	hardMatcher = ahocorasick.NewStringMatcher(hardPhrases)
	softMatcher = ahocorasick.NewStringMatcher(softPhrases)
)

// IsHardFailure reports whether err is known to be permanent: authentication or authorization
// failures, an invalid or forbidden API key, or a method the endpoint does not support.
func IsHardFailure(err error) bool {
	if err == nil {
		return false
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		switch sc.StatusCode() {
		case http.StatusUnauthorized, http.StatusForbidden:
			return true
		}
	}
	var rc RPCCoder
	if errors.As(err, &rc) && rc.RPCCode() == RPCCodeMethodNotFound {
		return true
	}
	return matchMessage(hardMatcher, err)
}

// IsSoftFailure reports whether err is known to be transient: rate limiting, timeouts,
// connection resets and other network failures.
func IsSoftFailure(err error) bool {
	if err == nil || errors.Is(err, ErrCanceled) {
		return false
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		switch sc.StatusCode() {
		case http.StatusRequestTimeout, http.StatusTooManyRequests,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
	}
	var rc RPCCoder
	if errors.As(err, &rc) {
		switch rc.RPCCode() {
		case RPCCodeLimitExceeded, RPCCodeServerBusy, RPCCodeTooManyReqs:
			return true
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return matchMessage(softMatcher, err)
}

// Classify decides how the scheduler treats err. Errors that are neither hard nor soft
// are treated as hard.
func Classify(err error) FailureClass {
	switch {
	case errors.Is(err, ErrCanceled):
		return FailureCanceled
	case IsHardFailure(err):
		return FailureHard
	case IsSoftFailure(err):
		return FailureSoft
	default:
		return FailureHard
	}
}

// RetryAfterHint returns the retry delay carried by err, if any.
func RetryAfterHint(err error) time.Duration {
	var ra RetryAfterer
	if errors.As(err, &ra) {
		return ra.RetryAfter()
	}
	return 0
}

func matchMessage(m *ahocorasick.Matcher, err error) bool {
	return len(m.MatchThreadSafe([]byte(strings.ToLower(err.Error())))) > 0
}
