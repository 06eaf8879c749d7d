/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/acronis/go-callthrottle/log"
	"github.com/acronis/go-callthrottle/throttle"
)

// Default parameter values for ThrottlingRoundTripper.
const (
	DefaultMaxResponseBodySize = 10 << 20
	DefaultAttemptTimeout      = 30 * time.Second
)

// ExecutorRouter picks the throttle instance for a request host.
// throttle.Registry implements it.
type ExecutorRouter interface {
	Route(host string) (*throttle.Instance, bool)
}

// RequestKeyFunc returns the coalescing key of a request. body is the full request body.
type RequestKeyFunc func(req *http.Request, body []byte) string

// ThrottlingRoundTripper sends requests through a throttle executor.
//
// Identical concurrent requests (see DefaultRequestKey) share a single upstream round trip,
// and every caller gets its own copy of the buffered response. Responses with statuses
// 408, 429, 502, 503 and 504 are turned into *StatusError so the executor backs off
// and retries them; all other responses are returned as is.
type ThrottlingRoundTripper struct {
	// Delegate is the next RoundTripper in the chain.
	Delegate http.RoundTripper

	// Executor throttles all requests. Takes precedence over Router.
	Executor throttle.Executor

	// Router picks the executor by request host. Requests to unknown hosts are not throttled.
	Router ExecutorRouter

	// RequestKey returns the coalescing key. DefaultRequestKey by default.
	RequestKey RequestKeyFunc

	// MaxResponseBodySize limits the size of a buffered response body.
	MaxResponseBodySize int64

	// AttemptTimeout bounds every single round trip. Attempts do not inherit cancellation
	// of the request context because their result may be shared with other callers.
	AttemptTimeout time.Duration

	// Logger is used for logging.
	// When it's necessary to use context-specific logger, LoggerProvider should be used instead.
	Logger log.FieldLogger

	// LoggerProvider is a function that provides a context-specific logger.
	LoggerProvider func(ctx context.Context) log.FieldLogger
}

// ThrottlingRoundTripperOpts represents options for ThrottlingRoundTripper.
type ThrottlingRoundTripperOpts struct {
	Router              ExecutorRouter
	RequestKey          RequestKeyFunc
	MaxResponseBodySize int64
	AttemptTimeout      time.Duration
	Logger              log.FieldLogger
	LoggerProvider      func(ctx context.Context) log.FieldLogger
}

// NewThrottlingRoundTripper creates a ThrottlingRoundTripper that sends all requests through executor.
func NewThrottlingRoundTripper(delegate http.RoundTripper, executor throttle.Executor) (*ThrottlingRoundTripper, error) {
	return NewThrottlingRoundTripperWithOpts(delegate, executor, ThrottlingRoundTripperOpts{})
}

// NewThrottlingRoundTripperWithOpts creates a ThrottlingRoundTripper with options.
// executor may be nil if opts.Router is set.
func NewThrottlingRoundTripperWithOpts(
	delegate http.RoundTripper, executor throttle.Executor, opts ThrottlingRoundTripperOpts,
) (*ThrottlingRoundTripper, error) {
	if executor == nil && opts.Router == nil {
		return nil, errors.New("either executor or router must be specified")
	}
	if opts.MaxResponseBodySize < 0 {
		return nil, fmt.Errorf("max response body size must not be negative, got %d", opts.MaxResponseBodySize)
	}
	if opts.RequestKey == nil {
		opts.RequestKey = DefaultRequestKey
	}
	if opts.MaxResponseBodySize == 0 {
		opts.MaxResponseBodySize = DefaultMaxResponseBodySize
	}
	if opts.AttemptTimeout == 0 {
		opts.AttemptTimeout = DefaultAttemptTimeout
	}
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	return &ThrottlingRoundTripper{
		Delegate:            delegate,
		Executor:            executor,
		Router:              opts.Router,
		RequestKey:          opts.RequestKey,
		MaxResponseBodySize: opts.MaxResponseBodySize,
		AttemptTimeout:      opts.AttemptTimeout,
		Logger:              opts.Logger,
		LoggerProvider:      opts.LoggerProvider,
	}, nil
}

// RoundTrip waits for admission and returns a copy of the shared response.
func (rt *ThrottlingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	executor := rt.executor(req)
	if executor == nil {
		return rt.Delegate.RoundTrip(req)
	}
	if req.Body != nil {
		defer func() { _ = req.Body.Close() }() // Per RoundTripper contract.
	}

	body, err := readRequestBody(req)
	if err != nil {
		return nil, err
	}
	ctx := req.Context()
	key := rt.RequestKey(req, body)
	snapshot, err := throttle.ExecuteWithPriority(ctx, executor, key, GetPriorityFromContext(ctx),
		func(workCtx context.Context) (*responseSnapshot, error) {
			return rt.roundTripOnce(workCtx, req, body)
		})
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		return nil, &throttle.ResultTypeError{Key: key, Expected: "*httpclient.responseSnapshot", Actual: "nil"}
	}
	return snapshot.newResponse(req), nil
}

func (rt *ThrottlingRoundTripper) executor(req *http.Request) throttle.Executor {
	if rt.Executor != nil {
		return rt.Executor
	}
	if inst, ok := rt.Router.Route(req.URL.Hostname()); ok {
		return inst
	}
	return nil
}

func (rt *ThrottlingRoundTripper) roundTripOnce(ctx context.Context, req *http.Request, body []byte) (*responseSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, rt.AttemptTimeout)
	defer cancel()

	attempt := req.Clone(ctx)
	attempt.Body = newBodyReader(body)
	attempt.GetBody = func() (io.ReadCloser, error) { return newBodyReader(body), nil }

	resp, err := rt.Delegate.RoundTrip(attempt)
	if err != nil {
		return nil, err
	}
	if IsThrottlingStatus(resp.StatusCode) {
		drainResponseBody(resp, rt.logger(ctx))
		statusErr := NewStatusError(resp)
		rt.logger(ctx).Debug("upstream asked to slow down",
			log.String("method", req.Method), log.String("url", req.URL.String()), log.Int("status", resp.StatusCode))
		return nil, statusErr
	}
	data, err := readResponseBody(resp, rt.MaxResponseBodySize)
	if err != nil {
		return nil, err
	}
	return &responseSnapshot{
		status:     resp.Status,
		statusCode: resp.StatusCode,
		proto:      resp.Proto,
		protoMajor: resp.ProtoMajor,
		protoMinor: resp.ProtoMinor,
		header:     resp.Header,
		trailer:    resp.Trailer,
		body:       data,
	}, nil
}

func (rt *ThrottlingRoundTripper) logger(ctx context.Context) log.FieldLogger {
	if rt.LoggerProvider != nil {
		return rt.LoggerProvider(ctx)
	}
	return rt.Logger
}

// responseSnapshot is a fully read response that may be handed to several callers.
type responseSnapshot struct {
	status     string
	statusCode int
	proto      string
	protoMajor int
	protoMinor int
	header     http.Header
	trailer    http.Header
	body       []byte
}

func (s *responseSnapshot) newResponse(req *http.Request) *http.Response {
	return &http.Response{
		Status:        s.status,
		StatusCode:    s.statusCode,
		Proto:         s.proto,
		ProtoMajor:    s.protoMajor,
		ProtoMinor:    s.protoMinor,
		Header:        CloneHTTPHeader(s.header),
		Trailer:       CloneHTTPHeader(s.trailer),
		Body:          io.NopCloser(bytes.NewReader(s.body)),
		ContentLength: int64(len(s.body)),
		Request:       req,
	}
}
