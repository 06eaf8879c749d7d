/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package httpclient provides an HTTP client whose requests are scheduled by throttle instances.
package httpclient

import (
	"context"
	"fmt"
	"net/http"

	"github.com/acronis/go-callthrottle/internal/libinfo"
	"github.com/acronis/go-callthrottle/log"
	"github.com/acronis/go-callthrottle/throttle"
)

// CloneHTTPRequest creates a shallow copy of the request along with a deep copy of the Headers.
func CloneHTTPRequest(req *http.Request) *http.Request {
	r := new(http.Request)
	*r = *req
	r.Header = CloneHTTPHeader(req.Header)
	return r
}

// CloneHTTPHeader creates a deep copy of an http.Header.
func CloneHTTPHeader(in http.Header) http.Header {
	out := make(http.Header, len(in))
	for key, values := range in {
		out[key] = append([]string(nil), values...)
	}
	return out
}

// Opts provides options for NewWithOpts and MustWithOpts functions.
type Opts struct {
	// Executor throttles all requests of the client.
	Executor throttle.Executor

	// Router picks an executor by request host when Executor is not set (e.g. *throttle.Registry).
	Router ExecutorRouter

	// RequestType is used in logs and metrics when the request context carries none.
	RequestType string

	// Delegate is the innermost RoundTripper. A clone of http.DefaultTransport by default.
	Delegate http.RoundTripper

	// Logger is used for logging round trips.
	Logger log.FieldLogger

	// LoggerProvider is a function that provides a context-specific logger.
	LoggerProvider func(ctx context.Context) log.FieldLogger

	// RequestIDProvider is a function that provides a request ID.
	RequestIDProvider func(ctx context.Context) string

	// Collector is a metrics collector. Used when metrics are enabled in the config.
	Collector MetricsCollector
}

// New creates an HTTP client that sends all requests through executor.
func New(cfg *Config, executor throttle.Executor) (*http.Client, error) {
	return NewWithOpts(cfg, Opts{Executor: executor})
}

// NewWithOpts creates an HTTP client with the following chain of round trippers:
// headers (User-Agent, X-Request-ID) -> throttling -> metrics -> logging -> delegate.
// Metrics and logging observe every upstream attempt, including retries made by the throttle.
func NewWithOpts(cfg *Config, opts Opts) (*http.Client, error) {
	delegate := opts.Delegate
	if delegate == nil {
		delegate = http.DefaultTransport.(*http.Transport).Clone()
	}

	if cfg.Log.Mode != LoggingModeNone {
		delegate = NewLoggingRoundTripperWithOpts(delegate, LoggingRoundTripperOpts{
			Logger:               opts.Logger,
			LoggerProvider:       opts.LoggerProvider,
			RequestType:          opts.RequestType,
			Mode:                 cfg.Log.Mode,
			SlowRequestThreshold: cfg.Log.SlowRequestThreshold,
		})
	}

	if cfg.Metrics.Enabled {
		if opts.Collector == nil {
			return nil, fmt.Errorf("metrics are enabled but no collector is specified")
		}
		delegate = NewMetricsRoundTripper(delegate, opts.Collector, opts.RequestType)
	}

	if opts.Executor != nil || opts.Router != nil {
		throttling, err := NewThrottlingRoundTripperWithOpts(delegate, opts.Executor, ThrottlingRoundTripperOpts{
			Router:              opts.Router,
			MaxResponseBodySize: int64(cfg.MaxResponseBodySize),
			AttemptTimeout:      cfg.AttemptTimeout,
			Logger:              opts.Logger,
			LoggerProvider:      opts.LoggerProvider,
		})
		if err != nil {
			return nil, fmt.Errorf("create throttling round tripper: %w", err)
		}
		delegate = throttling
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = libinfo.UserAgent()
	}
	delegate = NewHeaderRoundTripper(delegate, userAgent, opts.RequestIDProvider)

	return &http.Client{Transport: delegate, Timeout: cfg.Timeout}, nil
}

// MustWithOpts creates an HTTP client with options and panics if any error occurs.
func MustWithOpts(cfg *Config, opts Opts) *http.Client {
	client, err := NewWithOpts(cfg, opts)
	if err != nil {
		panic(err)
	}
	return client
}
