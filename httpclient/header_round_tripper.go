/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"context"
	"net/http"

	"github.com/rs/xid"
)

// RequestIDHeader is the HTTP header that carries the request ID.
const RequestIDHeader = "X-Request-ID"

// HeaderRoundTripper sets the User-Agent and X-Request-ID headers of outgoing requests
// unless they are already present.
type HeaderRoundTripper struct {
	Delegate  http.RoundTripper
	UserAgent string

	// RequestIDProvider returns the ID for a request. By default, the ID is taken from the context
	// (see NewContextWithRequestID) or generated.
	RequestIDProvider func(ctx context.Context) string
}

// NewHeaderRoundTripper creates a HeaderRoundTripper.
func NewHeaderRoundTripper(
	delegate http.RoundTripper, userAgent string, requestIDProvider func(ctx context.Context) string,
) *HeaderRoundTripper {
	if requestIDProvider == nil {
		requestIDProvider = DefaultRequestIDProvider
	}
	return &HeaderRoundTripper{Delegate: delegate, UserAgent: userAgent, RequestIDProvider: requestIDProvider}
}

// DefaultRequestIDProvider returns the request ID from the context or a new one.
func DefaultRequestIDProvider(ctx context.Context) string {
	if id := GetRequestIDFromContext(ctx); id != "" {
		return id
	}
	return xid.New().String()
}

// RoundTrip executes a single HTTP transaction, returning a Response for the provided Request.
func (rt *HeaderRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	setUserAgent := rt.UserAgent != "" && req.Header.Get("User-Agent") == ""
	setRequestID := req.Header.Get(RequestIDHeader) == ""
	if !setUserAgent && !setRequestID {
		return rt.Delegate.RoundTrip(req)
	}

	req = CloneHTTPRequest(req) // Per RoundTripper contract.
	if setUserAgent {
		req.Header.Set("User-Agent", rt.UserAgent)
	}
	if setRequestID {
		req.Header.Set(RequestIDHeader, rt.RequestIDProvider(req.Context()))
	}
	return rt.Delegate.RoundTrip(req)
}
