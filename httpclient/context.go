/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import "context"

type ctxKey int

const (
	ctxKeyRequestType ctxKey = iota
	ctxKeyRequestID
	ctxKeyPriority
)

func getStringFromContext(ctx context.Context, key ctxKey) string {
	if s, ok := ctx.Value(key).(string); ok {
		return s
	}
	return ""
}

// NewContextWithRequestType creates a new context with request type.
// Request type is used in logs and metrics (e.g. "eth_getBalance", "coingecko_price").
func NewContextWithRequestType(ctx context.Context, requestType string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestType, requestType)
}

// GetRequestTypeFromContext extracts request type from the context.
func GetRequestTypeFromContext(ctx context.Context) string {
	return getStringFromContext(ctx, ctxKeyRequestType)
}

// NewContextWithRequestID creates a new context with the ID sent in the X-Request-ID header.
func NewContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, requestID)
}

// GetRequestIDFromContext extracts request ID from the context.
func GetRequestIDFromContext(ctx context.Context) string {
	return getStringFromContext(ctx, ctxKeyRequestID)
}

// NewContextWithPriority creates a new context with the scheduling priority of the request.
// Requests with higher priority are admitted first by ThrottlingRoundTripper.
func NewContextWithPriority(ctx context.Context, priority int) context.Context {
	return context.WithValue(ctx, ctxKeyPriority, priority)
}

// GetPriorityFromContext extracts the scheduling priority from the context. Zero if not set.
func GetPriorityFromContext(ctx context.Context) int {
	p, _ := ctx.Value(ctxKeyPriority).(int)
	return p
}
