/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package diag

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/xid"

	"github.com/acronis/go-callthrottle/log"
	"github.com/acronis/go-callthrottle/restapi"
)

const headerRequestID = "X-Request-ID"

const recoveryStackSize = 8192

type ctxKey int

const (
	ctxKeyRequestID ctxKey = iota
	ctxKeyLogger
)

// NewContextWithRequestID creates a new context with request id.
func NewContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, requestID)
}

// GetRequestIDFromContext extracts request id from the context.
func GetRequestIDFromContext(ctx context.Context) string {
	if value, ok := ctx.Value(ctxKeyRequestID).(string); ok {
		return value
	}
	return ""
}

// NewContextWithLogger creates a new context with the request-scoped logger.
func NewContextWithLogger(ctx context.Context, logger log.FieldLogger) context.Context {
	return context.WithValue(ctx, ctxKeyLogger, logger)
}

// GetLoggerFromContext extracts the request-scoped logger from the context.
// A disabled logger is returned if there is none.
func GetLoggerFromContext(ctx context.Context) log.FieldLogger {
	if value, ok := ctx.Value(ctxKeyLogger).(log.FieldLogger); ok {
		return value
	}
	return log.NewDisabledLogger()
}

// requestIDMiddleware takes X-Request-ID from the request or generates a new one.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(headerRequestID)
		if requestID == "" {
			requestID = xid.New().String()
		}
		rw.Header().Set(headerRequestID, requestID)
		next.ServeHTTP(rw, r.WithContext(NewContextWithRequestID(r.Context(), requestID)))
	})
}

// loggingMiddleware puts a request-scoped logger into the context and logs the served request.
func loggingMiddleware(logger log.FieldLogger, logRequests bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			startTime := time.Now()
			reqLogger := logger.With(log.String("request_id", GetRequestIDFromContext(r.Context())))
			wrw := chimw.NewWrapResponseWriter(rw, r.ProtoMajor)

			next.ServeHTTP(wrw, r.WithContext(NewContextWithLogger(r.Context(), reqLogger)))

			status := wrw.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if !logRequests && status < http.StatusInternalServerError {
				return
			}
			fields := []log.Field{
				log.String("method", r.Method),
				log.String("uri", r.RequestURI),
				log.String("remote_addr", r.RemoteAddr),
				log.Int("status", status),
				log.Int("bytes_sent", wrw.BytesWritten()),
				log.Int64("duration_ms", time.Since(startTime).Milliseconds()),
			}
			if status >= http.StatusInternalServerError {
				reqLogger.Error("diag request failed", fields...)
				return
			}
			reqLogger.Info("diag request done", fields...)
		})
	}
}

// recoveryMiddleware turns a handler panic into 500 with an internal API error.
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		defer func() {
			p := recover()
			if p == nil {
				return
			}
			if p == http.ErrAbortHandler { //nolint:errorlint // sentinel is compared by identity
				panic(p)
			}
			logger := GetLoggerFromContext(r.Context())
			stack := make([]byte, recoveryStackSize)
			stack = stack[:runtime.Stack(stack, false)]
			logger.Error(fmt.Sprintf("Panic: %+v", p), log.Bytes("stack", stack))
			restapi.RespondInternalError(rw, ErrorDomain, logger)
		}()
		next.ServeHTTP(rw, r)
	})
}

// metricsMiddleware observes request durations labeled with the matched route pattern.
func metricsMiddleware(collector *PrometheusMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			startTime := time.Now()
			wrw := chimw.NewWrapResponseWriter(rw, r.ProtoMajor)
			next.ServeHTTP(wrw, r)

			routePattern := "unknown"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				routePattern = rctx.RoutePattern()
			}
			status := wrw.Status()
			if status == 0 {
				status = http.StatusOK
			}
			collector.observeRequest(r.Method, routePattern, status, time.Since(startTime))
		})
	}
}
