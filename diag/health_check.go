/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package diag

import (
	"context"
	"errors"
	"net/http"

	"github.com/acronis/go-callthrottle/log"
	"github.com/acronis/go-callthrottle/restapi"
)

// StatusClientClosedRequest is a special HTTP status code used by Nginx to show that the client
// closed the request before the server could send a response
const StatusClientClosedRequest = 499

// HealthCheckStatus is a resulting status of the health-check.
type HealthCheckStatus int

// Health-check statuses.
const (
	HealthCheckStatusOK HealthCheckStatus = iota
	HealthCheckStatusFail
)

// HealthCheckResult maps component names to their statuses.
type HealthCheckResult = map[string]HealthCheckStatus

// HealthCheck reports statuses of service components.
type HealthCheck = func(ctx context.Context) (HealthCheckResult, error)

type healthCheckResponseData struct {
	Components map[string]bool `json:"components"`
}

// HealthCheckHandler implements http.Handler and does health-check of a service.
// It responds 503 if any component fails.
type HealthCheckHandler struct {
	healthCheckFn HealthCheck
}

// NewHealthCheckHandler creates a new http.Handler for doing health-check.
func NewHealthCheckHandler(fn HealthCheck) *HealthCheckHandler {
	if fn == nil {
		fn = func(ctx context.Context) (HealthCheckResult, error) {
			return HealthCheckResult{}, ctx.Err()
		}
	}
	return &HealthCheckHandler{fn}
}

// ServeHTTP serves heath-check HTTP request.
func (h *HealthCheckHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	logger := GetLoggerFromContext(r.Context())

	hcResult, err := h.healthCheckFn(r.Context())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			rw.WriteHeader(StatusClientClosedRequest)
			return
		}
		logger.Error("error while checking health", log.Error(err))
		rw.WriteHeader(http.StatusInternalServerError)
		return
	}

	respStatus := http.StatusOK
	respData := healthCheckResponseData{Components: make(map[string]bool, len(hcResult))}
	for name, status := range hcResult {
		respData.Components[name] = status == HealthCheckStatusOK
		if status != HealthCheckStatusOK {
			respStatus = http.StatusServiceUnavailable
		}
	}
	restapi.RespondCodeAndJSON(rw, respStatus, respData, logger)
}

// ThrottlesHealthCheck reports every throttle class as a component.
// A class fails when its consecutive soft failures reach maxSoftFailures; zero disables the threshold.
func ThrottlesHealthCheck(registry Registry, maxSoftFailures int) HealthCheck {
	return func(ctx context.Context) (HealthCheckResult, error) {
		result := HealthCheckResult{}
		for _, s := range registry.Stats() {
			status := HealthCheckStatusOK
			if maxSoftFailures > 0 && s.ConsecutiveSoftFailures >= maxSoftFailures {
				status = HealthCheckStatusFail
			}
			result["throttle_"+s.Name] = status
		}
		return result, ctx.Err()
	}
}
