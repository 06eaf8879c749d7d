/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package diag

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/acronis/go-callthrottle/log"
	"github.com/acronis/go-callthrottle/restapi"
	"github.com/acronis/go-callthrottle/throttle"
)

// ErrorDomain is the domain of API errors returned by the diagnostics server.
const ErrorDomain = "CallThrottle"

const urlParamClass = "class"

// Registry is the part of throttle.Registry exposed by the diagnostics API.
type Registry interface {
	Get(class string) (*throttle.Instance, bool)
	Stats() []throttle.Stats
}

var _ Registry = (*throttle.Registry)(nil)

// ThrottlesResponse is the body of GET /throttles.
type ThrottlesResponse struct {
	Throttles []throttle.Stats `json:"throttles"`
}

// ClearResponse is the body of POST /throttles/{class}/clear.
type ClearResponse struct {
	Name     string `json:"name"`
	Canceled int    `json:"canceled"`
}

// RouterOpts represents options for NewRouter.
type RouterOpts struct {
	HealthCheck HealthCheck
	Gatherer    prometheus.Gatherer
	Metrics     *PrometheusMetrics
	LogRequests bool
	// Profiling mounts pprof handlers under /debug/pprof.
	Profiling bool
}

// NewRouter creates a chi.Router serving the diagnostics API:
//
//	GET  /healthz
//	GET  /metrics
//	GET  /throttles
//	GET  /throttles/{class}
//	POST /throttles/{class}/clear
//	GET  /debug/pprof/* (if profiling is enabled)
func NewRouter(registry Registry, logger log.FieldLogger, opts RouterOpts) chi.Router {
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	healthCheck := opts.HealthCheck
	if healthCheck == nil {
		healthCheck = ThrottlesHealthCheck(registry, 0)
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	router := chi.NewRouter()
	router.Use(requestIDMiddleware, loggingMiddleware(logger, opts.LogRequests), recoveryMiddleware)
	if opts.Metrics != nil {
		router.Use(metricsMiddleware(opts.Metrics))
	}

	h := &throttlesHandler{registry: registry}
	router.Method(http.MethodGet, "/healthz", NewHealthCheckHandler(healthCheck))
	router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	router.Route("/throttles", func(r chi.Router) {
		r.Get("/", h.list)
		r.Get("/{"+urlParamClass+"}", h.get)
		r.Post("/{"+urlParamClass+"}/clear", h.clear)
	})
	if opts.Profiling {
		router.Mount("/debug", chimw.Profiler())
	}

	router.NotFound(func(rw http.ResponseWriter, r *http.Request) {
		apiErr := restapi.NewError(ErrorDomain, restapi.ErrCodeNotFound, restapi.ErrMessageNotFound)
		restapi.RespondError(rw, http.StatusNotFound, apiErr, GetLoggerFromContext(r.Context()))
	})
	router.MethodNotAllowed(func(rw http.ResponseWriter, r *http.Request) {
		apiErr := restapi.NewError(ErrorDomain, restapi.ErrCodeMethodNotAllowed, restapi.ErrMessageMethodNotAllowed)
		restapi.RespondError(rw, http.StatusMethodNotAllowed, apiErr, GetLoggerFromContext(r.Context()))
	})
	return router
}

type throttlesHandler struct {
	registry Registry
}

func (h *throttlesHandler) list(rw http.ResponseWriter, r *http.Request) {
	restapi.RespondJSON(rw, ThrottlesResponse{Throttles: h.registry.Stats()}, GetLoggerFromContext(r.Context()))
}

func (h *throttlesHandler) get(rw http.ResponseWriter, r *http.Request) {
	inst, ok := h.instance(rw, r)
	if !ok {
		return
	}
	restapi.RespondJSON(rw, inst.Stats(), GetLoggerFromContext(r.Context()))
}

func (h *throttlesHandler) clear(rw http.ResponseWriter, r *http.Request) {
	inst, ok := h.instance(rw, r)
	if !ok {
		return
	}
	logger := GetLoggerFromContext(r.Context())
	canceled := inst.Clear()
	logger.Info("throttle queue cleared", log.String("throttle", inst.Name()), log.Int("canceled", canceled))
	restapi.RespondJSON(rw, ClearResponse{Name: inst.Name(), Canceled: canceled}, logger)
}

func (h *throttlesHandler) instance(rw http.ResponseWriter, r *http.Request) (*throttle.Instance, bool) {
	class := chi.URLParam(r, urlParamClass)
	inst, ok := h.registry.Get(class)
	if !ok {
		apiErr := restapi.NewError(ErrorDomain, restapi.ErrCodeNotFound, "Unknown throttle class.").AddContext(urlParamClass, class)
		restapi.RespondError(rw, http.StatusNotFound, apiErr, GetLoggerFromContext(r.Context()))
	}
	return inst, ok
}
