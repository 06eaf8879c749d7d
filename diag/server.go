/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package diag

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/acronis/go-callthrottle/log"
	"github.com/acronis/go-callthrottle/service"
)

// Opts represents options for the diagnostics Server.
type Opts struct {
	// HealthCheck overrides the default check that reports every throttle class as healthy.
	HealthCheck HealthCheck

	// Gatherer is exposed on /metrics. prometheus.DefaultGatherer is used if nil.
	Gatherer prometheus.Gatherer

	// Registerer receives the server's own metrics. Metrics are not collected if nil.
	Registerer prometheus.Registerer

	// MetricsNamespace is a namespace of the server's own metrics.
	MetricsNamespace string

	// Listener is used instead of listening on the configured address.
	Listener net.Listener
}

// Server is the diagnostics HTTP server. It runs as a service.Unit.
type Server struct {
	HTTPServer      *http.Server
	Logger          log.FieldLogger
	ShutdownTimeout time.Duration

	registerer prometheus.Registerer
	metrics    *PrometheusMetrics

	mu       sync.Mutex
	listener net.Listener
	done     chan struct{}
}

var _ service.Unit = (*Server)(nil)
var _ service.MetricsRegisterer = (*Server)(nil)

// NewServer creates a diagnostics server for the registry.
func NewServer(cfg *Config, registry Registry, logger log.FieldLogger, opts Opts) *Server {
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	var metrics *PrometheusMetrics
	if opts.Registerer != nil {
		metrics = NewPrometheusMetrics(opts.MetricsNamespace)
	}
	router := NewRouter(registry, logger, RouterOpts{
		HealthCheck: opts.HealthCheck,
		Gatherer:    opts.Gatherer,
		Metrics:     metrics,
		LogRequests: cfg.Log.Requests,
		Profiling:   cfg.Profiling.Enabled,
	})
	return &Server{
		HTTPServer: &http.Server{
			Addr:              cfg.Address,
			Handler:           router,
			ReadTimeout:       time.Duration(cfg.Timeouts.Read),
			ReadHeaderTimeout: time.Duration(cfg.Timeouts.Read),
			WriteTimeout:      time.Duration(cfg.Timeouts.Write),
			IdleTimeout:       time.Duration(cfg.Timeouts.Idle),
		},
		Logger:          logger,
		ShutdownTimeout: time.Duration(cfg.Timeouts.Shutdown),
		registerer:      opts.Registerer,
		metrics:         metrics,
		listener:        opts.Listener,
	}
}

// Addr returns the address the server listens on, or nil if it is not listening yet.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start listens and serves diagnostics requests. It blocks until the server is stopped.
func (s *Server) Start(fatalError chan<- error) {
	done := make(chan struct{})
	defer close(done)

	logger := s.Logger.With(log.String("address", s.HTTPServer.Addr))
	logger.Info("starting diagnostics HTTP server...")

	s.mu.Lock()
	s.done = done
	if s.listener == nil {
		listener, err := net.Listen("tcp", s.HTTPServer.Addr)
		if err != nil {
			s.mu.Unlock()
			logger.Error("diagnostics HTTP server error", log.Error(err))
			fatalError <- err
			return
		}
		s.listener = listener
	}
	listener := s.listener
	s.mu.Unlock()

	if err := s.HTTPServer.Serve(listener); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			logger.Info("diagnostics HTTP server closed")
			return
		}
		logger.Error("diagnostics HTTP server error", log.Error(err))
		fatalError <- err
	}
}

// Stop stops the server. Graceful stop waits up to ShutdownTimeout for active requests.
func (s *Server) Stop(gracefully bool) error {
	if !gracefully {
		s.Logger.Info("closing diagnostics HTTP server...")
		if err := s.HTTPServer.Close(); err != nil {
			s.Logger.Error("diagnostics HTTP server closing error", log.Error(err))
			return err
		}
		s.waitDone()
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
	defer cancel()

	s.Logger.Info("shutting down diagnostics HTTP server...", log.Duration("timeout", s.ShutdownTimeout))
	if err := s.HTTPServer.Shutdown(ctx); err != nil {
		s.Logger.Error("diagnostics HTTP server shutting down error", log.Error(err))
		return err
	}
	s.Logger.Info("diagnostics HTTP server shut down")
	s.waitDone()
	return nil
}

func (s *Server) waitDone() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// MustRegisterMetrics registers the server's own metrics.
func (s *Server) MustRegisterMetrics() {
	if s.metrics != nil {
		s.metrics.MustRegister(s.registerer)
	}
}

// UnregisterMetrics unregisters the server's own metrics.
func (s *Server) UnregisterMetrics() {
	if s.metrics != nil {
		s.metrics.Unregister(s.registerer)
	}
}
