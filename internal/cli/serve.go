/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/acronis/go-callthrottle/diag"
	"github.com/acronis/go-callthrottle/log"
	"github.com/acronis/go-callthrottle/restapi"
	"github.com/acronis/go-callthrottle/service"
	"github.com/acronis/go-callthrottle/throttle"
)

const metricsNamespace = "callthrottle"

// serveOpts holds flag values of the 'serve' command.
type serveOpts struct {
	configPath      string
	statsInterval   time.Duration
	maxSoftFailures int
}

// newServeCmd creates the 'serve' command.
func newServeCmd() *cobra.Command {
	var opts serveOpts

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run throttle instances with the diagnostics HTTP server",
		Long: `Run throttle instances for every configured class and expose them
through the diagnostics HTTP server (health check, Prometheus metrics, per-class stats and queue clearing).

Example:
  callthrottle serve --config callthrottle.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "configuration file (.yaml, .yml or .json)")
	cmd.Flags().DurationVar(&opts.statsInterval, "stats-interval", time.Minute,
		"interval of logging throttle stats")
	cmd.Flags().IntVar(&opts.maxSoftFailures, "health-max-soft-failures", 5,
		"consecutive soft failures after which a throttle class is reported unhealthy (0 disables)")

	return cmd
}

func runServe(ctx context.Context, opts serveOpts) error {
	if opts.statsInterval <= 0 {
		return fmt.Errorf("--stats-interval must be positive")
	}
	if opts.maxSoftFailures < 0 {
		return fmt.Errorf("--health-max-soft-failures must not be negative")
	}

	cfg, err := LoadAppConfig(opts.configPath)
	if err != nil {
		return err
	}

	logger, closeLogger := log.NewLogger(cfg.Log)
	defer closeLogger()

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	restapi.MustInitAndRegisterMetrics(metricsNamespace, promRegistry)
	defer restapi.UnregisterMetrics(promRegistry)

	throttleMetrics := throttle.NewPrometheusMetrics()
	throttleMetrics.MustRegister(promRegistry)

	registry, err := throttle.NewRegistry(cfg.Throttle.Classes, throttle.RegistryOpts{
		Logger:  logger,
		Metrics: throttleMetrics,
	})
	if err != nil {
		return fmt.Errorf("create throttle registry: %w", err)
	}
	logger.Info("throttle registry created", log.Strings("classes", registry.Names()))

	units := []service.Unit{
		service.NewWorkerUnit(diag.NewStatsReporter(registry, opts.statsInterval, logger.With(log.String("worker", "stats_reporter")))),
	}
	if cfg.Diag.Enabled {
		units = append(units, diag.NewServer(cfg.Diag, registry, logger, diag.Opts{
			HealthCheck:      diag.ThrottlesHealthCheck(registry, opts.maxSoftFailures),
			Gatherer:         promRegistry,
			Registerer:       promRegistry,
			MetricsNamespace: metricsNamespace,
		}))
	} else {
		logger.Info("diagnostics HTTP server is disabled")
	}

	svc := service.NewWithOpts(logger, service.NewCompositeUnit(units...), service.Opts{
		AfterStop: []func(){func() {
			canceled := registry.ClearAll()
			logger.Info("throttle queues cleared on shutdown", log.Int("canceled", canceled))
		}},
	})
	return svc.StartContext(ctx)
}
