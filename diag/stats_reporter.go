/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package diag

import (
	"context"
	"time"

	"github.com/acronis/go-callthrottle/log"
	"github.com/acronis/go-callthrottle/service"
)

// NewStatsReporter returns a periodic worker that logs a snapshot of every throttle class.
// Idle classes (nothing queued, running or backed off) are logged at debug level.
func NewStatsReporter(registry Registry, interval time.Duration, logger log.FieldLogger) *service.PeriodicWorker {
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	report := service.WorkerFunc(func(_ context.Context) error {
		for _, s := range registry.Stats() {
			fields := []log.Field{
				log.String("throttle", s.Name),
				log.Int("queue_length", s.QueueLength),
				log.Int("in_flight", s.InFlight),
				log.Int("window_admissions", s.WindowAdmissions),
				log.Int("consecutive_soft_failures", s.ConsecutiveSoftFailures),
				log.Uint64("admitted_total", s.AdmittedTotal),
				log.Uint64("coalesced_total", s.CoalescedTotal),
			}
			if s.BackoffUntil != nil {
				fields = append(fields, log.Time("backoff_until", *s.BackoffUntil))
			}
			if s.QueueLength == 0 && s.InFlight == 0 && s.BackoffUntil == nil {
				logger.Debug("throttle stats", fields...)
				continue
			}
			logger.Info("throttle stats", fields...)
		}
		return nil
	})
	return service.NewPeriodicWorkerWithOpts(report, interval, logger, service.PeriodicWorkerOpts{InitialDelay: interval})
}
