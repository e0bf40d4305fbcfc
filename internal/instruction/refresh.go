// ABOUTME: Periodic refresh of a CachedSource on a cron schedule.
// ABOUTME: Uses robfig/cron with standard five-field expressions.

package instruction

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// refreshTimeout bounds a single scheduled reload.
const refreshTimeout = 30 * time.Second

// cronParser parses standard 5-field cron expressions plus descriptors
// such as "@every 5m".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Refresher reloads a CachedSource on a schedule.
type Refresher struct {
	cron   *cronlib.Cron
	logger *slog.Logger
}

// StartRefresher schedules src.Refresh according to schedule and starts the
// scheduler.
func StartRefresher(schedule string, src *CachedSource, logger *slog.Logger) (*Refresher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "instruction")

	c := cronlib.New(cronlib.WithParser(cronParser))
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		if err := src.Refresh(ctx); err != nil {
			logger.Warn("scheduled instruction refresh failed", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("parsing refresh schedule %q: %w", schedule, err)
	}
	c.Start()
	logger.Info("instruction refresh scheduled", "schedule", schedule)
	return &Refresher{cron: c, logger: logger}, nil
}

// Stop halts the schedule and waits for a running refresh to finish.
func (r *Refresher) Stop() {
	<-r.cron.Stop().Done()
	r.logger.Info("instruction refresh stopped")
}
