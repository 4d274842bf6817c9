package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// StartPurge schedules removal of expired migration codes. The returned
// scheduler is already running; stop it on shutdown.
func (e *Engine) StartPurge(schedule string, logger *slog.Logger) (*cron.Cron, error) {
	if logger == nil {
		logger = slog.Default()
	}

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		purged, err := e.Migration.PurgeExpiredCodes(context.Background())
		if err != nil {
			logger.Warn("expired code purge failed", "error", err)
			return
		}
		if purged > 0 {
			logger.Info("expired migration codes purged", "count", purged)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid purge schedule %q: %w", schedule, err)
	}

	c.Start()
	return c, nil
}
