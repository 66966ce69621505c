package cache

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// StartJanitor schedules CleanupExpired on the given cron spec ("@every 1m").
// Stop the returned scheduler on shutdown.
func StartJanitor(l *Layer, spec string) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		if removed := l.CleanupExpired(); removed > 0 {
			l.logger.Debug("Swept expired cache entries", "removed", removed)
		}
	}); err != nil {
		return nil, fmt.Errorf("schedule cache janitor: %w", err)
	}
	c.Start()
	return c, nil
}
