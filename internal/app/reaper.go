package app

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// RunReaper runs Engine.Reap on schedule until ctx is done. schedule accepts
// the cron spec forms including descriptors such as "@every 5s".
func RunReaper(ctx context.Context, schedule string, engine *Engine, log logrus.FieldLogger) error {
	log = log.WithField("component", "reaper")
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	_, err := c.AddFunc(schedule, func() {
		runCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		stats := engine.Reap(runCtx)
		if stats.Evicted > 0 || stats.Fenced > 0 || stats.StaleChannels > 0 {
			log.WithFields(logrus.Fields{
				"evicted":        stats.Evicted,
				"fenced":         stats.Fenced,
				"stale_channels": stats.StaleChannels,
			}).Info("reaper pass")
		}
	})
	if err != nil {
		return err
	}

	log.WithField("schedule", schedule).Info("reaper started")
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
