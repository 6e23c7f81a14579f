package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// periodicJob runs fn on a fixed interval through cron.  Overlapping runs
// are skipped, so a slow pass never stacks up behind itself.
type periodicJob struct {
	cron *cron.Cron
}

func startPeriodic(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) (*periodicJob, error) {
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DiscardLogger)))
	schedule := "@every " + interval.String()
	if _, err := c.AddFunc(schedule, func() { fn(ctx) }); err != nil {
		return nil, fmt.Errorf("schedule %q: %w", schedule, err)
	}
	c.Start()
	return &periodicJob{cron: c}, nil
}

// stop waits for a running pass to finish.
func (j *periodicJob) stop() {
	if j == nil {
		return
	}
	<-j.cron.Stop().Done()
}
