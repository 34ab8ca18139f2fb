package service

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Heartbeat periodically records submitter health stats.
type Heartbeat struct {
	cron *cron.Cron
	log  *zap.Logger
}

// NewHeartbeat schedules submitter.HealthStats on schedule, a cron spec
// such as "@every 30s". A panicking run is logged and the schedule keeps
// going.
func NewHeartbeat(schedule string, submitter *Submitter, log *zap.Logger) (*Heartbeat, error) {
	cronLog := cron.PrintfLogger(zap.NewStdLog(log))
	c := cron.New(cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)))

	_, err := c.AddFunc(schedule, func() {
		submitter.HealthStats(context.Background())
	})
	if err != nil {
		return nil, errors.Wrapf(err, "heartbeat schedule %q", schedule)
	}

	return &Heartbeat{cron: c, log: log}, nil
}

func (h *Heartbeat) Start() {
	h.cron.Start()
	h.log.Info("heartbeat started")
}

// Stop stops scheduling and waits for a running heartbeat to finish.
func (h *Heartbeat) Stop() {
	<-h.cron.Stop().Done()
}
