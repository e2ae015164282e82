package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// CronRunner runs jobs on cron specs with a seconds field.
type CronRunner struct {
	cron    *cron.Cron
	logger  *zap.Logger
	baseCtx context.Context
}

// NewCronRunner creates a runner whose jobs receive baseCtx.
func NewCronRunner(logger *zap.Logger, baseCtx context.Context) *CronRunner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CronRunner{
		cron:    cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:  logger,
		baseCtx: baseCtx,
	}
}

func (r *CronRunner) Add(spec string, job func(context.Context)) (cron.EntryID, error) {
	return r.cron.AddFunc(spec, func() {
		job(r.baseCtx)
	})
}

func (r *CronRunner) Start() {
	r.logger.Info("cron started", zap.Int("entries", len(r.cron.Entries())))
	r.cron.Start()
}

// Stop waits for running jobs to finish.
func (r *CronRunner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info("cron stopped")
}
