// Package scheduler triggers settlement jobs. Interval jobs re-read their
// interval before every sleep so cadence changes apply without a restart;
// the season close runs on a cron spec.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/topprop/settlement-engine/internal/metrics"
	"github.com/topprop/settlement-engine/internal/settlement"
)

// Jobs is the work the scheduler triggers.
type Jobs interface {
	RunSettlementBatch(ctx context.Context) (settlement.Report, error)
	RunRuledOutCheck(ctx context.Context) (settlement.Report, error)
	RunSeasonClose(ctx context.Context) (settlement.Report, error)
}

// Intervals supplies the current delay between interval job runs.
type Intervals interface {
	SettleInterval() time.Duration
	VoidInterval() time.Duration
}

// Every runs job until ctx is done, sleeping interval() after each run.
// A non-positive interval pauses for a minute before checking again.
func Every(ctx context.Context, interval func() time.Duration, job func(context.Context)) {
	for {
		job(ctx)

		d := interval()
		if d <= 0 {
			d = time.Minute
		}
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// Scheduler owns the interval loops and the cron runner.
type Scheduler struct {
	jobs      Jobs
	intervals Intervals
	logger    *zap.Logger

	cancel context.CancelFunc
	cron   *CronRunner
	wg     sync.WaitGroup
}

// New creates a scheduler.
func New(jobs Jobs, intervals Intervals, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{jobs: jobs, intervals: intervals, logger: logger}
}

// Start launches the settlement and ruled-out loops, and the season close
// when seasonCloseSpec is set.
func (s *Scheduler) Start(ctx context.Context, seasonCloseSpec string) error {
	ctx, s.cancel = context.WithCancel(ctx)

	if seasonCloseSpec != "" {
		s.cron = NewCronRunner(s.logger, ctx)
		if _, err := s.cron.Add(seasonCloseSpec, s.wrap(settlement.JobSeasonClose, s.jobs.RunSeasonClose)); err != nil {
			s.cancel()
			return err
		}
		s.cron.Start()
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		Every(ctx, s.intervals.SettleInterval, s.wrap(settlement.JobSettle, s.jobs.RunSettlementBatch))
	}()
	go func() {
		defer s.wg.Done()
		Every(ctx, s.intervals.VoidInterval, s.wrap(settlement.JobVoidCheck, s.jobs.RunRuledOutCheck))
	}()

	s.logger.Info("scheduler started",
		zap.Duration("settle_interval", s.intervals.SettleInterval()),
		zap.Duration("void_interval", s.intervals.VoidInterval()),
		zap.String("season_close_cron", seasonCloseSpec),
	)
	return nil
}

// Stop cancels the loops and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	if s.cron != nil {
		s.cron.Stop()
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// wrap logs a failed run. The next tick retries whatever is still eligible.
func (s *Scheduler) wrap(name string, run func(context.Context) (settlement.Report, error)) func(context.Context) {
	return func(ctx context.Context) {
		if ctx.Err() != nil {
			return
		}
		if _, err := run(ctx); err != nil {
			metrics.BatchErrors.WithLabelValues(name).Inc()
			s.logger.Error("job failed", zap.String("job", name), zap.Error(err))
		}
	}
}
