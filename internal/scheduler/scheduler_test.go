package scheduler_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/topprop/settlement-engine/internal/config"
	"github.com/topprop/settlement-engine/internal/scheduler"
	"github.com/topprop/settlement-engine/internal/settlement"
)

type fakeJobs struct {
	settle, void, season atomic.Int64
	fail                 bool
}

func (f *fakeJobs) RunSettlementBatch(context.Context) (settlement.Report, error) {
	f.settle.Add(1)
	if f.fail {
		return settlement.Report{}, errors.New("store down")
	}
	return settlement.Report{}, nil
}

func (f *fakeJobs) RunRuledOutCheck(context.Context) (settlement.Report, error) {
	f.void.Add(1)
	return settlement.Report{}, nil
}

func (f *fakeJobs) RunSeasonClose(context.Context) (settlement.Report, error) {
	f.season.Add(1)
	return settlement.Report{}, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEvery_RereadsInterval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs, reads atomic.Int64
	interval := func() time.Duration {
		// Long first sleep, then short: the loop must pick up the change.
		if reads.Add(1) == 1 {
			return 50 * time.Millisecond
		}
		return time.Millisecond
	}
	done := make(chan struct{})
	go func() {
		scheduler.Every(ctx, interval, func(context.Context) { runs.Add(1) })
		close(done)
	}()

	waitFor(t, func() bool { return runs.Load() >= 5 })
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop on cancel")
	}
	if reads.Load() < 4 {
		t.Errorf("expected interval re-read every tick, got %d reads", reads.Load())
	}
}

func TestScheduler_RunsLoopsAndSurvivesErrors(t *testing.T) {
	jobs := &fakeJobs{fail: true}
	sched := config.NewScheduleConfig(config.SettlementConfig{
		Interval:     5 * time.Millisecond,
		VoidInterval: 5 * time.Millisecond,
	})

	s := scheduler.New(jobs, sched, nil)
	if err := s.Start(context.Background(), ""); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return jobs.settle.Load() >= 3 && jobs.void.Load() >= 3 })
	s.Stop()

	after := jobs.settle.Load()
	time.Sleep(30 * time.Millisecond)
	if jobs.settle.Load() != after {
		t.Error("jobs ran after Stop")
	}
}

func TestScheduler_SeasonCloseCron(t *testing.T) {
	jobs := &fakeJobs{}
	sched := config.NewScheduleConfig(config.SettlementConfig{Interval: time.Hour, VoidInterval: time.Hour})

	s := scheduler.New(jobs, sched, nil)
	if err := s.Start(context.Background(), "* * * * * *"); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	waitFor(t, func() bool { return jobs.season.Load() >= 1 })
}

func TestScheduler_BadCronSpec(t *testing.T) {
	s := scheduler.New(&fakeJobs{}, config.NewScheduleConfig(config.SettlementConfig{}), nil)
	if err := s.Start(context.Background(), "not a spec"); err == nil {
		t.Fatal("expected error for invalid cron spec")
	}
}
