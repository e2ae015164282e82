package config

import (
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ScheduleConfig holds job intervals that can change while the service
// runs. Loops read it before every sleep.
type ScheduleConfig struct {
	settle atomic.Int64
	void   atomic.Int64
}

// NewScheduleConfig creates a schedule from the loaded settlement section.
func NewScheduleConfig(s SettlementConfig) *ScheduleConfig {
	sc := &ScheduleConfig{}
	sc.Update(s.Interval, s.VoidInterval)
	return sc
}

// SettleInterval is the delay between settlement batches.
func (s *ScheduleConfig) SettleInterval() time.Duration { return time.Duration(s.settle.Load()) }

// VoidInterval is the delay between ruled-out checks.
func (s *ScheduleConfig) VoidInterval() time.Duration { return time.Duration(s.void.Load()) }

// Update replaces both intervals. Non-positive values are ignored.
func (s *ScheduleConfig) Update(settle, void time.Duration) {
	if settle > 0 {
		s.settle.Store(int64(settle))
	}
	if void > 0 {
		s.void.Store(int64(void))
	}
}

// Watch reloads path on change and pushes new intervals into sched. Other
// settings need a restart.
func Watch(path string, sched *ScheduleConfig, logger *zap.Logger) error {
	if path == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return err
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := decode(v)
		if err != nil {
			logger.Warn("config reload rejected", zap.String("file", e.Name), zap.Error(err))
			return
		}
		sched.Update(cfg.Settlement.Interval, cfg.Settlement.VoidInterval)
		logger.Info("schedule reloaded",
			zap.Duration("settle_interval", sched.SettleInterval()),
			zap.Duration("void_interval", sched.VoidInterval()),
		)
	})
	v.WatchConfig()
	return nil
}
