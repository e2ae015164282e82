// Package notify delivers best-effort settlement events. Delivery failures
// are reported to the caller but never affect a committed settlement.
package notify

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/topprop/settlement-engine/internal/metrics"
	"github.com/topprop/settlement-engine/internal/model"
)

// Event types.
const (
	EventSettled = "contest.settled"
	EventVoided  = "contest.voided"
)

// Event is the payload sent to every sink once a contest closes.
type Event struct {
	Type          string            `json:"type"`
	ContestID     string            `json:"contest_id"`
	ContestType   model.ContestType `json:"contest_type"`
	WinnerLabel   model.WinnerLabel `json:"winner_label"`
	WinnerID      string            `json:"winner_id,omitempty"`
	CreatorUserID string            `json:"creator_user_id"`
	ClaimerUserID string            `json:"claimer_user_id,omitempty"`
	CreatorWin    string            `json:"creator_win"`
	ClaimerWin    string            `json:"claimer_win"`
	Reason        string            `json:"reason,omitempty"`
	At            time.Time         `json:"at"`
}

// Notifier sends an event somewhere.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }

// namedSink pairs a notifier with its metrics label.
type namedSink struct {
	name string
	n    Notifier
}

// Multi fans an event out to every sink. One failing sink does not stop
// the others.
type Multi struct {
	sinks  []namedSink
	logger *zap.Logger
}

// NewMulti creates an empty fan-out notifier.
func NewMulti(logger *zap.Logger) *Multi {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Multi{logger: logger}
}

// Add registers a sink under name.
func (m *Multi) Add(name string, n Notifier) *Multi {
	m.sinks = append(m.sinks, namedSink{name: name, n: n})
	return m
}

// Notify returns the joined errors of every failed sink.
func (m *Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.n.Notify(ctx, ev); err != nil {
			metrics.NotificationFailures.WithLabelValues(s.name).Inc()
			m.logger.Warn("notification failed",
				zap.String("sink", s.name),
				zap.String("contest_id", ev.ContestID),
				zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
