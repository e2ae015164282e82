// Package clock abstracts wall-clock time so settlement timing can be driven
// by a fixed clock in tests and by an offset clock in staging.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// System is the real UTC wall clock.
type System struct{}

func (System) Now() time.Time { return time.Now().UTC() }

// Offset shifts the system clock by a fixed duration. Staging uses it to
// replay a past or future game week.
type Offset struct {
	By time.Duration
}

func (o Offset) Now() time.Time { return time.Now().UTC().Add(o.By) }

// Fixed is a manually advanced clock.
type Fixed struct {
	mu sync.Mutex
	t  time.Time
}

// NewFixed returns a clock frozen at t.
func NewFixed(t time.Time) *Fixed {
	return &Fixed{t: t.UTC()}
}

func (f *Fixed) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

// Advance moves the clock forward by d.
func (f *Fixed) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}
