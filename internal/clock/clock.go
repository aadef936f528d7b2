// Package clock supplies time to the simulation. The scheduler never calls
// the time package directly so tests can drive ticks by hand.
package clock

import (
	"sync"
	"time"
)

// Clock supplies monotonic time and one-shot timers.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
}

// Timer is a re-armable one-shot timer.
type Timer interface {
	C() <-chan time.Time
	Reset(d time.Duration)
	Stop() bool
}

// Real is the wall clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) NewTimer(d time.Duration) Timer {
	return &realTimer{t: time.NewTimer(d)}
}

type realTimer struct {
	t *time.Timer
}

func (r *realTimer) C() <-chan time.Time { return r.t.C }

// Reset relies on the Go 1.23 timer semantics: no stale value is left in the
// channel after Stop or Reset.
func (r *realTimer) Reset(d time.Duration) { r.t.Reset(d) }

func (r *realTimer) Stop() bool { return r.t.Stop() }

// Manual is a Clock that only moves when Advance is called.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) NewTimer(d time.Duration) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTimer{
		m:     m,
		ch:    make(chan time.Time, 1),
		when:  m.now.Add(d),
		armed: true,
	}
	m.timers = append(m.timers, t)
	return t
}

// Advance moves the clock forward and fires every timer that came due.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	for _, t := range m.timers {
		if !t.armed || t.when.After(m.now) {
			continue
		}
		t.armed = false
		select {
		case t.ch <- m.now:
		default:
		}
	}
}

// Armed reports how many timers are waiting to fire.
func (m *Manual) Armed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.timers {
		if t.armed {
			n++
		}
	}
	return n
}

type manualTimer struct {
	m     *Manual
	ch    chan time.Time
	when  time.Time
	armed bool
}

func (t *manualTimer) C() <-chan time.Time { return t.ch }

func (t *manualTimer) Reset(d time.Duration) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	t.when = t.m.now.Add(d)
	t.armed = true
}

func (t *manualTimer) Stop() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	was := t.armed
	t.armed = false
	return was
}
