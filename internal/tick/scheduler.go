// Package tick runs a simulation step repeatedly at an adaptive rate.
package tick

import (
	"sync"
	"sync/atomic"
	"time"

	"tanav.me/pong/internal/clock"
)

// StepFunc runs one tick. Returning false stops the scheduler.
type StepFunc func(now time.Time) bool

// Scheduler is a cancellable repeating task. It can be started once and
// stopped once; further calls are no-ops. Stop does not wait for an in-flight
// step, so a step that mutates shared state must check Stopped while holding
// the lock that guards that state.
type Scheduler struct {
	clock clock.Clock
	ctrl  *Controller
	step  StepFunc

	mu      sync.Mutex
	started bool
	stopped atomic.Bool
	rate    atomic.Int32
	done    chan struct{}
	exited  chan struct{}
}

func NewScheduler(clk clock.Clock, ctrl *Controller, step StepFunc) *Scheduler {
	s := &Scheduler{
		clock:  clk,
		ctrl:   ctrl,
		step:   step,
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	s.rate.Store(int32(ctrl.Rate()))
	return s
}

// Start launches the tick loop. It reports false if the scheduler was
// already started or stopped.
func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped.Load() {
		return false
	}
	s.started = true
	go s.run()
	return true
}

// Stop cancels the loop. It reports false on every call after the first.
func (s *Scheduler) Stop() bool {
	if !s.stopped.CompareAndSwap(false, true) {
		return false
	}
	close(s.done)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		close(s.exited)
	}
	return true
}

func (s *Scheduler) Stopped() bool { return s.stopped.Load() }

// Exited is closed once the loop goroutine has returned (or immediately
// after Stop if the scheduler never started).
func (s *Scheduler) Exited() <-chan struct{} { return s.exited }

// Rate is the current target rate in Hz.
func (s *Scheduler) Rate() int { return int(s.rate.Load()) }

func (s *Scheduler) run() {
	defer close(s.exited)

	timer := s.clock.NewTimer(s.ctrl.Interval())
	defer timer.Stop()
	last := s.clock.Now()

	for {
		select {
		case <-s.done:
			return
		case now := <-timer.C():
			if s.stopped.Load() {
				return
			}
			if s.ctrl.Observe(now.Sub(last)) {
				s.rate.Store(int32(s.ctrl.Rate()))
			}
			last = now
			if !s.step(now) {
				s.Stop()
				return
			}
			timer.Reset(s.ctrl.Interval())
		}
	}
}
