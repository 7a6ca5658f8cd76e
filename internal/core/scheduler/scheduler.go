// Package scheduler provides cancellable deferred work for the call core:
// auto-answer delays and inter-digit dial timeouts.
//
// Timers fire on a small dedicated worker pool, never on the goroutine that
// armed them. A fired callback therefore re-enters the call core exactly like
// any other concurrent event and must re-resolve entities by identifier.
package scheduler

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultWorkers is the timer pool size used when the config does not set one.
const DefaultWorkers = 4

// Scheduler runs deferred callbacks on a bounded worker pool.
type Scheduler struct {
	mu     sync.Mutex
	work   chan func()
	done   chan struct{}
	closed bool
	wg     sync.WaitGroup
}

// New creates a scheduler with the given number of pool workers.
func New(workers int) *Scheduler {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	s := &Scheduler{
		work: make(chan func(), 64),
		done: make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		select {
		case fn := <-s.work:
			fn()
		case <-s.done:
			return
		}
	}
}

// Schedule arms a one-shot timer. fn runs on the pool after delay unless the
// returned timer is cancelled first. Returns nil if the scheduler is closed;
// callers treat a nil timer as a degraded feature, not an error.
func (s *Scheduler) Schedule(delay time.Duration, fn func()) *Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		slog.Warn("[Scheduler] schedule after close dropped")
		return nil
	}

	t := &Timer{sched: s}
	t.timer = time.AfterFunc(delay, func() {
		t.mu.Lock()
		if t.cancelled {
			t.mu.Unlock()
			return
		}
		t.fired = true
		t.mu.Unlock()
		s.dispatch(fn)
	})
	return t
}

func (s *Scheduler) dispatch(fn func()) {
	select {
	case s.work <- fn:
	case <-s.done:
	}
}

// Close stops the pool. Pending timers that fire after Close are dropped.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()
	s.wg.Wait()
}

// Timer is a handle to one scheduled callback.
type Timer struct {
	sched     *Scheduler
	timer     *time.Timer
	mu        sync.Mutex
	cancelled bool
	fired     bool
}

// Cancel stops the timer. Idempotent: cancelling an already-fired or
// already-cancelled timer is a no-op. Returns true if the callback was
// prevented from running.
func (t *Timer) Cancel() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled || t.fired {
		return false
	}
	t.cancelled = true
	t.timer.Stop()
	return true
}

// Fired reports whether the callback was handed to the pool.
func (t *Timer) Fired() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fired
}
