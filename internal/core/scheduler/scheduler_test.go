package scheduler

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduleFires(t *testing.T) {
	s := New(2)
	defer s.Close()

	done := make(chan struct{})
	timer := s.Schedule(10*time.Millisecond, func() { close(done) })
	if timer == nil {
		t.Fatal("Schedule() returned nil on open scheduler")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}
	if !timer.Fired() {
		t.Fatal("Fired() = false after callback ran")
	}
}

func TestCancelPreventsFire(t *testing.T) {
	s := New(2)
	defer s.Close()

	var fired atomic.Bool
	timer := s.Schedule(50*time.Millisecond, func() { fired.Store(true) })
	if !timer.Cancel() {
		t.Fatal("Cancel() = false on pending timer")
	}
	time.Sleep(120 * time.Millisecond)
	if fired.Load() {
		t.Fatal("cancelled timer fired")
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	s := New(1)
	defer s.Close()

	timer := s.Schedule(time.Hour, func() {})
	if !timer.Cancel() {
		t.Fatal("first Cancel() = false")
	}
	if timer.Cancel() {
		t.Fatal("second Cancel() = true, want false")
	}
}

func TestCancelAfterFire(t *testing.T) {
	s := New(1)
	defer s.Close()

	done := make(chan struct{})
	timer := s.Schedule(time.Millisecond, func() { close(done) })
	<-done
	// The callback may still be marked in-flight for an instant.
	time.Sleep(10 * time.Millisecond)
	if timer.Cancel() {
		t.Fatal("Cancel() = true after fire")
	}
}

func TestScheduleAfterClose(t *testing.T) {
	s := New(1)
	s.Close()
	if timer := s.Schedule(time.Millisecond, func() {}); timer != nil {
		t.Fatal("Schedule() after Close returned a timer")
	}
}

func TestWorkerPoolRunsAllCallbacks(t *testing.T) {
	s := New(4)
	defer s.Close()

	var count atomic.Int32
	const n = 32
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		s.Schedule(time.Millisecond, func() {
			count.Add(1)
			done <- struct{}{}
		})
	}
	for i := 0; i < n; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of %d callbacks ran", count.Load(), n)
		}
	}
}
