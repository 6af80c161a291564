// Package stomptest provides utilities for testing STOMP connections.
package stomptest

import (
	"sync"
	"time"

	"github.com/nofeaturesonlybugs/stomp/v2"
)

// ManualScheduler is a stomp.Scheduler whose timers only run when fired by the test.
type ManualScheduler struct {
	mu     sync.Mutex
	timers []*ManualTimer
}

// SchedulePeriodic implements stomp.Scheduler.
func (s *ManualScheduler) SchedulePeriodic(interval time.Duration, fn func()) stomp.Timer {
	t := &ManualTimer{Interval: interval, fn: fn}
	s.mu.Lock()
	s.timers = append(s.timers, t)
	s.mu.Unlock()
	return t
}

// Timers returns every timer ever scheduled, cancelled or not.
func (s *ManualScheduler) Timers() []*ManualTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*ManualTimer(nil), s.timers...)
}

// Active returns the timers that have not been cancelled.
func (s *ManualScheduler) Active() []*ManualTimer {
	var out []*ManualTimer
	for _, t := range s.Timers() {
		if !t.Cancelled() {
			out = append(out, t)
		}
	}
	return out
}

// Fire runs every active timer scheduled with interval and returns how many ran.
func (s *ManualScheduler) Fire(interval time.Duration) int {
	n := 0
	for _, t := range s.Active() {
		if t.Interval == interval {
			t.Fire()
			n++
		}
	}
	return n
}

// ManualTimer is a timer created by ManualScheduler.
type ManualTimer struct {
	Interval time.Duration

	fn        func()
	mu        sync.Mutex
	cancelled bool
	cancels   int
}

// Cancel implements stomp.Timer.
func (t *ManualTimer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelled = true
	t.cancels++
}

// Cancelled returns true once Cancel has been called.
func (t *ManualTimer) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Cancels returns how many times Cancel was called.
func (t *ManualTimer) Cancels() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancels
}

// Fire runs the timer function unless the timer is cancelled.
func (t *ManualTimer) Fire() {
	if t.Cancelled() {
		return
	}
	t.fn()
}

// ManualClock is a clock that only moves when advanced.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock returns a clock set to now.
func NewManualClock(now time.Time) *ManualClock {
	return &ManualClock{now: now}
}

// Now returns the clock's time; pass the method value as a stomp.Clock.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Recorder collects the frames received by a started peer.  Its queue is
// unbounded so a test that stops reading never blocks the peer's reader.
type Recorder struct {
	mu     sync.Mutex
	frames []stomp.Frame
	err    error
	notify chan struct{}
	closed chan struct{}
}

// Record sets the callbacks of peer to feed a new Recorder and starts it.
// Heart-beats are recorded unless skipHeartbeats is set.
func Record(peer *stomp.Peer, skipHeartbeats bool, wg *sync.WaitGroup) *Recorder {
	r := &Recorder{
		notify: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
	peer.OnFrame = func(f stomp.Frame) {
		if skipHeartbeats && f.IsHeartbeat() {
			return
		}
		r.mu.Lock()
		r.frames = append(r.frames, f)
		r.mu.Unlock()
		select {
		case r.notify <- struct{}{}:
		default:
		}
	}
	peer.OnClose = func(err error) {
		r.mu.Lock()
		r.err = err
		r.mu.Unlock()
		close(r.closed)
	}
	peer.Start(wg)
	return r
}

// Next returns the next frame or false if none arrives within timeout.
func (r *Recorder) Next(timeout time.Duration) (stomp.Frame, bool) {
	deadline := time.After(timeout)
	for {
		r.mu.Lock()
		if len(r.frames) > 0 {
			f := r.frames[0]
			r.frames = r.frames[1:]
			r.mu.Unlock()
			return f, true
		}
		r.mu.Unlock()
		select {
		case <-r.notify:
		case <-deadline:
			return stomp.Frame{}, false
		}
	}
}

// Len returns the number of frames received but not yet returned by Next.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

// WaitClosed returns true if the peer closes within timeout.
func (r *Recorder) WaitClosed(timeout time.Duration) bool {
	select {
	case <-r.closed:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Err returns the error the peer closed with.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}
