package stomp

import (
	"sync"
	"time"
)

// Timer is a handle to a periodic task.  Cancel stops it; cancelling more than
// once is a no-op.
type Timer interface {
	Cancel()
}

// Scheduler runs periodic tasks.
type Scheduler interface {
	// SchedulePeriodic calls fn every interval until the returned Timer is cancelled.
	SchedulePeriodic(interval time.Duration, fn func()) Timer
}

// Clock returns the current time.
type Clock func() time.Time

// TickerScheduler is a Scheduler backed by time.Ticker; each timer runs fn on
// its own goroutine.
type TickerScheduler struct{}

// SchedulePeriodic implements Scheduler.
func (TickerScheduler) SchedulePeriodic(interval time.Duration, fn func()) Timer {
	t := &tickerTimer{
		ticker: time.NewTicker(interval),
		stop:   make(chan struct{}),
	}
	go func() {
		for {
			select {
			case <-t.ticker.C:
				fn()
			case <-t.stop:
				return
			}
		}
	}()
	return t
}

type tickerTimer struct {
	ticker *time.Ticker
	stop   chan struct{}
	once   sync.Once
}

func (t *tickerTimer) Cancel() {
	t.once.Do(func() {
		t.ticker.Stop()
		close(t.stop)
	})
}
