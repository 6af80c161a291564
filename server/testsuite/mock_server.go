package testsuite

import (
	"fmt"
	"reflect"
	"sync"
	"time"
)

// EventLog consumes a server's Events channel and records what it receives.
type EventLog struct {
	// C is assigned to server.Server.Events.
	C chan interface{}

	mu      sync.Mutex
	events  []interface{}
	stopped chan struct{}
	changed chan struct{}
}

// NewEventLog creates an EventLog and starts consuming its channel.
func NewEventLog(wg *sync.WaitGroup) *EventLog {
	log := &EventLog{
		C:       make(chan interface{}, 64),
		stopped: make(chan struct{}),
		changed: make(chan struct{}, 1),
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(log.stopped)
		for event := range log.C {
			log.mu.Lock()
			log.events = append(log.events, event)
			log.mu.Unlock()
			select {
			case log.changed <- struct{}{}:
			default:
			}
		}
	}()
	return log
}

// Events returns the events received so far.
func (log *EventLog) Events() []interface{} {
	log.mu.Lock()
	defer log.mu.Unlock()
	return append([]interface{}(nil), log.events...)
}

// Count returns how many events of the same type as sample were received.
func (log *EventLog) Count(sample interface{}) int {
	want := reflect.TypeOf(sample)
	n := 0
	for _, event := range log.Events() {
		if reflect.TypeOf(event) == want {
			n++
		}
	}
	return n
}

// Await waits until n events of the same type as sample were received.
func (log *EventLog) Await(sample interface{}, n int, timeout time.Duration) error {
	deadline := time.After(timeout)
	for {
		if log.Count(sample) >= n {
			return nil
		}
		select {
		case <-log.changed:
		case <-deadline:
			return fmt.Errorf("expected %v %T events; got %v", n, sample, log.Count(sample))
		}
	}
}

// Stopped is closed once the server closes the channel.
func (log *EventLog) Stopped() <-chan struct{} {
	return log.stopped
}
