// Package clock owns the timer service consumed by the pipe.
//
// Ownership boundary:
// - elapsed-time queries
// - cancellable periodic callbacks
package clock

import (
	"sync"
	"time"
)

// Timer is a cancellable periodic callback.
type Timer interface {
	Stop()
}

// Clock provides the current time and periodic callbacks.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	Every(interval time.Duration, fn func()) Timer
}

type wall struct{}

// Wall returns a Clock backed by the runtime timers.
func Wall() Clock {
	return wall{}
}

func (wall) Now() time.Time                  { return time.Now() }
func (wall) Since(t time.Time) time.Duration { return time.Since(t) }

// Every runs fn on its own goroutine every interval until the Timer is stopped.
func (wall) Every(interval time.Duration, fn func()) Timer {
	t := &wallTimer{
		ticker: time.NewTicker(interval),
		stop:   make(chan struct{}),
	}
	go t.run(fn)
	return t
}

type wallTimer struct {
	ticker *time.Ticker
	stop   chan struct{}
	once   sync.Once
}

func (t *wallTimer) run(fn func()) {
	defer t.ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-t.ticker.C:
		}
		// a tick racing Stop must not fire
		select {
		case <-t.stop:
			return
		default:
		}
		fn()
	}
}

// Stop is safe to call more than once and from inside the callback.
func (t *wallTimer) Stop() {
	t.once.Do(func() {
		close(t.stop)
	})
}
