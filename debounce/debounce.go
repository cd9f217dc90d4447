// Package debounce coalesces bursts of triggers into a single call that runs
// once no new trigger has arrived for a quiet period.
package debounce

import (
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// Debouncer runs fn after delay has passed without another Trigger.
// fn always runs on the debouncer's own goroutine, never concurrently with itself,
// and must not call back into the Debouncer.
type Debouncer struct {
	clock clock.Clock
	delay time.Duration
	fn    func()

	triggers chan chan struct{}
	flushes  chan chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New starts a debouncer. Stop must be called to release its goroutine.
func New(c clock.Clock, delay time.Duration, fn func()) *Debouncer {
	d := &Debouncer{
		clock:    c,
		delay:    delay,
		fn:       fn,
		triggers: make(chan chan struct{}),
		flushes:  make(chan chan struct{}),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go d.run()
	return d
}

// Trigger (re)starts the quiet period. It returns once the timer is armed, so a
// caller that advances a fake clock afterwards is guaranteed to fire it.
// Triggers after Stop are ignored.
func (d *Debouncer) Trigger() {
	ack := make(chan struct{})
	select {
	case d.triggers <- ack:
		<-ack
	case <-d.done:
	}
}

// Flush runs a pending call immediately and waits for it to finish.
// It does nothing when no call is pending.
func (d *Debouncer) Flush() {
	ack := make(chan struct{})
	select {
	case d.flushes <- ack:
		<-ack
	case <-d.done:
	}
}

// Stop discards any pending call and waits for the debouncer goroutine to exit
func (d *Debouncer) Stop() {
	d.stopOnce.Do(func() {
		close(d.stop)
	})
	<-d.done
}

func (d *Debouncer) run() {
	defer close(d.done)

	var timer clock.Timer
	var fire <-chan time.Time
	disarm := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = nil
		fire = nil
	}
	defer disarm()

	for {
		select {
		case <-d.stop:
			return
		case ack := <-d.triggers:
			disarm()
			timer = d.clock.NewTimer(d.delay)
			fire = timer.C()
			close(ack)
		case ack := <-d.flushes:
			if timer != nil {
				disarm()
				d.fn()
			}
			close(ack)
		case <-fire:
			timer = nil
			fire = nil
			d.fn()
		}
	}
}
