package attempt

import (
	"context"
	"sync"
	"time"
)

// EventType labels countdown events emitted by the Runner.
type EventType string

const (
	EventTick      EventType = "tick"
	EventWarning   EventType = "warning"
	EventSubmitted EventType = "submitted"
)

// Event is one countdown notification.
type Event struct {
	Type      EventType `json:"type"`
	Remaining int       `json:"remaining"`
	Auto      bool      `json:"auto,omitempty"`
	Err       error     `json:"-"`
}

// Runner drives a Machine's countdown on a ticker and publishes events.
// It stops itself once the attempt is submitted; Stop must be called
// when the client detaches so no timer outlives the session.
type Runner struct {
	machine  *Machine
	interval time.Duration
	events   chan Event
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewRunner(machine *Machine, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = time.Second
	}
	return &Runner{
		machine:  machine,
		interval: interval,
		events:   make(chan Event, 16),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Events returns the countdown event stream. The channel closes when
// the runner exits.
func (r *Runner) Events() <-chan Event { return r.events }

// Start launches the tick loop.
func (r *Runner) Start(ctx context.Context) {
	go r.loop(ctx)
}

// Stop halts the tick loop and waits for it to exit.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
}

func (r *Runner) loop(ctx context.Context) {
	defer close(r.done)
	defer close(r.events)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			res := r.machine.Tick(ctx)
			if res.Warning {
				r.publish(Event{Type: EventWarning, Remaining: res.Remaining})
			}
			r.publish(Event{Type: EventTick, Remaining: res.Remaining})
			if res.AutoSubmitted {
				r.publish(Event{Type: EventSubmitted, Remaining: res.Remaining, Auto: true, Err: res.Err})
				return
			}
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// publish never blocks the tick loop; when the subscriber lags, the
// oldest event is dropped in favor of the fresh one.
func (r *Runner) publish(ev Event) {
	select {
	case r.events <- ev:
	default:
		select {
		case <-r.events:
		default:
		}
		r.events <- ev
	}
}
