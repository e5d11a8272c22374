package docstore

import (
	"context"
	"sync"
)

// Relay delivers events to a single subscriber in push order. Push never
// blocks the producer; events queue until the subscriber drains them.
type Relay struct {
	out  chan Event
	wake chan struct{}
	done chan struct{}

	mu     sync.Mutex
	queue  []Event
	closed bool
	once   sync.Once
}

// NewRelay starts the delivery goroutine. It stops when Close is called or ctx
// is cancelled, closing the Events channel either way.
func NewRelay(ctx context.Context) *Relay {
	r := &Relay{
		out:  make(chan Event),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go r.run(ctx)
	return r
}

// Events is the subscriber side of the relay.
func (r *Relay) Events() <-chan Event {
	return r.out
}

// Push queues an event. It reports false once the relay is closed.
func (r *Relay) Push(ev Event) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	r.queue = append(r.queue, ev)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
	return true
}

// Close stops delivery. Safe to call more than once.
func (r *Relay) Close() {
	r.once.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.queue = nil
		r.mu.Unlock()
		close(r.done)
	})
}

func (r *Relay) run(ctx context.Context) {
	defer func() {
		r.mu.Lock()
		r.closed = true
		r.queue = nil
		r.mu.Unlock()
		close(r.out)
	}()

	for {
		r.mu.Lock()
		if len(r.queue) == 0 {
			r.mu.Unlock()
			select {
			case <-r.wake:
				continue
			case <-r.done:
				return
			case <-ctx.Done():
				return
			}
		}
		ev := r.queue[0]
		r.queue[0] = Event{}
		r.queue = r.queue[1:]
		r.mu.Unlock()

		select {
		case r.out <- ev:
		case <-r.done:
			return
		case <-ctx.Done():
			return
		}
	}
}
