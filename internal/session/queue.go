package session

import (
	"sync"

	"github.com/MrWong99/voxgate/internal/protocol"
)

// eventQueue is the per-session ordered FIFO of upstream protocol events.
//
// The serialiser goroutine is the only consumer; producers are the state
// machine, the audio drainer, and detached tool dispatchers. Waiting for an
// event races the wake signal against the session's close signal with a plain
// channel select, so queue exhaustion and shutdown both surface as tagged
// outcomes rather than panics or sentinel errors.
type eventQueue struct {
	mu    sync.Mutex
	items []protocol.Event

	// wake has capacity 1: a pending signal means "items may be available".
	wake chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{wake: make(chan struct{}, 1)}
}

// push appends ev and signals a waiting consumer.
func (q *eventQueue) push(ev protocol.Event) {
	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// pop removes and returns the head, if any.
func (q *eventQueue) pop() (protocol.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return protocol.Event{}, false
	}
	ev := q.items[0]
	q.items = q.items[1:]
	return ev, true
}

// next blocks until an event is available or closed fires. After the close
// signal, remaining queued events are still drained in order — the terminal
// contentEnd/promptEnd/sessionEnd trio is enqueued shortly before the signal
// and must reach the wire.
func (q *eventQueue) next(closed <-chan struct{}) (protocol.Event, bool) {
	for {
		if ev, ok := q.pop(); ok {
			return ev, true
		}
		select {
		case <-q.wake:
		case <-closed:
			// Final drain: events enqueued between the last pop and the
			// close signal still go out.
			if ev, ok := q.pop(); ok {
				return ev, true
			}
			return protocol.Event{}, false
		}
	}
}

// len reports the number of queued events.
func (q *eventQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
