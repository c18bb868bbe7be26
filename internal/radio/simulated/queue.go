package simulated

import (
	"sync"

	"github.com/nerrad567/webble-core/internal/radio"
)

// eventQueue is an unbounded FIFO drained into an unbuffered channel by one
// goroutine. push never blocks, so the adapter can emit events while the
// consumer is itself calling into the adapter.
type eventQueue struct {
	mu      sync.Mutex
	pending []radio.Event
	wake    chan struct{}
	done    chan struct{}
	out     chan radio.Event
	wg      sync.WaitGroup
}

func newEventQueue(out chan radio.Event) *eventQueue {
	q := &eventQueue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		out:  out,
	}
	q.wg.Add(1)
	go q.run()
	return q
}

func (q *eventQueue) push(ev radio.Event) {
	q.mu.Lock()
	q.pending = append(q.pending, ev)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *eventQueue) run() {
	defer q.wg.Done()
	defer close(q.out)

	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.mu.Unlock()
			select {
			case <-q.wake:
				continue
			case <-q.done:
				return
			}
		}
		ev := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		select {
		case q.out <- ev:
		case <-q.done:
			return
		}
	}
}

func (q *eventQueue) close() {
	close(q.done)
	q.wg.Wait()
}
