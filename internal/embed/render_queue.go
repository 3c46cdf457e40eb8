package embed

import (
	"context"
	"sync"
)

// renderQueue orders frame insertions across every instance. A ticket is
// taken when a render starts; its turn comes once every earlier ticket has
// been released.
type renderQueue struct {
	mu      sync.Mutex
	tail    chan struct{}
	pending int
}

type ticket struct {
	q    *renderQueue
	prev <-chan struct{}
	done chan struct{}
	once sync.Once
}

func (q *renderQueue) enqueue() *ticket {
	q.mu.Lock()
	defer q.mu.Unlock()
	t := &ticket{q: q, prev: q.tail, done: make(chan struct{})}
	q.tail = t.done
	q.pending++
	return t
}

// Len returns the number of tickets not yet released.
func (q *renderQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

// wait blocks until it is t's turn.
func (t *ticket) wait(ctx context.Context) error {
	if t.prev == nil {
		return nil
	}
	select {
	case <-t.prev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// release hands the turn on. A ticket released before its turn passes it on
// only after its predecessor, so order is kept.
func (t *ticket) release() {
	t.once.Do(func() {
		t.q.mu.Lock()
		t.q.pending--
		t.q.mu.Unlock()

		if t.prev == nil {
			close(t.done)
			return
		}
		select {
		case <-t.prev:
			close(t.done)
		default:
			go func() {
				<-t.prev
				close(t.done)
			}()
		}
	})
}
