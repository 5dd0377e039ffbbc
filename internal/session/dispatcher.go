package session

import (
	"sync"

	"github.com/adamavenir/frayline/internal/types"
)

// dispatcher queues store changes without blocking the mutating call and
// hands them to handle one at a time, in order, on the run goroutine.
type dispatcher struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []types.Change
	busy   bool
	closed bool
	handle func(types.Change)
}

func newDispatcher(handle func(types.Change)) *dispatcher {
	d := &dispatcher{handle: handle}
	d.cond = sync.NewCond(&d.mu)
	return d
}

func (d *dispatcher) enqueue(change types.Change) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.queue = append(d.queue, change)
	d.cond.Broadcast()
}

func (d *dispatcher) run() error {
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if d.closed {
			d.mu.Unlock()
			return nil
		}
		change := d.queue[0]
		d.queue[0] = types.Change{}
		d.queue = d.queue[1:]
		d.busy = true
		d.mu.Unlock()

		d.handle(change)

		d.mu.Lock()
		d.busy = false
		d.cond.Broadcast()
		d.mu.Unlock()
	}
}

// idle blocks until every queued change has been handled.
func (d *dispatcher) idle() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for (len(d.queue) > 0 || d.busy) && !d.closed {
		d.cond.Wait()
	}
}

func (d *dispatcher) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.queue = nil
	d.cond.Broadcast()
}
