package coordinator

import (
	"sync"

	"github.com/sharedcode/mutbox"
)

// outcome is what a settled waiter delivers to its caller.
type outcome struct {
	value any
	err   error
}

// waiterRegistry implements mutbox.WaiterSink (spec §3.3/§4.F/§9): at most one
// deferred per transaction id, settled exactly once by the Executor.
type waiterRegistry struct {
	mu      sync.Mutex
	waiters map[mutbox.UUID]chan outcome
}

func newWaiterRegistry() *waiterRegistry {
	return &waiterRegistry{waiters: make(map[mutbox.UUID]chan outcome)}
}

// WaitFor returns the channel for id, creating one if this is the first call
// for that id (idempotent registration).
func (w *waiterRegistry) WaitFor(id mutbox.UUID) chan outcome {
	w.mu.Lock()
	defer w.mu.Unlock()
	if ch, ok := w.waiters[id]; ok {
		return ch
	}
	ch := make(chan outcome, 1)
	w.waiters[id] = ch
	return ch
}

// Resolve settles id's waiter with value, if one is registered; otherwise a no-op.
func (w *waiterRegistry) Resolve(id mutbox.UUID, value any) {
	w.settle(id, outcome{value: value})
}

// Reject settles id's waiter with err, if one is registered; otherwise a no-op.
func (w *waiterRegistry) Reject(id mutbox.UUID, err error) {
	w.settle(id, outcome{err: err})
}

func (w *waiterRegistry) settle(id mutbox.UUID, o outcome) {
	w.mu.Lock()
	ch, ok := w.waiters[id]
	if ok {
		delete(w.waiters, id)
	}
	w.mu.Unlock()
	if ok {
		ch <- o
		close(ch)
	}
}

// cancel drops an unfulfilled registration, used when persisting a draft fails
// synchronously and its waiter will never be settled by the Executor.
func (w *waiterRegistry) cancel(id mutbox.UUID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.waiters, id)
}

// clear drops every pending waiter without settling it (spec §5 dispose: "an
// in-flight mutation...result is no longer observable through a waiter").
func (w *waiterRegistry) clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.waiters = make(map[mutbox.UUID]chan outcome)
}
