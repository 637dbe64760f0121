package core

import "sync"

// waiter is one blocked Next(timeout) call. cond is signaled by the
// appender after a successful append, outside the buffer lock (the
// "two-lock dance" below), the same snapshot-then-signal shape as
// other_examples/c74096da_ninibe-netlog's notify() goroutine and
// BigLog's copy-on-write watcher map.
type waiter struct {
	mu   sync.Mutex
	cond *sync.Cond
	done bool
}

func newWaiter() *waiter {
	w := &waiter{}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// wake signals the waiter's condition variable. Safe to call more than
// once or after the waiter has already been removed from the list.
func (w *waiter) wake() {
	w.mu.Lock()
	w.done = true
	w.cond.Broadcast()
	w.mu.Unlock()
}

// waiterList is a sparse, append-only list of waiters, with departed
// waiters leaving gaps rather than shifting the array.
// register/deregister happen under the caller's buffer lock; wakeAll
// is meant to be invoked with
// a private snapshot taken outside that lock, so that signaling a
// waiter's condition variable never happens while the buffer lock is
// held (avoids the deadlock where a woken goroutine immediately
// contends for the same lock its waker holds).
type waiterList struct {
	entries []*waiter
}

func (wl *waiterList) register() (*waiter, int) {
	w := newWaiter()
	for i, e := range wl.entries {
		if e == nil {
			wl.entries[i] = w
			return w, i
		}
	}
	wl.entries = append(wl.entries, w)
	return w, len(wl.entries) - 1
}

func (wl *waiterList) deregister(slot int) {
	if slot >= 0 && slot < len(wl.entries) {
		wl.entries[slot] = nil
	}
}

// snapshot returns a copy of the live waiter pointers, safe to iterate
// and wake after releasing the buffer lock.
func (wl *waiterList) snapshot() []*waiter {
	out := make([]*waiter, 0, len(wl.entries))
	for _, e := range wl.entries {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

// wakeAll wakes every waiter in a snapshot. Call this without holding
// the buffer lock.
func wakeAll(waiters []*waiter) {
	for _, w := range waiters {
		w.wake()
	}
}
