package core

import (
	"fmt"
	"time"
)

// Cursor is a forward-only reader over the buffer. A
// cursor positioned strictly before the buffer's next message id holds
// an inner segment cursor; one positioned exactly at next_message_id
// (the empty-buffer or caught-up case) holds none until data arrives.
// One concrete type covers both cases; the distinction is an
// implementation detail of how Next resolves, without exposing two Go
// types to callers.
type Cursor interface {
	// Next advances to and returns the next message, blocking until one
	// is available, the timeout elapses, or the cursor/buffer is
	// closed. A zero timeout blocks indefinitely.
	Next(timeout time.Duration) (Message, error)

	// Close releases the cursor's segment handle and wakes any blocked
	// Next call with ErrInterrupted.
	Close() error
}

// Message is one decoded record returned by Cursor.Next.
type Message struct {
	ID         uint64
	Timestamp  int64
	RoutingKey string
	Payload    []byte
}

// cursor is the concrete Cursor implementation. It holds a live
// reference (via use()/closeIfUnused) on whichever segment it is
// currently reading, moving that reference forward as it crosses
// segment boundaries.
type cursor struct {
	buf *Buffer

	nextID uint64       // authoritative position once inner == nil
	inner  *innerCursor // nil while waiting for a segment to cover nextID
	seg    *segment

	closed  bool
	waiting *waiter // set while a Next call is blocked, for Close to interrupt
}

// Next implements Cursor. It delegates intra-segment decoding to the
// positioned inner cursor; once that's exhausted it asks the buffer
// for the next segment (or blocks on the buffer's waiter list if none
// exists yet), the same two-step "delegate, then look for more" shape
// as donghaima-gafka's disk queue Next().
func (c *cursor) Next(timeout time.Duration) (Message, error) {
	deadline := time.Time{}
	if timeout > 0 {
		deadline = timeAfter(timeout)
	}

	for {
		c.buf.mu.Lock()
		if c.closed {
			c.buf.mu.Unlock()
			return Message{}, ErrCursorClosed
		}
		if c.buf.closed {
			c.buf.mu.Unlock()
			return Message{}, ErrClosed
		}

		if c.inner != nil {
			ok, err := c.inner.next()
			if err != nil {
				c.buf.mu.Unlock()
				return Message{}, err
			}
			if ok {
				msg := Message{ID: c.inner.id(), Timestamp: c.inner.timestamp(), RoutingKey: c.inner.routingKey(), Payload: c.inner.payload()}
				c.buf.mu.Unlock()
				return msg, nil
			}

			// Exhausted this segment: record where to resume and
			// release the handle before trying to attach to whatever
			// comes next.
			c.nextID = c.seg.nextMessageID()
			old := c.seg
			c.seg, c.inner = nil, nil
			if err := old.closeIfUnused(); err != nil {
				c.buf.mu.Unlock()
				return Message{}, err
			}
		}

		attached, err := c.buf.tryAttachLocked(c)
		if err != nil {
			c.buf.mu.Unlock()
			return Message{}, err
		}
		if attached {
			c.buf.mu.Unlock()
			continue
		}

		// Caught up to next_message_id: register as a waiter and block.
		w, slot := c.buf.registerWaiterLocked()
		c.waiting = w
		c.buf.mu.Unlock()

		var woke bool
		if timeout <= 0 {
			woke = waitCond(w, 0)
		} else {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				c.buf.deregisterWaiter(slot)
				c.clearWaiting(w)
				return Message{}, ErrTimeout
			}
			woke = waitCond(w, remaining)
		}

		c.buf.deregisterWaiter(slot)

		c.buf.mu.Lock()
		c.clearWaitingLocked(w)
		if c.closed {
			c.buf.mu.Unlock()
			return Message{}, ErrInterrupted
		}
		if c.buf.closed {
			c.buf.mu.Unlock()
			return Message{}, ErrClosed
		}
		c.buf.mu.Unlock()

		if !woke {
			return Message{}, ErrTimeout
		}
		// Either new data arrived or Buffer.Close/cursor Close woke us;
		// loop and re-check. A closed cursor or buffer is caught at the
		// top of the loop.
	}
}

// Close releases this cursor's segment handle and wakes it if blocked.
func (c *cursor) Close() error {
	c.buf.mu.Lock()
	if c.closed {
		c.buf.mu.Unlock()
		return nil
	}
	c.closed = true
	seg := c.seg
	w := c.waiting
	c.seg = nil
	c.inner = nil
	c.buf.mu.Unlock()

	if w != nil {
		w.wake()
	}

	if seg != nil {
		return seg.closeIfUnused()
	}
	return nil
}

func (c *cursor) clearWaiting(w *waiter) {
	c.buf.mu.Lock()
	c.clearWaitingLocked(w)
	c.buf.mu.Unlock()
}

func (c *cursor) clearWaitingLocked(w *waiter) {
	if c.waiting == w {
		c.waiting = nil
	}
}

// waitCond blocks on w.cond until woken or d elapses (d == 0 means
// wait indefinitely), returning true if it was woken rather than timed
// out. Grounded on the standard sync.Cond-with-timeout idiom: a
// goroutine races the broadcast against a timer and reports whichever
// happened first.
func waitCond(w *waiter, d time.Duration) bool {
	w.mu.Lock()
	if w.done {
		w.mu.Unlock()
		return true
	}

	if d <= 0 {
		for !w.done {
			w.cond.Wait()
		}
		w.mu.Unlock()
		return true
	}

	timedOut := false
	timer := time.AfterFunc(d, func() {
		w.mu.Lock()
		timedOut = !w.done
		w.cond.Broadcast()
		w.mu.Unlock()
	})
	defer timer.Stop()

	for !w.done && !timedOut {
		w.cond.Wait()
	}
	woke := w.done
	w.mu.Unlock()
	return woke
}

func timeAfter(d time.Duration) time.Time { return time.Now().Add(d) }

// errPastEnd wraps ErrIDPastEnd with call-site context.
func errPastEnd(id uint64) error {
	return fmt.Errorf("%w: id %d", ErrIDPastEnd, id)
}
