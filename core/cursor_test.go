//go:build goexperiment.synctest

package core

import (
	"errors"
	"testing"
	"testing/synctest"
	"time"
)

// TestCursorNextBlocksUntilAppend verifies a cursor caught up to
// next_message_id blocks in Next(0) and is woken by a concurrent Append.
func TestCursorNextBlocksUntilAppend(t *testing.T) {
	synctest.Run(func() {
		buf := setupTempBuffer(t)

		c, err := buf.Cursor(0)
		if err != nil {
			t.Fatalf("Cursor: %v", err)
		}
		defer c.Close()

		type result struct {
			msg Message
			err error
		}
		done := make(chan result, 1)
		go func() {
			msg, err := c.Next(0)
			done <- result{msg, err}
		}()

		synctest.Wait() // the goroutine is now durably blocked on the waiter

		if _, err := buf.Append(42, "k", []byte("v")); err != nil {
			t.Fatalf("append: %v", err)
		}

		synctest.Wait()

		select {
		case r := <-done:
			if r.err != nil {
				t.Fatalf("Next: %v", r.err)
			}
			if r.msg.RoutingKey != "k" {
				t.Fatalf("unexpected message: %+v", r.msg)
			}
		default:
			t.Fatal("Next did not return after the append")
		}
	})
}

// TestCursorNextTimesOut verifies Next returns ErrTimeout when nothing
// arrives before the deadline, letting synctest's fake clock fast-forward
// through the wait.
func TestCursorNextTimesOut(t *testing.T) {
	synctest.Run(func() {
		buf := setupTempBuffer(t)

		c, err := buf.Cursor(0)
		if err != nil {
			t.Fatalf("Cursor: %v", err)
		}
		defer c.Close()

		_, err = c.Next(5 * time.Second)
		if !errors.Is(err, ErrTimeout) {
			t.Fatalf("got %v, want ErrTimeout", err)
		}
	})
}

// TestCursorCloseInterruptsBlockedNext verifies Close() promptly wakes a
// Next call that is blocked waiting for new data.
func TestCursorCloseInterruptsBlockedNext(t *testing.T) {
	synctest.Run(func() {
		buf := setupTempBuffer(t)

		c, err := buf.Cursor(0)
		if err != nil {
			t.Fatalf("Cursor: %v", err)
		}

		type result struct {
			msg Message
			err error
		}
		done := make(chan result, 1)
		go func() {
			msg, err := c.Next(0)
			done <- result{msg, err}
		}()

		synctest.Wait()

		if err := c.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}

		synctest.Wait()

		select {
		case r := <-done:
			if !errors.Is(r.err, ErrInterrupted) {
				t.Fatalf("got %v, want ErrInterrupted", r.err)
			}
		default:
			t.Fatal("Next did not return after Close")
		}
	})
}

// TestCursorCrossSegmentAdvance verifies a cursor correctly advances past
// a sealed segment boundary onto the next one.
func TestCursorCrossSegmentAdvance(t *testing.T) {
	synctest.Run(func() {
		segLen := int64(fileHeaderSize + recordHeaderLen + 2)
		buf := setupTempBuffer(t, WithSegmentLength(segLen), WithMaxSize(segLen*8), WithSegmentCount(8))

		id1, _ := buf.Append(0, "", []byte("ab"))
		id2, _ := buf.Append(1, "", []byte("cd")) // forces a rollover

		c, err := buf.Cursor(0)
		if err != nil {
			t.Fatalf("Cursor: %v", err)
		}
		defer c.Close()

		m1, err := c.Next(0)
		if err != nil || m1.ID != id1 {
			t.Fatalf("first message: id=%d err=%v, want id=%d", m1.ID, err, id1)
		}
		m2, err := c.Next(0)
		if err != nil || m2.ID != id2 {
			t.Fatalf("second message: id=%d err=%v, want id=%d", m2.ID, err, id2)
		}
	})
}
