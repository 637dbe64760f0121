// Package remote provides a net/rpc wrapper around a core.Buffer,
// grounded on cmd/remote/remote.go's DBRemote (method-per-RPC structs,
// StartRPC(...) (addr, cleanup, error)).
package remote

import (
	"errors"
	"fmt"
	"log"
	"net"
	"net/rpc"
	"sync"
	"time"

	"github.com/epokhe/qdb/core"
)

// BufferRemote exposes a core.Buffer over net/rpc. Cursors are
// stateful, so unlike a plain stateless Get/Set/Delete RPC surface,
// each opened cursor is handed back to the client as an opaque id and
// kept server-side until the client closes it.
type BufferRemote struct {
	buf *core.Buffer

	mu      sync.Mutex
	cursors map[uint64]core.Cursor
	nextID  uint64
}

func newBufferRemote(buf *core.Buffer) *BufferRemote {
	return &BufferRemote{buf: buf, cursors: make(map[uint64]core.Cursor)}
}

type AppendArgs struct {
	Timestamp  int64
	RoutingKey string
	Payload    []byte
}

type AppendReply struct {
	ID uint64
}

func (r *BufferRemote) Append(args *AppendArgs, reply *AppendReply) error {
	id, err := r.buf.Append(args.Timestamp, args.RoutingKey, args.Payload)
	if err != nil {
		return err
	}
	reply.ID = id
	return nil
}

type OpenCursorArgs struct {
	ID uint64
}

type OpenCursorByTimestampArgs struct {
	Timestamp int64
}

type OpenCursorReply struct {
	CursorID uint64
}

func (r *BufferRemote) OpenCursor(args *OpenCursorArgs, reply *OpenCursorReply) error {
	c, err := r.buf.Cursor(args.ID)
	if err != nil {
		return err
	}
	reply.CursorID = r.storeCursor(c)
	return nil
}

func (r *BufferRemote) OpenCursorByTimestamp(args *OpenCursorByTimestampArgs, reply *OpenCursorReply) error {
	c, err := r.buf.CursorByTimestamp(args.Timestamp)
	if err != nil {
		return err
	}
	reply.CursorID = r.storeCursor(c)
	return nil
}

func (r *BufferRemote) storeCursor(c core.Cursor) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.cursors[id] = c
	return id
}

type NextArgs struct {
	CursorID      uint64
	TimeoutMillis int64
}

type NextReply struct {
	Message core.Message
}

func (r *BufferRemote) Next(args *NextArgs, reply *NextReply) error {
	c, err := r.lookupCursor(args.CursorID)
	if err != nil {
		return err
	}

	msg, err := c.Next(time.Duration(args.TimeoutMillis) * time.Millisecond)
	if err != nil {
		return err
	}
	reply.Message = msg
	return nil
}

type CloseCursorArgs struct {
	CursorID uint64
}

func (r *BufferRemote) CloseCursor(args *CloseCursorArgs, _ *struct{}) error {
	r.mu.Lock()
	c, ok := r.cursors[args.CursorID]
	if ok {
		delete(r.cursors, args.CursorID)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("remote: unknown cursor id %d", args.CursorID)
	}
	return c.Close()
}

func (r *BufferRemote) lookupCursor(id uint64) (core.Cursor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cursors[id]
	if !ok {
		return nil, fmt.Errorf("remote: unknown cursor id %d", id)
	}
	return c, nil
}

type StatsReply struct {
	Size              int64
	MessageCount      uint64
	NextMessageID     uint64
	OldestMessageTime int64
	HasOldest         bool
}

func (r *BufferRemote) Stats(_ *struct{}, reply *StatsReply) error {
	reply.Size = r.buf.Size()
	reply.MessageCount = r.buf.MessageCount()
	reply.NextMessageID = r.buf.NextMessageID()
	oldest, ok := r.buf.OldestMessageTime()
	reply.OldestMessageTime = oldest
	reply.HasOldest = ok
	return nil
}

// StartRPC registers buf under the "Buffer" service name and serves it
// over TCP at addr. It returns the actual listen address and a cleanup
// callback that stops accepting connections and closes buf, the same
// shape as cmd/remote/remote.go's StartRPC.
func StartRPC(buf *core.Buffer, addr string) (string, func(), error) {
	bound := newBufferRemote(buf)

	server := rpc.NewServer()
	if err := server.RegisterName("Buffer", bound); err != nil {
		_ = buf.Close()
		return "", nil, err
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		_ = buf.Close()
		return "", nil, err
	}

	go server.Accept(listener)

	cleanup := func() {
		_ = listener.Close()
		if err := buf.Close(); err != nil && !errors.Is(err, core.ErrClosed) {
			log.Printf("buffer close: %v", err)
		}
	}

	return listener.Addr().String(), cleanup, nil
}
