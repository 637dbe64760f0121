package core

import (
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
)

// Buffer is the durable, segmented, append-only message buffer facade.
// One coarse lock (mu) serializes directory, appender and waiter-list
// state, the same as core/db.go's DB.mu; blocking reads never hold
// that lock (the "two-lock dance" via waiterList.snapshot + wakeAll),
// and segment I/O outside the active append path happens through
// independently-locked *segment handles.
type Buffer struct {
	mu sync.Mutex

	fs  afero.Fs
	dir string
	cfg Config

	d       *directory
	app     *appender
	waiters waiterList
	cache   *handleCache

	syncArmed  bool
	syncCancel func()

	closed bool
}

// Open scans dir for existing segments and returns a ready-to-use
// Buffer. The directory is created if it doesn't exist.
func Open(dir string, opts ...Option) (*Buffer, error) {
	cfg, err := resolve(opts)
	if err != nil {
		return nil, err
	}

	if err := cfg.Filesystem.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	results, err := scan(cfg.Filesystem, dir)
	if err != nil {
		return nil, err
	}

	d := newDirectory()
	d.load(results)

	app := newAppender(cfg.Filesystem, dir, cfg, d)

	// Reopen the last sealed segment now rather than waiting for the
	// first Append, so NextMessageID/Size/Timeline/Cursor(0) report the
	// true post-reopen state immediately. ts is irrelevant here: a
	// non-empty directory always ends on a sealed entry, and
	// ensureActive only consults ts when creating a brand new ring.
	if d.len() != 0 {
		if err := app.ensureActive(0); err != nil {
			return nil, err
		}
	}

	b := &Buffer{
		fs:    cfg.Filesystem,
		dir:   dir,
		cfg:   cfg,
		d:     d,
		app:   app,
		cache: newHandleCache(cfg.SegmentCacheSize),
	}

	globalShutdownRegistry.register(b)
	return b, nil
}

// Append writes one message and returns its assigned id.
func (b *Buffer) Append(ts int64, routingKey string, payload []byte) (uint64, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return 0, ErrClosed
	}

	id, err := b.app.append(ts, routingKey, payload)
	if err != nil {
		b.mu.Unlock()
		return 0, err
	}

	b.reclaimLocked()
	b.armAutoSyncLocked()

	snapshot := b.waiters.snapshot()
	b.mu.Unlock()

	wakeAll(snapshot)
	return id, nil
}

// reclaimLocked drops segments from the front of the ring until the
// buffer's total size is back within MaxSize. Caller must hold b.mu.
// Dropping a segment from the directory window is immediate (it must
// be, so a concurrent Cursor/CursorByTimestamp call never attaches to
// a segment reclaim just evicted), but the disk cleanup that follows —
// closing a cached handle and unlinking the file — is handed to
// cfg.Executor, the same non-blocking-enqueue-then-goroutine shape as
// core/merge.go's tryMerge.
func (b *Buffer) reclaimLocked() {
	dropped := reclaim(b.d, b.cfg.MaxSize, b.app.nextMessageID())
	if len(dropped) == 0 {
		return
	}

	type pendingDelete struct {
		seg  *segment
		name string
	}
	pending := make([]pendingDelete, len(dropped))
	for i, ds := range dropped {
		seg, _ := b.cache.remove(ds.name)
		pending[i] = pendingDelete{seg: seg, name: ds.name}
	}

	fs, dir := b.fs, b.dir
	b.cfg.Executor(func() {
		for _, p := range pending {
			if p.seg != nil {
				_ = p.seg.scheduleDelete()
				_ = p.seg.closeIfUnused()
				continue
			}
			_ = fs.Remove(filepath.Join(dir, p.name))
		}
	})
}

func (b *Buffer) armAutoSyncLocked() {
	if b.cfg.AutoSyncInterval <= 0 || b.syncArmed {
		return
	}
	b.syncArmed = true
	b.syncCancel = b.cfg.Timer(b.cfg.AutoSyncInterval, b.fireAutoSync)
}

func (b *Buffer) fireAutoSync() {
	b.mu.Lock()
	b.syncArmed = false
	b.syncCancel = nil
	if b.closed {
		b.mu.Unlock()
		return
	}
	active := b.app.active
	b.mu.Unlock()

	if active != nil {
		_ = active.checkpoint(false)
	}
}

// Sync forces a checkpoint of the active segment.
func (b *Buffer) Sync() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	active := b.app.active
	if b.syncCancel != nil {
		b.syncCancel()
		b.syncCancel = nil
		b.syncArmed = false
	}
	b.mu.Unlock()

	if active == nil {
		return nil
	}
	return active.checkpoint(true)
}

// acquireSegment returns a referenced *segment for directory index idx,
// sharing the live active segment's handle when idx is the active
// segment, otherwise going through the sealed-segment handle cache.
// Caller must hold b.mu; the returned handle's reference must be
// released with closeIfUnused.
func (b *Buffer) acquireSegment(idx int) (*segment, error) {
	if idx == b.d.activeIndex() && b.app.active != nil {
		b.app.active.use()
		return b.app.active, nil
	}

	name := segmentName(b.d.firstID[idx], b.d.firstTS[idx], b.d.count[idx])
	if seg, ok := b.cache.get(name); ok {
		seg.use()
		return seg, nil
	}

	seg, err := openExistingForRead(b.fs, b.dir, name, b.d.firstID[idx], b.d.count[idx])
	if err != nil {
		return nil, err
	}
	seg.use()
	if err := b.cache.put(name, seg); err != nil {
		return nil, err
	}
	return seg, nil
}

// Cursor returns a Cursor pre-positioned just before id.
// Ids below the window are clamped forward to the oldest live message;
// id == NextMessageID returns a cursor that blocks until new data
// arrives.
func (b *Buffer) Cursor(id uint64) (Cursor, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	next := b.app.nextMessageID()
	if id > next {
		return nil, errPastEnd(id)
	}

	c := &cursor{buf: b, nextID: id}
	if id < next {
		if _, err := b.tryAttachLocked(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// CursorByTimestamp returns a Cursor positioned at the first message
// with timestamp >= ts.
func (b *Buffer) CursorByTimestamp(ts int64) (Cursor, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	if b.d.len() == 0 {
		return &cursor{buf: b, nextID: b.app.nextMessageID()}, nil
	}

	idx := b.d.findByTS(ts)
	seg, err := b.acquireSegment(idx)
	if err != nil {
		return nil, err
	}

	inner, err := seg.cursorAtTimestamp(ts, true)
	if err != nil {
		_ = seg.closeIfUnused()
		return nil, err
	}

	return &cursor{buf: b, seg: seg, inner: inner}, nil
}

// tryAttachLocked positions c onto whichever segment currently covers
// c.nextID, acquiring a fresh handle. It reports false without error
// if c has caught up to next_message_id (nothing to attach to yet).
// Caller must hold b.mu.
func (b *Buffer) tryAttachLocked(c *cursor) (bool, error) {
	next := b.app.nextMessageID()
	if c.nextID >= next {
		return false, nil
	}

	idx := b.d.findByID(c.nextID)
	positionID := c.nextID
	if positionID < b.d.firstID[idx] {
		positionID = b.d.firstID[idx]
	}

	seg, err := b.acquireSegment(idx)
	if err != nil {
		return false, err
	}

	c.seg = seg
	c.inner = seg.cursorAt(positionID, true)
	c.nextID = positionID
	return true, nil
}

func (b *Buffer) registerWaiterLocked() (*waiter, int) {
	return b.waiters.register()
}

func (b *Buffer) deregisterWaiter(slot int) {
	b.mu.Lock()
	b.waiters.deregister(slot)
	b.mu.Unlock()
}

// Size reports the buffer's total on-disk footprint in bytes,
// including every live segment's fileHeaderSize overhead.
func (b *Buffer) Size() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return totalSize(b.d, b.app.nextMessageID())
}

// MessageCount reports the total number of live messages across every
// segment in the window.
func (b *Buffer) MessageCount() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	var total uint64
	active := b.d.activeIndex()
	for i := b.d.head; i < b.d.tail; i++ {
		if i == active && b.app.active != nil {
			total += uint64(b.app.active.messageCount())
			continue
		}
		total += uint64(b.d.count[i])
	}
	return total
}

// OldestMessageTime returns the first timestamp in the oldest live
// segment, or (0, false) if the buffer holds no segments yet.
func (b *Buffer) OldestMessageTime() (int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.d.len() == 0 {
		return 0, false
	}
	return b.d.firstTS[b.d.head], true
}

// NextMessageID reports the id the next Append call would assign.
func (b *Buffer) NextMessageID() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.app.nextMessageID()
}

// FirstMessageID reports the id of the oldest live message, or the
// seeded start id if the buffer has never been appended to.
func (b *Buffer) FirstMessageID() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.d.len() == 0 {
		return b.app.startID
	}
	return b.d.firstID[b.d.head]
}

// SetFirstMessageID seeds the id of the very first message the buffer
// will ever assign. It is only valid while the buffer is empty and has
// never been appended to.
func (b *Buffer) SetFirstMessageID(id uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if b.d.len() != 0 || b.app.active != nil {
		return fmtInvalid("SetFirstMessageID requires an empty, never-appended buffer")
	}

	b.app.startID = id
	return nil
}

// Timeline returns the supplemented N+1-entry view of every segment
// boundary plus the live edge.
func (b *Buffer) Timeline() Timeline {
	b.mu.Lock()
	defer b.mu.Unlock()

	var nextTS int64
	var liveCount uint32
	if b.app.active != nil {
		nextTS = b.app.active.mostRecentTimestamp()
		liveCount = b.app.active.messageCount()
	}
	return buildTimeline(b.d, b.app.nextMessageID(), nextTS, liveCount)
}

// IsOpen reports whether the buffer has not yet been closed.
func (b *Buffer) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.closed
}

// Close seals and releases the active segment, closes every cached
// sealed-segment handle, wakes any blocked cursors (which then observe
// ErrClosed), and deregisters the buffer from the process-wide
// shutdown registry.
func (b *Buffer) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true

	if b.syncCancel != nil {
		b.syncCancel()
		b.syncCancel = nil
	}

	var firstErr error
	recordErr := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if b.app.active != nil {
		sealedCount := b.app.active.messageCount()
		idx := b.d.activeIndex()
		oldPath := b.app.active.path
		newPath := filepath.Join(b.dir, segmentName(b.d.firstID[idx], b.d.firstTS[idx], sealedCount))

		if err := b.fs.Rename(oldPath, newPath); err != nil {
			recordErr(err)
		} else {
			b.app.active.path = newPath
			b.d.sealLast(sealedCount)
		}

		recordErr(b.app.active.closeIfUnused())
		b.app.active = nil
	}

	for name, seg := range b.cache.byName {
		recordErr(seg.closeIfUnused())
		delete(b.cache.byName, name)
	}

	snapshot := b.waiters.snapshot()
	b.mu.Unlock()

	wakeAll(snapshot)
	globalShutdownRegistry.deregister(b)

	return firstErr
}
