package core

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
)

// appender owns the single active segment and the append path:
// validating size, creating or reopening the active segment,
// and rolling over to a fresh one when the current one reports full.
// The auto-sync timer lives on Buffer, which holds the lock appender
// assumes: every method here assumes the caller already holds the
// owning Buffer's lock, the same division of labor as core/db.go's DB
// methods versus its embedded mutex.
type appender struct {
	fs  afero.Fs
	dir string
	cfg Config

	d      *directory
	active *segment

	// startID seeds the very first segment ever created for this ring;
	// it is only honored while the directory is still empty.
	startID uint64
}

func newAppender(fs afero.Fs, dir string, cfg Config, d *directory) *appender {
	return &appender{fs: fs, dir: dir, cfg: cfg, d: d}
}

// ensureActive creates the first segment of a fresh ring, or reopens
// the most recently sealed one. Called eagerly from Open when the
// directory is non-empty (ts is unused on that path — reopenForAppend
// derives the segment's byte length by statting the file, not from
// ts); for a brand new, never-appended-to ring it is deferred to the
// first Append call, since ts for the very first segment can only
// come from the first append. A directory populated by scan() always
// ends on a sealed entry — the active segment is sealed on every
// orderly close and rollover — so reopening the last entry is always
// the right move when the directory isn't empty.
func (a *appender) ensureActive(ts int64) error {
	if a.active != nil {
		return nil
	}

	if a.d.len() == 0 {
		seg, err := openNew(a.fs, a.dir, a.startID, ts, a.cfg.SegmentLength)
		if err != nil {
			return err
		}
		a.d.appendSegment(a.startID, ts)
		a.active = seg
		return nil
	}

	idx := a.d.activeIndex()
	name := segmentName(a.d.firstID[idx], a.d.firstTS[idx], a.d.count[idx])
	seg, err := reopenForAppend(a.fs, a.dir, name, a.d.firstID[idx], a.d.firstTS[idx], a.d.count[idx], a.cfg.SegmentLength)
	if err != nil {
		return err
	}
	a.active = seg
	return nil
}

// append validates the payload size, ensures an active segment exists,
// appends to it, and rolls over to a new segment on a full-sentinel
// response, retrying the write once against the fresh segment.
func (a *appender) append(ts int64, key string, payload []byte) (uint64, error) {
	if len(payload) > a.cfg.MaxPayloadSize {
		return 0, fmt.Errorf("%w: payload %d bytes exceeds max %d", ErrOversize, len(payload), a.cfg.MaxPayloadSize)
	}

	if err := a.ensureActive(ts); err != nil {
		return 0, err
	}

	id, fits, err := a.active.append(ts, key, payload)
	if err != nil {
		return 0, err
	}

	if !fits {
		if err := a.rollover(ts); err != nil {
			return 0, err
		}
		id, fits, err = a.active.append(ts, key, payload)
		if err != nil {
			return 0, err
		}
		if !fits {
			return 0, fmt.Errorf("%w: record does not fit in an empty segment", ErrOversize)
		}
	}

	return id, nil
}

// rollover seals the current active segment (renaming it with its
// final count), releases the appender's own reference to it, and
// opens a fresh active segment starting at the next message id.
func (a *appender) rollover(ts int64) error {
	sealedCount := a.active.messageCount()
	nextID := a.active.nextMessageID()

	oldPath := a.active.path
	idx := a.d.activeIndex()
	newName := segmentName(a.d.firstID[idx], a.d.firstTS[idx], sealedCount)
	newPath := filepath.Join(a.dir, newName)

	if err := a.fs.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("seal segment %q: %w", oldPath, err)
	}
	a.active.path = newPath

	a.d.sealLast(sealedCount)

	sealed := a.active
	a.active = nil

	if err := sealed.closeIfUnused(); err != nil {
		return err
	}

	seg, err := openNew(a.fs, a.dir, nextID, ts, a.cfg.SegmentLength)
	if err != nil {
		return err
	}
	a.d.appendSegment(nextID, ts)
	a.active = seg

	return nil
}

// nextMessageID reports the id the next Append call would assign.
// Open eagerly reopens the active segment whenever the directory is
// non-empty, so a.active == nil here only when the ring is genuinely
// new and has never been appended to, and startID is the correct
// answer. If that invariant is ever violated, fall back to reopening
// the last sealed segment on demand rather than reporting a stale id.
func (a *appender) nextMessageID() uint64 {
	if a.active == nil {
		if a.d.len() == 0 {
			return a.startID
		}
		if err := a.ensureActive(0); err != nil {
			return a.startID
		}
	}
	return a.active.nextMessageID()
}

