package core

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
	"github.com/zeebo/xxh3"
)

// fileHeaderSize is the number of bytes reserved at the start of every
// segment file. Those bytes are never counted towards message ids
// (id == cumulative record byte offset), only towards on-disk size
// accounting.
const fileHeaderSize = 64

const segmentMagic = "QDB1"

// recordHeaderLen is [8-byte checksum][8-byte timestamp][4-byte
// keyLen][4-byte payloadLen], grounded on core/io.go's writeRecord/
// readRecord framing, extended with a timestamp and routing key.
const recordHeaderLen = 8 + 8 + 4 + 4
const checksumLen = 8

// segment is the concrete implementation of the "intra-segment
// record codec" external collaborator: encode/decode records within
// one file, an intra-segment cursor, and checkpoint/sync. Handles are
// reference counted so the appender can seal-and-move-on
// while cursors keep reading.
type segment struct {
	fs   afero.Fs
	path string

	firstID uint64
	firstTS int64

	segmentLen int64 // fixed configured size of this segment's file, fileHeaderSize included

	mu         sync.Mutex
	file       afero.File
	length     int64  // bytes of records written (excludes fileHeaderSize)
	count      uint32 // live message count
	mostRecent int64  // most recent record timestamp
	useCount   int
	closed     bool
	forAppend  bool // true if this handle may still be written to

	pendingDelete bool // scheduled for removal by the ring manager
	unlinked      bool // fs.Remove already issued
}

// openNew creates a brand-new active segment file (count == 0 by
// naming convention, open_new).
func openNew(fs afero.Fs, dir string, firstID uint64, firstTS int64, segmentLen int64) (*segment, error) {
	name := segmentName(firstID, firstTS, 0)
	path := filepath.Join(dir, name)

	f, err := fs.OpenFile(path, osCreateRW(), 0o644)
	if err != nil {
		return nil, fmt.Errorf("create segment %q: %w", path, err)
	}

	if err := writeFileHeader(f, firstID, firstTS); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write segment header %q: %w", path, err)
	}

	return &segment{
		fs:         fs,
		path:       path,
		firstID:    firstID,
		firstTS:    firstTS,
		segmentLen: segmentLen,
		file:       f,
		mostRecent: firstTS,
		useCount:   1,
		forAppend:  true,
	}, nil
}

// openExistingForRead opens a sealed segment read-only for a cursor.
func openExistingForRead(fs afero.Fs, dir, name string, firstID uint64, count uint32) (*segment, error) {
	path := filepath.Join(dir, name)

	f, err := fs.OpenFile(path, osReadOnly(), 0o644)
	if err != nil {
		return nil, fmt.Errorf("open segment %q: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat segment %q: %w", path, err)
	}

	return &segment{
		fs:       fs,
		path:     path,
		firstID:  firstID,
		length:   info.Size() - fileHeaderSize,
		count:    count,
		file:     f,
		useCount: 1,
	}, nil
}

// reopenForAppend reopens the last sealed segment as active, used only
// after an orderly close/re-open of the buffer.
// oldPath is the sealed file (count > 0); it is renamed back to the
// active (count == 0) naming convention before being reopened for
// writes.
func reopenForAppend(fs afero.Fs, dir, oldName string, firstID uint64, firstTS int64, priorCount uint32, segmentLen int64) (*segment, error) {
	oldPath := filepath.Join(dir, oldName)
	newPath := filepath.Join(dir, segmentName(firstID, firstTS, 0))

	if err := fs.Rename(oldPath, newPath); err != nil {
		return nil, fmt.Errorf("reopen-rename segment %q: %w", oldPath, err)
	}

	f, err := fs.OpenFile(newPath, osAppendRW(), 0o644)
	if err != nil {
		return nil, fmt.Errorf("reopen segment %q: %w", newPath, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat segment %q: %w", newPath, err)
	}

	return &segment{
		fs:         fs,
		path:       newPath,
		firstID:    firstID,
		firstTS:    firstTS,
		segmentLen: segmentLen,
		file:       f,
		length:     info.Size() - fileHeaderSize,
		count:      priorCount,
		mostRecent: firstTS,
		useCount:   1,
		forAppend:  true,
	}, nil
}

func writeFileHeader(f afero.File, firstID uint64, firstTS int64) error {
	var hdr [fileHeaderSize]byte
	copy(hdr[0:4], segmentMagic)
	binary.LittleEndian.PutUint64(hdr[4:12], firstID)
	binary.LittleEndian.PutUint64(hdr[12:20], uint64(firstTS))
	_, err := f.Write(hdr[:])
	return err
}

// append writes one record to the segment. It reports fits == false
// (a "full" result) without writing anything if the record
// would push the segment past its configured length; the caller then
// rolls over to a new segment and retries.
func (s *segment) append(ts int64, key string, payload []byte) (id uint64, fits bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.forAppend {
		return 0, false, fmt.Errorf("qdb: append to non-active segment %q", s.path)
	}

	recLen := int64(recordHeaderLen + len(key) + len(payload))
	if fileHeaderSize+s.length+recLen > s.segmentLen {
		return 0, false, nil
	}

	buf := make([]byte, recLen)
	b := buf[checksumLen:]
	binary.LittleEndian.PutUint64(b, uint64(ts))
	b = b[8:]
	binary.LittleEndian.PutUint32(b, uint32(len(key)))
	b = b[4:]
	binary.LittleEndian.PutUint32(b, uint32(len(payload)))
	b = b[4:]
	copy(b, key)
	b = b[len(key):]
	copy(b, payload)

	checksum := xxh3.Hash(buf[checksumLen:])
	binary.LittleEndian.PutUint64(buf[:checksumLen], checksum)

	if _, err := s.file.Write(buf); err != nil {
		return 0, false, fmt.Errorf("write record to segment %q: %w", s.path, err)
	}

	id = s.firstID + uint64(s.length)
	s.length += recLen
	s.count++
	s.mostRecent = ts

	return id, true, nil
}

// checkpoint fsyncs the segment's data to disk.
// force is currently always honored; the parameter mirrors the
// external contract, which allows a no-op fast path when the caller
// knows nothing has changed since the last checkpoint.
func (s *segment) checkpoint(force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	return s.file.Sync()
}

// use increments the handle's reference count.
func (s *segment) use() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.useCount++
}

// scheduleDelete marks the segment for removal once its reference
// count drops to zero: the ring manager logically drops a segment from
// its window the moment it falls outside max_size, but the underlying
// file is only unlinked once every cursor still reading it has
// released its handle. Called by the ring manager the moment it drops
// a segment's directory entry.
func (s *segment) scheduleDelete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingDelete = true
	return s.maybeUnlinkLocked()
}

// closeIfUnused decrements the reference count and actually closes the
// OS file handle once it reaches zero. If the segment was also
// scheduleDelete'd, the file is unlinked from disk at that same point.
func (s *segment) closeIfUnused() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.useCount--
	if s.useCount > 0 || s.closed {
		return nil
	}

	s.closed = true
	var closeErr error
	if s.file != nil {
		closeErr = s.file.Close()
	}

	if err := s.maybeUnlinkLocked(); err != nil {
		return err
	}
	return closeErr
}

// maybeUnlinkLocked removes the segment's file from disk once it has
// both been scheduled for delete and is no longer referenced by
// anyone. Caller must hold s.mu.
func (s *segment) maybeUnlinkLocked() error {
	if !s.pendingDelete || s.useCount > 0 || s.unlinked {
		return nil
	}
	s.unlinked = true
	if err := s.fs.Remove(s.path); err != nil {
		return fmt.Errorf("remove segment %q: %w", s.path, err)
	}
	return nil
}

// close unconditionally closes the segment, bypassing refcounting.
// Buffer.Close does not call it; it releases its handles through
// closeIfUnused.
func (s *segment) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}

func (s *segment) nextMessageID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstID + uint64(s.length)
}

func (s *segment) messageCount() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func (s *segment) mostRecentTimestamp() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mostRecent
}

func (s *segment) byteLength() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.length
}

// record is one decoded segment record.
type record struct {
	id      uint64
	ts      int64
	key     string
	payload []byte
}

// readRecordAt reads and decodes the record whose data begins at
// localOffset bytes into the segment's data region (i.e. at file
// offset fileHeaderSize+localOffset). It returns io.EOF when
// localOffset is at or past the segment's current length.
func (s *segment) readRecordAt(localOffset int64, verifyChecksum bool) (record, int64, error) {
	s.mu.Lock()
	length := s.length
	file := s.file
	s.mu.Unlock()

	if localOffset >= length {
		return record{}, 0, io.EOF
	}

	r := io.NewSectionReader(file, fileHeaderSize, 1<<62)

	var hdr [recordHeaderLen]byte
	if _, err := r.ReadAt(hdr[:], localOffset); err != nil {
		return record{}, 0, fmt.Errorf("read record header at %d: %w", localOffset, err)
	}

	checksum := binary.LittleEndian.Uint64(hdr[0:8])
	ts := int64(binary.LittleEndian.Uint64(hdr[8:16]))
	keyLen := binary.LittleEndian.Uint32(hdr[16:20])
	payloadLen := binary.LittleEndian.Uint32(hdr[20:24])

	total := recordHeaderLen + int(keyLen) + int(payloadLen)
	buf := make([]byte, total)
	copy(buf, hdr[:])

	if _, err := r.ReadAt(buf[recordHeaderLen:], localOffset+recordHeaderLen); err != nil {
		return record{}, 0, fmt.Errorf("read record body at %d: %w", localOffset, err)
	}

	if verifyChecksum {
		if computed := xxh3.Hash(buf[checksumLen:]); computed != checksum {
			return record{}, 0, fmt.Errorf("%w: offset %d", ErrSegmentCorrupt, localOffset)
		}
	}

	key := string(buf[recordHeaderLen : recordHeaderLen+int(keyLen)])
	payload := buf[recordHeaderLen+int(keyLen):]

	rec := record{
		id:      s.firstID + uint64(localOffset),
		ts:      ts,
		key:     key,
		payload: payload,
	}

	return rec, int64(total), nil
}

// innerCursor walks records within one segment, positioned at
// localOffset bytes into the data region. It is the intra-segment
// cursor.
type innerCursor struct {
	seg      *segment
	pos      int64
	cur      record
	have     bool
	verifyCS bool
}

// cursorAt positions an inner cursor "just before" the record whose id
// is fromID. Because ids are cumulative byte offsets, this is an O(1)
// arithmetic conversion, not a search.
func (s *segment) cursorAt(fromID uint64, verifyChecksum bool) *innerCursor {
	return &innerCursor{seg: s, pos: int64(fromID - s.firstID), verifyCS: verifyChecksum}
}

// cursorAtTimestamp positions an inner cursor at the first record whose
// timestamp is >= ts, scanning forward linearly (there is no secondary
// intra-segment timestamp index). Under concurrent producers this is
// only a valid segment boundary, not a precise guarantee that it is
// the earliest record at that exact timestamp.
func (s *segment) cursorAtTimestamp(ts int64, verifyChecksum bool) (*innerCursor, error) {
	ic := &innerCursor{seg: s, pos: 0, verifyCS: verifyChecksum}

	for {
		rec, n, err := s.readRecordAt(ic.pos, verifyChecksum)
		if errors.Is(err, io.EOF) {
			return ic, nil
		}
		if err != nil {
			return nil, err
		}
		if rec.ts >= ts {
			return ic, nil
		}
		ic.pos += n
	}
}

// next advances to the next record, delegating to the segment's
// record codec.
func (ic *innerCursor) next() (bool, error) {
	rec, n, err := ic.seg.readRecordAt(ic.pos, ic.verifyCS)
	if errors.Is(err, io.EOF) {
		ic.have = false
		return false, nil
	}
	if err != nil {
		return false, err
	}

	ic.cur = rec
	ic.have = true
	ic.pos += n
	return true, nil
}

func (ic *innerCursor) id() uint64         { return ic.cur.id }
func (ic *innerCursor) timestamp() int64   { return ic.cur.ts }
func (ic *innerCursor) routingKey() string { return ic.cur.key }
func (ic *innerCursor) payload() []byte    { return ic.cur.payload }
func (ic *innerCursor) payloadSize() int   { return len(ic.cur.payload) }

// segmentTimeline is the (first_id, first_ts, count)-shaped view a
// segment exposes of itself. Buffer.Timeline does not use it; it reads
// the active segment's messageCount and mostRecentTimestamp directly.
type segmentTimeline struct {
	FirstID uint64
	FirstTS int64
	Count   uint32 // live count for an active segment, final count otherwise
}

func (s *segment) timeline() segmentTimeline {
	return segmentTimeline{FirstID: s.firstID, FirstTS: s.firstTS, Count: s.messageCount()}
}
