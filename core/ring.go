package core

// ring.go implements the size-capped cleanup policy: once the buffer's
// total on-disk footprint exceeds max_size, the oldest segments are
// dropped from the front of the directory window until it fits again,
// always leaving the active segment in place. Grounded on
// donghaima-gafka's hh/disk/queue.go head-segment reclamation and
// oxia's wal/log.go segment cycling, adapted to this buffer's
// id-as-byte-offset accounting so no file needs to be opened or
// scanned to compute its size.

// segmentFootprint is a segment's contribution to total on-disk usage:
// its reserved file header plus however many record bytes it holds.
func segmentFootprint(dataLen int64) int64 {
	return fileHeaderSize + dataLen
}

// segmentDataLen returns segment idx's data-region length in bytes.
// For any non-active segment this is simply the gap to the next
// segment's first_id; for the active (last) segment the caller must
// supply its live next_message_id, since the directory doesn't track it.
func segmentDataLen(d *directory, idx int, activeNextID uint64) int64 {
	if idx == d.tail-1 {
		return int64(activeNextID - d.firstID[idx])
	}
	return int64(d.firstID[idx+1] - d.firstID[idx])
}

// totalSize sums every live segment's footprint.
func totalSize(d *directory, activeNextID uint64) int64 {
	var total int64
	for i := d.head; i < d.tail; i++ {
		total += segmentFootprint(segmentDataLen(d, i, activeNextID))
	}
	return total
}

// droppedSegment describes one segment evicted from the directory
// window by reclaim.
type droppedSegment struct {
	name string
}

// reclaim drops segments from the head of the window while the
// buffer's total size exceeds maxSize, always retaining at least the
// active segment. It mutates d in place and returns the segments that
// were dropped, in oldest-first order, so the caller can release any
// open handle and schedule the on-disk file for deletion.
func reclaim(d *directory, maxSize int64, activeNextID uint64) []droppedSegment {
	var dropped []droppedSegment

	for d.len() > 1 && totalSize(d, activeNextID) > maxSize {
		idx := d.head
		name := segmentName(d.firstID[idx], d.firstTS[idx], d.count[idx])
		dropped = append(dropped, droppedSegment{name: name})
		d.dropHead()
	}

	return dropped
}
