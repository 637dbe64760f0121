package core

import "time"

// Timeline is the N+1-entry parallel view of the ring: the first N
// entries are the sealed segments' (first_id, first_ts, count), and
// the final entry folds in the active segment's (next_id,
// most_recent_ts, live_count) rather than appending a separate empty
// sentinel after it. It lets a caller reason about size and
// per-segment time ranges without opening any segment file, the same
// "index without scanning" property the directory itself relies on.
type Timeline struct {
	Entries []TimelineEntry
}

// TimelineEntry describes one sealed segment's starting position and
// final count, or (for the trailing, N+1th entry) the active
// segment's next_id, most_recent_ts and live count.
type TimelineEntry struct {
	FirstID        uint64
	FirstTimestamp int64
	MessageCount   uint32
}

// buildTimeline assembles the Timeline view from the directory's
// sealed segments plus the active segment's live state. d's last live
// entry is always the active segment itself (sealed on every rollover
// and orderly close), so it is excluded from the sealed loop and
// folded into the trailing entry instead.
func buildTimeline(d *directory, activeNextID uint64, activeMostRecentTS int64, activeCount uint32) Timeline {
	sealedEnd := d.tail - 1
	entries := make([]TimelineEntry, 0, d.len()+1)

	for i := d.head; i < sealedEnd; i++ {
		entries = append(entries, TimelineEntry{
			FirstID:        d.firstID[i],
			FirstTimestamp: d.firstTS[i],
			MessageCount:   d.count[i],
		})
	}

	entries = append(entries, TimelineEntry{
		FirstID:        activeNextID,
		FirstTimestamp: activeMostRecentTS,
		MessageCount:   activeCount,
	})

	return Timeline{Entries: entries}
}

// Time converts a segment's first timestamp to a time.Time, since
// FirstTimestamp is stored as millis-since-epoch.
func (e TimelineEntry) Time() time.Time {
	return time.UnixMilli(e.FirstTimestamp)
}

// ByteLength returns the byte span of the i'th segment: the gap
// between its FirstID and the next entry's FirstID, since ids are
// cumulative byte offsets. i must be less than the final (sentinel)
// entry's index. The active segment's own first id is not in the view,
// so for the last sealed entry the span runs to the active segment's
// next_id and covers that sealed segment plus the active one.
func (t Timeline) ByteLength(i int) int64 {
	return int64(t.Entries[i+1].FirstID - t.Entries[i].FirstID)
}
