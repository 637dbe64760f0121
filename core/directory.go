package core

import (
	"fmt"
	"log"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/spf13/afero"
)

// directory is the in-memory segment index: three parallel growable
// sequences (first_id, first_ts, count) over a head/tail window,
// amortizing removal from the front the way a ring buffer would.
// Binary search is grounded on oxia's findSegment
// (tspannhw-oxia/server/wal/log.go) and netlog's indexOfSegment/
// indexOfSegmentTS (other_examples/c74096da_ninibe-netlog), both of
// which return the predecessor index via a sort.Search variant.
type directory struct {
	firstID []uint64
	firstTS []int64
	count   []uint32

	head, tail int // live window [head, tail)
}

func newDirectory() *directory {
	return &directory{}
}

// len reports the number of live segments in the window.
func (d *directory) len() int { return d.tail - d.head }

// scanResult is one parsed *.qdb directory entry, in lexicographic
// (and therefore first_id) order.
type scanResult struct {
	name    string
	firstID uint64
	firstTS int64
	count   uint32
}

// scan lists dir for *.qdb files, sorts lexicographically (which,
// thanks to the fixed-width hex naming, reconstructs first_id order),
// parses each name and returns the parsed entries; load populates the
// directory's arrays from them.
// Non-.qdb entries are not part of the segment naming contract; they
// are logged as orphaned leftovers (e.g. a crashed atomic-rename temp
// file) rather than rejected, the same way core/db.go's
// checkOrphanedSegments warns instead of failing.
func scan(fs afero.Fs, dir string) ([]scanResult, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %q: %w", dir, err)
	}

	var results []scanResult
	orphans := mapset.NewSet[string]()

	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		name := e.Name()
		if !strings.HasSuffix(name, segmentExt) {
			orphans.Add(name)
			continue
		}

		id, ts, count, err := parseSegmentName(name)
		if err != nil {
			return nil, err
		}

		results = append(results, scanResult{name: name, firstID: id, firstTS: ts, count: count})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].name < results[j].name })

	for i, r := range results {
		if i != len(results)-1 && isActiveSegmentName(r.name) {
			return nil, fmt.Errorf("%w: %q: active-looking segment is not the last entry", ErrCorruptName, r.name)
		}
	}

	if orphans.Cardinality() != 0 {
		log.Printf("qdb: warning: orphaned files in %q: %v", dir, orphans.ToSlice())
	}

	return results, nil
}

// load populates the directory arrays from scan results. Sealed
// segments carry their final count; an active segment (count == 0,
// which can only be the last entry) is represented with count == 0
// until the appender seals it.
func (d *directory) load(results []scanResult) {
	d.firstID = make([]uint64, len(results))
	d.firstTS = make([]int64, len(results))
	d.count = make([]uint32, len(results))

	for i, r := range results {
		d.firstID[i] = r.firstID
		d.firstTS[i] = r.firstTS
		d.count[i] = r.count
	}

	d.head = 0
	d.tail = len(results)
}

// findByID performs a binary search over first_id in [head, tail),
// returning the index of the segment whose range covers id (the
// predecessor segment on a miss). Ids below the window are clamped to
// head.
func (d *directory) findByID(id uint64) int {
	if d.len() == 0 {
		return -1
	}

	if id < d.firstID[d.head] {
		return d.head
	}

	lo, hi := d.head, d.tail
	for lo < hi {
		mid := lo + (hi-lo)/2
		if d.firstID[mid] <= id {
			lo = mid + 1
		} else {
			hi = mid
		}
	}

	return lo - 1
}

// findByTS is findByID's timestamp-keyed twin, used to position a
// cursor by timestamp.
func (d *directory) findByTS(ts int64) int {
	if d.len() == 0 {
		return -1
	}

	if ts < d.firstTS[d.head] {
		return d.head
	}

	lo, hi := d.head, d.tail
	for lo < hi {
		mid := lo + (hi-lo)/2
		if d.firstTS[mid] <= ts {
			lo = mid + 1
		} else {
			hi = mid
		}
	}

	return lo - 1
}

// appendSegment grows the arrays (+512 headroom, compacting the
// window to offset 0) if they're full, then appends a new active
// segment entry with count 0.
func (d *directory) appendSegment(firstID uint64, firstTS int64) {
	if d.tail == len(d.firstID) {
		d.grow()
	}

	d.firstID[d.tail] = firstID
	d.firstTS[d.tail] = firstTS
	d.count[d.tail] = 0
	d.tail++
}

// grow reallocates the backing arrays with +512 headroom, compacting
// the live window down to offset 0.
func (d *directory) grow() {
	n := d.len()
	newCap := n + 512

	firstID := make([]uint64, newCap)
	firstTS := make([]int64, newCap)
	count := make([]uint32, newCap)

	copy(firstID, d.firstID[d.head:d.tail])
	copy(firstTS, d.firstTS[d.head:d.tail])
	copy(count, d.count[d.head:d.tail])

	d.firstID = firstID
	d.firstTS = firstTS
	d.count = count
	d.head = 0
	d.tail = n
}

// sealLast records the final message count for the current last
// (active) segment, called by the appender at rollover.
func (d *directory) sealLast(count uint32) {
	d.count[d.tail-1] = count
}

// dropHead advances head by one; it does not resize or compact the
// backing arrays.
func (d *directory) dropHead() {
	if d.head < d.tail {
		d.head++
	}
}

// activeIndex returns the index of the active segment (the last one
// in the window) or -1 if the directory is empty.
func (d *directory) activeIndex() int {
	if d.len() == 0 {
		return -1
	}
	return d.tail - 1
}
