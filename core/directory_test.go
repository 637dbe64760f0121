package core

import (
	"errors"
	"testing"
)

func buildDirectory(bounds []uint64) *directory {
	d := newDirectory()
	for i, b := range bounds {
		d.appendSegment(b, int64(i))
	}
	return d
}

func TestDirectoryFindByID(t *testing.T) {
	d := buildDirectory([]uint64{0, 100, 250, 400})

	cases := []struct {
		id   uint64
		want int
	}{
		{0, 0},
		{50, 0},
		{100, 1},
		{249, 1},
		{250, 2},
		{999, 3},
	}

	for _, c := range cases {
		if got := d.findByID(c.id); got != c.want {
			t.Errorf("findByID(%d) = %d, want %d", c.id, got, c.want)
		}
	}
}

func TestDirectoryFindByIDBelowWindowClampsToHead(t *testing.T) {
	d := buildDirectory([]uint64{0, 100, 250})
	d.dropHead()

	if got := d.findByID(10); got != d.head {
		t.Fatalf("findByID below window = %d, want head %d", got, d.head)
	}
}

func TestDirectoryFindByTS(t *testing.T) {
	d := newDirectory()
	d.appendSegment(0, 1000)
	d.appendSegment(500, 2000)
	d.appendSegment(900, 3000)

	if got := d.findByTS(1500); got != 0 {
		t.Fatalf("findByTS(1500) = %d, want 0", got)
	}
	if got := d.findByTS(2000); got != 1 {
		t.Fatalf("findByTS(2000) = %d, want 1", got)
	}
	if got := d.findByTS(0); got != 0 {
		t.Fatalf("findByTS(0) = %d, want 0 (clamp)", got)
	}
}

func TestDirectoryGrowPreservesWindow(t *testing.T) {
	d := newDirectory()
	for i := 0; i < 600; i++ {
		d.appendSegment(uint64(i*10), int64(i))
	}
	if d.len() != 600 {
		t.Fatalf("len = %d, want 600", d.len())
	}
	if got := d.findByID(595 * 10); got != 595 {
		t.Fatalf("findByID after grow = %d, want 595", got)
	}
}

func TestDirectoryDropHeadDoesNotResize(t *testing.T) {
	d := buildDirectory([]uint64{0, 100, 250})
	capBefore := len(d.firstID)

	d.dropHead()

	if len(d.firstID) != capBefore {
		t.Fatalf("dropHead resized backing array: %d -> %d", capBefore, len(d.firstID))
	}
	if d.len() != 2 {
		t.Fatalf("len = %d, want 2", d.len())
	}
}

func TestDirectoryActiveIndex(t *testing.T) {
	d := newDirectory()
	if d.activeIndex() != -1 {
		t.Fatal("empty directory should report -1")
	}
	d.appendSegment(0, 0)
	d.appendSegment(10, 1)
	if got := d.activeIndex(); got != 1 {
		t.Fatalf("activeIndex = %d, want 1", got)
	}
}

func TestScanSeparatesOrphansFromSegments(t *testing.T) {
	fs := newTestFs(t)
	dir := "/data"
	_ = fs.MkdirAll(dir, 0o755)

	writeFile(t, fs, dir+"/"+segmentName(0, 0, 5), "data")
	writeFile(t, fs, dir+"/"+segmentName(5, 1, 3), "data")
	writeFile(t, fs, dir+"/stray.tmp", "leftover")

	results, err := scan(fs, dir)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].firstID != 0 || results[1].firstID != 5 {
		t.Fatalf("unexpected order: %+v", results)
	}
}

func TestScanRejectsCorruptSegmentName(t *testing.T) {
	fs := newTestFs(t)
	dir := "/data"
	_ = fs.MkdirAll(dir, 0o755)
	writeFile(t, fs, dir+"/garbage-name.qdb", "data")

	if _, err := scan(fs, dir); err == nil {
		t.Fatal("expected error for corrupt segment name")
	}
}

func TestScanRejectsActiveSegmentNameBeforeLastEntry(t *testing.T) {
	fs := newTestFs(t)
	dir := "/data"
	_ = fs.MkdirAll(dir, 0o755)

	writeFile(t, fs, dir+"/"+segmentName(0, 0, 0), "data")
	writeFile(t, fs, dir+"/"+segmentName(5, 1, 3), "data")

	if _, err := scan(fs, dir); !errors.Is(err, ErrCorruptName) {
		t.Fatalf("scan() err = %v, want ErrCorruptName", err)
	}
}
