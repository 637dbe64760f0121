package core

import "testing"

func TestTotalSizeSumsFootprints(t *testing.T) {
	d := newDirectory()
	d.appendSegment(0, 0)    // sealed, 100 bytes (gap to next firstID)
	d.sealLast(1)
	d.appendSegment(100, 1) // active, 30 bytes written so far (activeNextID=130)

	got := totalSize(d, 130)
	want := segmentFootprint(100) + segmentFootprint(30)
	if got != want {
		t.Fatalf("totalSize = %d, want %d", got, want)
	}
}

func TestReclaimRetainsActiveSegment(t *testing.T) {
	d := newDirectory()
	d.appendSegment(0, 0)

	dropped := reclaim(d, 10, 1000)
	if len(dropped) != 0 {
		t.Fatalf("reclaim dropped the only (active) segment: %+v", dropped)
	}
}

func TestReclaimDropsOldestUntilWithinBudget(t *testing.T) {
	d := newDirectory()
	d.appendSegment(0, 0)
	d.appendSegment(1000, 1)
	d.appendSegment(2000, 2)

	// Footprint per non-active segment is fileHeaderSize+1000; active is
	// fileHeaderSize+500 (activeNextID=2500).
	maxSize := segmentFootprint(1000) + segmentFootprint(500)

	dropped := reclaim(d, maxSize, 2500)
	if len(dropped) != 1 {
		t.Fatalf("got %d dropped, want 1: %+v", len(dropped), dropped)
	}
	if d.len() != 2 {
		t.Fatalf("directory len = %d, want 2", d.len())
	}
	if d.firstID[d.head] != 1000 {
		t.Fatalf("head firstID = %d, want 1000", d.firstID[d.head])
	}
}
