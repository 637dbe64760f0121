package core

import (
	"errors"
	"testing"
)

func TestSegmentNameRoundTrip(t *testing.T) {
	name := segmentName(0x1234, 0x5678, 42)
	if name != "0000000000001234-0000000000005678-42.qdb" {
		t.Fatalf("unexpected name: %q", name)
	}

	id, ts, count, err := parseSegmentName(name)
	if err != nil {
		t.Fatalf("parseSegmentName: %v", err)
	}
	if id != 0x1234 || ts != 0x5678 || count != 42 {
		t.Fatalf("got (%d, %d, %d)", id, ts, count)
	}
}

func TestParseSegmentNameRejectsCorrupt(t *testing.T) {
	cases := []string{
		"",
		"not-a-segment.qdb",
		"0000000000001234-0000000000005678-42.txt",
		"0000000000001234-0000000000005678.qdb",
		"00001234-0000000000005678-42.qdb",
	}

	for _, name := range cases {
		if _, _, _, err := parseSegmentName(name); !errors.Is(err, ErrCorruptName) {
			t.Errorf("parseSegmentName(%q): got %v, want ErrCorruptName", name, err)
		}
	}
}

func TestIsActiveSegmentName(t *testing.T) {
	if !isActiveSegmentName(segmentName(0, 0, 0)) {
		t.Fatal("count 0 should be active")
	}
	if isActiveSegmentName(segmentName(0, 0, 5)) {
		t.Fatal("count 5 should not be active")
	}
}
