package core

import (
	"bytes"
	"testing"
)

func newTestSegment(t *testing.T, segmentLen int64) *segment {
	t.Helper()
	fs := newTestFs(t)
	_ = fs.MkdirAll("/data", 0o755)
	seg, err := openNew(fs, "/data", 0, 1000, segmentLen)
	if err != nil {
		t.Fatalf("openNew: %v", err)
	}
	t.Cleanup(func() { _ = seg.close() })
	return seg
}

func TestSegmentAppendAndReadBack(t *testing.T) {
	seg := newTestSegment(t, 4096)

	id1, fits, err := seg.append(1000, "k1", []byte("hello"))
	if err != nil || !fits {
		t.Fatalf("append 1: fits=%v err=%v", fits, err)
	}
	if id1 != 0 {
		t.Fatalf("first id = %d, want 0", id1)
	}

	id2, fits, err := seg.append(1001, "k2", []byte("world"))
	if err != nil || !fits {
		t.Fatalf("append 2: fits=%v err=%v", fits, err)
	}
	if id2 <= id1 {
		t.Fatalf("ids not increasing: %d, %d", id1, id2)
	}

	ic := seg.cursorAt(0, true)

	ok, err := ic.next()
	if err != nil || !ok {
		t.Fatalf("next 1: ok=%v err=%v", ok, err)
	}
	if ic.id() != id1 || ic.routingKey() != "k1" || !bytes.Equal(ic.payload(), []byte("hello")) {
		t.Fatalf("unexpected record 1: id=%d key=%s payload=%s", ic.id(), ic.routingKey(), ic.payload())
	}

	ok, err = ic.next()
	if err != nil || !ok {
		t.Fatalf("next 2: ok=%v err=%v", ok, err)
	}
	if ic.id() != id2 {
		t.Fatalf("unexpected id 2: %d, want %d", ic.id(), id2)
	}

	ok, err = ic.next()
	if err != nil || ok {
		t.Fatalf("expected EOF, got ok=%v err=%v", ok, err)
	}
}

func TestSegmentReportsFullWithoutWriting(t *testing.T) {
	seg := newTestSegment(t, fileHeaderSize+recordHeaderLen+4)

	_, fits, err := seg.append(1000, "", []byte("ab"))
	if err != nil || !fits {
		t.Fatalf("first append should fit: fits=%v err=%v", fits, err)
	}

	before := seg.byteLength()
	_, fits, err = seg.append(1001, "", []byte("cd"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if fits {
		t.Fatal("expected segment to report full")
	}
	if seg.byteLength() != before {
		t.Fatal("a full append must not write partial data")
	}
}

func TestSegmentUseCountDefersUnlink(t *testing.T) {
	fs := newTestFs(t)
	_ = fs.MkdirAll("/data", 0o755)
	seg, err := openNew(fs, "/data", 0, 1000, 4096)
	if err != nil {
		t.Fatalf("openNew: %v", err)
	}

	seg.use() // simulate a cursor holding a reference

	if err := seg.scheduleDelete(); err != nil {
		t.Fatalf("scheduleDelete: %v", err)
	}
	if exists, _ := afExists(fs, seg.path); !exists {
		t.Fatal("file should still exist while a reference is outstanding")
	}

	if err := seg.closeIfUnused(); err != nil { // releases the opener's own ref
		t.Fatalf("closeIfUnused: %v", err)
	}
	if exists, _ := afExists(fs, seg.path); !exists {
		t.Fatal("file should still exist: the cursor's use() ref is still outstanding")
	}

	if err := seg.closeIfUnused(); err != nil { // releases the cursor's ref
		t.Fatalf("closeIfUnused: %v", err)
	}
	if exists, _ := afExists(fs, seg.path); exists {
		t.Fatal("file should have been unlinked once all references were released")
	}
}
