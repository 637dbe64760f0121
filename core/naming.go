package core

import (
	"fmt"
	"regexp"
	"strconv"
)

// segment file naming: HHHHHHHHHHHHHHHH-TTTTTTTTTTTTTTTT-C.qdb
// first field is the 16-hex-digit first message id, second the 16-hex-digit
// first message timestamp, C the decimal message count (0 while active).
const segmentExt = ".qdb"

var segmentNamePattern = regexp.MustCompile(`^[0-9a-f]{16}-[0-9a-f]{16}-\d+\.qdb$`)

// segmentName formats the fixed-width filename for a segment.
func segmentName(firstID uint64, firstTS int64, count uint32) string {
	return fmt.Sprintf("%016x-%016x-%d%s", firstID, uint64(firstTS), count, segmentExt)
}

// parseSegmentName parses a filename into (firstID, firstTS, count).
// Any name not matching the fixed-width pattern is a CorruptName error,
// a fatal construction error.
func parseSegmentName(name string) (firstID uint64, firstTS int64, count uint32, err error) {
	if !segmentNamePattern.MatchString(name) {
		return 0, 0, 0, fmt.Errorf("%w: %q", ErrCorruptName, name)
	}

	idHex := name[0:16]
	tsHex := name[17:33]
	rest := name[34 : len(name)-len(segmentExt)]

	id, err := strconv.ParseUint(idHex, 16, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("%w: %q: %v", ErrCorruptName, name, err)
	}

	ts, err := strconv.ParseUint(tsHex, 16, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("%w: %q: %v", ErrCorruptName, name, err)
	}

	c, err := strconv.ParseUint(rest, 10, 32)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("%w: %q: %v", ErrCorruptName, name, err)
	}

	return id, int64(ts), uint32(c), nil
}

// isActiveSegmentName reports whether name encodes count == 0, i.e. the
// active (currently-appended) segment. scan uses it to reject a
// directory where an active-looking name isn't the last entry — a
// sign of either corruption or a second, abandoned active segment.
func isActiveSegmentName(name string) bool {
	_, _, count, err := parseSegmentName(name)
	return err == nil && count == 0
}
