package core

import (
	"time"

	"github.com/spf13/afero"
)

// Default tunables, used whenever the corresponding Option isn't
// supplied.
const (
	defaultSegmentCount     = 1000
	defaultMaxSize          = 100_000_000_000 // 10^11 bytes
	defaultAutoSyncInterval = time.Second
	defaultSegmentCacheSize = 8
)

// Executor runs fn, the sink for work (currently just reclaimed-segment
// cleanup) that doesn't need to complete before the call that
// triggered it returns. The default runs fn inline, matching the
// config surface's "no executor configured" default; GoExecutor opts
// into running it on its own goroutine instead, the same injection
// seam tspannhw-oxia's notifications.go uses for its notify loop.
type Executor func(fn func())

func syncExecutor(fn func()) { fn() }

// GoExecutor runs fn on a new goroutine, the same
// non-blocking-enqueue-then-goroutine shape as core/merge.go's
// tryMerge.
func GoExecutor(fn func()) { go fn() }

// Timer schedules fn to run after d elapses, returning a cancel
// function. The default implementation is time.AfterFunc; WithTimer
// replaces it.
type Timer func(d time.Duration, fn func()) (cancel func())

func stdTimer(d time.Duration, fn func()) (cancel func()) {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

// Config holds the buffer's tunables. Derived fields (SegmentLength,
// MaxPayloadSize) are computed by resolve() when left at zero, the
// implicit segment-length / implicit max-payload rules.
type Config struct {
	// MaxSize is the ring's total on-disk size cap across all segments,
	// including each segment's fileHeaderSize overhead.
	MaxSize int64

	// SegmentCount, if SegmentLength is unset, is used to derive it:
	// SegmentLength = MaxSize / SegmentCount.
	SegmentCount int

	// SegmentLength is the fixed size of each segment file, including
	// fileHeaderSize. Zero means "derive from SegmentCount".
	SegmentLength int64

	// MaxPayloadSize bounds a single message's payload. Zero means
	// "derive from SegmentLength", sized so at least one message can
	// always fit in an empty segment.
	MaxPayloadSize int

	// AutoSyncInterval schedules a checkpoint(force=false) this often
	// after the first unsynced append; zero disables auto-sync and
	// leaves fsync to explicit Buffer.Sync calls.
	AutoSyncInterval time.Duration

	Executor Executor
	Timer    Timer

	// Filesystem backs all directory and segment I/O. Defaults to
	// afero.NewOsFs(); tests substitute afero.NewMemMapFs() for
	// deterministic, disk-free runs (grounded on tspannhw-oxia's
	// server/wal/log.go, which takes the same seam).
	Filesystem afero.Fs

	// SegmentCacheSize bounds how many sealed-segment read handles the
	// buffer keeps open at once, evicting the least recently used one
	// (grounded on oxia's wal/log.go scache, a tidwall/tinylru.LRU).
	SegmentCacheSize int
}

// Option mutates a Config, following the functional-options pattern
// grounded on core/db.go's WithRolloverThreshold/WithFsync.
type Option func(*Config)

func WithMaxSize(n int64) Option {
	return func(c *Config) { c.MaxSize = n }
}

func WithSegmentCount(n int) Option {
	return func(c *Config) { c.SegmentCount = n }
}

func WithSegmentLength(n int64) Option {
	return func(c *Config) { c.SegmentLength = n }
}

func WithMaxPayloadSize(n int) Option {
	return func(c *Config) { c.MaxPayloadSize = n }
}

func WithAutoSyncInterval(d time.Duration) Option {
	return func(c *Config) { c.AutoSyncInterval = d }
}

func WithExecutor(e Executor) Option {
	return func(c *Config) { c.Executor = e }
}

func WithTimer(t Timer) Option {
	return func(c *Config) { c.Timer = t }
}

func WithFilesystem(fs afero.Fs) Option {
	return func(c *Config) { c.Filesystem = fs }
}

func WithSegmentCacheSize(n int) Option {
	return func(c *Config) { c.SegmentCacheSize = n }
}

// resolve applies defaults and derivation rules, and validates the
// result.
func resolve(opts []Option) (Config, error) {
	c := Config{
		MaxSize:          defaultMaxSize,
		SegmentCount:     defaultSegmentCount,
		AutoSyncInterval: defaultAutoSyncInterval,
		Executor:         syncExecutor,
		Timer:            stdTimer,
		Filesystem:       afero.NewOsFs(),
		SegmentCacheSize: defaultSegmentCacheSize,
	}

	for _, opt := range opts {
		opt(&c)
	}

	if c.MaxSize <= 0 {
		return Config{}, fmtInvalid("max_size must be positive")
	}
	if c.SegmentCount <= 0 {
		return Config{}, fmtInvalid("segment_count must be positive")
	}

	if c.SegmentLength == 0 {
		c.SegmentLength = c.MaxSize / int64(c.SegmentCount)
	}
	if c.SegmentLength <= fileHeaderSize {
		return Config{}, fmtInvalid("segment_length must exceed the segment file header size")
	}

	if c.MaxPayloadSize == 0 {
		c.MaxPayloadSize = int(c.SegmentLength-fileHeaderSize) - recordHeaderLen
	}
	if c.MaxPayloadSize <= 0 {
		return Config{}, fmtInvalid("max_payload_size must be positive")
	}
	if fileHeaderSize+int64(c.MaxPayloadSize+recordHeaderLen) > c.SegmentLength {
		return Config{}, fmtInvalid("max_payload_size too large for segment_length")
	}

	if c.Executor == nil {
		c.Executor = syncExecutor
	}
	if c.Timer == nil {
		c.Timer = stdTimer
	}
	if c.Filesystem == nil {
		c.Filesystem = afero.NewOsFs()
	}
	if c.SegmentCacheSize <= 0 {
		c.SegmentCacheSize = defaultSegmentCacheSize
	}

	return c, nil
}

func fmtInvalid(msg string) error {
	return &invalidArgError{msg: msg}
}

type invalidArgError struct{ msg string }

func (e *invalidArgError) Error() string { return "qdb: " + e.msg }
func (e *invalidArgError) Unwrap() error { return ErrInvalidArgument }
