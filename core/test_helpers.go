package core

import (
	"testing"

	"github.com/spf13/afero"
)

// setupTempBuffer opens a Buffer over an in-memory filesystem, the
// deterministic analogue of core/test_helpers.go's SetupTempDB (which
// uses a real os.MkdirTemp directory); tests that need to assert on
// real file permissions or afero.NewOsFs behavior opt back in
// explicitly via WithFilesystem.
func setupTempBuffer(tb testing.TB, opts ...Option) *Buffer {
	tb.Helper()

	fs := afero.NewMemMapFs()
	allOpts := append([]Option{WithFilesystem(fs)}, opts...)

	buf, err := Open("/data", allOpts...)
	if err != nil {
		tb.Fatalf("Open failed: %v", err)
	}

	tb.Cleanup(func() { _ = buf.Close() })
	return buf
}

func newTestFs(tb testing.TB) afero.Fs {
	tb.Helper()
	return afero.NewMemMapFs()
}

func writeFile(tb testing.TB, fs afero.Fs, path, contents string) {
	tb.Helper()
	if err := afero.WriteFile(fs, path, []byte(contents), 0o644); err != nil {
		tb.Fatalf("WriteFile(%q): %v", path, err)
	}
}

func afExists(fs afero.Fs, path string) (bool, error) {
	return afero.Exists(fs, path)
}
