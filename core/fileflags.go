package core

import "os"

// Small named wrappers around the stdlib os.O_* flag combinations used
// when opening segment files through afero.Fs, kept in one place so
// segment.go reads as intent rather than bitmasks.

func osCreateRW() int {
	return os.O_RDWR | os.O_CREATE | os.O_TRUNC
}

func osReadOnly() int {
	return os.O_RDONLY
}

func osAppendRW() int {
	return os.O_RDWR | os.O_APPEND
}
