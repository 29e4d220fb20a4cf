//go:build !unix

package store

import "os"

// Advisory locking is unix-only; other platforms rely on single-process use.
func lockExclusive(f *os.File) error { return nil }

func unlockFile(f *os.File) {}
