// Package filelock provides the blocking exclusive advisory lock used
// by every append-only JSONL writer (run log, schema-failure log).
// Unlike a process-singleton lock, concurrent writers must queue for the
// file rather than fail, so this always blocks and never deletes the
// locked file on release — it *is* the log, not a sentinel.
package filelock

import (
	"os"
	"syscall"
)

// Lock blocks until it holds an exclusive lock on f.
func Lock(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_EX)
}

// Unlock releases the lock acquired by Lock. The file itself is left
// untouched.
func Unlock(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
}
