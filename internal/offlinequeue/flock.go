package offlinequeue

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

const lockFileName = "queue.lock"

// fileLock serializes queue file access between the daemon and CLI
// processes using flock(2).
type fileLock struct {
	path string
	file *os.File
}

func newFileLock(dir string) *fileLock {
	return &fileLock{path: filepath.Join(dir, lockFileName)}
}

// lock blocks until the exclusive lock is held.
func (fl *fileLock) lock() error {
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		_ = f.Close()
		return fmt.Errorf("flock: %w", err)
	}
	fl.file = f
	return nil
}

func (fl *fileLock) unlock() error {
	if fl.file == nil {
		return nil
	}
	defer func() { fl.file = nil }()
	if err := syscall.Flock(int(fl.file.Fd()), syscall.LOCK_UN); err != nil {
		_ = fl.file.Close()
		return fmt.Errorf("funlock: %w", err)
	}
	return fl.file.Close()
}
