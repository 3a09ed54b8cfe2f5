package daemon

import (
	"errors"
	"fmt"
	"os"
)

var ErrLockHeld = errors.New("another mfhost daemon holds the lock")

// LockFile is an advisory exclusive lock held for the daemon's lifetime.
type LockFile struct {
	path string
	file *os.File
}

func NewLockFile(path string) *LockFile {
	return &LockFile{path: path}
}

func (l *LockFile) Acquire() error {
	if l.file != nil {
		return nil
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return err
	}

	l.file = f
	return nil
}

// Release unlocks and removes the lock file.
func (l *LockFile) Release() error {
	if l.file == nil {
		return nil
	}

	unlockFile(l.file)
	err := l.file.Close()
	l.file = nil

	if rmErr := os.Remove(l.path); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
		err = rmErr
	}
	return err
}

func (l *LockFile) Held() bool {
	return l.file != nil
}

func (l *LockFile) Path() string {
	return l.path
}
