/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrLocked is returned when another run holds the ledger.
var ErrLocked = errors.New("ledger is locked by another run")

// Locker serializes ledger read-modify-write cycles between processes.
type Locker interface {
	Acquire(ctx context.Context) error
	Release(ctx context.Context) error
}

// NopLocker never blocks. Use only when a single process owns the ledger.
type NopLocker struct{}

func (NopLocker) Acquire(context.Context) error { return nil }
func (NopLocker) Release(context.Context) error { return nil }

// DefaultStaleAfter is how old a lock file must be before it is taken over.
const DefaultStaleAfter = 2 * time.Hour

// FileLock is an exclusive lock file next to the ledger.
type FileLock struct {
	path       string
	staleAfter time.Duration

	mu   sync.Mutex
	held bool
}

// NewFileLock returns a lock at path. A lock file older than staleAfter is
// assumed abandoned by a crashed run and removed.
func NewFileLock(path string, staleAfter time.Duration) *FileLock {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &FileLock{path: path, staleAfter: staleAfter}
}

// Acquire creates the lock file or returns ErrLocked.
func (l *FileLock) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held {
		return ErrLocked
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d %s\n", os.Getpid(), time.Now().Format(time.RFC3339))
			f.Close()
			l.held = true
			return nil
		}
		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("create lock file: %w", err)
		}

		info, statErr := os.Stat(l.path)
		if statErr != nil || time.Since(info.ModTime()) < l.staleAfter {
			return ErrLocked
		}
		if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove stale lock: %w", err)
		}
	}
	return ErrLocked
}

// Release removes the lock file if this lock holds it.
func (l *FileLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		return nil
	}
	l.held = false
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}
