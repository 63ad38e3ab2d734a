// SPDX-License-Identifier: MIT

//go:build linux

// Package lock provides the daemon's single-instance file lock. Two
// daemons driving the same audio device fight over it; the lock makes the
// second one fail fast with a clear error instead.
package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	// DefaultStaleThreshold is the lock file age beyond which a lock
	// whose owner is gone is considered stale and removed.
	DefaultStaleThreshold = 5 * time.Minute

	// acquirePollInterval is how often a blocked acquire retries.
	acquirePollInterval = 100 * time.Millisecond
)

// InstanceLock is an exclusive flock(2)-based lock stamped with the owner
// PID.
type InstanceLock struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// New creates an instance lock at path, creating the parent directory if
// needed. The lock is not taken until Acquire.
func New(path string) (*InstanceLock, error) {
	if path == "" {
		return nil, fmt.Errorf("lock path cannot be empty")
	}
	// #nosec G301 - lock directory is shared state
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	return &InstanceLock{path: path}, nil
}

// Acquire takes the lock, retrying until ctx is done. A stale lock file
// (owner dead, or older than DefaultStaleThreshold with an unreadable
// owner) is removed and retried.
func (l *InstanceLock) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return fmt.Errorf("lock already held")
	}

	for {
		ok, err := l.tryAcquire()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		if stale, err := isStale(l.path, DefaultStaleThreshold); err == nil && stale {
			_ = os.Remove(l.path)
			continue
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("lock %s: %w", l.path, ctx.Err())
		case <-time.After(acquirePollInterval):
		}
	}
}

// tryAcquire makes one non-blocking flock attempt and stamps the PID on
// success.
func (l *InstanceLock) tryAcquire() (bool, error) {
	// #nosec G304 - lock path comes from configuration
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0640)
	if err != nil {
		return false, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if err == syscall.EWOULDBLOCK {
			return false, nil
		}
		return false, fmt.Errorf("flock failed: %w", err)
	}

	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
		_ = f.Sync()
	}
	l.file = f
	return true, nil
}

// Release drops the lock and removes the lock file. Safe to call when the
// lock is not held.
func (l *InstanceLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	_ = l.file.Close()
	l.file = nil
	_ = os.Remove(l.path)
	if err != nil {
		return fmt.Errorf("failed to unlock: %w", err)
	}
	return nil
}

// OwnerPID reads the PID stamped in the lock file, or 0 when it cannot be
// determined.
func OwnerPID(path string) int {
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

// isStale reports whether the lock at path is abandoned: its recorded
// owner no longer exists, or the owner is unreadable and the file is older
// than threshold.
func isStale(path string, threshold time.Duration) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}

	if pid := OwnerPID(path); pid > 0 {
		// Signal 0 probes process existence without touching it.
		if err := syscall.Kill(pid, 0); err == syscall.ESRCH {
			return true, nil
		}
		return false, nil
	}
	return time.Since(info.ModTime()) > threshold, nil
}
