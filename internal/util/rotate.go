// SPDX-License-Identifier: MIT

package util

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	// DefaultMaxLogSize is the maximum log file size before rotation.
	DefaultMaxLogSize = 10 * 1024 * 1024 // 10 MB

	// DefaultMaxLogFiles is the number of rotated files kept.
	DefaultMaxLogFiles = 5
)

// RotatingWriter is an io.WriteCloser rotating its file when it exceeds a
// size limit, keeping a bounded number of older files as path.1, path.2,
// and so on. Writes are thread-safe; the daemon points slog at it for
// long unattended runs.
type RotatingWriter struct {
	path     string
	maxSize  int64
	maxFiles int

	mu   sync.Mutex
	file *os.File
	size int64
}

// RotateOption configures a RotatingWriter.
type RotateOption func(*RotatingWriter)

// WithMaxSize sets the rotation size threshold.
func WithMaxSize(size int64) RotateOption {
	return func(w *RotatingWriter) {
		if size > 0 {
			w.maxSize = size
		}
	}
}

// WithMaxFiles sets how many rotated files to keep.
func WithMaxFiles(count int) RotateOption {
	return func(w *RotatingWriter) {
		if count > 0 {
			w.maxFiles = count
		}
	}
}

// NewRotatingWriter creates a rotating writer at path, creating the parent
// directory if needed.
func NewRotatingWriter(path string, opts ...RotateOption) (*RotatingWriter, error) {
	w := &RotatingWriter{
		path:     path,
		maxSize:  DefaultMaxLogSize,
		maxFiles: DefaultMaxLogFiles,
	}
	for _, opt := range opts {
		opt(w)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil { // #nosec G301
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	if err := w.openFile(); err != nil {
		return nil, err
	}
	return w, nil
}

// Write implements io.Writer, rotating first when the write would push the
// file past the size limit.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size+int64(len(p)) > w.maxSize && w.size > 0 {
		if err := w.rotateLocked(); err != nil {
			return 0, err
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Close closes the current file.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// Size returns the current file size.
func (w *RotatingWriter) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// rotateLocked shifts path.N to path.N+1 (dropping the oldest), moves the
// live file to path.1 and reopens a fresh one.
func (w *RotatingWriter) rotateLocked() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close log for rotation: %w", err)
	}
	w.file = nil

	_ = os.Remove(w.rotatedPath(w.maxFiles))
	for n := w.maxFiles - 1; n >= 1; n-- {
		_ = os.Rename(w.rotatedPath(n), w.rotatedPath(n+1))
	}
	if err := os.Rename(w.path, w.rotatedPath(1)); err != nil {
		return fmt.Errorf("failed to rotate log: %w", err)
	}

	return w.openFile()
}

func (w *RotatingWriter) rotatedPath(n int) string {
	return fmt.Sprintf("%s.%d", w.path, n)
}

func (w *RotatingWriter) openFile() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640) // #nosec G302 G304
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	w.file = f
	w.size = info.Size()
	return nil
}
