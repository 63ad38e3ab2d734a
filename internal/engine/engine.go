// SPDX-License-Identifier: MIT

// Package engine implements the multi-stream mixing core: N producer
// pipelines (source callback, conversion filter, bounded sample cache)
// drained by a single mixer goroutine that volume-scales, sums with
// saturation and drives a blocking playback sink at a fixed output format.
//
// The engine mutex serializes all transport operations and the mixer's
// stream enumeration. Lock ordering is engine mutex, then cache input gate,
// then cache state mutex; see the cache package for the gate semantics.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kestrelaudio/kestrel-go/internal/pcm"
	"github.com/kestrelaudio/kestrel-go/internal/sink"
	"github.com/kestrelaudio/kestrel-go/internal/util"
)

// DefaultMaxSilence is how long the mixer keeps the sink running on pure
// silence before draining it and going idle.
const DefaultMaxSilence = 5 * time.Second

// DefaultCacheFrames is the per-stream cache capacity when a stream does
// not request one.
const DefaultCacheFrames = 16384

var (
	// ErrClosed is returned by operations on a closed engine.
	ErrClosed = errors.New("engine: closed")
	// ErrSink wraps a sink failure that terminated the mixer.
	ErrSink = errors.New("engine: sink failure")
	// ErrConfig is returned by Open and AddStream for invalid arguments.
	ErrConfig = errors.New("engine: invalid configuration")
)

// Option configures an Engine at Open time.
type Option func(*Engine)

// WithLogger attaches a structured logger. A nil engine logger is silent.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.log = logger }
}

// WithMaxSilence overrides the idle-drain threshold.
func WithMaxSilence(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.maxSilence = d
		}
	}
}

// Engine owns the stream list, the master volume and the mixer goroutine.
type Engine struct {
	out        pcm.Format
	snk        sink.Sink
	log        *slog.Logger
	maxSilence time.Duration

	mu        sync.Mutex
	streams   []*Stream
	masterVol int
	closed    bool
	runErr    error

	stop atomic.Bool
	done chan struct{}
}

// Open creates an engine over snk at output format out and starts the
// mixer goroutine. The output format is fixed for the engine's lifetime.
func Open(snk sink.Sink, out pcm.Format, opts ...Option) (*Engine, error) {
	if snk == nil {
		return nil, fmt.Errorf("%w: nil sink", ErrConfig)
	}
	if !out.Valid() {
		return nil, fmt.Errorf("%w: output format %v", ErrConfig, out)
	}

	e := &Engine{
		out:        out,
		snk:        snk,
		maxSilence: DefaultMaxSilence,
		masterVol:  pcm.VolumeMax,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	util.SafeGo("mixer", e.log, e.run, func(v interface{}, _ []byte) {
		e.setRunErr(fmt.Errorf("engine: mixer panic: %v", v))
	})
	return e, nil
}

// Close stops the mixer, tears down every stream pipeline and closes the
// sink. Safe to call more than once.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.stop.Store(true)
	<-e.done

	e.mu.Lock()
	for _, s := range e.streams {
		s.teardownLocked()
	}
	e.streams = nil
	runErr := e.runErr
	e.mu.Unlock()

	if err := e.snk.Close(); err != nil {
		return err
	}
	return runErr
}

// Done is closed when the mixer goroutine exits, normally or after an
// unrecoverable sink failure.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Err returns the error that terminated the mixer, if any. Valid after
// Done is closed.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runErr
}

// Format returns the fixed output format.
func (e *Engine) Format() pcm.Format { return e.out }

// SetVolume sets the master volume, clamped to 0..pcm.VolumeMax.
func (e *Engine) SetVolume(v int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.masterVol = pcm.ClampVolume(v)
}

// Volume returns the master volume.
func (e *Engine) Volume() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.masterVol
}

// Streams returns a snapshot of the current stream list.
func (e *Engine) Streams() []*Stream {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Stream, len(e.streams))
	copy(out, e.streams)
	return out
}

func (e *Engine) setRunErr(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runErr == nil {
		e.runErr = err
	}
}

// removeLocked drops s from the stream list.
func (e *Engine) removeLocked(s *Stream) {
	for i, cur := range e.streams {
		if cur == s {
			e.streams = append(e.streams[:i], e.streams[i+1:]...)
			return
		}
	}
}

func (e *Engine) logEvent(msg string, args ...interface{}) {
	if e.log != nil {
		e.log.Info(msg, args...)
	}
}

func (e *Engine) logDebug(msg string, args ...interface{}) {
	if e.log != nil {
		e.log.Debug(msg, args...)
	}
}

func (e *Engine) logError(msg string, args ...interface{}) {
	if e.log != nil {
		e.log.Error(msg, args...)
	}
}
