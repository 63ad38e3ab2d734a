// SPDX-License-Identifier: MIT

// Package portaudio drives a PortAudio output device as a mixing engine
// sink. It uses the blocking stream API: each Write plays one block and
// blocks for up to one period.
//
// PortAudio's global state is initialized on first open and released by a
// process-wide once on the last Close; Terminate must not run more than
// once per process.
package portaudio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/kestrelaudio/kestrel-go/internal/pcm"
	"github.com/kestrelaudio/kestrel-go/internal/sink"
)

var (
	initOnce sync.Once
	initErr  error

	terminateOnce sync.Once
)

func initialize() error {
	initOnce.Do(func() {
		initErr = pa.Initialize()
	})
	return initErr
}

// terminate releases PortAudio's global state. Safe to call from every
// Close; only the first call reaches the library.
func terminate() {
	terminateOnce.Do(func() {
		_ = pa.Terminate()
	})
}

// Sink plays interleaved frames on the default PortAudio output device.
type Sink struct {
	format pcm.Format
	frames int

	mu      sync.Mutex
	stream  *pa.Stream
	buf     []pcm.Sample
	started bool
	closed  bool
}

// Option configures a Sink.
type Option func(*Sink)

// WithBlockFrames overrides the frames-per-buffer used for the device
// stream.
func WithBlockFrames(frames int) Option {
	return func(s *Sink) {
		if frames > 0 {
			s.frames = frames
		}
	}
}

// New opens the default output device at format f.
func New(f pcm.Format, opts ...Option) (*Sink, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("portaudio: invalid format %v", f)
	}
	if err := initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}

	s := &Sink{
		format: f,
		frames: sink.DefaultBlockFrames,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.buf = make([]pcm.Sample, s.frames*f.Channels)
	stream, err := pa.OpenDefaultStream(0, f.Channels, float64(f.SampleRate), s.frames, &s.buf)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open stream: %w", err)
	}
	s.stream = stream
	return s, nil
}

// Prepare starts the device stream.
func (s *Sink) Prepare() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.started {
		return nil
	}
	if err := s.stream.Start(); err != nil {
		return fmt.Errorf("portaudio: start: %w", err)
	}
	s.started = true
	return nil
}

// Write plays frames interleaved frames, blocking until the device accepts
// them. Short blocks are zero-padded to the stream buffer size. Output
// underflow is reported by PortAudio but is not an error for a mixer that
// already missed its deadline.
func (s *Sink) Write(buf []pcm.Sample, frames int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.stream == nil {
		return 0, nil
	}

	n := copy(s.buf, buf[:frames*s.format.Channels])
	for i := n; i < len(s.buf); i++ {
		s.buf[i] = 0
	}
	if err := s.stream.Write(); err != nil {
		if errors.Is(err, pa.OutputUnderflowed) {
			return frames, nil
		}
		return 0, fmt.Errorf("portaudio: write: %w", err)
	}
	return frames, nil
}

// Drain plays out buffered frames and stops the stream.
func (s *Sink) Drain() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.started {
		return nil
	}
	s.started = false
	if err := s.stream.Stop(); err != nil {
		return fmt.Errorf("portaudio: stop: %w", err)
	}
	return nil
}

// Recover aborts and restarts the stream after a write failure.
func (s *Sink) Recover(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.stream == nil {
		return err
	}
	_ = s.stream.Abort()
	s.started = false
	if serr := s.stream.Start(); serr != nil {
		return fmt.Errorf("portaudio: recover: %w", serr)
	}
	s.started = true
	return nil
}

// BlockFrames implements sink.Sink.
func (s *Sink) BlockFrames() int { return s.frames }

// Period implements sink.Sink.
func (s *Sink) Period() time.Duration {
	return time.Duration(s.frames) * time.Second / time.Duration(s.format.SampleRate)
}

// Close stops and closes the stream and releases the library's global
// state.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.started {
		_ = s.stream.Stop()
		s.started = false
	}
	err := s.stream.Close()
	s.stream = nil
	terminate()
	if err != nil {
		return fmt.Errorf("portaudio: close: %w", err)
	}
	return nil
}
