// SPDX-License-Identifier: MIT

package sink

import (
	"fmt"
	"io"
	"time"

	"github.com/kestrelaudio/kestrel-go/internal/pcm"
)

// Writer streams interleaved little-endian samples onto an io.Writer: raw
// PCM files, pipes, or test buffers. Write failures are not recoverable.
type Writer struct {
	w      io.Writer
	format pcm.Format
	frames int
	buf    []byte
}

// WriterOption configures a Writer sink.
type WriterOption func(*Writer)

// WithWriterBlockFrames overrides the preferred block size.
func WithWriterBlockFrames(frames int) WriterOption {
	return func(s *Writer) {
		if frames > 0 {
			s.frames = frames
		}
	}
}

// NewWriter creates a sink encoding samples onto w at format f.
func NewWriter(w io.Writer, f pcm.Format, opts ...WriterOption) *Writer {
	s := &Writer{
		w:      w,
		format: f,
		frames: DefaultBlockFrames,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Prepare implements Sink. No device to ready.
func (s *Writer) Prepare() error { return nil }

// Write encodes frames interleaved frames onto the underlying writer.
func (s *Writer) Write(buf []pcm.Sample, frames int) (int, error) {
	n := frames * s.format.Channels
	if need := n * pcm.SampleBytes; len(s.buf) < need {
		s.buf = make([]byte, need)
	}
	for i := 0; i < n; i++ {
		pcm.PutSample(s.buf[i*pcm.SampleBytes:], buf[i])
	}
	if _, err := s.w.Write(s.buf[:n*pcm.SampleBytes]); err != nil {
		return 0, fmt.Errorf("sink: write: %w", err)
	}
	return frames, nil
}

// Drain implements Sink. Writers have no device buffer to play out.
func (s *Writer) Drain() error { return nil }

// Recover implements Sink. A failed io.Writer stays failed.
func (s *Writer) Recover(err error) error { return err }

// BlockFrames implements Sink.
func (s *Writer) BlockFrames() int { return s.frames }

// Period implements Sink.
func (s *Writer) Period() time.Duration { return periodOf(s.format, s.frames) }

// Close closes the underlying writer when it is an io.Closer.
func (s *Writer) Close() error {
	if c, ok := s.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
