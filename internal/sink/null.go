// SPDX-License-Identifier: MIT

package sink

import (
	"time"

	"github.com/kestrelaudio/kestrel-go/internal/pcm"
)

// Null discards all frames. With pacing enabled it sleeps one block
// duration per write, mimicking a real-time device for dry runs.
type Null struct {
	format pcm.Format
	frames int
	paced  bool
}

// NullOption configures a Null sink.
type NullOption func(*Null)

// WithNullPacing makes writes block for the played duration.
func WithNullPacing() NullOption {
	return func(s *Null) { s.paced = true }
}

// WithNullBlockFrames overrides the preferred block size.
func WithNullBlockFrames(frames int) NullOption {
	return func(s *Null) {
		if frames > 0 {
			s.frames = frames
		}
	}
}

// NewNull creates a discarding sink at format f.
func NewNull(f pcm.Format, opts ...NullOption) *Null {
	s := &Null{format: f, frames: DefaultBlockFrames}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Prepare implements Sink.
func (s *Null) Prepare() error { return nil }

// Write discards frames, optionally pacing to real time.
func (s *Null) Write(buf []pcm.Sample, frames int) (int, error) {
	if s.paced {
		time.Sleep(periodOf(s.format, frames))
	}
	return frames, nil
}

// Drain implements Sink.
func (s *Null) Drain() error { return nil }

// Recover implements Sink. Discarding never fails, so recovery succeeds.
func (s *Null) Recover(err error) error { return nil }

// BlockFrames implements Sink.
func (s *Null) BlockFrames() int { return s.frames }

// Period implements Sink.
func (s *Null) Period() time.Duration { return periodOf(s.format, s.frames) }

// Close implements Sink.
func (s *Null) Close() error { return nil }
