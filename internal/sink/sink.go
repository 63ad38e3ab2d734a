// SPDX-License-Identifier: MIT

// Package sink defines the blocking playback sink the mixer drives, plus
// in-process implementations used by the daemon and the tests. The PortAudio
// device driver lives in the portaudio subpackage.
package sink

import (
	"time"

	"github.com/kestrelaudio/kestrel-go/internal/pcm"
)

// DefaultBlockFrames is the mixer block size used when a sink is not
// configured otherwise (about 21 ms at 48 kHz).
const DefaultBlockFrames = 1024

// Sink is a blocking playback device accepting interleaved frames at the
// engine output format.
//
// The mixer calls Prepare before the first write after an idle period,
// Drain when going idle, and Recover exactly once after a failed Write
// before giving up.
type Sink interface {
	// Prepare readies the device for playback.
	Prepare() error

	// Write plays frames interleaved frames from buf, blocking for up to
	// one period. It returns the number of frames consumed.
	Write(buf []pcm.Sample, frames int) (int, error)

	// Drain plays out pending frames and stops the device.
	Drain() error

	// Recover attempts to restore the device after a Write failure.
	Recover(err error) error

	// BlockFrames is the preferred number of frames per Write.
	BlockFrames() int

	// Period is the minimum latency interval; the mixer sleeps this long
	// when stopped with no input.
	Period() time.Duration

	// Close releases the device.
	Close() error
}

// periodOf derives the block duration for a format and block size.
func periodOf(f pcm.Format, frames int) time.Duration {
	if f.SampleRate <= 0 {
		return 10 * time.Millisecond
	}
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}
