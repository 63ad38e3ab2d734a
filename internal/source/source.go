// SPDX-License-Identifier: MIT

// Package source provides reference input callbacks for the engine: a sine
// tone generator and a raw PCM file reader. The engine core never depends
// on this package; it exists for the commands and for exercising a full
// pipeline.
package source

import (
	"math"

	"github.com/kestrelaudio/kestrel-go/internal/pcm"
)

// Tone generates an endless sine wave. Not safe for concurrent use; each
// stream owns its source.
type Tone struct {
	format pcm.Format
	step   float64 // phase increment per frame
	amp    float64
	phase  float64
}

// NewTone creates a sine generator at format f with frequency freq Hz and
// amplitude amp in [0, 1].
func NewTone(f pcm.Format, freq, amp float64) *Tone {
	if amp < 0 {
		amp = 0
	}
	if amp > 1 {
		amp = 1
	}
	return &Tone{
		format: f,
		step:   2 * math.Pi * freq / float64(f.SampleRate),
		amp:    amp,
	}
}

// Read fills dst with up to maxFrames frames of the tone.
func (t *Tone) Read(dst []pcm.Sample, maxFrames int) (int, pcm.Format, error) {
	ch := t.format.Channels
	for i := 0; i < maxFrames; i++ {
		s := pcm.FromFloat64(t.amp * math.Sin(t.phase))
		t.phase += t.step
		if t.phase > 2*math.Pi {
			t.phase -= 2 * math.Pi
		}
		for c := 0; c < ch; c++ {
			dst[i*ch+c] = s
		}
	}
	return maxFrames, t.format, nil
}
