// SPDX-License-Identifier: MIT

// Package pcm defines the sample and format primitives shared by the mixing
// engine, the per-stream caches and the playback sinks.
//
// A frame is one sample per channel, interleaved. Samples are 32 bits wide:
// signed integers by default, IEEE-754 single-precision floats when the
// module is built with the "floatsamples" tag. The arithmetic helpers in
// sample_int32.go / sample_float32.go saturate instead of wrapping.
package pcm

import (
	"fmt"
	"time"
)

// VolumeMax is the upper bound of the volume scale. Volume v scales a sample
// x to x*v/VolumeMax.
const VolumeMax = 100

// Format describes a PCM stream as a (sample rate, channel count) pair.
// The zero value is the "unknown/unchanged" sentinel used by input callbacks
// that keep producing at the previously reported format.
type Format struct {
	SampleRate int
	Channels   int
}

// IsZero reports whether f is the unknown/unchanged sentinel.
func (f Format) IsZero() bool {
	return f.SampleRate == 0 && f.Channels == 0
}

// Valid reports whether f describes a concrete format.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0
}

// String returns a compact human-readable representation, e.g. "48000Hz/2ch".
func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch", f.SampleRate, f.Channels)
}

// FramesIn returns the number of frames covering duration d at this format.
func (f Format) FramesIn(d time.Duration) int {
	return int(time.Duration(f.SampleRate) * d / time.Second)
}

// Duration returns the play time of the given number of frames.
func (f Format) Duration(frames int64) time.Duration {
	if f.SampleRate == 0 {
		return 0
	}
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// Milliseconds returns the play time of the given number of frames in ms.
func (f Format) Milliseconds(frames int64) int64 {
	if f.SampleRate == 0 {
		return 0
	}
	return frames * 1000 / int64(f.SampleRate)
}

// FramesOf returns the number of frames represented by ms milliseconds.
func (f Format) FramesOf(ms int64) int64 {
	return ms * int64(f.SampleRate) / 1000
}

// ClampVolume limits v to the 0..VolumeMax range.
func ClampVolume(v int) int {
	if v < 0 {
		return 0
	}
	if v > VolumeMax {
		return VolumeMax
	}
	return v
}
