// SPDX-License-Identifier: MIT

//go:build floatsamples

package pcm

import (
	"encoding/binary"
	"math"
)

// Sample is one channel of one frame. This build uses IEEE-754
// single-precision float samples in the [-1, +1] range.
type Sample = float32

const (
	// SampleMax and SampleMin bound the representable amplitude.
	SampleMax Sample = 1
	SampleMin Sample = -1

	// SampleBytes is the encoded width of one sample.
	SampleBytes = 4
)

// SaturatingAdd sums a and b and clamps the result to [-1, +1].
func SaturatingAdd(a, b Sample) Sample {
	s := a + b
	if s > SampleMax {
		return SampleMax
	}
	if s < SampleMin {
		return SampleMin
	}
	return s
}

// ScaleVolume applies a 0..VolumeMax volume to x as x*(v/VolumeMax).
func ScaleVolume(x Sample, v int) Sample {
	return x * Sample(v) / VolumeMax
}

// ScaleVolume2 applies a stream volume and a master volume in one pass.
func ScaleVolume2(x Sample, streamVol, masterVol int) Sample {
	return x * Sample(streamVol) * Sample(masterVol) / (VolumeMax * VolumeMax)
}

// ToFloat64 converts x to the [-1, 1] range used by the resampling library.
func ToFloat64(x Sample) float64 {
	return float64(x)
}

// FromFloat64 converts v back to a sample, clamping to [-1, +1].
func FromFloat64(v float64) Sample {
	if v > 1 {
		return SampleMax
	}
	if v < -1 {
		return SampleMin
	}
	return Sample(v)
}

// PutSample encodes s into b in little-endian byte order. b must hold at
// least SampleBytes bytes.
func PutSample(b []byte, s Sample) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(s))
}

// GetSample decodes a little-endian sample from b.
func GetSample(b []byte) Sample {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}
