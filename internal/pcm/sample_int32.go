// SPDX-License-Identifier: MIT

//go:build !floatsamples

package pcm

import (
	"encoding/binary"
	"math"
)

// Sample is one channel of one frame. The default build uses signed 32-bit
// integer samples; build with -tags floatsamples for float32 samples.
type Sample = int32

const (
	// SampleMax and SampleMin bound the representable amplitude.
	SampleMax Sample = math.MaxInt32
	SampleMin Sample = math.MinInt32

	// SampleBytes is the encoded width of one sample.
	SampleBytes = 4
)

// SaturatingAdd sums a and b in 64 bits and clamps the result to the signed
// 32-bit range instead of wrapping.
func SaturatingAdd(a, b Sample) Sample {
	s := int64(a) + int64(b)
	if s > math.MaxInt32 {
		return SampleMax
	}
	if s < math.MinInt32 {
		return SampleMin
	}
	return Sample(s)
}

// ScaleVolume applies a 0..VolumeMax volume to x as x*v/VolumeMax, computed
// in 64 bits and truncated.
func ScaleVolume(x Sample, v int) Sample {
	return Sample(int64(x) * int64(v) / VolumeMax)
}

// ScaleVolume2 applies a stream volume and a master volume in one pass.
func ScaleVolume2(x Sample, streamVol, masterVol int) Sample {
	return Sample(int64(x) * int64(streamVol) * int64(masterVol) / (VolumeMax * VolumeMax))
}

// ToFloat64 converts x to the [-1, 1) range used by the resampling library.
func ToFloat64(x Sample) float64 {
	return float64(x) / -math.MinInt32
}

// FromFloat64 converts v back to a sample, clamping to the representable
// range.
func FromFloat64(v float64) Sample {
	v *= -math.MinInt32
	if v >= math.MaxInt32 {
		return SampleMax
	}
	if v <= math.MinInt32 {
		return SampleMin
	}
	return Sample(v)
}

// PutSample encodes s into b in little-endian byte order. b must hold at
// least SampleBytes bytes.
func PutSample(b []byte, s Sample) {
	binary.LittleEndian.PutUint32(b, uint32(s))
}

// GetSample decodes a little-endian sample from b.
func GetSample(b []byte) Sample {
	return Sample(binary.LittleEndian.Uint32(b))
}
