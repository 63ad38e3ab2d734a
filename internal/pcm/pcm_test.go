// SPDX-License-Identifier: MIT

package pcm

import (
	"testing"
	"time"
)

func TestFormatIsZero(t *testing.T) {
	tests := []struct {
		name   string
		format Format
		want   bool
	}{
		{"zero value", Format{}, true},
		{"rate only", Format{SampleRate: 44100}, false},
		{"channels only", Format{Channels: 2}, false},
		{"full", Format{SampleRate: 48000, Channels: 2}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.format.IsZero(); got != tt.want {
				t.Errorf("IsZero() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFormatValid(t *testing.T) {
	tests := []struct {
		name   string
		format Format
		want   bool
	}{
		{"zero value", Format{}, false},
		{"missing channels", Format{SampleRate: 44100}, false},
		{"negative rate", Format{SampleRate: -1, Channels: 2}, false},
		{"stereo 48k", Format{SampleRate: 48000, Channels: 2}, true},
		{"mono 8k", Format{SampleRate: 8000, Channels: 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.format.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	f := Format{SampleRate: 48000, Channels: 2}

	if got := f.Duration(48000); got != time.Second {
		t.Errorf("Duration(48000) = %v, want 1s", got)
	}
	if got := f.Milliseconds(24000); got != 500 {
		t.Errorf("Milliseconds(24000) = %d, want 500", got)
	}
	if got := f.FramesOf(1000); got != 48000 {
		t.Errorf("FramesOf(1000) = %d, want 48000", got)
	}
	if got := f.FramesIn(time.Millisecond * 20); got != 960 {
		t.Errorf("FramesIn(20ms) = %d, want 960", got)
	}
}

func TestFormatDurationZeroRate(t *testing.T) {
	var f Format
	if got := f.Duration(1000); got != 0 {
		t.Errorf("Duration on zero format = %v, want 0", got)
	}
	if got := f.Milliseconds(1000); got != 0 {
		t.Errorf("Milliseconds on zero format = %d, want 0", got)
	}
}

func TestClampVolume(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{-10, 0},
		{0, 0},
		{55, 55},
		{VolumeMax, VolumeMax},
		{VolumeMax + 1, VolumeMax},
	}

	for _, tt := range tests {
		if got := ClampVolume(tt.in); got != tt.want {
			t.Errorf("ClampVolume(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestSaturatingAddClampsAtFullScale(t *testing.T) {
	// Two full-scale samples must clamp, never wrap.
	if got := SaturatingAdd(SampleMax, SampleMax); got != SampleMax {
		t.Errorf("SaturatingAdd(max, max) = %v, want %v", got, SampleMax)
	}
	if got := SaturatingAdd(SampleMin, SampleMin); got != SampleMin {
		t.Errorf("SaturatingAdd(min, min) = %v, want %v", got, SampleMin)
	}
	if got := SaturatingAdd(SampleMax, SampleMin); got > SampleMax || got < SampleMin {
		t.Errorf("SaturatingAdd(max, min) = %v, out of range", got)
	}
}

func TestScaleVolume(t *testing.T) {
	if got := ScaleVolume(SampleMax, VolumeMax); got != SampleMax {
		t.Errorf("unity volume altered sample: %v", got)
	}
	if got := ScaleVolume(SampleMax, 0); got != 0 {
		t.Errorf("zero volume produced %v, want 0", got)
	}
}

func TestScaleVolume2ComposesMasterVolume(t *testing.T) {
	// Unity master must match single-stage scaling for any stream volume.
	for _, v := range []int{0, 10, 50, VolumeMax} {
		single := ScaleVolume(SampleMax, v)
		double := ScaleVolume2(SampleMax, v, VolumeMax)
		if single != double {
			t.Errorf("vol=%d: ScaleVolume=%v ScaleVolume2=%v", v, single, double)
		}
	}
}

func TestPutGetSample(t *testing.T) {
	b := make([]byte, SampleBytes)
	for _, s := range []Sample{0, 1, -1, SampleMax, SampleMin} {
		PutSample(b, s)
		if got := GetSample(b); got != s {
			t.Errorf("PutSample/GetSample round trip: %v -> %v", s, got)
		}
	}
}
