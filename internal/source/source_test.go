// SPDX-License-Identifier: MIT

package source

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/kestrelaudio/kestrel-go/internal/pcm"
)

func TestToneAmplitudeAndShape(t *testing.T) {
	f := pcm.Format{SampleRate: 8000, Channels: 2}
	tone := NewTone(f, 1000, 0.5)

	dst := make([]pcm.Sample, 256*2)
	n, got, err := tone.Read(dst, 256)
	if err != nil {
		t.Fatal(err)
	}
	if n != 256 {
		t.Fatalf("Read = %d frames, want 256", n)
	}
	if got != f {
		t.Errorf("reported format %v, want %v", got, f)
	}

	half := pcm.FromFloat64(0.5)
	var nonZero bool
	for i := 0; i < n; i++ {
		l, r := dst[i*2], dst[i*2+1]
		if l != r {
			t.Fatalf("frame %d: channels differ (%v, %v)", i, l, r)
		}
		if l > half || l < -half {
			t.Fatalf("frame %d = %v exceeds amplitude bound %v", i, l, half)
		}
		if l != 0 {
			nonZero = true
		}
	}
	if !nonZero {
		t.Error("tone produced silence")
	}
}

func TestToneClampsAmplitude(t *testing.T) {
	f := pcm.Format{SampleRate: 8000, Channels: 1}
	tone := NewTone(f, 100, 7)

	dst := make([]pcm.Sample, 64)
	if _, _, err := tone.Read(dst, 64); err != nil {
		t.Fatal(err)
	}
	for i, s := range dst {
		if s > pcm.SampleMax || s < pcm.SampleMin {
			t.Fatalf("sample %d = %v out of range", i, s)
		}
	}
}

func writeRawFile(t *testing.T, samples []pcm.Sample) string {
	t.Helper()
	buf := make([]byte, len(samples)*pcm.SampleBytes)
	for i, s := range samples {
		pcm.PutSample(buf[i*pcm.SampleBytes:], s)
	}
	path := filepath.Join(t.TempDir(), "raw.pcm")
	if err := os.WriteFile(path, buf, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFileReadsAndEnds(t *testing.T) {
	f := pcm.Format{SampleRate: 8000, Channels: 1}
	samples := []pcm.Sample{1, 2, 3, 4, 5}
	path := writeRawFile(t, samples)

	src, err := OpenFile(path, f, false)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	dst := make([]pcm.Sample, 8)
	n, _, err := src.Read(dst, 8)
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Fatalf("Read = %d frames, want 5", n)
	}
	for i, want := range samples {
		if dst[i] != want {
			t.Errorf("sample %d = %v, want %v", i, dst[i], want)
		}
	}

	// The exhausted source ends the stream.
	n, _, err = src.Read(dst, 8)
	if n != 0 || !errors.Is(err, io.EOF) {
		t.Fatalf("Read at EOF = %d, %v; want 0, io.EOF", n, err)
	}
}

func TestFileLoops(t *testing.T) {
	f := pcm.Format{SampleRate: 8000, Channels: 1}
	path := writeRawFile(t, []pcm.Sample{7, 8})

	src, err := OpenFile(path, f, true)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	dst := make([]pcm.Sample, 2)
	for round := 0; round < 3; round++ {
		n, _, err := src.Read(dst, 2)
		if err != nil {
			t.Fatalf("round %d: %v", round, err)
		}
		if n != 2 || dst[0] != 7 || dst[1] != 8 {
			t.Fatalf("round %d: got %d frames %v", round, n, dst[:n])
		}
	}
}

func TestOpenFileMissing(t *testing.T) {
	if _, err := OpenFile("/does/not/exist.pcm", pcm.Format{SampleRate: 8000, Channels: 1}, false); err == nil {
		t.Error("OpenFile succeeded on a missing path")
	}
}
