// SPDX-License-Identifier: MIT

// Package resample adapts an input PCM format to the engine output format.
//
// Sample-rate conversion is delegated to the pure-Go resampling library;
// channel conversion (duplicate up, average down) is done inline. A
// Resampler is built over exactly one of a read callback (pull path, the
// cache drags samples through it) or a write callback (push path, it pushes
// converted samples onward, normally into a cache).
package resample

import (
	"errors"
	"fmt"
	"sync"

	resampling "github.com/tphakala/go-audio-resampling"

	"github.com/kestrelaudio/kestrel-go/internal/pcm"
)

// ReadFunc pulls up to maxFrames input-format frames from the source and
// reports the format of the returned samples (zero format = unchanged).
type ReadFunc func(dst []pcm.Sample, maxFrames int) (int, pcm.Format, error)

// WriteFunc receives converted output-format frames together with the
// source-reported input format and returns the number of frames taken.
type WriteFunc func(src []pcm.Sample, frames int, f pcm.Format) int

var (
	// ErrConfig is returned by New for invalid formats or callback
	// combinations.
	ErrConfig = errors.New("resample: invalid configuration")
)

// Config describes a Resampler to New. Exactly one of Read and Write must
// be set.
type Config struct {
	In    pcm.Format
	Out   pcm.Format
	Read  ReadFunc
	Write WriteFunc
}

// Resampler converts between two PCM formats. Methods are safe for
// concurrent use and tolerate a nil receiver by returning neutral values.
type Resampler struct {
	mu      sync.Mutex
	in, out pcm.Format
	readFn  ReadFunc
	writeFn WriteFunc

	conv     resampling.Resampler // nil when the rates match
	leftover []pcm.Sample         // converted output samples pending delivery
	srcBuf   []pcm.Sample
	chanBuf  []pcm.Sample
	closed   bool
}

// New creates a Resampler converting cfg.In to cfg.Out.
func New(cfg Config) (*Resampler, error) {
	if !cfg.In.Valid() || !cfg.Out.Valid() {
		return nil, fmt.Errorf("%w: formats %v -> %v", ErrConfig, cfg.In, cfg.Out)
	}
	if (cfg.Read == nil) == (cfg.Write == nil) {
		return nil, fmt.Errorf("%w: exactly one of read and write callbacks required", ErrConfig)
	}

	r := &Resampler{
		in:      cfg.In,
		out:     cfg.Out,
		readFn:  cfg.Read,
		writeFn: cfg.Write,
	}
	if cfg.In.SampleRate != cfg.Out.SampleRate {
		conv, err := newConverter(cfg.In, cfg.Out)
		if err != nil {
			return nil, err
		}
		r.conv = conv
	}
	return r, nil
}

func newConverter(in, out pcm.Format) (resampling.Resampler, error) {
	conv, err := resampling.New(&resampling.Config{
		InputRate:  float64(in.SampleRate),
		OutputRate: float64(out.SampleRate),
		Channels:   out.Channels,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("resample: %w", err)
	}
	return conv, nil
}

// Read pulls source frames through the converter into dst (pull path). The
// returned format is the one the source reported for the batch, passed
// through so the cache can track format markers.
func (r *Resampler) Read(dst []pcm.Sample, maxFrames int) (int, pcm.Format, error) {
	if r == nil || maxFrames <= 0 {
		return 0, pcm.Format{}, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.readFn == nil {
		return 0, pcm.Format{}, nil
	}

	ch := r.out.Channels

	// Converted frames from a previous call are delivered first.
	if len(r.leftover) > 0 {
		n := len(r.leftover) / ch
		if n > maxFrames {
			n = maxFrames
		}
		copy(dst, r.leftover[:n*ch])
		r.leftover = r.leftover[n*ch:]
		return n, pcm.Format{}, nil
	}

	// Pull roughly the amount of source data that converts to maxFrames.
	srcFrames := (maxFrames*r.in.SampleRate + r.out.SampleRate - 1) / r.out.SampleRate
	if srcFrames < 1 {
		srcFrames = 1
	}
	if need := srcFrames * r.in.Channels; len(r.srcBuf) < need {
		r.srcBuf = make([]pcm.Sample, need)
	}

	n, f, err := r.readFn(r.srcBuf, srcFrames)
	if err != nil {
		return 0, f, err
	}
	if n == 0 {
		return 0, f, nil
	}

	out, err := r.convertLocked(r.srcBuf[:n*r.in.Channels], n)
	if err != nil {
		return 0, pcm.Format{}, err
	}

	frames := len(out) / ch
	if frames > maxFrames {
		r.leftover = append(r.leftover, out[maxFrames*ch:]...)
		frames = maxFrames
	}
	copy(dst, out[:frames*ch])
	return frames, f, nil
}

// Write converts src and pushes the result onward (push path). Converted
// frames the downstream does not accept are retried on the next call, so
// Write consumes all of src.
func (r *Resampler) Write(src []pcm.Sample, frames int, f pcm.Format) (int, error) {
	if r == nil || frames <= 0 {
		return 0, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.writeFn == nil {
		return 0, nil
	}

	ch := r.out.Channels

	// Deliver what the downstream declined last time before converting
	// new data, preserving sample order.
	if len(r.leftover) > 0 {
		taken := r.writeFn(r.leftover, len(r.leftover)/ch, pcm.Format{})
		r.leftover = r.leftover[taken*ch:]
	}

	out, err := r.convertLocked(src[:frames*r.in.Channels], frames)
	if err != nil {
		return 0, err
	}
	if len(out) == 0 {
		return frames, nil
	}

	taken := r.writeFn(out, len(out)/ch, f)
	if rest := out[taken*ch:]; len(rest) > 0 {
		r.leftover = append(r.leftover, rest...)
	}
	return frames, nil
}

// convertLocked runs channel and rate conversion on frames input frames.
func (r *Resampler) convertLocked(src []pcm.Sample, frames int) ([]pcm.Sample, error) {
	ch := r.out.Channels

	var converted []pcm.Sample
	if r.in.Channels == ch {
		converted = src
	} else {
		if need := frames * ch; len(r.chanBuf) < need {
			r.chanBuf = make([]pcm.Sample, need)
		}
		convertChannels(r.chanBuf, src, frames, r.in.Channels, ch)
		converted = r.chanBuf[:frames*ch]
	}

	if r.conv == nil {
		return converted, nil
	}

	in64 := make([]float64, len(converted))
	for i, s := range converted {
		in64[i] = pcm.ToFloat64(s)
	}
	out64, err := r.conv.Process(in64)
	if err != nil {
		return nil, fmt.Errorf("resample: %w", err)
	}
	out := make([]pcm.Sample, len(out64)/ch*ch)
	for i := range out {
		out[i] = pcm.FromFloat64(out64[i])
	}
	return out, nil
}

// convertChannels maps frames interleaved frames from inCh to outCh
// channels: duplication up from mono, averaging down to mono, positional
// mapping otherwise.
func convertChannels(dst, src []pcm.Sample, frames, inCh, outCh int) {
	switch {
	case inCh == 1:
		for i := 0; i < frames; i++ {
			s := src[i]
			for j := 0; j < outCh; j++ {
				dst[i*outCh+j] = s
			}
		}
	case outCh == 1:
		for i := 0; i < frames; i++ {
			sum := 0.0
			for j := 0; j < inCh; j++ {
				sum += pcm.ToFloat64(src[i*inCh+j])
			}
			dst[i] = pcm.FromFloat64(sum / float64(inCh))
		}
	default:
		for i := 0; i < frames; i++ {
			for j := 0; j < outCh; j++ {
				dst[i*outCh+j] = src[i*inCh+j%inCh]
			}
		}
	}
}

// Delay returns the number of converted output frames buffered inside the
// resampler and not yet delivered.
func (r *Resampler) Delay() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.leftover) / r.out.Channels
}

// Flush drops buffered output and resets the converter state.
func (r *Resampler) Flush() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.leftover = nil
	if r.conv != nil {
		if conv, err := newConverter(r.in, r.out); err == nil {
			r.conv = conv
		}
	}
}

// Close releases the converter. Subsequent calls are neutral no-ops.
func (r *Resampler) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.conv = nil
	r.leftover = nil
}

// In returns the configured input format.
func (r *Resampler) In() pcm.Format {
	if r == nil {
		return pcm.Format{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.in
}

// Out returns the configured output format.
func (r *Resampler) Out() pcm.Format {
	if r == nil {
		return pcm.Format{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.out
}
