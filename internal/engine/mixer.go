// SPDX-License-Identifier: MIT

package engine

import (
	"fmt"
	"time"

	"github.com/kestrelaudio/kestrel-go/internal/pcm"
)

// pendingEvent is a stream notification collected under the engine mutex
// and delivered after it is released, so callbacks may call transport
// operations.
type pendingEvent struct {
	fn     EventFunc
	stream *Stream
	event  Event
}

// run is the mixer goroutine: pull every active stream, scale and sum with
// saturation, drive the sink.
//
// The sink has two states. Stopped with no input, the mixer sleeps one
// period per tick. The first contribution prepares the sink and starts
// playback. Running with no input, the mixer feeds zero blocks until the
// silence exceeds maxSilence, then drains the sink and stops again. A
// failed sink write gets one recovery attempt; a second failure terminates
// the mixer.
func (e *Engine) run() {
	defer close(e.done)

	blockFrames := e.snk.BlockFrames()
	ch := e.out.Channels
	block := make([]pcm.Sample, blockFrames*ch)
	scratch := make([]pcm.Sample, blockFrames*ch)

	running := false
	var idleSince time.Time

	for !e.stop.Load() {
		for i := range block {
			block[i] = 0
		}
		frames := e.mixBlock(block, scratch, blockFrames)

		if !running {
			if frames == 0 {
				time.Sleep(e.snk.Period())
				continue
			}
			if err := e.snk.Prepare(); err != nil {
				e.failSink(fmt.Errorf("%w: prepare: %v", ErrSink, err))
				return
			}
			e.logDebug("mixer_event", "event", "sink_start")
			running = true
			idleSince = time.Time{}
		} else if frames == 0 {
			if idleSince.IsZero() {
				idleSince = time.Now()
				e.logDebug("mixer_event", "event", "underrun")
			}
			if time.Since(idleSince) > e.maxSilence {
				e.logEvent("mixer_event", "event", "idle_drain", "silence", e.maxSilence.String())
				_ = e.snk.Drain()
				running = false
				idleSince = time.Time{}
				continue
			}
			// Keep the device fed with silence until the idle timer
			// expires.
			frames = blockFrames
		} else {
			idleSince = time.Time{}
		}

		if err := e.writeBlock(block, frames); err != nil {
			e.failSink(err)
			return
		}
	}

	if running {
		_ = e.snk.Drain()
	}
}

// mixBlock pulls up to blockFrames frames from every playing stream into
// block (already zeroed) and returns the maximum contribution length.
func (e *Engine) mixBlock(block, scratch []pcm.Sample, blockFrames int) int {
	ch := e.out.Channels
	var events []pendingEvent

	e.mu.Lock()
	masterVol := e.masterVol
	out := 0

	for _, s := range e.streams {
		if !s.playing || s.ended {
			continue
		}

		n, err := s.pullLocked(scratch, blockFrames)
		if err != nil {
			// Terminal producer failure: tear the pipeline down and
			// let the application reap the stream.
			s.ended = true
			s.playing = false
			s.teardownLocked()
			e.logEvent("stream_end", "stream", s.name, "error", err.Error())
			if s.events != nil {
				events = append(events, pendingEvent{s.events, s, EventEnded})
			}
			continue
		}
		if n == 0 {
			if s.delay > 0 && !s.buffering {
				s.buffering = true
				if s.events != nil {
					events = append(events, pendingEvent{s.events, s, EventBuffering})
				}
			}
			continue
		}
		if s.buffering {
			s.buffering = false
			if s.events != nil {
				events = append(events, pendingEvent{s.events, s, EventReady})
			}
		}

		accumulate(block, scratch, n*ch, s.volume, masterVol)
		s.played += int64(n)
		if n > out {
			out = n
		}
	}
	e.mu.Unlock()

	for _, ev := range events {
		ev.fn(ev.stream, ev.event)
	}
	return out
}

// pullLocked reads one single-format run from the stream's cache. When the
// drained run reports a new source format, the conversion filter is
// rebuilt for it before the next production cycle.
func (s *Stream) pullLocked(dst []pcm.Sample, maxFrames int) (int, error) {
	n, f, err := s.cache.Read(dst, maxFrames)
	if err != nil {
		return n, err
	}
	if n > 0 && f.Valid() && f != s.in {
		s.switchFormatLocked(f)
	}
	return n, nil
}

// accumulate adds count scaled samples from src into dst with saturation.
// Unity gain skips the scaling pass so bit-exact passthrough holds.
func accumulate(dst, src []pcm.Sample, count, streamVol, masterVol int) {
	if streamVol == pcm.VolumeMax && masterVol == pcm.VolumeMax {
		for i := 0; i < count; i++ {
			dst[i] = pcm.SaturatingAdd(dst[i], src[i])
		}
		return
	}
	for i := 0; i < count; i++ {
		dst[i] = pcm.SaturatingAdd(dst[i], pcm.ScaleVolume2(src[i], streamVol, masterVol))
	}
}

// writeBlock hands frames frames to the sink, allowing the sink one
// recovery attempt after a failed write.
func (e *Engine) writeBlock(block []pcm.Sample, frames int) error {
	ch := e.out.Channels
	if _, err := e.snk.Write(block[:frames*ch], frames); err != nil {
		e.logError("mixer_event", "event", "sink_write_failed", "error", err.Error())
		if rerr := e.snk.Recover(err); rerr != nil {
			return fmt.Errorf("%w: recover: %v", ErrSink, rerr)
		}
		if _, err := e.snk.Write(block[:frames*ch], frames); err != nil {
			return fmt.Errorf("%w: write after recover: %v", ErrSink, err)
		}
		e.logEvent("mixer_event", "event", "sink_recovered")
	}
	return nil
}

// failSink records the error that is terminating the mixer.
func (e *Engine) failSink(err error) {
	e.logError("mixer_event", "event", "mixer_exit", "error", err.Error())
	e.setRunErr(err)
}
