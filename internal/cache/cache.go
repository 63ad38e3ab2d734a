// SPDX-License-Identifier: MIT

// Package cache implements the bounded per-stream sample buffer that sits
// between an input source and the mixer.
//
// A cache stores fixed-width interleaved frames at the engine output format
// and tracks, per run of frames, the format the source reported when those
// frames were produced. The consumer drains frames in source order; a single
// Read never crosses a format boundary, so the caller always receives frames
// of exactly one input format.
//
// Two production modes are supported:
//   - ModeThread: a dedicated producer goroutine pulls the input callback
//     into a scratch buffer and deposits it under the state mutex.
//   - ModeOnDemand: Read itself tops the buffer up from the callback, using
//     try-acquire semantics on the input gate so a concurrent transport
//     operation holding the gate simply skips the top-up.
//
// The input gate (Lock/Unlock) is independent of the state mutex and gates
// callback invocation only. Lock ordering is engine mutex, then input gate,
// then state mutex; the producer goroutine never takes the engine mutex.
package cache

import (
	"errors"
	"sync"
	"time"

	"github.com/kestrelaudio/kestrel-go/internal/pcm"
)

// ReadFunc is the input callback contract. It fills dst with up to maxFrames
// interleaved frames and reports the format of the returned samples; a zero
// format means "unchanged from the previous call". A non-nil error is a
// terminal producer failure: the cache drains its remaining fill, then
// surfaces the error to the consumer.
type ReadFunc func(dst []pcm.Sample, maxFrames int) (int, pcm.Format, error)

// Mode selects how the cache is filled from its callback.
type Mode int

const (
	// ModeOnDemand tops the buffer up inside Read.
	ModeOnDemand Mode = iota
	// ModeThread fills the buffer from a dedicated producer goroutine.
	ModeThread
)

var (
	// ErrCapacity is returned by Open for a non-positive capacity and by
	// SetCapacity when the requested capacity is below the current fill.
	ErrCapacity = errors.New("cache: invalid capacity")
	// ErrNoCallback is returned by Open when ModeThread is requested
	// without an input callback.
	ErrNoCallback = errors.New("cache: thread mode requires an input callback")
	// ErrChannels is returned by Open for a non-positive channel count.
	ErrChannels = errors.New("cache: invalid channel count")
)

// producerIdle is how long the producer goroutine sleeps when it has nothing
// to do: buffer full, or the callback returned no frames.
const producerIdle = time.Millisecond

// maxScratchFrames bounds the producer's per-iteration callback request.
const maxScratchFrames = 1024

// marker binds a run of consecutive buffered frames to the input format the
// source reported for them. The tail marker's run grows as the producer
// deposits; the head marker's run shrinks as the consumer drains.
type marker struct {
	format pcm.Format
	run    int
}

// Config describes a cache to Open.
type Config struct {
	// Frames is the buffer capacity in frames.
	Frames int
	// Channels is the number of interleaved channels per frame.
	Channels int
	// Mode selects threaded or on-demand production.
	Mode Mode
	// Read is the input callback. It may be nil only in ModeOnDemand, for
	// caches fed externally through Write.
	Read ReadFunc
}

// Cache is a bounded FIFO of interleaved frames with in-band format markers.
// All methods are safe for concurrent use and tolerate a nil receiver by
// returning neutral values.
type Cache struct {
	channels   int
	mode       Mode
	readFn     ReadFunc
	gate       *gate
	scratchCap int // producer batch size in frames, fixed at Open

	mu        sync.Mutex
	buf       []pcm.Sample // ring, capFrames*channels samples
	capFrames int
	head      int // frame index of the oldest buffered frame
	fill      int // frames currently buffered
	ready     bool
	markers   []marker
	err       error  // terminal producer failure
	flushSeq  uint64 // bumped by Flush; stale producer batches are discarded
	closed    bool

	stopCh chan struct{}
	wg     sync.WaitGroup

	topBuf []pcm.Sample // ModeOnDemand top-up scratch
}

// Open creates a cache and, in ModeThread, starts its producer goroutine.
func Open(cfg Config) (*Cache, error) {
	if cfg.Frames <= 0 {
		return nil, ErrCapacity
	}
	if cfg.Channels <= 0 {
		return nil, ErrChannels
	}
	if cfg.Mode == ModeThread && cfg.Read == nil {
		return nil, ErrNoCallback
	}

	scratchCap := cfg.Frames
	if scratchCap > maxScratchFrames {
		scratchCap = maxScratchFrames
	}

	c := &Cache{
		channels:   cfg.Channels,
		mode:       cfg.Mode,
		readFn:     cfg.Read,
		gate:       newGate(),
		scratchCap: scratchCap,
		buf:        make([]pcm.Sample, cfg.Frames*cfg.Channels),
		capFrames:  cfg.Frames,
		stopCh:     make(chan struct{}),
	}

	if c.mode == ModeThread {
		c.wg.Add(1)
		go c.produce()
	}

	return c, nil
}

// Close stops the producer goroutine (if any) and releases the buffer.
// It is safe to call more than once.
func (c *Cache) Close() {
	if c == nil {
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.stopCh)
	c.mu.Unlock()

	c.wg.Wait()

	c.mu.Lock()
	c.buf = nil
	c.markers = nil
	c.fill = 0
	c.ready = false
	c.mu.Unlock()
}

// Ready reports whether the buffer has filled to capacity since it last ran
// empty. The mixer treats a non-ready cache as buffering.
func (c *Cache) Ready() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Filling returns the buffering progress as a 0..100 percentage. A ready
// cache always reports 100.
func (c *Cache) Filling() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready {
		return 100
	}
	if c.capFrames == 0 {
		return 0
	}
	return c.fill * 100 / c.capFrames
}

// Delay returns the number of frames currently buffered.
func (c *Cache) Delay() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fill
}

// Lock acquires the input gate, blocking until the producer is quiescent.
// While held, the input callback is not invoked. The holder must call Unlock
// to resume production.
func (c *Cache) Lock() {
	if c == nil {
		return
	}
	c.gate.acquire()
}

// Unlock releases the input gate. Releasing an unheld gate is a no-op.
func (c *Cache) Unlock() {
	if c == nil {
		return
	}
	c.gate.release()
}

// Flush discards all buffered frames and format markers and clears
// readiness. It returns with the input gate held: the caller owns a quiet
// window in which no samples can enter the cache, and must call Unlock to
// resume production.
func (c *Cache) Flush() {
	if c == nil {
		return
	}
	c.gate.acquire()

	c.mu.Lock()
	c.fill = 0
	c.head = 0
	c.ready = false
	c.markers = nil
	c.flushSeq++
	c.mu.Unlock()
}

// SetCapacity resizes the buffer. The new capacity must hold the current
// fill; otherwise the cache is left unchanged and ErrCapacity is returned.
func (c *Cache) SetCapacity(frames int) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	if frames <= 0 || frames < c.fill {
		return ErrCapacity
	}

	buf := make([]pcm.Sample, frames*c.channels)
	c.copyOutLocked(buf, c.fill)
	c.buf = buf
	c.capFrames = frames
	c.head = 0
	return nil
}

// Write deposits frames produced externally (the push path). It accepts at
// most the free space and returns the number of frames taken.
func (c *Cache) Write(src []pcm.Sample, frames int, f pcm.Format) int {
	if c == nil || frames <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.buf == nil {
		return 0
	}
	return c.depositLocked(src, frames, f)
}

// Read drains up to maxFrames frames into dst and reports the input format
// of the returned run. A single Read never spans a format boundary.
//
// A non-ready cache produces 0 frames (the consumer polls until the cache
// has buffered to capacity). After a terminal producer failure the readiness
// gate is ignored: remaining fill is drained first, then the error is
// returned.
func (c *Cache) Read(dst []pcm.Sample, maxFrames int) (int, pcm.Format, error) {
	if c == nil || maxFrames <= 0 {
		return 0, pcm.Format{}, nil
	}

	if c.mode == ModeOnDemand && c.readFn != nil {
		c.topUp()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.buf == nil {
		return 0, pcm.Format{}, nil
	}
	if c.fill == 0 {
		if c.err != nil {
			return 0, pcm.Format{}, c.err
		}
		return 0, pcm.Format{}, nil
	}
	if !c.ready && c.err == nil {
		return 0, pcm.Format{}, nil
	}

	n := maxFrames
	if n > c.fill {
		n = c.fill
	}

	f := c.markers[0].format
	if len(c.markers) > 1 && c.markers[0].run < n {
		n = c.markers[0].run
	}

	c.copyOutLocked(dst, n)
	c.head = (c.head + n) % c.capFrames
	c.fill -= n

	c.markers[0].run -= n
	if c.markers[0].run == 0 {
		c.markers = c.markers[1:]
	}

	if c.fill == 0 {
		c.ready = false
	}
	return n, f, nil
}

// copyOutLocked copies n frames from the ring head into dst without
// consuming them.
func (c *Cache) copyOutLocked(dst []pcm.Sample, n int) {
	ch := c.channels
	first := n
	if first > c.capFrames-c.head {
		first = c.capFrames - c.head
	}
	copy(dst, c.buf[c.head*ch:(c.head+first)*ch])
	if first < n {
		copy(dst[first*ch:], c.buf[:(n-first)*ch])
	}
}

// depositLocked appends up to frames frames at the ring tail, growing the
// marker sequence per the reported format, and returns the number accepted.
func (c *Cache) depositLocked(src []pcm.Sample, frames int, f pcm.Format) int {
	n := c.capFrames - c.fill
	if n > frames {
		n = frames
	}
	if n == 0 {
		return 0
	}

	ch := c.channels
	tail := (c.head + c.fill) % c.capFrames
	first := n
	if first > c.capFrames-tail {
		first = c.capFrames - tail
	}
	copy(c.buf[tail*ch:(tail+first)*ch], src)
	if first < n {
		copy(c.buf[:(n-first)*ch], src[first*ch:])
	}

	if len(c.markers) == 0 || (!f.IsZero() && f != c.markers[len(c.markers)-1].format) {
		c.markers = append(c.markers, marker{format: f})
	}
	c.markers[len(c.markers)-1].run += n

	c.fill += n
	if c.fill == c.capFrames {
		c.ready = true
	}
	return n
}

// topUp fills the buffer from the callback on the consumer's goroutine.
// The input gate is try-acquired: if a transport operation holds it, the
// top-up is skipped so Read stays live. The release is unconditional, which
// is safe because gate release is idempotent.
func (c *Cache) topUp() {
	if !c.gate.tryAcquire() {
		return
	}
	defer c.gate.release()

	for {
		c.mu.Lock()
		if c.closed || c.err != nil {
			c.mu.Unlock()
			return
		}
		space := c.capFrames - c.fill
		ch := c.channels
		c.mu.Unlock()
		if space == 0 {
			return
		}
		if space > maxScratchFrames {
			space = maxScratchFrames
		}
		if len(c.topBuf) < space*ch {
			c.topBuf = make([]pcm.Sample, space*ch)
		}

		n, f, err := c.readFn(c.topBuf[:space*ch], space)

		c.mu.Lock()
		if err != nil {
			c.err = err
			c.mu.Unlock()
			return
		}
		if n > 0 && !c.closed {
			c.depositLocked(c.topBuf, n, f)
		}
		c.mu.Unlock()
		if n == 0 {
			return
		}
	}
}

// produce is the ModeThread producer loop. It pulls the callback into a
// scratch buffer outside the state mutex, then deposits under it, sleeping
// briefly whenever the buffer has no space or the source has no data.
func (c *Cache) produce() {
	defer c.wg.Done()

	scratch := make([]pcm.Sample, c.scratchCap*c.channels)
	pending := 0 // frames held in scratch, not yet deposited
	off := 0     // frames of scratch already deposited
	var pf pcm.Format
	var batchSeq uint64 // flushSeq observed when the batch was read

	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		if pending == 0 {
			if !c.gate.acquireStop(c.stopCh) {
				return
			}
			// Flush needs the gate, so flushSeq cannot move while the
			// callback runs: the value read here identifies this
			// batch's timeline exactly.
			c.mu.Lock()
			batchSeq = c.flushSeq
			c.mu.Unlock()

			n, f, err := c.readFn(scratch, c.scratchCap)
			c.gate.release()

			if err != nil {
				c.mu.Lock()
				c.err = err
				c.mu.Unlock()
				return
			}
			if n == 0 {
				time.Sleep(producerIdle)
				continue
			}
			pending, off, pf = n, 0, f
		}

		c.mu.Lock()
		if c.flushSeq != batchSeq {
			// The scratch predates a flush; discard it.
			pending, off = 0, 0
			c.mu.Unlock()
			continue
		}
		n := c.depositLocked(scratch[off*c.channels:], pending, pf)
		c.mu.Unlock()

		if n == 0 {
			time.Sleep(producerIdle)
			continue
		}
		pending -= n
		off += n
		if !pf.IsZero() {
			// Only the first deposit of a batch carries the format
			// change; the rest of the batch is "unchanged".
			pf = pcm.Format{}
		}
	}
}
