// SPDX-License-Identifier: MIT

package engine

import (
	"fmt"

	"github.com/kestrelaudio/kestrel-go/internal/cache"
	"github.com/kestrelaudio/kestrel-go/internal/pcm"
	"github.com/kestrelaudio/kestrel-go/internal/resample"
)

// State is a stream's transport state as reported by Status(StatusState).
type State int

const (
	StatePaused  State = iota // not contributing to the mix
	StatePlaying              // contributing whenever its cache is ready
	StateEnded                // source finished or failed; awaiting Remove
)

func (s State) String() string {
	switch s {
	case StatePaused:
		return "paused"
	case StatePlaying:
		return "playing"
	case StateEnded:
		return "ended"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// StatusKey selects which stream property Status reports.
type StatusKey int

const (
	// StatusState reports the transport state as an int64(State).
	StatusState StatusKey = iota
	// StatusPlayed reports the played duration in milliseconds.
	StatusPlayed
	// StatusCacheState reports 1 when the cache is ready, 0 while
	// buffering.
	StatusCacheState
	// StatusCacheFilling reports the cache buffering progress, 0..100.
	StatusCacheFilling
	// StatusCacheDelay reports pending frames in the cache and the
	// conversion filter.
	StatusCacheDelay
)

// Cache state values reported by Status(StatusCacheState).
const (
	CacheBuffering int64 = 0
	CacheReady     int64 = 1
)

// Event is a stream lifecycle notification delivered to the stream's event
// callback from the mixer goroutine.
type Event int

const (
	// EventBuffering fires once when a playing stream's cache runs dry
	// and the mixer starts skipping it.
	EventBuffering Event = iota
	// EventReady fires once when a buffering stream's cache becomes
	// drainable again.
	EventReady
	// EventEnded fires when the stream's source terminates, normally or
	// with an error.
	EventEnded
)

func (ev Event) String() string {
	switch ev {
	case EventBuffering:
		return "buffering"
	case EventReady:
		return "ready"
	case EventEnded:
		return "ended"
	default:
		return fmt.Sprintf("unknown(%d)", int(ev))
	}
}

// EventFunc receives stream lifecycle events. Callbacks run on the mixer
// goroutine without the engine mutex held, so they may call transport
// operations.
type EventFunc func(s *Stream, ev Event)

// StreamConfig describes a stream to AddStream.
type StreamConfig struct {
	// Name identifies the stream in logs and health reports.
	Name string

	// Format is the initial input format of the source.
	Format pcm.Format

	// Read is the source callback (pull path). When nil the stream is
	// push-fed through Write.
	Read resample.ReadFunc

	// CacheFrames is the cache capacity in frames; 0 selects
	// DefaultCacheFrames.
	CacheFrames int

	// Threaded runs a dedicated producer goroutine for the cache instead
	// of topping up on demand. Push-fed streams are always on-demand.
	Threaded bool

	// Volume is the initial volume; values outside 1..pcm.VolumeMax
	// select pcm.VolumeMax.
	Volume int

	// Events receives lifecycle notifications.
	Events EventFunc
}

// Stream binds one input source to the mixer: it owns a cache, a
// conversion filter, gain and lifecycle flags. All operations serialize on
// the engine mutex and are neutral no-ops once the stream has been
// removed.
type Stream struct {
	e    *Engine
	name string

	// Guarded by e.mu. The conversion filter pointer is additionally
	// guarded by the cache input gate: the cache producer dereferences
	// it while holding the gate, so swaps hold both.
	in        pcm.Format
	srcRead   resample.ReadFunc
	rs        *resample.Resampler
	cache     *cache.Cache
	playing   bool
	ended     bool
	aborted   bool
	buffering bool
	removed   bool
	gateHeld  bool // transport layer owns the cache input gate
	volume    int
	delay     int // requested cache frames; >0 arms buffering events
	played    int64
	events    EventFunc
}

// AddStream builds a stream pipeline and appends it to the engine. The
// stream starts paused.
func (e *Engine) AddStream(cfg StreamConfig) (*Stream, error) {
	if !cfg.Format.Valid() {
		return nil, fmt.Errorf("%w: input format %v", ErrConfig, cfg.Format)
	}
	frames := cfg.CacheFrames
	if frames <= 0 {
		frames = DefaultCacheFrames
	}
	volume := cfg.Volume
	if volume <= 0 || volume > pcm.VolumeMax {
		volume = pcm.VolumeMax
	}

	s := &Stream{
		e:       e,
		name:    cfg.Name,
		in:      cfg.Format,
		srcRead: cfg.Read,
		volume:  volume,
		delay:   frames,
		events:  cfg.Events,
	}

	mode := cache.ModeOnDemand
	if cfg.Threaded && cfg.Read != nil {
		mode = cache.ModeThread
	}

	ccfg := cache.Config{
		Frames:   frames,
		Channels: e.out.Channels,
		Mode:     mode,
	}

	if cfg.Read != nil {
		// Pull path: the cache drags samples through the filter, which
		// pulls the source callback.
		rs, err := resample.New(resample.Config{
			In:   cfg.Format,
			Out:  e.out,
			Read: cfg.Read,
		})
		if err != nil {
			return nil, err
		}
		s.rs = rs
		ccfg.Read = s.sourceRead
	}

	c, err := cache.Open(ccfg)
	if err != nil {
		if s.rs != nil {
			s.rs.Close()
		}
		return nil, err
	}
	s.cache = c

	if cfg.Read == nil {
		// Push path: Write feeds the filter, which deposits converted
		// frames into the cache.
		rs, err := resample.New(resample.Config{
			In:    cfg.Format,
			Out:   e.out,
			Write: c.Write,
		})
		if err != nil {
			c.Close()
			return nil, err
		}
		s.rs = rs
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		s.teardownLocked()
		return nil, ErrClosed
	}
	e.streams = append(e.streams, s)
	e.logEvent("stream_added", "stream", s.name, "format", cfg.Format.String(), "cache_frames", frames)
	return s, nil
}

// sourceRead is the cache's input callback on the pull path. It runs on
// the cache producer (or the mixer, in on-demand mode) while the input
// gate is held, which also guards the filter pointer against swaps.
func (s *Stream) sourceRead(dst []pcm.Sample, maxFrames int) (int, pcm.Format, error) {
	return s.rs.Read(dst, maxFrames)
}

// Name returns the stream's identifier.
func (s *Stream) Name() string { return s.name }

// Play starts (or resumes) playback. It also releases the cache input
// gate, resuming production after a flush issued while paused.
func (s *Stream) Play() {
	s.e.mu.Lock()
	defer s.e.mu.Unlock()
	if s.removed || s.ended || s.aborted {
		return
	}
	s.playing = true
	s.cache.Unlock()
	s.gateHeld = false
}

// Pause suspends playback. The cache keeps buffering; a flush issued while
// paused leaves the input gate held until the next Play.
func (s *Stream) Pause() {
	s.e.mu.Lock()
	defer s.e.mu.Unlock()
	if s.removed {
		return
	}
	s.playing = false
}

// Flush discards everything buffered in the cache and the conversion
// filter and zeroes the played counter. For a playing stream production
// resumes immediately; for a paused stream the cache input gate stays held
// until the next Play, guaranteeing no samples enter while paused.
func (s *Stream) Flush() {
	s.e.mu.Lock()
	defer s.e.mu.Unlock()
	if s.removed || s.cache == nil {
		return
	}
	if s.gateHeld {
		// The gate is already ours (an earlier flush while paused, or
		// an abort); give it back so Flush can re-take it.
		s.cache.Unlock()
		s.gateHeld = false
	}
	s.cache.Flush()
	s.gateHeld = true
	s.rs.Flush()
	s.played = 0
	s.buffering = false
	if s.playing {
		s.cache.Unlock()
		s.gateHeld = false
	}
}

// Write pushes frames into a push-fed stream at the reported input format
// (zero format = unchanged). It returns the number of frames consumed.
// Writes to aborted, ended or pull-path streams are no-ops.
func (s *Stream) Write(src []pcm.Sample, frames int, f pcm.Format) (int, error) {
	s.e.mu.Lock()
	defer s.e.mu.Unlock()
	if s.removed || s.aborted || s.ended || s.srcRead != nil || s.rs == nil {
		return 0, nil
	}
	if f.Valid() && f != s.in {
		s.switchFormatLocked(f)
	}
	return s.rs.Write(src, frames, f)
}

// SetVolume sets the stream volume, clamped to 0..pcm.VolumeMax.
func (s *Stream) SetVolume(v int) {
	s.e.mu.Lock()
	defer s.e.mu.Unlock()
	s.volume = pcm.ClampVolume(v)
}

// Volume returns the stream volume.
func (s *Stream) Volume() int {
	s.e.mu.Lock()
	defer s.e.mu.Unlock()
	return s.volume
}

// SetCacheSize resizes the stream's cache. The new capacity must hold the
// current fill.
func (s *Stream) SetCacheSize(frames int) error {
	s.e.mu.Lock()
	defer s.e.mu.Unlock()
	if s.removed || s.cache == nil {
		return nil
	}
	if err := s.cache.SetCapacity(frames); err != nil {
		return err
	}
	s.delay = frames
	return nil
}

// Status reports the stream property selected by key. Removed and
// torn-down streams report neutral values.
func (s *Stream) Status(key StatusKey) int64 {
	s.e.mu.Lock()
	defer s.e.mu.Unlock()

	switch key {
	case StatusState:
		switch {
		case s.ended:
			return int64(StateEnded)
		case s.playing:
			return int64(StatePlaying)
		default:
			return int64(StatePaused)
		}
	case StatusPlayed:
		return s.e.out.Milliseconds(s.played)
	case StatusCacheState:
		if s.cache.Ready() {
			return CacheReady
		}
		return CacheBuffering
	case StatusCacheFilling:
		return int64(s.cache.Filling())
	case StatusCacheDelay:
		return int64(s.cache.Delay() + s.rs.Delay())
	default:
		return 0
	}
}

// SetEvents replaces the stream's event callback.
func (s *Stream) SetEvents(fn EventFunc) {
	s.e.mu.Lock()
	defer s.e.mu.Unlock()
	s.events = fn
}

// Abort permanently mutes the stream: playback stops, the input gate is
// taken so the source callback can no longer run, and further writes are
// no-ops. It returns the total played duration in milliseconds including
// frames still pending in the cache and the conversion filter. The stream
// stays in the engine list until Remove.
func (s *Stream) Abort() int64 {
	s.e.mu.Lock()
	defer s.e.mu.Unlock()
	if s.removed {
		return 0
	}
	s.playing = false
	s.aborted = true
	if !s.gateHeld {
		s.cache.Lock()
		s.gateHeld = true
	}
	pending := int64(s.cache.Delay() + s.rs.Delay())
	return s.e.out.Milliseconds(s.played + pending)
}

// Restore reseeds the played counter from a millisecond value, for
// resuming position reporting across a transport-level seek.
func (s *Stream) Restore(ms int64) {
	s.e.mu.Lock()
	defer s.e.mu.Unlock()
	if s.removed {
		return
	}
	s.played = s.e.out.FramesOf(ms)
}

// Remove tears down the stream pipeline and drops it from the engine.
func (s *Stream) Remove() {
	s.e.mu.Lock()
	if s.removed {
		s.e.mu.Unlock()
		return
	}
	s.removed = true
	s.playing = false
	s.e.removeLocked(s)
	s.teardownLocked()
	s.e.logEvent("stream_removed", "stream", s.name)
	s.e.mu.Unlock()
}

// switchFormatLocked rebuilds the conversion filter for a new input
// format. Caller holds the engine mutex; the cache input gate is taken for
// the swap so the producer never observes a half-replaced filter.
func (s *Stream) switchFormatLocked(f pcm.Format) {
	// Push-fed streams have no producer goroutine to exclude; their only
	// feeder already serializes on the engine mutex. Taking the gate
	// there could block forever on a flushed-while-paused stream.
	if s.srcRead != nil && !s.gateHeld {
		s.cache.Lock()
		defer s.cache.Unlock()
	}

	cfg := resample.Config{In: f, Out: s.e.out}
	if s.srcRead != nil {
		cfg.Read = s.srcRead
	} else {
		cfg.Write = s.cache.Write
	}
	rs, err := resample.New(cfg)
	if err != nil {
		// Keep converting at the old format rather than killing the
		// stream; the marker data was advisory.
		s.e.logError("format_switch_failed", "stream", s.name, "format", f.String(), "error", err)
		return
	}
	s.rs.Close()
	s.rs = rs
	s.e.logEvent("stream_format", "stream", s.name, "format", f.String())
	s.in = f
}

// teardownLocked closes the cache (joining its producer, which takes at
// most a producer sleep interval) and the conversion filter, then replaces
// both handles with nil sentinels. All accessors tolerate the nil handles.
// Idempotent; called under the engine mutex by the mixer at end-of-stream,
// by Remove and by engine Close.
func (s *Stream) teardownLocked() {
	if s.cache != nil {
		s.cache.Close()
		s.cache = nil
	}
	if s.rs != nil {
		s.rs.Close()
		s.rs = nil
	}
}
