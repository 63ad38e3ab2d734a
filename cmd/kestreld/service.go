// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/kestrelaudio/kestrel-go/internal/config"
	"github.com/kestrelaudio/kestrel-go/internal/engine"
	"github.com/kestrelaudio/kestrel-go/internal/health"
	"github.com/kestrelaudio/kestrel-go/internal/pcm"
	"github.com/kestrelaudio/kestrel-go/internal/resample"
	"github.com/kestrelaudio/kestrel-go/internal/sink"
	paudio "github.com/kestrelaudio/kestrel-go/internal/sink/portaudio"
	"github.com/kestrelaudio/kestrel-go/internal/source"
	"github.com/kestrelaudio/kestrel-go/internal/supervisor"
)

// engineService owns the engine lifecycle under the supervisor: it builds
// the sink and the configured streams, waits for shutdown or mixer death,
// and reopens the engine with exponential backoff after sink failures.
// It doubles as the health endpoint's status provider.
type engineService struct {
	cfg     *config.Config
	log     *slog.Logger
	backoff *supervisor.Backoff

	mu  sync.Mutex
	eng *engine.Engine
}

func newEngineService(cfg *config.Config, logger *slog.Logger) *engineService {
	return &engineService{
		cfg:     cfg,
		log:     logger,
		backoff: supervisor.NewBackoff(2*time.Second, time.Minute, 0),
	}
}

func (s *engineService) Name() string { return "engine" }

// Run keeps an engine alive until ctx is cancelled.
func (s *engineService) Run(ctx context.Context) error {
	for {
		start := time.Now()
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.backoff.RecordSuccess(time.Since(start))
		s.log.Error("engine died, reopening",
			"error", err,
			"backoff", s.backoff.CurrentDelay().String(),
		)
		if werr := s.backoff.WaitContext(ctx); werr != nil {
			return werr
		}
	}
}

// runOnce builds one engine instance and blocks until it dies or ctx is
// cancelled.
func (s *engineService) runOnce(ctx context.Context) error {
	out := pcm.Format{
		SampleRate: s.cfg.Output.SampleRate,
		Channels:   s.cfg.Output.Channels,
	}

	snk, err := s.buildSink(out)
	if err != nil {
		return err
	}

	eng, err := engine.Open(snk, out,
		engine.WithLogger(s.log),
		engine.WithMaxSilence(s.cfg.Engine.MaxSilence),
	)
	if err != nil {
		_ = snk.Close()
		return err
	}
	eng.SetVolume(s.cfg.Engine.MasterVolume)

	s.mu.Lock()
	s.eng = eng
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.eng = nil
		s.mu.Unlock()
		if cerr := eng.Close(); cerr != nil {
			s.log.Warn("engine close", "error", cerr)
		}
	}()

	// Sorted for deterministic startup order and logs.
	names := make([]string, 0, len(s.cfg.Streams))
	for name := range s.cfg.Streams {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := s.addStream(eng, name); err != nil {
			s.log.Error("failed to add stream", "stream", name, "error", err)
		}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-eng.Done():
		if err := eng.Err(); err != nil {
			return err
		}
		return fmt.Errorf("mixer exited")
	}
}

// buildSink creates the configured sink backend.
func (s *engineService) buildSink(out pcm.Format) (sink.Sink, error) {
	o := s.cfg.Output
	switch o.Backend {
	case "portaudio":
		var opts []paudio.Option
		if o.BlockFrames > 0 {
			opts = append(opts, paudio.WithBlockFrames(o.BlockFrames))
		}
		return paudio.New(out, opts...)

	case "null":
		opts := []sink.NullOption{sink.WithNullPacing()}
		if o.BlockFrames > 0 {
			opts = append(opts, sink.WithNullBlockFrames(o.BlockFrames))
		}
		return sink.NewNull(out, opts...), nil

	case "file":
		f, err := os.OpenFile(o.Path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640) // #nosec G302 G304
		if err != nil {
			return nil, fmt.Errorf("open output file: %w", err)
		}
		var opts []sink.WriterOption
		if o.BlockFrames > 0 {
			opts = append(opts, sink.WithWriterBlockFrames(o.BlockFrames))
		}
		return sink.NewWriter(f, out, opts...), nil

	default:
		return nil, fmt.Errorf("unknown sink backend %q", o.Backend)
	}
}

// addStream builds one configured stream and starts it unless paused.
func (s *engineService) addStream(eng *engine.Engine, name string) error {
	sc, _ := s.cfg.ResolveStream(name)
	in := pcm.Format{SampleRate: sc.SampleRate, Channels: sc.Channels}

	var read resample.ReadFunc
	switch sc.Source {
	case "tone":
		read = source.NewTone(in, sc.Frequency, sc.Amplitude).Read
	case "file":
		src, err := source.OpenFile(sc.Path, in, sc.Loop)
		if err != nil {
			return err
		}
		read = src.Read
	default:
		return fmt.Errorf("unknown source %q", sc.Source)
	}

	st, err := eng.AddStream(engine.StreamConfig{
		Name:        name,
		Format:      in,
		Read:        read,
		CacheFrames: sc.CacheFrames,
		Threaded:    sc.Threaded,
		Volume:      sc.Volume,
		Events: func(st *engine.Stream, ev engine.Event) {
			s.log.Info("stream event", "stream", st.Name(), "event", ev.String())
		},
	})
	if err != nil {
		return err
	}
	if !sc.Paused {
		st.Play()
	}
	return nil
}

// Streams implements health.StatusProvider.
func (s *engineService) Streams() []health.StreamInfo {
	s.mu.Lock()
	eng := s.eng
	s.mu.Unlock()
	if eng == nil {
		return nil
	}

	streams := eng.Streams()
	out := make([]health.StreamInfo, 0, len(streams))
	for _, st := range streams {
		out = append(out, health.StreamInfo{
			Name:         st.Name(),
			State:        engine.State(st.Status(engine.StatusState)).String(),
			PlayedMS:     st.Status(engine.StatusPlayed),
			CacheFilling: int(st.Status(engine.StatusCacheFilling)),
			CacheDelayFr: st.Status(engine.StatusCacheDelay),
			Buffering:    st.Status(engine.StatusCacheState) == engine.CacheBuffering,
			Volume:       st.Volume(),
		})
	}
	return out
}

// Engine implements health.StatusProvider.
func (s *engineService) Engine() health.EngineInfo {
	s.mu.Lock()
	eng := s.eng
	s.mu.Unlock()
	if eng == nil {
		return health.EngineInfo{}
	}

	alive := true
	select {
	case <-eng.Done():
		alive = false
	default:
	}
	return health.EngineInfo{
		MasterVolume: eng.Volume(),
		OutputFormat: eng.Format().String(),
		MixerAlive:   alive,
	}
}
