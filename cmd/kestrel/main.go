// SPDX-License-Identifier: MIT

// Package main implements kestrel, the interactive mixing console.
//
// kestrel opens the playback sink and drops into a transport menu: add
// tone or file streams, play/pause/flush/abort them, adjust per-stream and
// master volume, and watch cache state — without memorizing any API.
//
// Usage:
//
//	kestrel [options]
//
// Options:
//
//	--backend=NAME  Sink backend: portaudio, null or file (default: portaudio)
//	--out=PATH      Output file for the file backend (default: out.pcm)
//	--rate=HZ       Output sample rate (default: 48000)
//	--channels=N    Output channels (default: 2)
//	--version       Print version and exit
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/kestrelaudio/kestrel-go/internal/engine"
	"github.com/kestrelaudio/kestrel-go/internal/menu"
	"github.com/kestrelaudio/kestrel-go/internal/pcm"
	"github.com/kestrelaudio/kestrel-go/internal/sink"
	paudio "github.com/kestrelaudio/kestrel-go/internal/sink/portaudio"
	"github.com/kestrelaudio/kestrel-go/internal/source"
)

// Build information (set by ldflags).
var (
	Version = "dev"
)

var (
	backend     = flag.String("backend", "portaudio", "Sink backend: portaudio, null or file")
	outPath     = flag.String("out", "out.pcm", "Output file for the file backend")
	rate        = flag.Int("rate", 48000, "Output sample rate in Hz")
	channels    = flag.Int("channels", 2, "Output channels")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("kestrel %s\n", Version)
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "kestrel: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	out := pcm.Format{SampleRate: *rate, Channels: *channels}

	snk, err := buildSink(out)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	eng, err := engine.Open(snk, out, engine.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() {
		if err := eng.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "kestrel: close: %v\n", err)
		}
	}()

	c := &console{eng: eng, out: out}
	return c.menu().Run()
}

func buildSink(out pcm.Format) (sink.Sink, error) {
	switch *backend {
	case "portaudio":
		return paudio.New(out)
	case "null":
		return sink.NewNull(out, sink.WithNullPacing()), nil
	case "file":
		f, err := os.OpenFile(*outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640) // #nosec G302 G304
		if err != nil {
			return nil, err
		}
		return sink.NewWriter(f, out), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", *backend)
	}
}

// console binds the transport menu to one engine.
type console struct {
	eng *engine.Engine
	out pcm.Format
	seq int
}

func (c *console) menu() *menu.Menu {
	m := menu.New("kestrel transport")
	m.Add("status", "Show status", c.status)
	m.Add("tone", "Add tone stream", c.addTone)
	m.Add("file", "Add file stream", c.addFile)
	m.Add("play", "Play stream", c.forStream(func(s *engine.Stream) error { s.Play(); return nil }))
	m.Add("pause", "Pause stream", c.forStream(func(s *engine.Stream) error { s.Pause(); return nil }))
	m.Add("flush", "Flush stream", c.forStream(func(s *engine.Stream) error { s.Flush(); return nil }))
	m.Add("volume", "Set stream volume", c.forStream(c.setVolume))
	m.Add("abort", "Abort stream", c.forStream(func(s *engine.Stream) error {
		fmt.Printf("%s: played %d ms\n", s.Name(), s.Abort())
		return nil
	}))
	m.Add("remove", "Remove stream", c.forStream(func(s *engine.Stream) error { s.Remove(); return nil }))
	m.Add("master", "Set master volume", c.setMaster)
	m.Add("devices", "List output devices", listDevices)
	m.Add("q", "Quit", func() error { return menu.ErrQuit })
	return m
}

func (c *console) status() error {
	fmt.Printf("output %s, master volume %d\n", c.out, c.eng.Volume())
	streams := c.eng.Streams()
	if len(streams) == 0 {
		fmt.Println("no streams")
		return nil
	}
	for _, s := range streams {
		state := engine.State(s.Status(engine.StatusState))
		fmt.Printf("  %-12s %-8s vol=%-3d played=%dms cache=%d%% delay=%d frames\n",
			s.Name(), state, s.Volume(),
			s.Status(engine.StatusPlayed),
			s.Status(engine.StatusCacheFilling),
			s.Status(engine.StatusCacheDelay),
		)
	}
	return nil
}

func (c *console) addTone() error {
	freq, err := strconv.ParseFloat(menu.Input(os.Stdin, os.Stdout, "Frequency (Hz)"), 64)
	if err != nil || freq <= 0 {
		return fmt.Errorf("invalid frequency")
	}

	c.seq++
	name := fmt.Sprintf("tone%d", c.seq)
	tone := source.NewTone(c.out, freq, 0.25)
	s, err := c.eng.AddStream(engine.StreamConfig{
		Name:   name,
		Format: c.out,
		Read:   tone.Read,
	})
	if err != nil {
		return err
	}
	s.Play()
	fmt.Printf("added %s at %.0f Hz\n", name, freq)
	return nil
}

func (c *console) addFile() error {
	path := menu.Input(os.Stdin, os.Stdout, "Raw PCM file path")
	if path == "" {
		return fmt.Errorf("no path given")
	}
	src, err := source.OpenFile(path, c.out, false)
	if err != nil {
		return err
	}

	c.seq++
	name := fmt.Sprintf("file%d", c.seq)
	s, err := c.eng.AddStream(engine.StreamConfig{
		Name:   name,
		Format: c.out,
		Read:   src.Read,
	})
	if err != nil {
		_ = src.Close()
		return err
	}
	s.Play()
	fmt.Printf("added %s from %s\n", name, path)
	return nil
}

// forStream wraps an action with stream selection.
func (c *console) forStream(action func(*engine.Stream) error) func() error {
	return func() error {
		streams := c.eng.Streams()
		if len(streams) == 0 {
			return fmt.Errorf("no streams")
		}
		labels := make([]string, len(streams))
		for i, s := range streams {
			labels[i] = fmt.Sprintf("%s (%s)", s.Name(), engine.State(s.Status(engine.StatusState)))
		}
		idx := menu.Select(os.Stdin, os.Stdout, "Which stream?", labels)
		if idx < 0 {
			return nil
		}
		return action(streams[idx])
	}
}

func (c *console) setVolume(s *engine.Stream) error {
	v, err := strconv.Atoi(menu.Input(os.Stdin, os.Stdout, "Volume (0-100)"))
	if err != nil {
		return fmt.Errorf("invalid volume")
	}
	s.SetVolume(v)
	return nil
}

func listDevices() error {
	devices, err := paudio.ListOutputDevices()
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("no output devices")
		return nil
	}
	for _, d := range devices {
		mark := " "
		if d.IsDefault {
			mark = "*"
		}
		fmt.Printf("%s %-40s %dch @ %.0f Hz\n", mark, d.Name, d.MaxOutputChannels, d.DefaultSampleRate)
	}
	return nil
}

func (c *console) setMaster() error {
	v, err := strconv.Atoi(menu.Input(os.Stdin, os.Stdout, "Master volume (0-100)"))
	if err != nil {
		return fmt.Errorf("invalid volume")
	}
	c.eng.SetVolume(v)
	return nil
}
