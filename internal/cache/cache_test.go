// SPDX-License-Identifier: MIT

package cache

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kestrelaudio/kestrel-go/internal/pcm"
)

// fillValue returns a ReadFunc producing constant-valued mono frames until
// limit frames have been produced, then 0 frames forever.
func fillValue(value pcm.Sample, limit int64) ReadFunc {
	var produced int64
	return func(dst []pcm.Sample, maxFrames int) (int, pcm.Format, error) {
		n := maxFrames
		if n > 100 {
			n = 100
		}
		if remaining := limit - atomic.LoadInt64(&produced); int64(n) > remaining {
			n = int(remaining)
		}
		for i := 0; i < n; i++ {
			dst[i] = value
		}
		atomic.AddInt64(&produced, int64(n))
		return n, pcm.Format{}, nil
	}
}

func waitReady(t *testing.T, c *Cache) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !c.Ready() {
		if time.Now().After(deadline) {
			t.Fatalf("cache did not become ready (filling=%d%%)", c.Filling())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestOpenValidation(t *testing.T) {
	cb := func(dst []pcm.Sample, maxFrames int) (int, pcm.Format, error) {
		return 0, pcm.Format{}, nil
	}

	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{"zero capacity", Config{Frames: 0, Channels: 1, Read: cb}, ErrCapacity},
		{"negative capacity", Config{Frames: -5, Channels: 1, Read: cb}, ErrCapacity},
		{"zero channels", Config{Frames: 100, Channels: 0, Read: cb}, ErrChannels},
		{"thread without callback", Config{Frames: 100, Channels: 1, Mode: ModeThread}, ErrNoCallback},
		{"on-demand without callback", Config{Frames: 100, Channels: 1, Mode: ModeOnDemand}, nil},
		{"valid threaded", Config{Frames: 100, Channels: 2, Mode: ModeThread, Read: cb}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Open(tt.cfg)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Open() error = %v, want %v", err, tt.wantErr)
			}
			c.Close()
		})
	}
}

func TestNilCacheIsNeutral(t *testing.T) {
	var c *Cache
	c.Close()
	c.Flush()
	c.Lock()
	c.Unlock()
	if c.Ready() {
		t.Error("nil cache reports ready")
	}
	if got := c.Filling(); got != 0 {
		t.Errorf("nil cache Filling() = %d", got)
	}
	if got := c.Delay(); got != 0 {
		t.Errorf("nil cache Delay() = %d", got)
	}
	if got := c.Write([]pcm.Sample{1}, 1, pcm.Format{}); got != 0 {
		t.Errorf("nil cache Write() = %d", got)
	}
	n, _, err := c.Read(make([]pcm.Sample, 8), 8)
	if n != 0 || err != nil {
		t.Errorf("nil cache Read() = %d, %v", n, err)
	}
	if err := c.SetCapacity(10); err != nil {
		t.Errorf("nil cache SetCapacity() = %v", err)
	}
}

func TestThreadedFillThenDrain(t *testing.T) {
	c, err := Open(Config{
		Frames:   1000,
		Channels: 1,
		Mode:     ModeThread,
		Read:     fillValue(1, 1000),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	waitReady(t, c)

	if got := c.Filling(); got != 100 {
		t.Errorf("Filling() = %d, want 100", got)
	}

	dst := make([]pcm.Sample, 1000)
	n, _, err := c.Read(dst, 1000)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if n != 1000 {
		t.Fatalf("Read() = %d frames, want 1000", n)
	}
	for i, s := range dst {
		if s != 1 {
			t.Fatalf("frame %d = %v, want 1", i, s)
		}
	}

	if c.Ready() {
		t.Error("cache still ready after draining to empty")
	}
	if got := c.Delay(); got != 0 {
		t.Errorf("Delay() = %d after drain, want 0", got)
	}
}

func TestFormatBoundary(t *testing.T) {
	c, err := Open(Config{Frames: 1000, Channels: 2, Mode: ModeOnDemand})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	cd := pcm.Format{SampleRate: 44100, Channels: 2}
	dat := pcm.Format{SampleRate: 48000, Channels: 2}

	buf := make([]pcm.Sample, 500*2)
	for i := range buf {
		buf[i] = 11
	}
	if got := c.Write(buf, 500, cd); got != 500 {
		t.Fatalf("first Write accepted %d frames", got)
	}
	for i := range buf {
		buf[i] = 22
	}
	if got := c.Write(buf, 500, dat); got != 500 {
		t.Fatalf("second Write accepted %d frames", got)
	}
	if !c.Ready() {
		t.Fatal("cache not ready at capacity")
	}

	// A single read of 1000 frames must stop at the format boundary.
	dst := make([]pcm.Sample, 1000*2)
	n, f, err := c.Read(dst, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if n != 500 || f != cd {
		t.Fatalf("first Read = %d frames at %v, want 500 at %v", n, f, cd)
	}
	for i := 0; i < n*2; i++ {
		if dst[i] != 11 {
			t.Fatalf("sample %d = %v, want 11", i, dst[i])
		}
	}

	n, f, err = c.Read(dst, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if n != 500 || f != dat {
		t.Fatalf("second Read = %d frames at %v, want 500 at %v", n, f, dat)
	}
	for i := 0; i < n*2; i++ {
		if dst[i] != 22 {
			t.Fatalf("sample %d = %v, want 22", i, dst[i])
		}
	}
}

func TestFlushDiscardsPreFlushSamples(t *testing.T) {
	var phase atomic.Int32 // 0: produce 1s, 1: produce 2s
	cb := func(dst []pcm.Sample, maxFrames int) (int, pcm.Format, error) {
		v := pcm.Sample(1)
		if phase.Load() == 1 {
			v = 2
		}
		n := maxFrames
		if n > 100 {
			n = 100
		}
		for i := 0; i < n; i++ {
			dst[i] = v
		}
		return n, pcm.Format{}, nil
	}

	c, err := Open(Config{Frames: 1000, Channels: 1, Mode: ModeThread, Read: cb})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	waitReady(t, c)

	phase.Store(1)
	c.Flush()

	if got := c.Delay(); got != 0 {
		t.Errorf("Delay() = %d after flush, want 0", got)
	}
	if c.Ready() {
		t.Error("ready after flush")
	}
	if got := c.Filling(); got != 0 {
		t.Errorf("Filling() = %d after flush, want 0", got)
	}

	// Resume production; everything drained from now on must belong to
	// the post-flush timeline.
	c.Unlock()
	waitReady(t, c)

	dst := make([]pcm.Sample, 1000)
	n, _, err := c.Read(dst, 1000)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < n; i++ {
		if dst[i] != 2 {
			t.Fatalf("frame %d = %v, want post-flush value 2", i, dst[i])
		}
	}
}

func TestReadinessHysteresis(t *testing.T) {
	c, err := Open(Config{Frames: 100, Channels: 1, Mode: ModeOnDemand})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	f := pcm.Format{SampleRate: 48000, Channels: 1}
	buf := make([]pcm.Sample, 100)

	c.Write(buf, 50, f)
	if c.Ready() {
		t.Fatal("ready at half fill before first full")
	}
	if got := c.Filling(); got != 50 {
		t.Errorf("Filling() = %d, want 50", got)
	}

	c.Write(buf, 50, f)
	if !c.Ready() {
		t.Fatal("not ready at capacity")
	}

	// Partially drained: still ready, still reports 100.
	dst := make([]pcm.Sample, 100)
	if n, _, _ := c.Read(dst, 60); n != 60 {
		t.Fatal("short read")
	}
	if !c.Ready() {
		t.Error("ready dropped while non-empty")
	}
	if got := c.Filling(); got != 100 {
		t.Errorf("Filling() = %d while ready, want 100", got)
	}

	// Emptied: readiness resets and the cache re-buffers.
	if n, _, _ := c.Read(dst, 40); n != 40 {
		t.Fatal("short read")
	}
	if c.Ready() {
		t.Error("ready after running empty")
	}

	c.Write(buf, 30, f)
	if n, _, _ := c.Read(dst, 30); n != 0 {
		t.Errorf("Read() = %d frames while re-buffering, want 0", n)
	}
}

func TestCallbackErrorDrainsThenFails(t *testing.T) {
	errSource := errors.New("source went away")
	var calls atomic.Int32
	cb := func(dst []pcm.Sample, maxFrames int) (int, pcm.Format, error) {
		if calls.Add(1) > 1 {
			return 0, pcm.Format{}, errSource
		}
		n := 150
		if n > maxFrames {
			n = maxFrames
		}
		for i := 0; i < n; i++ {
			dst[i] = 7
		}
		return n, pcm.Format{SampleRate: 48000, Channels: 1}, nil
	}

	c, err := Open(Config{Frames: 400, Channels: 1, Mode: ModeOnDemand, Read: cb})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	// The cache never reached capacity, but buffered frames present at
	// the moment of failure must still be drained before the error.
	dst := make([]pcm.Sample, 400)
	n, _, err := c.Read(dst, 400)
	if err != nil {
		t.Fatalf("first Read error = %v, want buffered drain", err)
	}
	if n != 150 {
		t.Fatalf("first Read = %d frames, want 150", n)
	}

	n, _, err = c.Read(dst, 400)
	if n != 0 || !errors.Is(err, errSource) {
		t.Fatalf("second Read = %d, %v; want 0, %v", n, err, errSource)
	}
}

func TestSetCapacity(t *testing.T) {
	c, err := Open(Config{Frames: 100, Channels: 2, Mode: ModeOnDemand})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	f := pcm.Format{SampleRate: 48000, Channels: 2}
	buf := make([]pcm.Sample, 80*2)
	for i := range buf {
		buf[i] = pcm.Sample(i)
	}
	c.Write(buf, 80, f)

	if err := c.SetCapacity(40); !errors.Is(err, ErrCapacity) {
		t.Fatalf("shrink below fill: err = %v, want ErrCapacity", err)
	}
	if got := c.Delay(); got != 80 {
		t.Fatalf("fill changed after failed resize: %d", got)
	}

	if err := c.SetCapacity(200); err != nil {
		t.Fatalf("grow: %v", err)
	}

	dst := make([]pcm.Sample, 80*2)
	// Not ready yet (never filled); top the grown buffer up to capacity.
	big := make([]pcm.Sample, 120*2)
	c.Write(big, 120, f)
	n, _, err := c.Read(dst, 80)
	if err != nil || n != 80 {
		t.Fatalf("Read after resize = %d, %v", n, err)
	}
	for i := 0; i < 80*2; i++ {
		if dst[i] != pcm.Sample(i) {
			t.Fatalf("sample %d = %v after resize, want %v", i, dst[i], pcm.Sample(i))
		}
	}
}

func TestLockExcludesCallback(t *testing.T) {
	var calls atomic.Int64
	cb := func(dst []pcm.Sample, maxFrames int) (int, pcm.Format, error) {
		calls.Add(1)
		// Keep the cache hungry so the producer keeps calling.
		return 0, pcm.Format{}, nil
	}

	c, err := Open(Config{Frames: 100, Channels: 1, Mode: ModeThread, Read: cb})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	// Wait for the producer to spin up.
	deadline := time.Now().Add(time.Second)
	for calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("producer never invoked the callback")
		}
		time.Sleep(time.Millisecond)
	}

	c.Lock()
	settled := calls.Load()
	time.Sleep(20 * time.Millisecond)
	if got := calls.Load(); got > settled+1 {
		t.Errorf("callback invoked %d times while locked", got-settled)
	}

	c.Unlock()
	deadline = time.Now().Add(time.Second)
	for calls.Load() <= settled {
		if time.Now().After(deadline) {
			t.Fatal("producer did not resume after unlock")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestCloseJoinsProducer(t *testing.T) {
	c, err := Open(Config{
		Frames:   100,
		Channels: 1,
		Mode:     ModeThread,
		Read:     fillValue(1, 1<<40),
	})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		c.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not join the producer goroutine")
	}

	// Closing again is a no-op.
	c.Close()
}

func TestCloseWhileLocked(t *testing.T) {
	c, err := Open(Config{
		Frames:   100,
		Channels: 1,
		Mode:     ModeThread,
		Read:     fillValue(1, 1<<40),
	})
	if err != nil {
		t.Fatal(err)
	}

	c.Lock()
	done := make(chan struct{})
	go func() {
		c.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on a held input gate")
	}
}
