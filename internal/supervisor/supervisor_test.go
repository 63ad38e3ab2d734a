// SPDX-License-Identifier: MIT

package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingService struct {
	name     string
	runs     atomic.Int32
	failures int32 // fail this many runs before settling
}

func (s *countingService) Name() string { return s.name }

func (s *countingService) Run(ctx context.Context) error {
	run := s.runs.Add(1)
	if run <= s.failures {
		return errors.New("transient failure")
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestAddRejectsDuplicates(t *testing.T) {
	sup := New(Config{})
	if err := sup.Add(&countingService{name: "svc"}); err != nil {
		t.Fatal(err)
	}
	if err := sup.Add(&countingService{name: "svc"}); err == nil {
		t.Error("duplicate Add succeeded")
	}
	if got := sup.ServiceCount(); got != 1 {
		t.Errorf("ServiceCount() = %d, want 1", got)
	}
}

func TestRunRestartsFailedService(t *testing.T) {
	sup := New(Config{Name: "test", StopTimeout: time.Second})
	svc := &countingService{name: "flappy", failures: 2}
	if err := sup.Add(svc); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	deadline := time.Now().Add(10 * time.Second)
	for svc.runs.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("service restarted %d times, want 3 runs", svc.runs.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop on context cancellation")
	}
}

func TestRemoveStopsService(t *testing.T) {
	sup := New(Config{StopTimeout: time.Second})
	svc := &countingService{name: "svc"}
	if err := sup.Add(svc); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sup.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for svc.runs.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("service never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := sup.Remove("svc"); err != nil {
		t.Fatalf("Remove() = %v", err)
	}
	if err := sup.Remove("svc"); err == nil {
		t.Error("second Remove succeeded")
	}
	if got := sup.ServiceCount(); got != 0 {
		t.Errorf("ServiceCount() = %d, want 0", got)
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	b := NewBackoff(10*time.Millisecond, 35*time.Millisecond, 3)

	if got := b.CurrentDelay(); got != 10*time.Millisecond {
		t.Fatalf("initial delay = %v", got)
	}
	b.RecordFailure()
	if got := b.CurrentDelay(); got != 20*time.Millisecond {
		t.Errorf("after 1 failure = %v, want 20ms", got)
	}
	b.RecordFailure()
	if got := b.CurrentDelay(); got != 35*time.Millisecond {
		t.Errorf("after 2 failures = %v, want capped 35ms", got)
	}
	if b.Exhausted() {
		t.Error("exhausted after 2 of 3 attempts")
	}
	b.RecordFailure()
	if !b.Exhausted() {
		t.Error("not exhausted after 3 of 3 attempts")
	}

	b.Reset()
	if b.Exhausted() || b.CurrentDelay() != 10*time.Millisecond {
		t.Errorf("Reset left delay=%v attempts=%d", b.CurrentDelay(), b.Attempts())
	}
}

func TestBackoffSuccessSemantics(t *testing.T) {
	b := NewBackoff(10*time.Millisecond, time.Second, 0)
	b.RecordFailure()
	b.RecordFailure()

	// A short run does not reset the backoff.
	b.RecordSuccess(time.Millisecond)
	if got := b.Attempts(); got != 3 {
		t.Errorf("Attempts after short run = %d, want 3", got)
	}

	// A long run does.
	b.RecordSuccess(DefaultSuccessThreshold + time.Second)
	if got := b.CurrentDelay(); got != 10*time.Millisecond {
		t.Errorf("delay after long run = %v, want initial", got)
	}
	if got := b.Attempts(); got != 0 {
		t.Errorf("Attempts after long run = %d, want 0", got)
	}
}

func TestBackoffWaitContext(t *testing.T) {
	b := NewBackoff(50*time.Millisecond, time.Second, 0)

	start := time.Now()
	if err := b.WaitContext(context.Background()); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("WaitContext returned after %v, want ~50ms", elapsed)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.WaitContext(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("WaitContext on cancelled ctx = %v", err)
	}

	var nb *Backoff
	if err := nb.WaitContext(context.Background()); err != nil {
		t.Errorf("nil backoff WaitContext = %v", err)
	}
}
