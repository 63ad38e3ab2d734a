// SPDX-License-Identifier: MIT

// Package supervisor runs the daemon's long-lived services (the mixing
// engine wrapper, the health endpoint) under a suture supervision tree:
// failed services restart automatically with suture's failure accounting,
// and shutdown is coordinated through context cancellation.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"
)

// Service is the interface supervised services implement. Run should block
// until ctx is cancelled or the service hits an unrecoverable error; on
// error return the service is restarted.
type Service interface {
	Run(ctx context.Context) error
	Name() string
}

// Config contains supervisor tuning.
type Config struct {
	// Name identifies the supervision tree in logs. Default: "kestrel".
	Name string

	// StopTimeout is how long a service gets to honor cancellation
	// before it is abandoned. Default: 10 seconds.
	StopTimeout time.Duration

	// Logger receives supervision events. nil = silent.
	Logger *slog.Logger
}

// Supervisor wraps a suture supervision tree with name-keyed service
// management.
type Supervisor struct {
	sut *suture.Supervisor
	log *slog.Logger

	mu     sync.Mutex
	tokens map[string]suture.ServiceToken
}

// New creates a supervisor.
func New(cfg Config) *Supervisor {
	if cfg.Name == "" {
		cfg.Name = "kestrel"
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}

	s := &Supervisor{
		log:    cfg.Logger,
		tokens: make(map[string]suture.ServiceToken),
	}
	s.sut = suture.New(cfg.Name, suture.Spec{
		EventHook: s.onEvent,
		Timeout:   cfg.StopTimeout,
	})
	return s
}

// Add registers a service. Services added before Run start when Run is
// called; services added later start immediately.
func (s *Supervisor) Add(svc Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := svc.Name()
	if _, exists := s.tokens[name]; exists {
		return fmt.Errorf("service %q already registered", name)
	}
	s.tokens[name] = s.sut.Add(serviceAdapter{svc})
	if s.log != nil {
		s.log.Info("service added", "service", name)
	}
	return nil
}

// Remove unregisters and stops a service.
func (s *Supervisor) Remove(name string) error {
	s.mu.Lock()
	token, exists := s.tokens[name]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("service %q not found", name)
	}
	delete(s.tokens, name)
	s.mu.Unlock()

	if err := s.sut.Remove(token); err != nil {
		return fmt.Errorf("failed to remove service %q: %w", name, err)
	}
	if s.log != nil {
		s.log.Info("service removed", "service", name)
	}
	return nil
}

// ServiceCount returns the number of registered services.
func (s *Supervisor) ServiceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

// Run starts the supervision tree and blocks until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	return s.sut.Serve(ctx)
}

// onEvent forwards suture supervision events to the logger.
func (s *Supervisor) onEvent(ev suture.Event) {
	if s.log == nil {
		return
	}
	switch ev.Type() {
	case suture.EventTypeServiceTerminate, suture.EventTypeServicePanic:
		s.log.Warn("service failure", "event", ev.String())
	default:
		s.log.Debug("supervision event", "event", ev.String())
	}
}

// serviceAdapter bridges Service onto suture.Service.
type serviceAdapter struct {
	svc Service
}

func (a serviceAdapter) Serve(ctx context.Context) error {
	return a.svc.Run(ctx)
}

func (a serviceAdapter) String() string {
	return a.svc.Name()
}
