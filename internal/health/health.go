// SPDX-License-Identifier: MIT

// Package health provides the HTTP health endpoint for the kestrel daemon.
//
// /healthz returns per-stream transport state as JSON, suitable for systemd
// watchdog or monitoring probes. /metrics exposes mixer liveness,
// master volume and per-stream playing, played time, cache filling and
// buffering in a minimal Prometheus text format without pulling in a
// client library; cache delay, stream volume and output format are
// reported only by /healthz.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// StreamInfo describes the mixer-visible state of one stream.
type StreamInfo struct {
	Name         string `json:"name"`
	State        string `json:"state"`          // playing, paused, ended
	PlayedMS     int64  `json:"played_ms"`      // total played duration
	CacheFilling int    `json:"cache_filling"`  // 0..100
	CacheDelayFr int64  `json:"cache_delay"`    // frames pending downstream
	Buffering    bool   `json:"buffering"`      // cache below ready threshold
	Volume       int    `json:"volume"`         // 0..100
}

// EngineInfo describes engine-level state included in the health response.
type EngineInfo struct {
	MasterVolume int    `json:"master_volume"`
	OutputFormat string `json:"output_format"`
	MixerAlive   bool   `json:"mixer_alive"`
}

// StatusProvider returns the current state of the engine and its streams.
// The daemon implements this interface to supply live data.
type StatusProvider interface {
	Streams() []StreamInfo
	Engine() EngineInfo
}

// Response is the JSON body returned by the health endpoint.
type Response struct {
	Status    string       `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
	Engine    EngineInfo   `json:"engine"`
	Streams   []StreamInfo `json:"streams"`
}

// Handler serves the /healthz and /metrics endpoints.
type Handler struct {
	provider StatusProvider
}

// NewHandler creates a health check HTTP handler.
func NewHandler(provider StatusProvider) *Handler {
	return &Handler{provider: provider}
}

// ServeHTTP implements http.Handler, routing to /healthz and /metrics.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/metrics":
		h.serveMetrics(w, r)
	default:
		h.serveHealth(w, r)
	}
}

func (h *Handler) serveHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	resp := Response{Timestamp: time.Now()}
	if h.provider != nil {
		resp.Streams = h.provider.Streams()
		resp.Engine = h.provider.Engine()
	}

	// A dead mixer is the one condition that makes the daemon unhealthy;
	// buffering streams are a normal transient.
	if resp.Engine.MixerAlive {
		resp.Status = "healthy"
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
	} else {
		resp.Status = "unhealthy"
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// serveMetrics writes a Prometheus text-format response. Minimal subset of
// the exposition format, no client library needed.
func (h *Handler) serveMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var sb strings.Builder

	var streams []StreamInfo
	var eng EngineInfo
	if h.provider != nil {
		streams = h.provider.Streams()
		eng = h.provider.Engine()
	}

	alive := 0
	if eng.MixerAlive {
		alive = 1
	}
	fmt.Fprintln(&sb, "# HELP kestrel_mixer_alive 1 while the mixer goroutine is running.")
	fmt.Fprintln(&sb, "# TYPE kestrel_mixer_alive gauge")
	fmt.Fprintf(&sb, "kestrel_mixer_alive %d\n", alive)

	fmt.Fprintln(&sb, "# HELP kestrel_master_volume Master volume, 0-100.")
	fmt.Fprintln(&sb, "# TYPE kestrel_master_volume gauge")
	fmt.Fprintf(&sb, "kestrel_master_volume %d\n", eng.MasterVolume)

	if len(streams) > 0 {
		fmt.Fprintln(&sb, "# HELP kestrel_stream_playing 1 while the stream is in the playing state.")
		fmt.Fprintln(&sb, "# TYPE kestrel_stream_playing gauge")
		for _, s := range streams {
			v := 0
			if s.State == "playing" {
				v = 1
			}
			fmt.Fprintf(&sb, "kestrel_stream_playing{stream=%q} %d\n", s.Name, v)
		}

		fmt.Fprintln(&sb, "# HELP kestrel_stream_played_ms_total Milliseconds of audio played by the stream.")
		fmt.Fprintln(&sb, "# TYPE kestrel_stream_played_ms_total counter")
		for _, s := range streams {
			fmt.Fprintf(&sb, "kestrel_stream_played_ms_total{stream=%q} %d\n", s.Name, s.PlayedMS)
		}

		fmt.Fprintln(&sb, "# HELP kestrel_stream_cache_filling Cache buffering progress, 0-100.")
		fmt.Fprintln(&sb, "# TYPE kestrel_stream_cache_filling gauge")
		for _, s := range streams {
			fmt.Fprintf(&sb, "kestrel_stream_cache_filling{stream=%q} %d\n", s.Name, s.CacheFilling)
		}

		fmt.Fprintln(&sb, "# HELP kestrel_stream_buffering 1 while the stream is waiting for its cache.")
		fmt.Fprintln(&sb, "# TYPE kestrel_stream_buffering gauge")
		for _, s := range streams {
			v := 0
			if s.Buffering {
				v = 1
			}
			fmt.Fprintf(&sb, "kestrel_stream_buffering{stream=%q} %d\n", s.Name, v)
		}
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(sb.String()))
}

// ListenAndServe starts the health HTTP server on addr and shuts down
// gracefully when ctx is cancelled.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	return ListenAndServeReady(ctx, addr, handler, nil)
}

// ListenAndServeReady binds the listener synchronously so port-in-use
// errors surface immediately, then closes ready (if non-nil) once the
// endpoint is reachable.
func ListenAndServeReady(ctx context.Context, addr string, handler http.Handler, ready chan<- struct{}) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	if ready != nil {
		close(ready)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
