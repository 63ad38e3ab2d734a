// SPDX-License-Identifier: MIT

// Package config defines the daemon configuration: the fixed output format
// and sink backend, engine tuning, and the set of streams to create at
// startup. Configuration loads from a YAML file with KESTREL_* environment
// overrides via koanf; see koanf.go.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFilePath is the default location for the configuration file.
const ConfigFilePath = "/etc/kestrel/config.yaml"

// Config represents the complete daemon configuration.
type Config struct {
	// Output describes the playback sink and the engine output format.
	Output OutputConfig `yaml:"output" koanf:"output"`

	// Engine contains mixing engine tuning.
	Engine EngineConfig `yaml:"engine" koanf:"engine"`

	// Streams contains the streams created at startup, keyed by name.
	Streams map[string]StreamConfig `yaml:"streams" koanf:"streams"`

	// Monitor contains health endpoint settings.
	Monitor MonitorConfig `yaml:"monitor" koanf:"monitor"`
}

// OutputConfig selects the sink backend and the fixed output format.
type OutputConfig struct {
	SampleRate  int    `yaml:"sample_rate" koanf:"sample_rate"`   // Output sample rate in Hz (e.g. 48000)
	Channels    int    `yaml:"channels" koanf:"channels"`         // Output channels (1=mono, 2=stereo)
	Backend     string `yaml:"backend" koanf:"backend"`           // Sink backend: "portaudio", "null" or "file"
	Path        string `yaml:"path" koanf:"path"`                 // Raw PCM output path for the file backend
	BlockFrames int    `yaml:"block_frames" koanf:"block_frames"` // Frames per sink write (0 = backend default)
}

// Format returns the output format as a (rate, channels) pair.
func (o OutputConfig) Format() (sampleRate, channels int) {
	return o.SampleRate, o.Channels
}

// EngineConfig contains mixing engine tuning.
type EngineConfig struct {
	MasterVolume int           `yaml:"master_volume" koanf:"master_volume"` // Initial master volume, 0..100
	MaxSilence   time.Duration `yaml:"max_silence" koanf:"max_silence"`     // Idle time before the sink is drained
	CacheFrames  int           `yaml:"cache_frames" koanf:"cache_frames"`   // Default per-stream cache capacity
	LockDir      string        `yaml:"lock_dir" koanf:"lock_dir"`           // Directory for the daemon instance lock
}

// StreamConfig describes one stream created at startup.
type StreamConfig struct {
	Source      string  `yaml:"source" koanf:"source"`             // Source kind: "tone" or "file"
	Frequency   float64 `yaml:"frequency" koanf:"frequency"`       // Tone frequency in Hz
	Amplitude   float64 `yaml:"amplitude" koanf:"amplitude"`       // Tone amplitude, 0..1
	Path        string  `yaml:"path" koanf:"path"`                 // Raw PCM input path for file sources
	Loop        bool    `yaml:"loop" koanf:"loop"`                 // Restart file sources at EOF
	SampleRate  int     `yaml:"sample_rate" koanf:"sample_rate"`   // Input sample rate (0 = output rate)
	Channels    int     `yaml:"channels" koanf:"channels"`         // Input channels (0 = output channels)
	Volume      int     `yaml:"volume" koanf:"volume"`             // Initial volume, 0..100 (0 = full)
	CacheFrames int     `yaml:"cache_frames" koanf:"cache_frames"` // Cache capacity (0 = engine default)
	Threaded    bool    `yaml:"threaded" koanf:"threaded"`         // Dedicated producer goroutine
	Paused      bool    `yaml:"paused" koanf:"paused"`             // Do not auto-play at startup
}

// MonitorConfig contains health endpoint settings.
type MonitorConfig struct {
	Enabled    bool   `yaml:"enabled" koanf:"enabled"`         // Serve the health endpoint
	HealthAddr string `yaml:"health_addr" koanf:"health_addr"` // Listen address for /healthz and /metrics
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 - config path comes from administrator-controlled flags
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Save writes the configuration to path atomically: the YAML is written to
// a temp file in the same directory, synced, then renamed over the target,
// so a crash mid-write never leaves a truncated config.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".config.*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write temp config file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp config file: %w", err)
	}
	// #nosec G302 - config restricted to owner+group
	if err := tmp.Chmod(0640); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp config file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp config file: %w", err)
	}

	success = true
	return nil
}

// ResolveStream returns the stream configuration for name with engine and
// output defaults filled in for unset fields.
func (c *Config) ResolveStream(name string) (StreamConfig, bool) {
	sc, ok := c.Streams[name]
	if !ok {
		return StreamConfig{}, false
	}
	if sc.SampleRate == 0 {
		sc.SampleRate = c.Output.SampleRate
	}
	if sc.Channels == 0 {
		sc.Channels = c.Output.Channels
	}
	if sc.CacheFrames == 0 {
		sc.CacheFrames = c.Engine.CacheFrames
	}
	if sc.Volume == 0 {
		sc.Volume = 100
	}
	return sc, true
}

// Validate checks configuration for invalid values.
func (c *Config) Validate() error {
	if err := c.Output.Validate(); err != nil {
		return fmt.Errorf("output config: %w", err)
	}
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine config: %w", err)
	}
	for name, sc := range c.Streams {
		if err := sc.Validate(); err != nil {
			return fmt.Errorf("stream %q: %w", name, err)
		}
	}
	return nil
}

// Validate checks the output configuration.
func (o *OutputConfig) Validate() error {
	if o.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive")
	}
	if o.Channels <= 0 || o.Channels > 32 {
		return fmt.Errorf("channels must be between 1 and 32")
	}
	switch o.Backend {
	case "portaudio", "null", "file":
	default:
		return fmt.Errorf("backend must be portaudio, null or file (got %q)", o.Backend)
	}
	if o.Backend == "file" && o.Path == "" {
		return fmt.Errorf("path required for the file backend")
	}
	if o.BlockFrames < 0 {
		return fmt.Errorf("block_frames must not be negative")
	}
	return nil
}

// Validate checks the engine configuration.
func (e *EngineConfig) Validate() error {
	if e.MasterVolume < 0 || e.MasterVolume > 100 {
		return fmt.Errorf("master_volume must be between 0 and 100")
	}
	if e.MaxSilence < 0 {
		return fmt.Errorf("max_silence must not be negative")
	}
	if e.CacheFrames < 0 {
		return fmt.Errorf("cache_frames must not be negative")
	}
	return nil
}

// Validate checks one stream configuration.
func (s *StreamConfig) Validate() error {
	switch s.Source {
	case "tone":
		if s.Frequency <= 0 {
			return fmt.Errorf("frequency must be positive for tone sources")
		}
		if s.Amplitude < 0 || s.Amplitude > 1 {
			return fmt.Errorf("amplitude must be between 0 and 1")
		}
	case "file":
		if s.Path == "" {
			return fmt.Errorf("path required for file sources")
		}
	default:
		return fmt.Errorf("source must be tone or file (got %q)", s.Source)
	}
	if s.SampleRate < 0 {
		return fmt.Errorf("sample_rate must not be negative (0 inherits the output rate)")
	}
	if s.Channels < 0 || s.Channels > 32 {
		return fmt.Errorf("channels must be between 0 and 32")
	}
	if s.Volume < 0 || s.Volume > 100 {
		return fmt.Errorf("volume must be between 0 and 100")
	}
	if s.CacheFrames < 0 {
		return fmt.Errorf("cache_frames must not be negative")
	}
	return nil
}

// DefaultConfig returns a configuration with sensible defaults: a 48 kHz
// stereo PortAudio output and a single paused demo tone.
func DefaultConfig() *Config {
	return &Config{
		Output: OutputConfig{
			SampleRate: 48000,
			Channels:   2,
			Backend:    "portaudio",
		},
		Engine: EngineConfig{
			MasterVolume: 100,
			MaxSilence:   5 * time.Second,
			CacheFrames:  16384,
			LockDir:      "/var/run/kestrel",
		},
		Streams: map[string]StreamConfig{
			"demo_tone": {
				Source:    "tone",
				Frequency: 440,
				Amplitude: 0.25,
				Paused:    true,
			},
		},
		Monitor: MonitorConfig{
			Enabled:    true,
			HealthAddr: "127.0.0.1:9578",
		},
	}
}
