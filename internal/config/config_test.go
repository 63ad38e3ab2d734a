// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 48000, cfg.Output.SampleRate)
	assert.Equal(t, 2, cfg.Output.Channels)
	assert.Equal(t, 5*time.Second, cfg.Engine.MaxSilence)
}

func TestValidate(t *testing.T) {
	valid := func() *Config { return DefaultConfig() }

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"zero sample rate", func(c *Config) { c.Output.SampleRate = 0 }, "sample_rate"},
		{"too many channels", func(c *Config) { c.Output.Channels = 64 }, "channels"},
		{"bad backend", func(c *Config) { c.Output.Backend = "pulse" }, "backend"},
		{"file backend without path", func(c *Config) {
			c.Output.Backend = "file"
			c.Output.Path = ""
		}, "path"},
		{"master volume range", func(c *Config) { c.Engine.MasterVolume = 150 }, "master_volume"},
		{"negative silence", func(c *Config) { c.Engine.MaxSilence = -time.Second }, "max_silence"},
		{"bad stream source", func(c *Config) {
			c.Streams["bad"] = StreamConfig{Source: "network"}
		}, "source"},
		{"tone without frequency", func(c *Config) {
			c.Streams["bad"] = StreamConfig{Source: "tone"}
		}, "frequency"},
		{"file without path", func(c *Config) {
			c.Streams["bad"] = StreamConfig{Source: "file"}
		}, "path"},
		{"stream volume range", func(c *Config) {
			c.Streams["bad"] = StreamConfig{Source: "tone", Frequency: 100, Volume: 200}
		}, "volume"},
		{"amplitude range", func(c *Config) {
			c.Streams["bad"] = StreamConfig{Source: "tone", Frequency: 100, Amplitude: 2}
		}, "amplitude"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.Output.Backend = "null"
	cfg.Streams["extra"] = StreamConfig{
		Source:    "tone",
		Frequency: 880,
		Amplitude: 0.1,
		Volume:    40,
		Threaded:  true,
	}
	require.NoError(t, cfg.Save(path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Output, loaded.Output)
	assert.Equal(t, cfg.Engine, loaded.Engine)
	assert.Equal(t, cfg.Streams["extra"], loaded.Streams["extra"])
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadConfig succeeded on a missing file")
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0o600))
	if _, err := LoadConfig(path); err == nil {
		t.Error("LoadConfig succeeded on malformed YAML")
	}
}

func TestResolveStream(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.CacheFrames = 4096
	cfg.Streams["partial"] = StreamConfig{Source: "tone", Frequency: 220}

	sc, ok := cfg.ResolveStream("partial")
	require.True(t, ok)
	assert.Equal(t, cfg.Output.SampleRate, sc.SampleRate)
	assert.Equal(t, cfg.Output.Channels, sc.Channels)
	assert.Equal(t, 4096, sc.CacheFrames)
	assert.Equal(t, 100, sc.Volume)

	_, ok = cfg.ResolveStream("missing")
	assert.False(t, ok)
}

func TestKoanfYAMLWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := DefaultConfig()
	cfg.Output.Backend = "null"
	require.NoError(t, cfg.Save(path))

	t.Setenv("KESTREL_OUTPUT_SAMPLE_RATE", "44100")
	t.Setenv("KESTREL_ENGINE_MASTER_VOLUME", "80")
	t.Setenv("KESTREL_STREAMS_DEMO_TONE_VOLUME", "25")

	kc, err := NewKoanfConfig(WithYAMLFile(path))
	require.NoError(t, err)

	loaded, err := kc.Load()
	require.NoError(t, err)
	assert.Equal(t, 44100, loaded.Output.SampleRate, "env overrides YAML")
	assert.Equal(t, 80, loaded.Engine.MasterVolume)
	assert.Equal(t, 25, loaded.Streams["demo_tone"].Volume)
	assert.Equal(t, "null", loaded.Output.Backend, "YAML value kept where no override")
}

func TestKoanfGetters(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, DefaultConfig().Save(path))

	kc, err := NewKoanfConfig(WithYAMLFile(path))
	require.NoError(t, err)

	assert.Equal(t, "portaudio", kc.GetString("output.backend"))
	assert.Equal(t, 48000, kc.GetInt("output.sample_rate"))
	assert.True(t, kc.GetBool("monitor.enabled"))
	assert.Equal(t, 5*time.Second, kc.GetDuration("engine.max_silence"))
	assert.True(t, kc.Exists("engine.cache_frames"))
	assert.False(t, kc.Exists("engine.nonexistent"))
}

func TestBackupAndPrune(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	backupDir := filepath.Join(dir, "backups")
	require.NoError(t, DefaultConfig().Save(cfgPath))

	p1, err := BackupConfig(cfgPath, backupDir)
	require.NoError(t, err)
	assert.FileExists(t, p1)

	backups, err := ListBackups(cfgPath, backupDir)
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Equal(t, p1, backups[0].Path)

	require.NoError(t, PruneBackups(cfgPath, backupDir, 1))
	backups, err = ListBackups(cfgPath, backupDir)
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}

func TestBackupMissingSource(t *testing.T) {
	dir := t.TempDir()
	if _, err := BackupConfig(filepath.Join(dir, "nope.yaml"), dir); err == nil {
		t.Error("BackupConfig succeeded on a missing source")
	}
}
