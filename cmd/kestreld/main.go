// SPDX-License-Identifier: MIT

// Package main implements kestreld, the kestrel mixing daemon.
//
// kestreld opens the playback sink at the configured output format, creates
// the configured streams and mixes them 24/7, with automatic engine restart
// after sink failures and an optional HTTP health endpoint.
//
// Usage:
//
//	kestreld [options]
//
// Options:
//
//	--config=PATH     Path to config file (default: /etc/kestrel/config.yaml)
//	--log-level=LEVEL Log level: debug, info, warn, error (default: info)
//	--log-file=PATH   Log to this file with rotation instead of stderr
//	--write-config    Write the default config file and exit
//	--version         Print version and exit
//
// The daemon handles SIGINT/SIGTERM for graceful shutdown: the sink is
// drained and all stream pipelines are torn down before exit.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kestrelaudio/kestrel-go/internal/config"
	"github.com/kestrelaudio/kestrel-go/internal/health"
	"github.com/kestrelaudio/kestrel-go/internal/lock"
	"github.com/kestrelaudio/kestrel-go/internal/supervisor"
	"github.com/kestrelaudio/kestrel-go/internal/util"
)

// Build information (set by ldflags).
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	configPath  = flag.String("config", config.ConfigFilePath, "Path to configuration file")
	logLevel    = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	logFile     = flag.String("log-file", "", "Log to this file with rotation instead of stderr")
	writeConfig = flag.Bool("write-config", false, "Write the default config file and exit")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("kestreld %s (commit %s, built %s)\n", Version, Commit, BuildTime)
		return
	}

	logger, logCleanup, err := newLogger(*logLevel, *logFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kestreld: %v\n", err)
		os.Exit(1)
	}
	defer logCleanup()

	if *writeConfig {
		if err := writeDefaultConfig(*configPath); err != nil {
			logger.Error("failed to write default config", "error", err)
			os.Exit(1)
		}
		logger.Info("default config written", "path", *configPath)
		return
	}

	if err := run(logger); err != nil && err != context.Canceled {
		logger.Error("daemon exited with error", "error", err)
		os.Exit(1)
	}
}

// writeDefaultConfig saves the built-in defaults, backing up an existing
// file first.
func writeDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		backupDir := filepath.Join(filepath.Dir(path), "backups")
		if _, err := config.BackupConfig(path, backupDir); err != nil {
			return fmt.Errorf("backup existing config: %w", err)
		}
		if err := config.PruneBackups(path, backupDir, config.DefaultKeepBackups); err != nil {
			return fmt.Errorf("prune backups: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil { // #nosec G301
		return err
	}
	return config.DefaultConfig().Save(path)
}

func run(logger *slog.Logger) error {
	kc, err := config.NewKoanfConfig(config.WithYAMLFile(*configPath))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg, err := kc.Load()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// One daemon per machine: a second instance would fight over the
	// audio device.
	lockDir := cfg.Engine.LockDir
	if lockDir == "" {
		lockDir = "/var/run/kestrel"
	}
	instLock, err := lock.New(filepath.Join(lockDir, "kestreld.lock"))
	if err != nil {
		return err
	}
	acquireCtx, acquireCancel := context.WithTimeout(ctx, 30*time.Second)
	err = instLock.Acquire(acquireCtx)
	acquireCancel()
	if err != nil {
		return fmt.Errorf("another kestreld appears to be running: %w", err)
	}
	defer func() {
		if err := instLock.Release(); err != nil {
			logger.Warn("failed to release instance lock", "error", err)
		}
	}()

	logger.Info("starting kestreld",
		"version", Version,
		"config", *configPath,
		"output", fmt.Sprintf("%dHz/%dch", cfg.Output.SampleRate, cfg.Output.Channels),
		"backend", cfg.Output.Backend,
		"streams", len(cfg.Streams),
	)

	sup := supervisor.New(supervisor.Config{
		Name:   "kestreld",
		Logger: logger,
	})

	engineSvc := newEngineService(cfg, logger)
	if err := sup.Add(engineSvc); err != nil {
		return err
	}

	if cfg.Monitor.Enabled {
		if err := sup.Add(&healthService{
			addr:     cfg.Monitor.HealthAddr,
			provider: engineSvc,
			log:      logger,
		}); err != nil {
			return err
		}
	}

	err = sup.Run(ctx)
	logger.Info("kestreld stopped")
	return err
}

func newLogger(level, file string) (*slog.Logger, func(), error) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	cleanup := func() {}
	if file != "" {
		w, err := util.NewRotatingWriter(file)
		if err != nil {
			return nil, nil, err
		}
		out = w
		cleanup = func() { _ = w.Close() }
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: lvl})), cleanup, nil
}

// healthService runs the HTTP health endpoint under the supervisor.
type healthService struct {
	addr     string
	provider health.StatusProvider
	log      *slog.Logger
}

func (h *healthService) Name() string { return "health" }

func (h *healthService) Run(ctx context.Context) error {
	h.log.Info("health endpoint listening", "addr", h.addr)
	return health.ListenAndServe(ctx, h.addr, health.NewHandler(h.provider))
}
