// Package main implements the transcoder command. It reads HL7, EDI, MARC21,
// delimited text and XML units from files or a JetStream consumer and writes
// one structured record, or one failure record, per parsed record.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/c360/transcoder/config"
	"github.com/c360/transcoder/health"
	"github.com/c360/transcoder/metric"
	"github.com/c360/transcoder/natsclient"
	"github.com/c360/transcoder/pipeline"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "transcoder"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	if err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cliCfg, err := parseFlags(args, stderr)
	if err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cliCfg.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat, stderr)
	slog.SetDefault(logger)

	cfg, err := loadConfig(cliCfg)
	if err != nil {
		return err
	}
	if cliCfg.Validate {
		logger.Info("Configuration is valid", "config", cfg.String())
		return nil
	}

	logger.Info("Starting transcoder",
		"version", Version,
		"build_time", BuildTime,
		"formats", cfg.EnabledFormats(),
		"input", cfg.Input.Type)

	sum, err := transcode(ctx, cfg, logger, cliCfg.ShutdownTimeout)
	if sum != nil {
		logger.Info("Transcoding finished",
			"runs", sum.Runs,
			"aborted", sum.Aborted,
			"units", sum.Units,
			"records", sum.Records,
			"failures", sum.Failures,
			"skipped_units", sum.Skipped)
	}
	if err != nil {
		return err
	}
	return sum.Err()
}

// loadConfig merges the configuration layers, the environment and the flags.
func loadConfig(cliCfg *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	for _, p := range cliCfg.ConfigPaths {
		loader.AddLayer(p)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if len(cliCfg.Inputs) > 0 {
		cfg.Input.Type = config.InputFile
		cfg.Input.File.Paths = cliCfg.Inputs
	}
	if cliCfg.Format != "" {
		cfg.Input.Format = cliCfg.Format
	}
	if cliCfg.OutputDir != "" {
		cfg.Output.Success.File.Directory = cliCfg.OutputDir
		cfg.Output.Failure.File.Directory = cliCfg.OutputDir
	}
	if cliCfg.Workers > 0 {
		cfg.Workers = cliCfg.Workers
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// transcode wires metrics, NATS, sinks and drivers, then runs the input.
func transcode(ctx context.Context, cfg *config.Config, logger *slog.Logger, shutdownTimeout time.Duration) (*summary, error) {
	monitor := health.NewMonitor()
	monitor.UpdateHealthy("pipeline", "ready")

	registry := metric.NewMetricsRegistry()
	metrics, err := pipeline.NewMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	if cfg.Metrics.Enabled {
		server := metric.NewServer(cfg.Metrics.Addr, cfg.Metrics.Path, registry)
		server.SetHealthHandler(monitor.Handler(appName))
		if err := server.Start(); err != nil {
			return nil, fmt.Errorf("start metrics server: %w", err)
		}
		logger.Info("Metrics server started", "addr", server.Address())
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Stop(stopCtx); err != nil {
				logger.Warn("Metrics server stop failed", "error", err)
			}
		}()
	}

	var client *natsclient.Client
	if cfg.UsesNATS() {
		client, err = newNATSClient(ctx, cfg.NATS, logger)
		if err != nil {
			return nil, err
		}
		monitor.UpdateHealthy("nats", "connected")
		client.OnHealthChange(func(healthy bool) {
			if healthy {
				monitor.UpdateHealthy("nats", "connected")
			} else {
				monitor.UpdateUnhealthy("nats", "disconnected")
			}
		})
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := client.Close(closeCtx); err != nil {
				logger.Warn("NATS close failed", "error", err)
			}
		}()
	}

	emitter, err := buildEmitter(ctx, cfg, client, logger)
	if err != nil {
		return nil, fmt.Errorf("build sinks: %w", err)
	}
	monitor.UpdateHealthy("sinks", "open")
	defer func() {
		if err := emitter.Close(); err != nil {
			logger.Warn("Closing sinks failed", "error", err)
		}
	}()

	reg, err := buildRegistry(cfg)
	if err != nil {
		return nil, err
	}
	drivers, err := buildDrivers(cfg, reg, emitter, logger, metrics)
	if err != nil {
		return nil, err
	}

	r := &runner{drivers: drivers, workers: cfg.Workers, logger: logger, health: monitor}
	switch cfg.Input.Type {
	case config.InputJetStream:
		return r.runJetStream(ctx, cfg.Input, client)
	default:
		return r.runFiles(ctx, cfg.Input)
	}
}
