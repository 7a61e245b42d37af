package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPaths     []string
	LogLevel        string
	LogFormat       string
	Debug           bool
	Format          string
	OutputDir       string
	Workers         int
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
	// Inputs are the positional arguments: files or directories to transcode.
	Inputs []string
}

// layers is a repeatable -config flag; a comma separated value adds several.
type layers []string

func (l *layers) String() string { return strings.Join(*l, ",") }

func (l *layers) Set(v string) error {
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			*l = append(*l, p)
		}
	}
	return nil
}

func parseFlags(args []string, stderr io.Writer) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(stderr)

	var configs layers
	if env := getEnv("TRANSCODER_CONFIG", ""); env != "" {
		_ = configs.Set(env)
	}
	fs.Var(&configs, "config", "Configuration layer, JSON or YAML; repeatable (env: TRANSCODER_CONFIG)")
	fs.Var(&configs, "c", "Configuration layer (shorthand)")

	fs.StringVar(&cfg.LogLevel, "log-level",
		getEnv("TRANSCODER_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: TRANSCODER_LOG_LEVEL)")

	fs.StringVar(&cfg.LogFormat, "log-format",
		getEnv("TRANSCODER_LOG_FORMAT", "json"),
		"Log format: json, text (env: TRANSCODER_LOG_FORMAT)")

	fs.BoolVar(&cfg.Debug, "debug",
		getEnvBool("TRANSCODER_DEBUG", false),
		"Enable debug logging (env: TRANSCODER_DEBUG)")

	fs.StringVar(&cfg.Format, "format", "",
		"Force the input format: hl7, edi, marc21, delim, xml (default: by file extension)")

	fs.StringVar(&cfg.OutputDir, "output-dir", "",
		"Directory for file sinks, overriding the configuration")

	fs.IntVar(&cfg.Workers, "workers", 0,
		"Concurrent driver runs, overriding the configuration")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("TRANSCODER_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: TRANSCODER_SHUTDOWN_TIMEOUT)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() {
		printDetailedHelp(fs, stderr)
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.ConfigPaths = configs
	cfg.Inputs = fs.Args()

	if cfg.Debug {
		cfg.LogLevel = "debug"
	}
	if cfg.ShowHelp {
		fs.Usage()
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	for _, p := range cfg.ConfigPaths {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("config file not found: %s", p)
		}
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	if cfg.Workers < 0 {
		return fmt.Errorf("invalid workers: %d", cfg.Workers)
	}
	return nil
}

func printDetailedHelp(fs *flag.FlagSet, w io.Writer) {
	_, _ = fmt.Fprintf(w, `%s - HL7, EDI, MARC21 and delimited text to structured records

Usage: %s [options] [file or directory ...]

Options:
`, appName, appName)
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(w, `
Examples:
  # Transcode a directory of HL7 feeds with the defaults
  %[1]s /data/feeds

  # Layer a production config over a base config
  %[1]s -config base.yaml -config prod.json /data/in

  # Force the format and write to a custom directory
  %[1]s -format=edi -output-dir=/data/out orders.dat

  # Validate configuration only
  %[1]s -config prod.yaml -validate

Version: %[2]s
Build: %[3]s
`, appName, Version, BuildTime)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
