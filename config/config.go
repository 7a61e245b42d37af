package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/transcoder/errors"
	"github.com/c360/transcoder/format"
	"github.com/c360/transcoder/format/delim"
	infile "github.com/c360/transcoder/input/file"
	injetstream "github.com/c360/transcoder/input/jetstream"
	"github.com/c360/transcoder/lower"
	outfile "github.com/c360/transcoder/output/file"
	"github.com/c360/transcoder/output/kvstore"
	"github.com/c360/transcoder/output/natspub"
	"github.com/c360/transcoder/pipeline"
)

// Input types
const (
	InputFile      = "file"
	InputJetStream = "jetstream"
)

// Sink names
const (
	SinkFile = "file"
	SinkNATS = "nats"
	SinkKV   = "kv"
)

// Formats lists every format the transcoder can be configured for.
var Formats = []format.Format{format.HL7, format.EDI, format.MARC21, format.Delim, format.XML}

// Config represents the complete application configuration
type Config struct {
	Formats map[string]FormatConfig `json:"formats" yaml:"formats"`
	Input   InputConfig             `json:"input"   yaml:"input"`
	Output  OutputConfig            `json:"output"  yaml:"output"`
	NATS    NATSConfig              `json:"nats"    yaml:"nats"`
	Metrics MetricsConfig           `json:"metrics" yaml:"metrics"`
	// Workers is the number of driver runs executed concurrently.
	Workers int `json:"workers" yaml:"workers"`
}

// FormatConfig is the per-format driver and adapter configuration.
type FormatConfig struct {
	Enabled      bool             `json:"enabled"       yaml:"enabled"`
	FailureScope pipeline.Scope   `json:"failure_scope" yaml:"failure_scope"`
	Payload      pipeline.Payload `json:"payload"       yaml:"payload"`
	Lower        lower.Options    `json:"lower"         yaml:"lower"`

	// MaxSegmentSize bounds one HL7 segment line; zero keeps the adapter default.
	MaxSegmentSize int `json:"max_segment_size,omitempty" yaml:"max_segment_size,omitempty"`

	// Delimiter and Separator configure delimited text.
	Delimiter string `json:"delimiter,omitempty" yaml:"delimiter,omitempty"`
	Separator string `json:"separator,omitempty" yaml:"separator,omitempty"`
}

// Pipeline returns the driver configuration.
func (fc FormatConfig) Pipeline() pipeline.Config {
	return pipeline.Config{Scope: fc.FailureScope, Payload: fc.Payload, Lower: fc.Lower}
}

// InputConfig selects where units come from.
type InputConfig struct {
	Type string `json:"type" yaml:"type"`
	// Format forces the format of every unit. File inputs may leave it empty
	// and have the format picked by file extension.
	Format     string             `json:"format,omitempty"     yaml:"format,omitempty"`
	Extensions map[string]string  `json:"extensions,omitempty" yaml:"extensions,omitempty"`
	File       infile.Config      `json:"file"                 yaml:"file"`
	JetStream  injetstream.Config `json:"jetstream"            yaml:"jetstream"`
}

// FormatFor returns the format of the unit read from path.
func (ic InputConfig) FormatFor(path string) (format.Format, error) {
	if ic.Format != "" {
		return format.Format(ic.Format), nil
	}
	ext := strings.ToLower(filepath.Ext(path))
	if f, ok := ic.Extensions[ext]; ok {
		return format.Format(f), nil
	}
	return "", errors.WrapInvalid(fmt.Errorf("no format for extension %q of %s: %w", ext, path, errors.ErrInvalidConfig),
		"InputConfig", "FormatFor", "resolve format")
}

// OutputConfig holds the success and failure sink sets.
type OutputConfig struct {
	Success SinkConfig `json:"success" yaml:"success"`
	// Failure sinks; when none are listed failures go to the success sinks.
	Failure SinkConfig `json:"failure" yaml:"failure"`
}

// SinkConfig lists the enabled sinks and their settings.
type SinkConfig struct {
	Sinks []string       `json:"sinks" yaml:"sinks"`
	File  outfile.Config `json:"file"  yaml:"file"`
	NATS  natspub.Config `json:"nats"  yaml:"nats"`
	KV    kvstore.Config `json:"kv"    yaml:"kv"`
}

// Has reports whether the named sink is enabled.
func (sc SinkConfig) Has(name string) bool {
	for _, s := range sc.Sinks {
		if s == name {
			return true
		}
	}
	return false
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	URLs          []string      `json:"urls,omitempty"           yaml:"urls,omitempty"`
	Name          string        `json:"name,omitempty"           yaml:"name,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty" yaml:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty" yaml:"reconnect_wait,omitempty"`
	Timeout       time.Duration `json:"timeout,omitempty"        yaml:"timeout,omitempty"`
	Username      string        `json:"username,omitempty"       yaml:"username,omitempty"`
	Password      string        `json:"password,omitempty"       yaml:"password,omitempty"`
	Token         string        `json:"token,omitempty"          yaml:"token,omitempty"`

	// CircuitThreshold consecutive failures open the client's circuit; its
	// backoff doubles from one second up to MaxBackoff.
	CircuitThreshold int32         `json:"circuit_threshold,omitempty" yaml:"circuit_threshold,omitempty"`
	MaxBackoff       time.Duration `json:"max_backoff,omitempty"       yaml:"max_backoff,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr"    yaml:"addr"`
	Path    string `json:"path"    yaml:"path"`
}

// Default returns the built-in configuration every loaded layer merges onto.
func Default() *Config {
	formats := make(map[string]FormatConfig, len(Formats))
	for _, f := range Formats {
		pc := pipeline.DefaultConfig(f)
		fc := FormatConfig{
			Enabled:      true,
			FailureScope: pc.Scope,
			Payload:      pc.Payload,
			Lower:        pc.Lower,
		}
		if f == format.Delim {
			fc.Delimiter = delim.DefaultDelimiter
			fc.Separator = delim.DefaultSeparator
		}
		formats[string(f)] = fc
	}

	success := SinkConfig{
		Sinks: []string{SinkFile},
		File:  outfile.DefaultConfig(),
		NATS:  natspub.DefaultConfig(),
		KV:    kvstore.Config{Bucket: "transcoder_records"},
	}
	failure := SinkConfig{
		Sinks: []string{SinkFile},
		File:  outfile.DefaultConfig(),
		NATS:  natspub.Config{Subject: "transcoder.failures." + natspub.FormatPlaceholder},
		KV:    kvstore.Config{Bucket: "transcoder_failures"},
	}
	failure.File.FilePrefix = "failures"

	return &Config{
		Formats: formats,
		Input: InputConfig{
			Type: InputFile,
			Extensions: map[string]string{
				".hl7":     string(format.HL7),
				".edi":     string(format.EDI),
				".x12":     string(format.EDI),
				".edifact": string(format.EDI),
				".mrc":     string(format.MARC21),
				".marc":    string(format.MARC21),
				".txt":     string(format.Delim),
				".csv":     string(format.Delim),
				".xml":     string(format.XML),
			},
			JetStream: injetstream.DefaultConfig(),
		},
		Output: OutputConfig{Success: success, Failure: failure},
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			Name:          "transcoder",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			Timeout:       5 * time.Second,

			CircuitThreshold: 5,
			MaxBackoff:       time.Minute,
		},
		Metrics: MetricsConfig{Addr: ":9090", Path: "/metrics"},
		Workers: 4,
	}
}

// UsesNATS reports whether any configured input or sink needs a NATS connection.
func (c *Config) UsesNATS() bool {
	if c.Input.Type == InputJetStream {
		return true
	}
	for _, sc := range []SinkConfig{c.Output.Success, c.Output.Failure} {
		if sc.Has(SinkNATS) || sc.Has(SinkKV) {
			return true
		}
	}
	return false
}

// EnabledFormats returns the enabled formats in a stable order.
func (c *Config) EnabledFormats() []format.Format {
	var out []format.Format
	for _, f := range Formats {
		if fc, ok := c.Formats[string(f)]; ok && fc.Enabled {
			out = append(out, f)
		}
	}
	return out
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if len(c.EnabledFormats()) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "enable at least one format")
	}
	for name, fc := range c.Formats {
		if err := validateFormat(name, fc); err != nil {
			return err
		}
	}
	if err := c.validateInput(); err != nil {
		return err
	}
	if len(c.Output.Success.Sinks) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "at least one success sink is required")
	}
	if err := validateSinks("success", c.Output.Success); err != nil {
		return err
	}
	if err := validateSinks("failure", c.Output.Failure); err != nil {
		return err
	}
	if c.UsesNATS() && len(c.NATS.URLs) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "nats urls are required")
	}
	if c.NATS.CircuitThreshold < 1 {
		return invalid("nats circuit_threshold must be at least 1, got %d", c.NATS.CircuitThreshold)
	}
	if c.NATS.MaxBackoff < time.Second {
		return invalid("nats max_backoff must be at least 1s, got %v", c.NATS.MaxBackoff)
	}
	if c.Workers < 1 {
		return invalid("workers must be at least 1, got %d", c.Workers)
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return invalid("metrics addr is required when metrics are enabled")
	}
	return nil
}

func validateFormat(name string, fc FormatConfig) error {
	if !known(name) {
		return invalid("unknown format %q", name)
	}
	if err := fc.Pipeline().Validate(); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "check format "+name)
	}
	if fc.Payload == pipeline.PayloadText && name != string(format.Delim) {
		return invalid("format %s has no text payload", name)
	}
	if fc.MaxSegmentSize < 0 {
		return invalid("format %s: max_segment_size cannot be negative", name)
	}
	return nil
}

func (c *Config) validateInput() error {
	in := c.Input
	if in.Format != "" && !known(in.Format) {
		return invalid("unknown input format %q", in.Format)
	}
	for ext, f := range in.Extensions {
		if !known(f) {
			return invalid("extension %s maps to unknown format %q", ext, f)
		}
	}
	switch in.Type {
	case InputFile:
		return in.File.Validate()
	case InputJetStream:
		if in.Format == "" {
			return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "jetstream input needs a format")
		}
		return in.JetStream.Validate()
	default:
		return invalid("unknown input type %q", in.Type)
	}
}

func validateSinks(role string, sc SinkConfig) error {
	for _, name := range sc.Sinks {
		var err error
		switch name {
		case SinkFile:
			fc := sc.File
			err = fc.Validate()
		case SinkNATS:
			err = sc.NATS.Validate()
		case SinkKV:
			err = sc.KV.Validate()
		default:
			return invalid("unknown %s sink %q", role, name)
		}
		if err != nil {
			return errors.WrapInvalid(err, "Config", "Validate", "check "+role+" sink "+name)
		}
	}
	return nil
}

func known(name string) bool {
	for _, f := range Formats {
		if string(f) == name {
			return true
		}
	}
	return false
}

func invalid(msg string, args ...any) error {
	return errors.WrapInvalid(fmt.Errorf(msg+": %w", append(args, errors.ErrInvalidConfig)...),
		"Config", "Validate", "check configuration")
}

// SaveToFile writes the configuration as JSON or YAML, by extension.
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	if kindOf(path) == layerYAML {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return errors.WrapInvalid(err, "Config", "SaveToFile", "encode configuration")
	}
	if err := writeLayerFile(path, data); err != nil {
		return errors.WrapIO(err, "Config", "SaveToFile", "write "+path)
	}
	return nil
}

// String returns the configuration as JSON with credentials redacted.
func (c *Config) String() string {
	redacted := *c
	if redacted.NATS.Password != "" {
		redacted.NATS.Password = "[REDACTED]"
	}
	if redacted.NATS.Token != "" {
		redacted.NATS.Token = "[REDACTED]"
	}
	data, err := json.Marshal(&redacted)
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(data)
}
