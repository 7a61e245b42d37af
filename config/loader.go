package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/transcoder/errors"
)

// DefaultEnvPrefix prefixes every environment override.
const DefaultEnvPrefix = "TRANSCODER"

// durationPaths are the keys whose string values are parsed as durations
// before decoding.
var durationPaths = [][]string{
	{"nats", "reconnect_wait"},
	{"nats", "timeout"},
	{"nats", "max_backoff"},
	{"input", "jetstream", "max_wait"},
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{envPrefix: DefaultEnvPrefix}
}

// AddLayer adds a configuration file layer. Later layers override earlier ones.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// SetEnvPrefix changes the environment override prefix.
func (l *Loader) SetEnvPrefix(prefix string) {
	l.envPrefix = prefix
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges the defaults, every layer in order and the environment.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "load "+path)
		}
		cfg, err = l.mergeFromMap(cfg, raw)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "merge "+path)
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "apply environment")
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// loadRaw reads a JSON or YAML layer into a generic map.
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := readLayerFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if kindOf(path) == layerYAML {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}
	} else if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := checkDepth(raw, maxLayerDepth); err != nil {
		return nil, err
	}
	if err := parseDurations(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// mergeFromMap overrides only the fields present in override.
func (l *Loader) mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	if len(override) == 0 {
		return base, nil
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}
	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, err
	}
	return &merged, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence.
// Slices are replaced, not appended.
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// parseDurations converts duration strings to nanoseconds for json decoding.
func parseDurations(data map[string]any) error {
	for _, path := range durationPaths {
		m := data
		for _, key := range path[:len(path)-1] {
			next, ok := m[key].(map[string]any)
			if !ok {
				m = nil
				break
			}
			m = next
		}
		if m == nil {
			continue
		}
		key := path[len(path)-1]
		s, ok := m[key].(string)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("%s: %w", strings.Join(path, "."), err)
		}
		m[key] = d.Nanoseconds()
	}
	return nil
}

// applyEnvOverrides applies <prefix>_* environment variables.
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	env := func(name string) (string, bool, error) {
		key := l.envPrefix + "_" + name
		val := os.Getenv(key)
		if err := checkEnvValue(key, val); err != nil {
			return "", false, err
		}
		return val, val != "", nil
	}

	strs := []struct {
		name string
		dst  *string
	}{
		{"NATS_USERNAME", &cfg.NATS.Username},
		{"NATS_PASSWORD", &cfg.NATS.Password},
		{"NATS_TOKEN", &cfg.NATS.Token},
		{"INPUT_TYPE", &cfg.Input.Type},
		{"INPUT_FORMAT", &cfg.Input.Format},
	}
	for _, s := range strs {
		val, ok, err := env(s.name)
		if err != nil {
			return err
		}
		if ok {
			*s.dst = val
		}
	}

	if val, ok, err := env("NATS_URLS"); err != nil {
		return err
	} else if ok {
		cfg.NATS.URLs = splitList(val)
	}
	if val, ok, err := env("INPUT_PATHS"); err != nil {
		return err
	} else if ok {
		cfg.Input.File.Paths = splitList(val)
	}
	if val, ok, err := env("OUTPUT_DIR"); err != nil {
		return err
	} else if ok {
		cfg.Output.Success.File.Directory = val
		cfg.Output.Failure.File.Directory = val
	}
	if val, ok, err := env("WORKERS"); err != nil {
		return err
	} else if ok {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%s_WORKERS: %w", l.envPrefix, err)
		}
		cfg.Workers = n
	}
	if val, ok, err := env("METRICS_ADDR"); err != nil {
		return err
	} else if ok {
		cfg.Metrics.Addr = val
		cfg.Metrics.Enabled = true
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
