package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/transcoder/errors"
	"github.com/c360/transcoder/format"
	"github.com/c360/transcoder/pipeline"
)

func TestLoader_LoadJSON(t *testing.T) {
	path := writeLayer(t, "config.json", `{
		"formats": {
			"hl7": {"failure_scope": "run", "max_segment_size": 4096}
		},
		"input": {"file": {"paths": ["/data/in"], "pattern": "*.hl7"}},
		"nats": {"urls": ["nats://a:4222", "nats://b:4222"], "reconnect_wait": "5s",
			"circuit_threshold": 3, "max_backoff": "30s"},
		"workers": 8
	}`)

	cfg, err := NewLoader().LoadFile(path)
	require.NoError(t, err)

	hl7 := cfg.Formats["hl7"]
	assert.Equal(t, pipeline.ScopeRun, hl7.FailureScope)
	assert.Equal(t, 4096, hl7.MaxSegmentSize)
	// Keys absent from the layer keep their defaults.
	assert.True(t, hl7.Enabled)
	assert.True(t, hl7.Lower.AutoArray)
	assert.Equal(t, pipeline.PayloadRecord, hl7.Payload)
	assert.Len(t, cfg.Formats, len(Formats))

	assert.Equal(t, []string{"/data/in"}, cfg.Input.File.Paths)
	assert.Equal(t, "*.hl7", cfg.Input.File.Pattern)
	assert.Equal(t, []string{"nats://a:4222", "nats://b:4222"}, cfg.NATS.URLs)
	assert.Equal(t, 5*time.Second, cfg.NATS.ReconnectWait)
	assert.Equal(t, -1, cfg.NATS.MaxReconnects)
	assert.Equal(t, int32(3), cfg.NATS.CircuitThreshold)
	assert.Equal(t, 30*time.Second, cfg.NATS.MaxBackoff)
	assert.Equal(t, 5*time.Second, cfg.NATS.Timeout, "absent keys keep defaults")
	assert.Equal(t, 8, cfg.Workers)
}

func TestLoader_LoadYAML(t *testing.T) {
	path := writeLayer(t, "config.yaml", `
formats:
  delim:
    payload: text
    separator: ";"
  xml:
    enabled: false
input:
  type: jetstream
  format: edi
  jetstream:
    stream: UNITS
    max_wait: 250ms
output:
  success:
    sinks: [nats, kv]
    nats:
      subject: "feeds.{format}"
      jetstream: true
  failure:
    sinks: []
`)

	loader := NewLoader()
	loader.AddLayer(path)
	loader.EnableValidation(true)
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, pipeline.PayloadText, cfg.Formats["delim"].Payload)
	assert.Equal(t, ";", cfg.Formats["delim"].Separator)
	assert.Equal(t, "#$$#", cfg.Formats["delim"].Delimiter)
	assert.False(t, cfg.Formats["xml"].Enabled)
	assert.NotContains(t, cfg.EnabledFormats(), format.XML)

	assert.Equal(t, InputJetStream, cfg.Input.Type)
	assert.Equal(t, "UNITS", cfg.Input.JetStream.Stream)
	assert.Equal(t, "transcoder", cfg.Input.JetStream.Durable)
	assert.Equal(t, 250*time.Millisecond, cfg.Input.JetStream.MaxWait)

	assert.Equal(t, []string{SinkNATS, SinkKV}, cfg.Output.Success.Sinks)
	assert.Equal(t, "feeds.{format}", cfg.Output.Success.NATS.Subject)
	assert.True(t, cfg.Output.Success.NATS.JetStream)
	assert.Equal(t, "transcoder_records", cfg.Output.Success.KV.Bucket)
	assert.Empty(t, cfg.Output.Failure.Sinks)
	assert.True(t, cfg.UsesNATS())
}

func TestLoader_Layers(t *testing.T) {
	base := writeLayer(t, "base.yml", `
workers: 2
input:
  file:
    paths: [/data/a, /data/b]
`)
	override := writeLayer(t, "override.json", `{"input": {"file": {"paths": ["/data/c"]}}}`)

	loader := NewLoader()
	loader.AddLayer(base)
	loader.AddLayer(override)
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, []string{"/data/c"}, cfg.Input.File.Paths)
}

func TestLoader_EnvOverrides(t *testing.T) {
	t.Setenv("TRANSCODER_NATS_URLS", "nats://x:4222, nats://y:4222")
	t.Setenv("TRANSCODER_NATS_TOKEN", "tok")
	t.Setenv("TRANSCODER_INPUT_PATHS", "/in/one,/in/two")
	t.Setenv("TRANSCODER_INPUT_FORMAT", "marc21")
	t.Setenv("TRANSCODER_OUTPUT_DIR", "/out")
	t.Setenv("TRANSCODER_WORKERS", "3")
	t.Setenv("TRANSCODER_METRICS_ADDR", ":9100")

	loader := NewLoader()
	loader.EnableValidation(true)
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"nats://x:4222", "nats://y:4222"}, cfg.NATS.URLs)
	assert.Equal(t, "tok", cfg.NATS.Token)
	assert.Equal(t, []string{"/in/one", "/in/two"}, cfg.Input.File.Paths)
	assert.Equal(t, "marc21", cfg.Input.Format)
	assert.Equal(t, "/out", cfg.Output.Success.File.Directory)
	assert.Equal(t, "/out", cfg.Output.Failure.File.Directory)
	assert.Equal(t, 3, cfg.Workers)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9100", cfg.Metrics.Addr)
}

func TestLoader_EnvPrefixAndErrors(t *testing.T) {
	t.Setenv("CUSTOM_WORKERS", "many")
	loader := NewLoader()
	loader.SetEnvPrefix("CUSTOM")
	_, err := loader.Load()
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	t.Setenv("CUSTOM_WORKERS", "")
	t.Setenv("CUSTOM_NATS_TOKEN", strings.Repeat("t", maxEnvValue+1))
	_, err = loader.Load()
	assert.Error(t, err)
}

func TestLoader_BadLayers(t *testing.T) {
	tests := []struct {
		name, file, body string
	}{
		{"malformed json", "bad.json", `{"workers": `},
		{"malformed yaml", "bad.yaml", "workers: [1,\n"},
		{"bad duration", "dur.json", `{"nats": {"timeout": "soon"}}`},
		{"wrong type", "type.json", `{"workers": "four"}`},
		{"unsupported extension", "config.toml", `workers = 4`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader().LoadFile(writeLayer(t, tt.file, tt.body))
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}

	_, err := NewLoader().LoadFile("/nonexistent/config.json")
	assert.Error(t, err)
}

func TestLoader_ValidationFailure(t *testing.T) {
	path := writeLayer(t, "config.json", `{"input": {"file": {"paths": ["/in"]}}, "workers": 0}`)
	loader := NewLoader()
	loader.AddLayer(path)

	_, err := loader.Load()
	require.NoError(t, err)

	loader.EnableValidation(true)
	_, err = loader.Load()
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestDeepMergeMaps(t *testing.T) {
	base := map[string]any{
		"a": map[string]any{"x": 1, "y": 2},
		"b": []any{1, 2},
		"c": "keep",
	}
	override := map[string]any{
		"a": map[string]any{"y": 3},
		"b": []any{9},
		"c": nil,
	}
	merged := deepMergeMaps(base, override)
	assert.Equal(t, map[string]any{"x": 1, "y": 3}, merged["a"])
	assert.Equal(t, []any{9}, merged["b"])
	assert.Equal(t, "keep", merged["c"])
	assert.Equal(t, 2, base["a"].(map[string]any)["y"])
}
