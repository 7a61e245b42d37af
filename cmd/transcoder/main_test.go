package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/transcoder/config"
	"github.com/c360/transcoder/format"
	"github.com/c360/transcoder/health"
	"github.com/c360/transcoder/message"
	"github.com/c360/transcoder/pipeline"
)

const (
	admit = "MSH|^~\\&|SendApp|SendFac|RecApp|RecFac|20240101120000||ADT^A01^ADT_A01|MSG00001|T|2.5\r" +
		"EVN|A01|20240101120000\r" +
		"PID|1||12345^^^Hosp^MR||Doe^John||19700101|M\r"
	broken = "MSH|^~\\&|A|B|C|D|20240101||ADT^A08|2|P|2.5\rpid|1\r"
)

func writeInputs(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func readEnvelopes(t *testing.T, path string) []message.Envelope {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []message.Envelope
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var env message.Envelope
		require.NoError(t, json.Unmarshal(sc.Bytes(), &env))
		out = append(out, env)
	}
	require.NoError(t, sc.Err())
	return out
}

func countFormat(envs []message.Envelope, f format.Format) int {
	n := 0
	for _, env := range envs {
		if env.Format == string(f) {
			n++
		}
	}
	return n
}

func TestRun_TranscodesFiles(t *testing.T) {
	in := writeInputs(t, map[string]string{
		"adt.hl7":  admit + broken,
		"rows.csv": "a,b\n",
	})
	out := t.TempDir()

	var stdout, stderr bytes.Buffer
	err := run(context.Background(),
		[]string{"-output-dir", out, "-log-format", "text", "-workers", "2", in},
		&stdout, &stderr)
	require.NoError(t, err, stderr.String())

	records := readEnvelopes(t, filepath.Join(out, "records.jsonl"))
	assert.Len(t, records, 2)
	assert.Equal(t, 1, countFormat(records, format.HL7))
	assert.Equal(t, 1, countFormat(records, format.Delim))

	failures := readEnvelopes(t, filepath.Join(out, "failures.jsonl"))
	require.Len(t, failures, 1)
	require.NotNil(t, failures[0].Failure)
	assert.Equal(t, "ParseError", failures[0].Failure.Kind)
	assert.Equal(t, 1, failures[0].Index)
	assert.Contains(t, stderr.String(), "Transcoding finished")
}

func TestRun_RunScopeAborts(t *testing.T) {
	in := writeInputs(t, map[string]string{"adt.hl7": broken + admit})
	out := t.TempDir()
	layer := filepath.Join(t.TempDir(), "scope.yaml")
	require.NoError(t, os.WriteFile(layer, []byte("formats:\n  hl7:\n    failure_scope: run\n"), 0o600))

	var stdout, stderr bytes.Buffer
	err := run(context.Background(),
		[]string{"-config", layer, "-output-dir", out, in},
		&stdout, &stderr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "adt.hl7")

	assert.Empty(t, readEnvelopes(t, filepath.Join(out, "records.jsonl")))
	assert.Len(t, readEnvelopes(t, filepath.Join(out, "failures.jsonl")), 1)
}

func TestRun_UnknownExtension(t *testing.T) {
	in := writeInputs(t, map[string]string{"notes.pdf": "x"})
	out := t.TempDir()

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"-output-dir", out, in}, &stdout, &stderr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no format for extension")

	// Forcing the format makes the file usable.
	err = run(context.Background(), []string{"-output-dir", out, "-format", "delim", in}, &stdout, &stderr)
	require.NoError(t, err)
	assert.Len(t, readEnvelopes(t, filepath.Join(out, "records.jsonl")), 1)
}

func TestRun_VersionAndValidate(t *testing.T) {
	var stdout, stderr bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-version"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "transcoder version "+Version)

	out := t.TempDir()
	stderr.Reset()
	require.NoError(t, run(context.Background(),
		[]string{"-validate", "-output-dir", out, t.TempDir()}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "Configuration is valid")
	assert.NoFileExists(t, filepath.Join(out, "records.jsonl"))
}

func TestRun_Errors(t *testing.T) {
	var stdout, stderr bytes.Buffer
	ctx := context.Background()

	assert.Error(t, run(ctx, []string{"-log-level", "loud", t.TempDir()}, &stdout, &stderr))
	assert.Error(t, run(ctx, []string{"-config", "/missing/config.yaml", t.TempDir()}, &stdout, &stderr))
	assert.Error(t, run(ctx, []string{"-no-such-flag"}, &stdout, &stderr))
	// No inputs.
	assert.Error(t, run(ctx, []string{"-output-dir", t.TempDir()}, &stdout, &stderr))
}

func TestParseFlags(t *testing.T) {
	var stderr bytes.Buffer
	cfg, err := parseFlags([]string{
		"-config", "base.yaml,extra.yaml", "-c", "prod.json",
		"-debug", "-workers", "3", "a.hl7", "dir",
	}, &stderr)
	require.NoError(t, err)

	assert.Equal(t, []string{"base.yaml", "extra.yaml", "prod.json"}, cfg.ConfigPaths)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, []string{"a.hl7", "dir"}, cfg.Inputs)

	cfg, err = parseFlags([]string{"-h"}, &stderr)
	require.NoError(t, err)
	assert.True(t, cfg.ShowHelp)
	assert.Contains(t, stderr.String(), "Usage: transcoder")

	assert.Error(t, validateFlags(&CLIConfig{LogLevel: "info", LogFormat: "xml"}))
	assert.Error(t, validateFlags(&CLIConfig{LogLevel: "info", LogFormat: "json", Workers: -1}))
	assert.NoError(t, validateFlags(&CLIConfig{LogLevel: "warn", LogFormat: "text"}))
}

func TestBuildRegistry(t *testing.T) {
	cfg := config.Default()
	xml := cfg.Formats[string(format.XML)]
	xml.Enabled = false
	cfg.Formats[string(format.XML)] = xml

	reg, err := buildRegistry(cfg)
	require.NoError(t, err)
	assert.Equal(t, []format.Format{format.Delim, format.EDI, format.HL7, format.MARC21}, reg.Formats())
}

func TestSameFileSinks(t *testing.T) {
	cfg := config.Default()
	assert.False(t, sameFileSinks(cfg.Output.Success, cfg.Output.Failure))

	cfg.Output.Failure.File.FilePrefix = cfg.Output.Success.File.FilePrefix
	assert.True(t, sameFileSinks(cfg.Output.Success, cfg.Output.Failure))

	cfg.Output.Failure.Sinks = []string{config.SinkFile, config.SinkNATS}
	assert.False(t, sameFileSinks(cfg.Output.Success, cfg.Output.Failure))
}

func TestBuildSink_NeedsNATS(t *testing.T) {
	sc := config.Default().Output.Success
	sc.Sinks = []string{config.SinkNATS}
	_, err := buildSink(context.Background(), sc, nil, setupLogger("error", "text", &bytes.Buffer{}))
	assert.Error(t, err)

	sc.Sinks = nil
	s, err := buildSink(context.Background(), sc, nil, setupLogger("error", "text", &bytes.Buffer{}))
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestNewNATSClient_RejectsBadOptions(t *testing.T) {
	logger := setupLogger("error", "text", &bytes.Buffer{})

	nc := config.Default().NATS
	nc.CircuitThreshold = 0
	_, err := newNATSClient(context.Background(), nc, logger)
	assert.ErrorContains(t, err, "circuit threshold")

	nc = config.Default().NATS
	nc.Username, nc.Token = "u", "t"
	_, err = newNATSClient(context.Background(), nc, logger)
	assert.ErrorContains(t, err, "mutually exclusive")
}

func TestRunner_FinishTracksHealth(t *testing.T) {
	monitor := health.NewMonitor()
	monitor.UpdateHealthy("pipeline", "ready")
	r := &runner{health: monitor}
	sum := &summary{}

	r.finish(sum, pipeline.Result{State: pipeline.StateDone, Units: 1, Records: 2}, nil)
	status, ok := monitor.Get("pipeline")
	require.True(t, ok)
	assert.True(t, status.IsHealthy())

	r.finish(sum, pipeline.Result{State: pipeline.StateAborted, Units: 1, Failures: 1}, assert.AnError)
	status, _ = monitor.Get("pipeline")
	assert.True(t, status.IsDegraded())
	assert.Equal(t, "1 runs aborted", status.Message)

	assert.Equal(t, 2, sum.Runs)
	assert.Equal(t, 1, sum.Aborted)
	assert.Equal(t, 2, sum.Records)
	assert.ErrorIs(t, sum.Err(), assert.AnError)
}
