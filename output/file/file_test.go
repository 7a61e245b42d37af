package file

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/transcoder/errors"
	"github.com/c360/transcoder/message"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"default", DefaultConfig(), false},
		{"missing directory", Config{Format: "jsonl"}, true},
		{"bad format", Config{Directory: "/tmp", Format: "csv"}, true},
		{"negative buffer", Config{Directory: "/tmp", Format: "raw", BufferSize: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, errors.ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFileSink_DefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "/tmp/transcoder", cfg.Directory)
	assert.Equal(t, "jsonl", cfg.Format)
	assert.Equal(t, filepath.Join("/tmp/transcoder", "records.jsonl"), cfg.Path())
}

func TestFileSink_WritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewSink(Config{Directory: dir, FilePrefix: "out", Format: FormatJSONL, BufferSize: 2}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	header := message.Header{"source": {"a.hl7"}}
	require.NoError(t, sink.Write(ctx, message.NewRecordEnvelope("hl7", header, message.Record{"ADT_A01": "x"},
		message.WithID("one"))))
	require.NoError(t, sink.Write(ctx, message.NewFailureEnvelope("hl7", header,
		&message.Failure{Kind: "ParseError", Message: "bad", Reason: "bad", Resolution: message.ResolutionDefect},
		message.WithID("two"))))
	require.NoError(t, sink.Write(ctx, message.NewDataEnvelope("delim", nil, []byte("a,b"), message.WithID("three"))))
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())

	f, err := os.Open(filepath.Join(dir, "out.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	var ids []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var env message.Envelope
		require.NoError(t, json.Unmarshal(sc.Bytes(), &env))
		ids = append(ids, env.ID)
	}
	require.NoError(t, sc.Err())
	assert.Equal(t, []string{"one", "two", "three"}, ids)

	written, _, failed := sink.Stats()
	assert.Equal(t, int64(3), written)
	assert.Equal(t, int64(0), failed)
}

func TestFileSink_RawAndTruncate(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Directory: dir, FilePrefix: "flat", Format: FormatRaw, BufferSize: 1}
	require.NoError(t, os.WriteFile(cfg.Path(), []byte("stale"), 0o644))

	sink, err := NewSink(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, sink.Write(context.Background(), message.NewDataEnvelope("xml", nil, []byte("<a/>"))))
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(cfg.Path())
	require.NoError(t, err)
	assert.Equal(t, "<a/>", string(data))

	err = sink.Write(context.Background(), message.NewDataEnvelope("xml", nil, []byte("<b/>")))
	assert.True(t, errors.IsInvalid(err))
}

func TestFileSink_ConcurrentWritersKeepOrder(t *testing.T) {
	const writers, perWriter = 8, 200
	cfg := Config{Directory: t.TempDir(), FilePrefix: "order", Format: FormatRaw, BufferSize: 3}
	sink, err := NewSink(cfg, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				line := fmt.Sprintf("%d %d\n", w, i)
				assert.NoError(t, sink.Write(context.Background(), message.NewDataEnvelope("delim", nil, []byte(line))))
			}
		}(w)
	}
	wg.Wait()
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(cfg.Path())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, writers*perWriter)

	next := make([]int, writers)
	for _, line := range lines {
		w, i, ok := strings.Cut(line, " ")
		require.True(t, ok, line)
		wi, err := strconv.Atoi(w)
		require.NoError(t, err)
		ii, err := strconv.Atoi(i)
		require.NoError(t, err)
		require.Equal(t, next[wi], ii, "writer %d out of order", wi)
		next[wi]++
	}
}

func TestFileSink_AppendAndIndent(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Directory: dir, FilePrefix: "pretty", Format: FormatJSON, Append: true, BufferSize: 10}

	for i := 0; i < 2; i++ {
		sink, err := NewSink(cfg, nil)
		require.NoError(t, err)
		require.NoError(t, sink.Write(context.Background(), message.NewRecordEnvelope("marc21", nil, message.Record{"collection": "c"})))
		require.NoError(t, sink.Close())
	}

	data, err := os.ReadFile(cfg.Path())
	require.NoError(t, err)

	dec := json.NewDecoder(bytes.NewReader(data))
	count := 0
	for dec.More() {
		var env message.Envelope
		require.NoError(t, dec.Decode(&env))
		assert.Equal(t, "marc21", env.Format)
		count++
	}
	assert.Equal(t, 2, count)
	assert.Contains(t, string(data), "\n  \"format\": \"marc21\"")
}
