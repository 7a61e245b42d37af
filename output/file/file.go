package file

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/c360/transcoder/errors"
	"github.com/c360/transcoder/message"
)

// Output file formats.
const (
	FormatJSON  = "json"
	FormatJSONL = "jsonl"
	FormatRaw   = "raw"
)

// Config holds configuration for a file sink
type Config struct {
	Directory  string `json:"directory"   yaml:"directory"`
	FilePrefix string `json:"file_prefix" yaml:"file_prefix"`
	Format     string `json:"format"      yaml:"format"`
	Append     bool   `json:"append"      yaml:"append"`
	BufferSize int    `json:"buffer_size" yaml:"buffer_size"`
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Directory == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "directory is required")
	}

	validFormats := map[string]bool{FormatJSON: true, FormatJSONL: true, FormatRaw: true}
	if !validFormats[c.Format] {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"format must be one of: json, jsonl, raw")
	}

	if c.BufferSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"buffer_size cannot be negative")
	}

	return nil
}

// DefaultConfig returns default configuration for file output
func DefaultConfig() Config {
	return Config{
		Directory:  "/tmp/transcoder",
		FilePrefix: "records",
		Format:     FormatJSONL,
		Append:     true,
		BufferSize: 100,
	}
}

// Path returns the file the sink writes to.
func (c *Config) Path() string {
	return filepath.Join(c.Directory, fmt.Sprintf("%s.%s", c.FilePrefix, c.Format))
}

// Sink writes envelopes to a single file, buffering up to BufferSize entries.
type Sink struct {
	cfg    Config
	logger *slog.Logger

	file   *os.File
	fileMu sync.Mutex

	buffer   [][]byte
	bufferMu sync.Mutex

	closed atomic.Bool

	messagesWritten atomic.Int64
	bytesWritten    atomic.Int64
	errors          atomic.Int64
}

// NewSink creates the output directory and opens the file.
func NewSink(cfg Config, logger *slog.Logger) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return nil, errors.WrapFatal(err, "Sink", "NewSink", "create output directory")
	}

	flags := os.O_CREATE | os.O_WRONLY
	if cfg.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(cfg.Path(), flags, 0o644)
	if err != nil {
		return nil, errors.WrapFatal(err, "Sink", "NewSink", "open output file")
	}

	s := &Sink{
		cfg:    cfg,
		logger: logger.With("component", "file-sink", "path", cfg.Path()),
		file:   f,
		buffer: make([][]byte, 0, cfg.BufferSize),
	}
	s.logger.Info("File sink opened", "format", cfg.Format, "append", cfg.Append, "buffer_size", cfg.BufferSize)
	return s, nil
}

// Write encodes env and buffers it; a full buffer is flushed.
func (s *Sink) Write(ctx context.Context, env *message.Envelope) error {
	if s.closed.Load() {
		return errors.WrapInvalid(fmt.Errorf("sink is closed"), "Sink", "Write", "check state")
	}
	data, err := s.encode(env)
	if err != nil {
		s.errors.Add(1)
		return err
	}

	s.bufferMu.Lock()
	s.buffer = append(s.buffer, data)
	shouldFlush := len(s.buffer) >= s.cfg.BufferSize
	s.bufferMu.Unlock()

	if !shouldFlush {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Flush()
}

func (s *Sink) encode(env *message.Envelope) ([]byte, error) {
	switch s.cfg.Format {
	case FormatRaw:
		// Raw keeps flat payloads as they are; records and failures fall back to JSON.
		if env.Data != nil {
			return env.Data, nil
		}
		data, err := json.Marshal(env)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Sink", "Write", "marshal envelope")
		}
		return append(data, '\n'), nil
	case FormatJSON:
		data, err := json.MarshalIndent(env, "", "  ")
		if err != nil {
			return nil, errors.WrapInvalid(err, "Sink", "Write", "marshal envelope")
		}
		return append(data, '\n'), nil
	default:
		data, err := json.Marshal(env)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Sink", "Write", "marshal envelope")
		}
		return append(data, '\n'), nil
	}
}

// Flush writes buffered envelopes to the file. The file lock is held across
// the buffer swap so concurrent flushes write batches in buffer order.
func (s *Sink) Flush() error {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	s.bufferMu.Lock()
	if len(s.buffer) == 0 {
		s.bufferMu.Unlock()
		return nil
	}
	pending := s.buffer
	s.buffer = make([][]byte, 0, s.cfg.BufferSize)
	s.bufferMu.Unlock()

	if s.file == nil {
		s.errors.Add(int64(len(pending)))
		return errors.WrapFatal(fmt.Errorf("file handle is nil, %d envelopes lost", len(pending)),
			"Sink", "Flush", "check file")
	}

	for i, data := range pending {
		n, err := s.file.Write(data)
		if err != nil {
			s.errors.Add(int64(len(pending) - i))
			return errors.WrapTransient(err, "Sink", "Flush", "write envelope")
		}
		s.messagesWritten.Add(1)
		s.bytesWritten.Add(int64(n))
	}

	s.logger.Debug("Flush completed",
		"envelopes", len(pending),
		"total_written", s.messagesWritten.Load(),
		"total_errors", s.errors.Load())
	return nil
}

// Close flushes and closes the file. Later calls do nothing.
func (s *Sink) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	flushErr := s.Flush()

	s.fileMu.Lock()
	defer s.fileMu.Unlock()
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			s.logger.Warn("failed to close output file", "error", err)
			if flushErr == nil {
				flushErr = errors.WrapTransient(err, "Sink", "Close", "close file")
			}
		}
		s.file = nil
	}
	return flushErr
}

// Stats reports envelopes written, bytes written and write errors.
func (s *Sink) Stats() (written, bytes, failed int64) {
	return s.messagesWritten.Load(), s.bytesWritten.Load(), s.errors.Load()
}
