// Package kvstore keeps transcoded envelopes in a JetStream key-value bucket,
// keyed by format and envelope ID, or by a unit header when redelivered units
// must land on the same keys.
package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/c360/transcoder/errors"
	"github.com/c360/transcoder/message"
	"github.com/c360/transcoder/natsclient"
)

// Config holds configuration for a key-value sink
type Config struct {
	Bucket    string `json:"bucket"     yaml:"bucket"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
	// KeyHeader names a unit header whose value stands in for the envelope ID,
	// followed by the record index. Envelopes without the header keep ID keys.
	KeyHeader string `json:"key_header,omitempty" yaml:"key_header,omitempty"`
	// WriteOnce stores with create semantics: a key that already holds a
	// value keeps it and the write counts as a duplicate.
	WriteOnce bool `json:"write_once,omitempty" yaml:"write_once,omitempty"`
}

// Validate checks the configuration for errors
func (c Config) Validate() error {
	if c.Bucket == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "bucket is required")
	}
	if strings.ContainsAny(c.KeyPrefix, " */>") {
		return errors.WrapInvalid(fmt.Errorf("key prefix %q has characters not allowed in keys: %w", c.KeyPrefix, errors.ErrInvalidConfig),
			"Config", "Validate", "check key prefix")
	}
	return nil
}

// Store keeps values by key. *natsclient.KVStore satisfies it.
type Store interface {
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Create(ctx context.Context, key string, value []byte) (uint64, error)
}

// Sink writes each envelope under the key Key reports.
type Sink struct {
	cfg        Config
	store      Store
	duplicates atomic.Int64
}

// NewSink creates a sink over store.
func NewSink(cfg Config, store Store) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Sink", "NewSink", "store is required")
	}
	return &Sink{cfg: cfg, store: store}, nil
}

// Key returns the key env is stored under: <prefix><format>.<id>, or
// <prefix><format>.<header value>.<index> when KeyHeader is set and present.
// Failure envelopes get a ".failure" suffix in the header form.
func (s *Sink) Key(env *message.Envelope) string {
	if s.cfg.KeyHeader != "" {
		if v := env.Header.Get(s.cfg.KeyHeader); v != "" {
			key := s.cfg.KeyPrefix + env.Format + "." + keyToken(v) + "." + strconv.Itoa(env.Index)
			if env.IsFailure() {
				key += ".failure"
			}
			return key
		}
	}
	return s.cfg.KeyPrefix + env.Format + "." + env.ID
}

// keyToken maps v onto the characters a single KV key token may hold.
func keyToken(v string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '=':
			return r
		default:
			return '_'
		}
	}, v)
}

// Write implements output.Sink.
func (s *Sink) Write(ctx context.Context, env *message.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return errors.WrapInvalid(err, "Sink", "Write", "marshal envelope")
	}
	key := s.Key(env)
	if !s.cfg.WriteOnce {
		if _, err := s.store.Put(ctx, key, data); err != nil {
			return errors.WrapTransient(err, "Sink", "Write", "put "+key)
		}
		return nil
	}

	_, err = s.store.Create(ctx, key, data)
	switch {
	case err == nil:
		return nil
	case natsclient.IsKVConflictError(err):
		s.duplicates.Add(1)
		return nil
	default:
		return errors.WrapTransient(err, "Sink", "Write", "create "+key)
	}
}

// Duplicates reports write-once writes skipped because the key was taken.
func (s *Sink) Duplicates() int64 {
	return s.duplicates.Load()
}
