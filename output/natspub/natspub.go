// Package natspub publishes transcoded envelopes to NATS subjects.
//
// Each envelope is sent as JSON. The unit header is copied onto the NATS
// message header, and the envelope identity is added under Transcoder-*
// keys so subscribers can route without decoding the body.
package natspub

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/nats-io/nats.go"
	"golang.org/x/time/rate"

	"github.com/c360/transcoder/errors"
	"github.com/c360/transcoder/message"
	"github.com/c360/transcoder/natsclient"
)

// Header keys set on every published message.
const (
	HeaderID     = "Transcoder-Id"
	HeaderFormat = "Transcoder-Format"
	HeaderUnit   = "Transcoder-Unit"
	HeaderIndex  = "Transcoder-Index"
	HeaderKind   = "Transcoder-Failure-Kind"
)

// FormatPlaceholder in a subject is replaced with the envelope's format.
const FormatPlaceholder = "{format}"

// Config holds configuration for a NATS sink
type Config struct {
	Subject   string `json:"subject"   yaml:"subject"`
	JetStream bool   `json:"jetstream" yaml:"jetstream"`
	// RateLimit caps publishes per second; zero disables the limit.
	RateLimit float64 `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
	Burst     int     `json:"burst,omitempty"      yaml:"burst,omitempty"`
}

// DefaultConfig returns the subject layout used when none is configured.
func DefaultConfig() Config {
	return Config{Subject: "transcoder.records." + FormatPlaceholder}
}

// Validate checks the configuration for errors
func (c Config) Validate() error {
	if strings.TrimSpace(c.Subject) == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "subject is required")
	}
	if strings.ContainsAny(c.Subject, " \t\r\n") {
		return errors.WrapInvalid(fmt.Errorf("subject %q contains whitespace: %w", c.Subject, errors.ErrInvalidConfig),
			"Config", "Validate", "check subject")
	}
	if c.RateLimit < 0 || c.Burst < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "rate limit and burst must not be negative")
	}
	return nil
}

// Publisher sends one NATS message.
type Publisher interface {
	PublishMsg(ctx context.Context, msg *nats.Msg) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, msg *nats.Msg) error

// PublishMsg implements Publisher.
func (f PublisherFunc) PublishMsg(ctx context.Context, msg *nats.Msg) error {
	return f(ctx, msg)
}

// ForClient picks core NATS or JetStream publishing on client per cfg.
func ForClient(client *natsclient.Client, cfg Config) Publisher {
	if cfg.JetStream {
		return PublisherFunc(client.PublishToStream)
	}
	return client
}

// Sink publishes envelopes.
type Sink struct {
	cfg     Config
	pub     Publisher
	limiter *rate.Limiter
}

// NewSink creates a sink.
func NewSink(cfg Config, pub Publisher) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if pub == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Sink", "NewSink", "publisher is required")
	}
	s := &Sink{cfg: cfg, pub: pub}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst == 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return s, nil
}

// Subject returns the subject env is published to.
func (s *Sink) Subject(env *message.Envelope) string {
	return strings.ReplaceAll(s.cfg.Subject, FormatPlaceholder, env.Format)
}

// Write implements output.Sink.
func (s *Sink) Write(ctx context.Context, env *message.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return errors.WrapInvalid(err, "Sink", "Write", "marshal envelope")
	}

	msg := nats.NewMsg(s.Subject(env))
	msg.Data = data
	for k, vs := range env.Header {
		for _, v := range vs {
			msg.Header.Add(k, v)
		}
	}
	msg.Header.Set(HeaderID, env.ID)
	msg.Header.Set(HeaderFormat, env.Format)
	msg.Header.Set(HeaderUnit, strconv.Itoa(env.Unit))
	msg.Header.Set(HeaderIndex, strconv.Itoa(env.Index))
	if env.IsFailure() {
		msg.Header.Set(HeaderKind, env.Failure.Kind)
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return errors.WrapTransient(err, "Sink", "Write", "wait for rate limit")
		}
	}
	if err := s.pub.PublishMsg(ctx, msg); err != nil {
		return errors.WrapTransient(err, "Sink", "Write", fmt.Sprintf("publish to %s", msg.Subject))
	}
	return nil
}
