// Package jetstream serves input units from a JetStream pull consumer, one
// unit per message. The message is acknowledged when the pipeline closes
// the unit body, after every envelope for the unit has been emitted. A unit
// the pipeline rejects (emit failure, cancellation) is negatively
// acknowledged instead and redelivered by the server.
package jetstream

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/transcoder/errors"
	"github.com/c360/transcoder/message"
)

// Headers the source adds to every unit.
const (
	// HeaderSubject carries the subject the unit was published on.
	HeaderSubject = "Nats-Subject"
	// HeaderSequence carries the stream sequence, which stays the same when
	// the unit is redelivered.
	HeaderSequence = "Nats-Stream-Sequence"
)

// Config holds configuration for a JetStream source
type Config struct {
	Stream  string        `json:"stream"   yaml:"stream"`
	Durable string        `json:"durable"  yaml:"durable"`
	Subject string        `json:"subject"  yaml:"subject"`
	MaxWait time.Duration `json:"max_wait" yaml:"max_wait"`
	// StreamSubjects, when set, makes the stream (created or updated) bind
	// these subjects before the consumer is attached.
	StreamSubjects []string `json:"stream_subjects,omitempty" yaml:"stream_subjects,omitempty"`
	// StopWhenIdle ends the source with io.EOF the first time a fetch times out.
	StopWhenIdle bool `json:"stop_when_idle" yaml:"stop_when_idle"`
}

// DefaultConfig returns defaults for the optional fields.
func DefaultConfig() Config {
	return Config{Durable: "transcoder", MaxWait: 5 * time.Second}
}

// Validate checks the configuration for errors
func (c Config) Validate() error {
	if c.Stream == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "stream is required")
	}
	if c.MaxWait <= 0 {
		return errors.WrapInvalid(fmt.Errorf("max_wait must be positive: %w", errors.ErrInvalidConfig),
			"Config", "Validate", "check max_wait")
	}
	return nil
}

// StreamConfig is the stream to ensure when StreamSubjects is set.
func (c Config) StreamConfig() (jetstream.StreamConfig, bool) {
	if len(c.StreamSubjects) == 0 {
		return jetstream.StreamConfig{}, false
	}
	return jetstream.StreamConfig{Name: c.Stream, Subjects: c.StreamSubjects}, true
}

// ConsumerConfig is the durable pull consumer the source expects.
func (c Config) ConsumerConfig() jetstream.ConsumerConfig {
	return jetstream.ConsumerConfig{
		Durable:       c.Durable,
		FilterSubject: c.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	}
}

// Fetcher pulls one message. jetstream.Consumer satisfies it.
type Fetcher interface {
	Next(opts ...jetstream.FetchOpt) (jetstream.Msg, error)
}

// Source adapts a pull consumer to pipeline.Source.
type Source struct {
	cfg      Config
	consumer Fetcher
}

// NewSource creates a source over consumer.
func NewSource(cfg Config, consumer Fetcher) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if consumer == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "JetStreamSource", "NewSource", "consumer is required")
	}
	return &Source{cfg: cfg, consumer: consumer}, nil
}

// Next waits for the next message. Fetch timeouts are retried until ctx ends,
// unless StopWhenIdle is set.
func (s *Source) Next(ctx context.Context) (*message.Unit, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msg, err := s.consumer.Next(jetstream.FetchMaxWait(s.cfg.MaxWait))
		if isTimeout(err) {
			if s.cfg.StopWhenIdle {
				return nil, io.EOF
			}
			continue
		}
		if err != nil {
			return nil, errors.WrapTransient(err, "JetStreamSource", "Next", "fetch message")
		}

		header := message.Header{}
		for k, vs := range msg.Headers() {
			header[k] = append([]string(nil), vs...)
		}
		header.Set(HeaderSubject, msg.Subject())
		if meta, err := msg.Metadata(); err == nil {
			header.Set(HeaderSequence, strconv.FormatUint(meta.Sequence.Stream, 10))
		}
		return &message.Unit{Header: header, Body: &ackBody{Reader: bytes.NewReader(msg.Data()), msg: msg}}, nil
	}
}

func isTimeout(err error) bool {
	return err != nil && (stderrors.Is(err, nats.ErrTimeout) || stderrors.Is(err, context.DeadlineExceeded))
}

// ackBody settles its message once: Reject naks it, Close acks it unless it
// was already rejected.
type ackBody struct {
	*bytes.Reader
	msg     jetstream.Msg
	settled bool
}

// Reject implements pipeline.Rejecter.
func (b *ackBody) Reject() error {
	if b.settled {
		return nil
	}
	b.settled = true
	if err := b.msg.Nak(); err != nil {
		return errors.WrapTransient(err, "JetStreamSource", "Reject", "nak message")
	}
	return nil
}

func (b *ackBody) Close() error {
	if b.settled {
		return nil
	}
	b.settled = true
	if err := b.msg.Ack(); err != nil {
		return errors.WrapTransient(err, "JetStreamSource", "Close", "ack message")
	}
	return nil
}
