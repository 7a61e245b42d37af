// Package output routes transcoded envelopes to success and failure sinks.
package output

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"reflect"
	"sync"

	"github.com/c360/transcoder/errors"
	"github.com/c360/transcoder/message"
)

// Sink writes envelopes somewhere. Implementations must be safe for
// concurrent use when shared between drivers.
type Sink interface {
	Write(ctx context.Context, env *message.Envelope) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, env *message.Envelope) error

// Write implements Sink.
func (f SinkFunc) Write(ctx context.Context, env *message.Envelope) error {
	return f(ctx, env)
}

// Emitter sends success envelopes to one sink and failure envelopes to another.
// It satisfies pipeline.Emitter.
type Emitter struct {
	success Sink
	failure Sink
	shared  bool
}

// NewEmitter creates an emitter. A nil failure sink sends failures to the
// success sink.
func NewEmitter(success, failure Sink) (*Emitter, error) {
	if success == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("success sink is required: %w", errors.ErrMissingConfig),
			"Emitter", "NewEmitter", "check sinks")
	}
	if failure == nil || sameSink(success, failure) {
		return &Emitter{success: success, failure: success, shared: true}, nil
	}
	return &Emitter{success: success, failure: failure}, nil
}

// Emit routes env by its payload. An envelope must carry exactly one payload.
func (e *Emitter) Emit(ctx context.Context, env *message.Envelope) error {
	if env == nil {
		return errors.WrapInvalid(fmt.Errorf("nil envelope"), "Emitter", "Emit", "check envelope")
	}
	if n := payloads(env); n != 1 {
		return errors.WrapInvalid(fmt.Errorf("envelope %s carries %d payloads", env.ID, n),
			"Emitter", "Emit", "check envelope")
	}

	sink := e.success
	if env.IsFailure() {
		sink = e.failure
	}
	if err := sink.Write(ctx, env); err != nil {
		return errors.WrapIO(err, "Emitter", "Emit", "write envelope")
	}
	return nil
}

// Close closes every sink that is an io.Closer, each once.
func (e *Emitter) Close() error {
	var errs []error
	if c, ok := e.success.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if !e.shared {
		if c, ok := e.failure.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return stderrors.Join(errs...)
}

// sameSink compares sinks without panicking on uncomparable types such as Tee.
func sameSink(a, b Sink) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	return ta == tb && ta.Comparable() && a == b
}

func payloads(env *message.Envelope) int {
	n := 0
	if env.Record != nil {
		n++
	}
	if env.Data != nil {
		n++
	}
	if env.Failure != nil {
		n++
	}
	return n
}

// Collector keeps envelopes in memory.
type Collector struct {
	mu   sync.Mutex
	envs []*message.Envelope
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Write implements Sink.
func (c *Collector) Write(_ context.Context, env *message.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.envs = append(c.envs, env)
	return nil
}

// Envelopes returns a copy of everything written so far, in order.
func (c *Collector) Envelopes() []*message.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*message.Envelope(nil), c.envs...)
}

// Len returns the number of envelopes held.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.envs)
}

// Reset drops every envelope.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.envs = nil
}

// Tee writes to every sink in order and stops at the first error.
type Tee []Sink

// Write implements Sink.
func (t Tee) Write(ctx context.Context, env *message.Envelope) error {
	for i, s := range t {
		if err := s.Write(ctx, env); err != nil {
			return fmt.Errorf("tee sink %d: %w", i, err)
		}
	}
	return nil
}

// Close closes every member that is an io.Closer.
func (t Tee) Close() error {
	var errs []error
	for _, s := range t {
		if c, ok := s.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return stderrors.Join(errs...)
}
