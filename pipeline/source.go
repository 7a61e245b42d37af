package pipeline

import (
	"context"
	"io"

	"github.com/c360/transcoder/message"
)

// Source delivers input units. Next returns io.EOF when no units remain; a nil
// unit is skipped.
type Source interface {
	Next(ctx context.Context) (*message.Unit, error)
}

// Rejecter is implemented by unit bodies that can hand their unit back to the
// source for redelivery. When a run aborts partway through a unit because the
// emitter failed or the context ended, the driver calls Reject before Close;
// Close then must not settle the unit as consumed.
type Rejecter interface {
	Reject() error
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (*message.Unit, error)

// Next implements Source.
func (f SourceFunc) Next(ctx context.Context) (*message.Unit, error) {
	return f(ctx)
}

// SliceSource serves units from memory. It is not safe for concurrent use.
type SliceSource struct {
	units []*message.Unit
	pos   int
}

// NewSliceSource creates a source over units. Nil entries are allowed.
func NewSliceSource(units ...*message.Unit) *SliceSource {
	return &SliceSource{units: units}
}

// Next implements Source.
func (s *SliceSource) Next(ctx context.Context) (*message.Unit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.units) {
		return nil, io.EOF
	}
	u := s.units[s.pos]
	s.pos++
	return u, nil
}
