package message

import (
	"time"

	"github.com/google/uuid"
)

// Envelope pairs a unit's original header with exactly one payload: a structured
// record, a flat document, or a failure.
type Envelope struct {
	ID        string    `json:"id"`
	Format    string    `json:"format"`
	Unit      int       `json:"unit"`
	Index     int       `json:"index"`
	CreatedAt time.Time `json:"created_at"`
	Header    Header    `json:"header,omitempty"`
	Record    Record    `json:"record,omitempty"`
	Data      []byte    `json:"data,omitempty"`
	Failure   *Failure  `json:"failure,omitempty"`
}

// Option configures envelope construction.
type Option func(*Envelope)

// WithTime sets the creation timestamp instead of using time.Now().
func WithTime(t time.Time) Option {
	return func(e *Envelope) {
		e.CreatedAt = t
	}
}

// WithID sets the envelope ID instead of generating one.
func WithID(id string) Option {
	return func(e *Envelope) {
		e.ID = id
	}
}

// WithPosition records the unit index within the run and the record index within the unit.
func WithPosition(unit, index int) Option {
	return func(e *Envelope) {
		e.Unit = unit
		e.Index = index
	}
}

func newEnvelope(format string, header Header, opts []Option) *Envelope {
	e := &Envelope{
		ID:        uuid.NewString(),
		Format:    format,
		CreatedAt: time.Now(),
		Header:    header,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewRecordEnvelope wraps a structured record.
func NewRecordEnvelope(format string, header Header, rec Record, opts ...Option) *Envelope {
	e := newEnvelope(format, header, opts)
	e.Record = rec
	return e
}

// NewDataEnvelope wraps a flat document for sinks that expect bytes.
func NewDataEnvelope(format string, header Header, data []byte, opts ...Option) *Envelope {
	e := newEnvelope(format, header, opts)
	e.Data = data
	return e
}

// NewFailureEnvelope wraps a failure record.
func NewFailureEnvelope(format string, header Header, f *Failure, opts ...Option) *Envelope {
	e := newEnvelope(format, header, opts)
	e.Failure = f
	return e
}

// IsFailure reports whether the envelope carries a failure.
func (e *Envelope) IsFailure() bool {
	return e.Failure != nil
}
