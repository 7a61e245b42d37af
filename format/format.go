// Package format defines the adapter contract every input format implements:
// a grammar parser that turns a byte stream into native parse records, and a
// projector that turns one native record into a canonical markup document.
//
// Adapters never catch their own errors. Grammar violations surface as
// ParseError, stream read failures as IOError and projection failures as
// ConversionError, all built with the errors package so the pipeline driver can
// classify them.
package format

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/c360/transcoder/errors"
	"github.com/c360/transcoder/markup"
)

// Format tags an adapter variant.
type Format string

// Supported formats.
const (
	HL7    Format = "hl7"
	EDI    Format = "edi"
	MARC21 Format = "marc21"
	Delim  Format = "delim"
	XML    Format = "xml"
)

// Streaming reports whether the format yields one record per message boundary
// rather than exactly one record per stream.
func (f Format) Streaming() bool {
	return f == HL7
}

// Native is a format-specific parse result. It lives only for the duration of
// one adapter call.
type Native any

// Iterator is a forward-only sequence of native records. Next returns io.EOF
// once the stream is exhausted.
type Iterator interface {
	Next() (Native, error)
}

// Adapter is the capability set of one input format.
type Adapter interface {
	Format() Format
	Parse(r io.Reader) (Iterator, error)
	Project(n Native) (*markup.Document, error)
}

// Flattener is implemented by adapters whose native record is already near-final
// text and can be emitted as a flat document without projection.
type Flattener interface {
	Flatten(n Native) ([]byte, error)
}

// Single returns an iterator yielding exactly one record.
func Single(n Native) Iterator {
	return &single{n: n}
}

type single struct {
	n    Native
	done bool
}

func (s *single) Next() (Native, error) {
	if s.done {
		return nil, io.EOF
	}
	s.done = true
	return s.n, nil
}

// ReadAll reads a whole-stream unit. Read failures are IOErrors; a body holding
// nothing but whitespace reports errors.ErrEmptyUnit.
func ReadAll(r io.Reader, component string) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.WrapIO(err, component, "Parse", "read stream")
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%s.Parse: %w", component, errors.ErrEmptyUnit)
	}
	return data, nil
}

// WrongType builds the ConversionError returned when a projector receives a
// native value from another adapter.
func WrongType(component string, want string, got Native) error {
	return errors.WrapConversion(fmt.Errorf("expected %s, got %T", want, got),
		component, "Project", "check native type")
}

// Registry maps format tags to adapters. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	adapters map[Format]Adapter
}

// NewRegistry creates a registry holding the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[Format]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Format()] = a
	}
	return r
}

// Register adds or replaces the adapter for its format.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Format()] = a
}

// Lookup returns the adapter for a format.
func (r *Registry) Lookup(f Format) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[f]
	if !ok {
		return nil, errors.WrapInvalid(fmt.Errorf("no adapter for format %q", f),
			"Registry", "Lookup", "find adapter")
	}
	return a, nil
}

// Formats lists the registered formats in sorted order.
func (r *Registry) Formats() []Format {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Format, 0, len(r.adapters))
	for f := range r.adapters {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
