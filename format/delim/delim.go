// Package delim adapts delimiter-separated text. A fixed multi-character
// delimiter token is replaced by a single separator across the whole stream and
// every line is preserved.
package delim

import (
	"fmt"
	"io"
	"strings"

	"github.com/c360/transcoder/errors"
	"github.com/c360/transcoder/format"
	"github.com/c360/transcoder/markup"
)

// Defaults.
const (
	DefaultDelimiter = "#$$#"
	DefaultSeparator = ","
	RootElement      = "text"
)

// Text is the native parse record: the transformed text.
type Text struct {
	Value string
}

// Adapter is the delimited-text format adapter.
type Adapter struct {
	delimiter string
	separator string
}

// New creates an adapter. Empty arguments select the defaults.
func New(delimiter, separator string) (*Adapter, error) {
	if delimiter == "" {
		delimiter = DefaultDelimiter
	}
	if separator == "" {
		separator = DefaultSeparator
	}
	if strings.Contains(separator, delimiter) {
		return nil, errors.WrapInvalid(fmt.Errorf("separator %q contains delimiter %q", separator, delimiter),
			"DelimParser", "New", "check configuration")
	}
	return &Adapter{delimiter: delimiter, separator: separator}, nil
}

// Format implements format.Adapter.
func (a *Adapter) Format() format.Format {
	return format.Delim
}

// Parse implements format.Adapter.
func (a *Adapter) Parse(r io.Reader) (format.Iterator, error) {
	data, err := format.ReadAll(r, "DelimParser")
	if err != nil {
		return nil, err
	}
	return format.Single(&Text{Value: strings.ReplaceAll(string(data), a.delimiter, a.separator)}), nil
}

// Project implements format.Adapter.
func (a *Adapter) Project(n format.Native) (*markup.Document, error) {
	t, ok := n.(*Text)
	if !ok {
		return nil, format.WrongType("DelimProjector", "*delim.Text", n)
	}
	doc := &markup.Document{Root: markup.NewText(RootElement, t.Value)}
	if err := markup.Validate(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Flatten implements format.Flattener: the text itself is the flat document.
func (a *Adapter) Flatten(n format.Native) ([]byte, error) {
	t, ok := n.(*Text)
	if !ok {
		return nil, format.WrongType("DelimProjector", "*delim.Text", n)
	}
	return []byte(t.Value), nil
}
