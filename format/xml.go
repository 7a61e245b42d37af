package format

import (
	"bytes"
	"io"

	"github.com/c360/transcoder/markup"
)

// XMLAdapter accepts a document that is already markup. Parsing decodes it and
// projection is the identity, so the record goes straight to lowering.
type XMLAdapter struct{}

// NewXMLAdapter creates the passthrough adapter.
func NewXMLAdapter() *XMLAdapter {
	return &XMLAdapter{}
}

// Format implements Adapter.
func (a *XMLAdapter) Format() Format {
	return XML
}

// Parse implements Adapter.
func (a *XMLAdapter) Parse(r io.Reader) (Iterator, error) {
	data, err := ReadAll(r, "XMLAdapter")
	if err != nil {
		return nil, err
	}
	doc, err := markup.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return Single(doc), nil
}

// Project implements Adapter.
func (a *XMLAdapter) Project(n Native) (*markup.Document, error) {
	doc, ok := n.(*markup.Document)
	if !ok {
		return nil, WrongType("XMLAdapter", "*markup.Document", n)
	}
	if err := markup.Validate(doc); err != nil {
		return nil, err
	}
	return doc, nil
}
