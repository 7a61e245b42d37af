package hl7

import (
	"strings"
)

// Encoding holds the delimiters declared by MSH-1 and MSH-2.
type Encoding struct {
	Field        byte
	Component    byte
	Repetition   byte
	Escape       byte
	Subcomponent byte
}

// DefaultEncoding is the conventional |^~\& delimiter set.
var DefaultEncoding = Encoding{Field: '|', Component: '^', Repetition: '~', Escape: '\\', Subcomponent: '&'}

// Chars returns the MSH-2 value for the encoding.
func (e Encoding) Chars() string {
	return string([]byte{e.Component, e.Repetition, e.Escape, e.Subcomponent})
}

// Component is an ordered list of subcomponent values.
type Component []string

// Repetition is an ordered list of components.
type Repetition []Component

// Field is an ordered list of repetitions.
type Field []Repetition

// Segment is one line of a message. Fields[i] holds SEG-(i+1).
type Segment struct {
	ID     string
	Fields []Field
}

// Message is the native parse record: one MSH segment and the segments that
// follow it up to the next MSH.
type Message struct {
	Encoding Encoding
	Segments []*Segment
}

// Segment returns the first segment with the given ID.
func (m *Message) Segment(id string) *Segment {
	for _, s := range m.Segments {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// Value returns the first repetition's value at field, component and
// subcomponent, all 1-based.
func (s *Segment) Value(field, component, sub int) string {
	if s == nil || field < 1 || field > len(s.Fields) {
		return ""
	}
	f := s.Fields[field-1]
	if len(f) == 0 || component < 1 || component > len(f[0]) {
		return ""
	}
	c := f[0][component-1]
	if sub < 1 || sub > len(c) {
		return ""
	}
	return c[sub-1]
}

// SetValue replaces the first repetition's value at field, component and
// subcomponent, growing the segment as needed.
func (s *Segment) SetValue(field, component, sub int, value string) {
	for len(s.Fields) < field {
		s.Fields = append(s.Fields, nil)
	}
	f := s.Fields[field-1]
	if len(f) == 0 {
		f = Field{nil}
	}
	for len(f[0]) < component {
		f[0] = append(f[0], Component{""})
	}
	for len(f[0][component-1]) < sub {
		f[0][component-1] = append(f[0][component-1], "")
	}
	f[0][component-1][sub-1] = value
	s.Fields[field-1] = f
}

// MessageType returns MSH-9.1, MSH-9.2 and MSH-9.3.
func (m *Message) MessageType() (code, trigger, structure string) {
	msh := m.Segment("MSH")
	return msh.Value(9, 1, 1), msh.Value(9, 2, 1), msh.Value(9, 3, 1)
}

// Structure names the message the way the markup root is named: MSH-9.3 when
// present, otherwise code_trigger, otherwise the bare code.
func (m *Message) Structure() string {
	code, trigger, structure := m.MessageType()
	switch {
	case structure != "":
		return structure
	case trigger != "":
		return code + "_" + trigger
	default:
		return code
	}
}

// IsAck reports whether the message is a general acknowledgment.
func (m *Message) IsAck() bool {
	code, _, _ := m.MessageType()
	return strings.EqualFold(code, "ACK")
}
