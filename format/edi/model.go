package edi

import "strings"

// Standard identifies the EDI syntax of an interchange.
type Standard string

// Supported standards.
const (
	X12     Standard = "ANSI X.12"
	EDIFACT Standard = "EDIFACT"
)

// Delimiters used by one interchange. Release is zero when the syntax has no
// release character.
type Delimiters struct {
	Element   byte
	Component byte
	Segment   byte
	Release   byte
}

// DefaultEDIFACT is the delimiter set implied when UNA is absent.
var DefaultEDIFACT = Delimiters{Element: '+', Component: ':', Segment: '\'', Release: '?'}

// Segment is a tagged list of elements. Elements[i] holds element i+1 as its
// list of components.
type Segment struct {
	ID       string
	Elements [][]string
}

// Value returns component c of element e, both 1-based, trimmed of padding.
func (s *Segment) Value(e, c int) string {
	if s == nil || e < 1 || e > len(s.Elements) {
		return ""
	}
	el := s.Elements[e-1]
	if c < 1 || c > len(el) {
		return ""
	}
	return strings.TrimSpace(el[c-1])
}

// Transaction is an X12 transaction set or an EDIFACT message. Segments holds
// the body only, without the ST/SE or UNH/UNT pair.
type Transaction struct {
	Header   *Segment
	Trailer  *Segment
	Segments []*Segment
}

// Group is a functional group. Header is nil for the implicit group that holds
// EDIFACT messages sent without UNG.
type Group struct {
	Header       *Segment
	Trailer      *Segment
	Transactions []*Transaction
}

// Interchange is one ISA/IEA or UNB/UNZ envelope.
type Interchange struct {
	Standard   Standard
	Delimiters Delimiters
	Header     *Segment
	Trailer    *Segment
	Groups     []*Group
}

// Document is the native parse record for one unit: every interchange in the
// stream, in order.
type Document struct {
	Interchanges []*Interchange
}
