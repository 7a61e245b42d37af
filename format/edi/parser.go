package edi

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/c360/transcoder/errors"
	"github.com/c360/transcoder/format"
)

// envelope names the service segments of one standard and where each header
// carries its control number.
type envelope struct {
	interchange, interchangeEnd string
	group, groupEnd             string
	message, messageEnd         string
	interchangeControl          int
	groupControl                int
	messageControl              int
	groupsRequired              bool
}

var envelopes = map[Standard]envelope{
	X12: {
		interchange: "ISA", interchangeEnd: "IEA",
		group: "GS", groupEnd: "GE",
		message: "ST", messageEnd: "SE",
		interchangeControl: 13, groupControl: 6, messageControl: 2,
		groupsRequired: true,
	},
	EDIFACT: {
		interchange: "UNB", interchangeEnd: "UNZ",
		group: "UNG", groupEnd: "UNE",
		message: "UNH", messageEnd: "UNT",
		interchangeControl: 5, groupControl: 5, messageControl: 1,
	},
}

// Adapter is the EDI format adapter.
type Adapter struct{}

// New creates the adapter.
func New() *Adapter {
	return &Adapter{}
}

// Format implements format.Adapter.
func (a *Adapter) Format() format.Format {
	return format.EDI
}

// Parse implements format.Adapter. It reads the whole stream and returns a
// single *Document.
func (a *Adapter) Parse(r io.Reader) (format.Iterator, error) {
	data, err := format.ReadAll(r, "EDIParser")
	if err != nil {
		return nil, err
	}
	doc, err := parseDocument(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")))
	if err != nil {
		return nil, errors.WrapParse(err, "EDIParser", "Parse", "parse interchange")
	}
	return format.Single(doc), nil
}

func parseDocument(data []byte) (*Document, error) {
	s := &scanner{data: data}
	doc := &Document{}
	for !s.atEnd() {
		std, err := s.detect()
		if err != nil {
			return nil, err
		}
		ic, err := parseInterchange(s, std)
		if err != nil {
			return nil, err
		}
		doc.Interchanges = append(doc.Interchanges, ic)
	}
	return doc, nil
}

func parseInterchange(s *scanner, std Standard) (*Interchange, error) {
	env := envelopes[std]
	hdr, err := s.next()
	if err != nil {
		return nil, err
	}
	if hdr == nil || hdr.ID != env.interchange {
		return nil, fmt.Errorf("segment %d: expected %s", s.count, env.interchange)
	}
	if std == X12 && len(hdr.Elements) != isaElements {
		return nil, fmt.Errorf("ISA has %d elements, need %d", len(hdr.Elements), isaElements)
	}

	ic := &Interchange{Standard: std, Delimiters: s.d, Header: hdr}
	var group *Group
	var tx *Transaction
	implicit := false

	for {
		seg, err := s.next()
		if err != nil {
			return nil, err
		}
		if seg == nil {
			return nil, fmt.Errorf("interchange %s has no %s: %w",
				hdr.Value(env.interchangeControl, 1), env.interchangeEnd, errors.ErrTruncated)
		}

		switch seg.ID {
		case env.interchange:
			return nil, fmt.Errorf("segment %d: %s inside an open interchange", s.count, seg.ID)

		case env.group:
			if tx != nil {
				return nil, fmt.Errorf("segment %d: %s inside an open %s", s.count, seg.ID, env.message)
			}
			if group != nil && !implicit {
				return nil, fmt.Errorf("segment %d: %s inside an open %s", s.count, seg.ID, env.group)
			}
			group, implicit = &Group{Header: seg}, false
			ic.Groups = append(ic.Groups, group)

		case env.message:
			if tx != nil {
				return nil, fmt.Errorf("segment %d: %s inside an open %s", s.count, seg.ID, env.message)
			}
			if group == nil {
				if env.groupsRequired {
					return nil, fmt.Errorf("segment %d: %s outside a functional group", s.count, seg.ID)
				}
				group, implicit = &Group{}, true
				ic.Groups = append(ic.Groups, group)
			}
			tx = &Transaction{Header: seg}

		case env.messageEnd:
			if tx == nil {
				return nil, fmt.Errorf("segment %d: %s without %s", s.count, seg.ID, env.message)
			}
			if err := verify(seg, len(tx.Segments)+2, tx.Header.Value(env.messageControl, 1)); err != nil {
				return nil, fmt.Errorf("segment %d: %w", s.count, err)
			}
			tx.Trailer = seg
			group.Transactions = append(group.Transactions, tx)
			tx = nil

		case env.groupEnd:
			if tx != nil || group == nil || implicit {
				return nil, fmt.Errorf("segment %d: %s without open %s", s.count, seg.ID, env.group)
			}
			if err := verify(seg, len(group.Transactions), group.Header.Value(env.groupControl, 1)); err != nil {
				return nil, fmt.Errorf("segment %d: %w", s.count, err)
			}
			group.Trailer = seg
			group = nil

		case env.interchangeEnd:
			if tx != nil || (group != nil && !implicit) {
				return nil, fmt.Errorf("segment %d: %s before the open envelope is closed", s.count, seg.ID)
			}
			if err := verify(seg, interchangeCount(ic), hdr.Value(env.interchangeControl, 1)); err != nil {
				return nil, fmt.Errorf("segment %d: %w", s.count, err)
			}
			ic.Trailer = seg
			return ic, nil

		default:
			if tx == nil {
				return nil, fmt.Errorf("segment %d: %s outside a transaction", s.count, seg.ID)
			}
			tx.Segments = append(tx.Segments, seg)
		}
	}
}

// interchangeCount is the value IEA01/UNZ01 must declare: the number of groups,
// or for EDIFACT without UNG the number of messages.
func interchangeCount(ic *Interchange) int {
	n := 0
	for _, g := range ic.Groups {
		if g.Header != nil {
			n++
			continue
		}
		n += len(g.Transactions)
	}
	return n
}

// verify checks a trailer's declared count (element 1) and control number (element 2).
func verify(trailer *Segment, count int, control string) error {
	declared, err := strconv.Atoi(trailer.Value(1, 1))
	if err != nil {
		return fmt.Errorf("%s01 count %q is not numeric", trailer.ID, trailer.Value(1, 1))
	}
	if declared != count {
		return fmt.Errorf("%s01 declares %d, found %d", trailer.ID, declared, count)
	}
	if got := trailer.Value(2, 1); !sameControl(got, control) {
		return fmt.Errorf("%s02 control %q does not match header control %q", trailer.ID, got, control)
	}
	return nil
}

func sameControl(a, b string) bool {
	if strings.EqualFold(a, b) {
		return true
	}
	x, errA := strconv.ParseUint(a, 10, 64)
	y, errB := strconv.ParseUint(b, 10, 64)
	return errA == nil && errB == nil && x == y
}
