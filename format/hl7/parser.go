package hl7

import (
	"bufio"
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/c360/transcoder/errors"
	"github.com/c360/transcoder/format"
)

// ProcessingModeProduction is written to MSH-11.1 of acknowledgments.
const ProcessingModeProduction = "P"

// DefaultMaxSegmentSize bounds a single segment line.
const DefaultMaxSegmentSize = 1 << 20

const (
	mllpStart = 0x0B
	mllpEnd   = 0x1C
)

// Adapter is the HL7 v2 format adapter.
type Adapter struct {
	maxSegmentSize int
}

// Option configures the adapter.
type Option func(*Adapter)

// WithMaxSegmentSize overrides DefaultMaxSegmentSize.
func WithMaxSegmentSize(n int) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.maxSegmentSize = n
		}
	}
}

// New creates the adapter.
func New(opts ...Option) *Adapter {
	a := &Adapter{maxSegmentSize: DefaultMaxSegmentSize}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Format implements format.Adapter.
func (a *Adapter) Format() format.Format {
	return format.HL7
}

// Parse implements format.Adapter. Nothing is read until the first Next call.
func (a *Adapter) Parse(r io.Reader) (format.Iterator, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, min(4096, a.maxSegmentSize)), a.maxSegmentSize)
	sc.Split(splitSegments)
	return &iterator{scanner: sc}, nil
}

type iterator struct {
	scanner    *bufio.Scanner
	pending    string
	hasPending bool
	done       bool
	count      int
}

// Next returns the next *Message.
func (it *iterator) Next() (format.Native, error) {
	if it.done {
		return nil, io.EOF
	}

	first, ok, err := it.line()
	if err != nil {
		return nil, err
	}
	if !ok {
		it.done = true
		return nil, io.EOF
	}
	it.count++

	if !isHeader(first) {
		if err := it.skipToHeader(); err != nil {
			return nil, err
		}
		return nil, errors.WrapParse(fmt.Errorf("message %d: segment %q appears before MSH", it.count, segmentID(first)),
			"HL7Parser", "Next", "find message header")
	}

	enc, firstErr := parseEncoding(first)
	msg := &Message{Encoding: enc}
	if firstErr == nil {
		msh, err := parseSegment(first, enc)
		if err != nil {
			firstErr = err
		} else {
			msg.Segments = append(msg.Segments, msh)
		}
	}

	for {
		line, ok, err := it.line()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if isHeader(line) {
			it.pending, it.hasPending = line, true
			break
		}
		if firstErr != nil {
			continue
		}
		seg, err := parseSegment(line, enc)
		if err != nil {
			firstErr = err
			continue
		}
		msg.Segments = append(msg.Segments, seg)
	}

	if firstErr != nil {
		return nil, errors.WrapParse(fmt.Errorf("message %d: %w", it.count, firstErr),
			"HL7Parser", "Next", "parse message")
	}
	if code, _, _ := msg.MessageType(); code == "" {
		return nil, errors.WrapParse(fmt.Errorf("message %d: MSH-9 message type is missing", it.count),
			"HL7Parser", "Next", "read message type")
	}

	if msg.IsAck() {
		msg.Segment("MSH").SetValue(11, 1, 1, ProcessingModeProduction)
	}
	return msg, nil
}

// line returns the next non-empty segment line.
func (it *iterator) line() (string, bool, error) {
	if it.hasPending {
		it.hasPending = false
		return it.pending, true, nil
	}
	for it.scanner.Scan() {
		raw := stripFraming(it.scanner.Bytes())
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		if !utf8.Valid(raw) {
			decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
			if err == nil {
				raw = decoded
			}
		}
		return string(raw), true, nil
	}
	it.done = true
	if err := it.scanner.Err(); err != nil {
		if stderrors.Is(err, bufio.ErrTooLong) {
			return "", false, errors.WrapParse(err, "HL7Parser", "Next", "read segment")
		}
		return "", false, errors.WrapIO(err, "HL7Parser", "Next", "read segment")
	}
	return "", false, nil
}

func (it *iterator) skipToHeader() error {
	for {
		line, ok, err := it.line()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if isHeader(line) {
			it.pending, it.hasPending = line, true
			return nil
		}
	}
}

// splitSegments splits on CR or LF. CRLF yields an empty token that line skips.
func splitSegments(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func stripFraming(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		if c != mllpStart && c != mllpEnd {
			out = append(out, c)
		}
	}
	return out
}

func isHeader(line string) bool {
	return len(line) > 3 && line[:3] == "MSH" && !isIDChar(line[3])
}

func segmentID(line string) string {
	if len(line) > 3 {
		return line[:3]
	}
	return line
}

func parseEncoding(line string) (Encoding, error) {
	enc := Encoding{Field: line[3]}
	chars := line[4:]
	if i := strings.IndexByte(chars, enc.Field); i >= 0 {
		chars = chars[:i]
	}
	if len(chars) < 4 {
		return enc, fmt.Errorf("MSH-2 declares %d encoding characters, need 4", len(chars))
	}

	enc.Component, enc.Repetition, enc.Escape, enc.Subcomponent = chars[0], chars[1], chars[2], chars[3]
	seen := map[byte]bool{enc.Field: true}
	for i := 0; i < 4; i++ {
		if seen[chars[i]] || isIDChar(chars[i]) {
			return enc, fmt.Errorf("MSH-2 encoding character %q is not usable", chars[i])
		}
		seen[chars[i]] = true
	}
	return enc, nil
}

func parseSegment(line string, enc Encoding) (*Segment, error) {
	parts := strings.Split(line, string(enc.Field))
	id := parts[0]
	if !validID(id) {
		return nil, fmt.Errorf("segment ID %q is not valid", id)
	}

	seg := &Segment{ID: id}
	rest := parts[1:]
	if id == "MSH" {
		seg.Fields = append(seg.Fields,
			Field{{{string(enc.Field)}}},
			Field{{{rest[0]}}},
		)
		rest = rest[1:]
	}
	for _, raw := range rest {
		seg.Fields = append(seg.Fields, parseField(raw, enc))
	}
	return seg, nil
}

func parseField(raw string, enc Encoding) Field {
	var field Field
	for _, rep := range strings.Split(raw, string(enc.Repetition)) {
		var r Repetition
		for _, comp := range strings.Split(rep, string(enc.Component)) {
			var c Component
			for _, sub := range strings.Split(comp, string(enc.Subcomponent)) {
				c = append(c, unescape(sub, enc))
			}
			r = append(r, c)
		}
		field = append(field, r)
	}
	return field
}

func validID(id string) bool {
	if len(id) != 3 || id[0] < 'A' || id[0] > 'Z' {
		return false
	}
	return isIDChar(id[1]) && isIDChar(id[2])
}

func isIDChar(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
