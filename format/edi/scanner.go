package edi

import (
	"bytes"
	"fmt"

	"github.com/c360/transcoder/errors"
)

const (
	isaLength      = 106
	isaElements    = 16
	unaLength      = 9
	whitespaceSet  = " \t\r\n"
	lineTerminator = "\r\n"
)

// scanner reads segments one at a time so each interchange can carry its own
// delimiters.
type scanner struct {
	data  []byte
	pos   int
	d     Delimiters
	count int
}

func (s *scanner) skipSpace() {
	for s.pos < len(s.data) && bytes.IndexByte([]byte(whitespaceSet), s.data[s.pos]) >= 0 {
		s.pos++
	}
}

func (s *scanner) atEnd() bool {
	s.skipSpace()
	return s.pos >= len(s.data)
}

// detect reads the delimiters of the interchange starting at the current
// position and returns its standard.
func (s *scanner) detect() (Standard, error) {
	rest := s.data[s.pos:]
	switch {
	case bytes.HasPrefix(rest, []byte("ISA")):
		if len(rest) < isaLength {
			return "", fmt.Errorf("ISA segment is %d bytes, need %d: %w", len(rest), isaLength, errors.ErrTruncated)
		}
		s.d = Delimiters{Element: rest[3], Component: rest[104], Segment: rest[105]}
		if s.d.Element == s.d.Component || s.d.Element == s.d.Segment || s.d.Component == s.d.Segment {
			return "", fmt.Errorf("ISA declares overlapping delimiters %q %q %q", s.d.Element, s.d.Component, s.d.Segment)
		}
		return X12, nil
	case bytes.HasPrefix(rest, []byte("UNA")):
		if len(rest) < unaLength {
			return "", fmt.Errorf("UNA service string advice is incomplete: %w", errors.ErrTruncated)
		}
		s.d = Delimiters{Component: rest[3], Element: rest[4], Release: rest[6], Segment: rest[8]}
		if s.d.Release == ' ' {
			s.d.Release = 0
		}
		s.pos += unaLength
		return EDIFACT, nil
	case bytes.HasPrefix(rest, []byte("UNB")):
		s.d = DefaultEDIFACT
		return EDIFACT, nil
	default:
		return "", fmt.Errorf("interchange must start with ISA, UNA or UNB, found %q", preview(rest))
	}
}

// next returns the next segment, or nil at end of input.
func (s *scanner) next() (*Segment, error) {
	if s.atEnd() {
		return nil, nil
	}

	start := s.pos
	end := -1
	for i := start; i < len(s.data); i++ {
		c := s.data[i]
		if s.d.Release != 0 && c == s.d.Release {
			i++
			continue
		}
		if c == s.d.Segment {
			end = i
			break
		}
	}
	s.count++
	if end < 0 {
		return nil, fmt.Errorf("segment %d (%s) is not terminated: %w", s.count, preview(s.data[start:]), errors.ErrTruncated)
	}
	s.pos = end + 1

	raw := bytes.TrimRight(s.data[start:end], lineTerminator)
	elements := split(raw, s.d.Element, s.d.Release)
	id := string(elements[0])
	if !validID(id) {
		return nil, fmt.Errorf("segment %d has invalid tag %q", s.count, id)
	}

	seg := &Segment{ID: id}
	for _, el := range elements[1:] {
		if id == "ISA" {
			seg.Elements = append(seg.Elements, []string{string(el)})
			continue
		}
		var comps []string
		for _, c := range split(el, s.d.Component, s.d.Release) {
			comps = append(comps, unrelease(c, s.d.Release))
		}
		seg.Elements = append(seg.Elements, comps)
	}
	return seg, nil
}

// split cuts b at every unreleased sep. Release characters are kept.
func split(b []byte, sep, release byte) [][]byte {
	var parts [][]byte
	start := 0
	for i := 0; i < len(b); i++ {
		if release != 0 && b[i] == release {
			i++
			continue
		}
		if b[i] == sep {
			parts = append(parts, b[start:i])
			start = i + 1
		}
	}
	return append(parts, b[start:])
}

func unrelease(b []byte, release byte) string {
	if release == 0 || bytes.IndexByte(b, release) < 0 {
		return string(b)
	}
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] == release && i+1 < len(b) {
			i++
		}
		out = append(out, b[i])
	}
	return string(out)
}

func validID(id string) bool {
	if len(id) < 2 || len(id) > 3 {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if !(c >= 'A' && c <= 'Z') && !(c >= '0' && c <= '9') {
			return false
		}
	}
	return id[0] >= 'A' && id[0] <= 'Z'
}

func preview(b []byte) string {
	if len(b) > 16 {
		b = b[:16]
	}
	return string(b)
}
