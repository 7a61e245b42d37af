package marc21

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/c360/transcoder/errors"
)

const esc = 0x1B

// g0Set is the graphic set currently designated for bytes 0x21-0x7E.
type g0Set byte

const (
	g0ASCII g0Set = iota
	g0Greek
	g0Subscript
	g0Superscript
)

// ansel maps the ANSEL extended Latin set (MARC-8 G1) to Unicode. Bytes 0xE0
// and above are combining marks.
var ansel = map[byte]rune{
	0x88: -1, 0x89: -1, // non-sort markers
	0x8D: '\u200D', 0x8E: '\u200C',
	0xA1: 'Ł', 0xA2: 'Ø', 0xA3: 'Đ', 0xA4: 'Þ', 0xA5: 'Æ', 0xA6: 'Œ', 0xA7: 'ʹ',
	0xA8: '·', 0xA9: '♭', 0xAA: '®', 0xAB: '±', 0xAC: 'Ơ', 0xAD: 'Ư', 0xAE: 'ʼ',
	0xB0: 'ʻ', 0xB1: 'ł', 0xB2: 'ø', 0xB3: 'đ', 0xB4: 'þ', 0xB5: 'æ', 0xB6: 'œ',
	0xB7: 'ʺ', 0xB8: 'ı', 0xB9: '£', 0xBA: 'ð', 0xBC: 'ơ', 0xBD: 'ư',
	0xC0: '°', 0xC1: 'ℓ', 0xC2: '℗', 0xC3: '©', 0xC4: '♯', 0xC5: '¿', 0xC6: '¡',
	0xC7: 'ß', 0xC8: '€',
	0xE0: '\u0309', 0xE1: '\u0300', 0xE2: '\u0301', 0xE3: '\u0302', 0xE4: '\u0303',
	0xE5: '\u0304', 0xE6: '\u0306', 0xE7: '\u0307', 0xE8: '\u0308', 0xE9: '\u030C',
	0xEA: '\u030A', 0xEB: '\uFE20', 0xEC: '\uFE21', 0xED: '\u0315', 0xEE: '\u030B',
	0xEF: '\u0310', 0xF0: '\u0327', 0xF1: '\u0328', 0xF2: '\u0323', 0xF3: '\u0324',
	0xF4: '\u0325', 0xF5: '\u0333', 0xF6: '\u0332', 0xF7: '\u0326', 0xF8: '\u031C',
	0xF9: '\u032E', 0xFA: '\uFE22', 0xFB: '\uFE23', 0xFE: '\u0313',
}

var greek = map[byte]rune{'a': 'α', 'b': 'β', 'c': 'γ'}

var subscript = map[byte]rune{
	'(': '₍', ')': '₎', '+': '₊', '-': '₋',
	'0': '₀', '1': '₁', '2': '₂', '3': '₃', '4': '₄',
	'5': '₅', '6': '₆', '7': '₇', '8': '₈', '9': '₉',
}

var superscript = map[byte]rune{
	'(': '⁽', ')': '⁾', '+': '⁺', '-': '⁻',
	'0': '⁰', '1': '¹', '2': '²', '3': '³', '4': '⁴',
	'5': '⁵', '6': '⁶', '7': '⁷', '8': '⁸', '9': '⁹',
}

// decodeMARC8 converts MARC-8 bytes to NFC Unicode. It covers Basic Latin,
// ANSEL and the Greek symbol, subscript and superscript sets. Combining marks,
// which MARC-8 stores before their base letter, are moved after it. Other
// script sets (Hebrew, Cyrillic, Arabic, Greek, CJK) are rejected.
func decodeMARC8(b []byte) (string, error) {
	var out strings.Builder
	var marks []rune
	set := g0ASCII

	emit := func(r rune) {
		out.WriteRune(r)
		for _, m := range marks {
			out.WriteRune(m)
		}
		marks = marks[:0]
	}

	for i := 0; i < len(b); i++ {
		c := b[i]
		switch {
		case c == esc:
			next, n, err := escape(b[i+1:], set)
			if err != nil {
				return "", fmt.Errorf("offset %d: %w", i, err)
			}
			set = next
			i += n
		case c < 0x80:
			r := rune(c)
			if c >= 0x21 && c <= 0x7E {
				var table map[byte]rune
				switch set {
				case g0Greek:
					table = greek
				case g0Subscript:
					table = subscript
				case g0Superscript:
					table = superscript
				}
				if mapped, ok := table[c]; ok {
					r = mapped
				}
			}
			emit(r)
		default:
			r, ok := ansel[c]
			switch {
			case !ok:
				return "", fmt.Errorf("offset %d: byte 0x%02X is not a MARC-8 character: %w", i, c, errors.ErrInvalidData)
			case r < 0:
			case c >= 0xE0:
				marks = append(marks, r)
			default:
				emit(r)
			}
		}
	}
	for _, m := range marks {
		out.WriteRune(m)
	}
	return norm.NFC.String(out.String()), nil
}

// escape reads the escape sequence after ESC and returns the G0 set in effect
// afterwards and the number of bytes consumed.
func escape(b []byte, current g0Set) (g0Set, int, error) {
	if len(b) == 0 {
		return 0, 0, fmt.Errorf("escape at end of data: %w", errors.ErrTruncated)
	}
	switch b[0] {
	case 's':
		return g0ASCII, 1, nil
	case 'g':
		return g0Greek, 1, nil
	case 'b':
		return g0Subscript, 1, nil
	case 'p':
		return g0Superscript, 1, nil
	case '(', ',':
		if len(b) < 2 {
			return 0, 0, fmt.Errorf("escape at end of data: %w", errors.ErrTruncated)
		}
		if b[1] == 'B' {
			return g0ASCII, 2, nil
		}
		return 0, 0, fmt.Errorf("MARC-8 character set %q is not supported: %w", b[1], errors.ErrInvalidData)
	case ')', '-':
		if len(b) < 2 {
			return 0, 0, fmt.Errorf("escape at end of data: %w", errors.ErrTruncated)
		}
		if b[1] == 'E' {
			// ANSEL is already the G1 set.
			return current, 2, nil
		}
		return 0, 0, fmt.Errorf("MARC-8 character set %q is not supported: %w", b[1], errors.ErrInvalidData)
	case '$':
		return 0, 0, fmt.Errorf("MARC-8 multibyte (CJK) set is not supported: %w", errors.ErrInvalidData)
	default:
		return 0, 0, fmt.Errorf("unknown MARC-8 escape %q: %w", b[0], errors.ErrInvalidData)
	}
}
