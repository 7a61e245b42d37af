package hl7

import (
	"encoding/hex"
	"strings"
)

// unescape decodes HL7 escape sequences. Unknown sequences are kept as written.
func unescape(s string, enc Encoding) string {
	if enc.Escape == 0 || strings.IndexByte(s, enc.Escape) < 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != enc.Escape {
			b.WriteByte(s[i])
			continue
		}
		end := strings.IndexByte(s[i+1:], enc.Escape)
		if end < 0 {
			b.WriteString(s[i:])
			break
		}
		seq := s[i+1 : i+1+end]
		if decoded, ok := decodeSequence(seq, enc); ok {
			b.WriteString(decoded)
		} else {
			b.WriteString(s[i : i+end+2])
		}
		i += end + 1
	}
	return b.String()
}

func decodeSequence(seq string, enc Encoding) (string, bool) {
	switch seq {
	case "F":
		return string(enc.Field), true
	case "S":
		return string(enc.Component), true
	case "T":
		return string(enc.Subcomponent), true
	case "R":
		return string(enc.Repetition), true
	case "E":
		return string(enc.Escape), true
	case ".br":
		return "\n", true
	}
	if len(seq) > 1 && seq[0] == 'X' && len(seq)%2 == 1 {
		raw, err := hex.DecodeString(seq[1:])
		if err == nil {
			return string(raw), true
		}
	}
	return "", false
}
