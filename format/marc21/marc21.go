// Package marc21 adapts MARC 21 bibliographic records in ISO 2709 transmission
// format and projects them as MARCXML (slim schema).
package marc21

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"unicode/utf8"

	"github.com/c360/transcoder/errors"
	"github.com/c360/transcoder/format"
	"github.com/c360/transcoder/markup"
)

// Namespace is the MARCXML slim schema namespace.
const Namespace = "http://www.loc.gov/MARC21/slim"

// ISO 2709 structure.
const (
	LeaderLength      = 24
	DirectoryEntryLen = 12

	FieldTerminator  = 0x1E
	RecordTerminator = 0x1D
	SubfieldDelim    = 0x1F
)

// Subfield is one coded value of a data field.
type Subfield struct {
	Code string
	Data string
}

// Field is a control field (Data set) or a data field (indicators and subfields).
type Field struct {
	Tag       string
	Data      string
	Ind1      string
	Ind2      string
	Subfields []Subfield
}

// IsControl reports whether the tag is 001-009.
func (f Field) IsControl() bool {
	return len(f.Tag) == 3 && f.Tag[0] == '0' && f.Tag[1] == '0'
}

// Record is one bibliographic record. The leader is stored as emitted, with
// position 09 set to 'a' once the data is Unicode.
type Record struct {
	Leader string
	Fields []Field
}

// Collection is the native parse record: every record in the unit.
type Collection struct {
	Records []*Record
}

// Adapter is the MARC21 format adapter.
type Adapter struct{}

// New creates the adapter.
func New() *Adapter {
	return &Adapter{}
}

// Format implements format.Adapter.
func (a *Adapter) Format() format.Format {
	return format.MARC21
}

// Parse implements format.Adapter. It reads every record in the stream and
// returns a single *Collection.
func (a *Adapter) Parse(r io.Reader) (format.Iterator, error) {
	data, err := format.ReadAll(r, "MARC21Parser")
	if err != nil {
		return nil, err
	}

	coll := &Collection{}
	for pos := 0; ; {
		for pos < len(data) && isSpace(data[pos]) {
			pos++
		}
		if pos >= len(data) {
			break
		}
		rec, n, err := parseRecord(data[pos:])
		if err != nil {
			return nil, errors.WrapParse(fmt.Errorf("record %d: %w", len(coll.Records)+1, err),
				"MARC21Parser", "Parse", "read record")
		}
		coll.Records = append(coll.Records, rec)
		pos += n
	}
	return format.Single(coll), nil
}

func parseRecord(data []byte) (*Record, int, error) {
	if len(data) < LeaderLength {
		return nil, 0, fmt.Errorf("leader is %d bytes, need %d: %w", len(data), LeaderLength, errors.ErrTruncated)
	}
	leader := data[:LeaderLength]
	length, err := digits(leader[0:5])
	if err != nil {
		return nil, 0, fmt.Errorf("leader record length %q: %w", leader[0:5], err)
	}
	base, err := digits(leader[12:17])
	if err != nil {
		return nil, 0, fmt.Errorf("leader base address %q: %w", leader[12:17], err)
	}
	if length < LeaderLength+1 || base <= LeaderLength || base > length {
		return nil, 0, fmt.Errorf("leader declares length %d and base address %d", length, base)
	}
	if length > len(data) {
		return nil, 0, fmt.Errorf("record declares %d bytes, %d available: %w", length, len(data), errors.ErrTruncated)
	}
	raw := data[:length]
	if raw[length-1] != RecordTerminator {
		return nil, 0, fmt.Errorf("record does not end with a record terminator")
	}

	dir := raw[LeaderLength : base-1]
	if raw[base-1] != FieldTerminator || len(dir)%DirectoryEntryLen != 0 {
		return nil, 0, fmt.Errorf("directory of %d bytes is malformed", len(dir))
	}

	decode := decoder(leader[9])
	rec := &Record{}
	for i := 0; i < len(dir); i += DirectoryEntryLen {
		entry := dir[i : i+DirectoryEntryLen]
		tag := string(entry[0:3])
		flen, err1 := digits(entry[3:7])
		start, err2 := digits(entry[7:12])
		if err1 != nil || err2 != nil {
			return nil, 0, fmt.Errorf("directory entry %q is not numeric", entry)
		}
		from, to := base+start, base+start+flen
		if flen == 0 || to > length-1 {
			return nil, 0, fmt.Errorf("field %s at %d+%d lies outside the record", tag, start, flen)
		}
		body := raw[from:to]
		if body[len(body)-1] != FieldTerminator {
			return nil, 0, fmt.Errorf("field %s is not terminated", tag)
		}
		field, err := parseField(tag, body[:len(body)-1], decode)
		if err != nil {
			return nil, 0, err
		}
		rec.Fields = append(rec.Fields, field)
	}

	lead := append([]byte(nil), leader...)
	lead[9] = 'a'
	rec.Leader, err = decode(lead)
	if err != nil {
		return nil, 0, fmt.Errorf("leader: %w", err)
	}
	return rec, length, nil
}

func parseField(tag string, body []byte, decode func([]byte) (string, error)) (Field, error) {
	f := Field{Tag: tag}
	if f.IsControl() {
		data, err := decode(body)
		if err != nil {
			return f, fmt.Errorf("control field %s: %w", tag, err)
		}
		f.Data = data
		return f, nil
	}
	if len(body) < 2 {
		return f, fmt.Errorf("data field %s has no indicators", tag)
	}
	f.Ind1, f.Ind2 = string(body[0]), string(body[1])
	parts := bytes.Split(body[2:], []byte{SubfieldDelim})
	for _, p := range parts[1:] {
		if len(p) == 0 {
			continue
		}
		data, err := decode(p[1:])
		if err != nil {
			return f, fmt.Errorf("field %s subfield %c: %w", tag, p[0], err)
		}
		f.Subfields = append(f.Subfields, Subfield{Code: string(p[0]), Data: data})
	}
	return f, nil
}

// decoder picks the character decoding from leader/09: UCS/Unicode when it is
// 'a', MARC-8 otherwise.
func decoder(scheme byte) func([]byte) (string, error) {
	if scheme == 'a' {
		return func(b []byte) (string, error) {
			if utf8.Valid(b) {
				return string(b), nil
			}
			return string(bytes.ToValidUTF8(b, []byte("\uFFFD"))), nil
		}
	}
	return decodeMARC8
}

func digits(b []byte) (int, error) {
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("not a number: %w", errors.ErrInvalidData)
		}
	}
	return strconv.Atoi(string(b))
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}

// Project implements format.Adapter.
func (a *Adapter) Project(n format.Native) (*markup.Document, error) {
	coll, ok := n.(*Collection)
	if !ok {
		return nil, format.WrongType("MARC21Projector", "*marc21.Collection", n)
	}

	root := markup.NewNode("collection").SetAttr("xmlns", Namespace)
	for _, rec := range coll.Records {
		rn := markup.NewNode("record")
		rn.AppendText("leader", rec.Leader)
		for _, f := range rec.Fields {
			if f.IsControl() {
				rn.Append(markup.NewText("controlfield", f.Data).SetAttr("tag", f.Tag))
				continue
			}
			dn := markup.NewNode("datafield").SetAttr("tag", f.Tag).SetAttr("ind1", f.Ind1).SetAttr("ind2", f.Ind2)
			for _, sf := range f.Subfields {
				dn.Append(markup.NewText("subfield", sf.Data).SetAttr("code", sf.Code))
			}
			rn.Append(dn)
		}
		root.Append(rn)
	}

	doc := &markup.Document{Root: root}
	if err := markup.Validate(doc); err != nil {
		return nil, err
	}
	return doc, nil
}
