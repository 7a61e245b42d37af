package markup

import (
	"bufio"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/ianaindex"

	"github.com/c360/transcoder/errors"
)

// EncodeOptions controls serialization.
type EncodeOptions struct {
	// Indent, when non-empty, pretty-prints with the given indent unit.
	Indent string
	// OmitDeclaration drops the leading <?xml version="1.0"?> declaration.
	OmitDeclaration bool
}

// Encode serializes the document as XML. The document is validated first.
func Encode(w io.Writer, doc *Document, opts EncodeOptions) error {
	if err := Validate(doc); err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	enc := xml.NewEncoder(bw)
	if opts.Indent != "" {
		enc.Indent("", opts.Indent)
	}

	if !opts.OmitDeclaration {
		if err := enc.EncodeToken(xml.ProcInst{Target: "xml", Inst: []byte(`version="1.0" encoding="UTF-8"`)}); err != nil {
			return errors.WrapIO(err, "Markup", "Encode", "write declaration")
		}
	}
	for _, pi := range doc.ProcInsts {
		if err := enc.EncodeToken(xml.ProcInst{Target: pi.Target, Inst: []byte(pi.Data)}); err != nil {
			return errors.WrapIO(err, "Markup", "Encode", "write processing instruction")
		}
	}
	if err := encodeNode(enc, doc.Root); err != nil {
		return err
	}
	if err := enc.Flush(); err != nil {
		return errors.WrapIO(err, "Markup", "Encode", "flush encoder")
	}
	if err := bw.Flush(); err != nil {
		return errors.WrapIO(err, "Markup", "Encode", "flush writer")
	}
	return nil
}

// Marshal is Encode into a byte slice.
func Marshal(doc *Document, opts EncodeOptions) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, doc, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeNode(enc *xml.Encoder, n *Node) error {
	start := xml.StartElement{Name: xml.Name{Local: n.Name}}
	for _, a := range n.Attrs {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: a.Name}, Value: a.Value})
	}
	if err := enc.EncodeToken(start); err != nil {
		return errors.WrapIO(err, "Markup", "Encode", "write start element")
	}
	if n.Text != "" {
		if err := enc.EncodeToken(xml.CharData(n.Text)); err != nil {
			return errors.WrapIO(err, "Markup", "Encode", "write text")
		}
	}
	for _, c := range n.Children {
		if err := encodeNode(enc, c); err != nil {
			return err
		}
	}
	if err := enc.EncodeToken(start.End()); err != nil {
		return errors.WrapIO(err, "Markup", "Encode", "write end element")
	}
	return nil
}

// Decode reads one XML document into the canonical tree. Element and attribute
// names keep their prefixes as written. Comments and directives are dropped,
// processing instructions are kept only before the root element. Input that
// declares a non-UTF-8 encoding is transcoded when x/text knows the charset.
func Decode(r io.Reader) (*Document, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charsetReader
	doc := &Document{}
	var stack []*Node

	for {
		tok, err := dec.RawToken()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.WrapParse(err, "Markup", "Decode", "read token")
		}

		switch t := tok.(type) {
		case xml.StartElement:
			n := &Node{Name: qualified(t.Name)}
			for _, a := range t.Attr {
				n.Attrs = append(n.Attrs, Attr{Name: qualified(a.Name), Value: a.Value})
			}
			switch {
			case len(stack) > 0:
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, n)
			case doc.Root != nil:
				return nil, errors.WrapParse(fmt.Errorf("second root element <%s>", n.Name),
					"Markup", "Decode", "check single root")
			default:
				doc.Root = n
			}
			stack = append(stack, n)
		case xml.EndElement:
			if len(stack) == 0 {
				return nil, errors.WrapParse(fmt.Errorf("unexpected </%s>", qualified(t.Name)),
					"Markup", "Decode", "match end element")
			}
			top := stack[len(stack)-1]
			if name := qualified(t.Name); name != top.Name {
				return nil, errors.WrapParse(fmt.Errorf("element <%s> closed by </%s>", top.Name, name),
					"Markup", "Decode", "match end element")
			}
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].Text += string(t)
			} else if strings.TrimSpace(string(t)) != "" {
				return nil, errors.WrapParse(fmt.Errorf("text outside root element"),
					"Markup", "Decode", "check prolog")
			}
		case xml.ProcInst:
			if doc.Root == nil && !strings.EqualFold(t.Target, "xml") {
				doc.ProcInsts = append(doc.ProcInsts, ProcInst{Target: t.Target, Data: strings.TrimSpace(string(t.Inst))})
			}
		}
	}

	if len(stack) > 0 {
		return nil, errors.WrapParse(fmt.Errorf("element <%s> is not closed: %w", stack[len(stack)-1].Name, errors.ErrTruncated),
			"Markup", "Decode", "check balance")
	}
	if doc.Root == nil {
		return nil, errors.WrapParse(fmt.Errorf("no root element: %w", errors.ErrEmptyUnit),
			"Markup", "Decode", "check root")
	}
	return doc, nil
}

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := ianaindex.IANA.Encoding(label)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", label, errors.ErrInvalidData)
	}
	if enc == nil {
		return nil, fmt.Errorf("encoding %q is not supported: %w", label, errors.ErrInvalidData)
	}
	return enc.NewDecoder().Reader(input), nil
}

func qualified(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}
