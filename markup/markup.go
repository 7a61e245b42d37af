// Package markup defines the canonical ordered markup tree that every format
// projects into before lowering.
package markup

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/c360/transcoder/errors"
)

// Attr is a single name/value attribute. Attribute order is preserved.
type Attr struct {
	Name  string
	Value string
}

// Node is an element of the canonical tree.
type Node struct {
	Name     string
	Attrs    []Attr
	Children []*Node
	Text     string
}

// ProcInst is a top-level processing instruction such as <?xml-stylesheet ...?>.
type ProcInst struct {
	Target string
	Data   string
}

// Document is the projection of exactly one native parse record.
type Document struct {
	ProcInsts []ProcInst
	Root      *Node
}

// NewNode creates an element with the given name.
func NewNode(name string) *Node {
	return &Node{Name: name}
}

// NewText creates a leaf element holding text.
func NewText(name, text string) *Node {
	return &Node{Name: name, Text: text}
}

// SetAttr appends an attribute, or replaces the value of an existing one.
func (n *Node) SetAttr(name, value string) *Node {
	for i := range n.Attrs {
		if n.Attrs[i].Name == name {
			n.Attrs[i].Value = value
			return n
		}
	}
	n.Attrs = append(n.Attrs, Attr{Name: name, Value: value})
	return n
}

// Attr returns the value of the named attribute.
func (n *Node) Attr(name string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// Append adds children in order and returns the receiver.
func (n *Node) Append(children ...*Node) *Node {
	n.Children = append(n.Children, children...)
	return n
}

// AppendText adds a text leaf child and returns it.
func (n *Node) AppendText(name, text string) *Node {
	child := NewText(name, text)
	n.Children = append(n.Children, child)
	return child
}

// Child returns the first child with the given name.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ChildrenNamed returns all children with the given name in document order.
func (n *Node) ChildrenNamed(name string) []*Node {
	var out []*Node
	for _, c := range n.Children {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// IsLeaf reports whether the node has neither attributes nor children.
func (n *Node) IsLeaf() bool {
	return len(n.Attrs) == 0 && len(n.Children) == 0
}

// Validate checks that the document can be expressed as well-formed markup:
// one root, valid names, valid characters in text and attribute values.
func Validate(doc *Document) error {
	if doc == nil || doc.Root == nil {
		return errors.WrapConversion(fmt.Errorf("document has no root element"),
			"Markup", "Validate", "check root")
	}
	for _, pi := range doc.ProcInsts {
		if !IsName(pi.Target) || strings.EqualFold(pi.Target, "xml") {
			return errors.WrapConversion(fmt.Errorf("invalid processing instruction target %q", pi.Target),
				"Markup", "Validate", "check processing instruction")
		}
		if strings.Contains(pi.Data, "?>") {
			return errors.WrapConversion(fmt.Errorf("processing instruction %q contains '?>'", pi.Target),
				"Markup", "Validate", "check processing instruction")
		}
	}
	return validateNode(doc.Root, "")
}

func validateNode(n *Node, path string) error {
	if n == nil {
		return errors.WrapConversion(fmt.Errorf("nil child under %q", path),
			"Markup", "Validate", "check node")
	}
	path = path + "/" + n.Name
	if !IsName(n.Name) {
		return errors.WrapConversion(fmt.Errorf("invalid element name %q at %s", n.Name, path),
			"Markup", "Validate", "check element name")
	}
	if err := checkChars(n.Text); err != nil {
		return errors.WrapConversion(fmt.Errorf("%s: %w", path, err),
			"Markup", "Validate", "check text")
	}
	seen := make(map[string]struct{}, len(n.Attrs))
	for _, a := range n.Attrs {
		if !IsName(a.Name) {
			return errors.WrapConversion(fmt.Errorf("invalid attribute name %q at %s", a.Name, path),
				"Markup", "Validate", "check attribute name")
		}
		if _, dup := seen[a.Name]; dup {
			return errors.WrapConversion(fmt.Errorf("duplicate attribute %q at %s", a.Name, path),
				"Markup", "Validate", "check attribute name")
		}
		seen[a.Name] = struct{}{}
		if err := checkChars(a.Value); err != nil {
			return errors.WrapConversion(fmt.Errorf("%s/@%s: %w", path, a.Name, err),
				"Markup", "Validate", "check attribute value")
		}
	}
	for _, c := range n.Children {
		if err := validateNode(c, path); err != nil {
			return err
		}
	}
	return nil
}

// IsName reports whether s is a valid XML name (prefixed names allowed).
func IsName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if i == 0 {
			if !isNameStart(r) {
				return false
			}
			continue
		}
		if !isNameStart(r) && !unicode.IsDigit(r) && r != '-' && r != '.' &&
			r != 0xB7 && !unicode.Is(unicode.Mn, r) {
			return false
		}
	}
	return true
}

func isNameStart(r rune) bool {
	return r == '_' || r == ':' || unicode.IsLetter(r)
}

func checkChars(s string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("text is not valid UTF-8")
	}
	for _, r := range s {
		if !isXMLChar(r) {
			return fmt.Errorf("character %U is not allowed in markup", r)
		}
	}
	return nil
}

func isXMLChar(r rune) bool {
	return r == 0x09 || r == 0x0A || r == 0x0D ||
		(r >= 0x20 && r <= 0xD7FF) ||
		(r >= 0xE000 && r <= 0xFFFD) ||
		(r >= 0x10000 && r <= 0x10FFFF)
}
