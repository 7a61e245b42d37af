// Package lower converts a canonical markup tree into a structured record.
//
// Lowering rules:
//
//   - the record holds one key, the root element name, plus one "?target" key per
//     top-level processing instruction
//   - a leaf element (no attributes, no children) lowers to its text
//   - any other element lowers to a mapping: attributes under "@name", children
//     under their tag name, text under "$"
//   - two or more siblings sharing a tag lower to one array in document order
//   - whitespace-only text is ignored; text beside child elements is dropped
//     (element content wins)
package lower

import (
	"fmt"
	"strings"

	"github.com/c360/transcoder/errors"
	"github.com/c360/transcoder/markup"
	"github.com/c360/transcoder/message"
)

// Reserved key prefixes and names.
const (
	AttrPrefix = "@"
	TextKey    = "$"
	PIPrefix   = "?"
)

// DefaultMaxDepth bounds element nesting.
const DefaultMaxDepth = 512

// Options control array inference and processing-instruction handling.
type Options struct {
	// AutoArray lowers a tag to an array at every occurrence of its element path
	// once it repeats under any parent on that path, even where it occurs once.
	AutoArray bool `json:"auto_array" yaml:"auto_array"`
	// MultiProcessingInstruction keeps every top-level processing instruction;
	// otherwise only the first per target survives.
	MultiProcessingInstruction bool `json:"multi_processing_instruction" yaml:"multi_processing_instruction"`
	// MaxDepth bounds nesting; zero means DefaultMaxDepth.
	MaxDepth int `json:"max_depth,omitempty" yaml:"max_depth,omitempty"`
}

// Lowerer lowers documents with fixed options. It holds no per-document state.
type Lowerer struct {
	opts Options
}

// New creates a Lowerer.
func New(opts Options) *Lowerer {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	return &Lowerer{opts: opts}
}

// Lower is a convenience for New(opts).Lower(doc).
func Lower(doc *markup.Document, opts Options) (message.Record, error) {
	return New(opts).Lower(doc)
}

// Options returns the effective options.
func (l *Lowerer) Options() Options {
	return l.opts
}

// Lower converts one document into a record.
func (l *Lowerer) Lower(doc *markup.Document) (message.Record, error) {
	if doc == nil || doc.Root == nil {
		return nil, errors.WrapConversion(fmt.Errorf("document has no root element"),
			"Lowerer", "Lower", "check root")
	}

	var repeated map[string]bool
	if l.opts.AutoArray {
		repeated = make(map[string]bool)
		if err := l.collectRepeated(doc.Root, "", 1, repeated); err != nil {
			return nil, err
		}
	}

	w := walker{opts: l.opts, repeated: repeated}
	root, err := w.node(doc.Root, "/"+doc.Root.Name, 1)
	if err != nil {
		return nil, err
	}

	rec := message.Record{doc.Root.Name: root}
	l.lowerProcInsts(doc.ProcInsts, rec)
	return rec, nil
}

func (l *Lowerer) lowerProcInsts(pis []markup.ProcInst, rec message.Record) {
	for _, pi := range pis {
		key := PIPrefix + pi.Target
		existing, ok := rec[key]
		if !ok {
			rec[key] = pi.Data
			continue
		}
		if !l.opts.MultiProcessingInstruction {
			continue
		}
		if arr, isArr := existing.([]any); isArr {
			rec[key] = append(arr, pi.Data)
		} else {
			rec[key] = []any{existing, pi.Data}
		}
	}
}

// collectRepeated records every child path whose tag occurs more than once
// under a single parent anywhere in the tree.
func (l *Lowerer) collectRepeated(n *markup.Node, parentPath string, depth int, out map[string]bool) error {
	if depth > l.opts.MaxDepth {
		return depthError(parentPath)
	}
	path := parentPath + "/" + n.Name
	counts := make(map[string]int, len(n.Children))
	for _, c := range n.Children {
		if c == nil {
			continue
		}
		counts[c.Name]++
		if counts[c.Name] > 1 {
			out[path+"/"+c.Name] = true
		}
		if err := l.collectRepeated(c, path, depth+1, out); err != nil {
			return err
		}
	}
	return nil
}

type walker struct {
	opts     Options
	repeated map[string]bool
}

func (w walker) node(n *markup.Node, path string, depth int) (any, error) {
	if depth > w.opts.MaxDepth {
		return nil, depthError(path)
	}
	if n.Name == "" {
		return nil, errors.WrapConversion(fmt.Errorf("element without a name at %s", path),
			"Lowerer", "Lower", "lower node")
	}

	if n.IsLeaf() {
		return n.Text, nil
	}

	out := make(message.Record, len(n.Attrs)+len(n.Children)+1)
	for _, a := range n.Attrs {
		if a.Name == "" {
			return nil, errors.WrapConversion(fmt.Errorf("attribute without a name at %s", path),
				"Lowerer", "Lower", "lower attribute")
		}
		out[AttrPrefix+a.Name] = a.Value
	}

	if len(n.Children) == 0 {
		if strings.TrimSpace(n.Text) != "" {
			out[TextKey] = n.Text
		}
		return out, nil
	}

	counts := make(map[string]int, len(n.Children))
	for _, c := range n.Children {
		if c == nil {
			return nil, errors.WrapConversion(fmt.Errorf("nil child at %s", path),
				"Lowerer", "Lower", "lower node")
		}
		counts[c.Name]++
	}

	for _, c := range n.Children {
		childPath := path + "/" + c.Name
		v, err := w.node(c, childPath, depth+1)
		if err != nil {
			return nil, err
		}
		if counts[c.Name] > 1 || w.repeated[childPath] {
			arr, _ := out[c.Name].([]any)
			out[c.Name] = append(arr, v)
			continue
		}
		out[c.Name] = v
	}
	return out, nil
}

func depthError(path string) error {
	return errors.WrapConversion(fmt.Errorf("nesting deeper than allowed at %s", path),
		"Lowerer", "Lower", "check depth")
}
