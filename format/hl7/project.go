package hl7

import (
	"strconv"

	"github.com/c360/transcoder/format"
	"github.com/c360/transcoder/markup"
)

// Project implements format.Adapter.
func (a *Adapter) Project(n format.Native) (*markup.Document, error) {
	msg, ok := n.(*Message)
	if !ok {
		return nil, format.WrongType("HL7Projector", "*hl7.Message", n)
	}

	root := markup.NewNode(msg.Structure())
	for _, seg := range msg.Segments {
		sn := markup.NewNode(seg.ID)
		for i, f := range seg.Fields {
			name := seg.ID + "." + strconv.Itoa(i+1)
			if seg.ID == "MSH" && i < 2 {
				sn.AppendText(name, f[0][0][0])
				continue
			}
			for _, rep := range f {
				if node := repetitionNode(name, rep); node != nil {
					sn.Append(node)
				}
			}
		}
		root.Append(sn)
	}

	doc := &markup.Document{Root: root}
	if err := markup.Validate(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func repetitionNode(name string, rep Repetition) *markup.Node {
	if len(rep) == 1 && len(rep[0]) == 1 {
		if rep[0][0] == "" {
			return nil
		}
		return markup.NewText(name, rep[0][0])
	}
	node := markup.NewNode(name)
	for j, comp := range rep {
		if child := componentNode(name+"."+strconv.Itoa(j+1), comp); child != nil {
			node.Append(child)
		}
	}
	if len(node.Children) == 0 {
		return nil
	}
	return node
}

func componentNode(name string, comp Component) *markup.Node {
	if len(comp) == 1 {
		if comp[0] == "" {
			return nil
		}
		return markup.NewText(name, comp[0])
	}
	node := markup.NewNode(name)
	for k, sub := range comp {
		if sub != "" {
			node.AppendText(name+"."+strconv.Itoa(k+1), sub)
		}
	}
	if len(node.Children) == 0 {
		return nil
	}
	return node
}
