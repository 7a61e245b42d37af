package edi

import (
	"fmt"

	"github.com/c360/transcoder/format"
	"github.com/c360/transcoder/markup"
)

type attrSource struct {
	name      string
	element   int
	component int
}

var (
	x12Interchange = []attrSource{
		{"AuthorizationQual", 1, 1}, {"Authorization", 2, 1}, {"SecurityQual", 3, 1}, {"Security", 4, 1},
		{"Date", 9, 1}, {"Time", 10, 1}, {"StandardsId", 11, 1}, {"Version", 12, 1},
		{"Control", 13, 1}, {"AckRequest", 14, 1}, {"TestIndicator", 15, 1},
	}
	x12Group = []attrSource{
		{"GroupType", 1, 1}, {"ApplSender", 2, 1}, {"ApplReceiver", 3, 1}, {"Date", 4, 1},
		{"Time", 5, 1}, {"Control", 6, 1}, {"StandardCode", 7, 1}, {"StandardVersion", 8, 1},
	}
	x12Transaction = []attrSource{
		{"DocType", 1, 1}, {"Control", 2, 1}, {"ImplementationGuide", 3, 1},
	}

	edifactInterchange = []attrSource{
		{"SyntaxIdentifier", 1, 1}, {"SyntaxVersion", 1, 2},
		{"Date", 4, 1}, {"Time", 4, 2}, {"Control", 5, 1},
		{"RecipientReference", 6, 1}, {"ApplicationReference", 7, 1}, {"TestIndicator", 11, 1},
	}
	edifactGroup = []attrSource{
		{"GroupType", 1, 1}, {"ApplSender", 2, 1}, {"ApplReceiver", 3, 1}, {"Date", 4, 1},
		{"Time", 4, 2}, {"Control", 5, 1}, {"StandardCode", 6, 1}, {"StandardVersion", 7, 1},
		{"Release", 7, 2},
	}
	edifactTransaction = []attrSource{
		{"Control", 1, 1}, {"DocType", 2, 1}, {"Version", 2, 2}, {"Release", 2, 3}, {"Agency", 2, 4},
	}
)

// Project implements format.Adapter.
func (a *Adapter) Project(n format.Native) (*markup.Document, error) {
	doc, ok := n.(*Document)
	if !ok {
		return nil, format.WrongType("EDIProjector", "*edi.Document", n)
	}

	root := markup.NewNode("ediroot")
	for _, ic := range doc.Interchanges {
		root.Append(interchangeNode(ic))
	}

	out := &markup.Document{Root: root}
	if err := markup.Validate(out); err != nil {
		return nil, err
	}
	return out, nil
}

func interchangeNode(ic *Interchange) *markup.Node {
	n := markup.NewNode("interchange").SetAttr("Standard", string(ic.Standard))

	icAttrs, groupAttrs, txAttrs := x12Interchange, x12Group, x12Transaction
	sender, receiver := party(ic.Header, 6, 1, 5, 1), party(ic.Header, 8, 1, 7, 1)
	if ic.Standard == EDIFACT {
		icAttrs, groupAttrs, txAttrs = edifactInterchange, edifactGroup, edifactTransaction
		sender, receiver = party(ic.Header, 2, 1, 2, 2), party(ic.Header, 3, 1, 3, 2)
	}

	setAttrs(n, ic.Header, icAttrs)
	if sender != nil {
		n.Append(markup.NewNode("sender").Append(sender))
	}
	if receiver != nil {
		n.Append(markup.NewNode("receiver").Append(receiver))
	}

	for _, g := range ic.Groups {
		gn := markup.NewNode("group")
		if g.Header != nil {
			setAttrs(gn, g.Header, groupAttrs)
		}
		for _, tx := range g.Transactions {
			tn := markup.NewNode("transaction")
			setAttrs(tn, tx.Header, txAttrs)
			for _, seg := range tx.Segments {
				tn.Append(segmentNode(seg))
			}
			gn.Append(tn)
		}
		n.Append(gn)
	}
	return n
}

func party(hdr *Segment, idEl, idComp, qualEl, qualComp int) *markup.Node {
	id := hdr.Value(idEl, idComp)
	if id == "" {
		return nil
	}
	addr := markup.NewNode("address").SetAttr("Id", id)
	if qual := hdr.Value(qualEl, qualComp); qual != "" {
		addr.SetAttr("Qual", qual)
	}
	return addr
}

func setAttrs(n *markup.Node, seg *Segment, sources []attrSource) {
	for _, src := range sources {
		if v := seg.Value(src.element, src.component); v != "" {
			n.SetAttr(src.name, v)
		}
	}
}

func segmentNode(seg *Segment) *markup.Node {
	n := markup.NewNode("segment").SetAttr("Id", seg.ID)
	for i, comps := range seg.Elements {
		id := fmt.Sprintf("%s%02d", seg.ID, i+1)
		if len(comps) == 1 {
			if comps[0] != "" {
				n.Append(markup.NewText("element", comps[0]).SetAttr("Id", id))
			}
			continue
		}
		el := markup.NewNode("element").SetAttr("Id", id).SetAttr("Composite", "yes")
		for j, c := range comps {
			if c != "" {
				el.Append(markup.NewText("subelement", c).SetAttr("Sequence", fmt.Sprint(j+1)))
			}
		}
		if len(el.Children) > 0 {
			n.Append(el)
		}
	}
	return n
}
