package edi

import (
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/transcoder/errors"
	"github.com/c360/transcoder/format"
	"github.com/c360/transcoder/markup"
)

var isa = fmt.Sprintf("ISA*00*%-10s*00*%-10s*ZZ*%-15s*ZZ*%-15s*240101*1200*U*00401*000000001*0*T*:~",
	"", "", "SENDERID", "RECEIVERID")

func purchaseOrder(seCount string) string {
	return isa + "\n" +
		"GS*PO*SENDER*RECEIVER*20240101*1200*1*X*004010~\n" +
		"ST*850*0001~\n" +
		"BEG*00*SA*PO123**20240101~\n" +
		"N1*ST*ACME:WEST*92*1234~\n" +
		"PO1*1*10*EA*9.95**VP*ABC~\n" +
		"PO1*2*5*EA*1.50**VP*XYZ~\n" +
		"SE*" + seCount + "*0001~\n" +
		"GE*1*1~\n" +
		"IEA*1*000000001~\n"
}

const orders = "UNA:+.? '" +
	"UNB+UNOA:3+SENDER:14+RECEIVER:14+240101:1200+REF001'\r\n" +
	"UNH+1+ORDERS:D:96A:UN'\r\n" +
	"BGM+220+PO?+123+9'\r\n" +
	"DTM+137:20240101:102'\r\n" +
	"UNT+4+1'\r\n" +
	"UNZ+1+REF001'\r\n"

func parse(t *testing.T, input string) (*Document, error) {
	t.Helper()
	it, err := New().Parse(strings.NewReader(input))
	if err != nil {
		return nil, err
	}
	n, err := it.Next()
	require.NoError(t, err)
	_, err = it.Next()
	require.ErrorIs(t, err, io.EOF)
	return n.(*Document), nil
}

func TestParse_X12(t *testing.T) {
	require.Len(t, isa, isaLength)

	doc, err := parse(t, purchaseOrder("6"))
	require.NoError(t, err)
	require.Len(t, doc.Interchanges, 1)

	ic := doc.Interchanges[0]
	assert.Equal(t, X12, ic.Standard)
	assert.Equal(t, Delimiters{Element: '*', Component: ':', Segment: '~'}, ic.Delimiters)
	assert.Equal(t, "SENDERID", ic.Header.Value(6, 1))
	assert.Equal(t, ":", ic.Header.Value(16, 1))
	require.Len(t, ic.Groups, 1)
	require.Len(t, ic.Groups[0].Transactions, 1)

	tx := ic.Groups[0].Transactions[0]
	assert.Equal(t, "850", tx.Header.Value(1, 1))
	require.Len(t, tx.Segments, 4)
	assert.Equal(t, []string{"ACME", "WEST"}, tx.Segments[1].Elements[1])
}

func TestParse_EDIFACT(t *testing.T) {
	doc, err := parse(t, orders)
	require.NoError(t, err)

	ic := doc.Interchanges[0]
	assert.Equal(t, EDIFACT, ic.Standard)
	require.Len(t, ic.Groups, 1)
	assert.Nil(t, ic.Groups[0].Header, "messages without UNG sit in an implicit group")

	tx := ic.Groups[0].Transactions[0]
	assert.Equal(t, "ORDERS", tx.Header.Value(2, 1))
	assert.Equal(t, "PO+123", tx.Segments[0].Value(2, 1), "release character escapes the element separator")

	t.Run("default delimiters without UNA", func(t *testing.T) {
		doc, err := parse(t, strings.TrimPrefix(orders, "UNA:+.? '"))
		require.NoError(t, err)
		assert.Equal(t, DefaultEDIFACT, doc.Interchanges[0].Delimiters)
	})

	t.Run("explicit groups", func(t *testing.T) {
		input := "UNB+UNOC:3+S+R+240101:1200+7'" +
			"UNG+ORDERS+APP1+APP2+240101:1200+55+UN+D:96A'" +
			"UNH+1+ORDERS:D:96A:UN'BGM+220'UNT+3+1'" +
			"UNH+2+ORDERS:D:96A:UN'BGM+221'UNT+3+2'" +
			"UNE+2+55'" +
			"UNZ+1+7'"
		doc, err := parse(t, input)
		require.NoError(t, err)
		g := doc.Interchanges[0].Groups[0]
		require.NotNil(t, g.Header)
		assert.Len(t, g.Transactions, 2)
	})
}

func TestParse_MultipleInterchanges(t *testing.T) {
	doc, err := parse(t, purchaseOrder("6")+orders)
	require.NoError(t, err)
	require.Len(t, doc.Interchanges, 2)
	assert.Equal(t, X12, doc.Interchanges[0].Standard)
	assert.Equal(t, EDIFACT, doc.Interchanges[1].Standard)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"wrong segment count", purchaseOrder("5"), "SE01 declares 5, found 6"},
		{"control mismatch", strings.Replace(purchaseOrder("6"), "SE*6*0001", "SE*6*0002", 1), "SE02 control"},
		{"group count", strings.Replace(purchaseOrder("6"), "GE*1*1", "GE*2*1", 1), "GE01 declares 2"},
		{"interchange control", strings.Replace(purchaseOrder("6"), "IEA*1*000000001", "IEA*1*000000002", 1), "IEA02"},
		{"missing trailer", strings.Replace(purchaseOrder("6"), "IEA*1*000000001~\n", "", 1), "has no IEA"},
		{"unterminated", strings.TrimSuffix(purchaseOrder("6"), "~\n"), "not terminated"},
		{"outside transaction", strings.Replace(purchaseOrder("6"), "ST*850*0001~", "REF*X~\nST*850*0001~", 1), "outside a transaction"},
		{"short ISA", "ISA*00*short~", "ISA segment is"},
		{"unknown start", "HELLO WORLD", "must start with ISA, UNA or UNB"},
		{"bad tag", strings.Replace(orders, "BGM+", "bgm+", 1), "invalid tag"},
		{"message count", strings.Replace(orders, "UNT+4+1", "UNT+3+1", 1), "UNT01 declares 3, found 4"},
		{"nested message", strings.Replace(orders, "DTM+", "UNH+2+ORDERS'DTM+", 1), "inside an open UNH"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse(t, tt.input)
			require.Error(t, err)
			assert.Equal(t, errors.KindParse, errors.KindOf(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParse_Empty(t *testing.T) {
	_, err := New().Parse(strings.NewReader("  \n"))
	assert.Equal(t, errors.KindEmptyUnit, errors.KindOf(err))
}

func TestProject_X12(t *testing.T) {
	a := New()
	doc, err := parse(t, purchaseOrder("6"))
	require.NoError(t, err)

	out, err := a.Project(doc)
	require.NoError(t, err)
	assert.Equal(t, "ediroot", out.Root.Name)

	ic := out.Root.Child("interchange")
	require.NotNil(t, ic)
	assertAttr(t, ic, "Standard", "ANSI X.12")
	assertAttr(t, ic, "Control", "000000001")
	assertAttr(t, ic, "Version", "00401")
	_, hasAuth := ic.Attr("Authorization")
	assert.False(t, hasAuth, "blank envelope values are omitted")

	addr := ic.Child("sender").Child("address")
	assertAttr(t, addr, "Id", "SENDERID")
	assertAttr(t, addr, "Qual", "ZZ")

	group := ic.Child("group")
	assertAttr(t, group, "GroupType", "PO")
	assertAttr(t, group, "Control", "1")

	tx := group.Child("transaction")
	assertAttr(t, tx, "DocType", "850")
	assertAttr(t, tx, "Control", "0001")
	segs := tx.ChildrenNamed("segment")
	require.Len(t, segs, 4)

	beg := segs[0]
	assertAttr(t, beg, "Id", "BEG")
	var ids []string
	for _, el := range beg.Children {
		id, _ := el.Attr("Id")
		ids = append(ids, id)
	}
	assert.Equal(t, []string{"BEG01", "BEG02", "BEG03", "BEG05"}, ids)

	n102 := segs[1].Children[1]
	assertAttr(t, n102, "Id", "N102")
	assertAttr(t, n102, "Composite", "yes")
	require.Len(t, n102.Children, 2)
	assert.Equal(t, "WEST", n102.Children[1].Text)
	assertAttr(t, n102.Children[1], "Sequence", "2")

	_, err = markup.Marshal(out, markup.EncodeOptions{Indent: "  "})
	require.NoError(t, err)
}

func TestProject_EDIFACT(t *testing.T) {
	doc, err := parse(t, orders)
	require.NoError(t, err)

	out, err := New().Project(doc)
	require.NoError(t, err)

	ic := out.Root.Child("interchange")
	assertAttr(t, ic, "Standard", "EDIFACT")
	assertAttr(t, ic, "SyntaxIdentifier", "UNOA")
	assertAttr(t, ic, "Control", "REF001")
	assertAttr(t, ic.Child("receiver").Child("address"), "Qual", "14")

	group := ic.Child("group")
	assert.Empty(t, group.Attrs)
	tx := group.Child("transaction")
	assertAttr(t, tx, "DocType", "ORDERS")
	assertAttr(t, tx, "Release", "96A")
	assert.Len(t, tx.Children, 2)
}

func TestProject_WrongType(t *testing.T) {
	var a format.Adapter = New()
	assert.Equal(t, format.EDI, a.Format())
	_, err := a.Project(42)
	assert.Equal(t, errors.KindConversion, errors.KindOf(err))
}

func assertAttr(t *testing.T, n *markup.Node, name, want string) {
	t.Helper()
	require.NotNil(t, n)
	got, ok := n.Attr(name)
	require.True(t, ok, "missing attribute %s on <%s>", name, n.Name)
	assert.Equal(t, want, got)
}
