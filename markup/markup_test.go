package markup

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/transcoder/errors"
)

func sample() *Document {
	root := NewNode("order").SetAttr("id", "7")
	root.AppendText("item", "a")
	root.AppendText("item", "b & <c>")
	root.Append(NewNode("ship").Append(NewText("city", "Oslo")))
	return &Document{
		ProcInsts: []ProcInst{{Target: "xml-stylesheet", Data: `href="order.xsl"`}},
		Root:      root,
	}
}

func TestNodeHelpers(t *testing.T) {
	doc := sample()
	root := doc.Root

	v, ok := root.Attr("id")
	assert.True(t, ok)
	assert.Equal(t, "7", v)
	root.SetAttr("id", "8")
	assert.Len(t, root.Attrs, 1, "SetAttr replaces existing values")

	assert.Len(t, root.ChildrenNamed("item"), 2)
	assert.Equal(t, "Oslo", root.Child("ship").Child("city").Text)
	assert.Nil(t, root.Child("missing"))
	assert.True(t, root.Child("item").IsLeaf())
	assert.False(t, root.IsLeaf())
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(sample()))

	tests := []struct {
		name string
		doc  *Document
	}{
		{"nil document", nil},
		{"no root", &Document{}},
		{"bad element name", &Document{Root: NewNode("1abc")}},
		{"empty element name", &Document{Root: NewNode("a").Append(NewNode(""))}},
		{"bad attribute name", &Document{Root: NewNode("a").SetAttr("x y", "1")}},
		{"duplicate attribute", &Document{Root: &Node{Name: "a", Attrs: []Attr{{"x", "1"}, {"x", "2"}}}}},
		{"control character", &Document{Root: NewText("a", "bell\x07")}},
		{"invalid utf8", &Document{Root: NewText("a", "\xff")}},
		{"xml pi target", &Document{ProcInsts: []ProcInst{{Target: "XML"}}, Root: NewNode("a")}},
		{"pi terminator in data", &Document{ProcInsts: []ProcInst{{Target: "p", Data: "a?>b"}}, Root: NewNode("a")}},
		{"nil child", &Document{Root: &Node{Name: "a", Children: []*Node{nil}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.doc)
			require.Error(t, err)
			assert.Equal(t, errors.KindConversion, errors.KindOf(err))
		})
	}
}

func TestIsName(t *testing.T) {
	for _, ok := range []string{"a", "_x", "MSH.9.1", "ns:tag", "ADT_A01", "émoji-free"} {
		assert.True(t, IsName(ok), ok)
	}
	for _, bad := range []string{"", "1a", "-a", "a b", "a/b"} {
		assert.False(t, IsName(bad), bad)
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	doc := sample()

	data, err := Marshal(doc, EncodeOptions{})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte(`<?xml version="1.0" encoding="UTF-8"?>`)))
	assert.Contains(t, string(data), `<item>b &amp; &lt;c&gt;</item>`)

	back, err := Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, doc, back)

	data, err = Marshal(doc, EncodeOptions{OmitDeclaration: true, Indent: "  "})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte(`<?xml-stylesheet`)))
	assert.Contains(t, string(data), "\n  <item>a</item>")
}

func TestEncode_RejectsInvalid(t *testing.T) {
	var buf bytes.Buffer
	err := Encode(&buf, &Document{Root: NewNode("bad name")}, EncodeOptions{})
	assert.Equal(t, errors.KindConversion, errors.KindOf(err))
	assert.Zero(t, buf.Len())
}

func TestDecode(t *testing.T) {
	doc, err := Decode(strings.NewReader(`<?xml version="1.0"?>
<!-- comment -->
<?app one?>
<?app two?>
<x:root xmlns:x="urn:x" x:a="1"><x:child>t</x:child><?inner ignored?></x:root>`))
	require.NoError(t, err)
	assert.Equal(t, []ProcInst{{"app", "one"}, {"app", "two"}}, doc.ProcInsts)
	assert.Equal(t, "x:root", doc.Root.Name)
	assert.Equal(t, []Attr{{"xmlns:x", "urn:x"}, {"x:a", "1"}}, doc.Root.Attrs)
	assert.Equal(t, "t", doc.Root.Child("x:child").Text)

	tests := []struct {
		name  string
		input string
		kind  errors.Kind
	}{
		{"mismatched tags", `<a><b></a>`, errors.KindParse},
		{"second root", `<a/><b/>`, errors.KindParse},
		{"text outside root", `<a/>tail`, errors.KindParse},
		{"unclosed", `<a><b>`, errors.KindParse},
		{"no root", `<?app x?>`, errors.KindParse},
		{"syntax", `<a x=1/>`, errors.KindParse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Equal(t, tt.kind, errors.KindOf(err))
		})
	}

	_, err = Decode(strings.NewReader(`<a><b>`))
	assert.ErrorIs(t, err, errors.ErrTruncated)
}

func TestDecode_DeclaredCharset(t *testing.T) {
	doc, err := Decode(strings.NewReader("<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?><r a=\"\xe9t\xe9\">Caf\xe9</r>"))
	require.NoError(t, err)
	assert.Equal(t, "Café", doc.Root.Text)
	assert.Equal(t, []Attr{{"a", "été"}}, doc.Root.Attrs)

	doc, err = Decode(strings.NewReader("<?xml version=\"1.0\" encoding=\"windows-1252\"?><r>\x80 5</r>"))
	require.NoError(t, err)
	assert.Equal(t, "€ 5", doc.Root.Text)

	_, err = Decode(strings.NewReader(`<?xml version="1.0" encoding="x-no-such-charset"?><r/>`))
	require.Error(t, err)
	assert.Equal(t, errors.KindParse, errors.KindOf(err))
	assert.Contains(t, err.Error(), "x-no-such-charset")
}
