package hl7

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/transcoder/errors"
	"github.com/c360/transcoder/format"
	"github.com/c360/transcoder/markup"
)

const admit = "MSH|^~\\&|SendApp|SendFac|RecApp|RecFac|20240101120000||ADT^A01^ADT_A01|MSG00001|T|2.5\r" +
	"EVN|A01|20240101120000\r" +
	"PID|1||123456^^^HOSP^MR~789^^^SSA^SS||Doe^John^Q||19700101|M\r"

const ack = "MSH|^~\\&|RecApp|RecFac|SendApp|SendFac|20240101120001||ACK^A01|ACK00001|T|2.5\r" +
	"MSA|AA|MSG00001\r"

func collect(t *testing.T, input string) ([]*Message, []error) {
	t.Helper()
	it, err := New().Parse(strings.NewReader(input))
	require.NoError(t, err)

	var msgs []*Message
	var errs []error
	for i := 0; i < 100; i++ {
		n, err := it.Next()
		if err == io.EOF {
			return msgs, errs
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		msgs = append(msgs, n.(*Message))
	}
	t.Fatal("iterator did not terminate")
	return nil, nil
}

func TestParse_Messages(t *testing.T) {
	msgs, errs := collect(t, admit+ack)
	require.Empty(t, errs)
	require.Len(t, msgs, 2)

	assert.Equal(t, "ADT_A01", msgs[0].Structure())
	assert.Len(t, msgs[0].Segments, 3)
	assert.Equal(t, "MSG00001", msgs[0].Segment("MSH").Value(10, 1, 1))
	assert.Equal(t, "T", msgs[0].Segment("MSH").Value(11, 1, 1))

	assert.Equal(t, "ACK_A01", msgs[1].Structure())
	assert.True(t, msgs[1].IsAck())
	assert.Equal(t, DefaultEncoding, msgs[0].Encoding)
	assert.Equal(t, `^~\&`, msgs[0].Encoding.Chars())
}

func TestParse_AckProcessingMode(t *testing.T) {
	msgs, errs := collect(t, ack)
	require.Empty(t, errs)
	require.Len(t, msgs, 1)
	assert.Equal(t, ProcessingModeProduction, msgs[0].Segment("MSH").Value(11, 1, 1))

	t.Run("grows short MSH", func(t *testing.T) {
		msgs, errs := collect(t, "MSH|^~\\&|A|B|C|D|20240101||ACK\rMSA|AA|1\r")
		require.Empty(t, errs)
		require.Len(t, msgs, 1)
		assert.Equal(t, "P", msgs[0].Segment("MSH").Value(11, 1, 1))
	})
}

func TestParse_LineEndingsAndFraming(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"lf", strings.ReplaceAll(admit+ack, "\r", "\n")},
		{"crlf", strings.ReplaceAll(admit+ack, "\r", "\r\n")},
		{"mllp", "\x0b" + admit + "\x1c\r\x0b" + ack + "\x1c\r"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs, errs := collect(t, tt.input)
			require.Empty(t, errs)
			require.Len(t, msgs, 2)
			assert.Len(t, msgs[0].Segments, 3)
			assert.Len(t, msgs[1].Segments, 2)
		})
	}
}

func TestParse_Empty(t *testing.T) {
	msgs, errs := collect(t, "")
	assert.Empty(t, msgs)
	assert.Empty(t, errs)

	msgs, errs = collect(t, "\r\n\r\n")
	assert.Empty(t, msgs)
	assert.Empty(t, errs)
}

func TestParse_ErrorsLeaveIteratorUsable(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"bad segment id", admit + "MSH|^~\\&|A|B|C|D|20240101||ADT^A08|2|P|2.5\rpid|1\r" + ack},
		{"short encoding characters", admit + "MSH|^~|A|B\rEVN|A01\r" + ack},
		{"missing message type", admit + "MSH|^~\\&|A|B|C|D|20240101\rEVN|A01\r" + ack},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs, errs := collect(t, tt.input)
			require.Len(t, errs, 1)
			assert.Equal(t, errors.KindParse, errors.KindOf(errs[0]))
			assert.Contains(t, errs[0].Error(), "message 2")
			require.Len(t, msgs, 2)
			assert.Equal(t, "ADT_A01", msgs[0].Structure())
			assert.Equal(t, "ACK_A01", msgs[1].Structure())
		})
	}

	t.Run("content before MSH", func(t *testing.T) {
		msgs, errs := collect(t, "EVN|A01\rPID|1\r"+admit)
		require.Len(t, errs, 1)
		assert.Contains(t, errs[0].Error(), `"EVN"`)
		require.Len(t, msgs, 1)
	})
}

func TestParse_Latin1(t *testing.T) {
	input := "MSH|^~\\&|A|B|C|D|20240101||ADT^A01|1|P|2.5\rPID|1||1||M\xfcller^Hans\r"
	msgs, errs := collect(t, input)
	require.Empty(t, errs)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Müller", msgs[0].Segment("PID").Value(5, 1, 1))
}

func TestUnescape(t *testing.T) {
	tests := []struct {
		in, out string
	}{
		{`plain`, "plain"},
		{`a\F\b`, "a|b"},
		{`a\S\b\T\c\R\d\E\e`, `a^b&c~d\e`},
		{`line\.br\next`, "line\nnext"},
		{`\X414243\`, "ABC"},
		{`\H\bold\N\`, `\H\bold\N\`},
		{`trailing\`, `trailing\`},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.out, unescape(tt.in, DefaultEncoding))
		})
	}
}

func TestProject(t *testing.T) {
	a := New()
	msgs, errs := collect(t, admit)
	require.Empty(t, errs)

	doc, err := a.Project(msgs[0])
	require.NoError(t, err)
	root := doc.Root
	assert.Equal(t, "ADT_A01", root.Name)
	require.Len(t, root.Children, 3)

	msh := root.Child("MSH")
	assert.Equal(t, "|", msh.Child("MSH.1").Text)
	assert.Equal(t, `^~\&`, msh.Child("MSH.2").Text)
	assert.Nil(t, msh.Child("MSH.8"), "empty fields are omitted")
	msgType := msh.Child("MSH.9")
	assert.Equal(t, "ADT", msgType.Child("MSH.9.1").Text)
	assert.Equal(t, "ADT_A01", msgType.Child("MSH.9.3").Text)

	pid := root.Child("PID")
	ids := pid.ChildrenNamed("PID.3")
	require.Len(t, ids, 2, "repetitions are repeated siblings")
	assert.Equal(t, "123456", ids[0].Child("PID.3.1").Text)
	assert.Nil(t, ids[0].Child("PID.3.2"))
	assert.Equal(t, "SSA", ids[1].Child("PID.3.4").Text)

	name := pid.Child("PID.5")
	assert.Equal(t, []string{"PID.5.1", "PID.5.2", "PID.5.3"}, childNames(name))

	_, err = markup.Marshal(doc, markup.EncodeOptions{})
	require.NoError(t, err)
}

func TestProject_Subcomponents(t *testing.T) {
	msgs, errs := collect(t, "MSH|^~\\&|A|B|C|D|20240101||ORU^R01|1|P|2.5\rOBX|1|CE|a&b^c\rZZ1|x&y\r")
	require.Empty(t, errs)

	doc, err := New().Project(msgs[0])
	require.NoError(t, err)
	assert.Equal(t, "ORU_R01", doc.Root.Name)

	obx3 := doc.Root.Child("OBX").Child("OBX.3")
	require.NotNil(t, obx3)
	assert.Equal(t, []string{"OBX.3.1.1", "OBX.3.1.2"}, childNames(obx3.Child("OBX.3.1")))
	assert.Equal(t, "c", obx3.Child("OBX.3.2").Text)

	zz := doc.Root.Child("ZZ1").Child("ZZ1.1")
	assert.Equal(t, []string{"ZZ1.1.1.1", "ZZ1.1.1.2"}, childNames(zz.Child("ZZ1.1.1")))
}

func TestProject_Errors(t *testing.T) {
	a := New()
	_, err := a.Project("not a message")
	assert.Equal(t, errors.KindConversion, errors.KindOf(err))

	bad := &Message{Encoding: DefaultEncoding, Segments: []*Segment{{
		ID:     "MSH",
		Fields: []Field{{{{"|"}}}, {{{`^~\&`}}}, nil, nil, nil, nil, nil, nil, {{{"9BAD"}}}},
	}}}
	_, err = a.Project(bad)
	assert.Equal(t, errors.KindConversion, errors.KindOf(err), "root name must be a valid element name")
}

func TestAdapterFormat(t *testing.T) {
	var a format.Adapter = New(WithMaxSegmentSize(128))
	assert.Equal(t, format.HL7, a.Format())

	it, err := a.Parse(strings.NewReader("MSH|^~\\&|" + strings.Repeat("x", 512) + "\r"))
	require.NoError(t, err)
	_, err = it.Next()
	require.Error(t, err)
	assert.Equal(t, errors.KindParse, errors.KindOf(err))
	_, err = it.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func childNames(n *markup.Node) []string {
	var out []string
	for _, c := range n.Children {
		out = append(out, c.Name)
	}
	return out
}
