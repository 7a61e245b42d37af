package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/transcoder/errors"
	"github.com/c360/transcoder/message"
	"github.com/c360/transcoder/natsclient"
)

type memStore struct {
	values map[string][]byte
	err    error
}

func (m *memStore) Put(_ context.Context, key string, value []byte) (uint64, error) {
	if m.err != nil {
		return 0, m.err
	}
	if m.values == nil {
		m.values = make(map[string][]byte)
	}
	m.values[key] = value
	return uint64(len(m.values)), nil
}

func (m *memStore) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	if _, ok := m.values[key]; ok {
		return 0, natsclient.ErrKVKeyExists
	}
	return m.Put(ctx, key, value)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, Config{Bucket: "records"}.Validate())
	assert.ErrorIs(t, Config{}.Validate(), errors.ErrInvalidConfig)
	assert.ErrorIs(t, Config{Bucket: "b", KeyPrefix: "a*"}.Validate(), errors.ErrInvalidConfig)
}

func TestSink_Write(t *testing.T) {
	store := &memStore{}
	sink, err := NewSink(Config{Bucket: "records", KeyPrefix: "run1."}, store)
	require.NoError(t, err)

	env := message.NewRecordEnvelope("marc21", nil, message.Record{"collection": "c"}, message.WithID("abc"))
	require.NoError(t, sink.Write(context.Background(), env))

	raw, ok := store.values["run1.marc21.abc"]
	require.True(t, ok)
	var decoded message.Envelope
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "abc", decoded.ID)
}

func TestSink_Errors(t *testing.T) {
	_, err := NewSink(Config{Bucket: "b"}, nil)
	assert.ErrorIs(t, err, errors.ErrMissingConfig)

	sink, err := NewSink(Config{Bucket: "b"}, &memStore{err: fmt.Errorf("timeout")})
	require.NoError(t, err)
	err = sink.Write(context.Background(), message.NewDataEnvelope("xml", nil, []byte("<a/>")))
	assert.True(t, errors.IsTransient(err))
}

func TestSink_KeyHeader(t *testing.T) {
	sink, err := NewSink(Config{Bucket: "records", KeyHeader: "Nats-Stream-Sequence"}, &memStore{})
	require.NoError(t, err)

	h := message.Header{"Nats-Stream-Sequence": {"17"}}
	rec := message.NewRecordEnvelope("hl7", h, message.Record{}, message.WithPosition(1, 2))
	assert.Equal(t, "hl7.17.2", sink.Key(rec))

	fail := message.NewFailureEnvelope("hl7", h, &message.Failure{Kind: "ParseError"}, message.WithPosition(1, 2))
	assert.Equal(t, "hl7.17.2.failure", sink.Key(fail))

	odd := message.NewRecordEnvelope("hl7", message.Header{"Nats-Stream-Sequence": {"a.b c"}}, nil)
	assert.Equal(t, "hl7.a_b_c.0", sink.Key(odd))

	plain := message.NewRecordEnvelope("hl7", nil, nil, message.WithID("id1"))
	assert.Equal(t, "hl7.id1", sink.Key(plain), "falls back to the envelope ID")
}

func TestSink_WriteOnce(t *testing.T) {
	store := &memStore{}
	sink, err := NewSink(Config{Bucket: "records", KeyHeader: "Nats-Stream-Sequence", WriteOnce: true}, store)
	require.NoError(t, err)
	ctx := context.Background()
	h := message.Header{"Nats-Stream-Sequence": {"5"}}

	first := message.NewRecordEnvelope("edi", h, message.Record{"v": "1"}, message.WithID("first"))
	require.NoError(t, sink.Write(ctx, first))

	// A redelivered unit produces a new envelope for the same position.
	again := message.NewRecordEnvelope("edi", h, message.Record{"v": "1"}, message.WithID("second"))
	require.NoError(t, sink.Write(ctx, again))
	assert.Equal(t, int64(1), sink.Duplicates())

	var stored message.Envelope
	require.NoError(t, json.Unmarshal(store.values["edi.5.0"], &stored))
	assert.Equal(t, "first", stored.ID)

	store.err = fmt.Errorf("timeout")
	err = sink.Write(ctx, message.NewRecordEnvelope("edi", h, nil, message.WithPosition(1, 1)))
	assert.True(t, errors.IsTransient(err))
}
