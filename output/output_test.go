package output

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/transcoder/errors"
	"github.com/c360/transcoder/message"
)

type closingSink struct {
	Collector
	closed int
}

func (c *closingSink) Close() error {
	c.closed++
	return nil
}

func TestEmitter_RoutesByPayload(t *testing.T) {
	ok, bad := NewCollector(), NewCollector()
	e, err := NewEmitter(ok, bad)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, e.Emit(ctx, message.NewRecordEnvelope("hl7", nil, message.Record{"a": "b"})))
	require.NoError(t, e.Emit(ctx, message.NewDataEnvelope("delim", nil, []byte("x"))))
	require.NoError(t, e.Emit(ctx, message.NewFailureEnvelope("hl7", nil,
		message.NewFailure(errors.WrapParse(fmt.Errorf("bad"), "c", "m", "a")))))

	assert.Equal(t, 2, ok.Len())
	assert.Equal(t, 1, bad.Len())
	assert.True(t, bad.Envelopes()[0].IsFailure())
}

func TestEmitter_FailureDefaultsToSuccessSink(t *testing.T) {
	c := NewCollector()
	e, err := NewEmitter(c, nil)
	require.NoError(t, err)

	require.NoError(t, e.Emit(context.Background(), message.NewFailureEnvelope("edi", nil,
		message.NewFailure(fmt.Errorf("boom")))))
	assert.Equal(t, 1, c.Len())
}

func TestEmitter_RejectsBadEnvelopes(t *testing.T) {
	e, err := NewEmitter(NewCollector(), nil)
	require.NoError(t, err)

	ctx := context.Background()
	assert.Error(t, e.Emit(ctx, nil))

	empty := message.NewRecordEnvelope("hl7", nil, nil)
	assert.True(t, errors.IsInvalid(e.Emit(ctx, empty)))

	both := message.NewRecordEnvelope("hl7", nil, message.Record{"a": "b"})
	both.Data = []byte("x")
	assert.True(t, errors.IsInvalid(e.Emit(ctx, both)))

	_, err = NewEmitter(nil, nil)
	assert.ErrorIs(t, err, errors.ErrMissingConfig)
}

func TestEmitter_SinkErrorIsIO(t *testing.T) {
	failing := SinkFunc(func(context.Context, *message.Envelope) error {
		return fmt.Errorf("disk full")
	})
	e, err := NewEmitter(failing, nil)
	require.NoError(t, err)

	err = e.Emit(context.Background(), message.NewDataEnvelope("delim", nil, []byte("x")))
	require.Error(t, err)
	assert.Equal(t, errors.KindIO, errors.KindOf(err))
}

func TestEmitter_CloseOnce(t *testing.T) {
	s := &closingSink{}
	e, err := NewEmitter(s, s)
	require.NoError(t, err)
	require.NoError(t, e.Close())
	assert.Equal(t, 1, s.closed)

	a, b := &closingSink{}, &closingSink{}
	e, err = NewEmitter(a, b)
	require.NoError(t, err)
	require.NoError(t, e.Close())
	assert.Equal(t, 1, a.closed)
	assert.Equal(t, 1, b.closed)

	c, d := &closingSink{}, &closingSink{}
	e, err = NewEmitter(Tee{c}, Tee{d})
	require.NoError(t, err)
	require.NoError(t, e.Close())
	assert.Equal(t, 1, c.closed)
	assert.Equal(t, 1, d.closed)
}

func TestTee(t *testing.T) {
	a, b := NewCollector(), NewCollector()
	tee := Tee{a, b}
	env := message.NewDataEnvelope("delim", nil, []byte("x"))
	require.NoError(t, tee.Write(context.Background(), env))
	assert.Equal(t, 1, a.Len())
	assert.Equal(t, 1, b.Len())

	stop := Tee{SinkFunc(func(context.Context, *message.Envelope) error { return fmt.Errorf("nope") }), a}
	assert.Error(t, stop.Write(context.Background(), env))
	assert.Equal(t, 1, a.Len())

	a.Reset()
	assert.Equal(t, 0, a.Len())
}
