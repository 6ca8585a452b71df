package message

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageKind(t *testing.T) {
	assert.Equal(t, KindInvalid, (&Message{}).Kind())
	assert.Equal(t, KindCounterUpdate, (&Message{CounterUpdate: &CounterUpdate{Counter: 1}}).Kind())
	assert.Equal(t, KindCounterAck, (&Message{CounterAck: NewCounterAck()}).Kind())
	assert.Equal(t, KindPeerBye, (&Message{PeerBye: &PeerBye{}}).Kind())
	assert.Equal(t, KindInvalid, (&Message{
		CounterUpdate: &CounterUpdate{},
		CounterAck:    NewCounterAck(),
	}).Kind())
}

func TestMessageValidate(t *testing.T) {
	ok := []*Message{
		{Txseq: 1, CounterUpdate: &CounterUpdate{Counter: -4}},
		{Txseq: 2, ReplyTo: 1, CounterAck: NewCounterAck()},
		{Txseq: 3, PeerHello: &PeerHello{Participant: &Participant{Host: "watch", Instance: "1", Time: 1700000000000}}},
	}
	for _, msg := range ok {
		assert.NoError(t, msg.Validate(), "%s", msg.Kind())
	}

	bad := map[string]*Message{
		"empty":          {Txseq: 1},
		"ack no reply":   {Txseq: 2, CounterAck: NewCounterAck()},
		"ack bad status": {Txseq: 3, ReplyTo: 1, CounterAck: &CounterAck{Status: "lost"}},
		"hello nil":      {Txseq: 4, PeerHello: &PeerHello{}},
		"hello no host":  {Txseq: 5, PeerHello: &PeerHello{Participant: &Participant{Instance: "1", Time: 1}}},
	}
	for name, msg := range bad {
		err := msg.Validate()
		assert.ErrorIs(t, err, ErrMalformed, name)
	}
}

func TestDecodeCounterUpdate(t *testing.T) {
	u, err := DecodeCounterUpdate(map[string]any{"counter": 7})
	require.NoError(t, err)
	assert.Equal(t, int64(7), u.Counter)

	u, err = DecodeCounterUpdate(map[string]any{"counter": float64(-12)})
	require.NoError(t, err)
	assert.Equal(t, int64(-12), u.Counter)

	u, err = DecodeCounterUpdate(map[string]any{"counter": json.Number("42")})
	require.NoError(t, err)
	assert.Equal(t, int64(42), u.Counter)

	bad := map[string]any{
		"nil":          nil,
		"not a map":    7,
		"missing":      map[string]any{"count": 7},
		"null counter": map[string]any{"counter": nil},
		"string":       map[string]any{"counter": "7"},
		"bool":         map[string]any{"counter": true},
		"fraction":     map[string]any{"counter": 7.5},
		"overflow":     map[string]any{"counter": uint64(1) << 63},
	}
	for name, args := range bad {
		_, err := DecodeCounterUpdate(args)
		assert.ErrorIs(t, err, ErrMalformed, name)
	}
}

func TestDecodeCounterAck(t *testing.T) {
	a, err := DecodeCounterAck(map[string]any{"status": "received"})
	require.NoError(t, err)
	assert.Equal(t, AckStatusReceived, a.Status)

	_, err = DecodeCounterAck(map[string]any{"status": "dropped"})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestToMap(t *testing.T) {
	out, err := ToMap(&CounterUpdate{Counter: 9})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"counter": int64(9)}, out)

	out, err = ToMap(NewCounterAck())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"status": "received"}, out)
}
