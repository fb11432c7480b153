package mux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/danmu-garden-gateway/pkg/util/merr"
)

func TestMessagesRoundTrip(t *testing.T) {
	in := []Message{
		{ID: 1, Payload: []byte(`{"sessionId":1}`)},
		{ID: 3, Payload: []byte{}},
		{ID: 1 << 20, Payload: make([]byte, 300)},
	}
	body := AppendMessages(nil, in...)
	assert.Len(t, body, MessagesSize(in...))

	out, err := ParseMessages(body)
	require.NoError(t, err)
	require.Len(t, out, len(in))
	for i := range in {
		assert.Equal(t, in[i].ID, out[i].ID)
		assert.Equal(t, len(in[i].Payload), len(out[i].Payload))
	}
}

func TestParseEmptyBody(t *testing.T) {
	out, err := ParseMessages(nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestParseTruncatedPayload(t *testing.T) {
	body := AppendMessages(nil, Message{ID: 1, Payload: []byte("payload")})
	_, err := ParseMessages(body[:len(body)-1])
	assert.ErrorIs(t, err, merr.ErrFrameMalformed)
	assert.True(t, merr.IsFramingErr(err))
}

func TestParseTruncatedID(t *testing.T) {
	_, err := ParseMessages([]byte{0x80})
	assert.ErrorIs(t, err, merr.ErrFrameMalformed)
}

func TestCloneDetachesPayload(t *testing.T) {
	buf := []byte("abc")
	m := Message{ID: 1, Payload: buf}
	c := m.Clone()
	buf[0] = 'z'
	assert.Equal(t, []byte("abc"), c.Payload)
}
