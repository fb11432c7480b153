package mux

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/danmu-garden-gateway/pkg/util/merr"
)

func newTestFramer(t *testing.T, cfg Config) *Framer {
	t.Helper()
	f, err := NewFramer(cfg)
	require.NoError(t, err)
	return f
}

func TestRoundTripEveryCommand(t *testing.T) {
	f := newTestFramer(t, Config{})
	body := AppendMessages(nil, Message{ID: 1, Payload: []byte("hello")}, Message{ID: 300, Payload: nil})

	cases := []Frame{
		{ChannelID: 1, Command: CommandConnect},
		{ChannelID: 2, Command: CommandConnectAck},
		{ChannelID: 1, Command: CommandDisconnect},
		{ChannelID: 2, Command: CommandConnectWithData},
		{ChannelID: 1, Command: CommandData, Body: body},
		{ChannelID: 2, Command: CommandData},
	}
	for _, want := range cases {
		t.Run(want.Command.String(), func(t *testing.T) {
			buf, err := f.Encode(want)
			require.NoError(t, err)
			assert.Len(t, buf, HeaderSize+len(want.Body))

			got, consumed, err := f.DecodeFrame(buf)
			require.NoError(t, err)
			assert.Equal(t, len(buf), consumed)
			assert.Equal(t, want.ChannelID, got.ChannelID)
			assert.Equal(t, want.Command, got.Command)
			assert.Equal(t, len(want.Body), len(got.Body))
			if len(want.Body) > 0 {
				assert.Equal(t, want.Body, got.Body)
			}
		})
	}
}

func TestHeaderLayoutLittleEndian(t *testing.T) {
	f := newTestFramer(t, Config{})
	buf, err := f.Encode(Frame{ChannelID: 1, Command: CommandData, Body: []byte{0xAA, 0xBB}})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x00, 0x02, 0x00, 0x00, 0x05, 0xAA, 0xBB}, buf)
}

func TestHeaderLayoutBigEndian(t *testing.T) {
	f := newTestFramer(t, Config{ByteOrder: "big"})
	buf, err := f.Encode(Frame{ChannelID: 2, Command: CommandData, Body: []byte{0xAA}})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x02, 0x00, 0x00, 0x01, 0x05, 0xAA}, buf)

	got, n, err := f.DecodeFrame(buf)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, uint16(2), got.ChannelID)
}

func TestUnknownByteOrder(t *testing.T) {
	_, err := NewFramer(Config{ByteOrder: "middle"})
	assert.ErrorIs(t, err, merr.ErrParameterInvalid)
}

func TestDecodeConsumesExactlyOneFrame(t *testing.T) {
	f := newTestFramer(t, Config{})
	first, err := f.Encode(Frame{ChannelID: 1, Command: CommandData, Body: []byte{1, 2, 3}})
	require.NoError(t, err)
	stream, err := f.AppendFrame(bytes.Clone(first), Frame{ChannelID: 2, Command: CommandConnect})
	require.NoError(t, err)

	frame, n, err := f.DecodeFrame(stream)
	require.NoError(t, err)
	assert.Equal(t, HeaderSize+3, n)
	assert.Equal(t, []byte{1, 2, 3}, frame.Body)

	frame, n2, err := f.DecodeFrame(stream[n:])
	require.NoError(t, err)
	assert.Equal(t, HeaderSize, n2)
	assert.Equal(t, CommandConnect, frame.Command)
}

func TestDecodePartialFrameNeedsMore(t *testing.T) {
	f := newTestFramer(t, Config{})
	buf, err := f.Encode(Frame{ChannelID: 1, Command: CommandData, Body: []byte("abcdef")})
	require.NoError(t, err)

	for i := 0; i < len(buf); i++ {
		_, n, err := f.DecodeFrame(buf[:i])
		require.NoError(t, err)
		assert.Zero(t, n)
	}
}

func TestDecodeRejectsInvalidChannel(t *testing.T) {
	f := newTestFramer(t, Config{MaxChannels: 2})

	for _, ch := range []byte{0, 3} {
		_, _, err := f.DecodeFrame([]byte{ch, 0, 0, 0, 0, byte(CommandConnect)})
		assert.ErrorIs(t, err, merr.ErrFrameInvalidChannel)
		assert.True(t, merr.IsFramingErr(err))
	}

	wide := newTestFramer(t, Config{MaxChannels: 4})
	_, n, err := wide.DecodeFrame([]byte{3, 0, 0, 0, 0, byte(CommandConnect)})
	require.NoError(t, err)
	assert.Equal(t, HeaderSize, n)
}

func TestDecodeRejectsUnknownCommand(t *testing.T) {
	f := newTestFramer(t, Config{})
	_, _, err := f.DecodeFrame([]byte{1, 0, 0, 0, 0, 0x7F})
	assert.ErrorIs(t, err, merr.ErrFrameIllegalCommand)
}

func TestDecodeRejectsBodyOnNonData(t *testing.T) {
	f := newTestFramer(t, Config{})
	_, _, err := f.DecodeFrame([]byte{1, 0, 1, 0, 0, byte(CommandConnect), 0xFF})
	assert.ErrorIs(t, err, merr.ErrFrameMalformed)
}

func TestDecodeRejectsOversizedBody(t *testing.T) {
	f := newTestFramer(t, Config{MaxBodySize: 16})
	_, _, err := f.DecodeFrame([]byte{1, 0, 17, 0, 0, byte(CommandData)})
	assert.ErrorIs(t, err, merr.ErrFrameBodyTooLarge)

	_, err = f.Encode(Frame{ChannelID: 1, Command: CommandData, Body: make([]byte, 17)})
	assert.ErrorIs(t, err, merr.ErrFrameBodyTooLarge)
}

func TestWriteFrame(t *testing.T) {
	f := newTestFramer(t, Config{})
	var buf bytes.Buffer
	require.NoError(t, f.WriteFrame(&buf, Frame{ChannelID: 1, Command: CommandConnect}))
	assert.Equal(t, []byte{1, 0, 0, 0, 0, byte(CommandConnect)}, buf.Bytes())

	assert.Error(t, f.WriteFrame(&buf, Frame{ChannelID: 9, Command: CommandConnect}))
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "ConnectWithData", CommandConnectWithData.String())
	assert.Equal(t, "Command(0x7F)", Command(0x7F).String())
	assert.False(t, Command(0).Valid())
}
