package connection

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/danmu-garden-gateway/pkg/util/merr"
)

func newPipeConnection(t *testing.T, id uint64, recvSize int) (*Connection, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	c := New(context.Background(), id, server, recvSize, 0)
	t.Cleanup(func() {
		_ = c.Close()
		_ = client.Close()
	})
	return c, client
}

func TestConnection_FillAndConsume(t *testing.T) {
	c, peer := newPipeConnection(t, 1, 16)

	go func() {
		_, _ = peer.Write([]byte("hello"))
	}()

	n, err := c.Fill()
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []byte("hello"), c.Buffered())

	c.Consume(2)
	assert.Equal(t, []byte("llo"), c.Buffered())

	c.Consume(10)
	assert.Empty(t, c.Buffered())
}

func TestConnection_FillFullBuffer(t *testing.T) {
	c, peer := newPipeConnection(t, 1, 4)

	go func() {
		_, _ = peer.Write([]byte("abcd"))
	}()

	n, err := c.Fill()
	require.NoError(t, err)
	require.Equal(t, 4, n)

	_, err = c.Fill()
	assert.True(t, merr.IsFramingErr(err))
}

func TestConnection_SendConcurrent(t *testing.T) {
	c, peer := newPipeConnection(t, 1, 16)

	const (
		senders = 8
		payload = 64
	)

	received := make(chan []byte, 1)
	go func() {
		buf := make([]byte, senders*payload)
		_, _ = io.ReadFull(peer, buf)
		received <- buf
	}()

	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(b byte) {
			defer wg.Done()
			data := make([]byte, payload)
			for j := range data {
				data[j] = b
			}
			assert.NoError(t, c.Send(data))
		}(byte('a' + i))
	}
	wg.Wait()

	buf := <-received
	// 每个发送方的数据必须连续出现，不与其他发送方交叉。
	for off := 0; off < len(buf); off += payload {
		chunk := buf[off : off+payload]
		for _, b := range chunk {
			assert.Equal(t, chunk[0], b)
		}
	}
}

func TestConnection_Owner(t *testing.T) {
	c, _ := newPipeConnection(t, 1, 16)

	assert.Nil(t, c.Owner())
	assert.False(t, c.SetOwner(nil))
	assert.True(t, c.SetOwner("first"))
	assert.False(t, c.SetOwner("second"))
	assert.Equal(t, "first", c.Owner())
}

func TestConnection_CloseAndSend(t *testing.T) {
	c, _ := newPipeConnection(t, 7, 16)

	assert.True(t, c.Connected())
	require.NoError(t, c.Close())
	assert.NoError(t, c.Close())
	assert.False(t, c.Connected())
	assert.ErrorIs(t, c.Context().Err(), context.Canceled)

	err := c.Send([]byte("x"))
	assert.ErrorIs(t, err, merr.ErrConnectionClosed)
}

func TestConnection_MarkDead(t *testing.T) {
	c, _ := newPipeConnection(t, 1, 16)

	c.MarkDead()
	assert.False(t, c.Connected())
	assert.ErrorIs(t, c.Send([]byte("x")), merr.ErrConnectionClosed)
}
