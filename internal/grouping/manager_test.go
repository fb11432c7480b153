package grouping

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/danmu-garden-gateway/internal/auth"
	"github.com/lk2023060901/danmu-garden-gateway/internal/network/mux"
	"github.com/lk2023060901/danmu-garden-gateway/internal/service"
	"github.com/lk2023060901/danmu-garden-gateway/pkg/util/merr"
)

type stubClient struct{ id uint64 }

func (c stubClient) ID() uint64                                { return c.id }
func (c stubClient) RemoteAddr() net.Addr                      { return &net.TCPAddr{} }
func (c stubClient) Session() *auth.ClientSession              { return nil }
func (c stubClient) SendMessages(uint16, ...mux.Message) error { return nil }
func (c stubClient) Disconnect()                               {}

func TestManager(t *testing.T) {
	m := NewManager()
	c := stubClient{id: 3}

	require.NoError(t, m.HandleMessage(service.AddClient{Client: c}))
	assert.Equal(t, 1, m.Count())
	got, ok := m.Client(3)
	assert.True(t, ok)
	assert.Equal(t, c, got)

	require.NoError(t, m.HandleMessage(service.RouteMessageBuffer{
		Client:    c,
		ChannelID: 2,
		Messages:  []mux.Message{{ID: 1}, {ID: 2}},
	}))
	assert.Equal(t, uint64(2), m.Received())

	require.NoError(t, m.HandleMessage(service.RemoveClient{Client: c}))
	assert.Equal(t, 0, m.Count())
	assert.ErrorIs(t, m.HandleMessage(service.RemoveClient{Client: c}), merr.ErrConnectionNotFound)
	assert.ErrorIs(t, m.HandleMessage(service.RouteMessageBuffer{Client: c}), merr.ErrConnectionNotFound)
	assert.ErrorIs(t, m.HandleMessage(service.ClientDisconnected{Client: c}), merr.ErrMailboxUnknownMessage)
}
