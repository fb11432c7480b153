package grouping

import (
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-garden-gateway/internal/service"
	"github.com/lk2023060901/danmu-garden-gateway/pkg/log"
	"github.com/lk2023060901/danmu-garden-gateway/pkg/util/merr"
)

// Manager 为分组（聊天）服务的邮箱处理逻辑，目前只维护在线客户端表。
// 聊天命令由外部组件解析，收到的消息计数后丢弃。
type Manager struct {
	log.Binder

	clients  map[uint64]service.Client
	received atomic.Uint64
}

func NewManager() *Manager {
	m := &Manager{clients: make(map[uint64]service.Client)}
	m.SetLogger(log.With(log.FieldService(service.GroupingManager.String())))
	return m
}

// HandleMessage 实现 service.Handler。
func (m *Manager) HandleMessage(msg service.Message) error {
	switch msg := msg.(type) {
	case service.AddClient:
		m.clients[msg.Client.ID()] = msg.Client
		m.Logger().Debug("client joined", log.FieldConnID(msg.Client.ID()))
		return nil
	case service.RemoveClient:
		if _, ok := m.clients[msg.Client.ID()]; !ok {
			return merr.WrapErrConnectionNotFound(msg.Client.ID(), "grouping remove")
		}
		delete(m.clients, msg.Client.ID())
		m.Logger().Debug("client left", log.FieldConnID(msg.Client.ID()))
		return nil
	case service.RouteMessageBuffer:
		if _, ok := m.clients[msg.Client.ID()]; !ok {
			return merr.WrapErrConnectionNotFound(msg.Client.ID(), "grouping route")
		}
		m.received.Add(uint64(len(msg.Messages)))
		m.Logger().Debug("chat messages dropped",
			log.FieldConnID(msg.Client.ID()), zap.Int("count", len(msg.Messages)))
		return nil
	default:
		return merr.WrapErrMailboxUnknownMessage(service.GroupingManager, msg)
	}
}

// Client 按连接 ID 查找客户端。只能在服务处理循环中调用。
func (m *Manager) Client(id uint64) (service.Client, bool) {
	c, ok := m.clients[id]
	return c, ok
}

// Count 返回在线客户端数。只能在服务处理循环中调用。
func (m *Manager) Count() int {
	return len(m.clients)
}

// Received 返回累计收到的消息数，可并发调用。
func (m *Manager) Received() uint64 {
	return m.received.Load()
}
