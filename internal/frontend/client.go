package frontend

import (
	"net"
	"sync"

	"github.com/valyala/bytebufferpool"
	"go.uber.org/atomic"
	"golang.org/x/time/rate"

	"github.com/lk2023060901/danmu-garden-gateway/internal/auth"
	"github.com/lk2023060901/danmu-garden-gateway/internal/network/connection"
	"github.com/lk2023060901/danmu-garden-gateway/internal/network/mux"
	"github.com/lk2023060901/danmu-garden-gateway/internal/service"
	"github.com/lk2023060901/danmu-garden-gateway/pkg/util/merr"
)

// Transport 为客户端收发所依赖的连接层能力，由 acceptor.TCPAcceptor 实现。
type Transport interface {
	Send(c *connection.Connection, data []byte) error
	Disconnect(c *connection.Connection, cause error)
}

// Client 为前端连接的所有者，同时实现 service.Client 与 auth.SessionOwner。
//
// openChannels 与 limiter 只由连接的接收循环访问；
// authFailures 与 handshaked 只由前端服务处理循环访问。
// backlog 为已投递到前端服务、尚未处理的 Data 批次数，只有接收循环增加、处理循环减少。
type Client struct {
	conn      *connection.Connection
	transport Transport
	framer    *mux.Framer

	limiter      *rate.Limiter
	openChannels map[uint16]struct{}

	mu      sync.Mutex
	session *auth.ClientSession

	ready        atomic.Bool
	backlog      atomic.Int64
	authFailures int
	handshaked   map[uint16]struct{}
}

var (
	_ service.Client    = (*Client)(nil)
	_ auth.SessionOwner = (*Client)(nil)
)

func newClient(conn *connection.Connection, transport Transport, framer *mux.Framer, limiter *rate.Limiter) *Client {
	return &Client{
		conn:         conn,
		transport:    transport,
		framer:       framer,
		limiter:      limiter,
		openChannels: make(map[uint16]struct{}),
		handshaked:   make(map[uint16]struct{}),
	}
}

func (c *Client) ID() uint64 {
	return c.conn.ID()
}

// ConnectionID 实现 auth.SessionOwner。
func (c *Client) ConnectionID() uint64 {
	return c.conn.ID()
}

func (c *Client) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Client) Session() *auth.ClientSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// AttachSession 实现 auth.SessionOwner，每个客户端只能绑定一个会话。
func (c *Client) AttachSession(sess *auth.ClientSession) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return merr.WrapErrSessionAlreadyBound(c.session.ID, "client already authenticated")
	}
	c.session = sess
	return nil
}

// Ready 报告客户端是否已在所有通道完成握手。
func (c *Client) Ready() bool {
	return c.ready.Load()
}

// SendMessages 将消息打包为一个 Data 帧发送。
func (c *Client) SendMessages(channel uint16, msgs ...mux.Message) error {
	body := bytebufferpool.Get()
	defer bytebufferpool.Put(body)
	body.B = mux.AppendMessages(body.B, msgs...)
	return c.sendFrame(mux.Frame{ChannelID: channel, Command: mux.CommandData, Body: body.B})
}

func (c *Client) sendFrame(frame mux.Frame) error {
	// Send 同步写完才返回，缓冲区可立即归还。
	out := bytebufferpool.Get()
	defer bytebufferpool.Put(out)

	var err error
	if out.B, err = c.framer.AppendFrame(out.B, frame); err != nil {
		return err
	}
	return c.transport.Send(c.conn, out.B)
}

// Disconnect 由服务主动断开客户端，可重复调用。
func (c *Client) Disconnect() {
	c.conn.MarkDead()
	c.transport.Disconnect(c.conn, merr.WrapErrConnectionClosed(c.conn.ID(), "closed by owner"))
}

// allowFrame 执行每连接帧速率限制，未配置限流时总是允许。
func (c *Client) allowFrame() bool {
	return c.limiter == nil || c.limiter.Allow()
}

func (c *Client) openChannel(ch uint16) {
	c.openChannels[ch] = struct{}{}
}

func (c *Client) channelOpen(ch uint16) bool {
	_, ok := c.openChannels[ch]
	return ok
}
