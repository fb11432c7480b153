package connection

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/lk2023060901/danmu-garden-gateway/pkg/util/merr"
)

// Connection 表示一条已接受的客户端 TCP 连接。
//
// 职责：
//   - 持有固定容量的接收缓冲区，帧解析直接在缓冲区上进行，不做中间拷贝；
//   - 串行化发送，保证多个 goroutine 写同一连接时字节不交叉；
//   - 维护存活标记与上层所有者（例如前端客户端）的引用，所有者只能设置一次。
type Connection struct {
	id uint64

	ctx    context.Context
	cancel context.CancelFunc

	conn       net.Conn
	remoteAddr net.Addr
	localAddr  net.Addr

	// recvBuf[:recvLen] 为尚未被消费的字节，可能包含不完整的帧。
	// 仅由该连接的接收循环访问。
	recvBuf []byte
	recvLen int

	sendMu       sync.Mutex
	closed       bool
	writeTimeout time.Duration

	connected atomic.Bool
	ownerSet  atomic.Bool
	owner     atomic.Value

	closeOnce sync.Once
}

// New 基于 net.Conn 创建连接。parent 取消时连接上下文随之取消。
func New(parent context.Context, id uint64, conn net.Conn, recvBufferSize int, writeTimeout time.Duration) *Connection {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	c := &Connection{
		id:           id,
		ctx:          ctx,
		cancel:       cancel,
		conn:         conn,
		remoteAddr:   conn.RemoteAddr(),
		localAddr:    conn.LocalAddr(),
		recvBuf:      make([]byte, recvBufferSize),
		writeTimeout: writeTimeout,
	}
	c.connected.Store(true)
	return c
}

func (c *Connection) ID() uint64 {
	return c.id
}

func (c *Connection) Context() context.Context {
	return c.ctx
}

func (c *Connection) RemoteAddr() net.Addr {
	return c.remoteAddr
}

func (c *Connection) LocalAddr() net.Addr {
	return c.localAddr
}

// Connected 报告连接是否仍被视为存活。
func (c *Connection) Connected() bool {
	return c.connected.Load()
}

// MarkDead 将连接标记为失效，接收循环在本轮数据处理后将其移除。
func (c *Connection) MarkDead() {
	c.connected.Store(false)
}

// SetOwner 绑定上层所有者，仅第一次调用生效。
func (c *Connection) SetOwner(owner any) bool {
	if owner == nil || !c.ownerSet.CompareAndSwap(false, true) {
		return false
	}
	c.owner.Store(owner)
	return true
}

// Owner 返回绑定的上层所有者，未绑定时为 nil。
func (c *Connection) Owner() any {
	return c.owner.Load()
}

// ReceiveBufferSize 返回接收缓冲区容量。
func (c *Connection) ReceiveBufferSize() int {
	return len(c.recvBuf)
}

// Fill 从底层连接读取一次数据追加到接收缓冲区，返回本次读取的字节数。
// 缓冲区已满时返回帧协议错误：说明对端发送了无法在缓冲区内完成的帧。
func (c *Connection) Fill() (int, error) {
	if c.recvLen == len(c.recvBuf) {
		return 0, merr.WrapErrFrameBodyTooLarge(c.recvLen, len(c.recvBuf), "receive buffer full")
	}
	n, err := c.conn.Read(c.recvBuf[c.recvLen:])
	if n > 0 {
		c.recvLen += n
	}
	return n, err
}

// Buffered 返回接收缓冲区中尚未消费的字节，切片在下一次 Fill 或 Consume 前有效。
func (c *Connection) Buffered() []byte {
	return c.recvBuf[:c.recvLen]
}

// Consume 丢弃接收缓冲区头部 n 个字节，剩余的不完整帧移动到缓冲区起始处。
func (c *Connection) Consume(n int) {
	if n <= 0 {
		return
	}
	if n >= c.recvLen {
		c.recvLen = 0
		return
	}
	c.recvLen = copy(c.recvBuf, c.recvBuf[n:c.recvLen])
}

// SetReadDeadline 设置下一次 Fill 的读超时，零值表示不超时。
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// Send 将 data 完整写入底层连接，短写时循环直到全部写出。
// 返回后调用方可以复用 data。
func (c *Connection) Send(data []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if !c.connected.Load() || c.closed {
		return merr.WrapErrConnectionClosed(c.id)
	}
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	for written := 0; written < len(data); {
		n, err := c.conn.Write(data[written:])
		if err != nil {
			return err
		}
		written += n
	}
	return nil
}

// Close 关闭连接，可重复调用。
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.connected.Store(false)
		c.cancel()
		err = c.conn.Close()

		c.sendMu.Lock()
		c.closed = true
		c.sendMu.Unlock()
	})
	return err
}
