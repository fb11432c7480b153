package connector

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/danmu-garden-gateway/internal/network"
	"github.com/lk2023060901/danmu-garden-gateway/internal/network/mux"
	"github.com/lk2023060901/danmu-garden-gateway/pkg/util/conc"
	"github.com/lk2023060901/danmu-garden-gateway/pkg/util/merr"
)

// Packet 为客户端收到的一帧。Data 帧的消息已解析到 Messages。
type Packet struct {
	ChannelID uint16
	Command   mux.Command
	Messages  []mux.Message
}

// Config 描述客户端连接的基础配置。
type Config struct {
	SendQueueSize  int
	RecvQueueSize  int
	RecvBufferSize int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	Mux mux.Config
}

func defaultConfig() Config {
	return Config{
		SendQueueSize:  1024,
		RecvQueueSize:  1024,
		RecvBufferSize: 8 * 1024,
		DialTimeout:    5 * time.Second,
	}
}

// Handler 描述客户端在各阶段的回调能力，均为可选。
type Handler interface {
	OnConnected(conn *Conn)
	OnClosed(conn *Conn, err error)
	OnError(conn *Conn, stage network.Stage, err error)
}

type nopHandler struct{}

func (nopHandler) OnConnected(*Conn)                   {}
func (nopHandler) OnClosed(*Conn, error)               {}
func (nopHandler) OnError(*Conn, network.Stage, error) {}

// Connector 为说 mux 协议的 TCP 拨号器，主要用于联调与测试。
type Connector struct {
	cfg    Config
	framer *mux.Framer
}

// New 创建 Connector，未设置的字段使用缺省值。
func New(cfg Config) (*Connector, error) {
	def := defaultConfig()
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = def.SendQueueSize
	}
	if cfg.RecvQueueSize <= 0 {
		cfg.RecvQueueSize = def.RecvQueueSize
	}
	if cfg.RecvBufferSize <= 0 {
		cfg.RecvBufferSize = def.RecvBufferSize
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	framer, err := mux.NewFramer(cfg.Mux)
	if err != nil {
		return nil, err
	}
	return &Connector{cfg: cfg, framer: framer}, nil
}

// Dial 连接网关。h 可为 nil。
func (c *Connector) Dial(ctx context.Context, host string, port int, h Handler) (*Conn, error) {
	if h == nil {
		h = nopHandler{}
	}
	dialer := net.Dialer{Timeout: c.cfg.DialTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, errors.Wrap(err, "connector: dial failed")
	}

	connCtx, cancel := context.WithCancel(context.Background())
	cc := &Conn{
		conn:     raw,
		ctx:      connCtx,
		cancel:   cancel,
		cfg:      c.cfg,
		framer:   c.framer,
		h:        h,
		sendChan: make(chan []byte, c.cfg.SendQueueSize),
		recvChan: make(chan *Packet, c.cfg.RecvQueueSize),
	}

	_ = conc.Go(func() (struct{}, error) {
		cc.recvLoop()
		return struct{}{}, nil
	})
	_ = conc.Go(func() (struct{}, error) {
		cc.sendLoop()
		return struct{}{}, nil
	})

	h.OnConnected(cc)
	return cc, nil
}

// Conn 为客户端侧的一条 mux 连接。
type Conn struct {
	conn   net.Conn
	ctx    context.Context
	cancel context.CancelFunc

	cfg    Config
	framer *mux.Framer
	h      Handler

	sendChan chan []byte
	recvChan chan *Packet

	closeOnce sync.Once
	closeErr  error
}

func (c *Conn) Context() context.Context { return c.ctx }
func (c *Conn) RemoteAddr() net.Addr     { return c.conn.RemoteAddr() }
func (c *Conn) LocalAddr() net.Addr      { return c.conn.LocalAddr() }

// Recv 返回收到的帧，连接关闭后通道被关闭。
func (c *Conn) Recv() <-chan *Packet { return c.recvChan }

func (c *Conn) Close() error {
	return c.close(nil)
}

// Connect 在通道上发送 Connect 命令。
func (c *Conn) Connect(channel uint16) error {
	return c.SendFrame(mux.Frame{ChannelID: channel, Command: mux.CommandConnect})
}

// Disconnect 在通道上发送 Disconnect 命令。
func (c *Conn) Disconnect(channel uint16) error {
	return c.SendFrame(mux.Frame{ChannelID: channel, Command: mux.CommandDisconnect})
}

// SendMessages 将消息打包为一个 Data 帧发送。
func (c *Conn) SendMessages(channel uint16, msgs ...mux.Message) error {
	body := mux.AppendMessages(nil, msgs...)
	return c.SendFrame(mux.Frame{ChannelID: channel, Command: mux.CommandData, Body: body})
}

// SendFrame 编码并排队发送一帧。
func (c *Conn) SendFrame(frame mux.Frame) error {
	data, err := c.framer.Encode(frame)
	if err != nil {
		return err
	}
	return c.SendRaw(data)
}

// SendRaw 排队发送原始字节，不做任何校验。
func (c *Conn) SendRaw(data []byte) error {
	if c.ctx.Err() != nil {
		return merr.WrapErrConnectionClosed(0, "connector closed")
	}
	select {
	case <-c.ctx.Done():
		return merr.WrapErrConnectionClosed(0, "connector closed")
	case c.sendChan <- data:
		return nil
	}
}

func (c *Conn) close(cause error) error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.closeErr = c.conn.Close()
		c.h.OnClosed(c, cause)
	})
	return c.closeErr
}

// recvLoop 持续读取字节流并解码为帧，直至连接关闭。
func (c *Conn) recvLoop() {
	defer close(c.recvChan)

	buf := make([]byte, c.cfg.RecvBufferSize)
	n := 0
	for {
		if n == len(buf) {
			c.fail(network.StageDecode, merr.WrapErrFrameBodyTooLarge(n, len(buf)))
			return
		}
		if c.cfg.ReadTimeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		}
		read, err := c.conn.Read(buf[n:])
		n += read

		consumed := 0
		for {
			frame, used, derr := c.framer.DecodeFrame(buf[consumed:n])
			if derr != nil {
				c.fail(network.StageDecode, derr)
				return
			}
			if used == 0 {
				break
			}
			consumed += used

			pkt := &Packet{ChannelID: frame.ChannelID, Command: frame.Command}
			if frame.Command == mux.CommandData {
				msgs, perr := mux.ParseMessages(frame.Body)
				if perr != nil {
					c.fail(network.StageDecode, perr)
					return
				}
				for i := range msgs {
					msgs[i] = msgs[i].Clone()
				}
				pkt.Messages = msgs
			}
			select {
			case <-c.ctx.Done():
				return
			case c.recvChan <- pkt:
			}
		}
		n = copy(buf, buf[consumed:n])

		if err != nil {
			if c.ctx.Err() == nil {
				c.fail(network.StageRecv, err)
			}
			return
		}
	}
}

func (c *Conn) sendLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case data := <-c.sendChan:
			if c.cfg.WriteTimeout > 0 {
				_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			}
			if _, err := c.conn.Write(data); err != nil {
				c.fail(network.StageSend, err)
				return
			}
		}
	}
}

func (c *Conn) fail(stage network.Stage, err error) {
	c.h.OnError(c, stage, err)
	_ = c.close(err)
}
