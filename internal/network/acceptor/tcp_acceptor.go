package acceptor

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-garden-gateway/internal/network/connection"
	"github.com/lk2023060901/danmu-garden-gateway/pkg/log"
	"github.com/lk2023060901/danmu-garden-gateway/pkg/metrics"
	"github.com/lk2023060901/danmu-garden-gateway/pkg/util/conc"
	"github.com/lk2023060901/danmu-garden-gateway/pkg/util/merr"
)

const (
	acceptBackoffInitial = 5 * time.Millisecond
	acceptBackoffMax     = time.Second
)

// TCPAcceptor 为网关的 TCP 接入层。
//
// 职责：
//   - 监听端口并接受连接，为每个连接创建 Connection 并登记到连接表；
//   - 在协程池中为每个连接运行独立的接收循环，并回调 Handler；
//   - 保证每个连接的断开回调只触发一次。
//
// 接入层不解析任何负载语义，帧解析由 Handler 在 OnReceive 中完成。
type TCPAcceptor struct {
	log.Binder

	cfg     Config
	handler Handler

	conns *connection.Table
	pool  *conc.Pool[struct{}]
	loops sync.WaitGroup

	mu sync.Mutex
	ln net.Listener

	nextID    atomic.Uint64
	closeOnce sync.Once
}

// Option 为 TCPAcceptor 的可选配置。
type Option func(a *TCPAcceptor)

// WithListener 使用已创建的监听器，Start 不再按 Address/Port 监听。
func WithListener(ln net.Listener) Option {
	return func(a *TCPAcceptor) {
		a.ln = ln
	}
}

// NewTCPAcceptor 创建接入器，此时尚未监听端口。
func NewTCPAcceptor(cfg Config, h Handler, opts ...Option) (*TCPAcceptor, error) {
	if h == nil {
		return nil, merr.WrapErrParameterMissing("handler")
	}
	cfg = cfg.withDefaults()

	pool, err := conc.NewPool[struct{}](cfg.MaxConnections,
		conc.WithName("recv-loop"),
		conc.WithNonBlocking(true),
		conc.WithConcealPanic(true),
	)
	if err != nil {
		return nil, err
	}

	a := &TCPAcceptor{
		cfg:     cfg,
		handler: h,
		conns:   connection.NewTable(),
		pool:    pool,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.SetLogger(log.With(log.FieldComponent("acceptor")))
	return a, nil
}

// Start 绑定监听地址，重复调用无副作用。
func (a *TCPAcceptor) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ln != nil {
		return nil
	}

	addr := net.JoinHostPort(a.cfg.Address, strconv.Itoa(a.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return merr.WrapErrListenerFailed(addr, err)
	}
	a.ln = ln
	a.Logger().Info("listener started", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr 返回实际监听地址，未启动时为 nil。
func (a *TCPAcceptor) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ln == nil {
		return nil
	}
	return a.ln.Addr()
}

func (a *TCPAcceptor) listener() net.Listener {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ln
}

// Serve 运行 accept 循环，阻塞直至 ctx 取消、Close 被调用或出现致命错误。
//
// 同一错误连续出现 MaxConsecutiveAcceptErrors 次视为致命，监听器停止并返回错误；
// 其间的重试间隔按指数退避增长。
func (a *TCPAcceptor) Serve(ctx context.Context) error {
	if err := a.Start(); err != nil {
		return err
	}
	ln := a.listener()

	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})
	defer stop()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = acceptBackoffInitial
	bo.MaxInterval = acceptBackoffMax
	bo.MaxElapsedTime = 0

	var (
		lastErr     string
		consecutive int
	)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}

			if err.Error() == lastErr {
				consecutive++
			} else {
				lastErr = err.Error()
				consecutive = 1
			}
			if consecutive >= a.cfg.MaxConsecutiveAcceptErrors {
				a.Logger().Error("accept keeps failing, stopping listener",
					zap.Int("attempts", consecutive), zap.Error(err))
				_ = ln.Close()
				return merr.WrapErrListenerAcceptStalled(consecutive, err)
			}

			a.Logger().RatedWarn(1, "accept failed", zap.Int("attempts", consecutive), zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(bo.NextBackOff()):
			}
			continue
		}

		lastErr, consecutive = "", 0
		bo.Reset()
		a.accept(ctx, conn)
	}
}

func (a *TCPAcceptor) accept(ctx context.Context, raw net.Conn) {
	if a.conns.Count() >= a.cfg.MaxConnections || a.pool.Free() == 0 {
		a.Logger().RatedWarn(1, "connection rejected, capacity reached",
			zap.Stringer("remote", raw.RemoteAddr()))
		metrics.ConnectionsClosed.WithLabelValues(closeReason(merr.ErrConnectionRejected)).Inc()
		_ = raw.Close()
		return
	}

	c := connection.New(ctx, a.nextID.Inc(), raw, a.cfg.RecvBufferSize, a.cfg.WriteTimeout)
	if err := a.conns.Add(c); err != nil {
		_ = c.Close()
		return
	}
	metrics.ConnectionsAccepted.Inc()
	metrics.ConnectionsActive.Inc()

	// ctx 取消时关闭底层连接，阻塞中的读操作随之返回。
	context.AfterFunc(c.Context(), func() {
		_ = c.Close()
	})

	if err := a.handler.OnConnected(c); err != nil {
		a.Disconnect(c, err)
		return
	}

	// receiveLoop 内部 recover，任务本身不会 panic，Future 出错只可能是提交失败。
	a.loops.Add(1)
	future := a.pool.Submit(func() (struct{}, error) {
		defer a.loops.Done()
		a.receiveLoop(c)
		return struct{}{}, nil
	})
	select {
	case <-future.Done():
		if err := future.Err(); err != nil {
			a.loops.Done()
			a.Disconnect(c, merr.WrapErrConnectionRejected(err.Error()))
		}
	default:
	}
}

// receiveLoop 持续读取数据并交由 Handler 解析，直至连接关闭或出现错误。
// Handler panic 时连接按内部错误断开。
func (a *TCPAcceptor) receiveLoop(c *connection.Connection) {
	var cause error
	defer func() {
		if r := recover(); r != nil {
			cause = merr.WrapErrServiceInternal(fmt.Sprintf("receive handler panicked: %v", r))
			a.Logger().Error("receive handler panicked", log.FieldConnID(c.ID()), zap.Any("panic", r))
		}
		a.Disconnect(c, cause)
	}()

	for {
		if a.cfg.ReadTimeout > 0 {
			_ = c.SetReadDeadline(time.Now().Add(a.cfg.ReadTimeout))
		}

		n, err := c.Fill()
		if n > 0 {
			consumed, herr := a.handler.OnReceive(c, c.Buffered())
			c.Consume(consumed)
			if herr != nil {
				cause = herr
				break
			}
			if !c.Connected() {
				cause = merr.WrapErrConnectionClosed(c.ID(), "closed by owner")
				break
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				cause = err
			}
			break
		}
	}
}

// Send 向连接写入完整的字节序列，写失败时断开连接。
func (a *TCPAcceptor) Send(c *connection.Connection, data []byte) error {
	if err := c.Send(data); err != nil {
		a.Disconnect(c, err)
		return err
	}
	return nil
}

// Disconnect 断开连接。只有成功将连接从连接表移除的调用会触发 OnDisconnected。
func (a *TCPAcceptor) Disconnect(c *connection.Connection, cause error) {
	_, removed := a.conns.Remove(c.ID())
	_ = c.Close()
	if !removed {
		return
	}
	a.notifyDisconnected(c, cause)
}

// DisconnectAll 断开全部连接。清理期间连接表保持加锁，新连接无法登记。
func (a *TCPAcceptor) DisconnectAll() {
	cause := merr.WrapErrServiceStopped("acceptor")
	for _, c := range a.conns.Drain() {
		a.notifyDisconnected(c, cause)
	}
}

func (a *TCPAcceptor) notifyDisconnected(c *connection.Connection, cause error) {
	metrics.ConnectionsActive.Dec()
	metrics.ConnectionsClosed.WithLabelValues(closeReason(cause)).Inc()

	fields := []zap.Field{log.FieldConnID(c.ID()), zap.Stringer("remote", c.RemoteAddr())}
	if cause != nil {
		fields = append(fields, zap.Error(cause))
	}
	a.Logger().Debug("connection closed", fields...)

	a.handler.OnDisconnected(c, cause)
}

// Count 返回当前存活连接数。
func (a *TCPAcceptor) Count() int {
	return a.conns.Count()
}

// Get 按 ID 查找连接。
func (a *TCPAcceptor) Get(id uint64) (*connection.Connection, bool) {
	return a.conns.Get(id)
}

// Close 关闭监听器与全部连接，并等待接收循环退出。
func (a *TCPAcceptor) Close() error {
	var err error
	a.closeOnce.Do(func() {
		if ln := a.listener(); ln != nil {
			err = ln.Close()
			if errors.Is(err, net.ErrClosed) {
				err = nil
			}
		}
		a.DisconnectAll()
		a.loops.Wait()
		a.pool.Release()
	})
	return err
}

func closeReason(cause error) string {
	switch {
	case cause == nil:
		return "graceful"
	case merr.IsFramingErr(cause):
		return "framing"
	case errors.Is(cause, merr.ErrServiceStopped):
		return "shutdown"
	case errors.Is(cause, merr.ErrConnectionRejected):
		return "rejected"
	case errors.Is(cause, merr.ErrConnectionClosed):
		return "owner"
	default:
		return "error"
	}
}
