package frontend

import (
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lk2023060901/danmu-garden-gateway/internal/network"
	"github.com/lk2023060901/danmu-garden-gateway/internal/network/acceptor"
	"github.com/lk2023060901/danmu-garden-gateway/internal/network/connection"
	"github.com/lk2023060901/danmu-garden-gateway/internal/network/mux"
	"github.com/lk2023060901/danmu-garden-gateway/internal/service"
	"github.com/lk2023060901/danmu-garden-gateway/pkg/log"
	"github.com/lk2023060901/danmu-garden-gateway/pkg/metrics"
	"github.com/lk2023060901/danmu-garden-gateway/pkg/util/merr"
)

var _ acceptor.Handler = (*Frontend)(nil)

// OnConnected 为新连接创建 Client 并绑定为连接所有者。
func (f *Frontend) OnConnected(conn *connection.Connection) error {
	if f.transport == nil {
		return merr.WrapErrServiceNotReady(service.Frontend.String(), "transport not bound")
	}

	var limiter *rate.Limiter
	if f.cfg.MaxFramesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(f.cfg.MaxFramesPerSecond), f.cfg.FrameBurst)
	}
	client := newClient(conn, f.transport, f.framer, limiter)
	if !conn.SetOwner(client) {
		return merr.WrapErrServiceInternal("connection owner already set")
	}
	f.Logger().Debug("client connected", log.FieldConnID(conn.ID()), zap.Stringer("remote", conn.RemoteAddr()))
	return nil
}

// OnReceive 循环解析接收缓冲区中的完整帧，不完整的帧留待下次读取。
func (f *Frontend) OnReceive(conn *connection.Connection, data []byte) (int, error) {
	client, ok := conn.Owner().(*Client)
	if !ok {
		return 0, merr.WrapErrServiceInternal("connection without frontend client")
	}

	consumed := 0
	for consumed < len(data) && conn.Connected() {
		frame, n, err := f.framer.DecodeFrame(data[consumed:])
		if err == nil && n > 0 && !client.allowFrame() {
			err = merr.WrapErrFrameFlood(f.cfg.MaxFramesPerSecond)
		}
		if err != nil {
			f.frameError(conn, network.StageDecode, err)
			return consumed, err
		}
		if n == 0 {
			break
		}
		consumed += n

		if err := f.handleFrame(client, frame); err != nil {
			f.frameError(conn, network.StageDispatch, err)
			return consumed, err
		}
	}
	return consumed, nil
}

func (f *Frontend) handleFrame(client *Client, frame mux.Frame) error {
	ch := frame.ChannelID
	switch frame.Command {
	case mux.CommandConnect:
		if _, ok := f.routes[ch]; !ok {
			return merr.WrapErrFrameInvalidChannel(ch, f.framer.MaxChannels(), "channel not routed")
		}
		client.openChannel(ch)
		return client.sendFrame(mux.Frame{ChannelID: ch, Command: mux.CommandConnectAck})

	case mux.CommandDisconnect:
		client.conn.MarkDead()
		return nil

	case mux.CommandData:
		if !client.channelOpen(ch) {
			return merr.WrapErrFrameIllegalCommand(frame.Command, "data on unconnected channel")
		}
		msgs, err := mux.ParseMessages(frame.Body)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			return nil
		}
		for i := range msgs {
			msgs[i] = msgs[i].Clone()
		}

		// 前端服务中仍有积压时继续经由前端转发，保证就绪前后的消息顺序。
		if client.Ready() && client.backlog.Load() == 0 {
			return f.dir.Send(f.routes[ch], service.RouteMessageBuffer{Client: client, ChannelID: ch, Messages: msgs})
		}
		client.backlog.Inc()
		if err := f.dir.Send(service.Frontend, service.RouteMessageBuffer{Client: client, ChannelID: ch, Messages: msgs}); err != nil {
			client.backlog.Dec()
			return err
		}
		return nil

	default:
		// ConnectAck 与 ConnectWithData 只能由服务端发出。
		return merr.WrapErrFrameIllegalCommand(frame.Command, "client originated")
	}
}

// OnDisconnected 通知前端服务清理客户端。
func (f *Frontend) OnDisconnected(conn *connection.Connection, cause error) {
	client, ok := conn.Owner().(*Client)
	if !ok {
		return
	}
	if err := f.dir.Send(service.Frontend, service.ClientDisconnected{Client: client}); err != nil {
		f.Logger().Warn("failed to report disconnected client", log.FieldConnID(conn.ID()), zap.Error(err))
	}
}

func (f *Frontend) frameError(conn *connection.Connection, stage network.Stage, err error) {
	if !merr.IsFramingErr(err) {
		return
	}
	metrics.FrameErrors.WithLabelValues(frameErrorReason(err)).Inc()
	f.violations.RatedWarn(1, "protocol violation, closing connection",
		log.FieldConnID(conn.ID()),
		zap.Stringer("stage", stage),
		zap.Stringer("remote", conn.RemoteAddr()),
		zap.Error(err))
}

func frameErrorReason(err error) string {
	switch merr.Code(err) {
	case merr.Code(merr.ErrFrameInvalidChannel):
		return "invalid_channel"
	case merr.Code(merr.ErrFrameBodyTooLarge):
		return "body_too_large"
	case merr.Code(merr.ErrFrameIllegalCommand):
		return "illegal_command"
	case merr.Code(merr.ErrFrameFlood):
		return "flood"
	default:
		return "malformed"
	}
}
