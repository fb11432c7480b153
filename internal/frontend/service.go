package frontend

import (
	"time"

	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-garden-gateway/internal/auth"
	"github.com/lk2023060901/danmu-garden-gateway/internal/network/mux"
	"github.com/lk2023060901/danmu-garden-gateway/internal/service"
	"github.com/lk2023060901/danmu-garden-gateway/pkg/log"
	"github.com/lk2023060901/danmu-garden-gateway/pkg/util/merr"
)

// HandleMessage 实现 service.Handler。
func (f *Frontend) HandleMessage(msg service.Message) error {
	switch msg := msg.(type) {
	case service.RouteMessageBuffer:
		client, ok := msg.Client.(*Client)
		if !ok {
			return merr.WrapErrServiceInternal("route buffer from foreign client")
		}
		defer client.backlog.Dec()
		f.onHandshakeMessages(client, msg.ChannelID, msg.Messages)
		return nil
	case service.ClientDisconnected:
		client, ok := msg.Client.(*Client)
		if !ok {
			return merr.WrapErrServiceInternal("disconnect from foreign client")
		}
		f.onClientDisconnected(client)
		return nil
	default:
		return merr.WrapErrMailboxUnknownMessage(service.Frontend, msg)
	}
}

// Tick 实现 service.Ticker，驱动待认证会话的过期清理。
func (f *Frontend) Tick(now time.Time) {
	f.sessions.Update(now)
}

func (f *Frontend) onHandshakeMessages(client *Client, channel uint16, msgs []mux.Message) {
	logger := f.Logger().With(log.FieldConnID(client.ID()), log.FieldChannel(channel))
	for i, m := range msgs {
		if !client.conn.Connected() {
			return
		}
		// 握手在本批次中途完成时，余下的消息属于目标服务。
		if client.Ready() {
			f.forward(client, channel, msgs[i:])
			return
		}

		err := f.router.Handle(client, channel, m)
		switch {
		case err == nil:
		case merr.Code(err) == merr.Code(merr.ErrMailboxUnknownMessage):
			logger.RatedWarn(1, "unknown handshake message dropped", zap.Uint32("id", m.ID))
		default:
			logger.Warn("handshake failed, closing connection", zap.Uint32("id", m.ID), zap.Error(err))
			client.Disconnect()
			return
		}

		if client.Session() == nil && client.authFailures >= f.cfg.MaxAuthFailures {
			logger.Warn("too many credential failures, closing connection",
				zap.Int("failures", client.authFailures), log.FieldSecurity())
			f.kick(client, "authentication failed")
			return
		}
	}
}

func (f *Frontend) forward(client *Client, channel uint16, msgs []mux.Message) {
	dst, ok := f.routes[channel]
	if !ok {
		return
	}
	if err := f.dir.Send(dst, service.RouteMessageBuffer{Client: client, ChannelID: channel, Messages: msgs}); err != nil {
		f.Logger().Warn("failed to forward messages", log.FieldConnID(client.ID()), zap.Error(err))
	}
}

// kick 通知客户端断开原因后断开连接。
func (f *Frontend) kick(client *Client, reason string) {
	payload, err := jsonSerializer.Marshal(&Disconnected{Reason: reason})
	if err == nil {
		_ = client.SendMessages(HandshakeChannel, mux.Message{ID: MsgDisconnected, Payload: payload})
	}
	client.Disconnect()
}

func (f *Frontend) onClientCredentials(client *Client, channel uint16, req any) (any, error) {
	if channel != HandshakeChannel {
		return nil, merr.WrapErrParameterInvalid(HandshakeChannel, channel, "credentials on wrong channel")
	}
	if client.Session() != nil {
		return nil, merr.WrapErrSessionAlreadyBound(client.Session().ID, "duplicate credentials")
	}

	creds := req.(*auth.Credentials)
	sess, err := f.sessions.VerifyClientCredentials(client, *creds)
	if err != nil {
		client.authFailures++
		f.Logger().Info("client credentials rejected",
			log.FieldConnID(client.ID()), log.FieldSessionID(creds.SessionID), zap.Error(err))
		return &SessionEncryptionChanged{Success: false, Reason: "invalid credentials"}, nil
	}

	f.Logger().Info("client authenticated",
		log.FieldConnID(client.ID()), log.FieldSessionID(sess.ID), log.FieldAccountID(sess.Account.ID))
	return &SessionEncryptionChanged{Success: true}, nil
}

func (f *Frontend) onInitialClientHandshake(client *Client, channel uint16, req any) (any, error) {
	if client.Session() == nil {
		return nil, merr.WrapErrSessionNotFound(0, "handshake before authentication")
	}

	hs := req.(*InitialClientHandshake)
	want := f.routes[channel]
	got, ok := service.ParseType(hs.Service)
	if !ok || got != want {
		return nil, merr.WrapErrParameterInvalid(want.String(), hs.Service, "initial handshake")
	}

	client.handshaked[channel] = struct{}{}
	if len(client.handshaked) < len(f.routes) || client.Ready() {
		return nil, nil
	}

	// 先投递 AddClient 再标记就绪，保证目标服务先于任何路由消息看到该客户端。
	for _, dst := range f.destinations {
		if err := f.dir.Send(dst, service.AddClient{Client: client}); err != nil {
			return nil, err
		}
	}
	client.ready.Store(true)
	f.Logger().Info("client handshake completed", log.FieldConnID(client.ID()))
	return nil, nil
}

func (f *Frontend) onClientDisconnectRequest(client *Client, channel uint16, req any) (any, error) {
	client.Disconnect()
	return nil, nil
}

func (f *Frontend) onClientDisconnected(client *Client) {
	logger := f.Logger().With(log.FieldConnID(client.ID()))
	if sess := client.Session(); sess != nil {
		if err := f.sessions.RemoveActiveSession(sess.ID); err != nil {
			logger.Warn("failed to remove active session", zap.Error(err))
		}
	}
	if !client.Ready() {
		logger.Debug("client left before handshake completed")
		return
	}
	for _, dst := range f.destinations {
		if err := f.dir.Send(dst, service.RemoveClient{Client: client}); err != nil {
			logger.Warn("failed to remove client from service", zap.Stringer("service", dst), zap.Error(err))
		}
	}
}
