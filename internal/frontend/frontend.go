package frontend

import (
	"sort"

	"github.com/samber/lo"

	"github.com/lk2023060901/danmu-garden-gateway/internal/auth"
	"github.com/lk2023060901/danmu-garden-gateway/internal/network/mux"
	"github.com/lk2023060901/danmu-garden-gateway/internal/network/router"
	"github.com/lk2023060901/danmu-garden-gateway/internal/network/serializer"
	"github.com/lk2023060901/danmu-garden-gateway/internal/service"
	"github.com/lk2023060901/danmu-garden-gateway/pkg/log"
	"github.com/lk2023060901/danmu-garden-gateway/pkg/util/merr"
)

var jsonSerializer serializer.Serializer = serializer.JSONSerializer{}

// Frontend 为网关前端：既是连接层的 Handler，负责 mux 帧的解析与分发；
// 又是前端服务的邮箱处理逻辑，负责认证握手并将客户端加入各目标服务。
type Frontend struct {
	log.Binder

	cfg       Config
	framer    *mux.Framer
	dir       *service.Directory
	sessions  *auth.Manager
	router    *router.Router[*Client]
	transport Transport

	routes       map[uint16]service.Type
	destinations []service.Type

	// violations 为协议违规日志，使用独立的限流分组。
	violations *log.MLogger
}

const (
	protocolLogCredit = 10
	protocolLogBurst  = 100
)

func New(cfg Config, framer *mux.Framer, dir *service.Directory, sessions *auth.Manager) (*Frontend, error) {
	if framer == nil {
		return nil, merr.WrapErrParameterMissing("framer")
	}
	if dir == nil {
		return nil, merr.WrapErrParameterMissing("service directory")
	}
	if sessions == nil {
		return nil, merr.WrapErrParameterMissing("session manager")
	}

	cfg = cfg.withDefaults()
	routes, err := cfg.channelRoutes(framer.MaxChannels())
	if err != nil {
		return nil, err
	}
	destinations := lo.Uniq(lo.Values(routes))
	sort.Slice(destinations, func(i, j int) bool { return destinations[i] < destinations[j] })

	f := &Frontend{
		cfg:          cfg,
		framer:       framer,
		dir:          dir,
		sessions:     sessions,
		router:       router.New[*Client](jsonSerializer),
		routes:       routes,
		destinations: destinations,
	}
	f.SetLogger(log.With(log.FieldService(service.Frontend.String())))
	f.violations = log.With(log.FieldService(service.Frontend.String())).
		WithRateGroup("frontend.protocol-violation", protocolLogCredit, protocolLogBurst)

	if err := f.registerRoutes(); err != nil {
		return nil, err
	}
	return f, nil
}

// Bind 设置连接层。必须在接受连接之前调用。
func (f *Frontend) Bind(t Transport) {
	f.transport = t
}

func (f *Frontend) registerRoutes() error {
	routes := map[uint32]router.Route[*Client]{
		MsgClientCredentials: {
			NewRequest: func() any { return &auth.Credentials{} },
			Handler:    f.onClientCredentials,
			RespID:     MsgSessionEncryptionChanged,
		},
		MsgInitialClientHandshake: {
			NewRequest: func() any { return &InitialClientHandshake{} },
			Handler:    f.onInitialClientHandshake,
		},
		MsgDisconnected: {
			NewRequest: func() any { return &Disconnected{} },
			Handler:    f.onClientDisconnectRequest,
		},
	}
	for id, route := range routes {
		if err := f.router.Register(id, route); err != nil {
			return err
		}
	}
	return nil
}

// Destinations 返回客户端握手完成后需要加入的服务。
func (f *Frontend) Destinations() []service.Type {
	return f.destinations
}
