package application

import (
	"context"
	"net"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lk2023060901/danmu-garden-gateway/internal/account"
	"github.com/lk2023060901/danmu-garden-gateway/internal/auth"
	"github.com/lk2023060901/danmu-garden-gateway/internal/authserver"
	"github.com/lk2023060901/danmu-garden-gateway/internal/frontend"
	"github.com/lk2023060901/danmu-garden-gateway/internal/grouping"
	"github.com/lk2023060901/danmu-garden-gateway/internal/instance"
	"github.com/lk2023060901/danmu-garden-gateway/internal/network/acceptor"
	"github.com/lk2023060901/danmu-garden-gateway/internal/network/mux"
	"github.com/lk2023060901/danmu-garden-gateway/internal/player"
	"github.com/lk2023060901/danmu-garden-gateway/internal/service"
	"github.com/lk2023060901/danmu-garden-gateway/pkg/log"
	"github.com/lk2023060901/danmu-garden-gateway/pkg/metrics"
)

const (
	defaultShutdownTimeout = 10 * time.Second
	drainPollInterval      = 10 * time.Millisecond
)

// Gateway 组装接入层、前端、会话管理与全部后端服务。
type Gateway struct {
	log.Binder

	cfg Config

	dir       *service.Directory
	store     *account.MemoryStore
	sessions  *auth.Manager
	instances *instance.Manager
	players   *player.Manager
	groups    *grouping.Manager
	frontend  *frontend.Frontend
	acceptor  *acceptor.TCPAcceptor
	http      *authserver.Server
	loops     []*service.Loop
}

// NewGateway 按配置创建网关，尚未绑定任何端口。
func NewGateway(cfg Config) (*Gateway, error) {
	g := &Gateway{cfg: cfg}
	g.SetLogger(log.With(log.FieldComponent("gateway")))

	metrics.Register(metrics.GetRegisterer())

	store, err := account.NewMemoryStore(cfg.Accounts.BcryptCost, cfg.Accounts.Seeds...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to seed accounts")
	}
	g.store = store

	g.dir = service.NewDirectory()
	boxes := make(map[service.Type]*service.Mailbox, len(service.Types))
	for _, t := range service.Types {
		box, err := g.dir.Register(t)
		if err != nil {
			return nil, err
		}
		boxes[t] = box
	}
	g.dir.Seal()

	if g.sessions, err = auth.NewManager(cfg.Session, store); err != nil {
		return nil, err
	}
	g.instances = instance.NewManager(cfg.Instances, g.dir)
	if g.players, err = player.NewManager(cfg.Player, store, g.dir, g.instances); err != nil {
		return nil, err
	}
	g.groups = grouping.NewManager()

	muxCfg := cfg.Mux
	if muxCfg.MaxBodySize <= 0 {
		recv := cfg.Listener.RecvBufferSize
		if recv <= 0 {
			recv = acceptor.DefaultConfig().RecvBufferSize
		}
		muxCfg.MaxBodySize = recv - mux.HeaderSize
	}
	framer, err := mux.NewFramer(muxCfg)
	if err != nil {
		return nil, err
	}
	if g.frontend, err = frontend.New(cfg.Frontend, framer, g.dir, g.sessions); err != nil {
		return nil, err
	}
	if g.acceptor, err = acceptor.NewTCPAcceptor(cfg.Listener, g.frontend); err != nil {
		return nil, err
	}
	g.frontend.Bind(g.acceptor)
	g.http = authserver.New(cfg.HTTP, g.sessions, nil)

	handlers := map[service.Type]service.Handler{
		service.Frontend:        g.frontend,
		service.PlayerManager:   g.players,
		service.GroupingManager: g.groups,
		service.GameInstance:    instance.NewService(g.dir),
	}
	for _, t := range service.Types {
		g.loops = append(g.loops, service.NewLoop(boxes[t], handlers[t], cfg.Services.TickInterval))
	}
	return g, nil
}

// Start 绑定客户端监听端口与 HTTP 端口。
func (g *Gateway) Start() error {
	if err := g.acceptor.Start(); err != nil {
		return err
	}
	return g.http.Start()
}

// Run 运行网关直至 ctx 取消或任一组件失败，返回时已释放全部资源。
//
// 停止时先断开全部客户端，服务循环继续运行到玩家离开实例且数据保存完毕，再停止服务循环。
func (g *Gateway) Run(ctx context.Context) error {
	if err := g.Start(); err != nil {
		return err
	}
	g.Logger().Info("gateway started",
		zap.Stringer("listen", g.ListenAddr()), zap.Stringer("http", g.HTTPAddr()))

	loopCtx, stopLoops := context.WithCancel(context.Background())
	defer stopLoops()

	eg, ctx := errgroup.WithContext(ctx)
	for _, l := range g.loops {
		eg.Go(func() error { return l.Run(loopCtx) })
	}
	eg.Go(func() error { return g.acceptor.Serve(ctx) })
	eg.Go(func() error { return g.http.Serve(ctx) })
	eg.Go(func() error {
		<-ctx.Done()
		g.drain()
		stopLoops()
		return nil
	})

	err := eg.Wait()
	g.players.Close()
	g.Logger().Info("gateway stopped", zap.Error(err))
	return err
}

// drain 断开全部客户端并等待玩家管理服务空闲，超过 ShutdownTimeout 时放弃等待。
func (g *Gateway) drain() {
	if err := g.acceptor.Close(); err != nil {
		g.Logger().Warn("failed to close listener", zap.Error(err))
	}

	timeout := g.cfg.Services.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	for !g.players.Idle() {
		select {
		case <-deadline.C:
			g.Logger().Warn("players still online at shutdown, giving up", zap.Duration("timeout", timeout))
			return
		case <-ticker.C:
		}
	}
}

// ListenAddr 返回客户端监听地址，未启动时为 nil。
func (g *Gateway) ListenAddr() net.Addr {
	return g.acceptor.Addr()
}

// HTTPAddr 返回鉴权 HTTP 服务地址，未启动时为 nil。
func (g *Gateway) HTTPAddr() net.Addr {
	return g.http.Addr()
}

func (g *Gateway) Sessions() *auth.Manager {
	return g.sessions
}

func (g *Gateway) Instances() *instance.Manager {
	return g.instances
}

func (g *Gateway) Players() *player.Manager {
	return g.players
}

func (g *Gateway) Grouping() *grouping.Manager {
	return g.groups
}

func (g *Gateway) Store() *account.MemoryStore {
	return g.store
}
