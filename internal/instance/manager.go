package instance

import (
	"sync"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-garden-gateway/internal/service"
	"github.com/lk2023060901/danmu-garden-gateway/pkg/log"
	"github.com/lk2023060901/danmu-garden-gateway/pkg/metrics"
	"github.com/lk2023060901/danmu-garden-gateway/pkg/util/merr"
)

// Config 为实例池配置。
type Config struct {
	// TargetCount 为实例池的目标实例数。
	TargetCount int `mapstructure:"target-count"`
	// Divisor 为负载比较时的粗化除数：同一时间窗内登录的玩家倾向于落在同一实例。
	Divisor int `mapstructure:"divisor"`
}

func DefaultConfig() Config {
	return Config{
		TargetCount: 1,
		Divisor:     10,
	}
}

// Manager 维护游戏实例池并负责负载均衡选择。
type Manager struct {
	log.Binder

	cfg Config
	dir *service.Directory

	mu     sync.Mutex
	games  []*GameHandle
	nextID uint64
}

func NewManager(cfg Config, dir *service.Directory) *Manager {
	def := DefaultConfig()
	if cfg.TargetCount <= 0 {
		cfg.TargetCount = def.TargetCount
	}
	if cfg.Divisor <= 0 {
		cfg.Divisor = def.Divisor
	}
	m := &Manager{
		cfg: cfg,
		dir: dir,
	}
	m.SetLogger(log.With(log.FieldComponent("instance-manager")))
	return m
}

// GetAvailableGame 返回用于加入新玩家的实例。
//
// 先将实例池补充到目标数量；只有一个实例时直接返回；
// 否则选择粗化负载（玩家数 / Divisor）最低的实例，负载相同时取最先遇到的实例。
func (m *Manager) GetAvailableGame() (*GameHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.replenishLocked()

	switch len(m.games) {
	case 0:
		return nil, merr.WrapErrInstanceUnavailable("no game instance")
	case 1:
		return m.games[0], nil
	}

	divisor := m.cfg.Divisor
	return lo.MinBy(m.games, func(a, b *GameHandle) bool {
		return a.load(divisor) < b.load(divisor)
	}), nil
}

// replenishLocked 创建实例直至达到目标数量，并通知游戏实例服务。
func (m *Manager) replenishLocked() {
	for len(m.games) < m.cfg.TargetCount {
		m.nextID++
		game := newGameHandle(m.nextID)
		if m.dir != nil {
			err := m.dir.Send(service.GameInstance, service.GameInstanceOp{
				Op:     service.OpCreateGame,
				GameID: game.ID(),
			})
			if err != nil {
				m.Logger().Warn("failed to notify game creation", zap.Uint64("gameID", game.ID()), zap.Error(err))
				return
			}
		}
		m.games = append(m.games, game)
		metrics.InstancePlayers.WithLabelValues(game.label()).Set(0)
		m.Logger().Info("game instance created", zap.Uint64("gameID", game.ID()))
	}
}

// Game 按 ID 查找实例。
func (m *Manager) Game(id uint64) (*GameHandle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return lo.Find(m.games, func(g *GameHandle) bool {
		return g.ID() == id
	})
}

// Retire 将实例移出实例池并通知游戏实例服务关闭它，下一次选择时会补充新实例。
func (m *Manager) Retire(id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	game, idx, ok := lo.FindIndexOf(m.games, func(g *GameHandle) bool {
		return g.ID() == id
	})
	if !ok {
		return merr.WrapErrInstanceNotFound(id)
	}
	game.retired.Store(true)
	m.games = append(m.games[:idx], m.games[idx+1:]...)
	metrics.InstancePlayers.DeleteLabelValues(game.label())

	if m.dir != nil {
		return m.dir.Send(service.GameInstance, service.GameInstanceOp{
			Op:     service.OpShutdownGame,
			GameID: id,
		})
	}
	return nil
}

// Games 返回当前实例池的快照。
func (m *Manager) Games() []*GameHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*GameHandle(nil), m.games...)
}
