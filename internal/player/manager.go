package player

import (
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-garden-gateway/internal/auth"
	"github.com/lk2023060901/danmu-garden-gateway/internal/instance"
	"github.com/lk2023060901/danmu-garden-gateway/internal/service"
	"github.com/lk2023060901/danmu-garden-gateway/pkg/log"
	"github.com/lk2023060901/danmu-garden-gateway/pkg/metrics"
	"github.com/lk2023060901/danmu-garden-gateway/pkg/util/merr"
)

// Manager 为玩家管理服务的邮箱处理逻辑，每个账号至多持有一个 Handle。
//
// 处理的消息：
//   - AddClient：创建句柄并异步加载玩家数据，加载完成后选择实例加入；
//     账号已有句柄时踢下旧连接，新连接等待旧句柄销毁且数据保存完成后再接入；
//   - RemoveClient：离开实例后销毁句柄并异步保存玩家数据；
//   - GameInstanceOpAck / PlayerDataOpResult：推进句柄状态机。
//
// 全部状态只在处理循环中访问。
type Manager struct {
	log.Binder

	dir       *service.Directory
	instances *instance.Manager
	persist   *persister

	handles map[uint64]*Handle
	// parked 保存等待旧句柄销毁或数据保存完成的客户端。
	parked map[uint64]service.Client
	// saving 记录保存尚未返回结果的账号，期间不允许加载同一账号。
	saving map[uint64]struct{}
	// live 为句柄数与保存中账号数之和，供处理循环之外查询。
	live atomic.Int64
	// accounts 记录句柄对应的账号信息，用于持久化。
	accounts map[uint64]auth.Account
}

func NewManager(cfg PersistenceConfig, store Store, dir *service.Directory, instances *instance.Manager) (*Manager, error) {
	if store == nil {
		return nil, merr.WrapErrParameterMissing("player store")
	}
	p, err := newPersister(cfg, store, dir)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		dir:       dir,
		instances: instances,
		persist:   p,
		handles:   make(map[uint64]*Handle),
		parked:    make(map[uint64]service.Client),
		saving:    make(map[uint64]struct{}),
		accounts:  make(map[uint64]auth.Account),
	}
	m.SetLogger(log.With(log.FieldService(service.PlayerManager.String())))
	return m, nil
}

// HandleMessage 实现 service.Handler。
func (m *Manager) HandleMessage(msg service.Message) error {
	defer m.live.Store(int64(len(m.handles) + len(m.saving)))

	switch msg := msg.(type) {
	case service.AddClient:
		return m.onAddClient(msg.Client)
	case service.RemoveClient:
		return m.onRemoveClient(msg.Client)
	case service.RouteMessageBuffer:
		return m.onRouteMessages(msg)
	case service.GameInstanceOpAck:
		return m.onGameInstanceAck(msg)
	case service.PlayerDataOpResult:
		return m.onPlayerDataResult(msg)
	default:
		return merr.WrapErrMailboxUnknownMessage(service.PlayerManager, msg)
	}
}

// Tick 实现 service.Ticker，刷新句柄状态指标。
func (m *Manager) Tick(now time.Time) {
	counts := make(map[State]int, len(stateNames))
	for _, h := range m.handles {
		counts[h.State()]++
	}
	for s := range stateNames {
		metrics.PlayerHandles.WithLabelValues(State(s).String()).Set(float64(counts[State(s)]))
	}
}

func (m *Manager) onAddClient(client service.Client) error {
	sess := client.Session()
	if sess == nil {
		client.Disconnect()
		return merr.WrapErrSessionNotFound(0, "client added without session")
	}
	account := sess.Account
	logger := m.Logger().With(log.FieldAccountID(account.ID), log.FieldConnID(client.ID()))

	if existing, ok := m.handles[account.ID]; ok {
		if existing.Client().ID() == client.ID() {
			return nil
		}
		// 重复登录：踢下旧连接，新连接等待旧句柄销毁。
		if prev, ok := m.parked[account.ID]; ok && prev.ID() != client.ID() {
			prev.Disconnect()
		}
		m.parked[account.ID] = client
		existing.Client().Disconnect()
		logger.Info("duplicate login, previous client kicked", zap.Uint64("previousConnID", existing.Client().ID()))
		return nil
	}

	if _, ok := m.saving[account.ID]; ok {
		if prev, ok := m.parked[account.ID]; ok && prev.ID() != client.ID() {
			prev.Disconnect()
		}
		m.parked[account.ID] = client
		logger.Info("player data still saving, client parked")
		return nil
	}

	h := newHandle(account.ID, client, m.dir)
	m.handles[account.ID] = h
	m.accounts[account.ID] = account
	m.persist.Load(account)
	logger.Info("player handle created")
	return nil
}

func (m *Manager) onRemoveClient(client service.Client) error {
	sess := client.Session()
	if sess == nil {
		return nil
	}
	accountID := sess.Account.ID

	if parked, ok := m.parked[accountID]; ok && parked.ID() == client.ID() {
		delete(m.parked, accountID)
		return nil
	}

	h, ok := m.handles[accountID]
	if !ok || h.Client().ID() != client.ID() {
		return merr.WrapErrPlayerNotFound(accountID, "remove client")
	}
	h.pendingRemoval = true
	return m.advanceRemoval(h)
}

// advanceRemoval 推进待移除句柄：在实例中时先离开实例，处于 Created/Idle 时销毁。
// 处于待确认状态时等待实例确认后再次推进。
func (m *Manager) advanceRemoval(h *Handle) error {
	switch h.State() {
	case StateInGame:
		return h.BeginRemoveFromGame(h.Game())
	case StateCreated, StateIdle:
		m.destroy(h)
	}
	return nil
}

func (m *Manager) destroy(h *Handle) {
	accountID := h.AccountID()
	delete(m.handles, accountID)
	account := m.accounts[accountID]
	delete(m.accounts, accountID)

	m.Logger().Info("player handle destroyed", log.FieldAccountID(accountID))

	if h.DataLoaded() {
		// 等待者在保存结果返回后再接入，避免加载到旧数据。
		m.saving[accountID] = struct{}{}
		m.persist.Save(account)
		return
	}
	m.resumeParked(accountID)
}

func (m *Manager) resumeParked(accountID uint64) {
	parked, ok := m.parked[accountID]
	if !ok {
		return
	}
	delete(m.parked, accountID)
	if err := m.onAddClient(parked); err != nil {
		m.Logger().Warn("failed to resume parked client", log.FieldAccountID(accountID), zap.Error(err))
	}
}

func (m *Manager) onRouteMessages(msg service.RouteMessageBuffer) error {
	sess := msg.Client.Session()
	if sess == nil {
		return merr.WrapErrSessionNotFound(0, "route messages")
	}
	h, ok := m.handles[sess.Account.ID]
	if !ok {
		return merr.WrapErrPlayerNotFound(sess.Account.ID, "route messages")
	}
	m.Logger().Debug("player messages received",
		log.FieldAccountID(h.AccountID()),
		log.FieldChannel(msg.ChannelID),
		zap.Int("count", len(msg.Messages)),
		zap.Stringer("state", h.State()))
	return nil
}

func (m *Manager) onGameInstanceAck(ack service.GameInstanceOpAck) error {
	h, ok := m.handles[ack.AccountID]
	if !ok {
		return merr.WrapErrPlayerNotFound(ack.AccountID, "instance ack")
	}
	if game := h.Game(); game == nil || game.ID() != ack.GameID {
		var actual uint64
		if game != nil {
			actual = game.ID()
		}
		return merr.WrapErrPlayerGameMismatch(ack.GameID, actual)
	}

	var err error
	if ack.Err != nil && ack.Op == service.OpAddPlayer {
		m.Logger().Warn("game instance rejected player", log.FieldAccountID(ack.AccountID), zap.Error(ack.Err))
		err = h.AbortPendingAdd()
	} else {
		err = h.FinalizePendingState()
	}
	if err != nil {
		return err
	}

	if h.pendingRemoval {
		return m.advanceRemoval(h)
	}
	if h.State() == StateIdle && ack.Err != nil {
		h.Client().Disconnect()
	}
	return nil
}

func (m *Manager) onPlayerDataResult(res service.PlayerDataOpResult) error {
	if res.Op == service.PlayerDataSave {
		delete(m.saving, res.AccountID)
		m.resumeParked(res.AccountID)
		return res.Err
	}

	h, ok := m.handles[res.AccountID]
	if !ok || h.State() != StateCreated {
		// 句柄已销毁或已加载过。
		return nil
	}
	if res.Err != nil {
		h.Client().Disconnect()
		return res.Err
	}

	h.OnDataLoaded()
	if h.pendingRemoval {
		return m.advanceRemoval(h)
	}

	game, err := m.instances.GetAvailableGame()
	if err != nil {
		h.Client().Disconnect()
		return err
	}
	return h.BeginAddToGame(game)
}

// Handle 返回账号的玩家句柄。只能在服务处理循环中调用。
func (m *Manager) Handle(accountID uint64) (*Handle, bool) {
	h, ok := m.handles[accountID]
	return h, ok
}

// Count 返回玩家句柄数。只能在服务处理循环中调用。
func (m *Manager) Count() int {
	return len(m.handles)
}

// Idle 报告是否已没有玩家句柄且全部保存均已返回结果，可在任意协程调用。
func (m *Manager) Idle() bool {
	return m.live.Load() == 0
}

// Close 等待并释放持久化协程池。
func (m *Manager) Close() {
	m.persist.Release()
}
