package player

import (
	"strconv"

	"github.com/lk2023060901/danmu-garden-gateway/internal/instance"
	"github.com/lk2023060901/danmu-garden-gateway/internal/service"
	"github.com/lk2023060901/danmu-garden-gateway/pkg/util/merr"
)

// State 为玩家句柄的状态。
type State uint8

const (
	StateCreated State = iota
	StateIdle
	StatePendingAddToGame
	StateInGame
	StatePendingRemoveFromGame
)

var stateNames = [...]string{
	StateCreated:               "Created",
	StateIdle:                  "Idle",
	StatePendingAddToGame:      "PendingAddToGame",
	StateInGame:                "InGame",
	StatePendingRemoveFromGame: "PendingRemoveFromGame",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

// Handle 跟踪一个已连接玩家所在的游戏实例，与具体连接对象无关。
//
// 状态机：
//
//	Created -(数据加载完成)-> Idle -(BeginAddToGame)-> PendingAddToGame -(确认)-> InGame
//	InGame -(BeginRemoveFromGame)-> PendingRemoveFromGame -(确认)-> Idle
//
// 句柄只由玩家管理服务的处理循环访问，不做并发保护。
type Handle struct {
	accountID uint64
	client    service.Client
	dir       *service.Directory

	state State
	game  *instance.GameHandle

	dataLoaded     bool
	pendingRemoval bool
}

func newHandle(accountID uint64, client service.Client, dir *service.Directory) *Handle {
	return &Handle{
		accountID: accountID,
		client:    client,
		dir:       dir,
		state:     StateCreated,
	}
}

func (h *Handle) AccountID() uint64 {
	return h.accountID
}

func (h *Handle) Client() service.Client {
	return h.client
}

func (h *Handle) State() State {
	return h.state
}

// Game 返回当前关联的游戏实例，Idle 时为 nil。
func (h *Handle) Game() *instance.GameHandle {
	return h.game
}

// DataLoaded 报告玩家数据是否至少加载过一次。
func (h *Handle) DataLoaded() bool {
	return h.dataLoaded
}

// OnDataLoaded 在玩家数据加载完成后调用，Created 转为 Idle。
func (h *Handle) OnDataLoaded() {
	h.dataLoaded = true
	if h.state == StateCreated {
		h.state = StateIdle
	}
}

// BeginAddToGame 开始加入游戏实例，仅允许在 Idle 状态调用。
//
// 立即预约实例名额并异步通知游戏实例服务，不等待实例确认。
func (h *Handle) BeginAddToGame(game *instance.GameHandle) error {
	if h.state != StateIdle {
		return merr.WrapErrPlayerStateIllegal("BeginAddToGame", h.state)
	}
	if game == nil {
		return merr.WrapErrParameterMissing("game")
	}

	err := h.dir.Send(service.GameInstance, service.GameInstanceOp{
		Op:        service.OpAddPlayer,
		GameID:    game.ID(),
		AccountID: h.accountID,
		Client:    h.client,
	})
	if err != nil {
		return err
	}

	game.AddPlayer()
	h.game = game
	h.state = StatePendingAddToGame
	return nil
}

// BeginRemoveFromGame 开始离开游戏实例，仅允许在 InGame 状态且 game 为当前实例时调用。
func (h *Handle) BeginRemoveFromGame(game *instance.GameHandle) error {
	if h.state != StateInGame {
		return merr.WrapErrPlayerStateIllegal("BeginRemoveFromGame", h.state)
	}
	if game == nil || game != h.game {
		var actual uint64
		if game != nil {
			actual = game.ID()
		}
		return merr.WrapErrPlayerGameMismatch(h.game.ID(), actual)
	}

	err := h.dir.Send(service.GameInstance, service.GameInstanceOp{
		Op:        service.OpRemovePlayer,
		GameID:    game.ID(),
		AccountID: h.accountID,
		Client:    h.client,
	})
	if err != nil {
		return err
	}
	h.state = StatePendingRemoveFromGame
	return nil
}

// FinalizePendingState 在游戏实例确认后调用：
// PendingAddToGame 转为 InGame，PendingRemoveFromGame 转为 Idle 并释放实例名额。
func (h *Handle) FinalizePendingState() error {
	switch h.state {
	case StatePendingAddToGame:
		h.state = StateInGame
	case StatePendingRemoveFromGame:
		h.game.RemovePlayer()
		h.game = nil
		h.state = StateIdle
	default:
		return merr.WrapErrPlayerStateIllegal("FinalizePendingState", h.state)
	}
	return nil
}

// AbortPendingAdd 在实例拒绝加入时回到 Idle 并释放预约的名额。
func (h *Handle) AbortPendingAdd() error {
	if h.state != StatePendingAddToGame {
		return merr.WrapErrPlayerStateIllegal("AbortPendingAdd", h.state)
	}
	h.game.RemovePlayer()
	h.game = nil
	h.state = StateIdle
	return nil
}
