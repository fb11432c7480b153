package service

import (
	"strconv"

	"github.com/lk2023060901/danmu-garden-gateway/internal/network/mux"
)

// Message 为服务间消息的封闭集合，只能由本包中的类型实现。
//
// 消息一经投递即归接收方所有，发送方不得再修改其中的数据。
type Message interface {
	serviceMessage()
}

// AddClient 通知目标服务有新的已认证客户端。
type AddClient struct {
	Client Client
}

// RemoveClient 通知目标服务客户端已断开。
type RemoveClient struct {
	Client Client
}

// RouteMessageBuffer 携带客户端在某一通道上发送的一组消息。
type RouteMessageBuffer struct {
	Client    Client
	ChannelID uint16
	Messages  []mux.Message
}

// ClientDisconnected 由接入层投递给前端服务，表示连接已断开。
type ClientDisconnected struct {
	Client Client
}

// GameInstanceOpType 为游戏实例操作类型。
type GameInstanceOpType uint8

const (
	OpCreateGame GameInstanceOpType = iota + 1
	OpShutdownGame
	OpAddPlayer
	OpRemovePlayer
)

var opNames = map[GameInstanceOpType]string{
	OpCreateGame:   "CreateGame",
	OpShutdownGame: "ShutdownGame",
	OpAddPlayer:    "AddPlayer",
	OpRemovePlayer: "RemovePlayer",
}

func (o GameInstanceOpType) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return "GameInstanceOpType(" + strconv.Itoa(int(o)) + ")"
}

// GameInstanceOp 为发往游戏实例服务的操作。
// AccountID 与 Client 仅在玩家相关操作中有效。
type GameInstanceOp struct {
	Op        GameInstanceOpType
	GameID    uint64
	AccountID uint64
	Client    Client
}

// GameInstanceOpAck 为游戏实例对玩家操作的确认，发往玩家管理服务。
type GameInstanceOpAck struct {
	Op        GameInstanceOpType
	GameID    uint64
	AccountID uint64
	Err       error
}

// PlayerDataOp 为玩家数据持久化操作类型。
type PlayerDataOp uint8

const (
	PlayerDataLoad PlayerDataOp = iota + 1
	PlayerDataSave
)

func (o PlayerDataOp) String() string {
	switch o {
	case PlayerDataLoad:
		return "Load"
	case PlayerDataSave:
		return "Save"
	default:
		return "PlayerDataOp(" + strconv.Itoa(int(o)) + ")"
	}
}

// PlayerDataOpResult 为异步持久化操作的结果，投递回玩家管理服务。
type PlayerDataOpResult struct {
	Op        PlayerDataOp
	AccountID uint64
	Err       error
}

func (AddClient) serviceMessage()          {}
func (RemoveClient) serviceMessage()       {}
func (RouteMessageBuffer) serviceMessage() {}
func (ClientDisconnected) serviceMessage() {}
func (GameInstanceOp) serviceMessage()     {}
func (GameInstanceOpAck) serviceMessage()  {}
func (PlayerDataOpResult) serviceMessage() {}
