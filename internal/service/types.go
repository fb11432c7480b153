package service

import (
	"net"
	"strconv"

	"github.com/lk2023060901/danmu-garden-gateway/internal/auth"
	"github.com/lk2023060901/danmu-garden-gateway/internal/network/mux"
)

// Type 标识进程内的后端服务。
type Type uint8

const (
	Frontend Type = iota + 1
	PlayerManager
	GroupingManager
	GameInstance
)

// Types 为全部服务类型，按注册顺序排列。
var Types = []Type{Frontend, PlayerManager, GroupingManager, GameInstance}

var typeNames = map[Type]string{
	Frontend:        "Frontend",
	PlayerManager:   "PlayerManager",
	GroupingManager: "GroupingManager",
	GameInstance:    "GameInstance",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "Type(" + strconv.Itoa(int(t)) + ")"
}

// ParseType 按名称解析服务类型。
func ParseType(name string) (Type, bool) {
	for t, n := range typeNames {
		if n == name {
			return t, true
		}
	}
	return 0, false
}

// Client 为服务可见的客户端能力接口，服务之间只通过它与客户端交互。
type Client interface {
	// ID 返回客户端底层连接的 ID。
	ID() uint64
	RemoteAddr() net.Addr
	// Session 返回客户端已激活的会话，未认证时为 nil。
	Session() *auth.ClientSession
	// SendMessages 在指定通道上发送一个 Data 帧。
	SendMessages(channel uint16, msgs ...mux.Message) error
	// Disconnect 断开客户端连接。
	Disconnect()
}
