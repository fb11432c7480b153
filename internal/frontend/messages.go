package frontend

// 握手阶段的消息 ID。
const (
	MsgClientCredentials        uint32 = 1
	MsgSessionEncryptionChanged uint32 = 2
	MsgInitialClientHandshake   uint32 = 3
	MsgDisconnected             uint32 = 4
)

// SessionEncryptionChanged 为凭据校验结果。
type SessionEncryptionChanged struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// InitialClientHandshake 由客户端在每个通道上发送，声明该通道对应的服务。
type InitialClientHandshake struct {
	Service string `json:"service"`
}

// Disconnected 通知对端即将断开。
type Disconnected struct {
	Reason string `json:"reason,omitempty"`
}
