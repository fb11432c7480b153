package network

// Stage 表示网络收发链路中的处理阶段。
//
// 主要用于在日志与回调中标记错误发生的位置，便于监控与排查。
type Stage string

const (
	StageAccept   Stage = "accept"   // 监听器接受新连接
	StageRecv     Stage = "recv"     // 从底层连接读取原始字节
	StageDecode   Stage = "decode"   // 原始字节 -> mux 帧
	StageDispatch Stage = "dispatch" // mux 帧 -> 服务邮箱
	StageSend     Stage = "send"     // 写入底层连接
)

func (s Stage) String() string {
	return string(s)
}
