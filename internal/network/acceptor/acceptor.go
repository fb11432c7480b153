package acceptor

import (
	"time"

	"github.com/lk2023060901/danmu-garden-gateway/internal/network/connection"
)

// Config 描述 TCP 接入层的监听与连接参数。
//
// 说明：
//   - MaxConnections 同时限制存活连接数与接收循环协程池容量，超出时新连接被直接关闭；
//   - RecvBufferSize 为每个连接接收缓冲区容量，也是单帧大小的上限；
//   - ReadTimeout/WriteTimeout 为单次读写超时（为 0 表示不设置 deadline）；
//   - MaxConsecutiveAcceptErrors 为同一 accept 错误连续出现的上限，达到后监听器停止。
type Config struct {
	Address        string `mapstructure:"address"`
	Port           int    `mapstructure:"port"`
	MaxConnections int    `mapstructure:"max-connections"`
	RecvBufferSize int    `mapstructure:"recv-buffer-size"`

	ReadTimeout  time.Duration `mapstructure:"read-timeout"`
	WriteTimeout time.Duration `mapstructure:"write-timeout"`

	MaxConsecutiveAcceptErrors int `mapstructure:"max-consecutive-accept-errors"`
}

// DefaultConfig 返回缺省配置。
func DefaultConfig() Config {
	return Config{
		Address:                    "0.0.0.0",
		Port:                       4306,
		MaxConnections:             10000,
		RecvBufferSize:             8 * 1024,
		MaxConsecutiveAcceptErrors: 100,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxConnections <= 0 {
		c.MaxConnections = def.MaxConnections
	}
	if c.RecvBufferSize <= 0 {
		c.RecvBufferSize = def.RecvBufferSize
	}
	if c.MaxConsecutiveAcceptErrors <= 0 {
		c.MaxConsecutiveAcceptErrors = def.MaxConsecutiveAcceptErrors
	}
	return c
}

// Handler 由连接的上层所有者实现，用于在连接生命周期的各个阶段插入业务逻辑。
//
// 说明：
//   - 同一连接上的 OnReceive 由该连接的接收循环串行调用；
//   - OnDisconnected 对每个连接恰好调用一次，无论断开由哪一方触发；
//   - 回调中不应执行耗时操作，以免阻塞网络收发。
type Handler interface {
	// OnConnected 在连接注册到连接表后、接收循环启动前被调用，
	// 通常在此绑定连接所有者。返回错误时连接被立即断开。
	OnConnected(conn *connection.Connection) error

	// OnReceive 在接收缓冲区有新数据时被调用。
	//
	// data 直接引用接收缓冲区，返回值 consumed 为已完整处理的字节数，
	// 剩余的不完整帧保留到下一次读取。返回错误时连接被强制断开。
	OnReceive(conn *connection.Connection, data []byte) (consumed int, err error)

	// OnDisconnected 在连接从连接表移除后被调用，cause 为 nil 表示对端正常关闭。
	OnDisconnected(conn *connection.Connection, cause error)
}
