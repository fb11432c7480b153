package application

import (
	"time"

	"github.com/lk2023060901/danmu-garden-gateway/internal/account"
	"github.com/lk2023060901/danmu-garden-gateway/internal/auth"
	"github.com/lk2023060901/danmu-garden-gateway/internal/authserver"
	"github.com/lk2023060901/danmu-garden-gateway/internal/frontend"
	"github.com/lk2023060901/danmu-garden-gateway/internal/instance"
	"github.com/lk2023060901/danmu-garden-gateway/internal/network/acceptor"
	"github.com/lk2023060901/danmu-garden-gateway/internal/network/mux"
	"github.com/lk2023060901/danmu-garden-gateway/internal/player"
)

// ServicesConfig 为后端服务处理循环配置。
type ServicesConfig struct {
	TickInterval time.Duration `mapstructure:"tick-interval"`
	// ShutdownTimeout 为停止时等待玩家离开实例并保存数据的上限。
	ShutdownTimeout time.Duration `mapstructure:"shutdown-timeout"`
}

// AccountsConfig 为内置账号库配置。
type AccountsConfig struct {
	BcryptCost int            `mapstructure:"bcrypt-cost"`
	Seeds      []account.Seed `mapstructure:"seeds"`
}

// Config 为网关的完整配置。
type Config struct {
	Listener  acceptor.Config          `mapstructure:"listener"`
	Mux       mux.Config               `mapstructure:"mux"`
	Session   auth.Config              `mapstructure:"session"`
	Frontend  frontend.Config          `mapstructure:"frontend"`
	Instances instance.Config          `mapstructure:"instances"`
	Player    player.PersistenceConfig `mapstructure:"player"`
	Services  ServicesConfig           `mapstructure:"services"`
	HTTP      authserver.Config        `mapstructure:"http"`
	Accounts  AccountsConfig           `mapstructure:"accounts"`
}

// DefaultConfig 返回各模块缺省配置的组合。
func DefaultConfig() Config {
	return Config{
		Listener:  acceptor.DefaultConfig(),
		Mux:       mux.Config{MaxChannels: 2, ByteOrder: "little"},
		Session:   auth.DefaultConfig(),
		Frontend:  frontend.DefaultConfig(),
		Instances: instance.DefaultConfig(),
		Player:    player.DefaultPersistenceConfig(),
		Services:  ServicesConfig{TickInterval: 10 * time.Millisecond, ShutdownTimeout: 10 * time.Second},
		HTTP:      authserver.DefaultConfig(),
	}
}
