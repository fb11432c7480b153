package frontend

import (
	"strconv"

	"github.com/lk2023060901/danmu-garden-gateway/internal/service"
	"github.com/lk2023060901/danmu-garden-gateway/pkg/util/merr"
)

// HandshakeChannel 为认证握手所在的通道。
const HandshakeChannel uint16 = 1

// Config 为前端服务配置。
//
// Channels 为通道 ID 到目标服务名称的映射，客户端必须在每个通道上完成握手后才会被加入各目标服务。
type Config struct {
	Channels           map[string]string `mapstructure:"channels"`
	MaxAuthFailures    int               `mapstructure:"max-auth-failures"`
	MaxFramesPerSecond float64           `mapstructure:"max-frames-per-second"`
	FrameBurst         int               `mapstructure:"frame-burst"`
}

func DefaultConfig() Config {
	return Config{
		Channels: map[string]string{
			"1": service.PlayerManager.String(),
			"2": service.GroupingManager.String(),
		},
		MaxAuthFailures:    1,
		MaxFramesPerSecond: 200,
		FrameBurst:         400,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if len(c.Channels) == 0 {
		c.Channels = def.Channels
	}
	if c.MaxAuthFailures <= 0 {
		c.MaxAuthFailures = def.MaxAuthFailures
	}
	if c.MaxFramesPerSecond > 0 && c.FrameBurst <= 0 {
		c.FrameBurst = int(c.MaxFramesPerSecond) * 2
	}
	return c
}

// channelRoutes 解析通道路由表，通道 ID 必须位于 [1, maxChannels]，目标不能是前端服务自身。
func (c Config) channelRoutes(maxChannels uint16) (map[uint16]service.Type, error) {
	routes := make(map[uint16]service.Type, len(c.Channels))
	for key, name := range c.Channels {
		id, err := strconv.ParseUint(key, 10, 16)
		if err != nil || id == 0 || uint16(id) > maxChannels {
			return nil, merr.WrapErrParameterInvalidMsg("frontend channel %q out of range 1..%d", key, maxChannels)
		}
		dst, ok := service.ParseType(name)
		if !ok || dst == service.Frontend {
			return nil, merr.WrapErrParameterInvalidMsg("frontend channel %s routes to unknown service %q", key, name)
		}
		routes[uint16(id)] = dst
	}
	if _, ok := routes[HandshakeChannel]; !ok {
		return nil, merr.WrapErrParameterMissing("channel 1", "frontend channels")
	}
	return routes, nil
}
