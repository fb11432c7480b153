package auth

import "time"

// 版本容忍策略。
const (
	VersionExact = "exact"
	VersionPatch = "patch"
	VersionMinor = "minor"
	VersionAny   = "any"
)

// Config 为会话管理配置。
type Config struct {
	// ServerVersion 为服务端协议版本（semver）。
	ServerVersion string `mapstructure:"server-version"`
	// VersionTolerance 为客户端版本容忍策略：exact（默认）、patch（忽略补丁号）、
	// minor（只要求主版本一致）或 any。
	VersionTolerance string `mapstructure:"version-tolerance"`

	// PendingLifespan 为待连接会话的存活时长。
	PendingLifespan time.Duration `mapstructure:"pending-lifespan"`
	// SweepInterval 为过期会话清理的冷却间隔。
	SweepInterval time.Duration `mapstructure:"sweep-interval"`

	// 写入票据的网关地址。
	FrontendAddress string `mapstructure:"frontend-address"`
	FrontendPort    int    `mapstructure:"frontend-port"`

	ShowNews bool `mapstructure:"show-news"`

	// NodeName 参与会话 ID 生成，为空时使用主机名。
	NodeName string `mapstructure:"node-name"`
}

func DefaultConfig() Config {
	return Config{
		ServerVersion:    "1.0.0",
		VersionTolerance: VersionExact,
		PendingLifespan:  60 * time.Second,
		SweepInterval:    5 * time.Second,
		FrontendAddress:  "127.0.0.1",
		FrontendPort:     4306,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ServerVersion == "" {
		c.ServerVersion = def.ServerVersion
	}
	if c.VersionTolerance == "" {
		c.VersionTolerance = def.VersionTolerance
	}
	if c.PendingLifespan <= 0 {
		c.PendingLifespan = def.PendingLifespan
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = def.SweepInterval
	}
	return c
}
