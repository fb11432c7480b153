package application

import (
	"context"
	"os"
	"strings"

	"github.com/cockroachdb/errors"

	zlog "github.com/lk2023060901/danmu-garden-gateway/pkg/log"
	zviper "github.com/lk2023060901/danmu-garden-gateway/pkg/util/viper"
)

const (
	EnvPrefix         = "GATEWAY"
	EnvConfigFilePath = "GATEWAY_CONFIG_FILE_PATH"

	defaultConfigPath = "./config.yaml"
)

// Application 为网关进程的运行时容器，负责配置加载、日志初始化与网关启动。
type Application struct {
	cfg     *zviper.Config
	conf    Config
	loggers map[string]*zlog.MLogger
}

// New creates a new Application instance.
func New() *Application {
	return &Application{conf: DefaultConfig()}
}

// Run 加载配置并运行网关直至 ctx 取消。
//
// 配置文件路径优先级（由低到高）：
//  1. 缺省：./config.yaml（不存在时使用内置缺省值）
//  2. 环境变量：GATEWAY_CONFIG_FILE_PATH
//  3. 命令行：--config <path> 或 --config=<path>
func (a *Application) Run(ctx context.Context, args []string) error {
	if err := a.Load(args); err != nil {
		return err
	}
	gw, err := NewGateway(a.conf)
	if err != nil {
		return err
	}
	if lg, ok := a.loggers["gateway"]; ok {
		gw.SetLogger(lg)
	}
	return gw.Run(ctx)
}

// Load 解析命令行参数，加载配置并初始化日志。
func (a *Application) Load(args []string) error {
	cfg, err := a.loadConfig(args)
	if err != nil {
		return err
	}
	a.cfg = cfg

	if err := a.initLogging(); err != nil {
		return err
	}

	conf := DefaultConfig()
	if cfg.IsSet("frontend.channels") {
		// 通道表整体替换，不与缺省表合并。
		conf.Frontend.Channels = nil
	}
	if err := cfg.Unmarshal(&conf); err != nil {
		return errors.Wrap(err, "failed to decode gateway config")
	}
	a.conf = conf
	return nil
}

// Config returns the loaded configuration, if any.
func (a *Application) Config() *zviper.Config {
	return a.cfg
}

// GatewayConfig 返回解析后的网关配置。
func (a *Application) GatewayConfig() Config {
	return a.conf
}

// Logger returns a named logger created from configuration.
// If the name is unknown, it falls back to the global logger.
func (a *Application) Logger(name string) *zlog.MLogger {
	if a.loggers == nil {
		return &zlog.MLogger{Logger: zlog.L()}
	}
	if lg, ok := a.loggers[name]; ok && lg != nil {
		return lg
	}
	return &zlog.MLogger{Logger: zlog.L()}
}

// loadConfig resolves config file path and loads it via viper wrapper.
func (a *Application) loadConfig(args []string) (*zviper.Config, error) {
	configPath := defaultConfigPath
	explicit := false

	if envPath := os.Getenv(EnvConfigFilePath); envPath != "" {
		configPath = envPath
		explicit = true
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--config" {
			if i+1 >= len(args) {
				return nil, errors.New("missing value after --config")
			}
			configPath = args[i+1]
			explicit = true
			i++
			continue
		}
		if strings.HasPrefix(arg, "--config=") {
			if val := strings.TrimPrefix(arg, "--config="); val != "" {
				configPath = val
				explicit = true
			}
			continue
		}
	}

	cfg := zviper.New(EnvPrefix)
	registerDefaults(cfg)

	if _, err := os.Stat(configPath); err != nil && !explicit && os.IsNotExist(err) {
		return cfg, nil
	}
	if err := cfg.LoadFile(configPath); err != nil {
		return nil, errors.Wrapf(err, "failed to load config file %q", configPath)
	}
	return cfg, nil
}

// registerDefaults 登记常用标量配置，使 GATEWAY_* 环境变量在没有配置文件时也能覆盖。
func registerDefaults(cfg *zviper.Config) {
	def := DefaultConfig()
	cfg.SetDefault("listener.address", def.Listener.Address)
	cfg.SetDefault("listener.port", def.Listener.Port)
	cfg.SetDefault("listener.max-connections", def.Listener.MaxConnections)
	cfg.SetDefault("listener.recv-buffer-size", def.Listener.RecvBufferSize)
	cfg.SetDefault("mux.max-channels", def.Mux.MaxChannels)
	cfg.SetDefault("mux.byte-order", def.Mux.ByteOrder)
	cfg.SetDefault("session.server-version", def.Session.ServerVersion)
	cfg.SetDefault("session.version-tolerance", def.Session.VersionTolerance)
	cfg.SetDefault("frontend.max-auth-failures", def.Frontend.MaxAuthFailures)
	cfg.SetDefault("instances.target-count", def.Instances.TargetCount)
	cfg.SetDefault("instances.divisor", def.Instances.Divisor)
	cfg.SetDefault("services.tick-interval", def.Services.TickInterval)
	cfg.SetDefault("services.shutdown-timeout", def.Services.ShutdownTimeout)
	cfg.SetDefault("http.address", def.HTTP.Address)
	cfg.SetDefault("http.port", def.HTTP.Port)
}

// initLogging initializes global and module-level loggers.
func (a *Application) initLogging() error {
	if err := a.initGlobalLoggerFromEnv(); err != nil {
		return err
	}
	if err := a.initModuleLoggersFromConfig(); err != nil {
		return err
	}
	return nil
}

// initGlobalLoggerFromEnv configures the process-wide logger based on GATEWAY_LOG_* env vars.
//
// Priority:
//   - GATEWAY_LOG_ENABLE: "1"/"true" to enable outputs; others treated as disabled.
//   - GATEWAY_LOG_LEVEL: log level (default "info").
//   - GATEWAY_LOG_STDOUT: whether to log to stdout (default false).
//   - GATEWAY_LOG_FILE_DIR: log directory.
//   - GATEWAY_LOG_FILE: log file name (empty means no file).
//   - GATEWAY_LOG_FORMAT: log format ("text" or "json", default "text").
func (a *Application) initGlobalLoggerFromEnv() error {
	enabled := getenvBool("GATEWAY_LOG_ENABLE", false)

	cfg := &zlog.Config{
		Level:               getenvDefault("GATEWAY_LOG_LEVEL", "info"),
		Format:              getenvDefault("GATEWAY_LOG_FORMAT", "text"),
		Stdout:              getenvBool("GATEWAY_LOG_STDOUT", false),
		DisableErrorVerbose: true,
		File: zlog.FileLogConfig{
			RootPath: getenvDefault("GATEWAY_LOG_FILE_DIR", ""),
			Filename: getenvDefault("GATEWAY_LOG_FILE", ""),
		},
	}

	// When not enabled, direct all outputs to a discarded sink.
	if !enabled {
		cfg.Stdout = false
		cfg.File.Filename = ""
	}

	logger, props, err := zlog.InitLogger(cfg)
	if err != nil {
		return errors.Wrap(err, "init global logger from env")
	}
	zlog.ReplaceGlobals(logger, props)
	return nil
}

// initModuleLoggersFromConfig creates named loggers from YAML config under "logging" key.
//
// Example:
//
//	logging:
//	  frontend:
//	    level: debug
//	    stdout: true
//	    file:
//	      rootpath: ./logs
//	      filename: frontend.log
func (a *Application) initModuleLoggersFromConfig() error {
	if a.cfg == nil {
		return nil
	}

	raw := make(map[string]zlog.Config)
	if err := a.cfg.UnmarshalKey("logging", &raw); err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}

	a.loggers = make(map[string]*zlog.MLogger, len(raw))
	for name, lc := range raw {
		cfgCopy := lc
		logger, _, err := zlog.InitLogger(&cfgCopy)
		if err != nil {
			return errors.Wrapf(err, "init module logger %q", name)
		}
		a.loggers[name] = &zlog.MLogger{Logger: logger}
	}

	return nil
}

func getenvDefault(key, def string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	return val
}

func getenvBool(key string, def bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
