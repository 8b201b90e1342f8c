package main

import (
	"time"

	"github.com/urfave/cli/v3"

	"github.com/omeyang/xlockreg/pkg/config/xconf"
	"github.com/omeyang/xlockreg/pkg/distributed/xdlock"
	"github.com/omeyang/xlockreg/pkg/observability/xlog"
)

// envPrefix 环境变量前缀
const envPrefix = "XLOCKCTL"

type appConfig struct {
	Redis redisConfig   `koanf:"redis"`
	Lock  xdlock.Config `koanf:"lock"`
	Log   logConfig     `koanf:"log"`
}

type redisConfig struct {
	Addrs       []string      `koanf:"addrs"`
	Password    string        `koanf:"password"`
	DB          int           `koanf:"db"`
	DialTimeout time.Duration `koanf:"dial_timeout"`
	Breaker     bool          `koanf:"breaker"`
}

type logConfig struct {
	Level    string        `koanf:"level"`
	Format   string        `koanf:"format"`
	File     string        `koanf:"file"`
	Rotation xlog.Rotation `koanf:"rotation"`
}

func defaultSettings() map[string]any {
	return map[string]any{
		"redis.addrs":        []string{"127.0.0.1:6379"},
		"redis.dial_timeout": "5s",
		"lock.key_prefix":    xdlock.DefaultKeyPrefix,
		"lock.ttl":           xdlock.DefaultTTL.String(),
		"lock.mode":          "spin",
		"log.level":          "info",
		"log.format":         "text",
	}
}

// loadConfig 按 默认值 → 配置文件 → 环境变量 → 命令行 的顺序合成配置。
func loadConfig(cmd *cli.Command) (*xconf.Config, appConfig, error) {
	opts := []xconf.Option{
		xconf.WithDefaults(defaultSettings()),
		xconf.WithEnvPrefix(envPrefix),
	}

	var (
		conf *xconf.Config
		err  error
	)
	if path := cmd.String("config"); path != "" {
		conf, err = xconf.Load(path, opts...)
	} else {
		conf, err = xconf.LoadBytes(nil, xconf.FormatYAML, opts...)
	}
	if err != nil {
		return nil, appConfig{}, err
	}

	var cfg appConfig
	if err := conf.Unmarshal("", &cfg); err != nil {
		return nil, appConfig{}, err
	}
	applyFlags(cmd, &cfg)
	return conf, cfg, nil
}

// applyFlags 只覆盖显式设置的命令行参数
func applyFlags(cmd *cli.Command, cfg *appConfig) {
	if cmd.IsSet("redis") {
		cfg.Redis.Addrs = cmd.StringSlice("redis")
	}
	if cmd.IsSet("breaker") {
		cfg.Redis.Breaker = cmd.Bool("breaker")
	}
	if cmd.IsSet("prefix") {
		cfg.Lock.KeyPrefix = cmd.String("prefix")
	}
	if cmd.IsSet("ttl") {
		cfg.Lock.TTL = cmd.Duration("ttl")
	}
	if cmd.IsSet("mode") {
		cfg.Lock.Mode = cmd.String("mode")
	}
	if cmd.IsSet("client-id") {
		cfg.Lock.ClientID = cmd.String("client-id")
	}
	if cmd.IsSet("log-level") {
		cfg.Log.Level = cmd.String("log-level")
	}
	if cmd.IsSet("log-format") {
		cfg.Log.Format = cmd.String("log-format")
	}
	if cmd.IsSet("log-file") {
		cfg.Log.File = cmd.String("log-file")
	}
}
