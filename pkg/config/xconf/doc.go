// Package xconf 分层加载配置：默认值 < 配置文件（YAML/JSON）< 环境变量。
//
// 基于 koanf，Unmarshal 使用 koanf 标签：
//
//	cfg, err := xconf.Load("/etc/xlockctl/config.yaml",
//	    xconf.WithDefaults(map[string]any{"lock.ttl": "60s"}),
//	    xconf.WithEnvPrefix("XLOCKCTL"),
//	)
//	var lock xdlock.Config
//	err = cfg.Unmarshal("lock", &lock)
//
// Watch 基于 fsnotify 监视文件变更并自动重载，阻塞直到 ctx 结束，
// 适合作为 xrun.Group 中的一个服务运行。
package xconf
