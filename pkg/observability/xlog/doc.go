// Package xlog 基于 log/slog 的结构化日志库。
//
// # 核心功能
//
//   - Builder 模式配置（输出目标、级别、格式、文件轮转）
//   - 自动从 context 中的 OpenTelemetry span 注入 trace_id、span_id（默认启用）
//   - 动态级别调整，配合 xconf.Watch 做热更新
//   - 全局 Logger 与 Discard Logger
//
// # 创建 Logger
//
//	logger, cleanup, err := xlog.New().
//	    SetLevelString("debug").
//	    SetFormat("json").
//	    SetRotation("/var/log/xlockctl.log", xlog.Rotation{MaxSizeMB: 50, MaxBackups: 3}).
//	    Build()
//	if err != nil {
//	    return err
//	}
//	defer cleanup()
//
// Builder 采用 first-error-wins：第一个配置错误在 Build 时返回。
//
// # 派生 Logger 与级别控制
//
// [Logger.With] 和 [Logger.WithGroup] 返回 [Logger] 接口，底层实现同时实现
// [LoggerWithLevel]，派生 logger 共享父级的 LevelVar。
package xlog
