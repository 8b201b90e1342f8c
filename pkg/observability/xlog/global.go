package xlog

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// =============================================================================
// 全局 Logger
//
// 定位：CLI 等简单场景。库代码通过选项显式注入 Logger。
// =============================================================================

var (
	globalLogger atomic.Pointer[LoggerWithLevel]
	globalOnce   sync.Once
)

// Default 返回全局默认 Logger（stderr，Info，text），首次调用时惰性创建
func Default() LoggerWithLevel {
	globalOnce.Do(func() {
		if globalLogger.Load() != nil {
			return
		}
		l, _, err := New().Build()
		if err != nil {
			l = newFallback(io.Discard)
		}
		globalLogger.Store(&l)
	})
	return *globalLogger.Load()
}

// SetDefault 替换全局默认 Logger，nil 被忽略
func SetDefault(l LoggerWithLevel) {
	if l == nil {
		return
	}
	globalOnce.Do(func() {})
	globalLogger.Store(&l)
}

// Discard 返回丢弃所有输出的 Logger，用于测试和未配置日志的组件
func Discard() LoggerWithLevel {
	return newFallback(io.Discard)
}

func newFallback(w io.Writer) LoggerWithLevel {
	lv := new(slog.LevelVar)
	return &xlogger{
		handler:    slog.NewTextHandler(w, &slog.HandlerOptions{Level: lv}),
		levelVar:   lv,
		errorCount: new(atomic.Uint64),
	}
}
