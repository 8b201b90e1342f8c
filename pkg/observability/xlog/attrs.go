package xlog

import (
	"log/slog"
	"time"
)

// =============================================================================
// 常用属性 Key 与构造函数
// =============================================================================

const (
	// KeyError 错误字段的标准 key
	KeyError = "error"
	// KeyDuration 耗时字段的标准 key
	KeyDuration = "duration"
	// KeyComponent 组件名称字段的标准 key
	KeyComponent = "component"
)

// Err 创建错误属性，err 为 nil 时返回空属性（会被 slog 忽略）
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Duration 创建耗时属性
func Duration(d time.Duration) slog.Attr {
	return slog.Duration(KeyDuration, d)
}

// Component 创建组件属性
func Component(name string) slog.Attr {
	return slog.String(KeyComponent, name)
}
