package xdlock

import "log/slog"

// 日志属性 key
const (
	logKeyLockKey  = "lock_key"
	logKeyHolder   = "holder"
	logKeyMode     = "mode"
	logKeyClientID = "client_id"
	logKeyChannel  = "channel"
	logKeyCount    = "count"
)

// AttrLockKey 锁 key 属性
func AttrLockKey(key string) slog.Attr { return slog.String(logKeyLockKey, key) }

// AttrHolder holder 属性
func AttrHolder(holder string) slog.Attr { return slog.String(logKeyHolder, holder) }

// AttrMode 获取模式属性
func AttrMode(m Mode) slog.Attr { return slog.String(logKeyMode, m.String()) }

// AttrClientID 注册表 clientID 属性
func AttrClientID(id string) slog.Attr { return slog.String(logKeyClientID, id) }

// AttrChannel 通知频道属性
func AttrChannel(ch string) slog.Attr { return slog.String(logKeyChannel, ch) }

// AttrCount 计数属性
func AttrCount(n int) slog.Attr { return slog.Int(logKeyCount, n) }
