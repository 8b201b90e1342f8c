package xdlock

import (
	"context"
	"time"
)

// Store 是锁注册表依赖的原子存储。
//
// 所有方法都必须在服务端原子执行。owner 为注册表的 clientID。
type Store interface {
	// Obtain key 不存在时写入 owner 并设置 ttl；key 的值等于 owner 时刷新 ttl。
	// 两种情况返回 true，被其他 owner 占用时返回 false。
	Obtain(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)

	// Renew 仅当 key 的值等于 owner 时刷新 ttl。
	Renew(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)

	// Release 仅当 key 的值等于 owner 时删除 key。
	// opts.NotifyChannel 非空时，在同一原子操作内向该频道发布 key。
	// opts.Unlink 为 true 时使用 UNLINK；存储不支持时返回包装 ErrUnlinkUnsupported 的错误。
	Release(ctx context.Context, key, owner string, opts ReleaseOptions) (bool, error)

	// List 列出匹配 pattern 的锁及其持有者。
	List(ctx context.Context, pattern string) ([]RemoteLock, error)

	// Ping 检查存储可用性。
	Ping(ctx context.Context) error
}

// ReleaseOptions 释放选项。
type ReleaseOptions struct {
	Unlink        bool
	NotifyChannel string
}

// RemoteLock 远端锁快照。
type RemoteLock struct {
	// Name 锁名称（去掉注册表前缀），由 Registry.ListLocks 填充
	Name string
	// Key 完整的锁 key
	Key string
	// Owner 持有者 clientID
	Owner string
	// TTL 剩余租期，未知时为 0
	TTL time.Duration
	// Mine 是否由当前注册表持有，由 Registry.ListLocks 填充
	Mine bool
}

// Notifier 是支持发布订阅的存储。
type Notifier interface {
	// Subscribe 订阅频道，返回前确认订阅已生效。
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// Subscription 一个活动的频道订阅。
type Subscription interface {
	// Messages 返回消息负载流，订阅关闭后 channel 被关闭。
	Messages() <-chan string
	Close() error
}
