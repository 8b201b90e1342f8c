package xdlock

import (
	"context"
	"errors"
)

// =============================================================================
// 锁操作错误
// =============================================================================

var (
	// ErrLockAcquire 获取锁失败（存储异常或本地互斥被中断），包装具体原因。
	// 返回该错误时本地互斥一定已经释放。
	ErrLockAcquire = errors.New("xdlock: failed to acquire lock")

	// ErrNotOwner 当前 holder 并未持有本地锁却调用了 Unlock。
	// 属于调用方编程错误，不应重试。
	ErrNotOwner = errors.New("xdlock: lock is not held by the current holder")

	// ErrLockLost 远端 key 已过期或被其他客户端占用（并发修改）。
	// Unlock 返回该错误时本地互斥已释放，但受保护的数据可能已被破坏。
	ErrLockLost = errors.New("xdlock: lock was lost, it expired or was taken by another client")

	// ErrConditionUnsupported 不支持条件变量。
	ErrConditionUnsupported = errors.New("xdlock: conditions are not supported")

	// ErrNoHolder ctx 中没有 holder 标识，见 WithHolder / NewHolder。
	ErrNoHolder = errors.New("xdlock: no lock holder in context")
)

// =============================================================================
// 注册表与配置错误
// =============================================================================

var (
	// ErrRegistryDestroyed 注册表已销毁。
	ErrRegistryDestroyed = errors.New("xdlock: registry destroyed")

	// ErrNilStore 存储为 nil。
	ErrNilStore = errors.New("xdlock: store is nil")

	// ErrNilClient Redis 客户端为 nil。
	ErrNilClient = errors.New("xdlock: redis client is nil")

	// ErrEmptyName 锁名称为空。
	ErrEmptyName = errors.New("xdlock: lock name is empty")

	// ErrNotifierRequired pub/sub 模式要求存储实现 Notifier。
	ErrNotifierRequired = errors.New("xdlock: pub/sub mode requires a store that implements Notifier")

	// ErrInvalidConfig 配置无效。
	ErrInvalidConfig = errors.New("xdlock: invalid config")
)

// =============================================================================
// 存储错误
// =============================================================================

var (
	// ErrUnlinkUnsupported 存储不支持 UNLINK，注册表会永久切换为 DEL。
	ErrUnlinkUnsupported = errors.New("xdlock: unlink is not supported by the store")

	// ErrStoreUnavailable 存储熔断打开，请求被快速拒绝。
	ErrStoreUnavailable = errors.New("xdlock: store unavailable")

	// ErrSubscriptionClosed 订阅已关闭。
	ErrSubscriptionClosed = errors.New("xdlock: subscription closed")
)

// IsLockLost 判断错误是否表示锁已丢失。
func IsLockLost(err error) bool {
	return errors.Is(err, ErrLockLost)
}

// IsRetryable 判断获取失败是否值得调用方稍后重试。
//
// 存储熔断或存储访问失败可重试；ctx 取消、持有者错误、配置错误不可重试。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch {
	case errors.Is(err, ErrNoHolder),
		errors.Is(err, ErrNotOwner),
		errors.Is(err, ErrRegistryDestroyed),
		errors.Is(err, ErrInvalidConfig),
		errors.Is(err, ErrConditionUnsupported):
		return false
	}
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrLockAcquire)
}
