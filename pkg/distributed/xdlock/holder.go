package xdlock

import (
	"context"

	"github.com/google/uuid"
)

type holderKey struct{}

// WithHolder 在 ctx 上附加锁持有者标识。
//
// 本地可重入与所有权校验都以 holder 为单位：同一 holder 可重复 Lock，
// Unlock 必须由同一 holder 发起。一个逻辑执行流（请求、任务）应自始至终
// 使用同一个 holder。
func WithHolder(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, holderKey{}, id)
}

// NewHolder 附加一个随机 holder 标识（UUID）。
func NewHolder(ctx context.Context) context.Context {
	return WithHolder(ctx, uuid.NewString())
}

// HolderFrom 读取 ctx 中的 holder 标识。
func HolderFrom(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(holderKey{}).(string)
	return id, ok && id != ""
}

func mustHolder(ctx context.Context) (string, error) {
	id, ok := HolderFrom(ctx)
	if !ok {
		return "", ErrNoHolder
	}
	return id, nil
}
