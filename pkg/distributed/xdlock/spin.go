package xdlock

import (
	"context"
	"time"
)

// waitForever 表示不设截止时间
const waitForever time.Duration = -1

// acquirer 远端锁的等待策略，两种模式共享 Lock 的本地互斥与释放流程。
type acquirer interface {
	// acquire 在 wait 内获取远端锁，wait < 0 表示一直等待，wait == 0 表示只尝试一次。
	// 超时返回 (false, nil)。
	acquire(ctx context.Context, l *Lock, wait time.Duration) (bool, error)
}

// spinAcquirer 按固定间隔轮询。
type spinAcquirer struct {
	idle time.Duration
}

func (s spinAcquirer) acquire(ctx context.Context, l *Lock, wait time.Duration) (bool, error) {
	var deadline time.Time
	bounded := wait >= 0
	if bounded {
		deadline = time.Now().Add(wait)
	}
	for {
		if l.reg.destroyed.Load() {
			return false, ErrRegistryDestroyed
		}
		// 先尝试再检查截止时间，截止时刻前后的最后一次尝试不会被跳过
		ok, err := l.obtainRemote(ctx)
		if err != nil || ok {
			return ok, err
		}
		sleep := s.idle
		if bounded {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return false, nil
			}
			sleep = min(sleep, remaining)
		}
		if err := sleepContext(ctx, l.reg.done, sleep); err != nil {
			return false, err
		}
	}
}

// sleepContext 睡眠 d，ctx 结束时提前返回 ctx.Err()，done 关闭时返回 ErrRegistryDestroyed。
func sleepContext(ctx context.Context, done <-chan struct{}, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-done:
		return ErrRegistryDestroyed
	case <-ctx.Done():
		return ctx.Err()
	}
}
