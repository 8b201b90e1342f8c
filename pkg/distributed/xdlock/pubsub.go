package xdlock

import (
	"context"
	"time"
)

// pubSubAcquirer 等待释放通知而不是轮询。
//
// 通知不保证送达（持有者崩溃时不会发布），所以每轮等待最多一个 TTL，
// 到期后重新尝试，由 key 自然过期兜底。
type pubSubAcquirer struct {
	reg *Registry
}

func (p *pubSubAcquirer) acquire(ctx context.Context, l *Lock, wait time.Duration) (bool, error) {
	// 快速路径：无竞争时不启动订阅
	ok, err := l.obtainRemote(ctx)
	if err != nil || ok {
		return ok, err
	}
	if wait == 0 {
		return false, nil
	}

	var deadline time.Time
	bounded := wait > 0
	if bounded {
		deadline = time.Now().Add(wait)
	}
	for {
		if p.reg.destroyed.Load() {
			return false, ErrRegistryDestroyed
		}
		// 订阅断开或被停止后在下一轮重新启动
		if err := p.reg.listener.ensureStarted(ctx); err != nil {
			return false, err
		}
		ok, err := p.waitOnce(ctx, l, bounded, deadline)
		if err != nil || ok {
			return ok, err
		}
		if bounded && time.Until(deadline) <= 0 {
			return false, nil
		}
	}
}

// waitOnce 登记关注后复查一次，仍不可用则等待通知或超时，再尝试一次。
// 关注在返回前一定会被注销。
func (p *pubSubAcquirer) waitOnce(ctx context.Context, l *Lock, bounded bool, deadline time.Time) (bool, error) {
	w := p.reg.listener.register(l.key)
	defer p.reg.listener.deregister(w)

	// 复查：释放与发布可能发生在快速路径与登记之间
	ok, err := l.obtainRemote(ctx)
	if err != nil || ok {
		return ok, err
	}

	timeout := p.reg.opts.ttl
	if bounded {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		timeout = min(timeout, remaining)
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-w.ch:
	case <-t.C:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	return l.obtainRemote(ctx)
}
