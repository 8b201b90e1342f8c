package xdlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/omeyang/xlockreg/pkg/observability/xlog"
)

// releasingHolder 异步释放期间本地互斥的临时所有者，保证远端删除完成前
// 本进程内其他 holder 无法获取同名锁。
const releasingHolder = "\x00xdlock-releasing"

// Lock 是注册表中一个具名锁条目。
//
// 本地可重入互斥按 key 存放在注册表中，同名的 Lock 对象（包括被缓存淘汰后
// 重新创建的）共享同一个互斥；只有获得本地互斥的 holder 才会访问远端 key。
type Lock struct {
	reg  *Registry
	name string
	key  string

	// lockedAt 最近一次远端获取成功的时间（UnixNano），0 表示从未获取
	lockedAt atomic.Int64

	renewMu     sync.Mutex
	renewCancel func()
}

func newLock(reg *Registry, name string) *Lock {
	return &Lock{
		reg:  reg,
		name: name,
		key:  reg.lockKey(name),
	}
}

// held 返回当前被持有或等待中的本地互斥，否则返回 nil。
func (l *Lock) held() *localMutex {
	return l.reg.locals.get(l.key)
}

// Name 返回锁名称。
func (l *Lock) Name() string { return l.name }

// Key 返回远端 key（registryKey:name）。
func (l *Lock) Key() string { return l.key }

// LockedAt 返回最近一次远端获取成功的时间，从未获取时返回零值。
func (l *Lock) LockedAt() time.Time {
	at := l.lockedAt.Load()
	if at == 0 {
		return time.Time{}
	}
	return time.Unix(0, at)
}

// IsHeldLocally 本进程内是否有 holder 持有（或正在获取）该锁。
func (l *Lock) IsHeldLocally() bool {
	m := l.held()
	return m != nil && m.locked()
}

// IsHeldBy ctx 中的 holder 是否持有该锁。
func (l *Lock) IsHeldBy(ctx context.Context) bool {
	holder, ok := HolderFrom(ctx)
	m := l.held()
	return ok && m != nil && m.heldBy(holder)
}

// HoldCount 返回当前持有者的重入计数，未持有时为 0。
func (l *Lock) HoldCount() int {
	if m := l.held(); m != nil {
		return m.holdCount()
	}
	return 0
}

// NewCondition 不支持，始终返回 ErrConditionUnsupported。
func (l *Lock) NewCondition() (*sync.Cond, error) {
	return nil, ErrConditionUnsupported
}

// =============================================================================
// 获取
// =============================================================================

// Lock 阻塞直到获取锁。
//
// 不可中断：ctx 的取消被忽略，获取在 context.WithoutCancel 上持续重试，
// 只有存储报错才会放弃（此时本地互斥已释放，返回包装 ErrLockAcquire 的错误）。
// 需要响应取消时使用 LockInterruptibly。
func (l *Lock) Lock(ctx context.Context) (err error) {
	holder, err := mustHolder(ctx)
	if err != nil {
		return err
	}
	ctx, span := startSpan(ctx, l.reg.tracer, spanNameLock, l.key, l.reg.opts.mode)
	defer func() { endSpan(span, err) }()

	uctx := context.WithoutCancel(ctx)
	if reentrant, _ := l.reg.locals.acquire(l.key).lock(uctx, holder); reentrant {
		l.reg.locals.release(l.key)
		return nil
	}

	start := time.Now()
	for {
		ok, aerr := l.acquireRemote(uctx, waitForever)
		if aerr != nil {
			return l.abortAcquire(uctx, holder, start, aerr)
		}
		// 忽略取消并继续等待；waitForever 下只有成功或出错才会返回
		if ok {
			break
		}
	}
	l.onAcquired(uctx, holder, start)
	return nil
}

// LockInterruptibly 阻塞直到获取锁或 ctx 结束。
//
// ctx 结束时释放本地互斥并返回同时满足 errors.Is(err, ErrLockAcquire) 与
// errors.Is(err, ctx.Err()) 的错误。
func (l *Lock) LockInterruptibly(ctx context.Context) (err error) {
	holder, err := mustHolder(ctx)
	if err != nil {
		return err
	}
	ctx, span := startSpan(ctx, l.reg.tracer, spanNameLock, l.key, l.reg.opts.mode)
	defer func() { endSpan(span, err) }()

	start := time.Now()
	reentrant, err := l.reg.locals.acquire(l.key).lock(ctx, holder)
	if err != nil {
		l.reg.locals.release(l.key)
		l.reg.metrics.RecordAcquire(ctx, l.reg.opts.mode, acquireResultError, time.Since(start))
		return fmt.Errorf("%w: %w", ErrLockAcquire, err)
	}
	if reentrant {
		l.reg.locals.release(l.key)
		return nil
	}

	if _, err := l.acquireRemote(ctx, waitForever); err != nil {
		return l.abortAcquire(ctx, holder, start, err)
	}
	l.onAcquired(ctx, holder, start)
	return nil
}

// TryLock 立即尝试一次，不等待。
func (l *Lock) TryLock(ctx context.Context) (bool, error) {
	return l.TryLockTimeout(ctx, 0)
}

// TryLockTimeout 在 wait 内尝试获取锁。
//
// 超时返回 (false, nil)；ctx 结束或存储报错时返回包装 ErrLockAcquire 的错误。
// 两种失败都会释放本地互斥。
func (l *Lock) TryLockTimeout(ctx context.Context, wait time.Duration) (acquired bool, err error) {
	holder, err := mustHolder(ctx)
	if err != nil {
		return false, err
	}
	ctx, span := startSpan(ctx, l.reg.tracer, spanNameTryLock, l.key, l.reg.opts.mode)
	defer func() {
		span.SetAttributes(attribute.Bool(attrAcquired, acquired))
		endSpan(span, err)
	}()

	start := time.Now()
	got, reentrant, err := l.reg.locals.acquire(l.key).tryLock(ctx, holder, wait)
	if err != nil || !got || reentrant {
		// 只有新获得本地互斥的 holder 保留引用
		l.reg.locals.release(l.key)
	}
	if err != nil {
		l.reg.metrics.RecordAcquire(ctx, l.reg.opts.mode, acquireResultError, time.Since(start))
		return false, fmt.Errorf("%w: %w", ErrLockAcquire, err)
	}
	if !got {
		l.reg.metrics.RecordAcquire(ctx, l.reg.opts.mode, acquireResultTimeout, time.Since(start))
		return false, nil
	}
	if reentrant {
		return true, nil
	}

	remaining := max(wait-time.Since(start), 0)
	ok, err := l.acquireRemote(ctx, remaining)
	if err != nil {
		return false, l.abortAcquire(ctx, holder, start, err)
	}
	if !ok {
		l.releaseLocal(holder)
		l.reg.metrics.RecordAcquire(ctx, l.reg.opts.mode, acquireResultTimeout, time.Since(start))
		return false, nil
	}
	l.onAcquired(ctx, holder, start)
	return true, nil
}

func (l *Lock) acquireRemote(ctx context.Context, wait time.Duration) (bool, error) {
	if l.reg.destroyed.Load() {
		return false, ErrRegistryDestroyed
	}
	ok, err := l.reg.acquirer.acquire(ctx, l, wait)
	if ok && err == nil && l.reg.destroyed.Load() {
		// 获取与 Destroy 并发：归还远端 key，销毁后的注册表不持有任何锁
		if _, rerr := l.reg.store.Release(ctx, l.key, l.reg.clientID,
			ReleaseOptions{NotifyChannel: l.reg.releaseChannel()}); rerr != nil {
			l.reg.logger.Warn(ctx, "release after destroy failed", AttrLockKey(l.key), xlog.Err(rerr))
		}
		return false, ErrRegistryDestroyed
	}
	return ok, err
}

// obtainRemote 执行一次远端原子获取。
func (l *Lock) obtainRemote(ctx context.Context) (bool, error) {
	return l.reg.store.Obtain(ctx, l.key, l.reg.clientID, l.reg.opts.ttl)
}

// abortAcquire 获取失败：先释放本地互斥再返回错误。
func (l *Lock) abortAcquire(ctx context.Context, holder string, start time.Time, cause error) error {
	l.releaseLocal(holder)
	l.reg.metrics.RecordAcquire(ctx, l.reg.opts.mode, acquireResultError, time.Since(start))
	if errors.Is(cause, ErrRegistryDestroyed) {
		return cause
	}
	return fmt.Errorf("%w: %w", ErrLockAcquire, cause)
}

// releaseLocal 本地计数归零时一并释放互斥表中的引用。
func (l *Lock) releaseLocal(holder string) {
	m := l.held()
	if m == nil {
		return
	}
	if remaining, err := m.unlock(holder); err == nil && remaining == 0 {
		l.reg.locals.release(l.key)
	}
}

// onAcquired 记录获取时间，配置了调度器时每 ttl/3 续期一次。
func (l *Lock) onAcquired(ctx context.Context, holder string, start time.Time) {
	l.lockedAt.Store(time.Now().UnixNano())
	l.reg.metrics.RecordAcquire(ctx, l.reg.opts.mode, acquireResultAcquired, time.Since(start))
	l.reg.logger.Debug(ctx, "lock acquired", AttrLockKey(l.key), AttrHolder(holder))

	sched := l.reg.opts.scheduler
	if sched == nil {
		return
	}
	interval := max(l.reg.opts.ttl/3, time.Millisecond)
	cancel := sched.Schedule(interval, l.renewTask)

	l.renewMu.Lock()
	if l.renewCancel != nil {
		l.renewCancel()
	}
	l.renewCancel = cancel
	l.renewMu.Unlock()
}

// =============================================================================
// 释放
// =============================================================================

// Unlock 释放一次持有。
//
// holder 未持有时返回 ErrNotOwner。重入计数未归零时只减计数，不访问远端。
// 归零时停止续期并删除远端 key，最后释放本地互斥（远端出错也会释放）。
// 远端 key 已不属于本注册表时返回包装 ErrLockLost 的错误。
//
// ctx 已取消时远端删除转到执行器异步完成，Unlock 立即返回 nil；
// 删除完成前本地互斥保持占用。
func (l *Lock) Unlock(ctx context.Context) (err error) {
	holder, err := mustHolder(ctx)
	if err != nil {
		return err
	}
	m := l.held()
	if m == nil || !m.heldBy(holder) {
		return ErrNotOwner
	}
	if m.holdCount() > 1 {
		_, err = m.unlock(holder)
		return err
	}

	ctx, span := startSpan(ctx, l.reg.tracer, spanNameUnlock, l.key, l.reg.opts.mode)
	defer func() { endSpan(span, err) }()

	l.stopRenewal()

	if ctx.Err() != nil {
		_ = m.handOff(holder, releasingHolder)
		bg := context.WithoutCancel(ctx)
		l.reg.executor.Go(func() {
			defer l.releaseLocal(releasingHolder)
			rctx, cancel := context.WithTimeout(bg, asyncReleaseTimeout)
			defer cancel()
			if rerr := l.releaseRemote(rctx); rerr != nil {
				l.reg.logger.Error(bg, "async lock release failed", AttrLockKey(l.key), xlog.Err(rerr))
			}
		})
		return nil
	}

	defer l.releaseLocal(holder)
	return l.releaseRemote(ctx)
}

// releaseRemote 删除远端 key。UNLINK 不可用时永久切换为 DEL 并重试一次。
func (l *Lock) releaseRemote(ctx context.Context) error {
	r := l.reg
	opts := ReleaseOptions{Unlink: r.unlinkAvailable.Load(), NotifyChannel: r.releaseChannel()}

	ok, err := r.store.Release(ctx, l.key, r.clientID, opts)
	if err != nil && opts.Unlink && errors.Is(err, ErrUnlinkUnsupported) {
		if r.unlinkAvailable.CompareAndSwap(true, false) {
			r.metrics.RecordUnlinkFallback(ctx)
			r.logger.Warn(ctx, "unlink is not supported by the store, falling back to delete for the registry lifetime",
				AttrLockKey(l.key), xlog.Err(err))
		}
		opts.Unlink = false
		ok, err = r.store.Release(ctx, l.key, r.clientID, opts)
	}

	switch {
	case err != nil:
		r.metrics.RecordRelease(ctx, r.opts.mode, releaseResultError)
		return fmt.Errorf("xdlock: release %s: %w", l.key, err)
	case !ok:
		r.metrics.RecordRelease(ctx, r.opts.mode, releaseResultLost)
		r.metrics.RecordLost(ctx, "unlock")
		r.logger.Warn(ctx, "lock was lost before unlock", AttrLockKey(l.key))
		return fmt.Errorf("%w: %s", ErrLockLost, l.key)
	}
	r.metrics.RecordRelease(ctx, r.opts.mode, releaseResultReleased)
	return nil
}

// =============================================================================
// 续期
// =============================================================================

// Renew 仅当远端 key 仍属于本注册表时刷新租期。
//
// 返回 false 表示锁已丢失，此时自动续期任务也会停止。
func (l *Lock) Renew(ctx context.Context) (bool, error) {
	ok, err := l.renew(ctx)
	if err == nil && !ok {
		l.stopRenewal()
	}
	return ok, err
}

func (l *Lock) renew(ctx context.Context) (ok bool, err error) {
	ctx, span := startSpan(ctx, l.reg.tracer, spanNameRenew, l.key, l.reg.opts.mode)
	defer func() { endSpan(span, err) }()

	ok, err = l.reg.store.Renew(ctx, l.key, l.reg.clientID, l.reg.opts.ttl)
	if err != nil {
		l.reg.metrics.RecordRenew(ctx, false)
		return false, fmt.Errorf("xdlock: renew %s: %w", l.key, err)
	}
	l.reg.metrics.RecordRenew(ctx, ok)
	if !ok {
		l.reg.metrics.RecordLost(ctx, "renew")
	}
	return ok, nil
}

// renewTask 调度器回调，返回 false 时任务结束。
// 任务只结束自己，不触碰 renewCancel，避免误停后续获取安排的新任务。
func (l *Lock) renewTask(ctx context.Context) bool {
	ok, err := l.renew(ctx)
	switch {
	case ctx.Err() != nil:
		return false
	case err != nil:
		l.reg.logger.Warn(ctx, "lock renewal failed, renewal stopped", AttrLockKey(l.key), xlog.Err(err))
		return false
	case !ok:
		l.reg.logger.Warn(ctx, "lock is no longer owned, renewal stopped", AttrLockKey(l.key))
		return false
	}
	return true
}

func (l *Lock) stopRenewal() {
	l.renewMu.Lock()
	defer l.renewMu.Unlock()
	if l.renewCancel != nil {
		l.renewCancel()
		l.renewCancel = nil
	}
}
