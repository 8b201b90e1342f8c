package xdlock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/trace"

	"github.com/omeyang/xlockreg/pkg/observability/xlog"
	"github.com/omeyang/xlockreg/pkg/util/xlru"
)

// Registry 具名分布式锁的工厂与缓存。
//
// 每个 Registry 拥有一个 clientID（默认随机 UUID，可用 WithClientID 指定），作为远端 key 的值。
// 同一名称在缓存中只有一个 Lock；当前被持有的条目不会被淘汰，
// 淘汰后重新创建的条目与旧对象共享本地互斥。
type Registry struct {
	store    Store
	opts     *options
	clientID string

	// mu 注册表全局互斥，只在缓存查找/插入/清理与监听器状态切换时短暂持有
	mu    sync.Mutex
	cache *xlru.Cache[string, *Lock]
	// locals 按 key 的本地互斥，独立于缓存淘汰
	locals *localTable

	acquirer  acquirer
	listener  *listener
	executor  Executor
	ownedExec *groupExecutor
	sweeper   *cron.Cron

	unlinkAvailable atomic.Bool
	destroyed       atomic.Bool
	// done 在 Destroy 时关闭，唤醒轮询等待
	done chan struct{}

	logger  xlog.Logger
	metrics *Metrics
	tracer  trace.Tracer
}

// NewRegistry 创建锁注册表。
//
// pub/sub 模式要求 store 实现 Notifier。使用完毕调用 Destroy。
func NewRegistry(store Store, opts ...Option) (*Registry, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if err := o.validate(); err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(o.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("xdlock: create metrics: %w", err)
	}
	if o.clientID == "" {
		o.clientID = uuid.NewString()
	}
	logger := o.logger
	if logger == nil {
		logger = xlog.Discard()
	}

	r := &Registry{
		store:    store,
		opts:     o,
		clientID: o.clientID,
		metrics:  metrics,
		tracer:   getTracer(o.tracerProvider),
		done:     make(chan struct{}),
		locals:   newLocalTable(),
	}
	r.logger = logger.With(xlog.Component("xdlock"), AttrClientID(r.clientID))
	r.unlinkAvailable.Store(true)

	r.cache, err = xlru.New(xlru.Config{Size: o.cacheCapacity},
		xlru.WithEvictable(func(_ string, l *Lock) bool { return !l.IsHeldLocally() }),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	switch o.mode {
	case ModePubSub:
		notifier, ok := store.(Notifier)
		if !ok {
			return nil, ErrNotifierRequired
		}
		r.listener = newListener(&r.mu, notifier, r.NotificationChannel(), r.logger, metrics)
		r.acquirer = &pubSubAcquirer{reg: r}
	default:
		r.acquirer = spinAcquirer{idle: o.idleBetweenTries}
	}

	r.executor = o.executor
	if r.executor == nil {
		r.ownedExec = &groupExecutor{}
		r.executor = r.ownedExec
	}

	if o.sweepSchedule != "" {
		if err := r.startSweeper(o.sweepSchedule, o.sweepAge); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// ClientID 返回本注册表写入远端 key 的 owner 标识。
func (r *Registry) ClientID() string { return r.clientID }

// Mode 返回获取模式。
func (r *Registry) Mode() Mode { return r.opts.mode }

// KeyPrefix 返回注册表 key。
func (r *Registry) KeyPrefix() string { return r.opts.keyPrefix }

// NotificationChannel 返回释放通知频道。
func (r *Registry) NotificationChannel() string { return r.opts.keyPrefix + "-notifications" }

// Len 返回缓存中的锁条目数。
func (r *Registry) Len() int { return r.cache.Len() }

func (r *Registry) lockKey(name string) string { return r.opts.keyPrefix + ":" + name }

// releaseChannel 释放时发布通知的频道，spin 模式不发布。
func (r *Registry) releaseChannel() string {
	if r.opts.mode == ModePubSub {
		return r.NotificationChannel()
	}
	return ""
}

// Obtain 返回 name 对应的锁，不存在时创建。不访问远端存储。
func (r *Registry) Obtain(name string) (*Lock, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	if r.destroyed.Load() {
		return nil, ErrRegistryDestroyed
	}

	r.mu.Lock()
	l, _, evicted := r.cache.GetOrSet(name, func() *Lock { return newLock(r, name) })
	r.mu.Unlock()

	r.metrics.RecordEvicted(context.Background(), evictReasonCapacity, evicted)
	return l, nil
}

// ExpireUnusedOlderThan 移除 age 以前获取过且当前未被持有的条目，返回移除数量。
//
// 从未获取过的条目（LockedAt 为零）不会被移除。只影响本地缓存，不访问远端。
func (r *Registry) ExpireUnusedOlderThan(age time.Duration) int {
	now := time.Now()
	r.mu.Lock()
	removed := r.cache.RemoveIf(func(_ string, l *Lock) bool {
		at := l.lockedAt.Load()
		return at != 0 && now.Sub(time.Unix(0, at)) > age && !l.IsHeldLocally()
	})
	r.mu.Unlock()

	r.metrics.RecordEvicted(context.Background(), evictReasonExpired, removed)
	return removed
}

// RenewLock 续期 name 对应的锁（不存在时先创建条目）。
//
// 远端 key 不属于本注册表时返回包装 ErrLockLost 的错误。
func (r *Registry) RenewLock(ctx context.Context, name string) error {
	l, err := r.Obtain(name)
	if err != nil {
		return err
	}
	ok, err := l.Renew(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrLockLost, l.key)
	}
	return nil
}

// ListLocks 列出远端存储中属于本注册表 key 空间的锁，按名称排序。
func (r *Registry) ListLocks(ctx context.Context) (locks []RemoteLock, err error) {
	ctx, span := r.tracer.Start(ctx, spanNameListLock)
	defer func() { endSpan(span, err) }()

	prefix := r.opts.keyPrefix + ":"
	locks, err = r.store.List(ctx, escapeGlob(prefix)+"*")
	if err != nil {
		return nil, fmt.Errorf("xdlock: list locks: %w", err)
	}
	for i := range locks {
		locks[i].Name = strings.TrimPrefix(locks[i].Key, prefix)
		locks[i].Mine = locks[i].Owner == r.clientID
	}
	sort.Slice(locks, func(i, j int) bool { return locks[i].Name < locks[j].Name })
	return locks, nil
}

// Health 检查远端存储是否可用。
func (r *Registry) Health(ctx context.Context) error {
	return r.store.Ping(ctx)
}

// StopListener 停止释放通知订阅，下次竞争时会重新启动。spin 模式下为空操作。
func (r *Registry) StopListener(ctx context.Context) error {
	if r.listener == nil || r.destroyed.Load() {
		return nil
	}
	return r.listener.stop(ctx, false)
}

// Destroy 销毁注册表：停止清理任务与通知订阅，停止自有的续期调度器，
// 等待自有执行器中的异步释放完成。外部传入的执行器与调度器不受影响。
// 可重复调用。
func (r *Registry) Destroy(ctx context.Context) error {
	if !r.destroyed.CompareAndSwap(false, true) {
		return nil
	}
	close(r.done)

	var errs []error
	if r.sweeper != nil {
		select {
		case <-r.sweeper.Stop().Done():
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
		}
	}
	if r.listener != nil {
		if err := r.listener.stop(ctx, true); err != nil {
			errs = append(errs, err)
		}
	}
	if r.opts.ownsScheduler {
		if ts, ok := r.opts.scheduler.(*TickerScheduler); ok {
			ts.Stop()
		}
	}
	if r.ownedExec != nil {
		if err := r.ownedExec.wait(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	r.logger.Info(ctx, "lock registry destroyed")
	return errors.Join(errs...)
}

func (r *Registry) startSweeper(schedule string, age time.Duration) error {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if n := r.ExpireUnusedOlderThan(age); n > 0 {
			r.logger.Debug(context.Background(), "expired unused locks", AttrCount(n))
		}
	}); err != nil {
		return fmt.Errorf("%w: sweep schedule %q: %w", ErrInvalidConfig, schedule, err)
	}
	c.Start()
	r.sweeper = c
	return nil
}

// escapeGlob 转义 Redis 匹配模式中的特殊字符
func escapeGlob(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}
