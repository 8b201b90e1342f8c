package xdlock

import (
	"context"
	"sync"
	"time"

	"github.com/avast/retry-go/v5"

	"github.com/omeyang/xlockreg/pkg/observability/xlog"
)

const (
	subscribeAttempts = 3
	subscribeDelay    = 50 * time.Millisecond
	subscribeMaxDelay = time.Second
)

type listenerState int

const (
	listenerNotStarted listenerState = iota
	listenerRunning
	listenerStopped
)

func (s listenerState) String() string {
	switch s {
	case listenerNotStarted:
		return "not-started"
	case listenerRunning:
		return "running"
	default:
		return "stopped"
	}
}

// waiter 一次对某个锁 key 释放通知的关注。
type waiter struct {
	key string
	ch  chan struct{}
}

// listener 注册表共享的释放通知订阅。
//
// 状态机 not-started / running / stopped 由注册表全局互斥 regMu 保护：
// 首次竞争时惰性启动，启动幂等；订阅意外断开回到 not-started，下次竞争重新启动；
// terminate 之后进入终态 stopped。
type listener struct {
	regMu    *sync.Mutex
	notifier Notifier
	channel  string
	logger   xlog.Logger
	metrics  *Metrics

	// 以下字段由 regMu 保护
	state listenerState
	sub   Subscription
	done  chan struct{}

	waitersMu sync.Mutex
	waiters   map[string]map[*waiter]struct{}
}

func newListener(regMu *sync.Mutex, notifier Notifier, channel string, logger xlog.Logger, metrics *Metrics) *listener {
	return &listener{
		regMu:    regMu,
		notifier: notifier,
		channel:  channel,
		logger:   logger,
		metrics:  metrics,
		waiters:  make(map[string]map[*waiter]struct{}),
	}
}

// ensureStarted 未启动时订阅频道，已运行时直接返回。
func (l *listener) ensureStarted(ctx context.Context) error {
	l.regMu.Lock()
	defer l.regMu.Unlock()

	switch l.state {
	case listenerRunning:
		return nil
	case listenerStopped:
		return ErrRegistryDestroyed
	}

	var sub Subscription
	err := retry.New(
		retry.Context(ctx),
		retry.Attempts(subscribeAttempts),
		retry.Delay(subscribeDelay),
		retry.MaxDelay(subscribeMaxDelay),
		retry.LastErrorOnly(true),
	).Do(func() error {
		var err error
		sub, err = l.notifier.Subscribe(ctx, l.channel)
		return err
	})
	if err != nil {
		l.logger.Error(ctx, "subscribe to lock notifications failed", AttrChannel(l.channel), xlog.Err(err))
		return err
	}

	done := make(chan struct{})
	l.state, l.sub, l.done = listenerRunning, sub, done
	go l.pump(sub, done)
	l.logger.Info(ctx, "lock notification listener started", AttrChannel(l.channel))
	return nil
}

// pump 分发消息直到订阅关闭。
func (l *listener) pump(sub Subscription, done chan struct{}) {
	defer close(done)
	for key := range sub.Messages() {
		l.metrics.RecordNotify(context.Background())
		l.notify(key)
	}

	// 意外断开：回到 not-started，唤醒所有等待者立即复查
	l.regMu.Lock()
	if l.sub == sub {
		l.state, l.sub, l.done = listenerNotStarted, nil, nil
		l.logger.Warn(context.Background(), "lock notification subscription closed unexpectedly", AttrChannel(l.channel))
	}
	l.regMu.Unlock()
	l.notifyAll()
}

// stop 停止订阅。terminal 为 true 时进入终态，否则回到 not-started。
func (l *listener) stop(ctx context.Context, terminal bool) error {
	l.regMu.Lock()
	sub, done := l.sub, l.done
	l.sub, l.done = nil, nil
	switch {
	case terminal:
		l.state = listenerStopped
	case l.state == listenerRunning:
		l.state = listenerNotStarted
	}
	l.regMu.Unlock()

	if sub == nil {
		if terminal {
			l.notifyAll()
		}
		return nil
	}
	err := sub.Close()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	l.notifyAll()
	l.logger.Info(ctx, "lock notification listener stopped", AttrChannel(l.channel))
	return err
}

func (l *listener) currentState() listenerState {
	l.regMu.Lock()
	defer l.regMu.Unlock()
	return l.state
}

func (l *listener) register(key string) *waiter {
	w := &waiter{key: key, ch: make(chan struct{}, 1)}
	l.waitersMu.Lock()
	set, ok := l.waiters[key]
	if !ok {
		set = make(map[*waiter]struct{})
		l.waiters[key] = set
	}
	set[w] = struct{}{}
	l.waitersMu.Unlock()
	return w
}

func (l *listener) deregister(w *waiter) {
	l.waitersMu.Lock()
	defer l.waitersMu.Unlock()
	set := l.waiters[w.key]
	delete(set, w)
	if len(set) == 0 {
		delete(l.waiters, w.key)
	}
}

func (l *listener) notify(key string) {
	l.waitersMu.Lock()
	defer l.waitersMu.Unlock()
	for w := range l.waiters[key] {
		wake(w)
	}
}

func (l *listener) notifyAll() {
	l.waitersMu.Lock()
	defer l.waitersMu.Unlock()
	for _, set := range l.waiters {
		for w := range set {
			wake(w)
		}
	}
}

// waiterCount 当前登记的关注数
func (l *listener) waiterCount() int {
	l.waitersMu.Lock()
	defer l.waitersMu.Unlock()
	n := 0
	for _, set := range l.waiters {
		n += len(set)
	}
	return n
}

func wake(w *waiter) {
	select {
	case w.ch <- struct{}{}:
	default:
	}
}
