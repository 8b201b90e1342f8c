package xdlock

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// firstObtainFails 第一次 Obtain 假装锁被占用，模拟快速路径之后、登记关注之前发生的释放。
type firstObtainFails struct {
	*RedisStore
	calls atomic.Int32
}

func (s *firstObtainFails) Obtain(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if s.calls.Add(1) == 1 {
		return false, nil
	}
	return s.RedisStore.Obtain(ctx, key, owner, ttl)
}

func TestPubSub_ListenerStartsOnContention(t *testing.T) {
	_, store := newTestStore(t)
	reg1 := newTestRegistry(t, store, WithMode(ModePubSub))
	reg2 := newTestRegistry(t, store, WithMode(ModePubSub))

	l1, _ := reg1.Obtain("lazy")
	l2, _ := reg2.Obtain("lazy")
	ctx1 := holderCtx()

	require.NoError(t, l1.Lock(ctx1))
	assert.Equal(t, listenerNotStarted, reg1.listener.currentState(), "无竞争时不订阅")

	// wait == 0 只尝试一次，也不订阅
	ok, err := l2.TryLock(holderCtx())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, listenerNotStarted, reg2.listener.currentState())

	ok, err = l2.TryLockTimeout(holderCtx(), 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, listenerRunning, reg2.listener.currentState())
	assert.Equal(t, 0, reg2.listener.waiterCount(), "返回前必须注销关注")

	require.NoError(t, l1.Unlock(ctx1))
}

func TestPubSub_DoubleCheckAfterRegister(t *testing.T) {
	_, base := newTestStore(t)
	store := &firstObtainFails{RedisStore: base}
	reg := newTestRegistry(t, store, WithMode(ModePubSub))
	l, _ := reg.Obtain("race")
	ctx := holderCtx()

	start := time.Now()
	ok, err := l.TryLockTimeout(ctx, 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	// 没有任何通知，只能靠登记后的复查立即获取，否则要等满一个 TTL
	assert.Less(t, time.Since(start), time.Second)
	require.NoError(t, l.Unlock(ctx))
}

func TestPubSub_ExpiryWithoutNotification(t *testing.T) {
	mr, store := newTestStore(t)
	ttl := 200 * time.Millisecond
	reg1 := newTestRegistry(t, store, WithMode(ModePubSub), WithTTL(ttl))
	reg2 := newTestRegistry(t, store, WithMode(ModePubSub), WithTTL(ttl))

	l1, _ := reg1.Obtain("crashed")
	l2, _ := reg2.Obtain("crashed")
	require.NoError(t, l1.Lock(holderCtx()))

	// 持有者"崩溃"：key 过期但不会发布通知
	time.AfterFunc(50*time.Millisecond, func() { mr.FastForward(time.Second) })

	ctx2 := holderCtx()
	start := time.Now()
	ok, err := l2.TryLockTimeout(ctx2, 3*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Less(t, time.Since(start), time.Second, "每轮最多等待一个 TTL")
	require.NoError(t, l2.Unlock(ctx2))
}

func TestPubSub_DestroyWakesWaiters(t *testing.T) {
	_, store := newTestStore(t)
	reg1 := newTestRegistry(t, store, WithMode(ModePubSub))
	reg2 := newTestRegistry(t, store, WithMode(ModePubSub))

	l1, _ := reg1.Obtain("shutdown")
	l2, _ := reg2.Obtain("shutdown")
	ctx1 := holderCtx()
	require.NoError(t, l1.Lock(ctx1))
	defer func() { _ = l1.Unlock(ctx1) }()

	type result struct {
		ok  bool
		err error
	}
	done := make(chan result, 1)
	go func() {
		ok, err := l2.TryLockTimeout(holderCtx(), 10*time.Second)
		done <- result{ok, err}
	}()

	require.Eventually(t, func() bool { return reg2.listener.waiterCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, reg2.Destroy(context.Background()))

	select {
	case r := <-done:
		assert.False(t, r.ok)
		assert.ErrorIs(t, r.err, ErrRegistryDestroyed)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not woken by Destroy")
	}
	assert.Equal(t, listenerStopped, reg2.listener.currentState())
}

func TestSpin_DestroyWakesBlockedLock(t *testing.T) {
	mr, store := newTestStore(t)
	holder := newTestRegistry(t, store)
	// 轮询间隔远大于测试时长，只有 Destroy 能唤醒等待
	reg := newTestRegistry(t, store, WithIdleBetweenTries(time.Hour))

	l1, _ := holder.Obtain("x")
	ctx1 := holderCtx()
	require.NoError(t, l1.Lock(ctx1))

	l2, _ := reg.Obtain("x")
	done := make(chan error, 1)
	go func() {
		done <- l2.Lock(holderCtx())
	}()

	require.Eventually(t, l2.IsHeldLocally, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, reg.Destroy(context.Background()))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrRegistryDestroyed)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked Lock was not woken by Destroy")
	}
	assert.False(t, l2.IsHeldLocally())

	require.NoError(t, l1.Unlock(ctx1))
	assert.False(t, mr.Exists(l2.Key()), "销毁后的注册表不能再获取远端锁")
}

func TestPubSub_StopListenerRestarts(t *testing.T) {
	_, store := newTestStore(t)
	reg1 := newTestRegistry(t, store, WithMode(ModePubSub))
	reg2 := newTestRegistry(t, store, WithMode(ModePubSub))

	l1, _ := reg1.Obtain("restart")
	l2, _ := reg2.Obtain("restart")
	ctx1 := holderCtx()
	require.NoError(t, l1.Lock(ctx1))

	ok, err := l2.TryLockTimeout(holderCtx(), 30*time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, listenerRunning, reg2.listener.currentState())

	require.NoError(t, reg2.StopListener(context.Background()))
	assert.Equal(t, listenerNotStarted, reg2.listener.currentState())

	time.AfterFunc(100*time.Millisecond, func() { _ = l1.Unlock(ctx1) })
	ctx2 := holderCtx()
	start := time.Now()
	ok, err = l2.TryLockTimeout(ctx2, 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, listenerRunning, reg2.listener.currentState())
	require.NoError(t, l2.Unlock(ctx2))
}
