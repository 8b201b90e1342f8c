package xdlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupRedlock 启动 n 个独立的 miniredis 节点。
func setupRedlock(t *testing.T, n int) ([]*miniredis.Miniredis, *RedlockStore) {
	t.Helper()
	nodes := make([]*miniredis.Miniredis, n)
	clients := make([]redis.UniversalClient, n)
	for i := range n {
		nodes[i] = miniredis.RunT(t)
		c := redis.NewClient(&redis.Options{Addr: nodes[i].Addr(), MaxRetries: -1})
		t.Cleanup(func() { _ = c.Close() })
		clients[i] = c
	}
	store, err := NewRedlockStore(clients...)
	require.NoError(t, err)
	return nodes, store
}

func TestNewRedlockStore_NilClient(t *testing.T) {
	_, err := NewRedlockStore()
	assert.ErrorIs(t, err, ErrNilClient)
	_, err = NewRedlockStore(nil)
	assert.ErrorIs(t, err, ErrNilClient)
}

func TestRedlockStore_ObtainRenewRelease(t *testing.T) {
	nodes, store := setupRedlock(t, 3)
	ctx := context.Background()

	ok, err := store.Obtain(ctx, "lock:a", "me", 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	for _, n := range nodes {
		v, err := n.Get("lock:a")
		require.NoError(t, err)
		assert.Equal(t, "me", v)
	}

	// 同一 owner 重入
	ok, err = store.Obtain(ctx, "lock:a", "me", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Obtain(ctx, "lock:a", "other", 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.Renew(ctx, "lock:a", "other", 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = store.Renew(ctx, "lock:a", "me", 20*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 20*time.Second, nodes[0].TTL("lock:a"))

	ok, err = store.Release(ctx, "lock:a", "other", ReleaseOptions{})
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = store.Release(ctx, "lock:a", "me", ReleaseOptions{})
	require.NoError(t, err)
	assert.True(t, ok)
	for _, n := range nodes {
		assert.False(t, n.Exists("lock:a"))
	}
}

func TestRedlockStore_MinorityTakenStillObtains(t *testing.T) {
	nodes, store := setupRedlock(t, 3)
	require.NoError(t, nodes[0].Set("lock:a", "other"))

	ok, err := store.Obtain(context.Background(), "lock:a", "me", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedlockStore_NoQuorumRollsBack(t *testing.T) {
	nodes, store := setupRedlock(t, 3)
	require.NoError(t, nodes[0].Set("lock:a", "other"))
	require.NoError(t, nodes[1].Set("lock:a", "other"))

	ok, err := store.Obtain(context.Background(), "lock:a", "me", 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, nodes[2].Exists("lock:a"), "未达多数派时回滚已写入的节点")
}

func TestRedlockStore_NodeFailures(t *testing.T) {
	nodes, store := setupRedlock(t, 3)
	ctx := context.Background()

	nodes[0].Close()
	ok, err := store.Obtain(ctx, "lock:a", "me", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "少数节点故障不影响获取")
	require.NoError(t, store.Ping(ctx))

	nodes[1].Close()
	_, err = store.Obtain(ctx, "lock:b", "me", 10*time.Second)
	assert.Error(t, err)
	assert.Error(t, store.Ping(ctx))
}

func TestRedlockStore_ListRequiresQuorum(t *testing.T) {
	nodes, store := setupRedlock(t, 3)
	ctx := context.Background()

	ok, err := store.Obtain(ctx, "lock:a", "me", 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	// 只存在于单个节点的残留不计入
	require.NoError(t, nodes[2].Set("lock:stale", "ghost"))

	locks, err := store.List(ctx, "lock:*")
	require.NoError(t, err)
	require.Len(t, locks, 1)
	assert.Equal(t, "lock:a", locks[0].Key)
	assert.Equal(t, "me", locks[0].Owner)
}

func TestRedlockStore_WithRegistry(t *testing.T) {
	_, store := setupRedlock(t, 3)
	reg1 := newTestRegistry(t, store, WithIdleBetweenTries(10*time.Millisecond))
	reg2 := newTestRegistry(t, store, WithIdleBetweenTries(10*time.Millisecond))

	_, err := NewRegistry(store, WithMode(ModePubSub))
	assert.ErrorIs(t, err, ErrNotifierRequired)

	l1, _ := reg1.Obtain("redlock")
	l2, _ := reg2.Obtain("redlock")
	ctx1, ctx2 := holderCtx(), holderCtx()
	require.NoError(t, l1.Lock(ctx1))

	ok, err := l2.TryLock(ctx2)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l1.Unlock(ctx1))
	ok, err = l2.TryLockTimeout(ctx2, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, l2.Unlock(ctx2))
}
