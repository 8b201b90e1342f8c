//go:build integration

package xdlock_test

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/omeyang/xlockreg/pkg/distributed/xdlock"
)

// setupRedis 启动 Redis 容器或连接到已有 Redis。
// 如果设置了 XLOCKREG_REDIS_ADDR 环境变量，直接使用外部 Redis。
func setupRedis(t *testing.T) redis.UniversalClient {
	t.Helper()

	if addr := os.Getenv("XLOCKREG_REDIS_ADDR"); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			t.Skipf("无法连接到 Redis %s: %v", addr, err)
		}
		t.Cleanup(func() { _ = client.Close() })
		return client
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("无法启动 Redis 容器: %v", err)
	}
	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("获取 Redis 端点失败: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("无法连接到 Redis: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
		_ = container.Terminate(ctx)
	})
	return client
}

func newIntegrationRegistry(t *testing.T, client redis.UniversalClient, opts ...xdlock.Option) *xdlock.Registry {
	t.Helper()
	store, err := xdlock.NewRedisStore(client)
	require.NoError(t, err)
	reg, err := xdlock.NewRegistry(store, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Destroy(context.Background()) })
	return reg
}

func TestIntegration_RealExpiry(t *testing.T) {
	client := setupRedis(t)
	prefix := "it-expiry-" + time.Now().Format("150405.000")
	reg1 := newIntegrationRegistry(t, client, xdlock.WithKeyPrefix(prefix), xdlock.WithTTL(300*time.Millisecond))
	reg2 := newIntegrationRegistry(t, client, xdlock.WithKeyPrefix(prefix), xdlock.WithIdleBetweenTries(20*time.Millisecond))

	l1, _ := reg1.Obtain("job")
	l2, _ := reg2.Obtain("job")
	ctx1 := xdlock.NewHolder(context.Background())
	require.NoError(t, l1.Lock(ctx1))

	ok, err := l2.TryLockTimeout(xdlock.NewHolder(context.Background()), 2*time.Second)
	require.NoError(t, err)
	require.True(t, ok, "过期后其他注册表可以获取")
	assert.ErrorIs(t, l1.Unlock(ctx1), xdlock.ErrLockLost)
}

func TestIntegration_RenewalOutlivesTTL(t *testing.T) {
	client := setupRedis(t)
	prefix := "it-renew-" + time.Now().Format("150405.000")
	reg1 := newIntegrationRegistry(t, client, xdlock.WithKeyPrefix(prefix),
		xdlock.WithTTL(300*time.Millisecond), xdlock.WithRenewal())
	reg2 := newIntegrationRegistry(t, client, xdlock.WithKeyPrefix(prefix))

	l1, _ := reg1.Obtain("job")
	l2, _ := reg2.Obtain("job")
	ctx1 := xdlock.NewHolder(context.Background())
	require.NoError(t, l1.Lock(ctx1))

	time.Sleep(1500 * time.Millisecond)
	ok, err := l2.TryLock(xdlock.NewHolder(context.Background()))
	require.NoError(t, err)
	assert.False(t, ok, "续期期间锁不会过期")
	require.NoError(t, l1.Unlock(ctx1))
}

func TestIntegration_PubSubContention(t *testing.T) {
	client := setupRedis(t)
	prefix := "it-pubsub-" + time.Now().Format("150405.000")

	const workers = 4
	regs := make([]*xdlock.Registry, workers)
	for i := range regs {
		regs[i] = newIntegrationRegistry(t, client, xdlock.WithKeyPrefix(prefix), xdlock.WithMode(xdlock.ModePubSub))
	}

	var (
		inside atomic.Int32
		total  atomic.Int32
		wg     sync.WaitGroup
	)
	for _, reg := range regs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l, _ := reg.Obtain("shared")
			ctx := xdlock.NewHolder(context.Background())
			for range 10 {
				if !assert.NoError(t, l.Lock(ctx)) {
					return
				}
				assert.Equal(t, int32(1), inside.Add(1))
				time.Sleep(time.Millisecond)
				inside.Add(-1)
				total.Add(1)
				assert.NoError(t, l.Unlock(ctx))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(workers*10), total.Load())
}
