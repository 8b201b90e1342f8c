package xdlock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// scanCount 单次 SCAN 的 COUNT 提示值
const scanCount = 100

// subscriptionBuffer 订阅消息的本地缓冲
const subscriptionBuffer = 64

var (
	_ Store    = (*RedisStore)(nil)
	_ Notifier = (*RedisStore)(nil)
)

// RedisStore 基于单个 Redis（或 Cluster）的原子存储，支持发布订阅。
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore 创建 Redis 存储。
func NewRedisStore(client redis.UniversalClient) (*RedisStore, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	return &RedisStore{client: client}, nil
}

// Client 返回底层客户端。
func (s *RedisStore) Client() redis.UniversalClient {
	return s.client
}

func (s *RedisStore) Obtain(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	return s.runBool(ctx, getScripts().obtain, key, owner, ttl.Milliseconds())
}

func (s *RedisStore) Renew(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	return s.runBool(ctx, getScripts().renew, key, owner, ttl.Milliseconds())
}

func (s *RedisStore) Release(ctx context.Context, key, owner string, opts ReleaseOptions) (bool, error) {
	script := getScripts().deleteRelease
	if opts.Unlink {
		script = getScripts().unlinkRelease
	}
	ok, err := s.runBool(ctx, script, key, owner, opts.NotifyChannel)
	if err != nil && opts.Unlink && isUnknownCommand(err) {
		return false, fmt.Errorf("%w: %w", ErrUnlinkUnsupported, err)
	}
	return ok, err
}

func (s *RedisStore) runBool(ctx context.Context, script *redis.Script, key string, args ...any) (bool, error) {
	n, err := script.Run(ctx, s.client, []string{key}, args...).Int64()
	if err != nil {
		return false, err
	}
	return n == scriptOK, nil
}

// List 使用 SCAN 枚举匹配的 key，Cluster 模式下遍历所有 master。
func (s *RedisStore) List(ctx context.Context, pattern string) ([]RemoteLock, error) {
	if cc, ok := s.client.(*redis.ClusterClient); ok {
		var (
			mu    sync.Mutex
			locks []RemoteLock
		)
		err := cc.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
			found, err := scanLocks(ctx, node, pattern)
			if err != nil {
				return err
			}
			mu.Lock()
			locks = append(locks, found...)
			mu.Unlock()
			return nil
		})
		return locks, err
	}
	return scanLocks(ctx, s.client, pattern)
}

func scanLocks(ctx context.Context, c redis.Cmdable, pattern string) ([]RemoteLock, error) {
	var (
		locks  []RemoteLock
		cursor uint64
	)
	for {
		keys, next, err := c.Scan(ctx, cursor, pattern, scanCount).Result()
		if err != nil {
			return nil, err
		}
		if len(keys) > 0 {
			batch, err := describeLocks(ctx, c, keys)
			if err != nil {
				return nil, err
			}
			locks = append(locks, batch...)
		}
		if next == 0 {
			return locks, nil
		}
		cursor = next
	}
}

// describeLocks 以 pipeline 读取 owner 与剩余 TTL，期间消失的 key 被跳过
func describeLocks(ctx context.Context, c redis.Cmdable, keys []string) ([]RemoteLock, error) {
	pipe := c.Pipeline()
	gets := make([]*redis.StringCmd, len(keys))
	ttls := make([]*redis.DurationCmd, len(keys))
	for i, k := range keys {
		gets[i] = pipe.Get(ctx, k)
		ttls[i] = pipe.PTTL(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	locks := make([]RemoteLock, 0, len(keys))
	for i, k := range keys {
		owner, err := gets[i].Result()
		if err != nil {
			continue
		}
		ttl := ttls[i].Val()
		if ttl < 0 {
			ttl = 0
		}
		locks = append(locks, RemoteLock{Key: k, Owner: owner, TTL: ttl})
	}
	return locks, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Subscribe 订阅频道，go-redis 在连接断开后会自动重新订阅。
func (s *RedisStore) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	ps := s.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	sub := &redisSubscription{
		ps:   ps,
		out:  make(chan string, subscriptionBuffer),
		done: make(chan struct{}),
	}
	go sub.pump(ps.Channel())
	return sub, nil
}

type redisSubscription struct {
	ps        *redis.PubSub
	out       chan string
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func (s *redisSubscription) pump(in <-chan *redis.Message) {
	defer close(s.out)
	for {
		select {
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case s.out <- msg.Payload:
			case <-s.done:
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *redisSubscription) Messages() <-chan string {
	return s.out
}

func (s *redisSubscription) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.closeErr = s.ps.Close()
	})
	return s.closeErr
}

// isUnknownCommand 判断是否为服务端不认识命令的错误。
// 直接调用时为 "unknown command"，脚本内调用时为 "Unknown Redis command called from script"。
// READONLY、LOADING、OOM 等其他服务端错误以及网络错误都返回 false。
func isUnknownCommand(err error) bool {
	var rErr redis.Error
	if errors.Is(err, redis.Nil) || !errors.As(err, &rErr) {
		return false
	}
	msg := strings.ToLower(rErr.Error())
	return strings.Contains(msg, "unknown command") || strings.Contains(msg, "unknown redis command")
}
