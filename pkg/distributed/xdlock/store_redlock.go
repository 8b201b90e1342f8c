package xdlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	redsyncredis "github.com/go-redsync/redsync/v4/redis"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

var _ Store = (*RedlockStore)(nil)

// RedlockStore 基于 Redlock 算法的多节点存储。
//
// 写入需要多数派节点确认。不实现 Notifier，只能用于 spin 模式。
// Release 始终使用 DEL，ReleaseOptions 被忽略。
type RedlockStore struct {
	rs      *redsync.Redsync
	clients []redis.UniversalClient
	quorum  int
}

// NewRedlockStore 使用多个相互独立的 Redis 节点创建存储。
func NewRedlockStore(clients ...redis.UniversalClient) (*RedlockStore, error) {
	if len(clients) == 0 {
		return nil, ErrNilClient
	}
	pools := make([]redsyncredis.Pool, 0, len(clients))
	for _, c := range clients {
		if c == nil {
			return nil, ErrNilClient
		}
		pools = append(pools, goredis.NewPool(c))
	}
	return &RedlockStore{
		rs:      redsync.New(pools...),
		clients: clients,
		quorum:  len(clients)/2 + 1,
	}, nil
}

func (s *RedlockStore) mutex(key, owner string, ttl time.Duration, setNX bool) *redsync.Mutex {
	opts := []redsync.Option{
		redsync.WithExpiry(ttl),
		redsync.WithValue(owner),
		redsync.WithTries(1),
	}
	if setNX {
		opts = append(opts, redsync.WithSetNXOnExtend())
	}
	return s.rs.NewMutex(key, opts...)
}

// Obtain 对所有节点执行"持有则续期，不存在则 SET NX"，多数派成功即获取。
// 未达多数派时回滚已写入的节点。
func (s *RedlockStore) Obtain(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	m := s.mutex(key, owner, ttl, true)
	ok, err := m.ExtendContext(ctx)
	if ok {
		return true, nil
	}
	// 回滚只影响值等于 owner 的节点
	_, _ = m.UnlockContext(context.WithoutCancel(ctx))
	return false, classifyRedlockError(err)
}

func (s *RedlockStore) Renew(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	ok, err := s.mutex(key, owner, ttl, false).ExtendContext(ctx)
	if ok {
		return true, nil
	}
	return false, classifyRedlockError(err)
}

func (s *RedlockStore) Release(ctx context.Context, key, owner string, _ ReleaseOptions) (bool, error) {
	ok, err := s.mutex(key, owner, time.Second, false).UnlockContext(ctx)
	if ok {
		return true, nil
	}
	return false, classifyRedlockError(err)
}

// List 汇总所有节点的 key，只返回多数派节点上 owner 一致的锁。
func (s *RedlockStore) List(ctx context.Context, pattern string) ([]RemoteLock, error) {
	type vote struct {
		lock  RemoteLock
		count int
	}
	votes := make(map[string]*vote)
	var order []string
	for _, c := range s.clients {
		found, err := scanLocks(ctx, c, pattern)
		if err != nil {
			return nil, err
		}
		for _, l := range found {
			id := l.Key + "\x00" + l.Owner
			v, ok := votes[id]
			if !ok {
				v = &vote{lock: l}
				votes[id] = v
				order = append(order, id)
			}
			v.count++
			if l.TTL < v.lock.TTL {
				v.lock.TTL = l.TTL
			}
		}
	}
	locks := make([]RemoteLock, 0, len(order))
	for _, id := range order {
		if v := votes[id]; v.count >= s.quorum {
			locks = append(locks, v.lock)
		}
	}
	return locks, nil
}

// Ping 多数派节点可达即视为健康。
func (s *RedlockStore) Ping(ctx context.Context) error {
	var errs []error
	for _, c := range s.clients {
		if err := c.Ping(ctx).Err(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(s.clients)-len(errs) >= s.quorum {
		return nil
	}
	return fmt.Errorf("xdlock: redlock quorum unreachable: %w", errors.Join(errs...))
}

// classifyRedlockError 区分"被占用/已过期"（返回 nil，调用方得到 false）与节点访问错误。
func classifyRedlockError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var redisErr *redsync.RedisError
	if errors.As(err, &redisErr) {
		return fmt.Errorf("xdlock: redlock node %d: %w", redisErr.Node, redisErr.Err)
	}
	return nil
}
