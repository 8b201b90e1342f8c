package xdlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
)

// BreakerConfig 存储熔断配置。
type BreakerConfig struct {
	// Name 熔断器名称，出现在状态变化回调中
	Name string
	// ConsecutiveFailures 连续失败多少次后打开，默认 5
	ConsecutiveFailures uint32
	// OpenTimeout 打开状态持续多久后进入半开，默认 5s
	OpenTimeout time.Duration
	// HalfOpenRequests 半开状态允许的探测请求数，默认 1
	HalfOpenRequests uint32
	// OnStateChange 状态变化回调
	OnStateChange func(name string, from, to gobreaker.State)
}

// BreakerStore 为存储加上熔断保护。
//
// 只有存储访问错误计入失败；"未获取到锁"是正常结果，ctx 取消与 ErrUnlinkUnsupported
// 也不计入。熔断打开期间调用返回包装 ErrStoreUnavailable 的错误。
type BreakerStore struct {
	next Store
	cb   *gobreaker.CircuitBreaker[bool]
}

var _ Store = (*BreakerStore)(nil)

// NewBreakerStore 包装 next。若 next 实现 Notifier，返回值同样实现 Notifier（订阅不经过熔断）。
func NewBreakerStore(next Store, cfg BreakerConfig) Store {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 5 * time.Second
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = 1
	}
	if cfg.Name == "" {
		cfg.Name = "xdlock"
	}
	threshold := cfg.ConsecutiveFailures
	st := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, context.Canceled) ||
				errors.Is(err, context.DeadlineExceeded) ||
				errors.Is(err, ErrUnlinkUnsupported)
		},
		OnStateChange: cfg.OnStateChange,
	}
	bs := &BreakerStore{next: next, cb: gobreaker.NewCircuitBreaker[bool](st)}
	if n, ok := next.(Notifier); ok {
		return &notifyingBreakerStore{BreakerStore: bs, notifier: n}
	}
	return bs
}

// State 返回熔断器当前状态。
func (s *BreakerStore) State() gobreaker.State {
	return s.cb.State()
}

func (s *BreakerStore) execute(fn func() (bool, error)) (bool, error) {
	ok, err := s.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return ok, err
}

func (s *BreakerStore) Obtain(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	return s.execute(func() (bool, error) { return s.next.Obtain(ctx, key, owner, ttl) })
}

func (s *BreakerStore) Renew(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	return s.execute(func() (bool, error) { return s.next.Renew(ctx, key, owner, ttl) })
}

func (s *BreakerStore) Release(ctx context.Context, key, owner string, opts ReleaseOptions) (bool, error) {
	return s.execute(func() (bool, error) { return s.next.Release(ctx, key, owner, opts) })
}

func (s *BreakerStore) List(ctx context.Context, pattern string) ([]RemoteLock, error) {
	var locks []RemoteLock
	_, err := s.execute(func() (bool, error) {
		var err error
		locks, err = s.next.List(ctx, pattern)
		return err == nil, err
	})
	return locks, err
}

func (s *BreakerStore) Ping(ctx context.Context) error {
	_, err := s.execute(func() (bool, error) { return true, s.next.Ping(ctx) })
	return err
}

type notifyingBreakerStore struct {
	*BreakerStore
	notifier Notifier
}

var _ Notifier = (*notifyingBreakerStore)(nil)

func (s *notifyingBreakerStore) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	return s.notifier.Subscribe(ctx, channel)
}
