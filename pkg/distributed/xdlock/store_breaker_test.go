package xdlock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestBreakerStore_OpensAfterConsecutiveFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	inner := NewMockStore(ctrl)

	var transitions []gobreaker.State
	store := NewBreakerStore(inner, BreakerConfig{
		ConsecutiveFailures: 3,
		OpenTimeout:         time.Minute,
		OnStateChange: func(_ string, _, to gobreaker.State) {
			transitions = append(transitions, to)
		},
	})
	ctx := context.Background()

	boom := errors.New("connection reset")
	inner.EXPECT().Obtain(gomock.Any(), "k", "me", time.Second).Return(false, boom).Times(3)
	for range 3 {
		_, err := store.Obtain(ctx, "k", "me", time.Second)
		assert.ErrorIs(t, err, boom)
	}

	// 打开后不再访问存储
	_, err := store.Obtain(ctx, "k", "me", time.Second)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, gobreaker.StateOpen, store.(*BreakerStore).State())
	assert.Equal(t, []gobreaker.State{gobreaker.StateOpen}, transitions)
}

func TestBreakerStore_NotAcquiredIsNotFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	inner := NewMockStore(ctrl)
	store := NewBreakerStore(inner, BreakerConfig{ConsecutiveFailures: 1})
	ctx := context.Background()

	inner.EXPECT().Obtain(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(false, nil).Times(3)
	inner.EXPECT().Release(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(false, ErrUnlinkUnsupported)
	inner.EXPECT().Renew(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(false, context.Canceled)
	inner.EXPECT().Ping(gomock.Any()).Return(nil)

	for range 3 {
		ok, err := store.Obtain(ctx, "k", "me", time.Second)
		require.NoError(t, err)
		assert.False(t, ok)
	}
	_, err := store.Release(ctx, "k", "me", ReleaseOptions{Unlink: true})
	assert.ErrorIs(t, err, ErrUnlinkUnsupported)
	_, err = store.Renew(ctx, "k", "me", time.Second)
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, store.Ping(ctx))
	assert.Equal(t, gobreaker.StateClosed, store.(*BreakerStore).State())
}

func TestBreakerStore_HalfOpenRecovers(t *testing.T) {
	ctrl := gomock.NewController(t)
	inner := NewMockStore(ctrl)
	store := NewBreakerStore(inner, BreakerConfig{ConsecutiveFailures: 1, OpenTimeout: 50 * time.Millisecond})
	ctx := context.Background()

	gomock.InOrder(
		inner.EXPECT().List(gomock.Any(), "lock:*").Return(nil, errors.New("down")),
		inner.EXPECT().List(gomock.Any(), "lock:*").Return([]RemoteLock{{Key: "lock:a"}}, nil),
	)

	_, err := store.List(ctx, "lock:*")
	require.Error(t, err)
	_, err = store.List(ctx, "lock:*")
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	time.Sleep(80 * time.Millisecond)
	locks, err := store.List(ctx, "lock:*")
	require.NoError(t, err)
	assert.Len(t, locks, 1)
	assert.Equal(t, gobreaker.StateClosed, store.(*BreakerStore).State())
}

func TestBreakerStore_PreservesNotifier(t *testing.T) {
	_, redisStore := newTestStore(t)
	wrapped := NewBreakerStore(redisStore, BreakerConfig{})
	_, ok := wrapped.(Notifier)
	assert.True(t, ok)

	ctrl := gomock.NewController(t)
	plain := NewBreakerStore(NewMockStore(ctrl), BreakerConfig{})
	_, ok = plain.(Notifier)
	assert.False(t, ok)

	// pub/sub 注册表可以使用包装后的存储
	reg := newTestRegistry(t, wrapped, WithMode(ModePubSub))
	l, _ := reg.Obtain("wrapped")
	ctx := holderCtx()
	require.NoError(t, l.Lock(ctx))
	require.NoError(t, l.Unlock(ctx))
}
