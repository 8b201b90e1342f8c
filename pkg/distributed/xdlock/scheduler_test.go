package xdlock

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickerScheduler_RunsUntilTaskStops(t *testing.T) {
	s := NewTickerScheduler()
	defer s.Stop()

	var runs atomic.Int32
	done := make(chan struct{})
	s.Schedule(5*time.Millisecond, func(context.Context) bool {
		if runs.Add(1) == 3 {
			close(done)
			return false
		}
		return true
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run three times")
	}
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(3), runs.Load())
}

func TestTickerScheduler_Cancel(t *testing.T) {
	s := NewTickerScheduler()
	defer s.Stop()

	var runs atomic.Int32
	cancel := s.Schedule(5*time.Millisecond, func(context.Context) bool {
		runs.Add(1)
		return true
	})
	require.Eventually(t, func() bool { return runs.Load() > 0 }, time.Second, time.Millisecond)
	cancel()
	cancel()

	time.Sleep(20 * time.Millisecond)
	n := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, runs.Load())
}

func TestTickerScheduler_Stop(t *testing.T) {
	s := NewTickerScheduler()
	var ctxErr atomic.Value
	s.Schedule(time.Millisecond, func(ctx context.Context) bool {
		<-ctx.Done()
		ctxErr.Store(ctx.Err())
		return false
	})
	time.Sleep(10 * time.Millisecond)
	s.Stop()
	assert.Equal(t, context.Canceled, ctxErr.Load())

	var ran atomic.Bool
	s.Schedule(time.Millisecond, func(context.Context) bool {
		ran.Store(true)
		return false
	})
	time.Sleep(10 * time.Millisecond)
	assert.False(t, ran.Load(), "Stop 之后调度的任务不会运行")
}
