package xdlock

import (
	"context"
	"sync"
	"time"
)

// RenewalScheduler 周期任务调度器，注册表内所有锁的续期任务共享同一个实例。
type RenewalScheduler interface {
	// Schedule 每隔 interval 执行一次 task，task 返回 false 时任务结束。
	// 返回的 cancel 停止任务，可重复调用。
	Schedule(interval time.Duration, task func(ctx context.Context) bool) (cancel func())
}

// TickerScheduler 每个任务一个 goroutine + time.Ticker 的调度器。
type TickerScheduler struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

var _ RenewalScheduler = (*TickerScheduler)(nil)

// NewTickerScheduler 创建调度器，使用完毕调用 Stop。
func NewTickerScheduler() *TickerScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &TickerScheduler{ctx: ctx, cancel: cancel}
}

// Schedule 实现 RenewalScheduler。Stop 之后调度的任务不会运行。
func (s *TickerScheduler) Schedule(interval time.Duration, task func(ctx context.Context) bool) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil || interval <= 0 {
		return func() {}
	}

	taskCtx, cancel := context.WithCancel(s.ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-taskCtx.Done():
				return
			case <-ticker.C:
				if !task(taskCtx) {
					return
				}
			}
		}
	}()
	return cancel
}

// Stop 停止所有任务并等待其退出。
func (s *TickerScheduler) Stop() {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
}
