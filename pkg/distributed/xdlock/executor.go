package xdlock

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Executor 运行后台任务（异步释放远端锁）。
type Executor interface {
	Go(fn func())
}

// ExecutorFunc 将函数适配为 Executor。
type ExecutorFunc func(fn func())

func (f ExecutorFunc) Go(fn func()) { f(fn) }

// groupExecutor 注册表自有的执行器，Destroy 时等待所有任务完成。
type groupExecutor struct {
	g errgroup.Group
}

func (e *groupExecutor) Go(fn func()) {
	e.g.Go(func() error {
		fn()
		return nil
	})
}

// wait 等待任务完成，ctx 结束时提前返回 ctx.Err()。
func (e *groupExecutor) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		_ = e.g.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
