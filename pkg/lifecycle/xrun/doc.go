// Package xrun 基于 errgroup 管理一组服务的并发运行与协调退出。
//
// 任一服务返回错误、收到信号或调用 Cancel 时，所有服务的 ctx 都会被取消：
//
//	err := xrun.Run(ctx, []xrun.Option{xrun.WithLogger(logger)}, func(g *xrun.Group) {
//	    g.Go("holder", holdLock)
//	    g.Go("status", xrun.Ticker(time.Second, true, printStatus))
//	})
//	if errors.Is(err, xrun.ErrSignal) {
//	    // 正常的信号退出
//	}
package xrun
