package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/omeyang/xlockreg/pkg/config/xconf"
	"github.com/omeyang/xlockreg/pkg/distributed/xdlock"
	"github.com/omeyang/xlockreg/pkg/lifecycle/xrun"
	"github.com/omeyang/xlockreg/pkg/observability/xlog"
)

// exitError 命令已完成输出，只需设置退出码。
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// usageError 参数或配置错误，退出码 2。
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func createCommands() []*cli.Command {
	return []*cli.Command{
		createHoldCommand(),
		createExecCommand(),
		createListCommand(),
		createRenewCommand(),
		createHealthCommand(),
	}
}

func waitFlag() cli.Flag {
	return &cli.DurationFlag{
		Name:    "wait",
		Aliases: []string{"w"},
		Usage:   "最长等待时间，未设置时一直等待；0 表示只尝试一次",
	}
}

// acquireRequest 描述如何获取锁
type acquireRequest struct {
	name    string
	wait    time.Duration
	bounded bool
}

func acquireRequestFrom(cmd *cli.Command, name string) acquireRequest {
	return acquireRequest{name: name, wait: cmd.Duration("wait"), bounded: cmd.IsSet("wait")}
}

func createHoldCommand() *cli.Command {
	return &cli.Command{
		Name:      "hold",
		Usage:     "获取锁并持有，直到 --for 到期或收到信号",
		ArgsUsage: "<name>",
		Flags: []cli.Flag{
			waitFlag(),
			&cli.DurationFlag{
				Name:  "for",
				Usage: "持有时长，0 表示直到收到信号",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return &usageError{msg: "hold requires exactly one lock name"}
			}
			return withApp(ctx, cmd, func(ctx context.Context, a *app) error {
				return cmdHold(ctx, a, acquireRequestFrom(cmd, cmd.Args().First()), cmd.Duration("for"))
			})
		},
	}
}

func createExecCommand() *cli.Command {
	return &cli.Command{
		Name:      "exec",
		Usage:     "持有锁期间执行命令",
		ArgsUsage: "<name> -- <command> [args...]",
		Flags:     []cli.Flag{waitFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			args := cmd.Args().Slice()
			if len(args) > 1 && args[1] == "--" {
				args = append(args[:1], args[2:]...)
			}
			if len(args) < 2 {
				return &usageError{msg: "exec requires a lock name and a command"}
			}
			return withApp(ctx, cmd, func(ctx context.Context, a *app) error {
				return cmdExec(ctx, a, acquireRequestFrom(cmd, args[0]), args[1:])
			})
		},
	}
}

func createListCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "列出远端锁",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(ctx, cmd, func(ctx context.Context, a *app) error {
				ctx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
				defer cancel()
				return cmdList(ctx, a)
			})
		},
	}
}

func createRenewCommand() *cli.Command {
	return &cli.Command{
		Name:      "renew",
		Usage:     "以 --client-id 身份续期锁",
		ArgsUsage: "<name>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return &usageError{msg: "renew requires exactly one lock name"}
			}
			return withApp(ctx, cmd, func(ctx context.Context, a *app) error {
				if a.cfg.Lock.ClientID == "" {
					return &usageError{msg: "renew requires --client-id of the current owner"}
				}
				ctx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
				defer cancel()
				return cmdRenew(ctx, a, cmd.Args().First())
			})
		},
	}
}

func createHealthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "检查存储连通性",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(ctx, cmd, func(ctx context.Context, a *app) error {
				ctx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
				defer cancel()
				return cmdHealth(ctx, a)
			})
		},
	}
}

func withApp(ctx context.Context, cmd *cli.Command, fn func(ctx context.Context, a *app) error) error {
	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close(ctx)
	return fn(ctx, a)
}

// =============================================================================
// 命令实现
// =============================================================================

func cmdHold(ctx context.Context, a *app, req acquireRequest, hold time.Duration) error {
	err := runLocked(ctx, a, req, func(ctx context.Context) error {
		if hold <= 0 {
			<-ctx.Done()
			return nil
		}
		t := time.NewTimer(hold)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
		}
		return nil
	})
	if errors.Is(err, xrun.ErrSignal) {
		return nil
	}
	return err
}

func cmdExec(ctx context.Context, a *app, req acquireRequest, argv []string) error {
	err := runLocked(ctx, a, req, func(ctx context.Context) error {
		c := exec.CommandContext(ctx, argv[0], argv[1:]...)
		c.Stdout = a.out
		c.Stderr = a.errOut
		err := c.Run()
		if ctx.Err() != nil {
			// 被信号或锁丢失中断
			return ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &exitError{code: exitErr.ExitCode()}
		}
		return err
	})
	if errors.Is(err, xrun.ErrSignal) {
		return &exitError{code: exitInterrupted}
	}
	return err
}

// runLocked 获取锁后与续期、配置监听并发运行 body，body 结束或锁丢失时释放锁。
func runLocked(ctx context.Context, a *app, req acquireRequest, body func(ctx context.Context) error) error {
	l, err := a.reg.Obtain(req.name)
	if err != nil {
		return &usageError{msg: err.Error()}
	}
	ctx = xdlock.NewHolder(ctx)
	if err := acquire(ctx, l, req); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "acquired %s\n", l.Key())
	a.logger.Info(ctx, "lock acquired", xdlock.AttrLockKey(l.Key()))

	defer func() {
		if err := l.Unlock(context.WithoutCancel(ctx)); err != nil {
			a.logger.Warn(ctx, "unlock failed", xdlock.AttrLockKey(l.Key()), xlog.Err(err))
			return
		}
		fmt.Fprintf(a.out, "released %s\n", l.Key())
	}()

	err = xrun.Run(ctx, []xrun.Option{xrun.WithLogger(a.logger), xrun.WithName("xlockctl")}, func(g *xrun.Group) {
		g.Go("body", func(ctx context.Context) error {
			if err := body(ctx); err != nil {
				return err
			}
			g.Cancel(nil)
			return nil
		})
		g.Go("renew", xrun.Ticker(renewInterval(a.cfg.Lock.TTL), false, func(ctx context.Context) error {
			ok, err := l.Renew(ctx)
			switch {
			case ctx.Err() != nil:
				return nil
			case err != nil:
				return err
			case !ok:
				return fmt.Errorf("%w: %s", xdlock.ErrLockLost, l.Key())
			}
			return nil
		}))
		if a.conf.Path() != "" {
			g.Go("config", func(ctx context.Context) error {
				return xconf.Watch(ctx, a.conf, a.onConfigChange)
			})
		}
	})
	return err
}

func acquire(ctx context.Context, l *xdlock.Lock, req acquireRequest) error {
	if !req.bounded {
		return l.LockInterruptibly(ctx)
	}
	ok, err := l.TryLockTimeout(ctx, req.wait)
	if err != nil {
		return err
	}
	if !ok {
		return &exitError{code: exitNotAcquired}
	}
	return nil
}

func renewInterval(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = xdlock.DefaultTTL
	}
	if d := ttl / 3; d > 0 {
		return d
	}
	return time.Millisecond
}

// onConfigChange 热更新日志级别，其余字段需要重启生效。
func (a *app) onConfigChange(c *xconf.Config, err error) {
	ctx := context.Background()
	if err != nil {
		a.logger.Warn(ctx, "config reload failed, keeping previous config", xlog.Err(err))
		return
	}
	level, perr := xlog.ParseLevel(c.String("log.level"))
	if perr != nil {
		a.logger.Warn(ctx, "invalid log level in reloaded config", xlog.Err(perr))
		return
	}
	a.logger.SetLevel(level)
	a.logger.Info(ctx, "config reloaded", slog.String("level", level.String()))
}

func cmdList(ctx context.Context, a *app) error {
	locks, err := a.reg.ListLocks(ctx)
	if err != nil {
		return err
	}
	if len(locks) == 0 {
		fmt.Fprintln(a.out, "no locks")
		return nil
	}
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tOWNER\tTTL")
	for _, l := range locks {
		ttl := "-"
		if l.TTL > 0 {
			ttl = l.TTL.Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", l.Name, l.Owner, ttl)
	}
	return w.Flush()
}

func cmdRenew(ctx context.Context, a *app, name string) error {
	if err := a.reg.RenewLock(ctx, name); err != nil {
		if xdlock.IsLockLost(err) {
			fmt.Fprintf(a.errOut, "%s is not held by %s\n", name, a.reg.ClientID())
			return &exitError{code: exitFailure}
		}
		return err
	}
	fmt.Fprintf(a.out, "renewed %s:%s\n", a.reg.KeyPrefix(), name)
	return nil
}

func cmdHealth(ctx context.Context, a *app) error {
	if err := a.reg.Health(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "ok")
	return nil
}
