package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
	"github.com/urfave/cli/v3"

	"github.com/omeyang/xlockreg/pkg/config/xconf"
	"github.com/omeyang/xlockreg/pkg/distributed/xdlock"
	"github.com/omeyang/xlockreg/pkg/observability/xlog"
)

var errNoRedis = errors.New("no redis address configured")

// app 一次命令执行所需的运行时资源。
type app struct {
	conf     *xconf.Config
	cfg      appConfig
	logger   xlog.LoggerWithLevel
	closeLog func() error
	clients  []redis.UniversalClient
	reg      *xdlock.Registry
	out      io.Writer
	errOut   io.Writer
}

// setup 加载配置并创建日志、存储与注册表。
func setup(ctx context.Context, cmd *cli.Command) (*app, error) {
	conf, cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, &usageError{msg: err.Error()}
	}

	root := cmd.Root()
	a := &app{conf: conf, cfg: cfg, out: root.Writer, errOut: root.ErrWriter}

	a.logger, a.closeLog, err = newLogger(cfg.Log, a.errOut)
	if err != nil {
		return nil, &usageError{msg: err.Error()}
	}

	store, clients, err := newStore(cfg.Redis, a.logger)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	a.clients = clients

	opts, err := cfg.Lock.Options()
	if err != nil {
		a.close(ctx)
		return nil, &usageError{msg: err.Error()}
	}
	opts = append(opts, xdlock.WithLogger(a.logger))

	a.reg, err = xdlock.NewRegistry(store, opts...)
	if err != nil {
		a.close(ctx)
		if errors.Is(err, xdlock.ErrInvalidConfig) || errors.Is(err, xdlock.ErrNotifierRequired) {
			return nil, &usageError{msg: err.Error()}
		}
		return nil, err
	}
	return a, nil
}

// close 依次销毁注册表、关闭连接与日志文件，错误只记录不返回。
func (a *app) close(ctx context.Context) {
	if a.reg != nil {
		if err := a.reg.Destroy(context.WithoutCancel(ctx)); err != nil {
			a.logger.Warn(ctx, "destroy registry failed", xlog.Err(err))
		}
	}
	for _, c := range a.clients {
		_ = c.Close()
	}
	if a.closeLog != nil {
		_ = a.closeLog()
	}
}

func newLogger(cfg logConfig, stderr io.Writer) (xlog.LoggerWithLevel, func() error, error) {
	b := xlog.New().
		SetOutput(stderr).
		SetLevelString(cfg.Level).
		SetFormat(cfg.Format)
	if cfg.File != "" {
		b.SetRotation(cfg.File, cfg.Rotation)
	}
	return b.Build()
}

// newStore 单地址使用 RedisStore，多地址使用 RedlockStore。
func newStore(cfg redisConfig, logger xlog.Logger) (xdlock.Store, []redis.UniversalClient, error) {
	if len(cfg.Addrs) == 0 {
		return nil, nil, errNoRedis
	}
	clients := make([]redis.UniversalClient, 0, len(cfg.Addrs))
	for _, addr := range cfg.Addrs {
		clients = append(clients, redis.NewClient(&redis.Options{
			Addr:        addr,
			Password:    cfg.Password,
			DB:          cfg.DB,
			DialTimeout: cfg.DialTimeout,
		}))
	}

	var (
		store xdlock.Store
		err   error
	)
	if len(clients) == 1 {
		store, err = xdlock.NewRedisStore(clients[0])
	} else {
		store, err = xdlock.NewRedlockStore(clients...)
	}
	if err != nil {
		for _, c := range clients {
			_ = c.Close()
		}
		return nil, nil, fmt.Errorf("create store: %w", err)
	}

	if cfg.Breaker {
		store = xdlock.NewBreakerStore(store, xdlock.BreakerConfig{
			Name: "xlockctl",
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn(context.Background(), "store breaker state changed",
					slog.String("breaker", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()))
			},
		})
	}
	return store, clients, nil
}
