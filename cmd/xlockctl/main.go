// xlockctl 是 xdlock 分布式锁注册表的运维命令行工具。
//
// 用法:
//
//	xlockctl [全局选项] <命令> [命令参数]
//
// 全局选项:
//
//	-c, --config      配置文件路径（.yaml/.yml/.json）
//	-r, --redis       Redis 地址，可重复；多个地址时使用 Redlock 存储
//	    --breaker     存储访问包裹熔断器
//	-p, --prefix      注册表 key 前缀
//	    --ttl         锁租期
//	    --mode        获取模式 spin/pubsub
//	    --client-id   以指定 clientID 身份操作（renew 必需）
//	    --log-level   日志级别 (debug/info/warn/error)
//	    --log-format  日志格式 (text/json)
//	    --log-file    日志文件，按大小轮转
//	-t, --timeout     list/renew/health 的超时时间 (默认: 10s)
//
// 配置优先级: 命令行 > 环境变量 (XLOCKCTL_*) > 配置文件 > 默认值。
// 环境变量中双下划线表示层级，如 XLOCKCTL_LOCK__TTL=30s。
//
// 命令:
//
//	hold <name>            获取锁并持有，直到 --for 到期或收到信号
//	exec <name> -- <cmd>   持有锁期间执行命令，返回命令的退出码
//	list                   列出远端锁
//	renew <name>           以 --client-id 身份续期锁
//	health                 检查存储连通性
//
// 退出码:
//
//	0: 成功
//	1: 执行失败
//	2: 参数错误
//	3: 未能在等待时间内获取锁
//	130: exec 执行期间收到信号
//
// 示例:
//
//	xlockctl -r 127.0.0.1:6379 hold billing --for 30s
//	xlockctl -r 127.0.0.1:6379 exec --wait 5s nightly -- ./backup.sh
//	xlockctl -r n1:6379 -r n2:6379 -r n3:6379 list
//	xlockctl --client-id 6f1c... renew billing
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/omeyang/xlockreg/pkg/distributed/xdlock"
)

// defaultTimeout 单次远端操作的默认超时。
const defaultTimeout = 10 * time.Second

// 退出码
const (
	exitOK          = 0
	exitFailure     = 1
	exitUsage       = 2
	exitNotAcquired = 3
	exitInterrupted = 130
)

// 版本信息（可通过 -ldflags 注入）。
var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run(context.Background(), os.Args, os.Stdout, os.Stderr))
}

// createApp 创建 CLI 应用。
func createApp(stdout, stderr io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "xlockctl",
		Usage:     "分布式锁注册表运维工具",
		Version:   fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "配置文件路径",
			},
			&cli.StringSliceFlag{
				Name:    "redis",
				Aliases: []string{"r"},
				Usage:   "Redis 地址，可重复；多个地址时使用 Redlock",
			},
			&cli.BoolFlag{
				Name:  "breaker",
				Usage: "存储访问包裹熔断器",
			},
			&cli.StringFlag{
				Name:    "prefix",
				Aliases: []string{"p"},
				Usage:   "注册表 key 前缀",
				Value:   xdlock.DefaultKeyPrefix,
			},
			&cli.DurationFlag{
				Name:  "ttl",
				Usage: "锁租期",
				Value: xdlock.DefaultTTL,
			},
			&cli.StringFlag{
				Name:  "mode",
				Usage: "获取模式 spin/pubsub",
				Value: "spin",
			},
			&cli.StringFlag{
				Name:  "client-id",
				Usage: "以指定 clientID 身份操作",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "日志级别",
				Value: "info",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "日志格式 text/json",
				Value: "text",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "日志文件路径，为空时输出到 stderr",
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Usage:   "单次远端操作的超时时间",
				Value:   defaultTimeout,
			},
		},
		Commands: createCommands(),
		// 退出码由 run 统一映射，禁止 urfave/cli 直接 os.Exit
		ExitErrHandler: func(_ context.Context, _ *cli.Command, err error) {
			if _, ok := err.(cli.ExitCoder); ok {
				fmt.Fprintln(stderr, err)
			}
		},
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	app := createApp(stdout, stderr)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := app.Run(ctx, args); err != nil {
		return exitCode(err, stderr)
	}
	return exitOK
}

// exitCode 把命令错误映射为退出码，必要时输出错误信息。
func exitCode(err error, stderr io.Writer) int {
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}
	var usageErr *usageError
	if errors.As(err, &usageErr) {
		fmt.Fprintf(stderr, "参数错误: %v\n", usageErr)
		return exitUsage
	}
	if isCLIUsageError(err) {
		return exitUsage
	}
	fmt.Fprintf(stderr, "错误: %v\n", err)
	return exitFailure
}

// isCLIUsageError 识别 urfave/cli 产生的参数错误（未知 flag、无效取值）。
func isCLIUsageError(err error) bool {
	msg := err.Error()
	for _, s := range []string{
		"flag provided but not defined",
		"invalid value",
		"No help topic for",
		"flag needs an argument",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
