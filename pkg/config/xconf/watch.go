package xconf

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch 监视配置文件，变更时重载并调用 onChange，阻塞直到 ctx 结束。
//
// 监视的是文件所在目录，编辑器"写临时文件再 rename"的保存方式也能被捕获。
// onChange 的 err 非 nil 表示重载失败（旧配置保持不变）或监视出错。
// ctx 结束时返回 nil。
func Watch(ctx context.Context, c *Config, onChange func(c *Config, err error), opts ...WatchOption) error {
	if c.path == "" {
		return ErrNotReloadable
	}
	wo := &watchOptions{debounce: 100 * time.Millisecond}
	for _, opt := range opts {
		if opt != nil {
			opt(wo)
		}
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("xconf: create watcher: %w", err)
	}
	defer func() { _ = w.Close() }()

	dir := filepath.Dir(c.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("xconf: watch directory %s: %w", dir, err)
	}
	filename := filepath.Base(c.path)

	// 防抖：事件只重置定时器，定时器在本 goroutine 中触发重载
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != filename {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				timer.Reset(wo.debounce)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			if onChange != nil {
				onChange(c, fmt.Errorf("xconf: watch: %w", err))
			}

		case <-timer.C:
			err := c.Reload()
			if onChange != nil {
				onChange(c, err)
			}
		}
	}
}
