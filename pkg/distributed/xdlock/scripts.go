package xdlock

import (
	"context"
	_ "embed"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

const (
	// scriptOK 脚本执行成功
	scriptOK = 1
)

var (
	//go:embed lua/obtain.lua
	obtainLuaSource string

	//go:embed lua/renew.lua
	renewLuaSource string

	//go:embed lua/unlink_release.lua
	unlinkReleaseLuaSource string

	//go:embed lua/delete_release.lua
	deleteReleaseLuaSource string
)

// scripts 持有所有锁脚本，进程内只创建一次
type scripts struct {
	obtain        *redis.Script
	renew         *redis.Script
	unlinkRelease *redis.Script
	deleteRelease *redis.Script
}

var (
	globalScripts     *scripts
	globalScriptsOnce sync.Once
)

func getScripts() *scripts {
	globalScriptsOnce.Do(func() {
		globalScripts = &scripts{
			obtain:        redis.NewScript(obtainLuaSource),
			renew:         redis.NewScript(renewLuaSource),
			unlinkRelease: redis.NewScript(unlinkReleaseLuaSource),
			deleteRelease: redis.NewScript(deleteReleaseLuaSource),
		}
	})
	return globalScripts
}

// WarmupScripts 预加载锁脚本（SCRIPT LOAD）。
//
// 可选调用：脚本首次执行时会自动加载，预热可以避免首次 EVALSHA 未命中的往返。
func WarmupScripts(ctx context.Context, client redis.Scripter) error {
	if client == nil {
		return ErrNilClient
	}
	s := getScripts()
	for name, script := range map[string]*redis.Script{
		"obtain":         s.obtain,
		"renew":          s.renew,
		"unlink_release": s.unlinkRelease,
		"delete_release": s.deleteRelease,
	} {
		if err := script.Load(ctx, client).Err(); err != nil {
			return fmt.Errorf("xdlock: load %s script: %w", name, err)
		}
	}
	return nil
}
