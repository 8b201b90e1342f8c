package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xlockreg/pkg/distributed/xdlock"
)

func runCLI(t *testing.T, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code = run(context.Background(), append([]string{"xlockctl"}, args...), &out, &errOut)
	return code, out.String(), errOut.String()
}

// lockWithRegistry 在 CLI 之外持有一把锁
func lockWithRegistry(t *testing.T, mr *miniredis.Miniredis, name string, opts ...xdlock.Option) *xdlock.Registry {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	store, err := xdlock.NewRedisStore(client)
	require.NoError(t, err)
	reg, err := xdlock.NewRegistry(store, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Destroy(context.Background()) })

	l, err := reg.Obtain(name)
	require.NoError(t, err)
	ctx := xdlock.WithHolder(context.Background(), "test")
	require.NoError(t, l.Lock(ctx))
	t.Cleanup(func() { _ = l.Unlock(ctx) })
	return reg
}

func TestHealth(t *testing.T) {
	mr := miniredis.RunT(t)

	addr := mr.Addr()
	code, out, _ := runCLI(t, "--redis", addr, "health")
	assert.Equal(t, exitOK, code)
	assert.Equal(t, "ok\n", out)

	mr.Close()
	code, _, errOut := runCLI(t, "--redis", addr, "--timeout", "500ms", "health")
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, errOut, "错误")
}

func TestHold_AcquiresAndReleases(t *testing.T) {
	mr := miniredis.RunT(t)

	code, out, errOut := runCLI(t, "--redis", mr.Addr(), "--prefix", "ops", "hold", "--for", "50ms", "backup")
	require.Equal(t, exitOK, code, errOut)
	assert.Contains(t, out, "acquired ops:backup")
	assert.Contains(t, out, "released ops:backup")
	assert.False(t, mr.Exists("ops:backup"))
}

func TestHold_NotAcquired(t *testing.T) {
	mr := miniredis.RunT(t)
	lockWithRegistry(t, mr, "backup", xdlock.WithKeyPrefix("ops"))

	code, out, _ := runCLI(t, "--redis", mr.Addr(), "--prefix", "ops", "hold", "--wait", "0", "backup")
	assert.Equal(t, exitNotAcquired, code)
	assert.NotContains(t, out, "acquired")
}

func TestHold_RequiresName(t *testing.T) {
	code, _, errOut := runCLI(t, "hold")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, errOut, "hold requires exactly one lock name")
}

func TestExec_RunsCommandUnderLock(t *testing.T) {
	mr := miniredis.RunT(t)

	code, out, errOut := runCLI(t, "--redis", mr.Addr(), "exec", "nightly", "--", "sh", "-c", "echo running")
	require.Equal(t, exitOK, code, errOut)
	assert.Contains(t, out, "acquired lock:nightly")
	assert.Contains(t, out, "running\n")
	assert.Contains(t, out, "released lock:nightly")
	assert.False(t, mr.Exists("lock:nightly"))
}

func TestExec_PropagatesExitCode(t *testing.T) {
	mr := miniredis.RunT(t)

	code, out, _ := runCLI(t, "--redis", mr.Addr(), "exec", "nightly", "--", "sh", "-c", "exit 7")
	assert.Equal(t, 7, code)
	assert.Contains(t, out, "released lock:nightly")
}

func TestExec_RequiresCommand(t *testing.T) {
	code, _, _ := runCLI(t, "exec", "nightly")
	assert.Equal(t, exitUsage, code)
}

func TestList(t *testing.T) {
	mr := miniredis.RunT(t)

	code, out, _ := runCLI(t, "--redis", mr.Addr(), "list")
	require.Equal(t, exitOK, code)
	assert.Equal(t, "no locks\n", out)

	reg := lockWithRegistry(t, mr, "orders")
	code, out, _ = runCLI(t, "--redis", mr.Addr(), "list")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "orders")
	assert.Contains(t, out, reg.ClientID())
}

func TestRenew(t *testing.T) {
	mr := miniredis.RunT(t)
	lockWithRegistry(t, mr, "orders", xdlock.WithClientID("worker-1"), xdlock.WithTTL(10*time.Second))
	mr.FastForward(8 * time.Second)

	code, _, errOut := runCLI(t, "--redis", mr.Addr(), "renew", "orders")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, errOut, "--client-id")

	code, out, errOut := runCLI(t, "--redis", mr.Addr(), "--client-id", "worker-1", "--ttl", "10s", "renew", "orders")
	require.Equal(t, exitOK, code, errOut)
	assert.Equal(t, "renewed lock:orders\n", out)
	assert.Equal(t, 10*time.Second, mr.TTL("lock:orders"))

	code, _, errOut = runCLI(t, "--redis", mr.Addr(), "--client-id", "someone-else", "renew", "orders")
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, errOut, "is not held by someone-else")
}

func TestInvalidMode(t *testing.T) {
	mr := miniredis.RunT(t)
	code, _, errOut := runCLI(t, "--redis", mr.Addr(), "--mode", "bogus", "health")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, errOut, "参数错误")
}

func TestRedlockRejectsPubSub(t *testing.T) {
	a, b := miniredis.RunT(t), miniredis.RunT(t)
	code, _, _ := runCLI(t, "-r", a.Addr(), "-r", b.Addr(), "--mode", "pubsub", "health")
	assert.Equal(t, exitUsage, code)
}

func TestRedlockHoldWithBreaker(t *testing.T) {
	nodes := []*miniredis.Miniredis{miniredis.RunT(t), miniredis.RunT(t), miniredis.RunT(t)}
	args := []string{}
	for _, n := range nodes {
		args = append(args, "-r", n.Addr())
	}
	code, out, errOut := runCLI(t, append(args, "--breaker", "hold", "--for", "10ms", "job")...)
	require.Equal(t, exitOK, code, errOut)
	assert.Contains(t, out, "released lock:job")
}

// =============================================================================
// 配置
// =============================================================================

func TestConfigPrecedence(t *testing.T) {
	mr := miniredis.RunT(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "xlockctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
redis:
  addrs: ["`+mr.Addr()+`"]
lock:
  key_prefix: from-file
  ttl: 20s
log:
  level: warn
`), 0o600))

	t.Setenv("XLOCKCTL_LOCK__KEY_PREFIX", "from-env")

	code, out, errOut := runCLI(t, "--config", path, "hold", "--for", "10ms", "a")
	require.Equal(t, exitOK, code, errOut)
	assert.Contains(t, out, "acquired from-env:a")

	code, out, errOut = runCLI(t, "--config", path, "--prefix", "from-flag", "hold", "--for", "10ms", "a")
	require.Equal(t, exitOK, code, errOut)
	assert.Contains(t, out, "acquired from-flag:a")
}

func TestConfigMissingFile(t *testing.T) {
	code, _, errOut := runCLI(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "health")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, errOut, "参数错误")
}

func TestNoRedisAddress(t *testing.T) {
	t.Setenv("XLOCKCTL_REDIS__ADDRS", "")
	code, _, errOut := runCLI(t, "health")
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, errOut, errNoRedis.Error())
}

// =============================================================================
// 退出码
// =============================================================================

func TestExitCode(t *testing.T) {
	var buf bytes.Buffer
	assert.Equal(t, 3, exitCode(&exitError{code: 3}, &buf))
	assert.Equal(t, exitUsage, exitCode(&usageError{msg: "bad"}, &buf))
	assert.Equal(t, exitUsage, exitCode(errors.New("flag provided but not defined: -x"), &buf))
	assert.Equal(t, exitFailure, exitCode(errors.New("boom"), &buf))
	assert.Contains(t, buf.String(), "参数错误: bad")
	assert.Contains(t, buf.String(), "错误: boom")
}

func TestRenewInterval(t *testing.T) {
	assert.Equal(t, xdlock.DefaultTTL/3, renewInterval(0))
	assert.Equal(t, time.Second, renewInterval(3*time.Second))
	assert.Equal(t, time.Millisecond, renewInterval(2*time.Nanosecond))
}
