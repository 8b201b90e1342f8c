package xdlock

import (
	"context"
	"sync"
	"time"
)

// localMutex 以 holder 为所有者的可重入互斥。
//
// sem 是容量为 1 的信号量，占用即表示被某个 holder 持有；
// owner 与 count 由 mu 保护，count 为该 holder 未配对的加锁次数。
type localMutex struct {
	sem   chan struct{}
	mu    sync.Mutex
	owner string
	count int
}

func newLocalMutex() *localMutex {
	return &localMutex{sem: make(chan struct{}, 1)}
}

// localTable 按远端 key 管理本地互斥，引用计数覆盖持有者与等待者。
//
// 互斥不挂在可被淘汰的 Lock 条目上：同名的多个 Lock 对象共享同一个互斥，
// 条目在最后一个引用释放时删除。
type localTable struct {
	mu      sync.Mutex
	entries map[string]*localEntry
}

type localEntry struct {
	m    *localMutex
	refs int
}

func newLocalTable() *localTable {
	return &localTable{entries: make(map[string]*localEntry)}
}

// acquire 引用 key 的互斥，不存在时创建。必须与 release 配对。
func (t *localTable) acquire(key string) *localMutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		e = &localEntry{m: newLocalMutex()}
		t.entries[key] = e
	}
	e.refs++
	return e.m
}

func (t *localTable) release(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		return
	}
	if e.refs--; e.refs <= 0 {
		delete(t.entries, key)
	}
}

// get 返回 key 当前的互斥，无人持有或等待时返回 nil。
func (t *localTable) get(key string) *localMutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[key]; ok {
		return e.m
	}
	return nil
}

func (t *localTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// reenter 若 holder 已持有则计数加一并返回 true。
func (m *localMutex) reenter(holder string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.count > 0 && m.owner == holder {
		m.count++
		return true
	}
	return false
}

func (m *localMutex) claim(holder string) {
	m.mu.Lock()
	m.owner = holder
	m.count = 1
	m.mu.Unlock()
}

// lock 阻塞直到获取或 ctx 结束，返回是否为重入。
func (m *localMutex) lock(ctx context.Context, holder string) (reentrant bool, err error) {
	if m.reenter(holder) {
		return true, nil
	}
	select {
	case m.sem <- struct{}{}:
		m.claim(holder)
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// tryLock 在 wait 内尝试获取，wait <= 0 表示只尝试一次。
// 超时返回 acquired=false 且 err=nil，ctx 结束返回 ctx.Err()。
func (m *localMutex) tryLock(ctx context.Context, holder string, wait time.Duration) (acquired, reentrant bool, err error) {
	if m.reenter(holder) {
		return true, true, nil
	}
	if wait <= 0 {
		select {
		case m.sem <- struct{}{}:
			m.claim(holder)
			return true, false, nil
		default:
			return false, false, nil
		}
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case m.sem <- struct{}{}:
		m.claim(holder)
		return true, false, nil
	case <-timer.C:
		return false, false, nil
	case <-ctx.Done():
		return false, false, ctx.Err()
	}
}

// unlock 计数减一，返回剩余计数。holder 未持有时返回 ErrNotOwner。
func (m *localMutex) unlock(holder string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.count == 0 || m.owner != holder {
		return 0, ErrNotOwner
	}
	m.count--
	if m.count == 0 {
		m.owner = ""
		<-m.sem
	}
	return m.count, nil
}

// handOff 把持有权整体转交给 to（计数归一），from 未持有时返回 ErrNotOwner。
func (m *localMutex) handOff(from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.count == 0 || m.owner != from {
		return ErrNotOwner
	}
	m.owner = to
	m.count = 1
	return nil
}

// heldBy 判断 holder 是否持有。
func (m *localMutex) heldBy(holder string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count > 0 && m.owner == holder
}

// locked 判断是否被任意 holder 持有，包括已占用信号量但尚未登记 owner 的瞬间。
func (m *localMutex) locked() bool {
	return len(m.sem) > 0
}

// holdCount 返回持有者的重入计数。
func (m *localMutex) holdCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}
