package xlru

import (
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// maxSize 缓存最大条目数上限。
//
// 底层 simplelru 以该值创建，容量淘汰由 Cache 自己执行，
// 这样不可淘汰（pinned）的条目可以让缓存暂时超出 Config.Size。
const maxSize = 1 << 24 // 16,777,216

// Config 定义缓存配置。
type Config struct {
	// Size 缓存最大条目数。
	// 必须大于 0 且不超过 16,777,216。
	Size int
}

// Option 定义缓存可选配置函数类型。
type Option[K comparable, V any] func(*options[K, V])

type options[K comparable, V any] struct {
	onEvicted func(key K, value V)
	evictable func(key K, value V) bool
}

// WithOnEvicted 设置条目因容量被淘汰时的回调函数。
//
// 回调在 Cache 的互斥锁内同步执行，严禁在回调中调用 Cache 自身的方法，否则会死锁。
// Delete、RemoveIf、Clear 不触发该回调。
func WithOnEvicted[K comparable, V any](fn func(key K, value V)) Option[K, V] {
	return func(o *options[K, V]) {
		o.onEvicted = fn
	}
}

// WithEvictable 设置淘汰判定函数。
//
// 容量淘汰前对候选条目调用 fn，返回 false 的条目被跳过（并提升为最近使用），
// 淘汰继续检查下一个最旧条目。所有条目都不可淘汰时，缓存允许暂时超过容量。
// 默认所有条目均可淘汰。
func WithEvictable[K comparable, V any](fn func(key K, value V) bool) Option[K, V] {
	return func(o *options[K, V]) {
		o.evictable = fn
	}
}

// Cache 是带淘汰判定的有界 LRU 缓存。
// 必须通过 [New] 函数创建，零值不可用。
// 所有方法都是并发安全的。
type Cache[K comparable, V any] struct {
	mu   sync.Mutex
	lru  *simplelru.LRU[K, V]
	size int
	opts options[K, V]
}

// New 创建新的 LRU 缓存。
// 如果 cfg.Size <= 0，返回 ErrInvalidSize。
// 如果 cfg.Size > maxSize (16,777,216)，返回 ErrSizeExceedsMax。
func New[K comparable, V any](cfg Config, opts ...Option[K, V]) (*Cache[K, V], error) {
	if cfg.Size <= 0 {
		return nil, ErrInvalidSize
	}
	if cfg.Size > maxSize {
		return nil, ErrSizeExceedsMax
	}

	c := &Cache[K, V]{size: cfg.Size}
	for _, opt := range opts {
		if opt != nil {
			opt(&c.opts)
		}
	}

	lru, err := simplelru.NewLRU[K, V](maxSize, nil)
	if err != nil {
		return nil, err
	}
	c.lru = lru
	return c, nil
}

// Get 获取缓存值并标记为最近使用。
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Get(key)
}

// Peek 获取缓存值但不更新 LRU 顺序。
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Peek(key)
}

// Set 设置缓存值，返回因容量被淘汰的条目数。
func (c *Cache[K, V]) Set(key K, value V) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, value)
	return c.evictLocked(key)
}

// GetOrSet 返回已存在的值；不存在时以 create 的结果插入。
//
// 返回值 created 表示本次是否插入了新条目，evicted 为插入引起的淘汰数。
// 查找与插入在同一把锁内完成，create 同样在锁内执行，应保持轻量。
func (c *Cache[K, V]) GetOrSet(key K, create func() V) (value V, created bool, evicted int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.lru.Get(key); ok {
		return v, false, 0
	}
	value = create()
	c.lru.Add(key, value)
	return value, true, c.evictLocked(key)
}

// Delete 删除缓存条目，返回 true 表示键存在并被删除。
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Remove(key)
}

// RemoveIf 删除所有满足 pred 的条目，返回删除数量。
//
// pred 是显式判定，不受 WithEvictable 约束，调用方需自行排除不可删除的条目。
func (c *Cache[K, V]) RemoveIf(pred func(key K, value V) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for _, k := range c.lru.Keys() {
		v, ok := c.lru.Peek(k)
		if ok && pred(k, v) {
			c.lru.Remove(k)
			removed++
		}
	}
	return removed
}

// Range 按从最旧到最新的顺序遍历条目，fn 返回 false 时停止。
// 不更新 LRU 顺序。fn 在锁内执行，严禁调用 Cache 自身的方法。
func (c *Cache[K, V]) Range(fn func(key K, value V) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range c.lru.Keys() {
		v, ok := c.lru.Peek(k)
		if ok && !fn(k, v) {
			return
		}
	}
}

// Len 返回当前缓存条目数。
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Cap 返回配置的容量。
func (c *Cache[K, V]) Cap() int {
	return c.size
}

// Keys 返回所有键的切片，按从最旧到最新的顺序排列。
func (c *Cache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Keys()
}

// Clear 清空所有缓存条目。
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// evictLocked 在超出容量时淘汰最旧的可淘汰条目，刚写入的 keep 不参与淘汰。
//
// 不可淘汰的条目被提升到最近使用端，因此每个条目最多被检查一次，
// 全部不可淘汰时循环在 Len 次后结束。
func (c *Cache[K, V]) evictLocked(keep K) int {
	evicted := 0
	for checks := c.lru.Len(); c.lru.Len() > c.size && checks > 0; checks-- {
		k, v, ok := c.lru.GetOldest()
		if !ok {
			break
		}
		if k == keep || (c.opts.evictable != nil && !c.opts.evictable(k, v)) {
			c.lru.Get(k)
			continue
		}
		c.lru.Remove(k)
		evicted++
		if c.opts.onEvicted != nil {
			c.opts.onEvicted(k, v)
		}
	}
	return evicted
}
