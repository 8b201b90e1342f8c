// Package xlru 提供带淘汰判定的有界 LRU 缓存。
//
// xlru 基于 github.com/hashicorp/golang-lru/v2/simplelru 封装，
// 容量淘汰由 Cache 自己驱动，淘汰前通过 WithEvictable 判定候选条目。
// 返回 false 的条目（例如正在被持有的锁）不会因容量被淘汰，
// 此时缓存允许暂时超过 Config.Size。
//
// # 核心特性
//
//   - 泛型支持：任意 comparable 键与任意值
//   - 显式淘汰判定：WithEvictable
//   - 原子的查找或创建：GetOrSet
//   - 条件批量删除：RemoveIf
//   - 并发安全：所有操作由一把 sync.Mutex 保护
//
// # 注意事项
//
//   - 淘汰回调、Range 回调、GetOrSet 的 create 都在锁内执行，严禁回调 Cache 自身方法
//   - Delete、RemoveIf、Clear 不触发 WithOnEvicted
//   - Keys() 分配新切片，复杂度 O(n)
package xlru
