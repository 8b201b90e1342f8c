// Package xdlock 提供基于 Redis 的具名分布式锁注册表。
//
// # 核心概念
//
//   - Registry: 锁工厂与缓存，持有 clientID（默认随机 UUID），作为远端 key 的值
//   - Lock: 具名锁条目，本地可重入互斥 + 远端带租期的 key
//   - Store: 原子存储抽象，RedisStore（单节点/Cluster）与 RedlockStore（多节点）
//   - holder: 锁的持有者标识，通过 WithHolder / NewHolder 附加在 ctx 上
//
// 加锁分两层：先在进程内以 holder 为单位仲裁本地互斥，获得本地互斥的 holder
// 再通过 Lua 脚本原子地写入远端 key（registryKey:name → clientID，带 TTL）。
// 同一 holder 可重入，只有最后一次 Unlock 才会删除远端 key。
//
// # 获取模式
//
//	| 模式 | 等待方式 | 存储要求 |
//	|------|----------|----------|
//	| ModeSpin | 每 IdleBetweenTries 轮询一次 | Store |
//	| ModePubSub | 等待释放通知，最长一个 TTL 后复查 | Store + Notifier |
//
// pub/sub 模式下释放脚本在删除 key 的同一原子操作中向 registryKey-notifications
// 发布 key；订阅在首次竞争时惰性建立，断开后下次竞争重新建立。
//
// # 中断语义
//
// Lock 不可中断，ctx 的取消被忽略；LockInterruptibly 与 TryLockTimeout 在 ctx
// 结束时返回包装 ErrLockAcquire 的错误。任何获取失败都会先释放本地互斥。
//
// # 租期与续期
//
// 远端 key 到期后锁被视为丢失。可以通过 WithRenewal 启用自动续期（每 TTL/3 一次），
// 或手动调用 Lock.Renew / Registry.RenewLock。续期发现锁丢失时停止自动续期；
// 随后的 Unlock 返回 ErrLockLost，调用方应将受保护的数据视为可能已被破坏。
//
// # 缓存
//
// 注册表缓存最多 CacheCapacity 个条目，按 LRU 淘汰，被持有的条目永不淘汰
// （此时缓存可以暂时超过容量）。ExpireUnusedOlderThan 与 WithEvictionSweep
// 清理长期未使用的条目。
//
// 详细使用示例请参考 example_test.go。
package xdlock
