// Package distributed 提供分布式协调相关的子包。
//
// 子包列表：
//   - xdlock: 分布式锁注册表，支持单节点 Redis 与 Redlock 多节点存储，spin/pubsub 两种获取模式
package distributed
