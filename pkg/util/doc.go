// Package util 提供通用工具相关的子包。
//
// 子包列表：
//   - xlru: 泛型 LRU 缓存，支持按条件保护条目不被淘汰
package util
