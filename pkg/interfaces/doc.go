// Package interfaces 定义 swarm-weave 的公共接口
//
// 传输、安全、多路复用与流的抽象都在这里定义，
// 具体实现位于 internal/core 下对应的包。
//
// 依赖关系：
//
//	Transport ──> Upgrader ──> SecureConn ──> MuxedConn ──> Connection ──> Stream
package interfaces
