// Package swarm 管理节点的连接、监听器与流
//
// Swarm 持有全部传输（TCP、QUIC、中继电路），负责：
//   - 在监听地址上接受连接，并对外通知地址变化
//   - 拨号（同一节点的并发拨号合并为一次）
//   - 按协议分派入站流（multistream-select 协商）
//   - 关闭无流且空闲超时的连接
//
// 上层通过 Notifiee 接收连接与监听事件。
package swarm
