// Package protocolids 定义 swarm-weave 使用的全部协议 ID。
//
// # 唯一真源原则
//
// 模块、测试与命令行工具需要协议 ID 时引用本包常量，不在其他位置定义字面量。
//
// # 分类
//
//   - 连接升级协议：安全通道与多路复用（/noise、/yamux/1.0.0）
//   - 系统协议：identify、ping、autonat、circuit relay v2
//   - 消息协议：gossipsub（/meshsub/1.1.0）
//
// 协议 ID 与 libp2p 生态保持一致，便于与其他实现互通。
package protocolids
