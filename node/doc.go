// Package node 实现对等节点运行时
//
// Node 把身份、传输栈（TCP + Noise + Yamux、QUIC）、Swarm 与组合行为
// 通过 Fx 组装在一起，并用单个事件循环驱动：
//
//   - 本地输入的每一行发布到主主题 "chat-net"
//   - 局域网发现的节点加入显式广播节点集合，过期时移除
//   - 主主题消息交给 Messages 通道，诊断主题只记录日志
//   - 中继角色下，对端观察到的地址记为外部地址
//
// ctx 取消后执行离开流程：取消订阅、清空显式节点、关闭中继与 Swarm。
//
// 错误使用哨兵值，调用方通过 errors.Is 判断：
//
//	n, err := node.New(cfg)
//	if errors.Is(err, node.ErrConfiguration) {
//	    // 缺少 key_seed 或引导节点参数不完整
//	}
package node
