// Package identify 实现节点自描述交换
//
// 连接建立后双方各自打开一条 identify 流，读取对端的自描述：
//   - 协议版本与代理版本
//   - 公钥（须与对端节点 ID 匹配）
//   - 监听地址与支持的协议
//   - 对端观测到的本地地址
//
// # 协议 ID
//
//	/ipfs/id/1.0.0
//
// # 报文
//
// 单条 uvarint 长度前缀的 protobuf 消息，字段编号与 libp2p Identify 一致，
// 地址以文本形式编码。
//
// 收到的信息写入 Peerstore，并以 Event 形式交给上层；
// 是否采纳观测地址由上层决定。
package identify
