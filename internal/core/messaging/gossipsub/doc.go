// Package gossipsub 实现 GossipSub v1.1 广播消息协议
//
// 协议 ID 为 /meshsub/1.1.0。每个主题维护一个大小在 [Dlo, Dhi] 之间的
// mesh，消息沿 mesh 转发，心跳时通过 IHAVE/IWANT 向 mesh 外节点补发。
//
// 消息校验采用严格签名模式：每条消息必须携带发送者公钥与签名，
// 未签名或伪造的消息在投递前丢弃。消息 ID 由负载内容决定
// （xxhash 的十进制字符串），相同负载在全网去重。
//
// 显式节点（explicit peer）不进入 mesh，但订阅了主题时总会收到转发。
package gossipsub
