// Package relay 实现单跳电路中继（circuit relay v2）
//
// 中继端（Service）：
//
//   - RESERVE：为节点登记预留，返回中继地址、有效期与电路限制
//   - CONNECT：源节点请求连到已预留的目标，中继向目标打开 stop 流后双向转发
//   - 每条电路受持续时间与单向字节数限制，总带宽可选限速
//   - 经中继到达的连接不能再次请求中继（只允许一跳）
//
// 客户端（Transport）实现 p2p-circuit 传输：
//
//   - Dial 经中继建立电路，在电路上完成 Noise 与 Yamux 升级
//   - Listen 向中继预留并定期续租，接收 stop 流作为入站连接
//
// 电路地址格式：
//
//	/ip4/<relay-ip>/tcp/<port>/p2p/<relay-id>/p2p-circuit/p2p/<dest-id>
package relay
