// Package nat 提供外部可达性检测与 NAT 穿透辅助
//
// Service 组合了三部分：
//
//   - AutoNAT 客户端：请已连接的服务端用新连接回拨本节点，
//     连续 ConfidenceThreshold 次一致的结果后翻转 Public / Private 状态
//   - AutoNAT 服务端：限速处理回拨请求，只回拨与连接观测 IP 一致的地址；
//     客户端角色不注册该协议
//   - 端口映射与 STUN（默认关闭）：NAT-PMP 优先、UPnP IGD 回退，
//     STUN 查询公网 IP；得到的外部地址以 EventExternalAddr 发布
//
// 子包：
//
//   - natpmp: NAT-PMP 映射（jackpal/gateway + jackpal/go-nat-pmp）
//   - upnp:   UPnP IGD 映射（huin/goupnp）
//   - stun:   STUN Binding 查询（pion/stun）
package nat
