// Package mdns 提供基于 mDNS 的局域网节点发现
//
// Discoverer 同时扮演服务端与客户端：
//   - 服务端以 "_p2p._udp" 服务通告本节点，TXT 记录携带节点 ID 与可拨号地址
//   - 客户端按 QueryInterval 周期查询，新节点产生 Discovered 事件
//   - 超过 TTL 未再出现的节点产生 Expired 事件
//
// 每个 Discovered 之后、同一节点再次 Discovered 之前必有且仅有一个 Expired，
// 上层据此维护显式节点集合。
//
// # TXT 记录
//
//	id=<peer id>
//	addrs=<multiaddr>,<multiaddr>,...
//
// 单条 TXT 不超过 255 字节，地址过多时拆分为多条 addrs= 记录。
package mdns
