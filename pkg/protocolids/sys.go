package protocolids

import "github.com/FelixRiddle/swarm-weave/pkg/types"

// ============================================================================
//                              连接升级
// ============================================================================

// Noise Noise XX 安全通道
const Noise types.ProtocolID = "/noise"

// Yamux yamux 流多路复用
const Yamux types.ProtocolID = "/yamux/1.0.0"

// ============================================================================
//                              系统协议
// ============================================================================

// Identify 节点自描述交换
const Identify types.ProtocolID = "/ipfs/id/1.0.0"

// IdentifyProtocolVersion identify 报文中的协议版本字段
const IdentifyProtocolVersion = "/ipfs/0.1.0"

// Ping 连接存活探测
const Ping types.ProtocolID = "/ipfs/ping/1.0.0"

// AutoNAT 外部可达性探测
const AutoNAT types.ProtocolID = "/libp2p/autonat/1.0.0"

// RelayHop 中继服务端协议（预留 / 建立电路）
const RelayHop types.ProtocolID = "/libp2p/circuit/relay/0.2.0/hop"

// RelayStop 中继目标端协议（接收电路）
const RelayStop types.ProtocolID = "/libp2p/circuit/relay/0.2.0/stop"

// ============================================================================
//                              消息协议
// ============================================================================

// GossipSub gossipsub v1.1
const GossipSub types.ProtocolID = "/meshsub/1.1.0"

// System 返回所有系统协议
func System() []types.ProtocolID {
	return []types.ProtocolID{Identify, Ping, AutoNAT, RelayHop, RelayStop}
}

// All 返回所有流协议（不含连接升级协议）
func All() []types.ProtocolID {
	return append(System(), GossipSub)
}
