package interfaces

import (
	"context"

	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

// Notifiee 接收网络事件
//
// 回调在网络内部 goroutine 中同步调用，实现不得阻塞。
type Notifiee interface {
	// Connected 新连接建立
	Connected(Connection)

	// Disconnected 连接关闭
	Disconnected(Connection)

	// Listen 新监听地址
	Listen(types.Multiaddr)

	// ListenClose 监听地址失效
	ListenClose(types.Multiaddr)
}

// Network 协议组件使用的网络视图
type Network interface {
	// LocalPeer 本地节点 ID
	LocalPeer() types.PeerID

	// SetStreamHandler 注册入站流处理器
	SetStreamHandler(proto types.ProtocolID, handler StreamHandler)

	// RemoveStreamHandler 移除入站流处理器
	RemoveStreamHandler(proto types.ProtocolID)

	// Protocols 已注册的协议
	Protocols() []types.ProtocolID

	// NewStream 打开到节点的流，按 protos 顺序协商
	NewStream(ctx context.Context, peer types.PeerID, protos ...types.ProtocolID) (Stream, error)

	// Dial 连接节点，addrs 为空时使用已知地址
	Dial(ctx context.Context, peer types.PeerID, addrs ...types.Multiaddr) (Connection, error)

	// Connected 是否与节点有连接
	Connected(peer types.PeerID) bool

	// ConnsToPeer 到节点的连接
	ConnsToPeer(peer types.PeerID) []Connection

	// Peers 已连接节点
	Peers() []types.PeerID

	// ListenAddrs 监听地址
	ListenAddrs() []types.Multiaddr

	// ExternalAddrs 外部可达地址
	ExternalAddrs() []types.Multiaddr

	// Notify 注册事件接收者
	Notify(n Notifiee)
}
