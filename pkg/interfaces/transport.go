package interfaces

import (
	"context"
	"crypto/ed25519"

	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

// Direction 连接方向
type Direction int

const (
	// DirInbound 入站
	DirInbound Direction = iota
	// DirOutbound 出站
	DirOutbound
)

// String 返回方向字符串
func (d Direction) String() string {
	if d == DirOutbound {
		return "outbound"
	}
	return "inbound"
}

// Transport 定义传输层接口
//
// Transport 抽象不同的传输协议（TCP、QUIC、中继电路）。
// 返回的连接已经完成身份验证与多路复用。
type Transport interface {
	// Dial 拨号连接到指定地址，peerID 非空时校验远端身份
	Dial(ctx context.Context, raddr types.Multiaddr, peerID types.PeerID) (Connection, error)

	// CanDial 检查是否支持拨号到指定地址
	CanDial(addr types.Multiaddr) bool

	// Listen 在指定地址监听
	Listen(laddr types.Multiaddr) (Listener, error)

	// Name 返回传输名称（"tcp"、"quic-v1"、"p2p-circuit"）
	Name() string

	// Close 关闭传输
	Close() error
}

// Listener 定义监听器接口
type Listener interface {
	// Accept 接受新连接（已升级）
	Accept() (Connection, error)

	// Close 关闭监听器
	Close() error

	// Multiaddr 返回实际监听地址
	Multiaddr() types.Multiaddr
}

// Connection 定义已升级连接接口
type Connection interface {
	MuxedConn

	// LocalPeer 返回本地节点 ID
	LocalPeer() types.PeerID

	// RemotePeer 返回远端节点 ID
	RemotePeer() types.PeerID

	// RemotePublicKey 返回远端公钥
	RemotePublicKey() ed25519.PublicKey

	// LocalMultiaddr 返回本地多地址
	LocalMultiaddr() types.Multiaddr

	// RemoteMultiaddr 返回远端多地址
	RemoteMultiaddr() types.Multiaddr

	// Direction 返回连接方向
	Direction() Direction

	// Transport 返回传输名称
	Transport() string
}
