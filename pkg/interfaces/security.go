package interfaces

import (
	"context"
	"crypto/ed25519"
	"net"

	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

// SecureConn 定义安全连接接口
//
// 握手完成后远端身份已经验证：RemotePeer 由 RemotePublicKey 派生。
type SecureConn interface {
	net.Conn

	// LocalPeer 返回本地节点 ID
	LocalPeer() types.PeerID

	// RemotePeer 返回远端节点 ID
	RemotePeer() types.PeerID

	// RemotePublicKey 返回远端公钥
	RemotePublicKey() ed25519.PublicKey
}

// SecureTransport 安全通道协议
type SecureTransport interface {
	// ID 返回安全协议标识
	ID() types.ProtocolID

	// SecureInbound 保护入站连接，remotePeer 可为空
	SecureInbound(ctx context.Context, conn net.Conn, remotePeer types.PeerID) (SecureConn, error)

	// SecureOutbound 保护出站连接并校验远端身份
	SecureOutbound(ctx context.Context, conn net.Conn, remotePeer types.PeerID) (SecureConn, error)
}
