package upgrader

import (
	"crypto/ed25519"

	pkgif "github.com/FelixRiddle/swarm-weave/pkg/interfaces"
	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

var _ pkgif.Connection = (*upgradedConn)(nil)

// upgradedConn 升级后的连接
type upgradedConn struct {
	pkgif.MuxedConn

	secConn pkgif.SecureConn

	laddr     types.Multiaddr
	raddr     types.Multiaddr
	dir       pkgif.Direction
	transport string
}

// LocalPeer 返回本地节点 ID
func (c *upgradedConn) LocalPeer() types.PeerID {
	return c.secConn.LocalPeer()
}

// RemotePeer 返回远端节点 ID
func (c *upgradedConn) RemotePeer() types.PeerID {
	return c.secConn.RemotePeer()
}

// RemotePublicKey 返回远端公钥
func (c *upgradedConn) RemotePublicKey() ed25519.PublicKey {
	return c.secConn.RemotePublicKey()
}

// LocalMultiaddr 返回本地多地址
func (c *upgradedConn) LocalMultiaddr() types.Multiaddr {
	return c.laddr
}

// RemoteMultiaddr 返回远端多地址
func (c *upgradedConn) RemoteMultiaddr() types.Multiaddr {
	return c.raddr
}

// Direction 返回连接方向
func (c *upgradedConn) Direction() pkgif.Direction {
	return c.dir
}

// Transport 返回传输名称
func (c *upgradedConn) Transport() string {
	return c.transport
}
