package relay

import (
	"net"

	"github.com/FelixRiddle/swarm-weave/internal/core/upgrader"
	pkgif "github.com/FelixRiddle/swarm-weave/pkg/interfaces"
	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

// circuitConn 将电路流包装为 net.Conn，供 Upgrader 完成安全握手与多路复用
type circuitConn struct {
	pkgif.Stream
	laddr circuitAddr
	raddr circuitAddr
}

var _ net.Conn = (*circuitConn)(nil)

func newCircuitConn(st pkgif.Stream, local, remote types.Multiaddr) *circuitConn {
	return &circuitConn{Stream: st, laddr: circuitAddr(local), raddr: circuitAddr(remote)}
}

func (c *circuitConn) LocalAddr() net.Addr {
	return c.laddr
}

func (c *circuitConn) RemoteAddr() net.Addr {
	return c.raddr
}

// circuitAddr 电路地址，直接提供 multiaddr
type circuitAddr types.Multiaddr

var _ upgrader.MultiaddrAddr = circuitAddr("")

func (a circuitAddr) Network() string {
	return types.ProtoCircuit
}

func (a circuitAddr) String() string {
	return string(a)
}

func (a circuitAddr) Multiaddr() types.Multiaddr {
	return types.Multiaddr(a)
}
