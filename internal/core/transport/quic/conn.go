package quic

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/quic-go/quic-go"

	pkgif "github.com/FelixRiddle/swarm-weave/pkg/interfaces"
	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

// Connection QUIC 连接
type Connection struct {
	qc        *quic.Conn
	local     types.PeerID
	remote    types.PeerID
	remoteKey ed25519.PublicKey
	laddr     types.Multiaddr
	raddr     types.Multiaddr
	dir       pkgif.Direction
}

var _ pkgif.Connection = (*Connection)(nil)

func newConn(qc *quic.Conn, local types.PeerID, dir pkgif.Direction) (*Connection, error) {
	state := qc.ConnectionState().TLS
	raw := make([][]byte, 0, len(state.PeerCertificates))
	for _, c := range state.PeerCertificates {
		raw = append(raw, c.Raw)
	}
	remote, key, err := peerFromCerts(raw)
	if err != nil {
		return nil, fmt.Errorf("identify remote: %w", err)
	}
	laddr, _ := types.FromNetAddr(qc.LocalAddr())
	raddr, _ := types.FromNetAddr(qc.RemoteAddr())
	return &Connection{
		qc:        qc,
		local:     local,
		remote:    remote,
		remoteKey: key,
		laddr:     laddr,
		raddr:     raddr,
		dir:       dir,
	}, nil
}

// OpenStream 打开双向流
func (c *Connection) OpenStream(ctx context.Context) (pkgif.MuxedStream, error) {
	s, err := c.qc.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return &stream{s: s}, nil
}

// AcceptStream 接受对端打开的流
func (c *Connection) AcceptStream() (pkgif.MuxedStream, error) {
	s, err := c.qc.AcceptStream(context.Background())
	if err != nil {
		return nil, err
	}
	return &stream{s: s}, nil
}

// Close 关闭连接
func (c *Connection) Close() error {
	return c.qc.CloseWithError(0, "")
}

// IsClosed 检查连接是否已关闭
func (c *Connection) IsClosed() bool {
	return c.qc.Context().Err() != nil
}

// LocalPeer 返回本地节点 ID
func (c *Connection) LocalPeer() types.PeerID { return c.local }

// RemotePeer 返回远端节点 ID
func (c *Connection) RemotePeer() types.PeerID { return c.remote }

// RemotePublicKey 返回远端公钥
func (c *Connection) RemotePublicKey() ed25519.PublicKey { return c.remoteKey }

// LocalMultiaddr 返回本地多地址
func (c *Connection) LocalMultiaddr() types.Multiaddr { return c.laddr }

// RemoteMultiaddr 返回远端多地址
func (c *Connection) RemoteMultiaddr() types.Multiaddr { return c.raddr }

// Direction 返回连接方向
func (c *Connection) Direction() pkgif.Direction { return c.dir }

// Transport 返回传输名称
func (c *Connection) Transport() string { return types.ProtoQUICV1 }
