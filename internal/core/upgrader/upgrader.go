package upgrader

import (
	"context"
	"fmt"
	"net"

	"github.com/FelixRiddle/swarm-weave/internal/util/logger"
	pkgif "github.com/FelixRiddle/swarm-weave/pkg/interfaces"
	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

var log = logger.Logger("upgrader")

var _ pkgif.Upgrader = (*Upgrader)(nil)

// Upgrader 连接升级器
type Upgrader struct {
	security []pkgif.SecureTransport
	muxers   []pkgif.StreamMuxer
}

// New 创建连接升级器，列表顺序即协商优先级
func New(security []pkgif.SecureTransport, muxers []pkgif.StreamMuxer) (*Upgrader, error) {
	if len(security) == 0 {
		return nil, ErrNoSecurityTransport
	}
	if len(muxers) == 0 {
		return nil, ErrNoStreamMuxer
	}
	return &Upgrader{security: security, muxers: muxers}, nil
}

// MultiaddrAddr 能直接给出 multiaddr 的 net.Addr（如中继电路）
type MultiaddrAddr interface {
	net.Addr
	Multiaddr() types.Multiaddr
}

func toMultiaddr(a net.Addr) types.Multiaddr {
	if a == nil {
		return ""
	}
	if ma, ok := a.(MultiaddrAddr); ok {
		return ma.Multiaddr()
	}
	m, err := types.FromNetAddr(a)
	if err != nil {
		return ""
	}
	return m
}

// Upgrade 升级连接
//
// 升级流程：
//  1. 协商安全协议（multistream-select）
//  2. 安全握手
//  3. 协商多路复用器（multistream-select）
//  4. 建立多路复用会话
//
// 失败时关闭 conn。
func (u *Upgrader) Upgrade(ctx context.Context, conn net.Conn, dir pkgif.Direction, remotePeer types.PeerID, transport string) (pkgif.Connection, error) {
	if dir == pkgif.DirOutbound && remotePeer.IsEmpty() {
		conn.Close()
		return nil, ErrNoPeerID
	}
	isServer := dir == pkgif.DirInbound

	secProtos := make([]string, len(u.security))
	for i, st := range u.security {
		secProtos[i] = string(st.ID())
	}
	selected, err := negotiate(ctx, conn, secProtos, isServer)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("security negotiation: %w", err)
	}
	var st pkgif.SecureTransport
	for _, s := range u.security {
		if string(s.ID()) == selected {
			st = s
		}
	}

	var secConn pkgif.SecureConn
	if isServer {
		secConn, err = st.SecureInbound(ctx, conn, remotePeer)
	} else {
		secConn, err = st.SecureOutbound(ctx, conn, remotePeer)
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("security handshake: %w", err)
	}

	muxProtos := make([]string, len(u.muxers))
	for i, m := range u.muxers {
		muxProtos[i] = string(m.ID())
	}
	selected, err = negotiate(ctx, secConn, muxProtos, isServer)
	if err != nil {
		secConn.Close()
		return nil, fmt.Errorf("muxer negotiation: %w", err)
	}
	var sm pkgif.StreamMuxer
	for _, m := range u.muxers {
		if string(m.ID()) == selected {
			sm = m
		}
	}

	muxed, err := sm.NewConn(secConn, isServer)
	if err != nil {
		secConn.Close()
		return nil, fmt.Errorf("muxer setup: %w", err)
	}

	log.Debug("连接升级成功",
		"remotePeer", secConn.RemotePeer().ShortString(),
		"direction", dir,
		"transport", transport,
		"security", st.ID(),
		"muxer", sm.ID())

	return &upgradedConn{
		MuxedConn: muxed,
		secConn:   secConn,
		laddr:     toMultiaddr(conn.LocalAddr()),
		raddr:     toMultiaddr(conn.RemoteAddr()),
		dir:       dir,
		transport: transport,
	}, nil
}
