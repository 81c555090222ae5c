// Package quic 提供基于 QUIC（quic-v1）的传输实现
//
// QUIC 自带 TLS 1.3 加密与流多路复用，无需 Upgrader。
// 每个监听地址持有一个 UDP socket 与 quic.Transport，
// 拨号复用同地址族的监听 socket，使出站连接与监听共享端口。
package quic

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/FelixRiddle/swarm-weave/internal/core/identity"
	"github.com/FelixRiddle/swarm-weave/internal/core/transport"
	"github.com/FelixRiddle/swarm-weave/internal/util/logger"
	pkgif "github.com/FelixRiddle/swarm-weave/pkg/interfaces"
	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

var log = logger.Logger("transport.quic")

// Options QUIC 传输选项
type Options struct {
	// MaxIdleTimeout 连接空闲超时
	MaxIdleTimeout time.Duration

	// HandshakeTimeout 握手超时
	HandshakeTimeout time.Duration
}

// socket 一个 UDP socket 及其上的 quic.Transport
type socket struct {
	network string
	pc      *net.UDPConn
	tr      *quic.Transport
}

// Transport QUIC 传输
type Transport struct {
	id     *identity.Identity
	cert   tls.Certificate
	config *quic.Config

	mu        sync.Mutex
	listening []*socket
	dialOnly  map[string]*socket
	listeners map[*Listener]struct{}
	closed    bool
}

var _ pkgif.Transport = (*Transport)(nil)

// New 创建 QUIC 传输
func New(id *identity.Identity, opts Options) (*Transport, error) {
	cert, err := newCertificate(id)
	if err != nil {
		return nil, err
	}
	if opts.MaxIdleTimeout <= 0 {
		opts.MaxIdleTimeout = 60 * time.Second
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 15 * time.Second
	}
	return &Transport{
		id:   id,
		cert: cert,
		config: &quic.Config{
			MaxIdleTimeout:       opts.MaxIdleTimeout,
			HandshakeIdleTimeout: opts.HandshakeTimeout,
			KeepAlivePeriod:      opts.MaxIdleTimeout / 2,
			MaxIncomingStreams:   1024,
		},
		dialOnly:  make(map[string]*socket),
		listeners: make(map[*Listener]struct{}),
	}, nil
}

// Name 返回传输名称
func (t *Transport) Name() string {
	return types.ProtoQUICV1
}

// CanDial 是否为非中继 quic-v1 地址
func (t *Transport) CanDial(addr types.Multiaddr) bool {
	return !addr.IsRelay() && addr.Transport() == types.ProtoQUICV1
}

// Dial 拨号，peerID 非空时在 TLS 握手中校验
func (t *Transport) Dial(ctx context.Context, raddr types.Multiaddr, peerID types.PeerID) (pkgif.Connection, error) {
	if !t.CanDial(raddr) {
		return nil, fmt.Errorf("%w: %s", transport.ErrInvalidAddress, raddr)
	}
	network, hostport, err := raddr.DialArgs()
	if err != nil {
		return nil, err
	}
	udpAddr, err := net.ResolveUDPAddr(network, hostport)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", raddr, err)
	}

	s, err := t.dialSocket(network)
	if err != nil {
		return nil, err
	}

	qc, err := s.tr.Dial(ctx, udpAddr, tlsConfig(t.cert, peerID), t.config)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", raddr, err)
	}
	return newConn(qc, t.id.ID(), pkgif.DirOutbound)
}

// dialSocket 选择拨号 socket：优先复用同地址族的监听 socket
func (t *Transport) dialSocket(network string) (*socket, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, transport.ErrTransportClosed
	}
	for _, s := range t.listening {
		if s.network == network {
			return s, nil
		}
	}
	if s, ok := t.dialOnly[network]; ok {
		return s, nil
	}
	pc, err := net.ListenUDP(network, nil)
	if err != nil {
		return nil, fmt.Errorf("listen udp for dial: %w", err)
	}
	s := &socket{network: network, pc: pc, tr: &quic.Transport{Conn: pc}}
	t.dialOnly[network] = s
	return s, nil
}

// Listen 监听 quic-v1 地址
func (t *Transport) Listen(laddr types.Multiaddr) (pkgif.Listener, error) {
	if !t.CanDial(laddr) {
		return nil, fmt.Errorf("%w: %s", transport.ErrInvalidAddress, laddr)
	}
	network, hostport, err := laddr.DialArgs()
	if err != nil {
		return nil, err
	}
	udpAddr, err := net.ResolveUDPAddr(network, hostport)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", laddr, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, transport.ErrTransportClosed
	}

	pc, err := net.ListenUDP(network, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", laddr, err)
	}
	s := &socket{network: network, pc: pc, tr: &quic.Transport{Conn: pc}}

	ql, err := s.tr.Listen(tlsConfig(t.cert, types.EmptyPeerID), t.config)
	if err != nil {
		_ = s.tr.Close()
		_ = pc.Close()
		return nil, fmt.Errorf("listen %s: %w", laddr, err)
	}

	addr, err := types.FromNetAddr(pc.LocalAddr())
	if err != nil {
		_ = ql.Close()
		_ = s.tr.Close()
		_ = pc.Close()
		return nil, err
	}

	l := &Listener{ql: ql, addr: addr, sock: s, owner: t}
	t.listening = append(t.listening, s)
	t.listeners[l] = struct{}{}
	log.Debug("QUIC 监听", "addr", addr)
	return l, nil
}

// Close 关闭传输、监听器与所有 socket
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	ls := make([]*Listener, 0, len(t.listeners))
	for l := range t.listeners {
		ls = append(ls, l)
	}
	socks := append([]*socket(nil), t.listening...)
	for _, s := range t.dialOnly {
		socks = append(socks, s)
	}
	t.mu.Unlock()

	for _, l := range ls {
		_ = l.Close()
	}
	for _, s := range socks {
		_ = s.tr.Close()
		_ = s.pc.Close()
	}
	return nil
}

func (t *Transport) removeListener(l *Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.listeners, l)
	for i, s := range t.listening {
		if s == l.sock {
			t.listening = append(t.listening[:i], t.listening[i+1:]...)
			break
		}
	}
}
