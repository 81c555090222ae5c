// Package tcp 提供基于 TCP 的传输实现
//
// TCP 不提供加密与多路复用，原始连接经 Upgrader 协商 Noise 与 Yamux 后交给上层。
package tcp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/FelixRiddle/swarm-weave/internal/core/transport"
	"github.com/FelixRiddle/swarm-weave/internal/util/logger"
	pkgif "github.com/FelixRiddle/swarm-weave/pkg/interfaces"
	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

var log = logger.Logger("transport.tcp")

// Options TCP 传输选项
type Options struct {
	// ReusePort 监听 socket 设置 SO_REUSEADDR/SO_REUSEPORT
	ReusePort bool

	// HandshakeTimeout 入站连接升级超时
	HandshakeTimeout time.Duration

	// DialTimeout 拨号超时（ctx 无截止时间时生效）
	DialTimeout time.Duration
}

// Transport TCP 传输
type Transport struct {
	upgrader pkgif.Upgrader
	opts     Options

	mu        sync.Mutex
	listeners map[*Listener]struct{}
	closed    bool
}

var _ pkgif.Transport = (*Transport)(nil)

// New 创建 TCP 传输
func New(upgrader pkgif.Upgrader, opts Options) *Transport {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 15 * time.Second
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	return &Transport{
		upgrader:  upgrader,
		opts:      opts,
		listeners: make(map[*Listener]struct{}),
	}
}

// Name 返回传输名称
func (t *Transport) Name() string {
	return types.ProtoTCP
}

// CanDial 是否为非中继 TCP 地址
func (t *Transport) CanDial(addr types.Multiaddr) bool {
	return !addr.IsRelay() && addr.Transport() == types.ProtoTCP
}

// Dial 拨号并升级连接
func (t *Transport) Dial(ctx context.Context, raddr types.Multiaddr, peerID types.PeerID) (pkgif.Connection, error) {
	if t.isClosed() {
		return nil, transport.ErrTransportClosed
	}
	if !t.CanDial(raddr) {
		return nil, fmt.Errorf("%w: %s", transport.ErrInvalidAddress, raddr)
	}
	network, hostport, err := raddr.DialArgs()
	if err != nil {
		return nil, err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.DialTimeout)
		defer cancel()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, network, hostport)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", raddr, err)
	}
	return t.upgrader.Upgrade(ctx, conn, pkgif.DirOutbound, peerID, t.Name())
}

// Listen 监听 TCP 地址
func (t *Transport) Listen(laddr types.Multiaddr) (pkgif.Listener, error) {
	if !t.CanDial(laddr) {
		return nil, fmt.Errorf("%w: %s", transport.ErrInvalidAddress, laddr)
	}
	network, hostport, err := laddr.DialArgs()
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, transport.ErrTransportClosed
	}

	lc := net.ListenConfig{}
	if t.opts.ReusePort {
		lc.Control = reuseControl
	}
	nl, err := lc.Listen(context.Background(), network, hostport)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", laddr, err)
	}

	l, err := newListener(nl, t)
	if err != nil {
		nl.Close()
		return nil, err
	}
	t.listeners[l] = struct{}{}
	log.Debug("TCP 监听", "addr", l.Multiaddr())
	return l, nil
}

// Close 关闭传输及所有监听器
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
	t.mu.Unlock()

	for _, l := range ls {
		_ = l.Close()
	}
	return nil
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) removeListener(l *Listener) {
	t.mu.Lock()
	delete(t.listeners, l)
	t.mu.Unlock()
}
