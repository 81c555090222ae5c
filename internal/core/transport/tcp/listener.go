package tcp

import (
	"context"
	"net"
	"sync"

	"github.com/FelixRiddle/swarm-weave/internal/core/transport"
	pkgif "github.com/FelixRiddle/swarm-weave/pkg/interfaces"
	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

// Listener TCP 监听器
//
// 后台接受原始连接并并发升级，升级成功的连接通过 Accept 返回。
type Listener struct {
	nl    net.Listener
	addr  types.Multiaddr
	owner *Transport

	incoming chan pkgif.Connection
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	once     sync.Once
}

var _ pkgif.Listener = (*Listener)(nil)

func newListener(nl net.Listener, owner *Transport) (*Listener, error) {
	addr, err := types.FromNetAddr(nl.Addr())
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &Listener{
		nl:       nl,
		addr:     addr,
		owner:    owner,
		incoming: make(chan pkgif.Connection),
		ctx:      ctx,
		cancel:   cancel,
	}
	l.wg.Add(1)
	go l.acceptLoop()
	return l, nil
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()
	for {
		conn, err := l.nl.Accept()
		if err != nil {
			return
		}
		l.wg.Add(1)
		go l.upgrade(conn)
	}
}

func (l *Listener) upgrade(conn net.Conn) {
	defer l.wg.Done()

	ctx, cancel := context.WithTimeout(l.ctx, l.owner.opts.HandshakeTimeout)
	defer cancel()

	c, err := l.owner.upgrader.Upgrade(ctx, conn, pkgif.DirInbound, types.EmptyPeerID, l.owner.Name())
	if err != nil {
		log.Debug("入站连接升级失败", "remote", conn.RemoteAddr(), "error", err)
		return
	}

	select {
	case l.incoming <- c:
	case <-l.ctx.Done():
		_ = c.Close()
	}
}

// Accept 返回下一个已升级的入站连接
func (l *Listener) Accept() (pkgif.Connection, error) {
	select {
	case c := <-l.incoming:
		return c, nil
	case <-l.ctx.Done():
		return nil, transport.ErrListenerClosed
	}
}

// Multiaddr 返回实际监听地址
func (l *Listener) Multiaddr() types.Multiaddr {
	return l.addr
}

// Close 关闭监听器
func (l *Listener) Close() error {
	var err error
	l.once.Do(func() {
		l.cancel()
		err = l.nl.Close()
		l.wg.Wait()
		l.owner.removeListener(l)
	})
	return err
}
