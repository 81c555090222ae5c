package quic

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/quic-go/quic-go"

	"github.com/FelixRiddle/swarm-weave/internal/core/transport"
	pkgif "github.com/FelixRiddle/swarm-weave/pkg/interfaces"
	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

// Listener QUIC 监听器
type Listener struct {
	ql    *quic.Listener
	addr  types.Multiaddr
	sock  *socket
	owner *Transport
	once  sync.Once

	closed atomic.Bool
}

var _ pkgif.Listener = (*Listener)(nil)

// Accept 接受连接，握手与身份校验已在 TLS 中完成
func (l *Listener) Accept() (pkgif.Connection, error) {
	for {
		qc, err := l.ql.Accept(context.Background())
		if err != nil {
			if l.closed.Load() || errors.Is(err, quic.ErrServerClosed) {
				return nil, transport.ErrListenerClosed
			}
			return nil, err
		}
		c, err := newConn(qc, l.owner.id.ID(), pkgif.DirInbound)
		if err != nil {
			log.Debug("入站 QUIC 连接无效", "remote", qc.RemoteAddr(), "error", err)
			_ = qc.CloseWithError(0, "invalid peer")
			continue
		}
		return c, nil
	}
}

// Multiaddr 返回实际监听地址
func (l *Listener) Multiaddr() types.Multiaddr {
	return l.addr
}

// Close 关闭监听器及其 socket
func (l *Listener) Close() error {
	var err error
	l.once.Do(func() {
		l.closed.Store(true)
		err = l.ql.Close()
		_ = l.sock.tr.Close()
		_ = l.sock.pc.Close()
		l.owner.removeListener(l)
	})
	return err
}
