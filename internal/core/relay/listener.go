package relay

import (
	"context"
	"sync"
	"time"

	"github.com/FelixRiddle/swarm-weave/internal/core/transport"
	pkgif "github.com/FelixRiddle/swarm-weave/pkg/interfaces"
	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

// Listener 经某个中继的监听器
//
// 持有该中继的预留，在有效期过半时续租；续租失败按 RetryInterval 重试。
type Listener struct {
	t     *Transport
	relay types.PeerID
	base  types.Multiaddr
	addr  types.Multiaddr

	mu     sync.Mutex
	expire time.Time

	incoming chan pkgif.Connection
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	once     sync.Once
}

var _ pkgif.Listener = (*Listener)(nil)

func newListener(t *Transport, relayID types.PeerID, base types.Multiaddr, expire time.Time) *Listener {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Listener{
		t:        t,
		relay:    relayID,
		base:     base,
		addr:     types.Multiaddr(string(base.WithoutPeerID().WithPeerID(relayID)) + "/" + types.ProtoCircuit),
		expire:   expire,
		incoming: make(chan pkgif.Connection),
		ctx:      ctx,
		cancel:   cancel,
	}
	l.wg.Add(1)
	go l.refreshLoop()
	return l
}

// Accept 返回下一个经中继到达的连接
func (l *Listener) Accept() (pkgif.Connection, error) {
	select {
	case c := <-l.incoming:
		return c, nil
	case <-l.ctx.Done():
		return nil, transport.ErrListenerClosed
	}
}

// Multiaddr 返回中继监听地址（.../p2p/<relay-id>/p2p-circuit）
func (l *Listener) Multiaddr() types.Multiaddr {
	return l.addr
}

// Relay 返回中继节点
func (l *Listener) Relay() types.PeerID {
	return l.relay
}

// Expire 返回当前预留到期时间
func (l *Listener) Expire() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.expire
}

// Close 关闭监听器，停止续租
func (l *Listener) Close() error {
	l.once.Do(func() {
		l.cancel()
		l.wg.Wait()
		l.t.removeListener(l)
	})
	return nil
}

func (l *Listener) deliver(c pkgif.Connection) {
	select {
	case l.incoming <- c:
	case <-l.ctx.Done():
		_ = c.Close()
	}
}

// refreshLoop 在预留有效期过半时续租
func (l *Listener) refreshLoop() {
	defer l.wg.Done()
	clk := l.t.opts.Clock

	for {
		timer := clk.Timer(l.nextRefresh())
		select {
		case <-l.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(l.ctx, l.t.opts.HandshakeTimeout)
		res, err := l.t.Reserve(ctx, l.relay, l.base)
		cancel()

		l.mu.Lock()
		if err != nil {
			l.expire = time.Time{}
		} else {
			l.expire = res.Expire
		}
		l.mu.Unlock()

		if err != nil {
			if l.ctx.Err() == nil {
				l.t.opts.Logger.Warn("中继续租失败", "relay", l.relay.ShortString(), "err", err)
			}
			continue
		}
		l.t.opts.Logger.Debug("中继续租成功", "relay", l.relay.ShortString(), "expire", res.Expire)
	}
}

func (l *Listener) nextRefresh() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	d := l.t.opts.Clock.Until(l.expire) / 2
	if d < time.Second {
		return l.t.opts.RetryInterval
	}
	return d
}
