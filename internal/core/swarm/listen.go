package swarm

import (
	"errors"
	"fmt"
	"sort"

	"github.com/FelixRiddle/swarm-weave/internal/core/transport"
	pkgif "github.com/FelixRiddle/swarm-weave/pkg/interfaces"
	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

// Listen 在地址上监听，返回实际绑定的地址
func (s *Swarm) Listen(addr types.Multiaddr) (types.Multiaddr, error) {
	if s.closed.Load() {
		return "", ErrSwarmClosed
	}
	t := s.transportFor(addr)
	if t == nil {
		return "", fmt.Errorf("%w: %s", ErrNoTransport, addr)
	}

	l, err := t.Listen(addr)
	if err != nil {
		return "", err
	}
	bound := l.Multiaddr()

	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		_ = l.Close()
		return "", ErrSwarmClosed
	}
	s.listeners[l] = bound
	s.mu.Unlock()

	log.Info("开始监听", "addr", bound, "transport", t.Name())
	s.notifyAll(func(n pkgif.Notifiee) { n.Listen(bound) })

	s.wg.Add(1)
	go s.acceptLoop(l, bound)
	return bound, nil
}

// acceptLoop 接受入站连接直到监听器关闭
func (s *Swarm) acceptLoop(l pkgif.Listener, bound types.Multiaddr) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.listeners, l)
		s.mu.Unlock()
		s.notifyAll(func(n pkgif.Notifiee) { n.ListenClose(bound) })
	}()

	for {
		tc, err := l.Accept()
		if err != nil {
			if !errors.Is(err, transport.ErrListenerClosed) && !s.closed.Load() {
				log.Warn("监听器异常退出", "addr", bound, "err", err)
			}
			return
		}
		if _, err := s.addConn(tc); err != nil {
			log.Debug("丢弃入站连接", "peer", tc.RemotePeer().ShortString(), "err", err)
		}
	}
}

// ListenAddrs 返回监听地址（排序）
func (s *Swarm) ListenAddrs() []types.Multiaddr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Multiaddr, 0, len(s.listeners))
	for _, a := range s.listeners {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
