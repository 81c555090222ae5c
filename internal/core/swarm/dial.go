package swarm

import (
	"context"
	"fmt"

	mss "github.com/multiformats/go-multistream"
	"go.uber.org/multierr"

	"github.com/FelixRiddle/swarm-weave/internal/core/peerstore"
	pkgif "github.com/FelixRiddle/swarm-weave/pkg/interfaces"
	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

// Dial 连接节点；已有连接时直接返回
//
// addrs 为空时使用 Peerstore 中的地址。同一节点的并发拨号合并为一次。
func (s *Swarm) Dial(ctx context.Context, p types.PeerID, addrs ...types.Multiaddr) (pkgif.Connection, error) {
	if s.closed.Load() {
		return nil, ErrSwarmClosed
	}
	if p == s.local {
		return nil, ErrDialToSelf
	}
	if c := s.bestConn(p); c != nil {
		return c, nil
	}

	if len(addrs) > 0 && s.ps != nil {
		s.ps.AddAddrs(p, addrs, peerstore.RecentlyConnectedAddrTTL)
	}

	ch := s.dials.DoChan(p.String(), func() (interface{}, error) {
		if c := s.bestConn(p); c != nil {
			return c, nil
		}
		return s.dialAddrs(s.ctx, p, addrs)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Conn), nil
	}
}

// dialAddrs 依次尝试地址，直连地址优先于中继地址
func (s *Swarm) dialAddrs(ctx context.Context, p types.PeerID, addrs []types.Multiaddr) (*Conn, error) {
	if len(addrs) == 0 && s.ps != nil {
		addrs = s.ps.Addrs(p)
	}
	if len(addrs) == 0 {
		return nil, &DialError{Peer: p, Err: ErrNoAddresses}
	}

	ordered := make([]types.Multiaddr, 0, len(addrs))
	var relayed []types.Multiaddr
	for _, a := range addrs {
		if a.IsRelay() {
			relayed = append(relayed, a)
		} else {
			ordered = append(ordered, a)
		}
	}
	ordered = append(ordered, relayed...)

	var errs error
	for _, a := range ordered {
		t := s.transportFor(a)
		if t == nil {
			errs = multierr.Append(errs, fmt.Errorf("%w: %s", ErrNoTransport, a))
			continue
		}

		dctx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
		tc, err := t.Dial(dctx, a, p)
		cancel()
		if err != nil {
			log.Debug("拨号失败", "peer", p.ShortString(), "addr", a, "err", err)
			errs = multierr.Append(errs, err)
			continue
		}
		return s.addConn(tc)
	}
	return nil, &DialError{Peer: p, Err: errs}
}

// NewStream 打开到节点的流并协商协议，按 protos 顺序优先
func (s *Swarm) NewStream(ctx context.Context, p types.PeerID, protos ...types.ProtocolID) (pkgif.Stream, error) {
	if len(protos) == 0 {
		return nil, fmt.Errorf("new stream: no protocols")
	}
	c, err := s.Dial(ctx, p)
	if err != nil {
		return nil, err
	}
	return s.NewStreamOnConn(ctx, c.(*Conn), protos...)
}

// NewStreamOnConn 在指定连接上打开流
func (s *Swarm) NewStreamOnConn(ctx context.Context, c *Conn, protos ...types.ProtocolID) (pkgif.Stream, error) {
	st, err := c.openStream(s)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}

	if dl, ok := ctx.Deadline(); ok {
		_ = st.SetDeadline(dl)
	}
	proto, err := mss.SelectOneOf(protos, st)
	if err != nil {
		_ = st.Reset()
		return nil, fmt.Errorf("negotiate %v: %w", protos, err)
	}
	_ = st.SetDeadline(zeroTime)
	st.proto = proto
	return st, nil
}
