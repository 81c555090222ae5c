package nat

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/FelixRiddle/swarm-weave/internal/util/msgio"
	pkgif "github.com/FelixRiddle/swarm-weave/pkg/interfaces"
	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

// ============================================================================
//                              AutoNAT 服务端
// ============================================================================

// errNoDialer 没有能拨号该地址的传输
var errNoDialer = errors.New("no dialer for address")

// handleStream 处理回拨请求
//
// 流程：
//  1. 速率限制与单节点并发检查
//  2. 读取 DIAL，校验请求方身份
//  3. 过滤地址：必须与连接观测到的 IP 一致
//  4. 用新连接逐个回拨，返回第一个成功的地址
func (s *Service) handleStream(st pkgif.Stream) {
	defer st.Close()
	_ = st.SetDeadline(time.Now().Add(s.cfg.DialBackTimeout + 5*time.Second))

	remote := st.Conn().RemotePeer()
	reply := func(status ResponseStatus, text string, addr types.Multiaddr) {
		msg := &Message{
			Type:         MessageDialResponse,
			DialResponse: &DialResponse{Status: status, StatusText: text, Addr: addr},
		}
		if err := msgio.WriteMsg(st, msg.Marshal()); err != nil {
			s.log.Debug("写回拨结果失败", "peer", remote.ShortString(), "err", err)
			_ = st.Reset()
		}
	}

	data, err := msgio.ReadMsg(st, maxMessageSize)
	if err != nil {
		_ = st.Reset()
		return
	}
	msg, err := UnmarshalMessage(data)
	if err != nil || msg.Type != MessageDial || msg.Dial == nil {
		reply(StatusBadRequest, "expected dial message", "")
		return
	}
	if !msg.Dial.Peer.IsEmpty() && msg.Dial.Peer != remote {
		reply(StatusBadRequest, "peer id mismatch", "")
		return
	}

	if !s.limiter.Allow() {
		reply(StatusDialRefused, "too many dial-back requests", "")
		return
	}
	if !s.beginDialBack(remote) {
		reply(StatusDialRefused, "dial-back already in progress", "")
		return
	}
	defer s.endDialBack(remote)

	observed := st.Conn().RemoteMultiaddr()
	if observed.IsRelay() {
		reply(StatusDialRefused, "relayed connection", "")
		return
	}
	addrs := s.dialBackAddrs(observed.IP(), msg.Dial.Addrs)
	if len(addrs) == 0 {
		reply(StatusDialRefused, "no dialable addresses", "")
		return
	}

	attempt := uuid.NewString()
	s.log.Debug("开始回拨", "attempt", attempt, "peer", remote.ShortString(), "addrs", len(addrs))

	addr, err := s.dialBack(s.ctx, remote, addrs)
	if err != nil {
		s.log.Debug("回拨失败", "attempt", attempt, "peer", remote.ShortString(), "err", err)
		reply(StatusDialError, "dial failed", "")
		return
	}
	s.log.Debug("回拨成功", "attempt", attempt, "peer", remote.ShortString(), "addr", addr)
	reply(StatusOK, "", addr)
}

func (s *Service) beginDialBack(p types.PeerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dialing[p]; ok {
		return false
	}
	s.dialing[p] = struct{}{}
	return true
}

func (s *Service) endDialBack(p types.PeerID) {
	s.mu.Lock()
	delete(s.dialing, p)
	s.mu.Unlock()
}

// dialBackAddrs 过滤请求中的地址
//
// 通配地址替换为观测 IP；其余地址的 IP 必须等于观测 IP，避免被用来攻击第三方。
func (s *Service) dialBackAddrs(observed net.IP, requested []types.Multiaddr) []types.Multiaddr {
	if observed == nil {
		return nil
	}
	seen := make(map[types.Multiaddr]struct{})
	var out []types.Multiaddr
	for _, a := range requested {
		if _, err := types.ParseMultiaddr(string(a)); err != nil || a.IsRelay() {
			continue
		}
		a = a.WithoutPeerID()
		ip := a.IP()
		if ip == nil {
			continue
		}
		if ip.IsUnspecified() {
			a = a.WithIP(observed)
		} else if !ip.Equal(observed) {
			continue
		}
		if !s.cfg.AllowPrivateAddrs && !a.IsPublic() {
			continue
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
		if len(out) == s.cfg.MaxDialAddrs {
			break
		}
	}
	return out
}

// dialBack 依次回拨，成功后立即关闭连接
func (s *Service) dialBack(ctx context.Context, p types.PeerID, addrs []types.Multiaddr) (types.Multiaddr, error) {
	var errs error
	for _, a := range addrs {
		d := s.dialerFor(a)
		if d == nil {
			errs = multierr.Append(errs, errNoDialer)
			continue
		}
		dctx, cancel := context.WithTimeout(ctx, s.cfg.DialBackTimeout)
		conn, err := d.Dial(dctx, a, p)
		cancel()
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		_ = conn.Close()
		return a, nil
	}
	return "", errs
}

func (s *Service) dialerFor(a types.Multiaddr) Dialer {
	for _, d := range s.dialers {
		if d.CanDial(a) {
			return d
		}
	}
	return nil
}
