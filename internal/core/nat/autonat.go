package nat

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/FelixRiddle/swarm-weave/internal/util/msgio"
	"github.com/FelixRiddle/swarm-weave/pkg/protocolids"
	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

// ============================================================================
//                              AutoNAT 客户端
// ============================================================================

// maxMessageSize autonat 报文上限
const maxMessageSize = 16 << 10

// probeLoop 启动延迟后首次探测，之后按间隔探测
func (s *Service) probeLoop() {
	defer s.wg.Done()

	timer := s.clock.Timer(s.cfg.BootDelay)
	defer timer.Stop()
	select {
	case <-s.ctx.Done():
		return
	case <-timer.C:
	}
	s.probeOnce()

	ticker := s.clock.Ticker(s.cfg.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.probeOnce()
		}
	}
}

func (s *Service) probeOnce() {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.DialBackTimeout+5*time.Second)
	defer cancel()

	if _, err := s.Probe(ctx); err != nil && s.ctx.Err() == nil {
		s.log.Debug("可达性探测未得出结果", "err", err)
	}
}

// Probe 请求一个服务端回拨本节点，结果计入可达性
//
// 返回的是本次探测的结果，而非当前状态；被拒绝的请求返回 ErrProbeRefused。
func (s *Service) Probe(ctx context.Context) (Reachability, error) {
	if s.closed.Load() {
		return ReachabilityUnknown, ErrClosed
	}
	server, ok := s.pickServer()
	if !ok {
		return ReachabilityUnknown, ErrNoServer
	}
	probeID := uuid.NewString()

	s.mu.Lock()
	s.lastProbe[server] = s.clock.Now()
	s.mu.Unlock()

	resp, err := s.requestDialBack(ctx, server)
	if err != nil {
		return ReachabilityUnknown, err
	}

	var result Reachability
	switch resp.Status {
	case StatusOK:
		result = ReachabilityPublic
	case StatusDialError:
		result = ReachabilityPrivate
	default:
		s.log.Debug("探测被拒绝", "probe", probeID, "server", server.ShortString(),
			"status", resp.Status, "text", resp.StatusText)
		return ReachabilityUnknown, fmt.Errorf("%w: %s %s", ErrProbeRefused, resp.Status, resp.StatusText)
	}
	s.log.Debug("探测完成", "probe", probeID, "server", server.ShortString(), "result", result, "addr", resp.Addr)

	if prev, changed := s.tracker.record(result); changed {
		s.log.Info("可达性变化", "from", prev, "to", result, "probe", probeID)
		s.emit(Event{
			Kind:     EventStatusChanged,
			Status:   result,
			Previous: prev,
			Addr:     resp.Addr,
			Source:   "autonat",
		})
	}
	return result, nil
}

// requestDialBack 发送 DIAL 并读取 DIAL_RESPONSE
func (s *Service) requestDialBack(ctx context.Context, server types.PeerID) (*DialResponse, error) {
	st, err := s.net.NewStream(ctx, server, protocolids.AutoNAT)
	if err != nil {
		return nil, fmt.Errorf("autonat: open stream: %w", err)
	}
	defer st.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = st.SetDeadline(dl)
	}

	req := &Message{
		Type: MessageDial,
		Dial: &Dial{Peer: s.net.LocalPeer(), Addrs: s.candidateAddrs()},
	}
	if err := msgio.WriteMsg(st, req.Marshal()); err != nil {
		_ = st.Reset()
		return nil, fmt.Errorf("autonat: write: %w", err)
	}

	data, err := msgio.ReadMsg(st, maxMessageSize)
	if err != nil {
		_ = st.Reset()
		return nil, fmt.Errorf("autonat: read: %w", err)
	}
	msg, err := UnmarshalMessage(data)
	if err != nil {
		return nil, err
	}
	if msg.Type != MessageDialResponse || msg.DialResponse == nil {
		return nil, fmt.Errorf("%w: expected dial response", ErrInvalidMessage)
	}
	return msg.DialResponse, nil
}

// candidateAddrs 请回拨的地址：监听地址与外部地址，中继地址除外
func (s *Service) candidateAddrs() []types.Multiaddr {
	all := append(s.net.ListenAddrs(), s.net.ExternalAddrs()...)
	out := make([]types.Multiaddr, 0, len(all))
	for _, a := range all {
		if !a.IsRelay() {
			out = append(out, a)
		}
	}
	return out
}

// pickServer 选择最久未使用的服务端，优先服务端排在前面
//
// 普通候选为已连接且通过 identify 声明支持 autonat 的节点。
func (s *Service) pickServer() (types.PeerID, bool) {
	s.mu.Lock()
	candidates := append([]types.PeerID(nil), s.preferred...)
	s.mu.Unlock()

	peers := s.net.Peers()
	rand.Shuffle(len(peers), func(i, j int) { peers[i], peers[j] = peers[j], peers[i] })
	for _, p := range peers {
		if s.ps != nil && s.ps.SupportsProtocol(p, protocolids.AutoNAT) && !containsPeer(candidates, p) {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return types.PeerID{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	best := candidates[0]
	for _, p := range candidates[1:] {
		if s.lastProbe[p].Before(s.lastProbe[best]) {
			best = p
		}
	}
	return best, true
}

func containsPeer(ps []types.PeerID, p types.PeerID) bool {
	for _, x := range ps {
		if x == p {
			return true
		}
	}
	return false
}
