package swarm

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/golang-lru/v2/simplelru"
	mss "github.com/multiformats/go-multistream"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"

	"github.com/FelixRiddle/swarm-weave/internal/core/metrics"
	"github.com/FelixRiddle/swarm-weave/internal/core/peerstore"
	"github.com/FelixRiddle/swarm-weave/internal/util/logger"
	pkgif "github.com/FelixRiddle/swarm-weave/pkg/interfaces"
	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

var log = logger.Logger("swarm")

// Swarm 连接群管理
type Swarm struct {
	local   types.PeerID
	ps      *peerstore.Peerstore
	cfg     Config
	clock   clock.Clock
	metrics *metrics.Metrics

	mu         sync.RWMutex
	conns      map[types.PeerID][]*Conn
	transports []pkgif.Transport
	listeners  map[pkgif.Listener]types.Multiaddr
	external   *simplelru.LRU[types.Multiaddr, struct{}]
	protected  map[types.PeerID]map[string]struct{}

	// 入站流协议协商与处理
	mux        *mss.MultistreamMuxer[types.ProtocolID]
	handlersMu sync.RWMutex
	handlers   map[types.ProtocolID]pkgif.StreamHandler

	notifMu   sync.RWMutex
	notifiees []pkgif.Notifiee

	dials singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

var _ pkgif.Network = (*Swarm)(nil)

// New 创建 Swarm
func New(local types.PeerID, ps *peerstore.Peerstore, opts ...Option) *Swarm {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Swarm{
		local:     local,
		ps:        ps,
		cfg:       DefaultConfig(),
		clock:     clock.New(),
		conns:     make(map[types.PeerID][]*Conn),
		listeners: make(map[pkgif.Listener]types.Multiaddr),
		protected: make(map[types.PeerID]map[string]struct{}),
		mux:       mss.NewMultistreamMuxer[types.ProtocolID](),
		handlers:  make(map[types.ProtocolID]pkgif.StreamHandler),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.MaxExternalAddrs <= 0 {
		s.cfg.MaxExternalAddrs = DefaultConfig().MaxExternalAddrs
	}
	// size > 0 时不会出错
	s.external, _ = simplelru.NewLRU[types.Multiaddr, struct{}](s.cfg.MaxExternalAddrs, func(a types.Multiaddr, _ struct{}) {
		log.Debug("外部地址已淘汰", "addr", a)
	})
	if s.cfg.IdleTimeout > 0 {
		s.wg.Add(1)
		go s.idleLoop()
	}
	return s
}

// LocalPeer 返回本地节点 ID
func (s *Swarm) LocalPeer() types.PeerID {
	return s.local
}

// Peerstore 返回节点信息存储
func (s *Swarm) Peerstore() *peerstore.Peerstore {
	return s.ps
}

// AddTransport 注册传输
func (s *Swarm) AddTransport(t pkgif.Transport) {
	s.mu.Lock()
	s.transports = append(s.transports, t)
	s.mu.Unlock()
}

func (s *Swarm) transportFor(addr types.Multiaddr) pkgif.Transport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.transports {
		if t.CanDial(addr) {
			return t
		}
	}
	return nil
}

// ============================================================================
//                              流处理器
// ============================================================================

// SetStreamHandler 注册协议处理器
func (s *Swarm) SetStreamHandler(proto types.ProtocolID, h pkgif.StreamHandler) {
	s.handlersMu.Lock()
	s.handlers[proto] = h
	s.handlersMu.Unlock()
	s.mux.AddHandler(proto, nil)
}

// RemoveStreamHandler 移除协议处理器
func (s *Swarm) RemoveStreamHandler(proto types.ProtocolID) {
	s.handlersMu.Lock()
	delete(s.handlers, proto)
	s.handlersMu.Unlock()
	s.mux.RemoveHandler(proto)
}

// Protocols 返回已注册的协议（排序）
func (s *Swarm) Protocols() []types.ProtocolID {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	out := make([]types.ProtocolID, 0, len(s.handlers))
	for p := range s.handlers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *Swarm) handler(proto types.ProtocolID) pkgif.StreamHandler {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	return s.handlers[proto]
}

// ============================================================================
//                              连接查询
// ============================================================================

// Peers 返回所有已连接节点
func (s *Swarm) Peers() []types.PeerID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.PeerID, 0, len(s.conns))
	for p := range s.conns {
		out = append(out, p)
	}
	return out
}

// Conns 返回所有连接
func (s *Swarm) Conns() []pkgif.Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []pkgif.Connection
	for _, cs := range s.conns {
		for _, c := range cs {
			out = append(out, c)
		}
	}
	return out
}

// ConnsToPeer 返回到节点的连接
func (s *Swarm) ConnsToPeer(p types.PeerID) []pkgif.Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]pkgif.Connection, 0, len(s.conns[p]))
	for _, c := range s.conns[p] {
		out = append(out, c)
	}
	return out
}

// Connected 是否与节点有连接
func (s *Swarm) Connected(p types.PeerID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns[p]) > 0
}

// bestConn 选择到节点的连接：优先直连，其次流最少
func (s *Swarm) bestConn(p types.PeerID) *Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *Conn
	for _, c := range s.conns[p] {
		if c.IsClosed() {
			continue
		}
		if best == nil {
			best = c
			continue
		}
		if best.isRelayed() && !c.isRelayed() {
			best = c
		} else if best.isRelayed() == c.isRelayed() && c.numStreams() < best.numStreams() {
			best = c
		}
	}
	return best
}

// ClosePeer 关闭到节点的所有连接
func (s *Swarm) ClosePeer(p types.PeerID) error {
	s.mu.RLock()
	cs := append([]*Conn(nil), s.conns[p]...)
	s.mu.RUnlock()

	var err error
	for _, c := range cs {
		err = multierr.Append(err, c.Close())
	}
	return err
}

// ============================================================================
//                              外部地址
// ============================================================================

// AddExternalAddr 记录外部可达地址（如中继电路地址、NAT 映射地址）
//
// 已存在的地址只刷新其新近度并返回 false；
// 数量达到 MaxExternalAddrs 时淘汰最久未被确认的地址。
func (s *Swarm) AddExternalAddr(a types.Multiaddr) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.external.Get(a); ok {
		return false
	}
	s.external.Add(a, struct{}{})
	return true
}

// RemoveExternalAddr 删除外部地址
func (s *Swarm) RemoveExternalAddr(a types.Multiaddr) {
	s.mu.Lock()
	s.external.Remove(a)
	s.mu.Unlock()
}

// ExternalAddrs 返回外部地址（排序）
func (s *Swarm) ExternalAddrs() []types.Multiaddr {
	s.mu.Lock()
	out := s.external.Keys()
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ============================================================================
//                              连接生命周期
// ============================================================================

// addConn 登记连接并启动入站流循环
func (s *Swarm) addConn(tc pkgif.Connection) (*Conn, error) {
	if tc.RemotePeer() == s.local {
		_ = tc.Close()
		return nil, ErrDialToSelf
	}

	c := newConn(s, tc)

	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		_ = tc.Close()
		return nil, ErrSwarmClosed
	}
	p := tc.RemotePeer()
	s.conns[p] = append(s.conns[p], c)
	s.mu.Unlock()
	s.metrics.ConnOpened(tc.Transport())

	if s.ps != nil {
		s.ps.AddPubKey(p, tc.RemotePublicKey())
		if tc.Direction() == pkgif.DirOutbound && !tc.RemoteMultiaddr().IsEmpty() {
			s.ps.AddAddrs(p, []types.Multiaddr{tc.RemoteMultiaddr()}, peerstore.ConnectedAddrTTL)
		}
	}

	log.Debug("连接建立",
		"peer", p.ShortString(),
		"direction", tc.Direction(),
		"transport", tc.Transport(),
		"remote", tc.RemoteMultiaddr())

	s.notifyAll(func(n pkgif.Notifiee) { n.Connected(c) })

	s.wg.Add(1)
	go c.acceptStreams()
	return c, nil
}

// removeConn 注销连接，由 Conn.Close 调用一次
func (s *Swarm) removeConn(c *Conn) {
	p := c.RemotePeer()

	s.mu.Lock()
	cs := s.conns[p]
	for i, x := range cs {
		if x == c {
			cs = append(cs[:i], cs[i+1:]...)
			break
		}
	}
	if len(cs) == 0 {
		delete(s.conns, p)
	} else {
		s.conns[p] = cs
	}
	remaining := len(cs)
	s.mu.Unlock()
	s.metrics.ConnClosed(c.Transport())

	if remaining == 0 && s.ps != nil {
		s.ps.UpdateAddrTTL(p, peerstore.RecentlyConnectedAddrTTL)
	}

	log.Debug("连接关闭", "peer", p.ShortString(), "remaining", remaining)
	s.notifyAll(func(n pkgif.Notifiee) { n.Disconnected(c) })
}

// idleLoop 关闭没有流且空闲超时的连接
func (s *Swarm) idleLoop() {
	defer s.wg.Done()

	interval := s.cfg.IdleTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := s.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.reapIdle()
		}
	}
}

func (s *Swarm) reapIdle() {
	now := s.clock.Now()
	for _, tc := range s.Conns() {
		c := tc.(*Conn)
		if s.IsProtected(c.RemotePeer()) {
			continue
		}
		if c.idleSince(now) >= s.cfg.IdleTimeout {
			log.Debug("关闭空闲连接", "peer", c.RemotePeer().ShortString())
			_ = c.Close()
		}
	}
}

// Close 关闭 Swarm：监听器、连接与传输
func (s *Swarm) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()

	s.mu.Lock()
	listeners := make([]pkgif.Listener, 0, len(s.listeners))
	for l := range s.listeners {
		listeners = append(listeners, l)
	}
	transports := append([]pkgif.Transport(nil), s.transports...)
	s.mu.Unlock()

	var err error
	for _, l := range listeners {
		err = multierr.Append(err, l.Close())
	}
	for _, c := range s.Conns() {
		err = multierr.Append(err, c.Close())
	}
	for _, t := range transports {
		err = multierr.Append(err, t.Close())
	}

	s.wg.Wait()
	return err
}
