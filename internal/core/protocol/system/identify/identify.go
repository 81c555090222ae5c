package identify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FelixRiddle/swarm-weave/internal/core/identity"
	"github.com/FelixRiddle/swarm-weave/internal/core/peerstore"
	"github.com/FelixRiddle/swarm-weave/internal/util/logger"
	"github.com/FelixRiddle/swarm-weave/internal/util/msgio"
	pkgif "github.com/FelixRiddle/swarm-weave/pkg/interfaces"
	"github.com/FelixRiddle/swarm-weave/pkg/protocolids"
	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

var log = logger.Logger("identify")

const (
	// DefaultAgentVersion 默认代理版本
	DefaultAgentVersion = "swarm-weave/0.1.0"

	// maxMessageSize identify 报文上限
	maxMessageSize = 64 << 10
)

// Config identify 配置
type Config struct {
	// ProtocolVersion 协议版本标签
	ProtocolVersion string

	// AgentVersion 代理版本
	AgentVersion string

	// Timeout 单次交换超时
	Timeout time.Duration

	// EventQueueSize 事件队列长度
	EventQueueSize int

	// Logger 日志（nil 时使用 identify 子系统日志）
	Logger *slog.Logger
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		ProtocolVersion: protocolids.IdentifyProtocolVersion,
		AgentVersion:    DefaultAgentVersion,
		Timeout:         10 * time.Second,
		EventQueueSize:  32,
	}
}

// Event 收到对端自描述
type Event struct {
	Peer types.PeerID
	Info *Info
}

// Service identify 服务
type Service struct {
	cfg Config
	id  *identity.Identity
	net pkgif.Network
	ps  *peerstore.Peerstore
	log *slog.Logger

	events chan Event

	mu       sync.Mutex
	inflight map[types.PeerID]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// New 创建服务
func New(id *identity.Identity, network pkgif.Network, ps *peerstore.Peerstore, cfg Config) *Service {
	if cfg.ProtocolVersion == "" {
		cfg.ProtocolVersion = protocolids.IdentifyProtocolVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.EventQueueSize <= 0 {
		cfg.EventQueueSize = DefaultConfig().EventQueueSize
	}
	l := cfg.Logger
	if l == nil {
		l = log
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cfg:      cfg,
		id:       id,
		net:      network,
		ps:       ps,
		log:      l,
		events:   make(chan Event, cfg.EventQueueSize),
		inflight: make(map[types.PeerID]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start 注册处理器，新连接建立后自动交换
func (s *Service) Start() {
	s.net.SetStreamHandler(protocolids.Identify, s.handleStream)
	s.net.Notify(&netNotifiee{s: s})
}

// Close 停止服务
func (s *Service) Close() error {
	s.mu.Lock()
	if !s.closed.CompareAndSwap(false, true) {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.cancel()
	s.net.RemoveStreamHandler(protocolids.Identify)
	s.wg.Wait()
	return nil
}

// Events 返回自描述事件
func (s *Service) Events() <-chan Event {
	return s.events
}

// LocalInfo 构造发给 conn 对端的自描述
func (s *Service) LocalInfo(conn pkgif.Connection) *Info {
	addrs := append(s.net.ListenAddrs(), s.net.ExternalAddrs()...)
	info := &Info{
		ProtocolVersion: s.cfg.ProtocolVersion,
		AgentVersion:    s.cfg.AgentVersion,
		PublicKey:       s.id.MarshalPublicKey(),
		ListenAddrs:     addrs,
		Protocols:       s.net.Protocols(),
	}
	if conn != nil {
		info.ObservedAddr = conn.RemoteMultiaddr()
	}
	return info
}

// handleStream 应答：写出本地自描述后关闭
func (s *Service) handleStream(st pkgif.Stream) {
	defer st.Close()
	_ = st.SetDeadline(time.Now().Add(s.cfg.Timeout))

	if err := msgio.WriteMsg(st, s.LocalInfo(st.Conn()).Marshal()); err != nil {
		s.log.Debug("写 identify 失败", "peer", st.Conn().RemotePeer().ShortString(), "err", err)
		_ = st.Reset()
	}
}

// Identify 向对端请求自描述，校验后写入 Peerstore
func (s *Service) Identify(ctx context.Context, p types.PeerID) (*Info, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	st, err := s.net.NewStream(ctx, p, protocolids.Identify)
	if err != nil {
		return nil, fmt.Errorf("identify: open stream: %w", err)
	}
	defer st.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = st.SetDeadline(dl)
	}

	data, err := msgio.ReadMsg(st, maxMessageSize)
	if err != nil {
		_ = st.Reset()
		return nil, fmt.Errorf("identify: read: %w", err)
	}
	info, err := Unmarshal(data)
	if err != nil {
		return nil, err
	}

	pid, pub, err := identity.PeerIDFromMarshaledKey(info.PublicKey)
	if err != nil || pid != p {
		return nil, ErrKeyMismatch
	}

	s.ps.AddPubKey(p, pub)
	s.ps.AddAddrs(p, dialable(info.ListenAddrs), peerstore.ConnectedAddrTTL)
	s.ps.SetProtocols(p, info.Protocols...)
	s.ps.SetAgent(p, info.AgentVersion)
	return info, nil
}

// identifyConn 连接建立后执行一次交换并发布事件
func (s *Service) identifyConn(p types.PeerID) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.inflight, p)
		s.mu.Unlock()
	}()

	info, err := s.Identify(s.ctx, p)
	if err != nil {
		s.log.Debug("identify 失败", "peer", p.ShortString(), "err", err)
		return
	}
	s.log.Debug("收到自描述", "peer", p.ShortString(), "agent", info.AgentVersion, "observed", info.ObservedAddr)

	select {
	case s.events <- Event{Peer: p, Info: info}:
	default:
		s.log.Warn("identify 事件队列已满，丢弃", "peer", p.ShortString())
	}
}

// dialable 过滤未指定地址
func dialable(addrs []types.Multiaddr) []types.Multiaddr {
	out := make([]types.Multiaddr, 0, len(addrs))
	for _, a := range addrs {
		if a.IsUnspecified() {
			continue
		}
		out = append(out, a)
	}
	return out
}

type netNotifiee struct {
	s *Service
}

var _ pkgif.Notifiee = (*netNotifiee)(nil)

func (n *netNotifiee) Connected(c pkgif.Connection) {
	s := n.s
	p := c.RemotePeer()

	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		return
	}
	if _, ok := s.inflight[p]; ok {
		s.mu.Unlock()
		return
	}
	s.inflight[p] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	go s.identifyConn(p)
}

func (n *netNotifiee) Disconnected(pkgif.Connection) {}

func (n *netNotifiee) Listen(types.Multiaddr) {}

func (n *netNotifiee) ListenClose(types.Multiaddr) {}
