package nat

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"

	"github.com/FelixRiddle/swarm-weave/internal/core/peerstore"
	"github.com/FelixRiddle/swarm-weave/internal/util/logger"
	pkgif "github.com/FelixRiddle/swarm-weave/pkg/interfaces"
	"github.com/FelixRiddle/swarm-weave/pkg/protocolids"
	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

var log = logger.Logger("nat")

// EventKind 事件类型
type EventKind int

const (
	// EventStatusChanged 可达性状态翻转
	EventStatusChanged EventKind = iota
	// EventExternalAddr 端口映射或 STUN 得到外部地址
	EventExternalAddr
)

// String 返回事件类型名
func (k EventKind) String() string {
	if k == EventExternalAddr {
		return "external-addr"
	}
	return "status-changed"
}

// Event 可达性事件
type Event struct {
	Kind EventKind

	// Status 新状态（EventStatusChanged）
	Status Reachability

	// Previous 旧状态（EventStatusChanged）
	Previous Reachability

	// Addr 回拨成功的地址，或映射得到的外部地址
	Addr types.Multiaddr

	// Source 结果来源："autonat"、"nat-pmp"、"upnp"、"stun"
	Source string
}

// Dialer 回拨使用的拨号器，传输层实现即可满足
//
// 回拨必须建立新连接，不能复用已有连接，所以不经过 Swarm。
type Dialer interface {
	CanDial(addr types.Multiaddr) bool
	Dial(ctx context.Context, raddr types.Multiaddr, p types.PeerID) (pkgif.Connection, error)
}

// Service 可达性服务：autonat 客户端与服务端、端口映射、STUN
type Service struct {
	cfg     Config
	net     pkgif.Network
	ps      *peerstore.Peerstore
	dialers []Dialer
	clock   clock.Clock
	log     *slog.Logger

	tracker *tracker
	limiter *rate.Limiter
	events  chan Event

	mu        sync.Mutex
	preferred []types.PeerID
	lastProbe map[types.PeerID]time.Time
	dialing   map[types.PeerID]struct{}
	announced map[types.Multiaddr]struct{}

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
	closed  atomic.Bool
}

// New 创建服务
//
// dialers 供服务端回拨使用；EnableServer 为 false 时可以为空。
func New(network pkgif.Network, ps *peerstore.Peerstore, cfg Config, dialers ...Dialer) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.EventQueueSize <= 0 {
		cfg.EventQueueSize = DefaultConfig().EventQueueSize
	}
	if cfg.MaxDialAddrs <= 0 {
		cfg.MaxDialAddrs = DefaultConfig().MaxDialAddrs
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	l := cfg.Logger
	if l == nil {
		l = log
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		cfg:       cfg,
		net:       network,
		ps:        ps,
		dialers:   dialers,
		clock:     cfg.Clock,
		log:       l,
		tracker:   newTracker(cfg.ConfidenceThreshold),
		events:    make(chan Event, cfg.EventQueueSize),
		lastProbe: make(map[types.PeerID]time.Time),
		dialing:   make(map[types.PeerID]struct{}),
		announced: make(map[types.Multiaddr]struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
	if cfg.EnableServer {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.DialBackRate), cfg.DialBackBurst)
	}
	return s, nil
}

// Start 注册服务端处理器并启动探测、映射与 STUN 循环
func (s *Service) Start() error {
	if s.closed.Load() {
		return ErrClosed
	}
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}
	if s.cfg.EnableServer {
		s.net.SetStreamHandler(protocolids.AutoNAT, s.handleStream)
	}

	s.wg.Add(1)
	go s.probeLoop()

	if s.cfg.EnablePortMapping {
		s.wg.Add(1)
		go s.mappingLoop()
	}
	if len(s.cfg.STUNServers) > 0 {
		s.wg.Add(1)
		go s.stunLoop()
	}
	return nil
}

// Close 停止服务，删除已建立的端口映射
func (s *Service) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()
	if s.cfg.EnableServer {
		s.net.RemoveStreamHandler(protocolids.AutoNAT)
	}
	s.wg.Wait()
	return nil
}

// Events 返回可达性事件
func (s *Service) Events() <-chan Event {
	return s.events
}

// Reachability 返回当前可达性
func (s *Service) Reachability() Reachability {
	return s.tracker.current()
}

// AddPreferredServer 添加优先使用的探测服务端（如引导节点）
func (s *Service) AddPreferredServer(p types.PeerID) {
	if p == s.net.LocalPeer() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, x := range s.preferred {
		if x == p {
			return
		}
	}
	s.preferred = append(s.preferred, p)
}

// emit 阻塞发送，服务关闭时放弃
func (s *Service) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

// announce 发布外部地址，同一地址只发布一次
func (s *Service) announce(addr types.Multiaddr, source string) {
	s.mu.Lock()
	if _, ok := s.announced[addr]; ok {
		s.mu.Unlock()
		return
	}
	s.announced[addr] = struct{}{}
	s.mu.Unlock()

	s.log.Info("发现外部地址", "addr", addr, "source", source)
	s.emit(Event{Kind: EventExternalAddr, Addr: addr, Source: source})
}
