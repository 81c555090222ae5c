package mdns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/mdns"

	"github.com/FelixRiddle/swarm-weave/internal/core/metrics"
	"github.com/FelixRiddle/swarm-weave/internal/util/logger"
	pkgif "github.com/FelixRiddle/swarm-weave/pkg/interfaces"
	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

var log = logger.Logger("discovery/mdns")

const (
	// expireCheckInterval 过期检查间隔
	expireCheckInterval = 10 * time.Second

	// closeTimeout 关闭时等待进行中查询的时间，hashicorp/mdns 的查询不可取消
	closeTimeout = 2 * time.Second
)

// EventKind 发现事件类型
type EventKind int

const (
	// Discovered 发现新节点
	Discovered EventKind = iota
	// Expired 节点记录过期
	Expired
)

func (k EventKind) String() string {
	switch k {
	case Discovered:
		return "discovered"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Event 发现事件
type Event struct {
	Kind  EventKind
	Peer  types.PeerID
	Addrs []types.Multiaddr
}

// Host 发现器需要的本地节点视图
type Host interface {
	LocalPeer() types.PeerID
	ListenAddrs() []types.Multiaddr
	Notify(pkgif.Notifiee)
}

type peerEntry struct {
	addrs    []types.Multiaddr
	lastSeen time.Time
}

// Discoverer mDNS 发现器
type Discoverer struct {
	cfg     Config
	host    Host
	local   types.PeerID
	clock   clock.Clock
	log     *slog.Logger
	metrics *metrics.Metrics

	events  chan Event
	refresh chan struct{}

	serverMu sync.Mutex
	server   *mdns.Server
	txt      []string

	peersMu sync.Mutex
	peers   map[types.PeerID]*peerEntry

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
	closed  atomic.Bool
}

// New 创建发现器，Start 之后开始通告与查询
func New(host Host, cfg Config) (*Discoverer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.EventQueueSize <= 0 {
		cfg.EventQueueSize = DefaultConfig().EventQueueSize
	}
	l := cfg.Logger
	if l == nil {
		l = log
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Discoverer{
		cfg:     cfg,
		host:    host,
		local:   host.LocalPeer(),
		clock:   cfg.Clock,
		log:     l,
		metrics: cfg.Metrics,
		events:  make(chan Event, cfg.EventQueueSize),
		refresh: make(chan struct{}, 1),
		peers:   make(map[types.PeerID]*peerEntry),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start 启动通告与查询
//
// 已有监听地址时立即启动服务端，绑定失败直接返回；
// 指定的网卡不存在或没有可用地址时返回 ErrInterface。
// 之后每出现新的监听地址都会重新通告。
func (d *Discoverer) Start() error {
	if d.closed.Load() {
		return ErrClosed
	}
	if !d.started.CompareAndSwap(false, true) {
		return nil
	}

	if err := d.restartServer(); err != nil && !errors.Is(err, ErrPortUnknown) {
		d.started.Store(false)
		return err
	}
	d.host.Notify(&netNotifiee{d: d})

	d.wg.Add(2)
	go d.queryLoop()
	go d.maintainLoop()

	d.log.Info("mDNS 发现器已启动", "service", d.cfg.ServiceTag)
	return nil
}

// Close 停止发现器
func (d *Discoverer) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	d.cancel()

	d.serverMu.Lock()
	var err error
	if d.server != nil {
		err = d.server.Shutdown()
		d.server = nil
	}
	d.serverMu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(closeTimeout):
		d.log.Debug("mDNS 查询仍在进行，后台退出")
	}
	return err
}

// Events 返回发现事件
func (d *Discoverer) Events() <-chan Event {
	return d.events
}

// Peers 返回当前处于发现窗口内的节点（排序）
func (d *Discoverer) Peers() []types.PeerID {
	d.peersMu.Lock()
	defer d.peersMu.Unlock()
	out := make([]types.PeerID, 0, len(d.peers))
	for p := range d.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// ============================================================================
//                              服务端
// ============================================================================

// restartServer 以当前地址重建服务端，TXT 未变时不重建
func (d *Discoverer) restartServer() error {
	var iface *net.Interface
	if d.cfg.Interface != "" {
		var err error
		if iface, err = net.InterfaceByName(d.cfg.Interface); err != nil {
			return fmt.Errorf("%w: %q: %w", ErrInterface, d.cfg.Interface, err)
		}
	}
	ips := localIPs(d.cfg.Interface, d.cfg.DisableIPv6)
	if iface != nil && len(ips) == 0 {
		return fmt.Errorf("%w: %q has no usable address", ErrInterface, d.cfg.Interface)
	}
	addrs := advertisable(d.host.ListenAddrs(), ips)
	port := servicePort(addrs)
	if port == 0 || len(ips) == 0 {
		return ErrPortUnknown
	}
	txt := buildTXTRecords(d.local, addrs)

	d.serverMu.Lock()
	defer d.serverMu.Unlock()

	if d.closed.Load() {
		return ErrClosed
	}
	if d.server != nil && slices.Equal(d.txt, txt) {
		return nil
	}
	if d.server != nil {
		_ = d.server.Shutdown()
		d.server = nil
	}

	service, err := mdns.NewMDNSService(d.instanceName(), d.cfg.ServiceTag, d.cfg.Domain, "", port, ips, txt)
	if err != nil {
		return fmt.Errorf("mdns: create service: %w", err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: service, Iface: iface})
	if err != nil {
		return fmt.Errorf("mdns: start server: %w", err)
	}

	d.server = server
	d.txt = txt
	d.log.Info("mDNS 通告地址", "port", port, "addrs", addrs)
	return nil
}

// instanceName 服务实例名，hashicorp/mdns 拼接为 <instance>.<service>.<domain>
func (d *Discoverer) instanceName() string {
	s := d.local.String()
	if len(s) > 32 {
		s = s[:32]
	}
	return s
}

// ============================================================================
//                              查询与过期
// ============================================================================

func (d *Discoverer) queryLoop() {
	defer d.wg.Done()

	d.runQuery()
	ticker := d.clock.Ticker(d.cfg.QueryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.runQuery()
		}
	}
}

// runQuery 执行一次查询，阻塞至 QueryTimeout
func (d *Discoverer) runQuery() {
	entries := make(chan *mdns.ServiceEntry, 16)
	params := &mdns.QueryParam{
		Service:             d.cfg.ServiceTag,
		Domain:              d.cfg.Domain,
		Timeout:             d.cfg.QueryTimeout,
		Entries:             entries,
		WantUnicastResponse: true,
		DisableIPv6:         d.cfg.DisableIPv6,
	}
	if d.cfg.Interface != "" {
		if iface, err := net.InterfaceByName(d.cfg.Interface); err == nil {
			params.Interface = iface
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for entry := range entries {
			d.handleEntry(entry)
		}
	}()

	if err := mdns.Query(params); err != nil {
		d.log.Debug("mDNS 查询失败", "err", err)
	}
	close(entries)
	<-done
}

// maintainLoop 处理地址刷新与过期检查
func (d *Discoverer) maintainLoop() {
	defer d.wg.Done()

	ticker := d.clock.Ticker(expireCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-d.refresh:
			if err := d.restartServer(); err != nil && !errors.Is(err, ErrPortUnknown) && !errors.Is(err, ErrClosed) {
				d.log.Warn("mDNS 服务端启动失败", "err", err)
			}
		case <-ticker.C:
			d.expire()
		}
	}
}

// handleEntry 处理一条查询结果
func (d *Discoverer) handleEntry(entry *mdns.ServiceEntry) {
	if entry == nil {
		return
	}
	id, addrs, ok := parseTXTRecords(entry.InfoFields)
	if !ok || id == d.local {
		return
	}
	if len(addrs) == 0 && entry.AddrV4 != nil && entry.Port > 0 {
		addrs = []types.Multiaddr{types.Multiaddr(fmt.Sprintf("/ip4/%s/tcp/%d", entry.AddrV4, entry.Port))}
	}
	if len(addrs) == 0 {
		return
	}
	d.observe(id, addrs)
}

// observe 记录节点出现；首次出现时发布 Discovered
func (d *Discoverer) observe(id types.PeerID, addrs []types.Multiaddr) {
	d.peersMu.Lock()
	e, exists := d.peers[id]
	if exists {
		e.addrs = addrs
		e.lastSeen = d.clock.Now()
		d.peersMu.Unlock()
		return
	}
	d.peers[id] = &peerEntry{addrs: addrs, lastSeen: d.clock.Now()}
	d.peersMu.Unlock()

	d.metrics.PeerDiscovered()
	d.log.Debug("mDNS 发现节点", "peer", id.ShortString(), "addrs", addrs)
	d.emit(Event{Kind: Discovered, Peer: id, Addrs: addrs})
}

// expire 移除超过 TTL 的节点并发布 Expired
func (d *Discoverer) expire() {
	cutoff := d.clock.Now().Add(-d.cfg.TTL)

	var expired []types.PeerID
	d.peersMu.Lock()
	for id, e := range d.peers {
		if e.lastSeen.Before(cutoff) {
			delete(d.peers, id)
			expired = append(expired, id)
		}
	}
	d.peersMu.Unlock()

	for _, id := range expired {
		d.metrics.PeerExpired()
		d.log.Debug("mDNS 节点过期", "peer", id.ShortString())
		d.emit(Event{Kind: Expired, Peer: id})
	}
}

// emit 发布事件；Discovered 与 Expired 成对出现，不丢弃
func (d *Discoverer) emit(ev Event) {
	select {
	case d.events <- ev:
	case <-d.ctx.Done():
	}
}

func (d *Discoverer) requestRefresh() {
	select {
	case d.refresh <- struct{}{}:
	default:
	}
}

type netNotifiee struct {
	d *Discoverer
}

var _ pkgif.Notifiee = (*netNotifiee)(nil)

func (n *netNotifiee) Listen(types.Multiaddr) { n.d.requestRefresh() }

func (n *netNotifiee) ListenClose(types.Multiaddr) { n.d.requestRefresh() }

func (n *netNotifiee) Connected(pkgif.Connection) {}

func (n *netNotifiee) Disconnected(pkgif.Connection) {}
