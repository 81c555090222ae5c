package behaviour

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	"github.com/FelixRiddle/swarm-weave/internal/core/identity"
	"github.com/FelixRiddle/swarm-weave/internal/core/messaging/gossipsub"
	"github.com/FelixRiddle/swarm-weave/internal/core/nat"
	"github.com/FelixRiddle/swarm-weave/internal/core/peerstore"
	"github.com/FelixRiddle/swarm-weave/internal/core/protocol/system/identify"
	"github.com/FelixRiddle/swarm-weave/internal/core/protocol/system/ping"
	"github.com/FelixRiddle/swarm-weave/internal/core/relay"
	"github.com/FelixRiddle/swarm-weave/internal/discovery/mdns"
	"github.com/FelixRiddle/swarm-weave/internal/util/logger"
	pkgif "github.com/FelixRiddle/swarm-weave/pkg/interfaces"
	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

var log = logger.Logger("behaviour")

// 组件名
const (
	NameGossip    = "gossipsub"
	NameDiscovery = "mdns"
	NameIdentify  = "identify"
	NameNAT       = "autonat"
	NameRelay     = "relay"
	NamePing      = "ping"
	NameListen    = "listen"
)

// Network 组合行为需要的网络视图，*swarm.Swarm 满足该接口
type Network interface {
	pkgif.Network
	Peerstore() *peerstore.Peerstore
	AddExternalAddr(a types.Multiaddr) bool
}

// Config 组合行为配置
type Config struct {
	Gossip   gossipsub.Config
	Identify identify.Config
	NAT      nat.Config
	Ping     ping.Config

	// Discovery mDNS 配置，nil 表示不做局域网发现
	Discovery *mdns.Config

	// Relay 中继服务配置，nil 表示不担任中继
	Relay *relay.Config

	// Dialers 可达性服务端回拨使用的传输
	Dialers []nat.Dialer

	// DialTimeout DialPeer 命令的拨号超时
	DialTimeout time.Duration

	// Logger 日志（nil 时使用 behaviour 子系统日志）
	Logger *slog.Logger
}

// DefaultConfig 返回默认配置：不做局域网发现，不担任中继
func DefaultConfig() Config {
	return Config{
		Gossip:      gossipsub.DefaultConfig(),
		Identify:    identify.DefaultConfig(),
		NAT:         nat.DefaultConfig(),
		Ping:        ping.DefaultConfig(),
		DialTimeout: 10 * time.Second,
	}
}

// ============================================================================
//                              组合行为
// ============================================================================

// Behaviour 组合行为
type Behaviour struct {
	net         Network
	log         *slog.Logger
	dialTimeout time.Duration

	components []PeerBehavior

	gossip    *gossipsub.Router
	discovery *mdns.Discoverer
	identify  *identify.Service
	nat       *nat.Service
	relay     *relay.Service
	ping      *ping.Service

	out   chan ComponentEvent
	cases []reflect.SelectCase
	last  int

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
	closed  atomic.Bool
}

// NewBehaviour 构造全部组件
//
// 任一组件构造失败时关闭已构造的组件，返回包装了 ErrConstruction 的错误。
func NewBehaviour(id *identity.Identity, network Network, cfg Config) (*Behaviour, error) {
	b := compose(network, cfg.Logger)
	if cfg.DialTimeout > 0 {
		b.dialTimeout = cfg.DialTimeout
	}

	fail := func(name string, err error) (*Behaviour, error) {
		for i := len(b.components) - 1; i >= 0; i-- {
			_ = b.components[i].Close()
		}
		b.cancel()
		return nil, fmt.Errorf("%w: %s: %w", ErrConstruction, name, err)
	}

	router, err := gossipsub.New(id, network, cfg.Gossip)
	if err != nil {
		return fail(NameGossip, err)
	}
	b.gossip = router
	b.add(newComponent(NameGossip, router.Messages(), func(m *gossipsub.Message) ComponentEvent {
		return MessageEvent{Message: m}
	}).withLifecycle(starter(router.Start), router.Close).withHandler(b.handleGossip))

	if cfg.Discovery != nil {
		d, err := mdns.New(network, *cfg.Discovery)
		if err != nil {
			return fail(NameDiscovery, err)
		}
		b.discovery = d
		b.add(newComponent(NameDiscovery, d.Events(), func(e mdns.Event) ComponentEvent {
			return DiscoveryEvent{Expired: e.Kind == mdns.Expired, Peer: e.Peer, Addrs: e.Addrs}
		}).withLifecycle(d.Start, d.Close))
	}

	idsvc := identify.New(id, network, network.Peerstore(), cfg.Identify)
	b.identify = idsvc
	b.add(newComponent(NameIdentify, idsvc.Events(), func(e identify.Event) ComponentEvent {
		return SelfDescriptionEvent{Peer: e.Peer, Info: e.Info}
	}).withLifecycle(starter(idsvc.Start), idsvc.Close))

	natsvc, err := nat.New(network, network.Peerstore(), cfg.NAT, cfg.Dialers...)
	if err != nil {
		return fail(NameNAT, err)
	}
	b.nat = natsvc
	b.add(newComponent(NameNAT, natsvc.Events(), func(e nat.Event) ComponentEvent {
		return ReachabilityEvent{Event: e}
	}).withLifecycle(natsvc.Start, natsvc.Close))

	if cfg.Relay != nil {
		rs, err := relay.New(network, *cfg.Relay)
		if err != nil {
			return fail(NameRelay, err)
		}
		b.relay = rs
		b.add(newComponent(NameRelay, rs.Events(), func(e relay.Event) ComponentEvent {
			return RelayEvent{Event: e}
		}).withLifecycle(rs.Start, rs.Close))
	}

	pinger := ping.New(network, cfg.Ping)
	b.ping = pinger
	b.add(newComponent(NamePing, pinger.Events(), func(e ping.Event) ComponentEvent {
		return LivenessEvent{Event: e}
	}).withLifecycle(starter(pinger.Start), pinger.Close))

	lw := newListenWatcher(network, b.log)
	b.add(newComponent(NameListen, lw.events, func(e ListenAddressEvent) ComponentEvent {
		return e
	}))

	return b, nil
}

// Compose 用给定组件构造组合行为
//
// network 可以为 nil，此时 AddExternalAddress 与 DialPeer 不被处理。
func Compose(network Network, components ...PeerBehavior) *Behaviour {
	b := compose(network, nil)
	for _, c := range components {
		b.add(c)
	}
	return b
}

func compose(network Network, l *slog.Logger) *Behaviour {
	if l == nil {
		l = log
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Behaviour{
		net:         network,
		log:         l,
		dialTimeout: DefaultConfig().DialTimeout,
		out:         make(chan ComponentEvent),
		last:        -1,
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (b *Behaviour) add(c PeerBehavior) {
	b.components = append(b.components, c)
}

// Start 依次启动组件并开始合并事件
//
// 某个组件启动失败时关闭已启动的组件，行为随之关闭。
func (b *Behaviour) Start() error {
	if b.closed.Load() {
		return ErrClosed
	}
	if !b.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	for i, c := range b.components {
		if err := c.Start(); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = b.components[j].Close()
			}
			b.closed.Store(true)
			b.cancel()
			close(b.out)
			return fmt.Errorf("behaviour: start %s: %w", c.Name(), err)
		}
	}

	b.cases = make([]reflect.SelectCase, 0, len(b.components)+1)
	b.cases = append(b.cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(b.ctx.Done())})
	for _, c := range b.components {
		b.cases = append(b.cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(c.Events())})
	}

	b.wg.Add(1)
	go b.mergeLoop()

	names := make([]string, 0, len(b.components))
	for _, c := range b.components {
		names = append(names, c.Name())
	}
	b.log.Info("组合行为已启动", "components", names)
	return nil
}

// Close 停止合并并按启动的逆序关闭组件
func (b *Behaviour) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	b.cancel()

	var err error
	for i := len(b.components) - 1; i >= 0; i-- {
		if cerr := b.components[i].Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", b.components[i].Name(), cerr))
		}
	}
	b.wg.Wait()
	if !b.started.Load() {
		close(b.out)
	}
	return err
}

// Events 合并后的事件流，Close 之后关闭
func (b *Behaviour) Events() <-chan ComponentEvent {
	return b.out
}

// Components 返回组件（按轮询顺序）
func (b *Behaviour) Components() []PeerBehavior {
	return append([]PeerBehavior(nil), b.components...)
}

// ============================================================================
//                              事件合并
// ============================================================================

// mergeLoop 轮询组件，把事件逐个交给消费方
func (b *Behaviour) mergeLoop() {
	defer b.wg.Done()
	defer close(b.out)

	for {
		ev, ok := b.poll()
		if !ok {
			if ev, ok = b.wait(); !ok {
				return
			}
		}
		select {
		case b.out <- ev:
		case <-b.ctx.Done():
			return
		}
	}
}

// poll 从上次服务的组件之后开始，非阻塞地依次检查每个组件
func (b *Behaviour) poll() (ComponentEvent, bool) {
	n := len(b.components)
	for i := 1; i <= n; i++ {
		idx := (b.last + i) % n
		select {
		case ev := <-b.components[idx].Events():
			b.last = idx
			return ev, true
		default:
		}
	}
	return nil, false
}

// wait 阻塞到任一组件产生事件或行为关闭
func (b *Behaviour) wait() (ComponentEvent, bool) {
	chosen, v, ok := reflect.Select(b.cases)
	if chosen == 0 || !ok {
		return nil, false
	}
	b.last = chosen - 1
	return v.Interface().(ComponentEvent), true
}

// ============================================================================
//                              命令
// ============================================================================

// Apply 把命令交给每个能处理它的组件，返回是否有组件处理
//
// AddExternalAddress 与 DialPeer 由组合行为直接作用于网络。
func (b *Behaviour) Apply(cmd Command) bool {
	handled := false
	for _, c := range b.components {
		if c.Handle(cmd) {
			handled = true
		}
	}
	if b.net == nil {
		return handled
	}

	switch cmd := cmd.(type) {
	case AddExternalAddress:
		if b.net.AddExternalAddr(cmd.Addr) {
			b.log.Info("新增外部地址", "addr", cmd.Addr)
		}
		handled = true
	case DialPeer:
		b.dial(cmd)
		handled = true
	}
	return handled
}

func (b *Behaviour) handleGossip(cmd Command) bool {
	switch cmd := cmd.(type) {
	case AddExplicitPeer:
		if b.gossip.AddExplicitPeer(cmd.Peer) {
			b.log.Debug("加入显式节点", "peer", cmd.Peer.ShortString())
		}
		return true
	case RemoveExplicitPeer:
		if b.gossip.RemoveExplicitPeer(cmd.Peer) {
			b.log.Debug("移除显式节点", "peer", cmd.Peer.ShortString())
		}
		return true
	}
	return false
}

// dial 后台拨号，已连接时跳过
func (b *Behaviour) dial(cmd DialPeer) {
	if cmd.Peer == b.net.LocalPeer() || b.net.Connected(cmd.Peer) || b.closed.Load() {
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(b.ctx, b.dialTimeout)
		defer cancel()
		if _, err := b.net.Dial(ctx, cmd.Peer, cmd.Addrs...); err != nil {
			if b.ctx.Err() == nil {
				b.log.Debug("拨号失败", "peer", cmd.Peer.ShortString(), "err", err)
			}
			return
		}
		b.log.Debug("已连接", "peer", cmd.Peer.ShortString())
	}()
}

// ============================================================================
//                              组件访问
// ============================================================================

// Gossip 返回广播路由器
func (b *Behaviour) Gossip() *gossipsub.Router {
	return b.gossip
}

// Discovery 返回 mDNS 发现器，未启用时为 nil
func (b *Behaviour) Discovery() *mdns.Discoverer {
	return b.discovery
}

// Identify 返回 identify 服务
func (b *Behaviour) Identify() *identify.Service {
	return b.identify
}

// NAT 返回可达性服务
func (b *Behaviour) NAT() *nat.Service {
	return b.nat
}

// Relay 返回中继服务，未担任中继时为 nil
func (b *Behaviour) Relay() *relay.Service {
	return b.relay
}

// Ping 返回存活探测服务
func (b *Behaviour) Ping() *ping.Service {
	return b.ping
}
