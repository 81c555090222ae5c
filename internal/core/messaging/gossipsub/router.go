package gossipsub

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/FelixRiddle/swarm-weave/internal/core/identity"
	"github.com/FelixRiddle/swarm-weave/internal/core/metrics"
	"github.com/FelixRiddle/swarm-weave/internal/util/logger"
	"github.com/FelixRiddle/swarm-weave/internal/util/msgio"
	pkgif "github.com/FelixRiddle/swarm-weave/pkg/interfaces"
	"github.com/FelixRiddle/swarm-weave/pkg/protocolids"
	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

var log = logger.Logger("gossipsub")

// rpcOverhead RPC 除负载外允许的额外字节
const rpcOverhead = 64 << 10

type peerSet map[types.PeerID]struct{}

// peerState 对端状态
type peerState struct {
	id     types.PeerID
	topics map[string]struct{}
	queue  chan *RPC
	cancel context.CancelFunc
}

// Router GossipSub 路由器
type Router struct {
	cfg     Config
	id      *identity.Identity
	local   types.PeerID
	net     pkgif.Network
	log     *slog.Logger
	clock   clock.Clock
	metrics *metrics.Metrics

	mu       sync.Mutex
	peers    map[types.PeerID]*peerState
	topics   map[string]peerSet
	mySubs   map[string]struct{}
	mesh     map[string]peerSet
	fanout   map[string]peerSet
	lastPub  map[string]time.Time
	backoff  map[string]map[types.PeerID]time.Time
	explicit peerSet
	mcache   *messageCache
	seen     *seenCache
	seqno    uint64

	deliver chan *Message

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
	closed  atomic.Bool
}

// New 创建路由器，Start 之后开始收发
func New(id *identity.Identity, network pkgif.Network, cfg Config) (*Router, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.SeenCapacity <= 0 {
		cfg.SeenCapacity = DefaultConfig().SeenCapacity
	}
	if cfg.OutboundQueueSize <= 0 {
		cfg.OutboundQueueSize = DefaultConfig().OutboundQueueSize
	}
	l := cfg.Logger
	if l == nil {
		l = log
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Router{
		cfg:      cfg,
		id:       id,
		local:    id.ID(),
		net:      network,
		log:      l,
		clock:    cfg.Clock,
		metrics:  cfg.Metrics,
		peers:    make(map[types.PeerID]*peerState),
		topics:   make(map[string]peerSet),
		mySubs:   make(map[string]struct{}),
		mesh:     make(map[string]peerSet),
		fanout:   make(map[string]peerSet),
		lastPub:  make(map[string]time.Time),
		backoff:  make(map[string]map[types.PeerID]time.Time),
		explicit: make(peerSet),
		mcache:   newMessageCache(cfg.HistoryGossip, cfg.HistoryLength),
		seen:     newSeenCache(cfg.SeenCapacity, cfg.SeenTTL),
		seqno:    uint64(time.Now().UnixNano()),
		deliver:  make(chan *Message, cfg.DeliveryQueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start 注册协议处理器并启动心跳
func (r *Router) Start() {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	r.net.SetStreamHandler(protocolids.GossipSub, r.handleStream)
	r.net.Notify(&netNotifiee{r: r})
	for _, p := range r.net.Peers() {
		r.addPeer(p)
	}

	r.wg.Add(1)
	go r.heartbeatLoop()
}

// Close 停止路由器
//
// Messages 通道不会关闭，消费方应同时监听自己的 context。
func (r *Router) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.cancel()
	r.net.RemoveStreamHandler(protocolids.GossipSub)
	r.wg.Wait()
	return nil
}

// Messages 返回投递到本地订阅的消息
func (r *Router) Messages() <-chan *Message {
	return r.deliver
}

// ============================================================================
//                              订阅
// ============================================================================

// Subscribe 订阅主题，重复订阅无副作用
func (r *Router) Subscribe(topic string) error {
	if r.closed.Load() {
		return ErrRouterClosed
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.mySubs[topic]; ok {
		return nil
	}
	r.mySubs[topic] = struct{}{}

	// 优先沿用 fanout 节点组建 mesh
	mesh := make(peerSet)
	for p := range r.fanout[topic] {
		if len(mesh) >= r.cfg.D {
			break
		}
		mesh[p] = struct{}{}
	}
	delete(r.fanout, topic)
	delete(r.lastPub, topic)
	now := r.clock.Now()
	for _, p := range r.candidatesLocked(topic, mesh, now, r.cfg.D-len(mesh)) {
		mesh[p] = struct{}{}
	}
	r.mesh[topic] = mesh

	for p, ps := range r.peers {
		rpc := &RPC{Subscriptions: []SubOpts{{Subscribe: true, Topic: topic}}}
		if _, ok := mesh[p]; ok {
			rpc.Control = &ControlMessage{Graft: []ControlGraft{{Topic: topic}}}
		}
		r.enqueueLocked(ps, rpc)
	}

	r.log.Info("订阅主题", "topic", topic, "mesh", len(mesh))
	return nil
}

// Unsubscribe 取消订阅主题
func (r *Router) Unsubscribe(topic string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.mySubs[topic]; !ok {
		return ErrNotSubscribed
	}
	delete(r.mySubs, topic)

	mesh := r.mesh[topic]
	delete(r.mesh, topic)
	backoffSecs := uint64(r.cfg.PruneBackoff / time.Second)
	for p, ps := range r.peers {
		rpc := &RPC{Subscriptions: []SubOpts{{Subscribe: false, Topic: topic}}}
		if _, ok := mesh[p]; ok {
			rpc.Control = &ControlMessage{Prune: []ControlPrune{{Topic: topic, Backoff: backoffSecs}}}
		}
		r.enqueueLocked(ps, rpc)
	}

	r.log.Info("取消订阅主题", "topic", topic)
	return nil
}

// Topics 返回本地订阅的主题（排序）
func (r *Router) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.mySubs))
	for t := range r.mySubs {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// ListPeers 返回订阅了主题的对端
func (r *Router) ListPeers(topic string) []types.PeerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedPeers(r.topics[topic])
}

// MeshPeers 返回主题 mesh 中的对端
func (r *Router) MeshPeers(topic string) []types.PeerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedPeers(r.mesh[topic])
}

// ============================================================================
//                              显式节点
// ============================================================================

// AddExplicitPeer 注册显式节点，返回是否新增
//
// 显式节点不参与 mesh，订阅了主题时总会收到该主题的消息。
func (r *Router) AddExplicitPeer(p types.PeerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.explicit[p]; ok {
		return false
	}
	r.explicit[p] = struct{}{}
	for _, mesh := range r.mesh {
		delete(mesh, p)
	}
	for _, fanout := range r.fanout {
		delete(fanout, p)
	}
	return true
}

// RemoveExplicitPeer 移除显式节点，返回是否存在
func (r *Router) RemoveExplicitPeer(p types.PeerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.explicit[p]; !ok {
		return false
	}
	delete(r.explicit, p)
	return true
}

// ClearExplicitPeers 清空显式节点
func (r *Router) ClearExplicitPeers() {
	r.mu.Lock()
	r.explicit = make(peerSet)
	r.mu.Unlock()
}

// IsExplicit 是否为显式节点
func (r *Router) IsExplicit(p types.PeerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.explicit[p]
	return ok
}

// ExplicitPeers 返回显式节点（排序）
func (r *Router) ExplicitPeers() []types.PeerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedPeers(r.explicit)
}

// ============================================================================
//                              发布
// ============================================================================

// Publish 签名并发布消息，返回消息 ID
func (r *Router) Publish(topic string, data []byte) (string, error) {
	if r.closed.Load() {
		return "", ErrRouterClosed
	}
	if len(data) > r.cfg.MaxMessageSize {
		return "", ErrMessageTooLarge
	}
	id := MessageID(data)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.seen.has(id) {
		return id, ErrDuplicate
	}

	r.seqno++
	m := &Message{
		From:  r.local,
		Data:  append([]byte{}, data...),
		Seqno: binary.BigEndian.AppendUint64(nil, r.seqno),
		Topic: topic,
		ID:    id,
	}
	sign(r.id, m)

	recipients := r.publishTargetsLocked(topic)
	if len(recipients) == 0 {
		return id, ErrInsufficientPeers
	}

	r.seen.add(id)
	r.mcache.put(m)
	rpc := &RPC{Publish: []*Message{m}}
	for p := range recipients {
		if ps, ok := r.peers[p]; ok {
			r.enqueueLocked(ps, rpc)
		}
	}

	r.metrics.MessagePublished(topic, len(data))
	r.log.Debug("发布消息", "topic", topic, "id", id, "peers", len(recipients))
	return id, nil
}

func (r *Router) publishTargetsLocked(topic string) peerSet {
	targets := make(peerSet)
	subscribers := r.topics[topic]

	switch {
	case r.cfg.FloodPublish:
		for p := range subscribers {
			targets[p] = struct{}{}
		}
	case r.isSubscribedLocked(topic):
		for p := range r.mesh[topic] {
			targets[p] = struct{}{}
		}
	default:
		fanout, ok := r.fanout[topic]
		if !ok {
			fanout = make(peerSet)
			for _, p := range r.candidatesLocked(topic, nil, r.clock.Now(), r.cfg.D) {
				fanout[p] = struct{}{}
			}
			r.fanout[topic] = fanout
		}
		r.lastPub[topic] = r.clock.Now()
		for p := range fanout {
			targets[p] = struct{}{}
		}
	}

	for p := range r.explicit {
		if _, ok := subscribers[p]; ok {
			targets[p] = struct{}{}
		}
	}
	return targets
}

// ============================================================================
//                              对端管理
// ============================================================================

// addPeer 开始跟踪对端并建立发送流；已跟踪时忽略
func (r *Router) addPeer(p types.PeerID) {
	if r.closed.Load() || p == r.local {
		return
	}

	r.mu.Lock()
	if _, ok := r.peers[p]; ok {
		r.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(r.ctx)
	ps := &peerState{
		id:     p,
		topics: make(map[string]struct{}),
		queue:  make(chan *RPC, r.cfg.OutboundQueueSize),
		cancel: cancel,
	}
	r.peers[p] = ps

	// 首个 RPC 通告本地订阅
	hello := &RPC{}
	for t := range r.mySubs {
		hello.Subscriptions = append(hello.Subscriptions, SubOpts{Subscribe: true, Topic: t})
	}
	if !hello.empty() {
		ps.queue <- hello
	}
	r.mu.Unlock()

	r.wg.Add(1)
	go r.writeLoop(ctx, ps)
}

// removePeer 停止跟踪对端；ps 非 nil 时仅在状态仍为 ps 时移除
func (r *Router) removePeer(p types.PeerID, ps *peerState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.peers[p]
	if !ok || (ps != nil && cur != ps) {
		return
	}
	cur.cancel()
	delete(r.peers, p)
	for t := range cur.topics {
		delete(r.topics[t], p)
	}
	for _, mesh := range r.mesh {
		delete(mesh, p)
	}
	for _, fanout := range r.fanout {
		delete(fanout, p)
	}
	r.log.Debug("对端离开", "peer", p.ShortString())
}

// writeLoop 打开到对端的发送流并写出队列中的 RPC
func (r *Router) writeLoop(ctx context.Context, ps *peerState) {
	defer r.wg.Done()

	st, err := r.net.NewStream(ctx, ps.id, protocolids.GossipSub)
	if err != nil {
		r.log.Debug("打开 gossipsub 流失败", "peer", ps.id.ShortString(), "err", err)
		r.removePeer(ps.id, ps)
		return
	}
	defer st.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case rpc := <-ps.queue:
			if err := msgio.WriteMsg(st, rpc.Marshal()); err != nil {
				r.log.Debug("写 RPC 失败", "peer", ps.id.ShortString(), "err", err)
				_ = st.Reset()
				r.removePeer(ps.id, ps)
				return
			}
		}
	}
}

// enqueueLocked 放入发送队列，队列满时丢弃
func (r *Router) enqueueLocked(ps *peerState, rpc *RPC) {
	select {
	case ps.queue <- rpc:
	default:
		r.log.Debug("发送队列已满，丢弃 RPC", "peer", ps.id.ShortString())
	}
}

// handleStream 读取对端发来的 RPC
func (r *Router) handleStream(st pkgif.Stream) {
	p := st.Conn().RemotePeer()
	r.addPeer(p)

	stop := context.AfterFunc(r.ctx, func() { _ = st.Reset() })
	defer stop()

	rd := msgio.NewReader(st, r.cfg.MaxMessageSize+rpcOverhead)
	for {
		data, err := rd.ReadMsg()
		if err != nil {
			_ = st.Reset()
			return
		}
		rpc, err := UnmarshalRPC(data)
		if err != nil {
			r.log.Debug("丢弃无效 RPC", "peer", p.ShortString(), "err", err)
			_ = st.Reset()
			return
		}
		r.handleRPC(p, rpc)
	}
}

// ============================================================================
//                              RPC 处理
// ============================================================================

func (r *Router) handleRPC(from types.PeerID, rpc *RPC) {
	var deliveries []*Message

	r.mu.Lock()
	ps, ok := r.peers[from]
	if !ok {
		r.mu.Unlock()
		return
	}

	for _, sub := range rpc.Subscriptions {
		r.handleSubscriptionLocked(ps, sub)
	}
	for _, m := range rpc.Publish {
		if r.handleMessageLocked(from, m) {
			deliveries = append(deliveries, m)
		}
	}
	if rpc.Control != nil {
		if resp := r.handleControlLocked(from, rpc.Control); !resp.empty() {
			r.enqueueLocked(ps, resp)
		}
	}
	r.mu.Unlock()

	for _, m := range deliveries {
		r.metrics.MessageDelivered(m.Topic, len(m.Data))
		select {
		case r.deliver <- m:
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *Router) handleSubscriptionLocked(ps *peerState, sub SubOpts) {
	if sub.Subscribe {
		ps.topics[sub.Topic] = struct{}{}
		set, ok := r.topics[sub.Topic]
		if !ok {
			set = make(peerSet)
			r.topics[sub.Topic] = set
		}
		set[ps.id] = struct{}{}
		return
	}
	delete(ps.topics, sub.Topic)
	delete(r.topics[sub.Topic], ps.id)
	delete(r.mesh[sub.Topic], ps.id)
	delete(r.fanout[sub.Topic], ps.id)
}

// handleMessageLocked 校验并转发消息，返回是否应投递到本地
//
// 只有通过签名校验的消息才会标记为已见，伪造的副本不会挡住真实消息。
func (r *Router) handleMessageLocked(from types.PeerID, m *Message) bool {
	if len(m.Data) > r.cfg.MaxMessageSize {
		r.metrics.MessageRejected(metrics.RejectTooLarge)
		return false
	}
	m.ID = MessageID(m.Data)
	m.ReceivedFrom = from

	if r.seen.has(m.ID) {
		r.metrics.MessageDuplicate()
		return false
	}
	if m.From == r.local {
		r.metrics.MessageRejected(metrics.RejectSelfOrigin)
		return false
	}
	if err := verify(m); err != nil {
		reason := metrics.RejectInvalidSignature
		if errors.Is(err, ErrMissingSignature) {
			reason = metrics.RejectMissingSignature
		}
		r.metrics.MessageRejected(reason)
		r.log.Debug("拒绝消息", "from", from.ShortString(), "topic", m.Topic, "err", err)
		return false
	}

	r.seen.add(m.ID)
	r.mcache.put(m)
	r.forwardLocked(m, from)
	return r.isSubscribedLocked(m.Topic)
}

// forwardLocked 转发给 mesh 与订阅了主题的显式节点
func (r *Router) forwardLocked(m *Message, src types.PeerID) {
	targets := make(peerSet)
	for p := range r.mesh[m.Topic] {
		targets[p] = struct{}{}
	}
	for p := range r.explicit {
		if _, ok := r.topics[m.Topic][p]; ok {
			targets[p] = struct{}{}
		}
	}
	delete(targets, src)
	delete(targets, m.From)

	if len(targets) == 0 {
		return
	}
	rpc := &RPC{Publish: []*Message{m}}
	for p := range targets {
		if ps, ok := r.peers[p]; ok {
			r.enqueueLocked(ps, rpc)
		}
	}
}

func (r *Router) handleControlLocked(from types.PeerID, ctl *ControlMessage) *RPC {
	resp := &RPC{}
	now := r.clock.Now()

	// IHAVE：请求未见过的消息
	var want []string
	for _, ih := range ctl.IHave {
		if !r.isSubscribedLocked(ih.Topic) {
			continue
		}
		for _, id := range ih.MessageIDs {
			if len(want) >= r.cfg.MaxIHaveLength {
				break
			}
			if r.seen.has(id) {
				continue
			}
			if _, ok := r.mcache.get(id); ok {
				continue
			}
			want = append(want, id)
		}
	}

	// IWANT：从缓存回复
	for _, iw := range ctl.IWant {
		for _, id := range iw.MessageIDs {
			if m, ok := r.mcache.get(id); ok {
				resp.Publish = append(resp.Publish, m)
			}
		}
	}

	// GRAFT：加入 mesh，或以 PRUNE 拒绝
	var prunes []ControlPrune
	backoffSecs := uint64(r.cfg.PruneBackoff / time.Second)
	for _, g := range ctl.Graft {
		_, explicit := r.explicit[from]
		switch {
		case explicit:
			prunes = append(prunes, ControlPrune{Topic: g.Topic})
		case !r.isSubscribedLocked(g.Topic):
			prunes = append(prunes, ControlPrune{Topic: g.Topic})
		case r.inBackoffLocked(g.Topic, from, now):
			prunes = append(prunes, ControlPrune{Topic: g.Topic, Backoff: backoffSecs})
		default:
			r.mesh[g.Topic][from] = struct{}{}
			r.log.Debug("对端加入 mesh", "peer", from.ShortString(), "topic", g.Topic)
		}
	}

	// PRUNE：移出 mesh 并退避
	for _, p := range ctl.Prune {
		delete(r.mesh[p.Topic], from)
		wait := r.cfg.PruneBackoff
		if d := time.Duration(p.Backoff) * time.Second; d > wait {
			wait = d
		}
		r.setBackoffLocked(p.Topic, from, now.Add(wait))
	}

	if len(want) > 0 || len(prunes) > 0 {
		resp.Control = &ControlMessage{Prune: prunes}
		if len(want) > 0 {
			resp.Control.IWant = []ControlIWant{{MessageIDs: want}}
		}
	}
	return resp
}

// ============================================================================
//                              辅助
// ============================================================================

func (r *Router) isSubscribedLocked(topic string) bool {
	_, ok := r.mySubs[topic]
	return ok
}

func (r *Router) inBackoffLocked(topic string, p types.PeerID, now time.Time) bool {
	until, ok := r.backoff[topic][p]
	return ok && now.Before(until)
}

func (r *Router) setBackoffLocked(topic string, p types.PeerID, until time.Time) {
	m, ok := r.backoff[topic]
	if !ok {
		m = make(map[types.PeerID]time.Time)
		r.backoff[topic] = m
	}
	if until.After(m[p]) {
		m[p] = until
	}
}

// candidatesLocked 返回可加入 mesh/fanout 的随机节点，最多 n 个
//
// 排除 exclude 中的节点、显式节点与退避中的节点。
func (r *Router) candidatesLocked(topic string, exclude peerSet, now time.Time, n int) []types.PeerID {
	if n <= 0 {
		return nil
	}
	var out []types.PeerID
	for p := range r.topics[topic] {
		if _, ok := exclude[p]; ok {
			continue
		}
		if _, ok := r.explicit[p]; ok {
			continue
		}
		if r.inBackoffLocked(topic, p, now) {
			continue
		}
		out = append(out, p)
	}
	shufflePeers(out)
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func sortedPeers(set peerSet) []types.PeerID {
	out := make([]types.PeerID, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

// ============================================================================
//                              网络事件
// ============================================================================

type netNotifiee struct {
	r *Router
}

var _ pkgif.Notifiee = (*netNotifiee)(nil)

func (n *netNotifiee) Connected(c pkgif.Connection) {
	// 连接建立回调不得阻塞，发送流在 writeLoop 中打开
	n.r.addPeer(c.RemotePeer())
}

func (n *netNotifiee) Disconnected(c pkgif.Connection) {
	if !n.r.net.Connected(c.RemotePeer()) {
		n.r.removePeer(c.RemotePeer(), nil)
	}
}

func (n *netNotifiee) Listen(types.Multiaddr) {}

func (n *netNotifiee) ListenClose(types.Multiaddr) {}
