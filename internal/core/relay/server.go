package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/FelixRiddle/swarm-weave/internal/core/metrics"
	"github.com/FelixRiddle/swarm-weave/internal/util/logger"
	"github.com/FelixRiddle/swarm-weave/internal/util/msgio"
	pkgif "github.com/FelixRiddle/swarm-weave/pkg/interfaces"
	"github.com/FelixRiddle/swarm-weave/pkg/protocolids"
	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

var log = logger.Logger("relay")

const (
	// copyBufferSize 转发缓冲区
	copyBufferSize = 32 << 10

	// reservationTag 预留节点的连接保护标签
	reservationTag = "relay-reservation"
)

// errDataLimit 电路单向字节数达到上限
var errDataLimit = errors.New("relay: circuit data limit reached")

// EventKind 事件类型
type EventKind int

const (
	// EventReservationAccepted 接受（或续租）预留
	EventReservationAccepted EventKind = iota
	// EventCircuitOpened 电路建立
	EventCircuitOpened
	// EventCircuitClosed 电路关闭
	EventCircuitClosed
)

func (k EventKind) String() string {
	switch k {
	case EventReservationAccepted:
		return "reservation-accepted"
	case EventCircuitOpened:
		return "circuit-opened"
	default:
		return "circuit-closed"
	}
}

// Event 中继事件
type Event struct {
	Kind EventKind

	// Peer 预留节点，或电路源节点
	Peer types.PeerID

	// Dest 电路目标节点
	Dest types.PeerID

	// Circuit 电路 ID
	Circuit string

	// Expire 预留到期时间
	Expire time.Time

	// Renewed 是否为续租
	Renewed bool

	// Bytes 电路关闭时双向合计转发的字节数
	Bytes int64

	// Err 电路非正常结束的原因（超时、字节上限、流错误）
	Err error
}

// protector 能保护连接不被空闲回收的网络，Swarm 实现了它
type protector interface {
	Protect(p types.PeerID, tag string)
	Unprotect(p types.PeerID, tag string) bool
}

// ============================================================================
//                              中继服务
// ============================================================================

// Service 中继服务端（hop 协议）
type Service struct {
	cfg     Config
	net     pkgif.Network
	clock   clock.Clock
	log     *slog.Logger
	metrics *metrics.Metrics
	lim     *limiter
	events  chan Event

	mu           sync.Mutex
	reservations map[types.PeerID]*reservation
	circuits     map[string]*circuit

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
	closed  atomic.Bool
}

type reservation struct {
	id     string
	ip     string
	expire time.Time
}

// circuit 活跃电路
type circuit struct {
	id     string
	src    types.PeerID
	dst    types.PeerID
	srcSt  pkgif.Stream
	dstSt  pkgif.Stream
	opened time.Time

	up   atomic.Int64
	down atomic.Int64

	mu    sync.Mutex
	cause error
}

// reset 以 cause 为原因重置两端，只有第一次调用生效
func (c *circuit) reset(cause error) {
	c.mu.Lock()
	if c.cause != nil {
		c.mu.Unlock()
		return
	}
	c.cause = cause
	c.mu.Unlock()

	_ = c.srcSt.Reset()
	_ = c.dstSt.Reset()
}

func (c *circuit) err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cause
}

// New 创建中继服务
func New(network pkgif.Network, cfg Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultConfig().HandshakeTimeout
	}
	if cfg.EventQueueSize <= 0 {
		cfg.EventQueueSize = DefaultConfig().EventQueueSize
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	l := cfg.Logger
	if l == nil {
		l = log
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cfg:          cfg,
		net:          network,
		clock:        cfg.Clock,
		log:          l,
		metrics:      cfg.Metrics,
		lim:          newLimiter(cfg),
		events:       make(chan Event, cfg.EventQueueSize),
		reservations: make(map[types.PeerID]*reservation),
		circuits:     make(map[string]*circuit),
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Start 注册 hop 协议并启动预留过期清理
func (s *Service) Start() error {
	if s.closed.Load() {
		return ErrClosed
	}
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}
	s.net.SetStreamHandler(protocolids.RelayHop, s.handleStream)
	s.net.Notify(&netNotifiee{s: s})

	s.wg.Add(1)
	go s.expireLoop()

	s.log.Info("中继服务已启动",
		"maxReservations", s.cfg.MaxReservations,
		"maxCircuits", s.cfg.MaxCircuits,
		"circuitDuration", s.cfg.CircuitDuration,
		"circuitBytes", s.cfg.CircuitBytes)
	return nil
}

// Close 停止服务，重置所有电路
func (s *Service) Close() error {
	s.mu.Lock()
	if !s.closed.CompareAndSwap(false, true) {
		s.mu.Unlock()
		return nil
	}
	circuits := make([]*circuit, 0, len(s.circuits))
	for _, c := range s.circuits {
		circuits = append(circuits, c)
	}
	peers := make([]types.PeerID, 0, len(s.reservations))
	for p := range s.reservations {
		peers = append(peers, p)
	}
	s.reservations = make(map[types.PeerID]*reservation)
	s.mu.Unlock()

	s.cancel()
	s.net.RemoveStreamHandler(protocolids.RelayHop)
	for _, c := range circuits {
		c.reset(ErrClosed)
	}
	for _, p := range peers {
		s.unprotect(p)
	}
	s.wg.Wait()
	s.metrics.SetReservations(0)
	return nil
}

// Events 返回中继事件
//
// 队列满时丢弃事件，转发路径不等待消费者。
func (s *Service) Events() <-chan Event {
	return s.events
}

// NumReservations 当前预留数
func (s *Service) NumReservations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reservations)
}

// NumCircuits 当前活跃电路数
func (s *Service) NumCircuits() int {
	return s.lim.activeCircuits()
}

// HasReservation 节点是否持有有效预留
func (s *Service) HasReservation(p types.PeerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[p]
	return ok && s.clock.Now().Before(r.expire)
}

func (s *Service) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.log.Debug("事件队列已满，丢弃事件", "kind", ev.Kind)
	}
}

func (s *Service) limit() *Limit {
	return &Limit{Duration: s.cfg.CircuitDuration, Data: s.cfg.CircuitBytes}
}

// relayAddrs 预留响应中携带的中继地址：非中继、非通配，带本节点 ID
func (s *Service) relayAddrs() []types.Multiaddr {
	local := s.net.LocalPeer()
	seen := make(map[types.Multiaddr]struct{})
	var out []types.Multiaddr
	for _, a := range append(s.net.ExternalAddrs(), s.net.ListenAddrs()...) {
		if a.IsRelay() || a.IsUnspecified() {
			continue
		}
		a = a.WithPeerID(local)
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}

func (s *Service) protect(p types.PeerID) {
	if pr, ok := s.net.(protector); ok {
		pr.Protect(p, reservationTag)
	}
}

func (s *Service) unprotect(p types.PeerID) {
	if pr, ok := s.net.(protector); ok {
		pr.Unprotect(p, reservationTag)
	}
}

// ============================================================================
//                              hop 协议处理
// ============================================================================

// handleStream 处理 hop 流：RESERVE 或 CONNECT
func (s *Service) handleStream(st pkgif.Stream) {
	_ = st.SetDeadline(time.Now().Add(s.cfg.HandshakeTimeout))

	data, err := msgio.ReadMsgExact(st, maxMessageSize)
	if err != nil {
		_ = st.Reset()
		return
	}
	msg, err := UnmarshalHop(data)
	if err != nil {
		s.refuse(st, StatusMalformedMessage)
		return
	}

	switch msg.Type {
	case HopReserve:
		s.handleReserve(st)
	case HopConnect:
		s.handleConnect(st, msg)
	default:
		s.refuse(st, StatusUnexpectedMessage)
	}
}

// refuse 回复失败状态并关闭流
func (s *Service) refuse(st pkgif.Stream, status Status) {
	resp := &HopMessage{Type: HopStatus, Status: status}
	if err := msgio.WriteMsg(st, resp.Marshal()); err != nil {
		_ = st.Reset()
		return
	}
	_ = st.Close()
}

// handleReserve 登记或续租预留
func (s *Service) handleReserve(st pkgif.Stream) {
	conn := st.Conn()
	remote := conn.RemotePeer()
	if conn.RemoteMultiaddr().IsRelay() {
		s.log.Debug("拒绝经中继到达的预留请求", "peer", remote.ShortString())
		s.refuse(st, StatusPermissionDenied)
		return
	}
	if !s.lim.allowRequest() {
		s.refuse(st, StatusResourceLimitExceeded)
		return
	}

	var ip string
	if addr := conn.RemoteMultiaddr().IP(); addr != nil {
		ip = addr.String()
	}

	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		_ = st.Reset()
		return
	}
	res, renewed := s.reservations[remote]
	if !renewed {
		if len(s.reservations) >= s.cfg.MaxReservations || !s.allowIPLocked(ip) {
			s.mu.Unlock()
			s.log.Debug("预留已满", "peer", remote.ShortString(), "ip", ip)
			s.refuse(st, StatusReservationRefused)
			return
		}
		res = &reservation{id: uuid.NewString(), ip: ip}
		s.reservations[remote] = res
	}
	res.expire = s.clock.Now().Add(s.cfg.ReservationTTL)
	expire, id, n := res.expire, res.id, len(s.reservations)
	s.mu.Unlock()

	s.protect(remote)
	s.metrics.SetReservations(n)

	resp := &HopMessage{
		Type:   HopStatus,
		Status: StatusOK,
		Reservation: &Reservation{
			Expire:  expire,
			Addrs:   s.relayAddrs(),
			Voucher: id,
		},
		Limit: s.limit(),
	}
	if err := msgio.WriteMsg(st, resp.Marshal()); err != nil {
		s.log.Debug("写预留响应失败", "peer", remote.ShortString(), "err", err)
		_ = st.Reset()
		return
	}
	_ = st.Close()

	s.log.Debug("接受预留", "peer", remote.ShortString(), "id", id, "renewed", renewed, "expire", expire)
	s.emit(Event{Kind: EventReservationAccepted, Peer: remote, Expire: expire, Renewed: renewed})
}

// allowIPLocked 同一来源 IP 的预留数是否未达上限，调用方持有 mu
func (s *Service) allowIPLocked(ip string) bool {
	if s.cfg.MaxReservationsPerIP <= 0 || ip == "" {
		return true
	}
	n := 0
	for _, r := range s.reservations {
		if r.ip == ip {
			n++
		}
	}
	return n < s.cfg.MaxReservationsPerIP
}

// handleConnect 为源节点建立到已预留目标的电路
//
// 流程：
//  1. 校验请求：非中继连接、目标有效且持有预留、请求与电路数未超限
//  2. 向目标打开 stop 流，发送 CONNECT 并等待 OK
//  3. 回复源节点 OK，之后两条流转为原始字节转发
func (s *Service) handleConnect(st pkgif.Stream, msg *HopMessage) {
	src := st.Conn().RemotePeer()
	if st.Conn().RemoteMultiaddr().IsRelay() {
		s.refuse(st, StatusPermissionDenied)
		return
	}
	if msg.Peer == nil || msg.Peer.ID.IsEmpty() {
		s.refuse(st, StatusMalformedMessage)
		return
	}
	dst := msg.Peer.ID
	if dst == src || dst == s.net.LocalPeer() {
		s.refuse(st, StatusPermissionDenied)
		return
	}
	if !s.lim.allowRequest() {
		s.refuse(st, StatusResourceLimitExceeded)
		return
	}
	if !s.HasReservation(dst) {
		s.refuse(st, StatusNoReservation)
		return
	}
	if !s.lim.acquireCircuit(src, dst) {
		s.log.Debug("电路数已达上限", "src", src.ShortString(), "dst", dst.ShortString())
		s.refuse(st, StatusResourceLimitExceeded)
		return
	}

	dstSt, err := s.connectDest(src, dst)
	if err != nil {
		s.lim.releaseCircuit(src, dst)
		s.log.Debug("连接电路目标失败", "src", src.ShortString(), "dst", dst.ShortString(), "err", err)
		s.refuse(st, StatusConnectionFailed)
		return
	}

	resp := &HopMessage{Type: HopStatus, Status: StatusOK, Limit: s.limit()}
	if err := msgio.WriteMsg(st, resp.Marshal()); err != nil {
		s.lim.releaseCircuit(src, dst)
		_ = st.Reset()
		_ = dstSt.Reset()
		return
	}
	_ = st.SetDeadline(time.Time{})
	_ = dstSt.SetDeadline(time.Time{})

	c := &circuit{
		id:     uuid.NewString(),
		src:    src,
		dst:    dst,
		srcSt:  st,
		dstSt:  dstSt,
		opened: s.clock.Now(),
	}

	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		s.lim.releaseCircuit(src, dst)
		c.reset(ErrClosed)
		return
	}
	s.circuits[c.id] = c
	s.wg.Add(1)
	s.mu.Unlock()

	ctx, cancel := s.clock.WithTimeout(s.ctx, s.cfg.CircuitDuration)
	defer cancel()

	s.metrics.CircuitOpened()
	s.log.Debug("电路建立", "id", c.id, "src", src.ShortString(), "dst", dst.ShortString())
	s.emit(Event{Kind: EventCircuitOpened, Peer: src, Dest: dst, Circuit: c.id})

	s.relay(ctx, c)
}

// connectDest 向目标打开 stop 流并完成 CONNECT 交换
func (s *Service) connectDest(src, dst types.PeerID) (pkgif.Stream, error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.HandshakeTimeout)
	defer cancel()

	st, err := s.net.NewStream(ctx, dst, protocolids.RelayStop)
	if err != nil {
		return nil, err
	}
	_ = st.SetDeadline(time.Now().Add(s.cfg.HandshakeTimeout))

	req := &StopMessage{Type: StopConnect, Peer: &Peer{ID: src}, Limit: s.limit()}
	if err := msgio.WriteMsg(st, req.Marshal()); err != nil {
		_ = st.Reset()
		return nil, err
	}
	data, err := msgio.ReadMsgExact(st, maxMessageSize)
	if err != nil {
		_ = st.Reset()
		return nil, err
	}
	resp, err := UnmarshalStop(data)
	if err != nil {
		_ = st.Reset()
		return nil, err
	}
	if resp.Type != StopStatus || resp.Status != StatusOK {
		_ = st.Reset()
		return nil, &StatusError{Status: resp.Status, Op: "stop connect"}
	}
	return st, nil
}

// ============================================================================
//                              数据转发
// ============================================================================

// relay 双向转发直到两端结束、ctx 到期或超出字节上限
func (s *Service) relay(ctx context.Context, c *circuit) {
	defer s.wg.Done()

	stop := context.AfterFunc(ctx, func() { c.reset(ctx.Err()) })

	var g errgroup.Group
	g.Go(func() error { return s.pipe(ctx, c, c.dstSt, c.srcSt, &c.up) })
	g.Go(func() error { return s.pipe(ctx, c, c.srcSt, c.dstSt, &c.down) })
	_ = g.Wait()
	stop()

	err := c.err()
	if err == nil {
		_ = c.srcSt.Close()
		_ = c.dstSt.Close()
	}

	s.mu.Lock()
	delete(s.circuits, c.id)
	s.mu.Unlock()
	s.lim.releaseCircuit(c.src, c.dst)
	s.metrics.CircuitClosed()

	total := c.up.Load() + c.down.Load()
	s.log.Debug("电路关闭", "id", c.id, "bytes", total, "lifetime", s.clock.Since(c.opened), "err", err)
	s.emit(Event{Kind: EventCircuitClosed, Peer: c.src, Dest: c.dst, Circuit: c.id, Bytes: total, Err: err})
}

// pipe 单向转发，读到 EOF 时半关闭目标写端；出错时以该错误重置整条电路
func (s *Service) pipe(ctx context.Context, c *circuit, dst io.Writer, src io.Reader, counter *atomic.Int64) error {
	if err := s.copyWithLimit(ctx, dst, src, counter); err != nil {
		c.reset(err)
		return err
	}
	if cw, ok := dst.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}

// copyWithLimit 带字节上限与带宽限速的复制，src 正常结束时返回 nil
func (s *Service) copyWithLimit(ctx context.Context, dst io.Writer, src io.Reader, counter *atomic.Int64) error {
	buf := make([]byte, copyBufferSize)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			limited := false
			if budget := s.cfg.CircuitBytes; budget > 0 {
				if remain := budget - counter.Load(); int64(n) > remain {
					chunk, limited = buf[:remain], true
				}
			}
			if err := s.lim.waitBandwidth(ctx, len(chunk)); err != nil {
				return err
			}
			written, werr := dst.Write(chunk)
			counter.Add(int64(written))
			if werr != nil {
				return werr
			}
			if limited {
				return errDataLimit
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

// ============================================================================
//                              预留清理
// ============================================================================

// expireLoop 定期移除过期预留
func (s *Service) expireLoop() {
	defer s.wg.Done()

	interval := time.Minute
	if s.cfg.ReservationTTL < interval {
		interval = s.cfg.ReservationTTL
	}
	ticker := s.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.expireReservations()
		}
	}
}

func (s *Service) expireReservations() {
	now := s.clock.Now()
	var expired []types.PeerID

	s.mu.Lock()
	for p, r := range s.reservations {
		if !now.Before(r.expire) {
			delete(s.reservations, p)
			expired = append(expired, p)
		}
	}
	n := len(s.reservations)
	s.mu.Unlock()

	for _, p := range expired {
		s.unprotect(p)
		s.log.Debug("移除过期预留", "peer", p.ShortString())
	}
	if len(expired) > 0 {
		s.metrics.SetReservations(n)
	}
}

// dropReservation 预留节点断开后移除其预留
func (s *Service) dropReservation(p types.PeerID) {
	s.mu.Lock()
	_, ok := s.reservations[p]
	delete(s.reservations, p)
	n := len(s.reservations)
	s.mu.Unlock()

	if ok {
		s.unprotect(p)
		s.metrics.SetReservations(n)
		s.log.Debug("预留节点断开，移除预留", "peer", p.ShortString())
	}
}

// ============================================================================
//                              网络事件
// ============================================================================

type netNotifiee struct {
	s *Service
}

var _ pkgif.Notifiee = (*netNotifiee)(nil)

func (n *netNotifiee) Connected(pkgif.Connection) {}

func (n *netNotifiee) Disconnected(c pkgif.Connection) {
	if n.s.closed.Load() {
		return
	}
	p := c.RemotePeer()
	if !n.s.net.Connected(p) {
		n.s.dropReservation(p)
	}
}

func (n *netNotifiee) Listen(types.Multiaddr) {}

func (n *netNotifiee) ListenClose(types.Multiaddr) {}
