package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/FelixRiddle/swarm-weave/internal/core/transport"
	"github.com/FelixRiddle/swarm-weave/internal/util/msgio"
	pkgif "github.com/FelixRiddle/swarm-weave/pkg/interfaces"
	"github.com/FelixRiddle/swarm-weave/pkg/protocolids"
	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

// listenerTag 监听所用中继的连接保护标签
const listenerTag = "relay-listener"

// ============================================================================
//                              中继传输
// ============================================================================

// Transport p2p-circuit 传输
//
// 依赖 Network 与中继建立普通连接，通常由 Swarm 自身充当：
// 先创建 Swarm，再用它构造 Transport 并 AddTransport。
type Transport struct {
	net  pkgif.Network
	up   pkgif.Upgrader
	opts Options

	mu         sync.Mutex
	listeners  map[types.PeerID]*Listener
	handlerSet bool
	closed     bool
}

var _ pkgif.Transport = (*Transport)(nil)

// NewTransport 创建中继传输
func NewTransport(network pkgif.Network, up pkgif.Upgrader, opts Options) *Transport {
	opts.setDefaults()
	return &Transport{
		net:       network,
		up:        up,
		opts:      opts,
		listeners: make(map[types.PeerID]*Listener),
	}
}

// Name 返回传输名称
func (t *Transport) Name() string {
	return types.ProtoCircuit
}

// CanDial 是否为带中继节点 ID 的电路地址
func (t *Transport) CanDial(addr types.Multiaddr) bool {
	_, _, _, err := addr.SplitRelay()
	return err == nil
}

// Dial 经中继建立到目标的电路并升级
//
// 地址不带目标 ID 时使用 p。
func (t *Transport) Dial(ctx context.Context, raddr types.Multiaddr, p types.PeerID) (pkgif.Connection, error) {
	if t.isClosed() {
		return nil, transport.ErrTransportClosed
	}
	base, relayID, dest, err := raddr.SplitRelay()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotRelayAddr, raddr)
	}
	switch {
	case dest.IsEmpty():
		dest = p
	case !p.IsEmpty() && p != dest:
		return nil, fmt.Errorf("%w: address names %s", transport.ErrPeerIDMismatch, dest.ShortString())
	}
	local := t.net.LocalPeer()
	if dest.IsEmpty() || dest == local || relayID == local || relayID == dest {
		return nil, fmt.Errorf("%w: %s", transport.ErrInvalidAddress, raddr)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.HandshakeTimeout)
		defer cancel()
	}

	st, err := t.openHop(ctx, relayID, base)
	if err != nil {
		return nil, err
	}
	req := &HopMessage{Type: HopConnect, Peer: &Peer{ID: dest}}
	resp, err := roundTripHop(st, req)
	if err != nil {
		_ = st.Reset()
		return nil, err
	}
	if resp.Status != StatusOK {
		_ = st.Close()
		return nil, &StatusError{Status: resp.Status, Op: "connect"}
	}
	_ = st.SetDeadline(time.Time{})

	conn := newCircuitConn(st, types.RelayAddr(base, relayID, local), types.RelayAddr(base, relayID, dest))
	c, err := t.up.Upgrade(ctx, conn, pkgif.DirOutbound, dest, t.Name())
	if err != nil {
		return nil, fmt.Errorf("relay: upgrade circuit to %s: %w", dest.ShortString(), err)
	}
	t.opts.Logger.Debug("电路连接建立", "relay", relayID.ShortString(), "dest", dest.ShortString())
	return c, nil
}

// Reserve 向中继申请（或续租）预留
func (t *Transport) Reserve(ctx context.Context, relayID types.PeerID, addrs ...types.Multiaddr) (*Reservation, error) {
	var base types.Multiaddr
	if len(addrs) > 0 {
		base = addrs[0]
	}
	st, err := t.openHop(ctx, relayID, base)
	if err != nil {
		return nil, err
	}
	resp, err := roundTripHop(st, &HopMessage{Type: HopReserve})
	if err != nil {
		_ = st.Reset()
		return nil, err
	}
	_ = st.Close()
	if resp.Status != StatusOK {
		return nil, &StatusError{Status: resp.Status, Op: "reserve"}
	}
	if resp.Reservation == nil {
		return nil, fmt.Errorf("%w: reservation missing", ErrInvalidMessage)
	}
	return resp.Reservation, nil
}

// openHop 确保与中继有连接并打开 hop 流
func (t *Transport) openHop(ctx context.Context, relayID types.PeerID, base types.Multiaddr) (pkgif.Stream, error) {
	if !t.net.Connected(relayID) {
		var addrs []types.Multiaddr
		if a := base.WithoutPeerID(); a.Transport() != "" {
			addrs = append(addrs, a)
		}
		if _, err := t.net.Dial(ctx, relayID, addrs...); err != nil {
			return nil, fmt.Errorf("relay: dial relay %s: %w", relayID.ShortString(), err)
		}
	}
	st, err := t.net.NewStream(ctx, relayID, protocolids.RelayHop)
	if err != nil {
		return nil, fmt.Errorf("relay: open hop stream: %w", err)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = st.SetDeadline(dl)
	}
	return st, nil
}

func roundTripHop(st pkgif.Stream, req *HopMessage) (*HopMessage, error) {
	if err := msgio.WriteMsg(st, req.Marshal()); err != nil {
		return nil, fmt.Errorf("relay: write hop: %w", err)
	}
	data, err := msgio.ReadMsgExact(st, maxMessageSize)
	if err != nil {
		return nil, fmt.Errorf("relay: read hop: %w", err)
	}
	resp, err := UnmarshalHop(data)
	if err != nil {
		return nil, err
	}
	if resp.Type != HopStatus {
		return nil, fmt.Errorf("%w: expected status, got type %d", ErrInvalidMessage, resp.Type)
	}
	return resp, nil
}

// Listen 经中继监听：预留后接收该中继转来的电路
//
// laddr 形如 /ip4/<ip>/tcp/<port>/p2p/<relay-id>/p2p-circuit。
func (t *Transport) Listen(laddr types.Multiaddr) (pkgif.Listener, error) {
	base, relayID, dest, err := laddr.SplitRelay()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotRelayAddr, laddr)
	}
	local := t.net.LocalPeer()
	if (!dest.IsEmpty() && dest != local) || relayID == local {
		return nil, fmt.Errorf("%w: %s", transport.ErrInvalidAddress, laddr)
	}

	t.mu.Lock()
	_, exists := t.listeners[relayID]
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return nil, transport.ErrTransportClosed
	}
	if exists {
		return nil, fmt.Errorf("relay: already listening via %s", relayID.ShortString())
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.opts.HandshakeTimeout)
	res, err := t.Reserve(ctx, relayID, base)
	cancel()
	if err != nil {
		return nil, err
	}

	if base.Transport() == "" && len(res.Addrs) > 0 {
		base = res.Addrs[0]
	}
	l := newListener(t, relayID, base, res.Expire)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = l.Close()
		return nil, transport.ErrTransportClosed
	}
	t.listeners[relayID] = l
	if !t.handlerSet {
		t.net.SetStreamHandler(protocolids.RelayStop, t.handleStop)
		t.handlerSet = true
	}
	t.mu.Unlock()

	if pr, ok := t.net.(protector); ok {
		pr.Protect(relayID, listenerTag)
	}
	t.opts.Logger.Info("经中继监听", "addr", l.Multiaddr(), "expire", res.Expire)
	return l, nil
}

// Close 关闭传输及所有监听器
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	ls := make([]*Listener, 0, len(t.listeners))
	for _, l := range t.listeners {
		ls = append(ls, l)
	}
	handlerSet := t.handlerSet
	t.mu.Unlock()

	for _, l := range ls {
		_ = l.Close()
	}
	if handlerSet {
		t.net.RemoveStreamHandler(protocolids.RelayStop)
	}
	return nil
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) listener(relayID types.PeerID) *Listener {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.listeners[relayID]
}

func (t *Transport) removeListener(l *Listener) {
	t.mu.Lock()
	if t.listeners[l.relay] == l {
		delete(t.listeners, l.relay)
	}
	t.mu.Unlock()
	if pr, ok := t.net.(protector); ok {
		pr.Unprotect(l.relay, listenerTag)
	}
}

// ============================================================================
//                              stop 协议处理
// ============================================================================

// handleStop 接受中继转来的电路，升级后交给对应监听器
func (t *Transport) handleStop(st pkgif.Stream) {
	_ = st.SetDeadline(time.Now().Add(t.opts.HandshakeTimeout))
	relayID := st.Conn().RemotePeer()

	data, err := msgio.ReadMsgExact(st, maxMessageSize)
	if err != nil {
		_ = st.Reset()
		return
	}
	msg, err := UnmarshalStop(data)
	if err != nil {
		replyStop(st, StatusMalformedMessage)
		return
	}
	if msg.Type != StopConnect {
		replyStop(st, StatusUnexpectedMessage)
		return
	}
	if msg.Peer == nil || msg.Peer.ID.IsEmpty() {
		replyStop(st, StatusMalformedMessage)
		return
	}
	l := t.listener(relayID)
	if l == nil {
		t.opts.Logger.Debug("拒绝未预留中继的电路", "relay", relayID.ShortString())
		replyStop(st, StatusNoReservation)
		return
	}
	src := msg.Peer.ID

	resp := &StopMessage{Type: StopStatus, Status: StatusOK}
	if err := msgio.WriteMsg(st, resp.Marshal()); err != nil {
		_ = st.Reset()
		return
	}
	_ = st.SetDeadline(time.Time{})

	ctx, cancel := context.WithTimeout(l.ctx, t.opts.HandshakeTimeout)
	defer cancel()
	conn := newCircuitConn(st, types.RelayAddr(l.base, relayID, t.net.LocalPeer()), types.RelayAddr(l.base, relayID, src))
	c, err := t.up.Upgrade(ctx, conn, pkgif.DirInbound, src, t.Name())
	if err != nil {
		t.opts.Logger.Debug("入站电路升级失败", "relay", relayID.ShortString(), "src", src.ShortString(), "err", err)
		return
	}
	if msg.Limit != nil {
		t.opts.Logger.Debug("入站电路", "src", src.ShortString(), "duration", msg.Limit.Duration, "data", msg.Limit.Data)
	}
	l.deliver(c)
}

func replyStop(st pkgif.Stream, status Status) {
	resp := &StopMessage{Type: StopStatus, Status: status}
	if err := msgio.WriteMsg(st, resp.Marshal()); err != nil {
		_ = st.Reset()
		return
	}
	_ = st.Close()
}
