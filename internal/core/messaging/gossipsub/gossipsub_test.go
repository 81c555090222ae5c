package gossipsub

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FelixRiddle/swarm-weave/internal/core/identity"
	"github.com/FelixRiddle/swarm-weave/internal/core/muxer/yamux"
	"github.com/FelixRiddle/swarm-weave/internal/core/peerstore"
	"github.com/FelixRiddle/swarm-weave/internal/core/security/noise"
	"github.com/FelixRiddle/swarm-weave/internal/core/swarm"
	"github.com/FelixRiddle/swarm-weave/internal/core/transport/tcp"
	"github.com/FelixRiddle/swarm-weave/internal/core/upgrader"
	"github.com/FelixRiddle/swarm-weave/internal/util/logger"
	pkgif "github.com/FelixRiddle/swarm-weave/pkg/interfaces"
	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

const testTopic = "chat-net"

// ============================================================================
//                              辅助
// ============================================================================

func seeded(t *testing.T, seed byte) *identity.Identity {
	t.Helper()
	id, err := identity.SeededIdentitySource{Seed: seed}.Identity()
	require.NoError(t, err)
	return id
}

// stubNetwork 不建立任何连接的网络
type stubNetwork struct {
	local types.PeerID
}

var _ pkgif.Network = (*stubNetwork)(nil)

func (n *stubNetwork) LocalPeer() types.PeerID { return n.local }
func (n *stubNetwork) SetStreamHandler(types.ProtocolID, pkgif.StreamHandler) {}
func (n *stubNetwork) RemoveStreamHandler(types.ProtocolID) {}
func (n *stubNetwork) Protocols() []types.ProtocolID { return nil }
func (n *stubNetwork) Connected(types.PeerID) bool { return false }
func (n *stubNetwork) ConnsToPeer(types.PeerID) []pkgif.Connection { return nil }
func (n *stubNetwork) Peers() []types.PeerID { return nil }
func (n *stubNetwork) ListenAddrs() []types.Multiaddr { return nil }
func (n *stubNetwork) ExternalAddrs() []types.Multiaddr { return nil }
func (n *stubNetwork) Notify(pkgif.Notifiee) {}
func (n *stubNetwork) Dial(context.Context, types.PeerID, ...types.Multiaddr) (pkgif.Connection, error) {
	return nil, context.Canceled
}
func (n *stubNetwork) NewStream(context.Context, types.PeerID, ...types.ProtocolID) (pkgif.Stream, error) {
	return nil, context.Canceled
}

// newStubRouter 创建不启动的路由器，用于直接驱动内部状态
func newStubRouter(t *testing.T, clk clock.Clock, mutate ...func(*Config)) *Router {
	t.Helper()
	id := seeded(t, 1)
	cfg := DefaultConfig()
	cfg.Clock = clk
	cfg.Logger = logger.Discard()
	for _, m := range mutate {
		m(&cfg)
	}
	r, err := New(id, &stubNetwork{local: id.ID()}, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

// attachPeer 直接登记一个对端，返回其发送队列
func attachPeer(r *Router, p types.PeerID, topics ...string) chan *RPC {
	q := make(chan *RPC, 64)
	r.mu.Lock()
	ps := &peerState{id: p, topics: make(map[string]struct{}), queue: q, cancel: func() {}}
	r.peers[p] = ps
	r.mu.Unlock()

	rpc := &RPC{}
	for _, t := range topics {
		rpc.Subscriptions = append(rpc.Subscriptions, SubOpts{Subscribe: true, Topic: t})
	}
	r.handleRPC(p, rpc)
	return q
}

func peerN(n byte) types.PeerID {
	var p types.PeerID
	p[0] = n
	p[31] = 0xAA
	return p
}

func drain(q chan *RPC) []*RPC {
	var out []*RPC
	for {
		select {
		case rpc := <-q:
			out = append(out, rpc)
		default:
			return out
		}
	}
}

func signedMessage(t *testing.T, seed byte, topic string, data []byte) *Message {
	t.Helper()
	id := seeded(t, seed)
	m := &Message{From: id.ID(), Data: data, Seqno: []byte{0, 0, 0, 0, 0, 0, 0, 1}, Topic: topic}
	sign(id, m)
	return m
}

// ============================================================================
//                              编解码与签名
// ============================================================================

func TestRPC_RoundTrip(t *testing.T) {
	m := signedMessage(t, 2, testTopic, []byte("hello"))
	in := &RPC{
		Subscriptions: []SubOpts{{Subscribe: true, Topic: testTopic}, {Subscribe: false, Topic: "test-chat"}},
		Publish:       []*Message{m},
		Control: &ControlMessage{
			IHave: []ControlIHave{{Topic: testTopic, MessageIDs: []string{"1", "2"}}},
			IWant: []ControlIWant{{MessageIDs: []string{"3"}}},
			Graft: []ControlGraft{{Topic: testTopic}},
			Prune: []ControlPrune{{Topic: "test-chat", Backoff: 60}},
		},
	}

	out, err := UnmarshalRPC(in.Marshal())
	require.NoError(t, err)
	assert.Equal(t, in.Subscriptions, out.Subscriptions)
	require.Len(t, out.Publish, 1)
	assert.Equal(t, m.From, out.Publish[0].From)
	assert.Equal(t, m.Data, out.Publish[0].Data)
	assert.Equal(t, m.Signature, out.Publish[0].Signature)
	assert.Equal(t, in.Control, out.Control)
	assert.NoError(t, verify(out.Publish[0]))
}

func TestUnmarshalRPC_Garbage(t *testing.T) {
	_, err := UnmarshalRPC([]byte{0x0a, 0xff})
	assert.ErrorIs(t, err, ErrInvalidRPC)
}

func TestMessageID_ContentAddressed(t *testing.T) {
	assert.Equal(t, MessageID([]byte("hello")), MessageID([]byte("hello")))
	assert.NotEqual(t, MessageID([]byte("hello")), MessageID([]byte("hello!")))
	assert.Regexp(t, `^[0-9]+$`, MessageID([]byte("hello")))
}

func TestVerify(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, verify(signedMessage(t, 2, testTopic, []byte("x"))))
	})

	t.Run("unsigned", func(t *testing.T) {
		m := signedMessage(t, 2, testTopic, []byte("x"))
		m.Signature = nil
		assert.ErrorIs(t, verify(m), ErrMissingSignature)
	})

	t.Run("tampered payload", func(t *testing.T) {
		m := signedMessage(t, 2, testTopic, []byte("x"))
		m.Data = []byte("y")
		assert.ErrorIs(t, verify(m), ErrInvalidSignature)
	})

	t.Run("key of another peer", func(t *testing.T) {
		m := signedMessage(t, 2, testTopic, []byte("x"))
		m.From = seeded(t, 3).ID()
		assert.ErrorIs(t, verify(m), ErrInvalidSignature)
	})
}

func TestMessageCache_Shift(t *testing.T) {
	mc := newMessageCache(2, 3)
	mc.put(&Message{ID: "a", Topic: testTopic})
	mc.shift()
	mc.put(&Message{ID: "b", Topic: testTopic})

	assert.ElementsMatch(t, []string{"a", "b"}, mc.gossipIDs(testTopic))
	mc.shift()
	assert.Equal(t, []string{"b"}, mc.gossipIDs(testTopic))

	_, ok := mc.get("a")
	assert.True(t, ok, "still within history")
	mc.shift()
	_, ok = mc.get("a")
	assert.False(t, ok)
}

// ============================================================================
//                              路由状态
// ============================================================================

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Dlo = 10
	assert.Error(t, cfg.Validate())
}

func TestRouter_PublishWithoutPeers(t *testing.T) {
	r := newStubRouter(t, clock.New())
	require.NoError(t, r.Subscribe(testTopic))

	_, err := r.Publish(testTopic, []byte("hello"))
	assert.ErrorIs(t, err, ErrInsufficientPeers)

	// 未送出的消息不算已见，有节点后可重新发布
	attachPeer(r, peerN(1), testTopic)
	id, err := r.Publish(testTopic, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, MessageID([]byte("hello")), id)

	_, err = r.Publish(testTopic, []byte("hello"))
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestRouter_PublishTooLarge(t *testing.T) {
	r := newStubRouter(t, clock.New(), func(c *Config) { c.MaxMessageSize = 4 })
	_, err := r.Publish(testTopic, []byte("hello"))
	assert.ErrorIs(t, err, ErrMessageTooLarge)
}

func TestRouter_ExplicitPeerSetSemantics(t *testing.T) {
	r := newStubRouter(t, clock.New())
	p := peerN(1)

	assert.True(t, r.AddExplicitPeer(p))
	assert.False(t, r.AddExplicitPeer(p))
	assert.Equal(t, []types.PeerID{p}, r.ExplicitPeers())

	assert.True(t, r.RemoveExplicitPeer(p))
	assert.False(t, r.IsExplicit(p))
	assert.False(t, r.RemoveExplicitPeer(p))
	assert.Empty(t, r.ExplicitPeers())
}

func TestRouter_ExplicitPeerReceivesOutsideMesh(t *testing.T) {
	r := newStubRouter(t, clock.New(), func(c *Config) { c.FloodPublish = false })
	require.NoError(t, r.Subscribe(testTopic))

	p := peerN(1)
	r.AddExplicitPeer(p)
	q := attachPeer(r, p, testTopic)
	assert.Empty(t, r.MeshPeers(testTopic))

	_, err := r.Publish(testTopic, []byte("hello"))
	require.NoError(t, err)

	var got bool
	for _, rpc := range drain(q) {
		if len(rpc.Publish) == 1 && string(rpc.Publish[0].Data) == "hello" {
			got = true
		}
	}
	assert.True(t, got)
}

func TestRouter_UnsubscribeNotSubscribed(t *testing.T) {
	r := newStubRouter(t, clock.New())
	assert.ErrorIs(t, r.Unsubscribe(testTopic), ErrNotSubscribed)

	require.NoError(t, r.Subscribe(testTopic))
	require.NoError(t, r.Subscribe(testTopic))
	assert.Equal(t, []string{testTopic}, r.Topics())
	require.NoError(t, r.Unsubscribe(testTopic))
	assert.Empty(t, r.Topics())
}

func TestRouter_RejectsForgedMessages(t *testing.T) {
	r := newStubRouter(t, clock.New())
	require.NoError(t, r.Subscribe(testTopic))
	src := peerN(1)
	attachPeer(r, src, testTopic)

	forged := signedMessage(t, 2, testTopic, []byte("hello"))
	forged.Signature[0] ^= 0xFF
	unsigned := &Message{From: seeded(t, 2).ID(), Data: []byte("hello"), Topic: testTopic}
	r.handleRPC(src, &RPC{Publish: []*Message{forged, unsigned}})

	select {
	case m := <-r.Messages():
		t.Fatalf("unexpected delivery %q", m.Data)
	default:
	}

	// 伪造副本不应阻止真实消息
	genuine := signedMessage(t, 2, testTopic, []byte("hello"))
	r.handleRPC(src, &RPC{Publish: []*Message{genuine}})
	select {
	case m := <-r.Messages():
		assert.Equal(t, "hello", string(m.Data))
		assert.Equal(t, seeded(t, 2).ID(), m.From)
		assert.Equal(t, src, m.ReceivedFrom)
		assert.Equal(t, MessageID([]byte("hello")), m.ID)
	default:
		t.Fatal("genuine message not delivered")
	}
}

func TestRouter_DuplicateDeliveredOnce(t *testing.T) {
	r := newStubRouter(t, clock.New())
	require.NoError(t, r.Subscribe(testTopic))
	a, b := peerN(1), peerN(2)
	attachPeer(r, a, testTopic)
	attachPeer(r, b, testTopic)

	m := signedMessage(t, 3, testTopic, []byte("once"))
	r.handleRPC(a, &RPC{Publish: []*Message{m}})
	r.handleRPC(b, &RPC{Publish: []*Message{signedMessage(t, 3, testTopic, []byte("once"))}})

	assert.Len(t, r.Messages(), 1)
}

func TestRouter_GraftRejectedDuringBackoff(t *testing.T) {
	clk := clock.NewMock()
	r := newStubRouter(t, clk)
	require.NoError(t, r.Subscribe(testTopic))
	p := peerN(1)
	q := attachPeer(r, p, testTopic)
	drain(q)

	r.handleRPC(p, &RPC{Control: &ControlMessage{Prune: []ControlPrune{{Topic: testTopic}}}})
	assert.Empty(t, r.MeshPeers(testTopic))

	r.handleRPC(p, &RPC{Control: &ControlMessage{Graft: []ControlGraft{{Topic: testTopic}}}})
	assert.Empty(t, r.MeshPeers(testTopic))
	rpcs := drain(q)
	require.Len(t, rpcs, 1)
	require.Len(t, rpcs[0].Control.Prune, 1)

	clk.Add(DefaultConfig().PruneBackoff + time.Second)
	r.handleRPC(p, &RPC{Control: &ControlMessage{Graft: []ControlGraft{{Topic: testTopic}}}})
	assert.Equal(t, []types.PeerID{p}, r.MeshPeers(testTopic))
}

func TestRouter_IHaveIWant(t *testing.T) {
	r := newStubRouter(t, clock.New())
	require.NoError(t, r.Subscribe(testTopic))
	a := peerN(1)
	qa := attachPeer(r, a, testTopic)
	drain(qa)

	r.handleRPC(a, &RPC{Control: &ControlMessage{IHave: []ControlIHave{{Topic: testTopic, MessageIDs: []string{"42"}}}}})
	rpcs := drain(qa)
	require.Len(t, rpcs, 1)
	assert.Equal(t, []ControlIWant{{MessageIDs: []string{"42"}}}, rpcs[0].Control.IWant)

	id, err := r.Publish(testTopic, []byte("cached"))
	require.NoError(t, err)
	drain(qa)
	r.handleRPC(a, &RPC{Control: &ControlMessage{IWant: []ControlIWant{{MessageIDs: []string{id}}}}})
	rpcs = drain(qa)
	require.Len(t, rpcs, 1)
	require.Len(t, rpcs[0].Publish, 1)
	assert.Equal(t, "cached", string(rpcs[0].Publish[0].Data))
}

// ============================================================================
//                              心跳
// ============================================================================

func TestHeartbeat_GraftsUpToD(t *testing.T) {
	clk := clock.NewMock()
	r := newStubRouter(t, clk)
	require.NoError(t, r.Subscribe(testTopic))

	for i := byte(1); i <= 8; i++ {
		attachPeer(r, peerN(i), testTopic)
	}
	assert.Empty(t, r.MeshPeers(testTopic))

	r.heartbeat()
	assert.Len(t, r.MeshPeers(testTopic), r.cfg.D)
}

func TestHeartbeat_PrunesAboveDhi(t *testing.T) {
	clk := clock.NewMock()
	r := newStubRouter(t, clk)
	require.NoError(t, r.Subscribe(testTopic))

	for i := byte(1); i <= 14; i++ {
		p := peerN(i)
		attachPeer(r, p, testTopic)
		r.handleRPC(p, &RPC{Control: &ControlMessage{Graft: []ControlGraft{{Topic: testTopic}}}})
	}
	require.Len(t, r.MeshPeers(testTopic), 14)

	r.heartbeat()
	assert.Len(t, r.MeshPeers(testTopic), r.cfg.D)
}

func TestHeartbeat_ExpiresFanout(t *testing.T) {
	clk := clock.NewMock()
	r := newStubRouter(t, clk, func(c *Config) { c.FloodPublish = false })
	attachPeer(r, peerN(1), testTopic)

	_, err := r.Publish(testTopic, []byte("fanout"))
	require.NoError(t, err)
	r.mu.Lock()
	assert.Len(t, r.fanout[testTopic], 1)
	r.mu.Unlock()

	clk.Add(r.cfg.FanoutTTL + time.Second)
	r.heartbeat()
	r.mu.Lock()
	_, ok := r.fanout[testTopic]
	r.mu.Unlock()
	assert.False(t, ok)
}

func TestHeartbeat_LoopDrivenByClock(t *testing.T) {
	clk := clock.NewMock()
	r := newStubRouter(t, clk)
	require.NoError(t, r.Subscribe(testTopic))
	for i := byte(1); i <= 3; i++ {
		attachPeer(r, peerN(i), testTopic)
	}
	r.Start()

	// 首次心跳后三个节点都进入 mesh
	assert.Eventually(t, func() bool {
		clk.Add(r.cfg.HeartbeatInitialDelay)
		return len(r.MeshPeers(testTopic)) == 3
	}, 5*time.Second, 10*time.Millisecond)
}

// ============================================================================
//                              端到端
// ============================================================================

func newSwarmRouter(t *testing.T, seed byte) (*swarm.Swarm, *Router) {
	t.Helper()
	id := seeded(t, seed)
	sec, err := noise.New(id)
	require.NoError(t, err)
	up, err := upgrader.New([]pkgif.SecureTransport{sec}, []pkgif.StreamMuxer{yamux.NewTransport(nil)})
	require.NoError(t, err)

	s := swarm.New(id.ID(), peerstore.New(clock.New()))
	s.AddTransport(tcp.New(up, tcp.Options{}))
	t.Cleanup(func() { _ = s.Close() })

	cfg := DefaultConfig()
	cfg.Logger = logger.Discard()
	r, err := New(id, s, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	r.Start()
	return s, r
}

func TestRouter_TwoNodeDelivery(t *testing.T) {
	sa, ra := newSwarmRouter(t, 1)
	sb, rb := newSwarmRouter(t, 2)
	require.NoError(t, ra.Subscribe(testTopic))
	require.NoError(t, rb.Subscribe(testTopic))

	addr, err := sb.Listen(types.MustParseMultiaddr("/ip4/127.0.0.1/tcp/0"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = sa.Dial(ctx, sb.LocalPeer(), addr)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(ra.ListPeers(testTopic)) == 1
	}, 5*time.Second, 20*time.Millisecond)

	id, err := ra.Publish(testTopic, []byte("hello"))
	require.NoError(t, err)

	select {
	case m := <-rb.Messages():
		assert.Equal(t, []byte("hello"), m.Data)
		assert.Equal(t, sa.LocalPeer(), m.From)
		assert.Equal(t, id, m.ID)
		assert.Equal(t, testTopic, m.Topic)
	case <-ctx.Done():
		t.Fatal("message not delivered")
	}
}
