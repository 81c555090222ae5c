package behaviour

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FelixRiddle/swarm-weave/internal/core/identity"
	"github.com/FelixRiddle/swarm-weave/internal/core/muxer/yamux"
	"github.com/FelixRiddle/swarm-weave/internal/core/peerstore"
	"github.com/FelixRiddle/swarm-weave/internal/core/protocol/system/ping"
	"github.com/FelixRiddle/swarm-weave/internal/core/relay"
	"github.com/FelixRiddle/swarm-weave/internal/core/security/noise"
	"github.com/FelixRiddle/swarm-weave/internal/core/swarm"
	"github.com/FelixRiddle/swarm-weave/internal/core/transport/tcp"
	"github.com/FelixRiddle/swarm-weave/internal/core/upgrader"
	"github.com/FelixRiddle/swarm-weave/internal/util/logger"
	pkgif "github.com/FelixRiddle/swarm-weave/pkg/interfaces"
	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

// ============================================================================
//                              辅助
// ============================================================================

type fakeBehavior struct {
	name     string
	ch       chan ComponentEvent
	startErr error
	accepts  func(Command) bool

	started atomic.Bool
	closed  atomic.Bool
}

func newFake(name string, events ...ComponentEvent) *fakeBehavior {
	f := &fakeBehavior{name: name, ch: make(chan ComponentEvent, 16)}
	for _, ev := range events {
		f.ch <- ev
	}
	return f
}

func (f *fakeBehavior) Name() string { return f.name }

func (f *fakeBehavior) Events() <-chan ComponentEvent { return f.ch }

func (f *fakeBehavior) Handle(cmd Command) bool {
	return f.accepts != nil && f.accepts(cmd)
}

func (f *fakeBehavior) Start() error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started.Store(true)
	return nil
}

func (f *fakeBehavior) Close() error {
	f.closed.Store(true)
	return nil
}

func discovered(seed byte) ComponentEvent {
	var p types.PeerID
	p[0] = seed
	return DiscoveryEvent{Peer: p}
}

func liveness(seed byte) ComponentEvent {
	var p types.PeerID
	p[0] = seed
	return LivenessEvent{Event: ping.Event{Peer: p}}
}

func recv(t *testing.T, b *Behaviour) ComponentEvent {
	t.Helper()
	select {
	case ev, ok := <-b.Events():
		require.True(t, ok, "events closed")
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("no event")
		return nil
	}
}

func newTestSwarm(t *testing.T, seed byte) (*identity.Identity, *swarm.Swarm) {
	t.Helper()
	id, err := identity.SeededIdentitySource{Seed: seed}.Identity()
	require.NoError(t, err)
	sec, err := noise.New(id)
	require.NoError(t, err)
	up, err := upgrader.New([]pkgif.SecureTransport{sec}, []pkgif.StreamMuxer{yamux.NewTransport(nil)})
	require.NoError(t, err)

	s := swarm.New(id.ID(), peerstore.New(clock.New()))
	s.AddTransport(tcp.New(up, tcp.Options{}))
	t.Cleanup(func() { _ = s.Close() })
	return id, s
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Logger = logger.Discard()
	cfg.Gossip.Logger = logger.Discard()
	cfg.Identify.Logger = logger.Discard()
	cfg.NAT.Logger = logger.Discard()
	cfg.Ping.Logger = logger.Discard()
	cfg.Ping.Interval = 0
	return cfg
}

// ============================================================================
//                              事件合并
// ============================================================================

func TestBehaviour_RoundRobin(t *testing.T) {
	busy := newFake("busy", discovered(1), discovered(2), discovered(3), discovered(4))
	quiet := newFake("quiet", liveness(9))
	b := Compose(nil, busy, quiet)
	require.NoError(t, b.Start())
	t.Cleanup(func() { _ = b.Close() })

	first := recv(t, b)
	second := recv(t, b)
	assert.Equal(t, KindDiscovery, first.Kind())
	assert.Equal(t, KindLiveness, second.Kind(), "繁忙组件不能饿死其他组件")

	for i := 0; i < 3; i++ {
		assert.Equal(t, KindDiscovery, recv(t, b).Kind())
	}
}

func TestBehaviour_AlternatesBetweenReadyComponents(t *testing.T) {
	a := newFake("a", discovered(1), discovered(2), discovered(3))
	c := newFake("c", liveness(1), liveness(2), liveness(3))
	b := Compose(nil, a, c)
	require.NoError(t, b.Start())
	t.Cleanup(func() { _ = b.Close() })

	var kinds []Kind
	for i := 0; i < 6; i++ {
		kinds = append(kinds, recv(t, b).Kind())
	}
	assert.Equal(t, []Kind{
		KindDiscovery, KindLiveness,
		KindDiscovery, KindLiveness,
		KindDiscovery, KindLiveness,
	}, kinds)
}

func TestBehaviour_BlocksUntilEvent(t *testing.T) {
	a := newFake("a")
	b := Compose(nil, a)
	require.NoError(t, b.Start())
	t.Cleanup(func() { _ = b.Close() })

	select {
	case ev := <-b.Events():
		t.Fatalf("unexpected event %v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	a.ch <- discovered(7)
	ev := recv(t, b)
	require.IsType(t, DiscoveryEvent{}, ev)
	assert.Equal(t, byte(7), ev.(DiscoveryEvent).Peer[0])
}

func TestBehaviour_CloseClosesEvents(t *testing.T) {
	a := newFake("a")
	b := Compose(nil, a)
	require.NoError(t, b.Start())
	require.NoError(t, b.Close())

	_, ok := <-b.Events()
	assert.False(t, ok)
	assert.True(t, a.closed.Load())
	assert.ErrorIs(t, b.Start(), ErrClosed)
}

func TestBehaviour_StartFailureClosesStarted(t *testing.T) {
	ok := newFake("ok")
	bad := newFake("bad")
	bad.startErr = errors.New("bind failed")
	b := Compose(nil, ok, bad)

	err := b.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
	assert.True(t, ok.closed.Load())
}

// ============================================================================
//                              命令
// ============================================================================

func TestBehaviour_ApplyDispatchesToComponents(t *testing.T) {
	var got []Command
	a := newFake("a")
	a.accepts = func(cmd Command) bool {
		got = append(got, cmd)
		_, ok := cmd.(AddExplicitPeer)
		return ok
	}
	b := Compose(nil, a)

	var p types.PeerID
	p[0] = 1
	assert.True(t, b.Apply(AddExplicitPeer{Peer: p}))
	assert.False(t, b.Apply(RemoveExplicitPeer{Peer: p}))
	assert.False(t, b.Apply(AddExternalAddress{Addr: "/ip4/1.2.3.4/tcp/1"}), "无网络时不处理外部地址")
	assert.Len(t, got, 3)
}

func TestBehaviour_ExplicitPeerSet(t *testing.T) {
	id, sw := newTestSwarm(t, 1)
	b, err := NewBehaviour(id, sw, testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	var p types.PeerID
	p[0] = 42

	assert.True(t, b.Apply(AddExplicitPeer{Peer: p}))
	assert.True(t, b.Apply(AddExplicitPeer{Peer: p}))
	assert.Equal(t, []types.PeerID{p}, b.Gossip().ExplicitPeers(), "重复发现只保留一个")

	assert.True(t, b.Apply(RemoveExplicitPeer{Peer: p}))
	assert.Empty(t, b.Gossip().ExplicitPeers())
}

func TestBehaviour_AddExternalAddress(t *testing.T) {
	id, sw := newTestSwarm(t, 1)
	b, err := NewBehaviour(id, sw, testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	addr := types.Multiaddr("/ip4/203.0.113.7/tcp/4001")
	assert.True(t, b.Apply(AddExternalAddress{Addr: addr}))
	assert.Contains(t, sw.ExternalAddrs(), addr)
}

func TestBehaviour_DialPeer(t *testing.T) {
	idA, swA := newTestSwarm(t, 1)
	_, swB := newTestSwarm(t, 2)
	addr, err := swB.Listen(types.MustParseMultiaddr("/ip4/127.0.0.1/tcp/0"))
	require.NoError(t, err)

	b, err := NewBehaviour(idA, swA, testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	assert.True(t, b.Apply(DialPeer{Peer: swB.LocalPeer(), Addrs: []types.Multiaddr{addr}}))
	assert.Eventually(t, func() bool { return swA.Connected(swB.LocalPeer()) }, 5*time.Second, 20*time.Millisecond)
}

// ============================================================================
//                              构造
// ============================================================================

func TestNewBehaviour_ConstructionError(t *testing.T) {
	id, sw := newTestSwarm(t, 1)

	cfg := testConfig()
	cfg.Gossip.D = 0
	b, err := NewBehaviour(id, sw, cfg)
	assert.Nil(t, b)
	assert.ErrorIs(t, err, ErrConstruction)
	assert.Contains(t, err.Error(), NameGossip)

	cfg = testConfig()
	cfg.NAT.ConfidenceThreshold = 0
	b, err = NewBehaviour(id, sw, cfg)
	assert.Nil(t, b)
	assert.ErrorIs(t, err, ErrConstruction)
	assert.Contains(t, err.Error(), NameNAT)

	cfg = testConfig()
	bad := relay.DefaultConfig()
	bad.ReservationTTL = 0
	cfg.Relay = &bad
	_, err = NewBehaviour(id, sw, cfg)
	assert.ErrorIs(t, err, ErrConstruction)
	assert.Contains(t, err.Error(), NameRelay)
}

func TestNewBehaviour_Components(t *testing.T) {
	id, sw := newTestSwarm(t, 1)
	cfg := testConfig()
	rc := relay.DefaultConfig()
	rc.Logger = logger.Discard()
	cfg.Relay = &rc

	b, err := NewBehaviour(id, sw, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	var names []string
	for _, c := range b.Components() {
		names = append(names, c.Name())
	}
	assert.Equal(t, []string{NameGossip, NameIdentify, NameNAT, NameRelay, NamePing, NameListen}, names)
	assert.NotNil(t, b.Relay())
	assert.Nil(t, b.Discovery())
}

func TestBehaviour_SelfDescriptionOnConnect(t *testing.T) {
	idA, swA := newTestSwarm(t, 1)
	idB, swB := newTestSwarm(t, 2)
	addr, err := swB.Listen(types.MustParseMultiaddr("/ip4/127.0.0.1/tcp/0"))
	require.NoError(t, err)

	a, err := NewBehaviour(idA, swA, testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	b, err := NewBehaviour(idB, swB, testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	require.NoError(t, a.Start())
	require.NoError(t, b.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = swA.Dial(ctx, swB.LocalPeer(), addr)
	require.NoError(t, err)

	for {
		select {
		case ev := <-a.Events():
			sd, ok := ev.(SelfDescriptionEvent)
			if !ok {
				continue
			}
			assert.Equal(t, swB.LocalPeer(), sd.Peer)
			require.NotNil(t, sd.Info)
			assert.NotEmpty(t, sd.Info.ObservedAddr)
			return
		case <-ctx.Done():
			t.Fatal("no self-description event")
		}
	}
}

func TestBehaviour_ListenAddressEvents(t *testing.T) {
	id, sw := newTestSwarm(t, 1)
	b, err := NewBehaviour(id, sw, testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	// 启动前绑定的地址同样会被投递
	early, err := sw.Listen(types.MustParseMultiaddr("/ip4/127.0.0.1/tcp/0"))
	require.NoError(t, err)
	require.NoError(t, b.Start())
	late, err := sw.Listen(types.MustParseMultiaddr("/ip4/127.0.0.1/tcp/0"))
	require.NoError(t, err)

	var got []types.Multiaddr
	deadline := time.After(5 * time.Second)
	for len(got) < 2 {
		select {
		case ev := <-b.Events():
			if le, ok := ev.(ListenAddressEvent); ok {
				assert.False(t, le.Closed)
				got = append(got, le.Addr)
			}
		case <-deadline:
			t.Fatalf("listen events: got %v", got)
		}
	}
	assert.Equal(t, []types.Multiaddr{early, late}, got)
}
