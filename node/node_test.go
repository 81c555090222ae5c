package node

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FelixRiddle/swarm-weave/config"
	"github.com/FelixRiddle/swarm-weave/internal/behaviour"
	"github.com/FelixRiddle/swarm-weave/internal/core/identity"
	"github.com/FelixRiddle/swarm-weave/internal/core/messaging/gossipsub"
	"github.com/FelixRiddle/swarm-weave/internal/core/protocol/system/identify"
	"github.com/FelixRiddle/swarm-weave/internal/discovery/mdns"
	"github.com/FelixRiddle/swarm-weave/internal/util/logger"
	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

// ============================================================================
//                              辅助
// ============================================================================

func testConfig(seed uint8) *config.Config {
	cfg := config.NewConfig()
	cfg.Node.KeySeed = &seed
	cfg.Discovery.EnableMDNS = false
	return cfg
}

func newTestNode(t *testing.T, cfg *config.Config, opts ...Option) *Node {
	t.Helper()
	n, err := New(cfg, append([]Option{WithLogger(logger.Discard())}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })
	return n
}

// runNode 在后台运行事件循环，等待节点就绪
func runNode(t *testing.T, n *Node) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- n.Start(ctx) }()
	t.Cleanup(cancel)

	select {
	case <-n.Ready():
	case err := <-errCh:
		t.Fatalf("node exited before ready: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("node not ready")
	}
	return cancel, errCh
}

// loopbackTCP 把通配监听地址改写为回环地址
func loopbackTCP(t *testing.T, n *Node) types.Multiaddr {
	t.Helper()
	for _, a := range n.ListenAddrs() {
		s := string(a)
		if strings.HasPrefix(s, "/ip4/0.0.0.0/tcp/") {
			return types.Multiaddr(strings.Replace(s, "0.0.0.0", "127.0.0.1", 1))
		}
	}
	t.Fatal("no tcp listen address")
	return ""
}

func peerID(seed byte) types.PeerID {
	var p types.PeerID
	p[0] = seed
	return p
}

// ============================================================================
//                              构造
// ============================================================================

func TestNew_RequiresIdentitySource(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Discovery.EnableMDNS = false

	n, err := New(cfg, WithLogger(logger.Discard()))
	assert.Nil(t, n)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestNew_BootstrapRequiresBothFields(t *testing.T) {
	cfg := testConfig(1)
	cfg.Node.BootstrapAddress = "/ip4/127.0.0.1/tcp/4001"

	_, err := New(cfg, WithLogger(logger.Discard()))
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestNew_MalformedBootstrapPeerID(t *testing.T) {
	cfg := testConfig(1)
	cfg.Node.BootstrapAddress = "/ip4/127.0.0.1/tcp/4001"
	cfg.Node.BootstrapPeerID = "not-a-peer-id"

	_, err := New(cfg, WithLogger(logger.Discard()))
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestNew_SeededIdentityIsDeterministic(t *testing.T) {
	a := newTestNode(t, testConfig(7))
	b := newTestNode(t, testConfig(7))
	c := newTestNode(t, testConfig(8))

	assert.Equal(t, a.ID(), b.ID())
	assert.NotEqual(t, a.ID(), c.ID())

	want, err := identity.SeededIdentitySource{Seed: 7}.Identity()
	require.NoError(t, err)
	assert.Equal(t, want.ID(), a.ID())
}

func TestNew_IdentitySourceOption(t *testing.T) {
	n := newTestNode(t, testConfig(1), WithIdentitySource(identity.SeededIdentitySource{Seed: 42}))

	want, err := identity.SeededIdentitySource{Seed: 42}.Identity()
	require.NoError(t, err)
	assert.Equal(t, want.ID(), n.ID())
}

func TestNew_KeyStorePersistsIdentity(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Discovery.EnableMDNS = false
	cfg.Identity.KeyStore = true
	cfg.Identity.DataDir = t.TempDir()
	cfg.Identity.Passphrase = "correct horse"

	first, err := New(cfg, WithLogger(logger.Discard()))
	require.NoError(t, err)
	id := first.ID()
	require.NoError(t, first.Close())

	second, err := New(cfg, WithLogger(logger.Discard()))
	require.NoError(t, err)
	assert.Equal(t, id, second.ID())
	require.NoError(t, second.Close())

	cfg.Identity.Passphrase = "wrong"
	_, err = New(cfg, WithLogger(logger.Discard()))
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestNew_BehaviourConstructionError(t *testing.T) {
	cfg := testConfig(1)
	cfg.Discovery.EnableMDNS = true
	cfg.Discovery.QueryInterval = config.Duration(2 * time.Second)
	cfg.Discovery.TTL = config.Duration(3 * time.Second)

	_, err := New(cfg, WithLogger(logger.Discard()))
	assert.ErrorIs(t, err, ErrBehaviourConstruction)
	assert.ErrorIs(t, err, behaviour.ErrConstruction)
}

func TestNew_SubscribesTopics(t *testing.T) {
	n := newTestNode(t, testConfig(1))
	assert.Equal(t, []string{config.PrimaryTopic}, n.Topics())

	cfg := testConfig(2)
	cfg.Node.TestMode = true
	d := newTestNode(t, cfg)
	assert.ElementsMatch(t, []string{config.PrimaryTopic, config.DiagnosticTopic}, d.Topics())
}

func TestNode_CloseIdle(t *testing.T) {
	n, err := New(testConfig(1), WithLogger(logger.Discard()))
	require.NoError(t, err)

	assert.Equal(t, StateIdle, n.State())
	require.NoError(t, n.Close())
	assert.Equal(t, StateTerminated, n.State())
	assert.ErrorIs(t, n.Start(context.Background()), ErrNodeClosed)
	assert.NoError(t, n.Close())
}

func TestNode_PublishWithoutPeers(t *testing.T) {
	n := newTestNode(t, testConfig(1))

	_, err := n.Publish([]byte("nobody listens"))
	assert.ErrorIs(t, err, ErrPublish)
	assert.ErrorIs(t, err, gossipsub.ErrInsufficientPeers)

	_, err = n.PublishDiagnostic([]byte("x"))
	assert.ErrorIs(t, err, ErrPublish)
}

// ============================================================================
//                              监听地址
// ============================================================================

func TestListenAddrs(t *testing.T) {
	cfg := testConfig(1)
	cfg.Node.ListenPort = 4001
	assert.Equal(t, []types.Multiaddr{
		"/ip4/0.0.0.0/tcp/4001",
		"/ip4/0.0.0.0/udp/4001/quic-v1",
		"/ip4/0.0.0.0/udp/0/quic-v1",
		"/ip4/0.0.0.0/tcp/0",
	}, listenAddrs(cfg))

	cfg.Node.UseIPv6 = true
	cfg.Node.Relay = true
	cfg.Node.RelayPort = 4002
	assert.Equal(t, []types.Multiaddr{
		"/ip6/::/tcp/4001",
		"/ip6/::/udp/4001/quic-v1",
		"/ip6/::/tcp/4002",
		"/ip4/0.0.0.0/udp/0/quic-v1",
		"/ip4/0.0.0.0/tcp/0",
	}, listenAddrs(cfg))

	cfg = testConfig(1)
	cfg.Transport.EnableQUIC = false
	assert.Equal(t, []types.Multiaddr{"/ip4/0.0.0.0/tcp/0", "/ip4/0.0.0.0/tcp/0"}, listenAddrs(cfg))
}

// ============================================================================
//                              生命周期
// ============================================================================

func TestNode_LeaveOnCancel(t *testing.T) {
	n := newTestNode(t, testConfig(1))
	cancel, errCh := runNode(t, n)

	assert.Equal(t, StateRunning, n.State())
	assert.NotEmpty(t, n.ListenAddrs())
	assert.ErrorIs(t, n.Start(context.Background()), ErrAlreadyStarted)

	n.behaviour.Apply(behaviour.AddExplicitPeer{Peer: peerID(9)})
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("event loop did not terminate")
	}
	assert.Equal(t, StateTerminated, n.State())
	assert.Empty(t, n.Topics())
	assert.Empty(t, n.ExplicitPeers())
}

func TestNode_CloseRunning(t *testing.T) {
	n := newTestNode(t, testConfig(1))
	_, errCh := runNode(t, n)

	require.NoError(t, n.Close())
	assert.NoError(t, <-errCh)
	assert.Equal(t, StateTerminated, n.State())
}

func TestNode_ListenFailure(t *testing.T) {
	a := newTestNode(t, testConfig(1))
	runNode(t, a)

	port := loopbackTCP(t, a).Port()
	require.NotZero(t, port)

	cfg := testConfig(2)
	require.False(t, cfg.Transport.ReusePort)
	cfg.Node.ListenPort = uint16(port)
	b := newTestNode(t, cfg)

	err := b.Start(context.Background())
	assert.ErrorIs(t, err, ErrListen)
	assert.Equal(t, StateTerminated, b.State())
}

func TestNode_DiscoveryInterfaceUnavailable(t *testing.T) {
	cfg := testConfig(1)
	cfg.Discovery.EnableMDNS = true
	cfg.Discovery.Interface = "nonexistent0"
	n := newTestNode(t, cfg)

	err := n.Start(context.Background())
	assert.ErrorIs(t, err, ErrBehaviourConstruction)
	assert.ErrorIs(t, err, mdns.ErrInterface)
	assert.Equal(t, StateTerminated, n.State())
}

// ============================================================================
//                              端到端
// ============================================================================

func TestNode_TwoNodesExchangeMessage(t *testing.T) {
	a := newTestNode(t, testConfig(1))
	runNode(t, a)

	cfg := testConfig(2)
	cfg.Node.BootstrapAddress = string(loopbackTCP(t, a))
	cfg.Node.BootstrapPeerID = a.ID().String()
	b := newTestNode(t, cfg)
	runNode(t, b)

	assert.Contains(t, b.ExplicitPeers(), a.ID())

	require.Eventually(t, func() bool {
		_, err := b.Publish([]byte("hello"))
		return err == nil
	}, 10*time.Second, 100*time.Millisecond)

	select {
	case m := <-a.Messages():
		assert.Equal(t, "hello", string(m.Data))
		assert.Equal(t, config.PrimaryTopic, m.Topic)
		assert.Equal(t, b.ID(), m.From)
		assert.Equal(t, gossipsub.MessageID([]byte("hello")), m.ID)
	case <-time.After(10 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestNode_InputLinesArePublished(t *testing.T) {
	a := newTestNode(t, testConfig(1))
	runNode(t, a)

	r, w := io.Pipe()
	cfg := testConfig(2)
	cfg.Node.BootstrapAddress = string(loopbackTCP(t, a))
	cfg.Node.BootstrapPeerID = a.ID().String()
	b := newTestNode(t, cfg, WithInput(r))
	runNode(t, b)
	t.Cleanup(func() { _ = w.Close() })

	// 订阅信息交换完成前发布会失败，逐行重试直到对端收到
	deadline := time.After(10 * time.Second)
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for i := 0; ; i++ {
		select {
		case m := <-a.Messages():
			assert.True(t, strings.HasPrefix(string(m.Data), "line "))
			return
		case <-tick.C:
			_, _ = w.Write([]byte("line " + strconv.Itoa(i) + "\n"))
		case <-deadline:
			t.Fatal("input line not delivered")
		}
	}
}

// ============================================================================
//                              事件处理
// ============================================================================

func TestCommandsFor(t *testing.T) {
	p := peerID(3)
	addrs := []types.Multiaddr{"/ip4/192.168.1.20/tcp/4001"}
	observed := &identify.Info{ObservedAddr: "/ip4/198.51.100.7/tcp/55000"}

	tests := []struct {
		name  string
		ev    behaviour.ComponentEvent
		relay bool
		want  []behaviour.Command
	}{
		{
			name: "discovered",
			ev:   behaviour.DiscoveryEvent{Peer: p, Addrs: addrs},
			want: []behaviour.Command{
				behaviour.AddExplicitPeer{Peer: p},
				behaviour.DialPeer{Peer: p, Addrs: addrs},
			},
		},
		{
			name: "expired",
			ev:   behaviour.DiscoveryEvent{Peer: p, Expired: true},
			want: []behaviour.Command{behaviour.RemoveExplicitPeer{Peer: p}},
		},
		{
			name:  "observed address as relay",
			ev:    behaviour.SelfDescriptionEvent{Peer: p, Info: observed},
			relay: true,
			want:  []behaviour.Command{behaviour.AddExternalAddress{Addr: observed.ObservedAddr}},
		},
		{
			name: "observed address ignored without relay",
			ev:   behaviour.SelfDescriptionEvent{Peer: p, Info: observed},
		},
		{
			name:  "malformed observed address as relay",
			ev:    behaviour.SelfDescriptionEvent{Peer: p, Info: &identify.Info{ObservedAddr: "garbage"}},
			relay: true,
		},
		{
			name:  "self description without observed address",
			ev:    behaviour.SelfDescriptionEvent{Peer: p, Info: &identify.Info{}},
			relay: true,
		},
		{
			name: "message",
			ev:   behaviour.MessageEvent{Message: &gossipsub.Message{Topic: config.PrimaryTopic}},
		},
		{
			name: "liveness",
			ev:   behaviour.LivenessEvent{},
		},
		{
			name:  "listen address",
			ev:    behaviour.ListenAddressEvent{Addr: "/ip4/0.0.0.0/tcp/4001"},
			relay: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, commandsFor(tt.ev, tt.relay))
		})
	}
}

func TestNode_DiscoveryMaintainsExplicitSet(t *testing.T) {
	n := newTestNode(t, testConfig(1))
	p := peerID(5)

	n.handleEvent(behaviour.DiscoveryEvent{Peer: p})
	n.handleEvent(behaviour.DiscoveryEvent{Peer: p})
	assert.Equal(t, []types.PeerID{p}, n.ExplicitPeers())

	n.handleEvent(behaviour.DiscoveryEvent{Peer: p, Expired: true})
	assert.Empty(t, n.ExplicitPeers())
}

func TestNode_ObservedAddressRelayGated(t *testing.T) {
	observed := types.Multiaddr("/ip4/198.51.100.7/tcp/55000")
	ev := behaviour.SelfDescriptionEvent{Peer: peerID(4), Info: &identify.Info{ObservedAddr: observed}}

	plain := newTestNode(t, testConfig(1))
	plain.handleEvent(ev)
	assert.NotContains(t, plain.ExternalAddrs(), observed)

	cfg := testConfig(2)
	cfg.Node.Relay = true
	relayNode := newTestNode(t, cfg)
	require.NotNil(t, relayNode.behaviour.Relay())
	relayNode.handleEvent(ev)
	assert.Contains(t, relayNode.ExternalAddrs(), observed)
}

func TestNode_DeliverRoutesByTopic(t *testing.T) {
	cfg := testConfig(1)
	cfg.Node.TestMode = true
	n := newTestNode(t, cfg, WithMessageBuffer(1))

	n.deliver(&gossipsub.Message{Topic: config.DiagnosticTopic, Data: []byte("diag")})
	select {
	case m := <-n.Messages():
		t.Fatalf("diagnostic message delivered: %s", m.Data)
	default:
	}

	n.deliver(&gossipsub.Message{Topic: config.PrimaryTopic, Data: []byte("one")})
	n.deliver(&gossipsub.Message{Topic: config.PrimaryTopic, Data: []byte("two")})
	m := <-n.Messages()
	assert.Equal(t, "one", string(m.Data), "队列满时丢弃新消息")
	select {
	case m := <-n.Messages():
		t.Fatalf("unexpected message %s", m.Data)
	default:
	}
}

func TestOptions_Reject(t *testing.T) {
	_, err := New(testConfig(1), WithLogger(nil))
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = New(testConfig(1), WithMessageBuffer(0))
	assert.True(t, errors.Is(err, ErrConfiguration))
}
