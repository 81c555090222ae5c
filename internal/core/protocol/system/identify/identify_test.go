package identify

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/FelixRiddle/swarm-weave/internal/core/identity"
	"github.com/FelixRiddle/swarm-weave/internal/core/muxer/yamux"
	"github.com/FelixRiddle/swarm-weave/internal/core/peerstore"
	"github.com/FelixRiddle/swarm-weave/internal/core/security/noise"
	"github.com/FelixRiddle/swarm-weave/internal/core/swarm"
	"github.com/FelixRiddle/swarm-weave/internal/core/transport/tcp"
	"github.com/FelixRiddle/swarm-weave/internal/core/upgrader"
	"github.com/FelixRiddle/swarm-weave/internal/util/logger"
	pkgif "github.com/FelixRiddle/swarm-weave/pkg/interfaces"
	"github.com/FelixRiddle/swarm-weave/pkg/protocolids"
	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

func TestInfo_RoundTrip(t *testing.T) {
	in := &Info{
		ProtocolVersion: protocolids.IdentifyProtocolVersion,
		AgentVersion:    DefaultAgentVersion,
		PublicKey:       []byte{1, 0, 0, 0, 2, 0xAB, 0xCD},
		ListenAddrs:     []types.Multiaddr{"/ip4/127.0.0.1/tcp/4001", "/ip4/127.0.0.1/udp/4001/quic-v1"},
		ObservedAddr:    "/ip4/10.0.0.2/tcp/55555",
		Protocols:       []types.ProtocolID{protocolids.Identify, protocolids.Ping},
	}

	out, err := Unmarshal(in.Marshal())
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestUnmarshal_SkipsUnknownFields(t *testing.T) {
	b := (&Info{AgentVersion: "x"}).Marshal()
	b = protowire.AppendTag(b, 8, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("signed record"))
	b = protowire.AppendTag(b, 9, protowire.VarintType)
	b = protowire.AppendVarint(b, 7)

	out, err := Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, "x", out.AgentVersion)
}

func TestUnmarshal_DropsMalformedAddrs(t *testing.T) {
	in := &Info{
		ListenAddrs:  []types.Multiaddr{"garbage", "/ip4/127.0.0.1/tcp/4001", "/ip4/999.0.0.1/tcp/1"},
		ObservedAddr: "not a multiaddr",
	}

	out, err := Unmarshal(in.Marshal())
	require.NoError(t, err)
	assert.Equal(t, []types.Multiaddr{"/ip4/127.0.0.1/tcp/4001"}, out.ListenAddrs)
	assert.Empty(t, out.ObservedAddr)
}

func TestUnmarshal_Invalid(t *testing.T) {
	_, err := Unmarshal([]byte{0x2a, 0x10, 'a'})
	assert.ErrorIs(t, err, ErrInvalidMessage)

	// 已知字段的线型错误
	b := protowire.AppendTag(nil, fieldAgentVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, 1)
	_, err = Unmarshal(b)
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

type node struct {
	swarm *swarm.Swarm
	ps    *peerstore.Peerstore
	svc   *Service
}

func newNode(t *testing.T, seed byte) *node {
	t.Helper()
	id, err := identity.SeededIdentitySource{Seed: seed}.Identity()
	require.NoError(t, err)
	sec, err := noise.New(id)
	require.NoError(t, err)
	up, err := upgrader.New([]pkgif.SecureTransport{sec}, []pkgif.StreamMuxer{yamux.NewTransport(nil)})
	require.NoError(t, err)

	ps := peerstore.New(clock.New())
	s := swarm.New(id.ID(), ps)
	s.AddTransport(tcp.New(up, tcp.Options{}))
	t.Cleanup(func() { _ = s.Close() })

	cfg := DefaultConfig()
	cfg.Logger = logger.Discard()
	svc := New(id, s, ps, cfg)
	svc.Start()
	t.Cleanup(func() { _ = svc.Close() })
	return &node{swarm: s, ps: ps, svc: svc}
}

func TestService_ExchangeOnConnect(t *testing.T) {
	a := newNode(t, 1)
	b := newNode(t, 2)
	addr, err := b.swarm.Listen(types.MustParseMultiaddr("/ip4/127.0.0.1/tcp/0"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = a.swarm.Dial(ctx, b.swarm.LocalPeer(), addr)
	require.NoError(t, err)

	select {
	case ev := <-a.svc.Events():
		assert.Equal(t, b.swarm.LocalPeer(), ev.Peer)
		assert.Equal(t, protocolids.IdentifyProtocolVersion, ev.Info.ProtocolVersion)
		assert.Contains(t, ev.Info.ListenAddrs, addr)
		assert.Equal(t, "127.0.0.1", ev.Info.ObservedAddr.IP().String())
	case <-ctx.Done():
		t.Fatal("no identify event")
	}

	pub, err := a.ps.PubKey(b.swarm.LocalPeer())
	require.NoError(t, err)
	assert.Equal(t, b.swarm.LocalPeer(), identity.PeerIDFromPublicKey(pub))
	assert.True(t, a.ps.SupportsProtocol(b.swarm.LocalPeer(), protocolids.Identify))
	assert.Equal(t, DefaultAgentVersion, a.ps.Agent(b.swarm.LocalPeer()))

	// 入站一侧同样完成交换
	select {
	case ev := <-b.svc.Events():
		assert.Equal(t, a.swarm.LocalPeer(), ev.Peer)
	case <-ctx.Done():
		t.Fatal("no identify event on listener side")
	}
}

func TestService_ClosedRejectsIdentify(t *testing.T) {
	a := newNode(t, 1)
	require.NoError(t, a.svc.Close())
	_, err := a.svc.Identify(context.Background(), types.PeerID{1})
	assert.ErrorIs(t, err, ErrClosed)
}
