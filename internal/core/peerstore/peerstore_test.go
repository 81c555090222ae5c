package peerstore

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"

	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

func testPeer(b byte) types.PeerID {
	var id types.PeerID
	id[0] = b
	return id
}

func TestAddrs_TTL(t *testing.T) {
	clk := clock.NewMock()
	ps := New(clk)
	p := testPeer(1)

	a := types.MustParseMultiaddr("/ip4/10.0.0.1/tcp/4001")
	b := types.MustParseMultiaddr("/ip4/10.0.0.2/udp/4001/quic-v1")
	ps.AddAddrs(p, []types.Multiaddr{a}, time.Minute)
	ps.AddAddrs(p, []types.Multiaddr{b}, time.Hour)
	assert.Equal(t, []types.Multiaddr{a, b}, ps.Addrs(p))

	clk.Add(2 * time.Minute)
	assert.Equal(t, []types.Multiaddr{b}, ps.Addrs(p))

	ps.UpdateAddrTTL(p, time.Second)
	clk.Add(2 * time.Second)
	assert.Empty(t, ps.Addrs(p))
}

func TestAddrs_StripsPeerID(t *testing.T) {
	ps := New(clock.NewMock())
	p := testPeer(1)
	ps.AddAddrs(p, []types.Multiaddr{types.MustParseMultiaddr("/ip4/10.0.0.1/tcp/4001").WithPeerID(p)}, PermanentAddrTTL)
	assert.Equal(t, []types.Multiaddr{"/ip4/10.0.0.1/tcp/4001"}, ps.Addrs(p))
}

func TestAddrs_NeverShortensTTL(t *testing.T) {
	clk := clock.NewMock()
	ps := New(clk)
	p := testPeer(1)
	a := types.MustParseMultiaddr("/ip4/10.0.0.1/tcp/4001")

	ps.AddAddrs(p, []types.Multiaddr{a}, time.Hour)
	ps.AddAddrs(p, []types.Multiaddr{a}, time.Minute)
	clk.Add(10 * time.Minute)
	assert.Equal(t, []types.Multiaddr{a}, ps.Addrs(p))
}

func TestProtocolsAndKeys(t *testing.T) {
	ps := New(nil)
	p := testPeer(2)

	assert.False(t, ps.SupportsProtocol(p, "/x"))
	ps.SetProtocols(p, "/x", "/y")
	assert.True(t, ps.SupportsProtocol(p, "/y"))
	ps.SetProtocols(p, "/z")
	assert.False(t, ps.SupportsProtocol(p, "/x"))

	_, err := ps.PubKey(p)
	assert.ErrorIs(t, err, ErrNotFound)

	ps.SetAgent(p, "swarm-weave/1")
	assert.Equal(t, "swarm-weave/1", ps.Agent(p))
	assert.Len(t, ps.Peers(), 1)

	ps.RemovePeer(p)
	assert.Empty(t, ps.Peers())
}
