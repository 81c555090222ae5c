package types

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPeerID(b byte) PeerID {
	var id PeerID
	for i := range id {
		id[i] = b + byte(i)
	}
	return id
}

func TestParseMultiaddr_ListenForms(t *testing.T) {
	for _, s := range []string{
		"/ip4/0.0.0.0/tcp/4001",
		"/ip4/0.0.0.0/udp/4001/quic-v1",
		"/ip6/::/tcp/0",
		"/ip6/::/udp/0/quic-v1",
	} {
		ma, err := ParseMultiaddr(s)
		require.NoError(t, err, s)
		assert.Equal(t, s, ma.String())
	}
}

func TestParseMultiaddr_Invalid(t *testing.T) {
	cases := map[string]error{
		"":                         ErrEmptyMultiaddr,
		"1.2.3.4:4001":             ErrNotMultiaddrFormat,
		"/ip4/300.1.1.1/tcp/1":     ErrInvalidMultiaddr,
		"/ip4/1.2.3.4/tcp/70000":   ErrInvalidMultiaddr,
		"/ip4/1.2.3.4/sctp/1":      ErrInvalidMultiaddr,
		"/ip6/1.2.3.4/tcp/1":       ErrInvalidMultiaddr,
		"/ip4/1.2.3.4/tcp":         ErrInvalidMultiaddr,
		"/ip4/1.2.3.4/p2p/notbase": ErrInvalidMultiaddr,
	}
	for in, want := range cases {
		_, err := ParseMultiaddr(in)
		assert.ErrorIs(t, err, want, in)
	}
}

func TestMultiaddr_Accessors(t *testing.T) {
	id := testPeerID(1)
	ma := MustParseMultiaddr("/ip4/127.0.0.1/udp/9000/quic-v1").WithPeerID(id)

	assert.Equal(t, net.ParseIP("127.0.0.1").To4(), ma.IP().To4())
	assert.Equal(t, 9000, ma.Port())
	assert.Equal(t, ProtoQUICV1, ma.Transport())
	assert.Equal(t, id, ma.PeerID())
	assert.True(t, ma.IsLoopback())
	assert.False(t, ma.IsPublic())
	assert.Equal(t, Multiaddr("/ip4/127.0.0.1/udp/9000/quic-v1"), ma.WithoutPeerID())
	assert.Equal(t, ma, ma.WithPeerID(id))
}

func TestMultiaddr_WithIP(t *testing.T) {
	ma := MustParseMultiaddr("/ip4/0.0.0.0/tcp/4001")
	assert.Equal(t, Multiaddr("/ip4/10.1.2.3/tcp/4001"), ma.WithIP(net.ParseIP("10.1.2.3")))
	assert.Equal(t, Multiaddr("/ip6/::1/tcp/4001"), ma.WithIP(net.ParseIP("::1")))

	dns := MustParseMultiaddr("/dns4/example.com/tcp/1")
	assert.Equal(t, dns, dns.WithIP(net.ParseIP("1.2.3.4")))
}

func TestMultiaddr_DialArgs(t *testing.T) {
	network, hostport, err := MustParseMultiaddr("/ip6/::1/tcp/80").DialArgs()
	require.NoError(t, err)
	assert.Equal(t, "tcp6", network)
	assert.Equal(t, "[::1]:80", hostport)

	network, hostport, err = MustParseMultiaddr("/ip4/10.0.0.1/udp/5/quic-v1").DialArgs()
	require.NoError(t, err)
	assert.Equal(t, "udp4", network)
	assert.Equal(t, "10.0.0.1:5", hostport)
}

func TestFromNetAddr(t *testing.T) {
	ma, err := FromNetAddr(&net.TCPAddr{IP: net.ParseIP("192.168.1.2"), Port: 7})
	require.NoError(t, err)
	assert.Equal(t, Multiaddr("/ip4/192.168.1.2/tcp/7"), ma)

	ma, err = FromNetAddr(&net.UDPAddr{IP: net.ParseIP("fe80::1"), Port: 8})
	require.NoError(t, err)
	assert.Equal(t, Multiaddr("/ip6/fe80::1/udp/8/quic-v1"), ma)

	_, err = FromNetAddr(&net.UnixAddr{Name: "x"})
	assert.ErrorIs(t, err, ErrUnsupportedNetAddr)
}

func TestRelayAddr_RoundTrip(t *testing.T) {
	relay, dest := testPeerID(10), testPeerID(20)
	base := MustParseMultiaddr("/ip4/1.2.3.4/tcp/4001")

	addr := RelayAddr(base, relay, dest)
	assert.True(t, addr.IsRelay())
	assert.Equal(t, ProtoCircuit, addr.Transport())

	gotBase, gotRelay, gotDest, err := addr.SplitRelay()
	require.NoError(t, err)
	assert.Equal(t, base, gotBase)
	assert.Equal(t, relay, gotRelay)
	assert.Equal(t, dest, gotDest)

	_, _, _, err = base.SplitRelay()
	assert.ErrorIs(t, err, ErrInvalidMultiaddr)
}

func TestPeerID_Text(t *testing.T) {
	id := testPeerID(3)
	parsed, err := ParsePeerID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
	assert.Len(t, id.ShortString(), 8)

	_, err = ParsePeerID("0OIl")
	assert.ErrorIs(t, err, ErrInvalidPeerID)
	assert.True(t, EmptyPeerID.IsEmpty())
	assert.Equal(t, "", EmptyPeerID.String())
}
