package upgrader

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FelixRiddle/swarm-weave/internal/core/identity"
	"github.com/FelixRiddle/swarm-weave/internal/core/muxer/yamux"
	"github.com/FelixRiddle/swarm-weave/internal/core/security/noise"
	pkgif "github.com/FelixRiddle/swarm-weave/pkg/interfaces"
	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

func newUpgrader(t *testing.T, seed byte) (*Upgrader, *identity.Identity) {
	t.Helper()
	id, err := identity.SeededIdentitySource{Seed: seed}.Identity()
	require.NoError(t, err)
	sec, err := noise.New(id)
	require.NoError(t, err)
	u, err := New([]pkgif.SecureTransport{sec}, []pkgif.StreamMuxer{yamux.NewTransport(nil)})
	require.NoError(t, err)
	return u, id
}

func tcpPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		accepted <- c
	}()
	c, err := net.Dial("tcp4", ln.Addr().String())
	require.NoError(t, err)
	s := <-accepted
	require.NotNil(t, s)
	return c, s
}

func TestUpgrade_EndToEnd(t *testing.T) {
	ua, a := newUpgrader(t, 1)
	ub, b := newUpgrader(t, 2)
	c, s := tcpPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	type res struct {
		conn pkgif.Connection
		err  error
	}
	srvCh := make(chan res, 1)
	go func() {
		conn, err := ub.Upgrade(ctx, s, pkgif.DirInbound, types.EmptyPeerID, "tcp")
		srvCh <- res{conn, err}
	}()

	cli, err := ua.Upgrade(ctx, c, pkgif.DirOutbound, b.ID(), "tcp")
	require.NoError(t, err)
	srv := <-srvCh
	require.NoError(t, srv.err)
	defer cli.Close()
	defer srv.conn.Close()

	assert.Equal(t, b.ID(), cli.RemotePeer())
	assert.Equal(t, a.ID(), srv.conn.RemotePeer())
	assert.Equal(t, pkgif.DirOutbound, cli.Direction())
	assert.Equal(t, "tcp", cli.Transport())
	assert.Equal(t, types.ProtoTCP, cli.RemoteMultiaddr().Transport())
	assert.True(t, cli.RemoteMultiaddr().IsLoopback())

	go func() {
		st, err := srv.conn.AcceptStream()
		if err != nil {
			return
		}
		buf := make([]byte, 4)
		n, _ := st.Read(buf)
		_, _ = st.Write(buf[:n])
		_ = st.Close()
	}()

	st, err := cli.OpenStream(ctx)
	require.NoError(t, err)
	_, err = st.Write([]byte("ping"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = st.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))
}

func TestUpgrade_OutboundRequiresPeer(t *testing.T) {
	ua, _ := newUpgrader(t, 1)
	c, s := tcpPair(t)
	defer s.Close()

	_, err := ua.Upgrade(context.Background(), c, pkgif.DirOutbound, types.EmptyPeerID, "tcp")
	assert.ErrorIs(t, err, ErrNoPeerID)
}

func TestNew_RequiresTransports(t *testing.T) {
	_, err := New(nil, []pkgif.StreamMuxer{yamux.NewTransport(nil)})
	assert.ErrorIs(t, err, ErrNoSecurityTransport)
	_, err = New([]pkgif.SecureTransport{&noise.Transport{}}, nil)
	assert.ErrorIs(t, err, ErrNoStreamMuxer)
}
