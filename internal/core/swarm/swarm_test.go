package swarm

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FelixRiddle/swarm-weave/internal/core/identity"
	"github.com/FelixRiddle/swarm-weave/internal/core/muxer/yamux"
	"github.com/FelixRiddle/swarm-weave/internal/core/peerstore"
	"github.com/FelixRiddle/swarm-weave/internal/core/security/noise"
	"github.com/FelixRiddle/swarm-weave/internal/core/transport/tcp"
	"github.com/FelixRiddle/swarm-weave/internal/core/upgrader"
	pkgif "github.com/FelixRiddle/swarm-weave/pkg/interfaces"
	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

const echoProto types.ProtocolID = "/test/echo/1.0.0"

func newSwarm(t *testing.T, seed byte, opts ...Option) *Swarm {
	t.Helper()
	id, err := identity.SeededIdentitySource{Seed: seed}.Identity()
	require.NoError(t, err)
	sec, err := noise.New(id)
	require.NoError(t, err)
	up, err := upgrader.New([]pkgif.SecureTransport{sec}, []pkgif.StreamMuxer{yamux.NewTransport(nil)})
	require.NoError(t, err)

	s := New(id.ID(), peerstore.New(clock.New()), opts...)
	s.AddTransport(tcp.New(up, tcp.Options{}))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func listen(t *testing.T, s *Swarm) types.Multiaddr {
	t.Helper()
	addr, err := s.Listen(types.MustParseMultiaddr("/ip4/127.0.0.1/tcp/0"))
	require.NoError(t, err)
	return addr
}

func echoHandler(st pkgif.Stream) {
	defer st.Close()
	_, _ = io.Copy(st, st)
}

func TestSwarm_DialAndStream(t *testing.T) {
	a := newSwarm(t, 1)
	b := newSwarm(t, 2)
	b.SetStreamHandler(echoProto, echoHandler)
	addr := listen(t, b)

	var connected atomic.Int32
	b.Notify(&NotifyBundle{ConnectedF: func(pkgif.Connection) { connected.Add(1) }})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c, err := a.Dial(ctx, b.LocalPeer(), addr)
	require.NoError(t, err)
	assert.Equal(t, b.LocalPeer(), c.RemotePeer())
	assert.True(t, a.Connected(b.LocalPeer()))

	st, err := a.NewStream(ctx, b.LocalPeer(), echoProto)
	require.NoError(t, err)
	assert.Equal(t, echoProto, st.Protocol())

	_, err = st.Write([]byte("ping"))
	require.NoError(t, err)
	require.NoError(t, st.CloseWrite())
	got, err := io.ReadAll(st)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(got))
	require.NoError(t, st.Close())

	assert.Eventually(t, func() bool { return connected.Load() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return b.Connected(a.LocalPeer()) }, 5*time.Second, 10*time.Millisecond)

	// 已有连接时复用
	again, err := a.Dial(ctx, b.LocalPeer())
	require.NoError(t, err)
	assert.Same(t, c, again)
}

func TestSwarm_UnsupportedProtocol(t *testing.T) {
	a := newSwarm(t, 1)
	b := newSwarm(t, 2)
	addr := listen(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := a.Dial(ctx, b.LocalPeer(), addr)
	require.NoError(t, err)

	_, err = a.NewStream(ctx, b.LocalPeer(), "/nope/1.0.0")
	assert.Error(t, err)
}

func TestSwarm_DialToSelf(t *testing.T) {
	a := newSwarm(t, 1)
	_, err := a.Dial(context.Background(), a.LocalPeer(), types.MustParseMultiaddr("/ip4/127.0.0.1/tcp/1"))
	assert.ErrorIs(t, err, ErrDialToSelf)
}

func TestSwarm_DialNoAddresses(t *testing.T) {
	a := newSwarm(t, 1)
	b, err := identity.SeededIdentitySource{Seed: 2}.Identity()
	require.NoError(t, err)

	_, err = a.Dial(context.Background(), b.ID())
	var de *DialError
	require.ErrorAs(t, err, &de)
	assert.ErrorIs(t, err, ErrNoAddresses)
}

func TestSwarm_ProtocolsSorted(t *testing.T) {
	a := newSwarm(t, 1)
	a.SetStreamHandler("/b/1.0.0", echoHandler)
	a.SetStreamHandler("/a/1.0.0", echoHandler)
	assert.Equal(t, []types.ProtocolID{"/a/1.0.0", "/b/1.0.0"}, a.Protocols())

	a.RemoveStreamHandler("/b/1.0.0")
	assert.Equal(t, []types.ProtocolID{"/a/1.0.0"}, a.Protocols())
}

func TestSwarm_ExternalAddrs(t *testing.T) {
	a := newSwarm(t, 1)
	addr := types.MustParseMultiaddr("/ip4/1.2.3.4/tcp/4001")
	assert.True(t, a.AddExternalAddr(addr))
	assert.False(t, a.AddExternalAddr(addr))
	assert.Equal(t, []types.Multiaddr{addr}, a.ExternalAddrs())

	a.RemoveExternalAddr(addr)
	assert.Empty(t, a.ExternalAddrs())
}

func TestSwarm_ExternalAddrsBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxExternalAddrs = 2
	a := newSwarm(t, 1, WithConfig(cfg))

	first := types.MustParseMultiaddr("/ip4/1.2.3.4/tcp/1001")
	second := types.MustParseMultiaddr("/ip4/1.2.3.4/tcp/1002")
	third := types.MustParseMultiaddr("/ip4/1.2.3.4/tcp/1003")

	require.True(t, a.AddExternalAddr(first))
	require.True(t, a.AddExternalAddr(second))
	// 再次确认 first，淘汰的应是 second
	require.False(t, a.AddExternalAddr(first))
	require.True(t, a.AddExternalAddr(third))

	assert.Equal(t, []types.Multiaddr{first, third}, a.ExternalAddrs())
}

func TestSwarm_IdleConnectionReaped(t *testing.T) {
	mock := clock.NewMock()
	cfg := DefaultConfig()
	a := newSwarm(t, 1, WithConfig(cfg), WithClock(mock))
	b := newSwarm(t, 2)
	addr := listen(t, b)

	var disconnected atomic.Int32
	a.Notify(&NotifyBundle{DisconnectedF: func(pkgif.Connection) { disconnected.Add(1) }})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := a.Dial(ctx, b.LocalPeer(), addr)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		mock.Add(cfg.IdleTimeout / 4)
		return !a.Connected(b.LocalPeer())
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, int32(1), disconnected.Load())
}

func TestSwarm_BusyConnectionKept(t *testing.T) {
	mock := clock.NewMock()
	cfg := DefaultConfig()
	a := newSwarm(t, 1, WithConfig(cfg), WithClock(mock))
	b := newSwarm(t, 2)
	b.SetStreamHandler(echoProto, echoHandler)
	addr := listen(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := a.Dial(ctx, b.LocalPeer(), addr)
	require.NoError(t, err)
	st, err := a.NewStream(ctx, b.LocalPeer(), echoProto)
	require.NoError(t, err)

	for i := 0; i < 8; i++ {
		mock.Add(cfg.IdleTimeout / 2)
		time.Sleep(5 * time.Millisecond)
	}
	assert.True(t, a.Connected(b.LocalPeer()))

	_ = st.Close()
	assert.Eventually(t, func() bool {
		mock.Add(cfg.IdleTimeout / 4)
		return !a.Connected(b.LocalPeer())
	}, 5*time.Second, 20*time.Millisecond)
}

func TestSwarm_ProtectedConnectionKept(t *testing.T) {
	mock := clock.NewMock()
	cfg := DefaultConfig()
	a := newSwarm(t, 1, WithConfig(cfg), WithClock(mock))
	b := newSwarm(t, 2)
	addr := listen(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := a.Dial(ctx, b.LocalPeer(), addr)
	require.NoError(t, err)

	a.Protect(b.LocalPeer(), "relay")
	a.Protect(b.LocalPeer(), "bootstrap")
	for i := 0; i < 8; i++ {
		mock.Add(cfg.IdleTimeout / 2)
		time.Sleep(5 * time.Millisecond)
	}
	assert.True(t, a.Connected(b.LocalPeer()))

	assert.True(t, a.Unprotect(b.LocalPeer(), "relay"))
	assert.False(t, a.Unprotect(b.LocalPeer(), "bootstrap"))
	assert.False(t, a.IsProtected(b.LocalPeer()))
	assert.Eventually(t, func() bool {
		mock.Add(cfg.IdleTimeout / 4)
		return !a.Connected(b.LocalPeer())
	}, 5*time.Second, 20*time.Millisecond)
}

func TestSwarm_CloseNotifiesListenClose(t *testing.T) {
	a := newSwarm(t, 1)
	closed := make(chan types.Multiaddr, 1)
	a.Notify(&NotifyBundle{ListenCloseF: func(m types.Multiaddr) { closed <- m }})
	addr := listen(t, a)
	assert.Equal(t, []types.Multiaddr{addr}, a.ListenAddrs())

	require.NoError(t, a.Close())
	select {
	case got := <-closed:
		assert.Equal(t, addr, got)
	case <-time.After(5 * time.Second):
		t.Fatal("no ListenClose notification")
	}

	_, err := a.Listen(types.MustParseMultiaddr("/ip4/127.0.0.1/tcp/0"))
	assert.ErrorIs(t, err, ErrSwarmClosed)
}
