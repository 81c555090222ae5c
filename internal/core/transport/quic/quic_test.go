package quic

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FelixRiddle/swarm-weave/internal/core/identity"
	"github.com/FelixRiddle/swarm-weave/internal/core/transport"
	pkgif "github.com/FelixRiddle/swarm-weave/pkg/interfaces"
	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

func newTransport(t *testing.T, seed byte) (*Transport, *identity.Identity) {
	t.Helper()
	id, err := identity.SeededIdentitySource{Seed: seed}.Identity()
	require.NoError(t, err)
	tr, err := New(id, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr, id
}

func TestTransport_DialListenStream(t *testing.T) {
	server, serverID := newTransport(t, 1)
	client, clientID := newTransport(t, 2)

	ln, err := server.Listen(types.MustParseMultiaddr("/ip4/127.0.0.1/udp/0/quic-v1"))
	require.NoError(t, err)
	assert.Equal(t, types.ProtoQUICV1, ln.Multiaddr().Transport())

	accepted := make(chan pkgif.Connection, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, err := client.Dial(ctx, ln.Multiaddr(), serverID.ID())
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, serverID.ID(), conn.RemotePeer())
	assert.Equal(t, serverID.PublicKey(), conn.RemotePublicKey())

	st, err := conn.OpenStream(ctx)
	require.NoError(t, err)
	_, err = st.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, st.CloseWrite())

	var in pkgif.Connection
	select {
	case in = <-accepted:
	case <-time.After(10 * time.Second):
		t.Fatal("no inbound connection")
	}
	defer in.Close()
	assert.Equal(t, clientID.ID(), in.RemotePeer())

	rs, err := in.AcceptStream()
	require.NoError(t, err)
	data, err := io.ReadAll(rs)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestTransport_DialWrongPeer(t *testing.T) {
	server, _ := newTransport(t, 1)
	client, _ := newTransport(t, 2)

	ln, err := server.Listen(types.MustParseMultiaddr("/ip4/127.0.0.1/udp/0/quic-v1"))
	require.NoError(t, err)

	other, err := identity.SeededIdentitySource{Seed: 3}.Identity()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = client.Dial(ctx, ln.Multiaddr(), other.ID())
	assert.Error(t, err)
}

func TestListener_Close(t *testing.T) {
	tr, _ := newTransport(t, 1)
	ln, err := tr.Listen(types.MustParseMultiaddr("/ip4/127.0.0.1/udp/0/quic-v1"))
	require.NoError(t, err)
	require.NoError(t, ln.Close())

	_, err = ln.Accept()
	assert.ErrorIs(t, err, transport.ErrListenerClosed)
}

func TestPeerFromCerts(t *testing.T) {
	id, err := identity.SeededIdentitySource{Seed: 4}.Identity()
	require.NoError(t, err)
	cert, err := newCertificate(id)
	require.NoError(t, err)

	peer, pub, err := peerFromCerts(cert.Certificate)
	require.NoError(t, err)
	assert.Equal(t, id.ID(), peer)
	assert.Equal(t, id.PublicKey(), pub)

	_, _, err = peerFromCerts(nil)
	assert.Error(t, err)
}
