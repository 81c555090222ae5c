package yamux

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sessionPair(t *testing.T) (*Conn, *Conn) {
	t.Helper()
	a, b := net.Pipe()
	tr := NewTransport(nil)

	c, err := tr.NewConn(a, false)
	require.NoError(t, err)
	s, err := tr.NewConn(b, true)
	require.NoError(t, err)
	client, server := c.(*Conn), s.(*Conn)

	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return client, server
}

func TestConn_OpenAccept(t *testing.T) {
	client, server := sessionPair(t)

	accepted := make(chan []byte, 1)
	go func() {
		s, err := server.AcceptStream()
		if err != nil {
			close(accepted)
			return
		}
		data, _ := io.ReadAll(s)
		_ = s.Close()
		accepted <- data
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := client.OpenStream(ctx)
	require.NoError(t, err)
	_, err = s.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, s.CloseWrite())

	select {
	case data := <-accepted:
		assert.Equal(t, []byte("hello"), data)
	case <-time.After(5 * time.Second):
		t.Fatal("stream not accepted")
	}
}

func TestConn_Close(t *testing.T) {
	client, server := sessionPair(t)
	require.NoError(t, client.Close())
	assert.True(t, client.IsClosed())

	select {
	case <-server.CloseChan():
	case <-time.After(5 * time.Second):
		t.Fatal("server session not closed")
	}
	_, err := server.AcceptStream()
	assert.Error(t, err)
}

func TestConn_OpenStreamCancelled(t *testing.T) {
	client, _ := sessionPair(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.OpenStream(ctx)
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
}

func TestTransport_ID(t *testing.T) {
	assert.Equal(t, "/yamux/1.0.0", string(NewTransport(nil).ID()))
}
