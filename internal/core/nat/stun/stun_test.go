package stun

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pion/stun"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startServer 启动只应答 Binding 请求的本地 STUN 服务器
//
// reply 为 nil 时回填请求方的源地址。
func startServer(t *testing.T, reply *net.UDPAddr) string {
	t.Helper()
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 1500)
		for {
			n, from, err := conn.ReadFrom(buf)
			if err != nil {
				return
			}
			req := &stun.Message{Raw: append([]byte(nil), buf[:n]...)}
			if err := req.Decode(); err != nil {
				continue
			}
			mapped := from.(*net.UDPAddr)
			if reply != nil {
				mapped = reply
			}
			res, err := stun.Build(
				stun.NewTransactionIDSetter(req.TransactionID),
				stun.BindingSuccess,
				&stun.XORMappedAddress{IP: mapped.IP, Port: mapped.Port},
				stun.Fingerprint,
			)
			if err != nil {
				continue
			}
			_, _ = conn.WriteTo(res.Raw, from)
		}
	}()
	return conn.LocalAddr().String()
}

func TestQuery_ReturnsMappedAddress(t *testing.T) {
	want := &net.UDPAddr{IP: net.ParseIP("203.0.113.7").To4(), Port: 40123}
	server := startServer(t, want)

	c := NewClient([]string{server}, time.Second)
	got, err := c.Query(context.Background(), server)
	require.NoError(t, err)
	assert.True(t, want.IP.Equal(got.IP))
	assert.Equal(t, want.Port, got.Port)
}

func TestExternalAddr_FallsBackToNextServer(t *testing.T) {
	dead, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	deadAddr := dead.LocalAddr().String()
	dead.Close()

	server := startServer(t, nil)
	c := NewClient([]string{deadAddr, server}, 300*time.Millisecond)

	got, err := c.ExternalAddr(context.Background())
	require.NoError(t, err)
	assert.True(t, got.IP.IsLoopback())
	assert.NotZero(t, got.Port)
}

func TestExternalAddr_NoServers(t *testing.T) {
	_, err := NewClient(nil, 0).ExternalAddr(context.Background())
	assert.ErrorIs(t, err, ErrNoServers)
}

func TestQuery_ContextCancelled(t *testing.T) {
	silent, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer silent.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	_, err = NewClient(nil, 5*time.Second).Query(ctx, silent.LocalAddr().String())
	assert.ErrorIs(t, err, context.Canceled)
}
