package ping

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FelixRiddle/swarm-weave/internal/core/identity"
	"github.com/FelixRiddle/swarm-weave/internal/core/metrics"
	"github.com/FelixRiddle/swarm-weave/internal/core/muxer/yamux"
	"github.com/FelixRiddle/swarm-weave/internal/core/peerstore"
	"github.com/FelixRiddle/swarm-weave/internal/core/security/noise"
	"github.com/FelixRiddle/swarm-weave/internal/core/swarm"
	"github.com/FelixRiddle/swarm-weave/internal/core/transport/tcp"
	"github.com/FelixRiddle/swarm-weave/internal/core/upgrader"
	"github.com/FelixRiddle/swarm-weave/internal/util/logger"
	pkgif "github.com/FelixRiddle/swarm-weave/pkg/interfaces"
	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

// echoRW 将写入的数据原样读回
type echoRW struct {
	buf bytes.Buffer
}

func (e *echoRW) Write(p []byte) (int, error) { return e.buf.Write(p) }
func (e *echoRW) Read(p []byte) (int, error) { return e.buf.Read(p) }

// corruptRW 读回时翻转首字节
type corruptRW struct {
	echoRW
}

func (c *corruptRW) Read(p []byte) (int, error) {
	n, err := c.echoRW.Read(p)
	if n > 0 {
		p[0] ^= 0xFF
	}
	return n, err
}

func TestPingOnce(t *testing.T) {
	rtt, err := pingOnce(&echoRW{})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, rtt, time.Duration(0))

	_, err = pingOnce(&corruptRW{})
	assert.ErrorIs(t, err, ErrDataMismatch)
}

func newSwarm(t *testing.T, seed byte) *swarm.Swarm {
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
	return s
}

func connect(t *testing.T, a, b *swarm.Swarm) {
	t.Helper()
	addr, err := b.Listen(types.MustParseMultiaddr("/ip4/127.0.0.1/tcp/0"))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = a.Dial(ctx, b.LocalPeer(), addr)
	require.NoError(t, err)
}

func newService(t *testing.T, s *swarm.Swarm, mutate func(*Config)) *Service {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Logger = logger.Discard()
	if mutate != nil {
		mutate(&cfg)
	}
	svc := New(s, cfg)
	svc.Start()
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestService_Ping(t *testing.T) {
	a, b := newSwarm(t, 1), newSwarm(t, 2)
	m := metrics.New("test")
	pa := newService(t, a, func(c *Config) { c.Interval = 0; c.Metrics = m })
	newService(t, b, func(c *Config) { c.Interval = 0 })
	connect(t, a, b)

	rtt, err := pa.Ping(context.Background(), b.LocalPeer())
	require.NoError(t, err)
	assert.Greater(t, rtt, time.Duration(0))
	n, err := testutil.GatherAndCount(m.Registry(), "test_liveness_rtt_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestService_PingUnsupported(t *testing.T) {
	a, b := newSwarm(t, 1), newSwarm(t, 2)
	pa := newService(t, a, func(c *Config) { c.Interval = 0 })
	connect(t, a, b)

	_, err := pa.Ping(context.Background(), b.LocalPeer())
	assert.Error(t, err)
}

func TestService_PeriodicEvents(t *testing.T) {
	a, b := newSwarm(t, 1), newSwarm(t, 2)
	clk := clock.NewMock()
	pa := newService(t, a, func(c *Config) { c.Clock = clk })
	newService(t, b, func(c *Config) { c.Interval = 0 })
	connect(t, a, b)

	var ev Event
	require.Eventually(t, func() bool {
		clk.Add(DefaultConfig().Interval)
		select {
		case ev = <-pa.Events():
			return true
		default:
			return false
		}
	}, 10*time.Second, 50*time.Millisecond)

	assert.Equal(t, b.LocalPeer(), ev.Peer)
	assert.NoError(t, ev.Err)
}

func TestService_Closed(t *testing.T) {
	svc := newService(t, newSwarm(t, 1), nil)
	require.NoError(t, svc.Close())
	_, err := svc.Ping(context.Background(), types.PeerID{1})
	assert.ErrorIs(t, err, ErrClosed)
}
