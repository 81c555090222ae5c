package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New("test")

	m.MessagePublished("chat-net", 5)
	m.MessagePublished("chat-net", 7)
	m.MessageDelivered("chat-net", 5)
	m.MessageRejected(RejectInvalidSignature)
	m.MessageDuplicate()
	m.PeerDiscovered()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.published.WithLabelValues("chat-net")))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.bytesOut.WithLabelValues("gossip")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.delivered.WithLabelValues("chat-net")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejected.WithLabelValues(RejectInvalidSignature)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.duplicates))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.discovered))
}

func TestMetrics_Gauges(t *testing.T) {
	m := New("test")

	m.ConnOpened("tcp")
	m.ConnOpened("tcp")
	m.ConnClosed("tcp")
	m.CircuitOpened()
	m.SetReservations(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.connections.WithLabelValues("tcp")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.circuits))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.reservations))
}

func TestMetrics_Histogram(t *testing.T) {
	m := New("test")
	m.PingRTT(10 * time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(m.pingRTT))
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	a := New("node")
	b := New("node")
	a.PeerDiscovered()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.discovered))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.discovered))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.MessagePublished("t", 1)
		m.MessageRejected(RejectTooLarge)
		m.ConnOpened("tcp")
		m.PingRTT(time.Second)
		m.SetReservations(1)
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_Handler(t *testing.T) {
	m := New("test")
	m.MessagePublished("chat-net", 1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `test_gossip_published_total{topic="chat-net"} 1`)
}
