package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 消息拒绝原因
const (
	RejectMissingSignature = "missing_signature"
	RejectInvalidSignature = "invalid_signature"
	RejectTooLarge         = "too_large"
	RejectSelfOrigin       = "self_origin"
)

// Metrics 节点指标
type Metrics struct {
	reg *prometheus.Registry

	published  *prometheus.CounterVec
	delivered  *prometheus.CounterVec
	rejected   *prometheus.CounterVec
	duplicates prometheus.Counter
	bytesOut   *prometheus.CounterVec
	bytesIn    *prometheus.CounterVec

	connections *prometheus.GaugeVec
	discovered  prometheus.Counter
	expired     prometheus.Counter
	pingRTT     prometheus.Histogram

	circuits     prometheus.Gauge
	reservations prometheus.Gauge
}

// New 创建指标集合并注册到新的 Registry
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,

		published: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gossip",
			Name:      "published_total",
			Help:      "Messages published by this node",
		}, []string{"topic"}),
		delivered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gossip",
			Name:      "delivered_total",
			Help:      "Messages delivered to the application",
		}, []string{"topic"}),
		rejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gossip",
			Name:      "rejected_total",
			Help:      "Messages rejected before delivery",
		}, []string{"reason"}),
		duplicates: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gossip",
			Name:      "duplicates_total",
			Help:      "Messages dropped as already seen",
		}),
		bytesOut: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bandwidth",
			Name:      "sent_bytes_total",
			Help:      "Bytes written per protocol",
		}, []string{"protocol"}),
		bytesIn: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bandwidth",
			Name:      "received_bytes_total",
			Help:      "Bytes read per protocol",
		}, []string{"protocol"}),

		connections: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "swarm",
			Name:      "connections",
			Help:      "Open connections by transport",
		}, []string{"transport"}),
		discovered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "discovered_total",
			Help:      "Peers discovered on the local network",
		}),
		expired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "expired_total",
			Help:      "Discovered peers that expired",
		}),
		pingRTT: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "liveness",
			Name:      "rtt_seconds",
			Help:      "Ping round-trip time",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),

		circuits: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "circuits",
			Help:      "Active relayed circuits",
		}),
		reservations: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "reservations",
			Help:      "Active relay reservations",
		}),
	}
}

// Registry 返回底层 Registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler 返回暴露本节点指标的 HTTP 处理器
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// ============================================================================
//                              消息
// ============================================================================

// MessagePublished 记录本地发布
func (m *Metrics) MessagePublished(topic string, size int) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(topic).Inc()
	m.bytesOut.WithLabelValues("gossip").Add(float64(size))
}

// MessageDelivered 记录投递到应用层
func (m *Metrics) MessageDelivered(topic string, size int) {
	if m == nil {
		return
	}
	m.delivered.WithLabelValues(topic).Inc()
	m.bytesIn.WithLabelValues("gossip").Add(float64(size))
}

// MessageRejected 记录被拒绝的消息
func (m *Metrics) MessageRejected(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}

// MessageDuplicate 记录重复消息
func (m *Metrics) MessageDuplicate() {
	if m == nil {
		return
	}
	m.duplicates.Inc()
}

// ============================================================================
//                              连接与发现
// ============================================================================

// ConnOpened 连接建立
func (m *Metrics) ConnOpened(transport string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(transport).Inc()
}

// ConnClosed 连接关闭
func (m *Metrics) ConnClosed(transport string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(transport).Dec()
}

// PeerDiscovered 发现节点
func (m *Metrics) PeerDiscovered() {
	if m == nil {
		return
	}
	m.discovered.Inc()
}

// PeerExpired 发现记录过期
func (m *Metrics) PeerExpired() {
	if m == nil {
		return
	}
	m.expired.Inc()
}

// PingRTT 记录往返时延
func (m *Metrics) PingRTT(rtt time.Duration) {
	if m == nil {
		return
	}
	m.pingRTT.Observe(rtt.Seconds())
}

// ============================================================================
//                              中继
// ============================================================================

// CircuitOpened 中继电路建立
func (m *Metrics) CircuitOpened() {
	if m == nil {
		return
	}
	m.circuits.Inc()
}

// CircuitClosed 中继电路关闭
func (m *Metrics) CircuitClosed() {
	if m == nil {
		return
	}
	m.circuits.Dec()
}

// SetReservations 设置当前预约数
func (m *Metrics) SetReservations(n int) {
	if m == nil {
		return
	}
	m.reservations.Set(float64(n))
}
