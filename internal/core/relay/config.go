package relay

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/FelixRiddle/swarm-weave/internal/core/metrics"
)

// Config 中继服务配置
type Config struct {
	// ReservationTTL 预留有效期
	ReservationTTL time.Duration

	// MaxReservations 最大预留数（0 = 不接受预留）
	MaxReservations int

	// MaxReservationsPerIP 同一来源 IP 的最大预留数（0 = 不限制）
	MaxReservationsPerIP int

	// MaxCircuits 最大活跃电路数
	MaxCircuits int

	// MaxCircuitsPerPeer 单节点（作为源或目标）最大电路数（0 = 不限制）
	MaxCircuitsPerPeer int

	// CircuitDuration 电路最长持续时间
	CircuitDuration time.Duration

	// CircuitBytes 电路每个方向最多转发的字节数（0 = 不限制）
	CircuitBytes int64

	// RequestRate 每秒允许的 RESERVE/CONNECT 请求数（0 = 不限制）
	RequestRate float64

	// RequestBurst 请求突发上限
	RequestBurst int

	// Bandwidth 所有电路合计转发速率，字节/秒（0 = 不限制）
	Bandwidth int64

	// HandshakeTimeout hop/stop 报文交换超时
	HandshakeTimeout time.Duration

	// EventQueueSize 事件队列长度
	EventQueueSize int

	// Clock 预留过期与电路时限使用的时钟
	Clock clock.Clock

	// Logger 日志（nil 时使用 relay 子系统日志）
	Logger *slog.Logger

	// Metrics 指标（可为 nil）
	Metrics *metrics.Metrics
}

// DefaultConfig 返回默认配置，电路限制与 circuit v2 默认值一致
func DefaultConfig() Config {
	return Config{
		ReservationTTL:       time.Hour,
		MaxReservations:      128,
		MaxReservationsPerIP: 4,
		MaxCircuits:          16,
		MaxCircuitsPerPeer:   4,
		CircuitDuration:      2 * time.Minute,
		CircuitBytes:         128 << 10,
		RequestBurst:         8,
		HandshakeTimeout:     30 * time.Second,
		EventQueueSize:       16,
	}
}

// Validate 验证配置
func (c Config) Validate() error {
	if c.ReservationTTL <= 0 || c.CircuitDuration <= 0 {
		return fmt.Errorf("%w: reservation ttl and circuit duration must be positive", ErrInvalidConfig)
	}
	if c.MaxReservations < 0 || c.MaxReservationsPerIP < 0 || c.MaxCircuits < 0 || c.MaxCircuitsPerPeer < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidConfig)
	}
	if c.CircuitBytes < 0 || c.Bandwidth < 0 || c.RequestRate < 0 {
		return fmt.Errorf("%w: negative rate", ErrInvalidConfig)
	}
	if c.RequestRate > 0 && c.RequestBurst < 1 {
		return fmt.Errorf("%w: request burst must be positive", ErrInvalidConfig)
	}
	return nil
}

// Options 中继传输（客户端）选项
type Options struct {
	// HandshakeTimeout hop/stop 交换与电路升级超时
	HandshakeTimeout time.Duration

	// RetryInterval 续租失败后的重试间隔
	RetryInterval time.Duration

	// Clock 续租使用的时钟
	Clock clock.Clock

	// Logger 日志（nil 时使用 relay 子系统日志）
	Logger *slog.Logger
}

func (o *Options) setDefaults() {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 30 * time.Second
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = 30 * time.Second
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Logger == nil {
		o.Logger = log
	}
}
