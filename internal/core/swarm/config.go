package swarm

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/FelixRiddle/swarm-weave/internal/core/metrics"
)

// Config Swarm 配置
type Config struct {
	// IdleTimeout 无流连接的空闲超时（0 = 不回收）
	IdleTimeout time.Duration

	// DialTimeout 单次拨号超时
	DialTimeout time.Duration

	// NegotiateTimeout 流协议协商超时
	NegotiateTimeout time.Duration

	// MaxExternalAddrs 外部地址上限，超出时淘汰最久未被确认的地址
	MaxExternalAddrs int
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		IdleTimeout:      60 * time.Second,
		DialTimeout:      10 * time.Second,
		NegotiateTimeout: 10 * time.Second,
		MaxExternalAddrs: 32,
	}
}

// Option Swarm 选项函数
type Option func(*Swarm)

// WithConfig 设置配置
func WithConfig(cfg Config) Option {
	return func(s *Swarm) {
		s.cfg = cfg
	}
}

// WithClock 设置时钟（测试用）
func WithClock(clk clock.Clock) Option {
	return func(s *Swarm) {
		s.clock = clk
	}
}

// WithMetrics 设置指标
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Swarm) {
		s.metrics = m
	}
}
