package mdns

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/FelixRiddle/swarm-weave/internal/core/metrics"
)

const (
	// DefaultServiceTag 服务标签
	DefaultServiceTag = "_p2p._udp"

	// DefaultDomain mDNS 域
	DefaultDomain = "local."
)

// Config mDNS 配置
type Config struct {
	// ServiceTag 服务标签，同标签的节点互相发现
	ServiceTag string

	// Domain 域名
	Domain string

	// TTL 节点未再出现多久后过期
	TTL time.Duration

	// QueryInterval 查询间隔
	QueryInterval time.Duration

	// QueryTimeout 单次查询等待响应的时间
	QueryTimeout time.Duration

	// Interface 指定网络接口（空表示所有接口）
	Interface string

	// DisableIPv6 禁用 IPv6
	DisableIPv6 bool

	// EventQueueSize 事件队列长度
	EventQueueSize int

	// Clock 查询与过期计时
	Clock clock.Clock

	// Logger 日志（nil 时使用 discovery/mdns 子系统日志）
	Logger *slog.Logger

	// Metrics 指标（可为 nil）
	Metrics *metrics.Metrics
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		ServiceTag:     DefaultServiceTag,
		Domain:         DefaultDomain,
		TTL:            6 * time.Minute,
		QueryInterval:  5 * time.Minute,
		QueryTimeout:   5 * time.Second,
		DisableIPv6:    true,
		EventQueueSize: 64,
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.ServiceTag == "" {
		return fmt.Errorf("%w: empty service tag", ErrInvalidConfig)
	}
	if c.TTL <= 0 || c.QueryInterval <= 0 || c.QueryTimeout <= 0 {
		return fmt.Errorf("%w: ttl, query interval and query timeout must be positive", ErrInvalidConfig)
	}
	if c.QueryTimeout >= c.QueryInterval {
		return fmt.Errorf("%w: query timeout must be shorter than query interval", ErrInvalidConfig)
	}
	return nil
}
