package nat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
)

// Config 可达性服务配置
type Config struct {
	// ProbeInterval 探测间隔
	ProbeInterval time.Duration

	// BootDelay 启动后首次探测的延迟
	BootDelay time.Duration

	// ConfidenceThreshold 状态翻转所需的连续一致结果数
	ConfidenceThreshold int

	// AllowPrivateAddrs 服务端是否回拨私网地址
	AllowPrivateAddrs bool

	// EnableServer 是否应答回拨请求（客户端角色关闭）
	EnableServer bool

	// DialBackTimeout 单次回拨超时
	DialBackTimeout time.Duration

	// DialBackRate 每秒允许的回拨请求数
	DialBackRate float64

	// DialBackBurst 回拨突发上限
	DialBackBurst int

	// MaxDialAddrs 单次请求最多回拨的地址数
	MaxDialAddrs int

	// EnablePortMapping 启用 NAT-PMP / UPnP 端口映射
	EnablePortMapping bool

	// MappingLifetime 映射租约，租约过半时续约
	MappingLifetime time.Duration

	// MappingTimeout 网关发现与映射请求超时
	MappingTimeout time.Duration

	// STUNServers STUN 服务器（host:port），为空则不查询
	STUNServers []string

	// STUNTimeout 单个 STUN 服务器查询超时
	STUNTimeout time.Duration

	// EventQueueSize 事件队列长度
	EventQueueSize int

	// DiscoverMapper 查找端口映射器，nil 时依次尝试 NAT-PMP 与 UPnP
	DiscoverMapper func(ctx context.Context) (PortMapper, error)

	// Clock 探测与续约使用的时钟
	Clock clock.Clock

	// Logger 日志（nil 时使用 nat 子系统日志）
	Logger *slog.Logger
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		ProbeInterval:       90 * time.Second,
		BootDelay:           15 * time.Second,
		ConfidenceThreshold: 3,
		AllowPrivateAddrs:   true,
		EnableServer:        true,
		DialBackTimeout:     15 * time.Second,
		DialBackRate:        2,
		DialBackBurst:       4,
		MaxDialAddrs:        16,
		MappingLifetime:     time.Hour,
		MappingTimeout:      5 * time.Second,
		STUNTimeout:         5 * time.Second,
		EventQueueSize:      16,
	}
}

// Validate 验证配置
func (c Config) Validate() error {
	if c.ProbeInterval <= 0 || c.DialBackTimeout <= 0 {
		return fmt.Errorf("%w: probe interval and dial-back timeout must be positive", ErrInvalidConfig)
	}
	if c.BootDelay < 0 {
		return fmt.Errorf("%w: negative boot delay", ErrInvalidConfig)
	}
	if c.ConfidenceThreshold < 1 {
		return fmt.Errorf("%w: confidence threshold must be at least 1", ErrInvalidConfig)
	}
	if c.EnableServer && (c.DialBackRate <= 0 || c.DialBackBurst < 1) {
		return fmt.Errorf("%w: dial-back rate and burst must be positive", ErrInvalidConfig)
	}
	if c.EnablePortMapping && c.MappingLifetime < 2*time.Second {
		return fmt.Errorf("%w: mapping lifetime too short", ErrInvalidConfig)
	}
	return nil
}
