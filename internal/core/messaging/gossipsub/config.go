package gossipsub

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/FelixRiddle/swarm-weave/internal/core/metrics"
)

// Config GossipSub 配置
type Config struct {
	// ==================== Mesh 参数 ====================

	// D 目标 mesh 大小
	D int

	// Dlo 最小 mesh 大小，低于此值时 GRAFT
	Dlo int

	// Dhi 最大 mesh 大小，超过此值时 PRUNE
	Dhi int

	// Dlazy 每次心跳 IHAVE 的最少目标数
	Dlazy int

	// GossipFactor IHAVE 目标占候选节点的比例
	GossipFactor float64

	// ==================== 时间参数 ====================

	// HeartbeatInterval 心跳间隔
	HeartbeatInterval time.Duration

	// HeartbeatInitialDelay 首次心跳延迟
	HeartbeatInitialDelay time.Duration

	// FanoutTTL 未订阅主题的 fanout 保留时间
	FanoutTTL time.Duration

	// SeenTTL 已见消息的去重窗口
	SeenTTL time.Duration

	// SeenCapacity 去重缓存条目上限
	SeenCapacity int

	// PruneBackoff PRUNE 后禁止重新 GRAFT 的时间
	PruneBackoff time.Duration

	// HistoryLength 消息缓存窗口数（心跳周期）
	HistoryLength int

	// HistoryGossip IHAVE 通告的窗口数
	HistoryGossip int

	// ==================== 消息参数 ====================

	// MaxMessageSize 单条消息负载上限
	MaxMessageSize int

	// MaxIHaveLength 单次 IHAVE 的最大消息 ID 数
	MaxIHaveLength int

	// FloodPublish 本地发布时发给所有订阅该主题的节点
	FloodPublish bool

	// OutboundQueueSize 每个节点的发送队列长度
	OutboundQueueSize int

	// DeliveryQueueSize 投递到应用层的队列长度
	DeliveryQueueSize int

	// ==================== 依赖 ====================

	// Clock 心跳与 fanout 计时使用的时钟
	Clock clock.Clock

	// Logger 日志（nil 时使用 gossipsub 子系统日志）
	Logger *slog.Logger

	// Metrics 指标（可为 nil）
	Metrics *metrics.Metrics
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		D:                     6,
		Dlo:                   5,
		Dhi:                   12,
		Dlazy:                 6,
		GossipFactor:          0.25,
		HeartbeatInterval:     10 * time.Second,
		HeartbeatInitialDelay: 100 * time.Millisecond,
		FanoutTTL:             60 * time.Second,
		SeenTTL:               2 * time.Minute,
		SeenCapacity:          1 << 16,
		PruneBackoff:          time.Minute,
		HistoryLength:         5,
		HistoryGossip:         3,
		MaxMessageSize:        1 << 20,
		MaxIHaveLength:        5000,
		FloodPublish:          true,
		OutboundQueueSize:     64,
		DeliveryQueueSize:     256,
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.D <= 0 || c.Dlo <= 0 || c.Dhi <= 0 {
		return fmt.Errorf("gossipsub: mesh degrees must be positive")
	}
	if !(c.Dlo <= c.D && c.D <= c.Dhi) {
		return fmt.Errorf("gossipsub: mesh degrees must satisfy Dlo <= D <= Dhi (got %d, %d, %d)", c.Dlo, c.D, c.Dhi)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("gossipsub: heartbeat interval must be positive")
	}
	if c.HistoryGossip <= 0 || c.HistoryGossip > c.HistoryLength {
		return fmt.Errorf("gossipsub: history gossip must be in [1, history length]")
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("gossipsub: max message size must be positive")
	}
	if c.SeenTTL <= 0 {
		return fmt.Errorf("gossipsub: seen ttl must be positive")
	}
	return nil
}
