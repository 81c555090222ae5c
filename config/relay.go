package config

import (
	"errors"
	"time"
)

// RelayConfig 中继服务配置（单跳）
//
// 是否作为中继由 NodeConfig.Relay 决定，这里只描述资源限制。
type RelayConfig struct {
	// ReservationTTL 预留有效期，客户端需在过期前续租
	ReservationTTL Duration `json:"reservation_ttl"`

	// MaxReservations 最大预留数
	MaxReservations int `json:"max_reservations"`

	// MaxReservationsPerIP 同一来源 IP 的最大预留数
	MaxReservationsPerIP int `json:"max_reservations_per_ip"`

	// MaxCircuits 最大活跃电路数
	MaxCircuits int `json:"max_circuits"`

	// MaxCircuitsPerPeer 单节点最大电路数
	MaxCircuitsPerPeer int `json:"max_circuits_per_peer"`

	// CircuitDuration 单条电路最长持续时间
	CircuitDuration Duration `json:"circuit_duration"`

	// CircuitBytes 单条电路每个方向最大转发字节数
	CircuitBytes int64 `json:"circuit_bytes"`

	// RequestRate 每秒允许的 RESERVE/CONNECT 请求数（0 = 不限制）
	RequestRate float64 `json:"request_rate"`

	// Bandwidth 所有电路合计转发速率，字节/秒（0 = 不限制）
	Bandwidth int64 `json:"bandwidth"`
}

// DefaultRelayConfig 返回默认中继配置
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		ReservationTTL:       Duration(time.Hour),
		MaxReservations:      128,
		MaxReservationsPerIP: 4,
		MaxCircuits:          16,
		MaxCircuitsPerPeer:   4,
		CircuitDuration:      Duration(2 * time.Minute),
		CircuitBytes:         128 << 10,
	}
}

// Validate 验证中继配置
func (c RelayConfig) Validate() error {
	if c.ReservationTTL <= 0 || c.CircuitDuration <= 0 {
		return errors.New("relay: reservation_ttl and circuit_duration must be positive")
	}
	if c.MaxReservations < 0 || c.MaxReservationsPerIP < 0 ||
		c.MaxCircuits < 0 || c.MaxCircuitsPerPeer < 0 {
		return errors.New("relay: limits must not be negative")
	}
	if c.CircuitBytes < 0 || c.RequestRate < 0 || c.Bandwidth < 0 {
		return errors.New("relay: circuit_bytes, request_rate and bandwidth must not be negative")
	}
	return nil
}
