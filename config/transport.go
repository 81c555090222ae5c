package config

import (
	"errors"
	"time"
)

// TransportConfig 传输层配置
type TransportConfig struct {
	// EnableTCP 启用 TCP（Noise + Yamux）
	EnableTCP bool `json:"enable_tcp"`

	// EnableQUIC 启用 QUIC（quic-v1）
	EnableQUIC bool `json:"enable_quic"`

	// IdleTimeout 无流连接的空闲超时
	IdleTimeout Duration `json:"idle_timeout"`

	// HandshakeTimeout 安全握手与多路复用协商超时
	HandshakeTimeout Duration `json:"handshake_timeout"`

	// DialTimeout 拨号超时
	DialTimeout Duration `json:"dial_timeout"`

	// ReusePort TCP 监听是否设置 SO_REUSEPORT
	//
	// 默认关闭，端口被占用时监听失败。
	ReusePort bool `json:"reuse_port"`
}

// DefaultTransportConfig 返回默认传输配置
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		EnableTCP:        true,
		EnableQUIC:       true,
		IdleTimeout:      Duration(60 * time.Second),
		HandshakeTimeout: Duration(15 * time.Second),
		DialTimeout:      Duration(10 * time.Second),
	}
}

// Validate 验证传输配置
func (c TransportConfig) Validate() error {
	if !c.EnableTCP && !c.EnableQUIC {
		return errors.New("transport: at least one transport must be enabled (QUIC or TCP)")
	}
	if c.IdleTimeout <= 0 {
		return errors.New("transport: idle_timeout must be positive")
	}
	if c.HandshakeTimeout <= 0 || c.DialTimeout <= 0 {
		return errors.New("transport: handshake_timeout and dial_timeout must be positive")
	}
	return nil
}
