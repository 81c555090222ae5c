package config

import (
	"errors"
	"time"
)

// NATConfig NAT 穿透配置
type NATConfig struct {
	// AutoNAT 可达性探测
	AutoNAT AutoNATConfig `json:"autonat"`

	// EnablePortMapping 启动时尝试 NAT-PMP / UPnP 端口映射
	EnablePortMapping bool `json:"enable_port_mapping"`

	// MappingLifetime 端口映射租约
	MappingLifetime Duration `json:"mapping_lifetime"`

	// STUNServers 用于获取公网 UDP 地址的 STUN 服务器（host:port）
	STUNServers []string `json:"stun_servers,omitempty"`

	// STUNTimeout 单次 STUN 查询超时
	STUNTimeout Duration `json:"stun_timeout"`
}

// AutoNATConfig 可达性探测配置
type AutoNATConfig struct {
	// ProbeInterval 探测间隔
	ProbeInterval Duration `json:"probe_interval"`

	// BootDelay 启动后首次探测的延迟
	BootDelay Duration `json:"boot_delay"`

	// ConfidenceThreshold 状态翻转所需的连续一致结果数
	ConfidenceThreshold int `json:"confidence_threshold"`

	// AllowPrivateAddrs 是否探测/回拨私网地址（局域网测试需要开启）
	AllowPrivateAddrs bool `json:"allow_private_addrs"`

	// DialBackTimeout 服务端回拨超时
	DialBackTimeout Duration `json:"dial_back_timeout"`

	// DialBackRate 服务端每秒最多处理的回拨请求数
	DialBackRate float64 `json:"dial_back_rate"`
}

// DefaultNATConfig 返回默认 NAT 配置
func DefaultNATConfig() NATConfig {
	return NATConfig{
		AutoNAT: AutoNATConfig{
			ProbeInterval:       Duration(90 * time.Second),
			BootDelay:           Duration(15 * time.Second),
			ConfidenceThreshold: 3,
			AllowPrivateAddrs:   true,
			DialBackTimeout:     Duration(15 * time.Second),
			DialBackRate:        2,
		},
		MappingLifetime: Duration(time.Hour),
		STUNTimeout:     Duration(5 * time.Second),
	}
}

// Validate 验证 NAT 配置
func (c NATConfig) Validate() error {
	if c.AutoNAT.ProbeInterval <= 0 || c.AutoNAT.DialBackTimeout <= 0 {
		return errors.New("nat: probe_interval and dial_back_timeout must be positive")
	}
	if c.AutoNAT.ConfidenceThreshold < 1 {
		return errors.New("nat: confidence_threshold must be at least 1")
	}
	if c.AutoNAT.DialBackRate <= 0 {
		return errors.New("nat: dial_back_rate must be positive")
	}
	if c.EnablePortMapping && c.MappingLifetime <= 0 {
		return errors.New("nat: mapping_lifetime must be positive")
	}
	return nil
}
