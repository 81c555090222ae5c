package config

import (
	"errors"
	"strings"
	"time"
)

// DiscoveryConfig 局域网发现配置（mDNS）
type DiscoveryConfig struct {
	// EnableMDNS 启用 mDNS
	EnableMDNS bool `json:"enable_mdns"`

	// ServiceTag mDNS 服务名
	ServiceTag string `json:"service_tag"`

	// Domain mDNS 域
	Domain string `json:"domain"`

	// QueryInterval 查询间隔
	QueryInterval Duration `json:"query_interval"`

	// TTL 发现记录的有效期，过期后发出 Expired 事件
	TTL Duration `json:"ttl"`

	// Interface 指定网卡（为空则使用所有网卡）
	Interface string `json:"interface,omitempty"`

	// DisableIPv6 查询时禁用 IPv6
	DisableIPv6 bool `json:"disable_ipv6"`
}

// DefaultDiscoveryConfig 返回默认发现配置
func DefaultDiscoveryConfig() DiscoveryConfig {
	return DiscoveryConfig{
		EnableMDNS:    true,
		ServiceTag:    "_p2p._udp",
		Domain:        "local.",
		QueryInterval: Duration(5 * time.Minute),
		TTL:           Duration(6 * time.Minute),
		DisableIPv6:   true,
	}
}

// Validate 验证发现配置
func (c DiscoveryConfig) Validate() error {
	if !c.EnableMDNS {
		return nil
	}
	if !strings.HasPrefix(c.ServiceTag, "_") {
		return errors.New("discovery: service_tag must start with '_'")
	}
	if c.QueryInterval <= 0 || c.TTL <= 0 {
		return errors.New("discovery: query_interval and ttl must be positive")
	}
	if c.TTL < c.QueryInterval {
		return errors.New("discovery: ttl must not be shorter than query_interval")
	}
	return nil
}
