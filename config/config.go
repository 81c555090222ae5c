// Package config 提供统一的配置管理
//
// 本包采用混合配置模式：
//   - 主 Config 结构体嵌入所有子配置
//   - 每个子配置在独立文件中定义，带 DefaultXxxConfig 与 Validate
//   - 支持从 JSON 加载，环境变量覆盖
//
// 优先级：命令行 > 环境变量 > 配置文件 > 默认值。
//
// 使用示例：
//
//	cfg, err := config.Load("swarm.json")
//	if err != nil {
//	    return err
//	}
//	if err := cfg.ApplyEnv(os.Getenv); err != nil {
//	    return err
//	}
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config 是 swarm-weave 的完整配置结构
type Config struct {
	// Node 进程参数（角色、端口、种子、引导节点）
	Node NodeConfig `json:"node"`

	// Identity 身份配置
	Identity IdentityConfig `json:"identity"`

	// Transport 传输层配置
	Transport TransportConfig `json:"transport"`

	// Gossip 广播消息配置
	Gossip GossipConfig `json:"gossip"`

	// Discovery 局域网发现配置
	Discovery DiscoveryConfig `json:"discovery"`

	// NAT 可达性探测与端口映射
	NAT NATConfig `json:"nat"`

	// Relay 中继限制
	Relay RelayConfig `json:"relay"`

	// Liveness 存活探测
	Liveness LivenessConfig `json:"liveness"`

	// Log 日志
	Log LogConfig `json:"log"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		Node:      DefaultNodeConfig(),
		Identity:  DefaultIdentityConfig(),
		Transport: DefaultTransportConfig(),
		Gossip:    DefaultGossipConfig(),
		Discovery: DefaultDiscoveryConfig(),
		NAT:       DefaultNATConfig(),
		Relay:     DefaultRelayConfig(),
		Liveness:  DefaultLivenessConfig(),
		Log:       DefaultLogConfig(),
	}
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	validators := []interface{ Validate() error }{
		c.Node, c.Identity, c.Transport, c.Gossip,
		c.Discovery, c.NAT, c.Relay, c.Liveness,
	}
	for _, v := range validators {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// FromJSON 在默认配置之上解析 JSON
func FromJSON(data []byte) (*Config, error) {
	cfg := NewConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Load 从文件加载配置；path 为空时返回默认配置
func Load(path string) (*Config, error) {
	if path == "" {
		return NewConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return FromJSON(data)
}

// ToJSON 序列化配置
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}
