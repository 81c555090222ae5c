package config

import (
	"errors"
	"fmt"

	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

// Role 节点角色
type Role string

const (
	// RoleServer 完整节点：应答可达性回拨，可担任中继
	RoleServer Role = "server"
	// RoleClient 客户端节点：不应答回拨，不担任中继
	RoleClient Role = "client"
)

// NodeConfig 进程级节点参数，进程生命周期内不可变
type NodeConfig struct {
	// Role 节点角色
	Role Role `json:"role"`

	// Relay 是否作为中继节点
	Relay bool `json:"relay"`

	// UseIPv6 监听地址使用 IPv6 族
	UseIPv6 bool `json:"use_ipv6"`

	// ListenPort 主监听端口（0 = 随机）
	ListenPort uint16 `json:"listen_port"`

	// RelayPort 中继专用监听端口（0 = 随机），仅中继角色使用
	RelayPort uint16 `json:"relay_port"`

	// KeySeed 确定性身份种子（仅测试使用）
	KeySeed *uint8 `json:"key_seed,omitempty"`

	// BootstrapAddress 引导节点地址
	BootstrapAddress string `json:"bootstrap_address,omitempty"`

	// BootstrapPeerID 引导节点 ID
	BootstrapPeerID string `json:"bootstrap_peer_id,omitempty"`

	// TestMode 测试模式：额外订阅诊断主题
	TestMode bool `json:"test_mode"`
}

// DefaultNodeConfig 返回默认节点参数
func DefaultNodeConfig() NodeConfig {
	return NodeConfig{Role: RoleServer}
}

// Validate 验证节点参数
func (c NodeConfig) Validate() error {
	switch c.Role {
	case RoleServer, RoleClient:
	default:
		return fmt.Errorf("node: unknown role %q", c.Role)
	}
	if c.Relay && c.Role == RoleClient {
		return errors.New("node: client role cannot act as relay")
	}
	if c.Relay && c.RelayPort != 0 && c.RelayPort == c.ListenPort {
		return errors.New("node: relay_port must differ from listen_port")
	}
	if (c.BootstrapAddress == "") != (c.BootstrapPeerID == "") {
		return errors.New("node: bootstrap_address and bootstrap_peer_id must be set together")
	}
	if c.BootstrapAddress != "" {
		if _, err := types.ParseMultiaddr(c.BootstrapAddress); err != nil {
			return fmt.Errorf("node: bootstrap_address: %w", err)
		}
		if _, err := types.ParsePeerID(c.BootstrapPeerID); err != nil {
			return fmt.Errorf("node: bootstrap_peer_id: %w", err)
		}
	}
	return nil
}

// Seed 返回种子值与是否设置
func (c NodeConfig) Seed() (byte, bool) {
	if c.KeySeed == nil {
		return 0, false
	}
	return *c.KeySeed, true
}
