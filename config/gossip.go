package config

import (
	"errors"
	"time"
)

// 主题名
const (
	// PrimaryTopic 主消息主题
	PrimaryTopic = "chat-net"
	// DiagnosticTopic 测试模式下的诊断主题
	DiagnosticTopic = "test-chat"
)

// GossipConfig 广播消息（GossipSub）配置
type GossipConfig struct {
	// HeartbeatInterval 心跳间隔
	HeartbeatInterval Duration `json:"heartbeat_interval"`

	// D 目标 mesh 度
	D int `json:"d"`
	// Dlo mesh 度下限
	Dlo int `json:"dlo"`
	// Dhi mesh 度上限
	Dhi int `json:"dhi"`
	// Dlazy 每次心跳发送 IHAVE 的节点数
	Dlazy int `json:"dlazy"`

	// HistoryLength 消息缓存保留的心跳窗口数
	HistoryLength int `json:"history_length"`
	// HistoryGossip IHAVE 中通告的窗口数
	HistoryGossip int `json:"history_gossip"`

	// FanoutTTL 未订阅主题的 fanout 保留时间
	FanoutTTL Duration `json:"fanout_ttl"`

	// SeenTTL 去重缓存有效期
	SeenTTL Duration `json:"seen_ttl"`

	// SeenCapacity 去重缓存容量
	SeenCapacity int `json:"seen_capacity"`

	// MaxMessageSize 单条消息负载上限（字节）
	MaxMessageSize int `json:"max_message_size"`

	// PeerOutboundQueue 每个节点的发送队列长度
	PeerOutboundQueue int `json:"peer_outbound_queue"`
}

// DefaultGossipConfig 返回默认配置
func DefaultGossipConfig() GossipConfig {
	return GossipConfig{
		HeartbeatInterval: Duration(10 * time.Second),
		D:                 6,
		Dlo:               5,
		Dhi:               12,
		Dlazy:             6,
		HistoryLength:     5,
		HistoryGossip:     3,
		FanoutTTL:         Duration(60 * time.Second),
		SeenTTL:           Duration(2 * time.Minute),
		SeenCapacity:      8192,
		MaxMessageSize:    1 << 20,
		PeerOutboundQueue: 32,
	}
}

// Validate 验证 GossipSub 配置
func (c GossipConfig) Validate() error {
	if c.HeartbeatInterval <= 0 {
		return errors.New("gossip: heartbeat_interval must be positive")
	}
	if !(c.Dlo <= c.D && c.D <= c.Dhi) || c.Dlo < 1 {
		return errors.New("gossip: require 1 <= dlo <= d <= dhi")
	}
	if c.HistoryGossip > c.HistoryLength || c.HistoryGossip < 1 {
		return errors.New("gossip: require 1 <= history_gossip <= history_length")
	}
	if c.SeenTTL <= 0 || c.SeenCapacity <= 0 {
		return errors.New("gossip: seen_ttl and seen_capacity must be positive")
	}
	if c.MaxMessageSize <= 0 || c.PeerOutboundQueue <= 0 {
		return errors.New("gossip: max_message_size and peer_outbound_queue must be positive")
	}
	return nil
}

// LivenessConfig 存活探测（ping）配置
type LivenessConfig struct {
	// Interval 探测间隔
	Interval Duration `json:"interval"`
	// Timeout 单次探测超时
	Timeout Duration `json:"timeout"`
}

// DefaultLivenessConfig 返回默认配置
func DefaultLivenessConfig() LivenessConfig {
	return LivenessConfig{
		Interval: Duration(15 * time.Second),
		Timeout:  Duration(20 * time.Second),
	}
}

// Validate 验证存活探测配置
func (c LivenessConfig) Validate() error {
	if c.Interval <= 0 || c.Timeout <= 0 {
		return errors.New("liveness: interval and timeout must be positive")
	}
	return nil
}

// LogConfig 日志配置
type LogConfig struct {
	// Level 日志级别：debug/info/warn/error
	Level string `json:"level"`
	// Format 输出格式：text/json
	Format string `json:"format"`
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{Level: "info", Format: "text"}
}
