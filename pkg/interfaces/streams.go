package interfaces

import "github.com/FelixRiddle/swarm-weave/pkg/types"

// Stream 已协商协议的流
type Stream interface {
	MuxedStream

	// Protocol 返回协商的协议
	Protocol() types.ProtocolID

	// Conn 返回所属连接
	Conn() Connection
}

// StreamHandler 入站流处理函数，负责关闭流
type StreamHandler func(Stream)
