// Package yamux 提供基于 hashicorp/yamux 的流多路复用
package yamux

import (
	"io"
	"time"

	"github.com/hashicorp/yamux"
)

// DefaultConfig 返回默认的 yamux 配置
func DefaultConfig() *yamux.Config {
	return &yamux.Config{
		AcceptBacklog:          256,
		EnableKeepAlive:        true,
		KeepAliveInterval:      30 * time.Second,
		ConnectionWriteTimeout: 10 * time.Second,
		MaxStreamWindowSize:    256 * 1024,
		StreamOpenTimeout:      75 * time.Second,
		StreamCloseTimeout:     5 * time.Minute,
		LogOutput:              io.Discard,
	}
}
