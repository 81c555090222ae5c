package interfaces

import (
	"context"
	"net"

	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

// Upgrader 将原始连接升级为 Connection
//
// 升级流程：
//  1. multistream-select 协商安全协议（/noise）
//  2. 安全握手，验证远端身份
//  3. multistream-select 协商多路复用协议（/yamux/1.0.0）
type Upgrader interface {
	// Upgrade 升级连接
	//
	// 出站时 remotePeer 必须提供，入站时可为空。
	// transport 为连接所属传输的名称。
	Upgrade(ctx context.Context, conn net.Conn, dir Direction, remotePeer types.PeerID, transport string) (Connection, error)
}
