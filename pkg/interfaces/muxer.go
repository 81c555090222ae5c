package interfaces

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

// StreamMuxer 流多路复用协议
type StreamMuxer interface {
	// ID 返回多路复用协议标识
	ID() types.ProtocolID

	// NewConn 在安全连接上创建多路复用连接
	NewConn(conn net.Conn, isServer bool) (MuxedConn, error)
}

// MuxedStream 定义多路复用流接口
type MuxedStream interface {
	io.ReadWriteCloser

	// CloseWrite 关闭写端（半关闭）
	CloseWrite() error

	// Reset 重置流（异常关闭，双向）
	Reset() error

	// SetDeadline 设置读写截止时间
	SetDeadline(t time.Time) error

	// SetReadDeadline 设置读截止时间
	SetReadDeadline(t time.Time) error

	// SetWriteDeadline 设置写截止时间
	SetWriteDeadline(t time.Time) error
}

// MuxedConn 定义多路复用连接接口
type MuxedConn interface {
	// OpenStream 打开新流
	OpenStream(ctx context.Context) (MuxedStream, error)

	// AcceptStream 接受新流
	AcceptStream() (MuxedStream, error)

	// Close 关闭连接
	Close() error

	// IsClosed 检查连接是否已关闭
	IsClosed() bool
}
