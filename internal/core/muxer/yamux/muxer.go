package yamux

import (
	"context"
	"fmt"
	"net"

	"github.com/hashicorp/yamux"

	pkgif "github.com/FelixRiddle/swarm-weave/pkg/interfaces"
	"github.com/FelixRiddle/swarm-weave/pkg/protocolids"
	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

// Transport yamux 多路复用器工厂
type Transport struct {
	config *yamux.Config
}

var _ pkgif.StreamMuxer = (*Transport)(nil)

// NewTransport 创建 yamux 工厂，config 为 nil 时使用默认配置
func NewTransport(config *yamux.Config) *Transport {
	if config == nil {
		config = DefaultConfig()
	}
	return &Transport{config: config}
}

// ID 返回多路复用协议标识
func (t *Transport) ID() types.ProtocolID {
	return protocolids.Yamux
}

// NewConn 在安全连接上创建多路复用会话
func (t *Transport) NewConn(conn net.Conn, isServer bool) (pkgif.MuxedConn, error) {
	var (
		session *yamux.Session
		err     error
	)
	if isServer {
		session, err = yamux.Server(conn, t.config)
	} else {
		session, err = yamux.Client(conn, t.config)
	}
	if err != nil {
		return nil, fmt.Errorf("create yamux session: %w", err)
	}
	return &Conn{session: session}, nil
}

// Conn 封装 yamux.Session
type Conn struct {
	session *yamux.Session
}

var _ pkgif.MuxedConn = (*Conn)(nil)

// OpenStream 打开新流
//
// yamux 的 OpenStream 不支持 context，在单独的 goroutine 中等待。
func (c *Conn) OpenStream(ctx context.Context) (pkgif.MuxedStream, error) {
	type result struct {
		stream *yamux.Stream
		err    error
	}
	resultCh := make(chan result, 1)

	go func() {
		s, err := c.session.OpenStream()
		resultCh <- result{s, err}
	}()

	select {
	case <-ctx.Done():
		// 孤立的流在返回后关闭
		go func() {
			if r := <-resultCh; r.stream != nil {
				_ = r.stream.Close()
			}
		}()
		return nil, ctx.Err()
	case r := <-resultCh:
		if r.err != nil {
			return nil, fmt.Errorf("open stream: %w", r.err)
		}
		return &Stream{stream: r.stream}, nil
	}
}

// AcceptStream 接受新流
func (c *Conn) AcceptStream() (pkgif.MuxedStream, error) {
	s, err := c.session.AcceptStream()
	if err != nil {
		return nil, err
	}
	return &Stream{stream: s}, nil
}

// NumStreams 返回当前流数量
func (c *Conn) NumStreams() int {
	return c.session.NumStreams()
}

// Close 关闭会话与底层连接
func (c *Conn) Close() error {
	return c.session.Close()
}

// IsClosed 检查是否已关闭
func (c *Conn) IsClosed() bool {
	return c.session.IsClosed()
}

// CloseChan 会话关闭时关闭的通道
func (c *Conn) CloseChan() <-chan struct{} {
	return c.session.CloseChan()
}
