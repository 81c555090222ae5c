package swarm

import (
	"sync"

	pkgif "github.com/FelixRiddle/swarm-weave/pkg/interfaces"
	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

// Stream Swarm 管理的流
type Stream struct {
	pkgif.MuxedStream

	conn  *Conn
	proto types.ProtocolID

	doneOnce sync.Once
}

var _ pkgif.Stream = (*Stream)(nil)

// Protocol 返回协商的协议
func (s *Stream) Protocol() types.ProtocolID {
	return s.proto
}

// Conn 返回所属连接
func (s *Stream) Conn() pkgif.Connection {
	return s.conn
}

// Close 关闭流
func (s *Stream) Close() error {
	err := s.MuxedStream.Close()
	s.done()
	return err
}

// Reset 重置流
func (s *Stream) Reset() error {
	err := s.MuxedStream.Reset()
	s.done()
	return err
}

func (s *Stream) done() {
	s.doneOnce.Do(s.conn.streamClosed)
}
