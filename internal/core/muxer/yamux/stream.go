package yamux

import (
	"time"

	"github.com/hashicorp/yamux"

	pkgif "github.com/FelixRiddle/swarm-weave/pkg/interfaces"
)

// Stream 封装 yamux.Stream
type Stream struct {
	stream *yamux.Stream
}

var _ pkgif.MuxedStream = (*Stream)(nil)

// Read 从流中读取数据
func (s *Stream) Read(p []byte) (int, error) {
	return s.stream.Read(p)
}

// Write 向流写入数据
func (s *Stream) Write(p []byte) (int, error) {
	return s.stream.Write(p)
}

// Close 关闭流（发送 FIN）
func (s *Stream) Close() error {
	return s.stream.Close()
}

// CloseWrite 关闭写端
//
// yamux 的 Close 即发送 FIN，读端在收到对端 FIN 前仍可读。
func (s *Stream) CloseWrite() error {
	return s.stream.Close()
}

// Reset 立即关闭流并打断阻塞中的读写
func (s *Stream) Reset() error {
	_ = s.stream.SetDeadline(time.Now())
	return s.stream.Close()
}

// SetDeadline 设置读写截止时间
func (s *Stream) SetDeadline(t time.Time) error {
	return s.stream.SetDeadline(t)
}

// SetReadDeadline 设置读截止时间
func (s *Stream) SetReadDeadline(t time.Time) error {
	return s.stream.SetReadDeadline(t)
}

// SetWriteDeadline 设置写截止时间
func (s *Stream) SetWriteDeadline(t time.Time) error {
	return s.stream.SetWriteDeadline(t)
}
