package quic

import (
	"time"

	"github.com/quic-go/quic-go"

	pkgif "github.com/FelixRiddle/swarm-weave/pkg/interfaces"
)

// resetCode 流重置错误码
const resetCode quic.StreamErrorCode = 0

// stream 封装 quic.Stream
type stream struct {
	s *quic.Stream
}

var _ pkgif.MuxedStream = (*stream)(nil)

func (s *stream) Read(p []byte) (int, error) {
	return s.s.Read(p)
}

func (s *stream) Write(p []byte) (int, error) {
	return s.s.Write(p)
}

// Close 关闭双向：停止读取并发送 FIN
func (s *stream) Close() error {
	s.s.CancelRead(resetCode)
	return s.s.Close()
}

// CloseWrite 发送 FIN，仍可读取
func (s *stream) CloseWrite() error {
	return s.s.Close()
}

// Reset 双向中止
func (s *stream) Reset() error {
	s.s.CancelRead(resetCode)
	s.s.CancelWrite(resetCode)
	return nil
}

func (s *stream) SetDeadline(t time.Time) error {
	return s.s.SetDeadline(t)
}

func (s *stream) SetReadDeadline(t time.Time) error {
	return s.s.SetReadDeadline(t)
}

func (s *stream) SetWriteDeadline(t time.Time) error {
	return s.s.SetWriteDeadline(t)
}
