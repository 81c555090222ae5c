package identify

import "errors"

var (
	// ErrKeyMismatch 公钥与对端节点 ID 不符
	ErrKeyMismatch = errors.New("identify: public key does not match peer id")

	// ErrInvalidMessage 报文无法解码
	ErrInvalidMessage = errors.New("identify: invalid message")

	// ErrClosed 服务已关闭
	ErrClosed = errors.New("identify: service closed")
)
