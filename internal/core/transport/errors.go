// Package transport 定义传输层的公共错误，具体实现见 transport/tcp 与 transport/quic
package transport

import "errors"

var (
	// ErrTransportClosed 传输已关闭
	ErrTransportClosed = errors.New("transport closed")

	// ErrListenerClosed 监听器已关闭
	ErrListenerClosed = errors.New("listener closed")

	// ErrInvalidAddress 地址不适用于该传输
	ErrInvalidAddress = errors.New("invalid address for transport")

	// ErrPeerIDMismatch 远端身份与期望不符
	ErrPeerIDMismatch = errors.New("peer ID mismatch")
)
