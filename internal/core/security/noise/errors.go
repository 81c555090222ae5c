package noise

import "errors"

var (
	// ErrInvalidHandshake 握手失败
	ErrInvalidHandshake = errors.New("noise: invalid handshake")

	// ErrInvalidSignature 静态密钥未绑定到身份公钥
	ErrInvalidSignature = errors.New("noise: static key not bound to identity key")

	// ErrPeerIDMismatch PeerID 不匹配
	ErrPeerIDMismatch = errors.New("noise: peer ID mismatch")
)
