package mdns

import "errors"

var (
	// ErrClosed 发现器已关闭
	ErrClosed = errors.New("mdns: discoverer closed")

	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = errors.New("mdns: invalid config")

	// ErrInterface 指定的网卡不可用
	ErrInterface = errors.New("mdns: interface unavailable")

	// ErrPortUnknown 尚无可通告的端口
	ErrPortUnknown = errors.New("mdns: port unknown")
)
