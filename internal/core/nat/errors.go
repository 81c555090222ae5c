package nat

import "errors"

var (
	// ErrClosed 服务已关闭
	ErrClosed = errors.New("nat: service closed")

	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = errors.New("nat: invalid config")

	// ErrInvalidMessage autonat 报文无效
	ErrInvalidMessage = errors.New("nat: invalid autonat message")

	// ErrNoServer 没有可用的探测服务端
	ErrNoServer = errors.New("nat: no autonat server available")

	// ErrProbeRefused 服务端拒绝或无法完成回拨，结果不计入可达性
	ErrProbeRefused = errors.New("nat: probe refused")

	// ErrNoMapper 网关既不支持 NAT-PMP 也不支持 UPnP
	ErrNoMapper = errors.New("nat: no port mapper available")
)
