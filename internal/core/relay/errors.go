package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed 服务或传输已关闭
	ErrClosed = errors.New("relay: closed")

	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = errors.New("relay: invalid config")

	// ErrInvalidMessage 报文无法解码或类型不符
	ErrInvalidMessage = errors.New("relay: invalid message")

	// ErrNotRelayAddr 不是中继地址
	ErrNotRelayAddr = errors.New("relay: not a relay address")

	// ErrNoListener 没有对应中继的监听器
	ErrNoListener = errors.New("relay: no listener for relay")
)

// StatusError 对端以非 OK 状态拒绝请求
type StatusError struct {
	Status Status
	Op     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("relay: %s refused: %s", e.Op, e.Status)
}

// IsStatus 检查 err 是否为指定状态的拒绝
func IsStatus(err error, status Status) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == status
}
