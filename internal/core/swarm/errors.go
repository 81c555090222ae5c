package swarm

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

var (
	// ErrSwarmClosed Swarm 已关闭
	ErrSwarmClosed = errors.New("swarm closed")

	// ErrNoAddresses 没有可用地址
	ErrNoAddresses = errors.New("no addresses")

	// ErrNoTransport 没有可用传输层
	ErrNoTransport = errors.New("no transport for address")

	// ErrDialToSelf 尝试拨号自己
	ErrDialToSelf = errors.New("dial to self attempted")

	// ErrNoConnection 没有连接
	ErrNoConnection = errors.New("no connection to peer")
)

// DialError 拨号错误，汇总每个地址的失败原因
type DialError struct {
	Peer types.PeerID
	Err  error
}

func (e *DialError) Error() string {
	errs := multierr.Errors(e.Err)
	if len(errs) == 1 {
		return fmt.Sprintf("failed to dial %s: %v", e.Peer.ShortString(), errs[0])
	}
	return fmt.Sprintf("failed to dial %s: %d errors: %v", e.Peer.ShortString(), len(errs), e.Err)
}

// Unwrap 返回汇总错误
func (e *DialError) Unwrap() error {
	return e.Err
}
