package upgrader

import (
	"context"
	"fmt"
	"net"
	"time"

	mss "github.com/multiformats/go-multistream"
)

// defaultNegotiateTimeout 默认协商超时
const defaultNegotiateTimeout = 60 * time.Second

// negotiate 使用 multistream-select 在 protos 中协商一个协议
//
// 服务器端使用 MultistreamMuxer.Negotiate，客户端使用 SelectOneOf。
func negotiate(ctx context.Context, conn net.Conn, protos []string, isServer bool) (string, error) {
	deadline := time.Now().Add(defaultNegotiateTimeout)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return "", fmt.Errorf("set deadline: %w", err)
	}
	defer conn.SetDeadline(time.Time{})

	if isServer {
		muxer := mss.NewMultistreamMuxer[string]()
		for _, p := range protos {
			muxer.AddHandler(p, nil)
		}
		selected, _, err := muxer.Negotiate(conn)
		return selected, err
	}
	return mss.SelectOneOf(protos, conn)
}
