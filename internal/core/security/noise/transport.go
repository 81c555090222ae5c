package noise

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/FelixRiddle/swarm-weave/internal/core/identity"
	"github.com/FelixRiddle/swarm-weave/internal/util/logger"
	pkgif "github.com/FelixRiddle/swarm-weave/pkg/interfaces"
	"github.com/FelixRiddle/swarm-weave/pkg/protocolids"
	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

var log = logger.Logger("security.noise")

// Transport Noise 安全传输
type Transport struct {
	id *identity.Identity
}

var _ pkgif.SecureTransport = (*Transport)(nil)

// New 创建 Noise 传输
func New(id *identity.Identity) (*Transport, error) {
	if id == nil {
		return nil, errors.New("noise: identity is nil")
	}
	return &Transport{id: id}, nil
}

// ID 返回协议标识
func (t *Transport) ID() types.ProtocolID {
	return protocolids.Noise
}

// SecureInbound 保护入站连接，remotePeer 可为空
func (t *Transport) SecureInbound(ctx context.Context, conn net.Conn, remotePeer types.PeerID) (pkgif.SecureConn, error) {
	return t.secure(ctx, conn, remotePeer, false)
}

// SecureOutbound 保护出站连接
func (t *Transport) SecureOutbound(ctx context.Context, conn net.Conn, remotePeer types.PeerID) (pkgif.SecureConn, error) {
	return t.secure(ctx, conn, remotePeer, true)
}

func (t *Transport) secure(ctx context.Context, conn net.Conn, remotePeer types.PeerID, initiator bool) (pkgif.SecureConn, error) {
	if conn == nil {
		return nil, errors.New("noise: conn is nil")
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}

	// ctx 取消时打断阻塞中的握手读写
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	sc, err := performHandshake(conn, t.id, remotePeer, initiator)
	if err != nil {
		log.Debug("Noise 握手失败", "initiator", initiator, "remote", conn.RemoteAddr(), "error", err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	log.Debug("Noise 握手成功", "initiator", initiator, "peer", sc.RemotePeer().ShortString())
	return sc, nil
}
