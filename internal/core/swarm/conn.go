package swarm

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	mss "github.com/multiformats/go-multistream"

	pkgif "github.com/FelixRiddle/swarm-weave/pkg/interfaces"
	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

// Conn Swarm 管理的连接
//
// 包装传输层连接，统计打开的流以支持空闲回收。
type Conn struct {
	pkgif.Connection

	swarm *Swarm

	streams   atomic.Int32
	idleMu    sync.Mutex
	idleStart time.Time

	closeOnce sync.Once
	closeErr  error
}

var _ pkgif.Connection = (*Conn)(nil)

func newConn(s *Swarm, tc pkgif.Connection) *Conn {
	return &Conn{
		Connection: tc,
		swarm:      s,
		idleStart:  s.clock.Now(),
	}
}

func (c *Conn) isRelayed() bool {
	return c.RemoteMultiaddr().IsRelay()
}

func (c *Conn) numStreams() int {
	return int(c.streams.Load())
}

// NumStreams 返回打开的流数量
func (c *Conn) NumStreams() int {
	return c.numStreams()
}

func (c *Conn) streamOpened() {
	c.streams.Add(1)
}

func (c *Conn) streamClosed() {
	if c.streams.Add(-1) == 0 {
		c.idleMu.Lock()
		c.idleStart = c.swarm.clock.Now()
		c.idleMu.Unlock()
	}
}

// idleSince 返回连接无流的持续时间；有流时为 0
func (c *Conn) idleSince(now time.Time) time.Duration {
	if c.streams.Load() > 0 {
		return 0
	}
	c.idleMu.Lock()
	defer c.idleMu.Unlock()
	return now.Sub(c.idleStart)
}

// Close 关闭连接并从 Swarm 注销，可重复调用
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.Connection.Close()
		c.swarm.removeConn(c)
	})
	return c.closeErr
}

// openStream 打开出站流（未协商）
func (c *Conn) openStream(s *Swarm) (*Stream, error) {
	ctx := s.ctx
	if s.cfg.NegotiateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.NegotiateTimeout)
		defer cancel()
	}
	ms, err := c.Connection.OpenStream(ctx)
	if err != nil {
		return nil, err
	}
	c.streamOpened()
	return &Stream{MuxedStream: ms, conn: c}, nil
}

// acceptStreams 入站流循环，连接关闭时退出
func (c *Conn) acceptStreams() {
	defer c.swarm.wg.Done()
	defer c.Close()

	for {
		ms, err := c.Connection.AcceptStream()
		if err != nil {
			if !c.IsClosed() && !c.swarm.closed.Load() {
				log.Debug("接受流失败", "peer", c.RemotePeer().ShortString(), "err", err)
			}
			return
		}
		c.streamOpened()
		st := &Stream{MuxedStream: ms, conn: c}
		go c.swarm.handleStream(st)
	}
}

// handleStream 协商入站流协议并分发到处理器
func (s *Swarm) handleStream(st *Stream) {
	if s.cfg.NegotiateTimeout > 0 {
		_ = st.SetDeadline(time.Now().Add(s.cfg.NegotiateTimeout))
	}
	proto, _, err := s.mux.Negotiate(st)
	if err != nil {
		if !errors.Is(err, mss.ErrNotSupported[types.ProtocolID]{}) {
			log.Debug("流协议协商失败", "peer", st.conn.RemotePeer().ShortString(), "err", err)
		}
		_ = st.Reset()
		return
	}
	_ = st.SetDeadline(zeroTime)
	st.proto = proto

	h := s.handler(proto)
	if h == nil {
		_ = st.Reset()
		return
	}
	h(st)
}

var zeroTime time.Time
