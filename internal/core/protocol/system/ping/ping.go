package ping

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/FelixRiddle/swarm-weave/internal/core/metrics"
	"github.com/FelixRiddle/swarm-weave/internal/util/logger"
	pkgif "github.com/FelixRiddle/swarm-weave/pkg/interfaces"
	"github.com/FelixRiddle/swarm-weave/pkg/protocolids"
	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

var log = logger.Logger("ping")

const (
	// PingSize 探测数据大小
	PingSize = 32

	// HandlerIdleTimeout 应答端等待下一次探测的时间
	HandlerIdleTimeout = 60 * time.Second
)

var (
	// ErrDataMismatch 回显数据不一致
	ErrDataMismatch = errors.New("ping: echo data mismatch")

	// ErrClosed 服务已关闭
	ErrClosed = errors.New("ping: service closed")
)

// Config ping 配置
type Config struct {
	// Interval 周期探测间隔（0 = 不主动探测）
	Interval time.Duration

	// Timeout 单次探测超时
	Timeout time.Duration

	// EventQueueSize 事件队列长度
	EventQueueSize int

	// Clock 周期探测使用的时钟
	Clock clock.Clock

	// Logger 日志（nil 时使用 ping 子系统日志）
	Logger *slog.Logger

	// Metrics 指标（可为 nil）
	Metrics *metrics.Metrics
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Interval:       15 * time.Second,
		Timeout:        20 * time.Second,
		EventQueueSize: 32,
	}
}

// Event 一次探测结果
type Event struct {
	Peer types.PeerID
	RTT  time.Duration
	Err  error
}

// Service ping 服务
type Service struct {
	cfg     Config
	net     pkgif.Network
	clock   clock.Clock
	log     *slog.Logger
	metrics *metrics.Metrics

	events chan Event

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
	closed  atomic.Bool
}

// New 创建服务
func New(network pkgif.Network, cfg Config) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.EventQueueSize <= 0 {
		cfg.EventQueueSize = DefaultConfig().EventQueueSize
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	l := cfg.Logger
	if l == nil {
		l = log
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cfg:     cfg,
		net:     network,
		clock:   cfg.Clock,
		log:     l,
		metrics: cfg.Metrics,
		events:  make(chan Event, cfg.EventQueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start 注册应答处理器并启动周期探测
func (s *Service) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.net.SetStreamHandler(protocolids.Ping, s.handleStream)
	if s.cfg.Interval > 0 {
		s.wg.Add(1)
		go s.loop()
	}
}

// Close 停止服务
func (s *Service) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()
	s.net.RemoveStreamHandler(protocolids.Ping)
	s.wg.Wait()
	return nil
}

// Events 返回探测结果
func (s *Service) Events() <-chan Event {
	return s.events
}

// handleStream 回显探测数据，直到对端关闭或空闲超时
func (s *Service) handleStream(st pkgif.Stream) {
	defer st.Close()

	buf := make([]byte, PingSize)
	for {
		_ = st.SetReadDeadline(time.Now().Add(HandlerIdleTimeout))
		if _, err := io.ReadFull(st, buf); err != nil {
			return
		}
		if _, err := st.Write(buf); err != nil {
			return
		}
	}
}

// Ping 探测一次，返回往返时延
func (s *Service) Ping(ctx context.Context, p types.PeerID) (time.Duration, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	st, err := s.net.NewStream(ctx, p, protocolids.Ping)
	if err != nil {
		return 0, fmt.Errorf("ping: open stream: %w", err)
	}
	defer st.Close()

	stop := context.AfterFunc(ctx, func() { _ = st.Reset() })
	defer stop()

	rtt, err := pingOnce(st)
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return 0, err
	}
	s.metrics.PingRTT(rtt)
	return rtt, nil
}

func pingOnce(rw io.ReadWriter) (time.Duration, error) {
	buf := make([]byte, PingSize)
	if _, err := rand.Read(buf); err != nil {
		return 0, err
	}

	start := time.Now()
	if _, err := rw.Write(buf); err != nil {
		return 0, err
	}
	echo := make([]byte, PingSize)
	if _, err := io.ReadFull(rw, echo); err != nil {
		return 0, err
	}
	rtt := time.Since(start)

	if !bytes.Equal(buf, echo) {
		return 0, ErrDataMismatch
	}
	return rtt, nil
}

// ============================================================================
//                              周期探测
// ============================================================================

func (s *Service) loop() {
	defer s.wg.Done()

	ticker := s.clock.Ticker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.pingAll()
		}
	}
}

// pingAll 并发探测所有已连接节点，全部完成后返回
func (s *Service) pingAll() {
	var wg sync.WaitGroup
	for _, p := range s.net.Peers() {
		wg.Add(1)
		go func(p types.PeerID) {
			defer wg.Done()
			rtt, err := s.Ping(s.ctx, p)
			if s.ctx.Err() != nil {
				return
			}
			if err != nil {
				s.log.Debug("ping 失败", "peer", p.ShortString(), "err", err)
			}
			select {
			case s.events <- Event{Peer: p, RTT: rtt, Err: err}:
			default:
			}
		}(p)
	}
	wg.Wait()
}
