package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/multierr"

	"github.com/FelixRiddle/swarm-weave/config"
	"github.com/FelixRiddle/swarm-weave/internal/behaviour"
	"github.com/FelixRiddle/swarm-weave/internal/core/identity"
	"github.com/FelixRiddle/swarm-weave/internal/core/messaging/gossipsub"
	"github.com/FelixRiddle/swarm-weave/internal/core/metrics"
	"github.com/FelixRiddle/swarm-weave/internal/core/relay"
	"github.com/FelixRiddle/swarm-weave/internal/core/storage/badger"
	"github.com/FelixRiddle/swarm-weave/internal/core/swarm"
	"github.com/FelixRiddle/swarm-weave/internal/util/logger"
	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

// ════════════════════════════════════════════════════════════════════════════
//                              节点状态
// ════════════════════════════════════════════════════════════════════════════

// State 节点状态
type State int

const (
	// StateIdle 已创建，未启动
	StateIdle State = iota

	// StateRunning 事件循环运行中
	StateRunning

	// StateTerminated 已退出，不可再启动
	StateTerminated
)

// String 返回状态的字符串表示
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

const (
	// startTimeout Fx 应用启动超时
	startTimeout = 30 * time.Second

	// stopTimeout 退出时停止组件的超时
	stopTimeout = 10 * time.Second

	// metricsNamespace 指标命名空间
	metricsNamespace = "swarm_weave"
)

// Node 对等节点运行时
//
// Node 拥有 Swarm 与组合行为，由单个事件循环驱动。
//
// 使用示例：
//
//	cfg := config.NewConfig()
//	seed := uint8(1)
//	cfg.Node.KeySeed = &seed
//
//	n, err := node.New(cfg, node.WithInput(os.Stdin))
//	if err != nil {
//	    return err
//	}
//	defer n.Close()
//
//	// 阻塞直到 ctx 取消，随后执行离开流程
//	return n.Start(ctx)
type Node struct {
	// ────────────────────────────────────────────────────────────────────────
	// 配置
	// ────────────────────────────────────────────────────────────────────────

	cfg       *config.Config
	opts      *options
	log       *slog.Logger
	metrics   *metrics.Metrics
	bootstrap *bootstrapPeer

	// app Fx 应用
	app *fx.App

	// store 密钥库（未启用时为 nil）
	store *badger.DB

	// ────────────────────────────────────────────────────────────────────────
	// 核心组件（由 Fx 注入）
	// ────────────────────────────────────────────────────────────────────────

	id        *identity.Identity
	swarm     *swarm.Swarm
	circuit   *relay.Transport
	behaviour *behaviour.Behaviour

	// ────────────────────────────────────────────────────────────────────────
	// 应用接收路径
	// ────────────────────────────────────────────────────────────────────────

	messages  chan *gossipsub.Message
	ready     chan struct{}
	readyOnce sync.Once

	// ────────────────────────────────────────────────────────────────────────
	// 生命周期状态
	// ────────────────────────────────────────────────────────────────────────

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

// bootstrapPeer 启动时连接的引导节点
type bootstrapPeer struct {
	id   types.PeerID
	addr types.Multiaddr
}

// ════════════════════════════════════════════════════════════════════════════
//                              构造函数
// ════════════════════════════════════════════════════════════════════════════

// New 创建节点但不启动
//
// 身份来源按以下顺序解析：WithIdentitySource、Node.KeySeed、
// Identity.KeyStore、Identity.Random。都不可用时返回 ErrConfiguration。
func New(cfg *config.Config, opts ...Option) (*Node, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	o := defaultOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	boot, err := parseBootstrap(cfg.Node)
	if err != nil {
		return nil, err
	}

	l := o.logger
	if l == nil {
		l = newLogger(cfg.Log)
	}
	m := o.metrics
	if m == nil {
		m = metrics.New(metricsNamespace)
	}

	src, store, err := resolveIdentity(cfg, o, l)
	if err != nil {
		return nil, err
	}

	n := &Node{
		cfg:       cfg,
		opts:      o,
		log:       logger.Named(l, "node"),
		metrics:   m,
		bootstrap: boot,
		store:     store,
		messages:  make(chan *gossipsub.Message, o.messageBuffer),
		ready:     make(chan struct{}),
	}

	app, err := buildFxApp(buildInput{cfg: cfg, opts: o, source: src, log: l, metrics: m}, n)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		if errors.Is(err, identity.ErrNoIdentitySource) || errors.Is(err, identity.ErrPassphrase) {
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		return nil, fmt.Errorf("build node: %w", err)
	}
	n.app = app

	n.log.Info("节点已创建",
		"peer", n.id.ID().String(),
		"role", cfg.Node.Role,
		"relay", cfg.Node.Relay,
		"topics", topics(cfg))
	return n, nil
}

// resolveIdentity 解析身份来源；启用密钥库时同时返回打开的存储
func resolveIdentity(cfg *config.Config, o *options, l *slog.Logger) (identity.IdentitySource, *badger.DB, error) {
	if o.identity != nil {
		return o.identity, nil, nil
	}
	if seed, ok := cfg.Node.Seed(); ok {
		return identity.SeededIdentitySource{Seed: seed}, nil, nil
	}
	if cfg.Identity.KeyStore {
		db, err := badger.Open(badger.Options{
			Path:       filepath.Join(cfg.Identity.DataDir, "keystore"),
			SyncWrites: true,
			Logger:     logger.Named(l, "storage.badger"),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("%w: open key store: %w", ErrConfiguration, err)
		}
		return &identity.PersistentIdentitySource{Store: db, Passphrase: cfg.Identity.Passphrase}, db, nil
	}
	if cfg.Identity.Random {
		return identity.RandomIdentitySource{}, nil, nil
	}
	return nil, nil, fmt.Errorf("%w: no key seed or identity source", ErrConfiguration)
}

// parseBootstrap 两项都为空时返回 nil
func parseBootstrap(c config.NodeConfig) (*bootstrapPeer, error) {
	if c.BootstrapAddress == "" && c.BootstrapPeerID == "" {
		return nil, nil
	}
	if c.BootstrapAddress == "" || c.BootstrapPeerID == "" {
		return nil, fmt.Errorf("%w: bootstrap address and peer id must be set together", ErrConfiguration)
	}
	addr, err := types.ParseMultiaddr(c.BootstrapAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: bootstrap address: %w", ErrConfiguration, err)
	}
	id, err := types.ParsePeerID(c.BootstrapPeerID)
	if err != nil {
		return nil, fmt.Errorf("%w: bootstrap peer id: %w", ErrConfiguration, err)
	}
	return &bootstrapPeer{id: id, addr: addr}, nil
}

// newLogger 按日志配置创建节点独立的 Logger
func newLogger(c config.LogConfig) *slog.Logger {
	level, ok := logger.ParseLevel(c.Level)
	if !ok {
		level = slog.LevelInfo
	}
	return logger.New(os.Stderr, logger.Options{Level: level, Format: logger.ParseFormat(c.Format)})
}

// ════════════════════════════════════════════════════════════════════════════
//                              查询
// ════════════════════════════════════════════════════════════════════════════

// ID 返回节点 ID
func (n *Node) ID() types.PeerID {
	return n.id.ID()
}

// ListenAddrs 返回已绑定的监听地址
func (n *Node) ListenAddrs() []types.Multiaddr {
	return n.swarm.ListenAddrs()
}

// ExternalAddrs 返回已确认的外部地址
func (n *Node) ExternalAddrs() []types.Multiaddr {
	return n.swarm.ExternalAddrs()
}

// ExplicitPeers 返回当前的显式广播节点
func (n *Node) ExplicitPeers() []types.PeerID {
	return n.behaviour.Gossip().ExplicitPeers()
}

// Peers 返回已连接节点
func (n *Node) Peers() []types.PeerID {
	return n.swarm.Peers()
}

// Topics 返回已订阅主题
func (n *Node) Topics() []string {
	return n.behaviour.Gossip().Topics()
}

// Metrics 返回节点指标
func (n *Node) Metrics() *metrics.Metrics {
	return n.metrics
}

// Messages 主主题上收到的消息
//
// 消费过慢时新消息被丢弃并记录警告。
func (n *Node) Messages() <-chan *gossipsub.Message {
	return n.messages
}

// Ready 监听地址绑定且组件启动后关闭
func (n *Node) Ready() <-chan struct{} {
	return n.ready
}

// State 返回节点状态
func (n *Node) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// ════════════════════════════════════════════════════════════════════════════
//                              发布
// ════════════════════════════════════════════════════════════════════════════

// Publish 在主主题上发布消息，返回消息 ID
func (n *Node) Publish(data []byte) (string, error) {
	return n.publish(config.PrimaryTopic, data)
}

// PublishDiagnostic 在诊断主题上发布消息，仅测试模式可用
func (n *Node) PublishDiagnostic(data []byte) (string, error) {
	if !n.cfg.Node.TestMode {
		return "", fmt.Errorf("%w: diagnostic topic requires test mode", ErrPublish)
	}
	return n.publish(config.DiagnosticTopic, data)
}

func (n *Node) publish(topic string, data []byte) (string, error) {
	id, err := n.behaviour.Gossip().Publish(topic, data)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPublish, err)
	}
	return id, nil
}

// ════════════════════════════════════════════════════════════════════════════
//                              关闭
// ════════════════════════════════════════════════════════════════════════════

// Close 关闭节点
//
// 运行中的节点取消事件循环并等待离开流程完成；未启动的节点直接释放组件。
func (n *Node) Close() error {
	n.mu.Lock()
	switch n.state {
	case StateTerminated:
		n.mu.Unlock()
		return nil
	case StateRunning:
		cancel, done := n.cancel, n.done
		n.mu.Unlock()
		cancel()
		<-done
		return nil
	}
	n.state = StateTerminated
	n.mu.Unlock()

	return n.release(false)
}

// release 停止组件并关闭密钥库
func (n *Node) release(started bool) error {
	var err error
	if started {
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		err = n.app.Stop(ctx)
		cancel()
	} else {
		err = multierr.Combine(n.behaviour.Close(), n.swarm.Close())
	}
	if n.store != nil {
		err = multierr.Append(err, n.store.Close())
	}

	n.mu.Lock()
	n.state = StateTerminated
	n.mu.Unlock()
	return err
}
