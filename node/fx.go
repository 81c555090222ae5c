package node

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/FelixRiddle/swarm-weave/config"
	"github.com/FelixRiddle/swarm-weave/internal/behaviour"
	"github.com/FelixRiddle/swarm-weave/internal/core/identity"
	"github.com/FelixRiddle/swarm-weave/internal/core/metrics"
	"github.com/FelixRiddle/swarm-weave/internal/core/muxer/yamux"
	"github.com/FelixRiddle/swarm-weave/internal/core/nat"
	"github.com/FelixRiddle/swarm-weave/internal/core/peerstore"
	"github.com/FelixRiddle/swarm-weave/internal/core/relay"
	"github.com/FelixRiddle/swarm-weave/internal/core/security/noise"
	"github.com/FelixRiddle/swarm-weave/internal/core/swarm"
	"github.com/FelixRiddle/swarm-weave/internal/core/transport/quic"
	"github.com/FelixRiddle/swarm-weave/internal/core/transport/tcp"
	"github.com/FelixRiddle/swarm-weave/internal/core/upgrader"
	"github.com/FelixRiddle/swarm-weave/internal/util/logger"
	pkgif "github.com/FelixRiddle/swarm-weave/pkg/interfaces"
)

// buildFxApp 构建 Fx 应用
//
// 加载顺序（按依赖）：
//  1. 身份：IdentitySource → Identity
//  2. 传输栈：Noise + Yamux → Upgrader → TCP / QUIC（并发构造）
//  3. Swarm（60s 空闲回收）与中继客户端传输
//  4. 组合行为，随后订阅启动主题
//
// 构造在 fx.New 中完成，错误包装为 ErrTransportConstruction 或
// ErrBehaviourConstruction。
func buildFxApp(in buildInput, n *Node) (*fx.App, error) {
	// ════════════════════════════════════════════════════════════════════════
	// 1. 配置与身份
	// ════════════════════════════════════════════════════════════════════════
	modules := []fx.Option{
		fx.Supply(in.cfg),
		fx.Supply(in.metrics),
		fx.Provide(func() identity.IdentitySource { return in.source }),
		fx.Provide(func() *slog.Logger { return in.log }),
		identity.Module(),
	}

	// ════════════════════════════════════════════════════════════════════════
	// 2. 传输栈与 Swarm
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules,
		fx.Provide(
			providePeerstore,
			provideUpgrader,
			provideCarriers,
			provideSwarm,
			provideCircuit,
		),
	)

	// ════════════════════════════════════════════════════════════════════════
	// 3. 组合行为
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules,
		fx.Provide(provideBehaviour),
		fx.Invoke(subscribeTopics),
	)

	// ════════════════════════════════════════════════════════════════════════
	// 4. 用户扩展与注入
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules, in.opts.fxOptions...)
	modules = append(modules,
		fx.Populate(&n.id, &n.swarm, &n.circuit, &n.behaviour),
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: zap.NewNop()}
		}),
	)

	app := fx.New(modules...)
	if err := app.Err(); err != nil {
		return nil, err
	}
	return app, nil
}

// buildInput 构造 Fx 应用所需的已解析输入
type buildInput struct {
	cfg     *config.Config
	opts    *options
	source  identity.IdentitySource
	log     *slog.Logger
	metrics *metrics.Metrics
}

// ════════════════════════════════════════════════════════════════════════════
//                              传输栈
// ════════════════════════════════════════════════════════════════════════════

// carriers 底层承载传输
type carriers struct {
	tcp  *tcp.Transport
	quic *quic.Transport
}

func (c *carriers) all() []pkgif.Transport {
	var ts []pkgif.Transport
	if c.tcp != nil {
		ts = append(ts, c.tcp)
	}
	if c.quic != nil {
		ts = append(ts, c.quic)
	}
	return ts
}

// dialers 可达性服务端回拨使用的传输
func (c *carriers) dialers() []nat.Dialer {
	var ds []nat.Dialer
	for _, t := range c.all() {
		ds = append(ds, t)
	}
	return ds
}

func (c *carriers) close() error {
	var err error
	for _, t := range c.all() {
		err = multierr.Append(err, t.Close())
	}
	return err
}

func providePeerstore() *peerstore.Peerstore {
	return peerstore.New(clock.New())
}

func provideUpgrader(id *identity.Identity) (*upgrader.Upgrader, error) {
	sec, err := noise.New(id)
	if err != nil {
		return nil, fmt.Errorf("%w: noise: %w", ErrTransportConstruction, err)
	}
	up, err := upgrader.New([]pkgif.SecureTransport{sec}, []pkgif.StreamMuxer{yamux.NewTransport(nil)})
	if err != nil {
		return nil, fmt.Errorf("%w: upgrader: %w", ErrTransportConstruction, err)
	}
	return up, nil
}

// provideCarriers 并发构造 TCP 与 QUIC
func provideCarriers(id *identity.Identity, up *upgrader.Upgrader, cfg *config.Config) (*carriers, error) {
	tc := cfg.Transport
	c := &carriers{}

	var g errgroup.Group
	if tc.EnableTCP {
		g.Go(func() error {
			c.tcp = tcp.New(up, tcp.Options{
				ReusePort:        tc.ReusePort,
				HandshakeTimeout: tc.HandshakeTimeout.Duration(),
				DialTimeout:      tc.DialTimeout.Duration(),
			})
			return nil
		})
	}
	if tc.EnableQUIC {
		g.Go(func() error {
			t, err := quic.New(id, quic.Options{
				MaxIdleTimeout:   tc.IdleTimeout.Duration(),
				HandshakeTimeout: tc.HandshakeTimeout.Duration(),
			})
			if err != nil {
				return fmt.Errorf("quic: %w", err)
			}
			c.quic = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		_ = c.close()
		return nil, fmt.Errorf("%w: %w", ErrTransportConstruction, err)
	}
	return c, nil
}

type swarmParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Identity  *identity.Identity
	Peerstore *peerstore.Peerstore
	Carriers  *carriers
	Config    *config.Config
	Metrics   *metrics.Metrics
}

// provideSwarm Swarm 关闭时一并关闭其传输
func provideSwarm(p swarmParams) *swarm.Swarm {
	sc := swarm.DefaultConfig()
	sc.IdleTimeout = p.Config.Transport.IdleTimeout.Duration()
	sc.DialTimeout = p.Config.Transport.DialTimeout.Duration()

	s := swarm.New(p.Identity.ID(), p.Peerstore, swarm.WithConfig(sc), swarm.WithMetrics(p.Metrics))
	for _, t := range p.Carriers.all() {
		s.AddTransport(t)
	}
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error { return s.Close() },
	})
	return s
}

// provideCircuit 中继客户端传输，所有节点都能经中继拨号与预留
func provideCircuit(s *swarm.Swarm, up *upgrader.Upgrader, l *slog.Logger) *relay.Transport {
	t := relay.NewTransport(s, up, relay.Options{Logger: logger.Named(l, "relay")})
	s.AddTransport(t)
	return t
}

// ════════════════════════════════════════════════════════════════════════════
//                              组合行为
// ════════════════════════════════════════════════════════════════════════════

type behaviourParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Identity  *identity.Identity
	Swarm     *swarm.Swarm
	Carriers  *carriers
	Config    *config.Config
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

func provideBehaviour(p behaviourParams) (*behaviour.Behaviour, error) {
	bc := behaviourConfig(p.Config, p.Carriers.dialers(), p.Logger, p.Metrics)
	b, err := behaviour.NewBehaviour(p.Identity, p.Swarm, bc)
	if err != nil {
		// 应用不会启动，OnStop 不会执行
		_ = p.Swarm.Close()
		return nil, fmt.Errorf("%w: %w", ErrBehaviourConstruction, err)
	}
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			// 组件在启动时才绑定套接字（如 mDNS），失败同样属于行为构造错误
			if err := b.Start(); err != nil {
				return fmt.Errorf("%w: %w", ErrBehaviourConstruction, err)
			}
			return nil
		},
		OnStop: func(context.Context) error { return b.Close() },
	})
	return b, nil
}

// subscribeTopics 订阅主主题，测试模式下额外订阅诊断主题
func subscribeTopics(b *behaviour.Behaviour, cfg *config.Config) error {
	for _, t := range topics(cfg) {
		if err := b.Gossip().Subscribe(t); err != nil {
			return fmt.Errorf("subscribe %s: %w", t, err)
		}
	}
	return nil
}
