package node

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/multierr"

	"github.com/FelixRiddle/swarm-weave/config"
	"github.com/FelixRiddle/swarm-weave/internal/behaviour"
	"github.com/FelixRiddle/swarm-weave/internal/core/messaging/gossipsub"
	"github.com/FelixRiddle/swarm-weave/internal/core/nat"
	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

// ════════════════════════════════════════════════════════════════════════════
//                              启动
// ════════════════════════════════════════════════════════════════════════════

// Start 绑定监听地址、启动组件并运行事件循环
//
// 阻塞直到 ctx 取消或 Close 被调用，随后执行离开流程并返回 nil。
// 事件流意外关闭时返回 ErrEventStreamClosed。
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	switch n.state {
	case StateRunning:
		n.mu.Unlock()
		return ErrAlreadyStarted
	case StateTerminated:
		n.mu.Unlock()
		return ErrNodeClosed
	}
	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	n.done = make(chan struct{})
	n.state = StateRunning
	n.mu.Unlock()

	defer close(n.done)
	defer cancel()

	if err := n.listen(); err != nil {
		_ = n.release(false)
		return err
	}

	startCtx, startCancel := context.WithTimeout(ctx, startTimeout)
	err := n.app.Start(startCtx)
	startCancel()
	if err != nil {
		_ = n.release(false)
		return fmt.Errorf("start node: %w", err)
	}
	n.log.Info("节点已启动", "addrs", n.ListenAddrs())

	n.dialBootstrap(ctx)
	n.readyOnce.Do(func() { close(n.ready) })

	return n.run(ctx)
}

// dialBootstrap 连接引导节点，并将其设为显式节点与优先可达性服务端
//
// 失败只记录警告，节点仍可通过局域网发现加入网络。
func (n *Node) dialBootstrap(ctx context.Context) {
	if n.bootstrap == nil {
		return
	}
	b := n.bootstrap

	dialCtx, cancel := context.WithTimeout(ctx, n.cfg.Transport.DialTimeout.Duration())
	_, err := n.swarm.Dial(dialCtx, b.id, b.addr)
	cancel()
	if err != nil {
		n.log.Warn("连接引导节点失败", "peer", b.id.ShortString(), "addr", b.addr, "err", err)
	} else {
		n.log.Info("已连接引导节点", "peer", b.id.ShortString(), "addr", b.addr)
	}

	n.behaviour.Apply(behaviour.AddExplicitPeer{Peer: b.id})
	n.behaviour.NAT().AddPreferredServer(b.id)
}

// ════════════════════════════════════════════════════════════════════════════
//                              事件循环
// ════════════════════════════════════════════════════════════════════════════

// run 每次迭代只处理一个输入行或一个事件
func (n *Node) run(ctx context.Context) error {
	lines := readLines(ctx, n.opts.input)
	events := n.behaviour.Events()

	for {
		select {
		case <-ctx.Done():
			n.leave()
			return nil

		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			n.handleLine(line)

		case ev, ok := <-events:
			if !ok {
				n.log.Error("事件流意外关闭")
				_ = n.release(true)
				return ErrEventStreamClosed
			}
			n.handleEvent(ev)
		}
	}
}

// readLines 逐行读取本地输入；r 为 nil 时返回 nil 通道
func readLines(ctx context.Context, r io.Reader) <-chan string {
	if r == nil {
		return nil
	}
	out := make(chan string)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case out <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// handleLine 发布失败只记录日志
func (n *Node) handleLine(line string) {
	// 空行不发布
	if strings.TrimSpace(line) == "" {
		return
	}
	id, err := n.Publish([]byte(line))
	if err != nil {
		n.log.Warn("发布失败", "err", err)
		return
	}
	n.log.Debug("已发布", "id", id, "size", len(line))
}

func (n *Node) handleEvent(ev behaviour.ComponentEvent) {
	switch e := ev.(type) {
	case behaviour.MessageEvent:
		n.deliver(e.Message)

	case behaviour.DiscoveryEvent:
		if e.Expired {
			n.log.Info("局域网节点过期", "peer", e.Peer.ShortString())
		} else {
			n.log.Info("发现局域网节点", "peer", e.Peer.ShortString(), "addrs", e.Addrs)
		}

	case behaviour.SelfDescriptionEvent:
		if e.Info != nil {
			n.log.Debug("收到自描述", "peer", e.Peer.ShortString(), "agent", e.Info.AgentVersion, "observed", e.Info.ObservedAddr)
		}

	case behaviour.ReachabilityEvent:
		if e.Event.Kind == nat.EventStatusChanged {
			n.log.Info("可达性变化", "from", e.Event.Previous, "to", e.Event.Status)
		}

	case behaviour.RelayEvent:
		n.log.Debug("中继事件", "kind", e.Event.Kind, "peer", e.Event.Peer.ShortString())

	case behaviour.ListenAddressEvent:
		if e.Closed {
			n.log.Info("监听地址已关闭", "addr", e.Addr)
		} else {
			n.log.Info("新监听地址", "addr", e.Addr)
		}

	case behaviour.LivenessEvent:
		if e.Event.Err != nil {
			n.log.Debug("存活探测失败", "peer", e.Event.Peer.ShortString(), "err", e.Event.Err)
		}
	}

	for _, cmd := range commandsFor(ev, n.cfg.Node.Relay) {
		if !n.behaviour.Apply(cmd) {
			n.log.Debug("命令未被处理", "cmd", cmd)
		}
	}
}

// deliver 主主题交给应用，诊断主题只记录日志
func (n *Node) deliver(m *gossipsub.Message) {
	switch m.Topic {
	case config.PrimaryTopic:
		n.log.Info("收到消息", "from", m.From.ShortString(), "id", m.ID, "data", string(m.Data))
		select {
		case n.messages <- m:
		default:
			n.log.Warn("接收队列已满，丢弃消息", "id", m.ID)
		}
	case config.DiagnosticTopic:
		n.log.Debug("诊断消息", "from", m.From.ShortString(), "id", m.ID, "data", string(m.Data))
	}
}

// commandsFor 事件到命令的映射
//
// 自描述中的观察地址仅在中继角色下记为外部地址，无法解析的地址忽略。
func commandsFor(ev behaviour.ComponentEvent, relayRole bool) []behaviour.Command {
	switch e := ev.(type) {
	case behaviour.DiscoveryEvent:
		if e.Expired {
			return []behaviour.Command{behaviour.RemoveExplicitPeer{Peer: e.Peer}}
		}
		return []behaviour.Command{
			behaviour.AddExplicitPeer{Peer: e.Peer},
			behaviour.DialPeer{Peer: e.Peer, Addrs: e.Addrs},
		}

	case behaviour.SelfDescriptionEvent:
		if !relayRole || e.Info == nil {
			return nil
		}
		if a, err := types.ParseMultiaddr(string(e.Info.ObservedAddr)); err == nil {
			return []behaviour.Command{behaviour.AddExternalAddress{Addr: a}}
		}

	case behaviour.ReachabilityEvent:
		if e.Event.Kind == nat.EventExternalAddr && e.Event.Addr != "" {
			return []behaviour.Command{behaviour.AddExternalAddress{Addr: e.Event.Addr}}
		}
	}
	return nil
}

// ════════════════════════════════════════════════════════════════════════════
//                              离开
// ════════════════════════════════════════════════════════════════════════════

// leave 取消订阅、清空显式节点、关闭中继与 Swarm
func (n *Node) leave() {
	n.log.Info("正在离开网络")

	g := n.behaviour.Gossip()
	for _, t := range g.Topics() {
		if err := g.Unsubscribe(t); err != nil {
			n.log.Debug("取消订阅失败", "topic", t, "err", err)
		}
	}
	g.ClearExplicitPeers()

	err := n.circuit.Close()
	if rs := n.behaviour.Relay(); rs != nil {
		err = multierr.Append(err, rs.Close())
	}
	err = multierr.Append(err, n.release(true))
	if err != nil {
		n.log.Warn("离开时关闭组件出错", "err", err)
	}
	n.log.Info("节点已退出")
}
