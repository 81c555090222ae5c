package behaviour

import (
	"github.com/FelixRiddle/swarm-weave/internal/core/messaging/gossipsub"
	"github.com/FelixRiddle/swarm-weave/internal/core/nat"
	"github.com/FelixRiddle/swarm-weave/internal/core/protocol/system/identify"
	"github.com/FelixRiddle/swarm-weave/internal/core/protocol/system/ping"
	"github.com/FelixRiddle/swarm-weave/internal/core/relay"
	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

// Kind 组件事件类别
type Kind int

const (
	// KindDiscovery 局域网发现
	KindDiscovery Kind = iota
	// KindMessage 广播消息
	KindMessage
	// KindSelfDescription 对端自描述
	KindSelfDescription
	// KindReachability 可达性
	KindReachability
	// KindRelay 中继
	KindRelay
	// KindLiveness 存活探测
	KindLiveness
	// KindListen 本地监听地址变化
	KindListen
)

// String 返回类别名
func (k Kind) String() string {
	switch k {
	case KindDiscovery:
		return "discovery"
	case KindMessage:
		return "message"
	case KindSelfDescription:
		return "self-description"
	case KindReachability:
		return "reachability"
	case KindRelay:
		return "relay"
	case KindLiveness:
		return "liveness"
	case KindListen:
		return "listen"
	default:
		return "unknown"
	}
}

// ComponentEvent 组件事件
//
// 具体类型为 DiscoveryEvent、MessageEvent、SelfDescriptionEvent、
// ReachabilityEvent、RelayEvent、LivenessEvent 或 ListenAddressEvent。
type ComponentEvent interface {
	Kind() Kind
}

var (
	_ ComponentEvent = DiscoveryEvent{}
	_ ComponentEvent = MessageEvent{}
	_ ComponentEvent = SelfDescriptionEvent{}
	_ ComponentEvent = ReachabilityEvent{}
	_ ComponentEvent = RelayEvent{}
	_ ComponentEvent = LivenessEvent{}
	_ ComponentEvent = ListenAddressEvent{}
)

// DiscoveryEvent 节点进入或离开发现窗口
type DiscoveryEvent struct {
	// Expired 为 true 表示节点记录过期，否则为新发现
	Expired bool
	Peer    types.PeerID
	Addrs   []types.Multiaddr
}

func (DiscoveryEvent) Kind() Kind { return KindDiscovery }

// MessageEvent 投递到本地订阅的广播消息
type MessageEvent struct {
	*gossipsub.Message
}

func (MessageEvent) Kind() Kind { return KindMessage }

// SelfDescriptionEvent 收到对端的 identify 信息
type SelfDescriptionEvent struct {
	Peer types.PeerID
	Info *identify.Info
}

func (SelfDescriptionEvent) Kind() Kind { return KindSelfDescription }

// ReachabilityEvent 可达性翻转或得到外部地址
type ReachabilityEvent struct {
	Event nat.Event
}

func (ReachabilityEvent) Kind() Kind { return KindReachability }

// RelayEvent 中继预留与电路事件
type RelayEvent struct {
	Event relay.Event
}

func (RelayEvent) Kind() Kind { return KindRelay }

// LivenessEvent 一次 ping 的结果
type LivenessEvent struct {
	Event ping.Event
}

func (LivenessEvent) Kind() Kind { return KindLiveness }

// ListenAddressEvent 新的监听地址，或监听地址失效
type ListenAddressEvent struct {
	Addr   types.Multiaddr
	Closed bool
}

func (ListenAddressEvent) Kind() Kind { return KindListen }
