package behaviour

import (
	"fmt"

	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

// Command 事件处理产生的副作用，由 Behaviour.Apply 统一执行
type Command interface {
	fmt.Stringer
	command()
}

// AddExternalAddress 记录外部可达地址
type AddExternalAddress struct {
	Addr types.Multiaddr
}

// AddExplicitPeer 将节点加入广播的显式节点集合
type AddExplicitPeer struct {
	Peer types.PeerID
}

// RemoveExplicitPeer 将节点移出显式节点集合
type RemoveExplicitPeer struct {
	Peer types.PeerID
}

// DialPeer 在后台连接节点
type DialPeer struct {
	Peer  types.PeerID
	Addrs []types.Multiaddr
}

func (AddExternalAddress) command() {}

func (AddExplicitPeer) command() {}

func (RemoveExplicitPeer) command() {}

func (DialPeer) command() {}

func (c AddExternalAddress) String() string {
	return "add-external-address " + string(c.Addr)
}

func (c AddExplicitPeer) String() string {
	return "add-explicit-peer " + c.Peer.ShortString()
}

func (c RemoveExplicitPeer) String() string {
	return "remove-explicit-peer " + c.Peer.ShortString()
}

func (c DialPeer) String() string {
	return fmt.Sprintf("dial-peer %s (%d addrs)", c.Peer.ShortString(), len(c.Addrs))
}
