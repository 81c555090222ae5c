package node

import (
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/FelixRiddle/swarm-weave/config"
	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

// listenAddrs 需要绑定的地址
//
//  1. 主地址：ip/tcp/<port> 与 ip/udp/<port>/quic-v1，port 未指定时为 0
//  2. 中继角色：额外的 TCP 中继监听 ip/tcp/<relay_port>
//  3. 总是追加 /ip4/0.0.0.0/udp/0/quic-v1 与 /ip4/0.0.0.0/tcp/0
func listenAddrs(cfg *config.Config) []types.Multiaddr {
	nc, tc := cfg.Node, cfg.Transport

	ip := "/ip4/0.0.0.0"
	if nc.UseIPv6 {
		ip = "/ip6/::"
	}

	var addrs []types.Multiaddr
	if tc.EnableTCP {
		addrs = append(addrs, types.Multiaddr(fmt.Sprintf("%s/tcp/%d", ip, nc.ListenPort)))
	}
	if tc.EnableQUIC {
		addrs = append(addrs, types.Multiaddr(fmt.Sprintf("%s/udp/%d/quic-v1", ip, nc.ListenPort)))
	}
	if nc.Relay && tc.EnableTCP {
		addrs = append(addrs, types.Multiaddr(fmt.Sprintf("%s/tcp/%d", ip, nc.RelayPort)))
	}
	if tc.EnableQUIC {
		addrs = append(addrs, "/ip4/0.0.0.0/udp/0/quic-v1")
	}
	if tc.EnableTCP {
		addrs = append(addrs, "/ip4/0.0.0.0/tcp/0")
	}
	return addrs
}

// listen 并发绑定所有监听地址，任一失败即整体失败
//
// 绑定成功的地址由事件循环以 ListenAddressEvent 记录。
func (n *Node) listen() error {
	var g errgroup.Group
	for _, a := range listenAddrs(n.cfg) {
		g.Go(func() error {
			if _, err := n.swarm.Listen(a); err != nil {
				return fmt.Errorf("%w: %s: %w", ErrListen, a, err)
			}
			return nil
		})
	}
	return g.Wait()
}
