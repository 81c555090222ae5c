package mdns

import (
	"net"
	"strings"

	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

const (
	txtMaxLen  = 255
	txtIDKey   = "id="
	txtAddrKey = "addrs="
)

// buildTXTRecords 构建 TXT 记录，单条不超过 255 字节
func buildTXTRecords(id types.PeerID, addrs []types.Multiaddr) []string {
	txt := []string{txtIDKey + id.String()}

	cur := txtAddrKey
	flush := func() {
		if cur != txtAddrKey {
			txt = append(txt, cur)
		}
		cur = txtAddrKey
	}
	for _, a := range addrs {
		s := string(a)
		if s == "" || len(txtAddrKey)+len(s) > txtMaxLen {
			continue
		}
		next := s
		if cur != txtAddrKey {
			next = "," + s
		}
		if len(cur)+len(next) > txtMaxLen {
			flush()
			next = s
		}
		cur += next
	}
	flush()
	return txt
}

// parseTXTRecords 解析 TXT 记录，地址分片聚合并去重
func parseTXTRecords(fields []string) (types.PeerID, []types.Multiaddr, bool) {
	var (
		id    types.PeerID
		found bool
		addrs []types.Multiaddr
		seen  = make(map[types.Multiaddr]struct{})
	)
	for _, f := range fields {
		switch {
		case strings.HasPrefix(f, txtIDKey):
			p, err := types.ParsePeerID(strings.TrimPrefix(f, txtIDKey))
			if err != nil {
				return types.PeerID{}, nil, false
			}
			id, found = p, true
		case strings.HasPrefix(f, txtAddrKey):
			for _, s := range strings.Split(strings.TrimPrefix(f, txtAddrKey), ",") {
				a, err := types.ParseMultiaddr(s)
				if err != nil || a.IsEmpty() {
					continue
				}
				if _, ok := seen[a]; ok {
					continue
				}
				seen[a] = struct{}{}
				addrs = append(addrs, a)
			}
		}
	}
	return id, addrs, found
}

// ============================================================================
//                              地址筛选
// ============================================================================

// advertisable 选出适合在局域网通告的地址，通配地址展开为各网卡地址
func advertisable(listen []types.Multiaddr, ips []net.IP) []types.Multiaddr {
	var out []types.Multiaddr
	seen := make(map[types.Multiaddr]struct{})
	add := func(a types.Multiaddr) {
		if _, ok := seen[a]; ok {
			return
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}

	for _, a := range listen {
		if a.IsRelay() || a.Port() == 0 {
			continue
		}
		if !a.IsUnspecified() {
			if !a.IsLoopback() {
				add(a.WithoutPeerID())
			}
			continue
		}
		prefix := "/ip4/0.0.0.0/"
		if a.IsIP6() {
			prefix = "/ip6/::/"
		}
		for _, ip := range ips {
			v4 := ip.To4() != nil
			if v4 == a.IsIP6() {
				continue
			}
			proto := "/ip4/"
			if !v4 {
				proto = "/ip6/"
			}
			add(types.Multiaddr(strings.Replace(string(a), prefix, proto+ip.String()+"/", 1)))
		}
	}
	return out
}

// servicePort 取第一个 TCP 地址的端口，没有时取任意端口
func servicePort(addrs []types.Multiaddr) int {
	for _, a := range addrs {
		if a.Transport() == types.ProtoTCP {
			return a.Port()
		}
	}
	for _, a := range addrs {
		if p := a.Port(); p > 0 {
			return p
		}
	}
	return 0
}

// virtualInterfacePrefixes 虚拟网卡前缀，其地址跨机通常不可达
var virtualInterfacePrefixes = []string{
	"docker", "br-", "veth", "virbr", "vboxnet", "vmnet",
	"utun", "ipsec", "awdl", "llw", "tun", "tap", "cni", "flannel", "calico", "weave", "lxcbr", "lxdbr",
}

func isVirtualInterface(name string) bool {
	for _, p := range virtualInterfacePrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// isNonRoutable CGNAT 与 RFC 2544 基准测试地址段，常见于 VPN 虚拟网卡
func isNonRoutable(ip net.IP) bool {
	ip4 := ip.To4()
	if ip4 == nil {
		return false
	}
	if ip4[0] == 198 && (ip4[1] == 18 || ip4[1] == 19) {
		return true
	}
	return ip4[0] == 100 && ip4[1] >= 64 && ip4[1] <= 127
}

// localIPs 返回可用于局域网通告的网卡地址
func localIPs(ifaceName string, disableIPv6 bool) []net.IP {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	var ips []net.IP
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if ifaceName != "" && iface.Name != ifaceName {
			continue
		}
		if ifaceName == "" && isVirtualInterface(iface.Name) {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipNet.IP
			if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() || isNonRoutable(ip) {
				continue
			}
			if ip.To4() == nil && disableIPv6 {
				continue
			}
			ips = append(ips, ip)
		}
	}
	return ips
}
