package types

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ============================================================================
//                              Multiaddr - 统一地址类型
// ============================================================================

// Multiaddr 统一地址类型（值对象，规范文本形式）
//
// 支持的组件：
//   - /ip4/<ip>, /ip6/<ip>, /dns4/<host>, /dns6/<host>
//   - /tcp/<port>, /udp/<port>/quic-v1
//   - /p2p/<peer-id>, /p2p-circuit
//
// 格式示例：
//   - /ip4/0.0.0.0/tcp/4001
//   - /ip6/::/udp/4001/quic-v1
//   - /ip4/1.2.3.4/tcp/4001/p2p/<relay>/p2p-circuit/p2p/<dest>
type Multiaddr string

// 协议名
const (
	ProtoIP4     = "ip4"
	ProtoIP6     = "ip6"
	ProtoDNS4    = "dns4"
	ProtoDNS6    = "dns6"
	ProtoTCP     = "tcp"
	ProtoUDP     = "udp"
	ProtoQUICV1  = "quic-v1"
	ProtoP2P     = "p2p"
	ProtoCircuit = "p2p-circuit"
)

var (
	// ErrInvalidMultiaddr 无效的 multiaddr 格式
	ErrInvalidMultiaddr = errors.New("invalid multiaddr format")

	// ErrEmptyMultiaddr 空 multiaddr
	ErrEmptyMultiaddr = errors.New("empty multiaddr")

	// ErrNotMultiaddrFormat 不以 / 开头
	ErrNotMultiaddrFormat = errors.New("not multiaddr format: must start with /")

	// ErrUnsupportedNetAddr 无法转换的 net.Addr
	ErrUnsupportedNetAddr = errors.New("unsupported net.Addr")
)

// Component multiaddr 的一个 协议/值 组件
type Component struct {
	Protocol string
	Value    string
}

// takesValue 协议是否带值
func takesValue(proto string) (bool, bool) {
	switch proto {
	case ProtoIP4, ProtoIP6, ProtoDNS4, ProtoDNS6, ProtoTCP, ProtoUDP, ProtoP2P:
		return true, true
	case ProtoQUICV1, ProtoCircuit:
		return false, true
	default:
		return false, false
	}
}

// Split 将 multiaddr 拆分为组件并校验每个值
func (m Multiaddr) Split() ([]Component, error) {
	s := string(m)
	if s == "" {
		return nil, ErrEmptyMultiaddr
	}
	if !strings.HasPrefix(s, "/") {
		return nil, ErrNotMultiaddrFormat
	}

	parts := strings.Split(strings.TrimSuffix(s[1:], "/"), "/")
	var comps []Component
	for i := 0; i < len(parts); i++ {
		proto := parts[i]
		hasValue, known := takesValue(proto)
		if !known {
			return nil, fmt.Errorf("%w: unknown protocol %q", ErrInvalidMultiaddr, proto)
		}
		c := Component{Protocol: proto}
		if hasValue {
			if i+1 >= len(parts) || parts[i+1] == "" {
				return nil, fmt.Errorf("%w: %s missing value", ErrInvalidMultiaddr, proto)
			}
			i++
			c.Value = parts[i]
			if err := validateValue(proto, c.Value); err != nil {
				return nil, err
			}
		}
		comps = append(comps, c)
	}
	return comps, nil
}

func validateValue(proto, v string) error {
	switch proto {
	case ProtoIP4:
		ip := net.ParseIP(v)
		if ip == nil || ip.To4() == nil {
			return fmt.Errorf("%w: bad ip4 %q", ErrInvalidMultiaddr, v)
		}
	case ProtoIP6:
		ip := net.ParseIP(v)
		if ip == nil || !strings.Contains(v, ":") {
			return fmt.Errorf("%w: bad ip6 %q", ErrInvalidMultiaddr, v)
		}
	case ProtoTCP, ProtoUDP:
		p, err := strconv.Atoi(v)
		if err != nil || p < 0 || p > 65535 {
			return fmt.Errorf("%w: bad port %q", ErrInvalidMultiaddr, v)
		}
	case ProtoP2P:
		if _, err := ParsePeerID(v); err != nil {
			return fmt.Errorf("%w: bad peer id %q", ErrInvalidMultiaddr, v)
		}
	}
	return nil
}

// ParseMultiaddr 解析并校验 multiaddr
func ParseMultiaddr(s string) (Multiaddr, error) {
	m := Multiaddr(strings.TrimSpace(s))
	if _, err := m.Split(); err != nil {
		return "", err
	}
	return m, nil
}

// MustParseMultiaddr 解析 multiaddr，失败时 panic（仅用于常量和测试）
func MustParseMultiaddr(s string) Multiaddr {
	ma, err := ParseMultiaddr(s)
	if err != nil {
		panic(fmt.Sprintf("MustParseMultiaddr(%q): %v", s, err))
	}
	return ma
}

// Join 由组件构建 multiaddr
func Join(comps ...Component) Multiaddr {
	var b strings.Builder
	for _, c := range comps {
		b.WriteByte('/')
		b.WriteString(c.Protocol)
		if c.Value != "" {
			b.WriteByte('/')
			b.WriteString(c.Value)
		}
	}
	return Multiaddr(b.String())
}

// ============================================================================
//                              访问方法
// ============================================================================

// String 返回规范字符串
func (m Multiaddr) String() string {
	return string(m)
}

// IsEmpty 是否为空
func (m Multiaddr) IsEmpty() bool {
	return m == ""
}

func (m Multiaddr) value(proto string) (string, bool) {
	comps, err := m.Split()
	if err != nil {
		return "", false
	}
	for _, c := range comps {
		if c.Protocol == proto {
			return c.Value, true
		}
	}
	return "", false
}

// IP 返回第一个 IP 组件
func (m Multiaddr) IP() net.IP {
	if v, ok := m.value(ProtoIP4); ok {
		return net.ParseIP(v)
	}
	if v, ok := m.value(ProtoIP6); ok {
		return net.ParseIP(v)
	}
	return nil
}

// Port 返回第一个 tcp/udp 端口
func (m Multiaddr) Port() int {
	comps, err := m.Split()
	if err != nil {
		return 0
	}
	for _, c := range comps {
		if c.Protocol == ProtoTCP || c.Protocol == ProtoUDP {
			p, _ := strconv.Atoi(c.Value)
			return p
		}
	}
	return 0
}

// Transport 返回传输类型："tcp"、"quic-v1"、"p2p-circuit" 或 ""
func (m Multiaddr) Transport() string {
	comps, err := m.Split()
	if err != nil {
		return ""
	}
	transport := ""
	for _, c := range comps {
		switch c.Protocol {
		case ProtoCircuit:
			return ProtoCircuit
		case ProtoTCP, ProtoQUICV1:
			if transport == "" {
				transport = c.Protocol
			}
		}
	}
	return transport
}

// PeerID 返回第一个 /p2p/ 组件（中继地址中即中继节点）
func (m Multiaddr) PeerID() PeerID {
	if v, ok := m.value(ProtoP2P); ok {
		id, _ := ParsePeerID(v)
		return id
	}
	return EmptyPeerID
}

// WithPeerID 追加 /p2p/<id>（已存在相同结尾时不重复）
func (m Multiaddr) WithPeerID(id PeerID) Multiaddr {
	suffix := "/" + ProtoP2P + "/" + id.String()
	if strings.HasSuffix(string(m), suffix) {
		return m
	}
	return Multiaddr(string(m) + suffix)
}

// WithoutPeerID 去掉末尾的 /p2p/<id>
func (m Multiaddr) WithoutPeerID() Multiaddr {
	comps, err := m.Split()
	if err != nil || len(comps) == 0 {
		return m
	}
	if last := comps[len(comps)-1]; last.Protocol == ProtoP2P {
		return Join(comps[:len(comps)-1]...)
	}
	return m
}

// WithIP 替换第一个 IP 组件，没有 IP 组件时原样返回
func (m Multiaddr) WithIP(ip net.IP) Multiaddr {
	comps, err := m.Split()
	if err != nil {
		return m
	}
	for i, c := range comps {
		if c.Protocol == ProtoIP4 || c.Protocol == ProtoIP6 {
			comps[i] = ipComponent(ip)
			return Join(comps...)
		}
	}
	return m
}

// ============================================================================
//                              判断方法
// ============================================================================

// IsRelay 是否是中继地址
func (m Multiaddr) IsRelay() bool {
	return strings.Contains(string(m), "/"+ProtoCircuit)
}

// IsIP6 是否为 IPv6 地址
func (m Multiaddr) IsIP6() bool {
	return strings.HasPrefix(string(m), "/"+ProtoIP6+"/")
}

// IsPublic 是否是公网地址
func (m Multiaddr) IsPublic() bool {
	ip := m.IP()
	if ip == nil {
		return false
	}
	return !ip.IsLoopback() &&
		!ip.IsPrivate() &&
		!ip.IsUnspecified() &&
		!ip.IsLinkLocalUnicast() &&
		!ip.IsLinkLocalMulticast()
}

// IsLoopback 是否是回环地址
func (m Multiaddr) IsLoopback() bool {
	ip := m.IP()
	return ip != nil && ip.IsLoopback()
}

// IsUnspecified 是否是通配地址（0.0.0.0 / ::）
func (m Multiaddr) IsUnspecified() bool {
	ip := m.IP()
	return ip != nil && ip.IsUnspecified()
}

// ============================================================================
//                              net.Addr 转换
// ============================================================================

// FromNetAddr 将 TCP/UDP 地址转换为 multiaddr，UDP 视为 quic-v1
func FromNetAddr(a net.Addr) (Multiaddr, error) {
	var (
		ip        net.IP
		port      int
		transport []Component
	)
	switch addr := a.(type) {
	case *net.TCPAddr:
		ip, port = addr.IP, addr.Port
		transport = []Component{{Protocol: ProtoTCP, Value: strconv.Itoa(port)}}
	case *net.UDPAddr:
		ip, port = addr.IP, addr.Port
		transport = []Component{{Protocol: ProtoUDP, Value: strconv.Itoa(port)}, {Protocol: ProtoQUICV1}}
	default:
		return "", fmt.Errorf("%w: %T", ErrUnsupportedNetAddr, a)
	}

	return Join(append([]Component{ipComponent(ip)}, transport...)...), nil
}

func ipComponent(ip net.IP) Component {
	if ip == nil {
		return Component{Protocol: ProtoIP4, Value: "0.0.0.0"}
	}
	if v4 := ip.To4(); v4 != nil {
		return Component{Protocol: ProtoIP4, Value: v4.String()}
	}
	return Component{Protocol: ProtoIP6, Value: ip.String()}
}

// DialArgs 返回 net 包使用的 (network, host:port)
//
// network 为 "tcp4"/"tcp6"/"udp4"/"udp6"，中继地址返回错误。
func (m Multiaddr) DialArgs() (string, string, error) {
	comps, err := m.Split()
	if err != nil {
		return "", "", err
	}
	if m.IsRelay() {
		return "", "", fmt.Errorf("%w: relay address has no direct dial args", ErrInvalidMultiaddr)
	}

	var host, family, network, port string
	for _, c := range comps {
		switch c.Protocol {
		case ProtoIP4, ProtoDNS4:
			host, family = c.Value, "4"
		case ProtoIP6, ProtoDNS6:
			host, family = c.Value, "6"
		case ProtoTCP, ProtoUDP:
			if network == "" {
				network, port = c.Protocol, c.Value
			}
		}
	}
	if host == "" || network == "" {
		return "", "", fmt.Errorf("%w: %s has no host/port", ErrInvalidMultiaddr, m)
	}
	return network + family, net.JoinHostPort(host, port), nil
}

// ============================================================================
//                              中继地址
// ============================================================================

// RelayAddr 构建中继地址 <relayBase>/p2p/<relay>/p2p-circuit/p2p/<dest>
func RelayAddr(relayBase Multiaddr, relay, dest PeerID) Multiaddr {
	return Multiaddr(string(relayBase.WithoutPeerID().WithPeerID(relay)) +
		"/" + ProtoCircuit + "/" + ProtoP2P + "/" + dest.String())
}

// SplitRelay 解析中继地址，返回中继基础地址、中继节点与目标节点
func (m Multiaddr) SplitRelay() (Multiaddr, PeerID, PeerID, error) {
	base, rest, ok := strings.Cut(string(m), "/"+ProtoCircuit)
	if !ok {
		return "", EmptyPeerID, EmptyPeerID, fmt.Errorf("%w: not a relay address", ErrInvalidMultiaddr)
	}
	relayAddr := Multiaddr(base)
	relay := relayAddr.lastPeerID()
	if relay.IsEmpty() {
		return "", EmptyPeerID, EmptyPeerID, fmt.Errorf("%w: missing relay peer id", ErrInvalidMultiaddr)
	}
	var dest PeerID
	if rest != "" {
		dest = Multiaddr(rest).PeerID()
	}
	return relayAddr.WithoutPeerID(), relay, dest, nil
}

func (m Multiaddr) lastPeerID() PeerID {
	comps, err := m.Split()
	if err != nil || len(comps) == 0 {
		return EmptyPeerID
	}
	last := comps[len(comps)-1]
	if last.Protocol != ProtoP2P {
		return EmptyPeerID
	}
	id, _ := ParsePeerID(last.Value)
	return id
}
