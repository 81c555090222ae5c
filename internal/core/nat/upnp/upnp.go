// Package upnp 通过 UPnP IGD 网关建立端口映射
//
// 按 IGDv2 WANIPConnection2、IGDv2 WANIPConnection1、IGDv2 WANPPPConnection1、
// IGDv1 WANIPConnection1、IGDv1 WANPPPConnection1 的顺序发现网关服务。
package upnp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/huin/goupnp"
	"github.com/huin/goupnp/dcps/internetgateway1"
	"github.com/huin/goupnp/dcps/internetgateway2"

	"github.com/FelixRiddle/swarm-weave/internal/util/logger"
)

var log = logger.Logger("nat/upnp")

// DefaultTimeout SSDP 发现超时
const DefaultTimeout = 5 * time.Second

// mappingDescription 映射描述
const mappingDescription = "swarm-weave"

var (
	// ErrNoGateway 未发现 IGD 网关
	ErrNoGateway = errors.New("upnp: no internet gateway device found")

	// ErrInvalidExternalIP 网关返回无法解析的外部地址
	ErrInvalidExternalIP = errors.New("upnp: invalid external ip")
)

// igdClient 各版本 WAN 连接服务共有的调用
type igdClient interface {
	GetExternalIPAddressCtx(ctx context.Context) (string, error)
	AddPortMappingCtx(ctx context.Context, remoteHost string, externalPort uint16, protocol string,
		internalPort uint16, internalClient string, enabled bool, description string, leaseDuration uint32) error
	DeletePortMappingCtx(ctx context.Context, remoteHost string, externalPort uint16, protocol string) error
}

// Mapper UPnP 端口映射器
type Mapper struct {
	client   igdClient
	service  string
	internal string

	mu       sync.Mutex
	external map[string]uint16
}

// Discover 通过 SSDP 查找网关
func Discover(ctx context.Context, timeout time.Duration) (*Mapper, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type candidate struct {
		name string
		find func(context.Context) (igdClient, *goupnp.ServiceClient, error)
	}
	candidates := []candidate{
		{"IGDv2 WANIPConnection2", func(ctx context.Context) (igdClient, *goupnp.ServiceClient, error) {
			cs, _, err := internetgateway2.NewWANIPConnection2ClientsCtx(ctx)
			if err != nil || len(cs) == 0 {
				return nil, nil, err
			}
			return cs[0], &cs[0].ServiceClient, nil
		}},
		{"IGDv2 WANIPConnection1", func(ctx context.Context) (igdClient, *goupnp.ServiceClient, error) {
			cs, _, err := internetgateway2.NewWANIPConnection1ClientsCtx(ctx)
			if err != nil || len(cs) == 0 {
				return nil, nil, err
			}
			return cs[0], &cs[0].ServiceClient, nil
		}},
		{"IGDv2 WANPPPConnection1", func(ctx context.Context) (igdClient, *goupnp.ServiceClient, error) {
			cs, _, err := internetgateway2.NewWANPPPConnection1ClientsCtx(ctx)
			if err != nil || len(cs) == 0 {
				return nil, nil, err
			}
			return cs[0], &cs[0].ServiceClient, nil
		}},
		{"IGDv1 WANIPConnection1", func(ctx context.Context) (igdClient, *goupnp.ServiceClient, error) {
			cs, _, err := internetgateway1.NewWANIPConnection1ClientsCtx(ctx)
			if err != nil || len(cs) == 0 {
				return nil, nil, err
			}
			return cs[0], &cs[0].ServiceClient, nil
		}},
		{"IGDv1 WANPPPConnection1", func(ctx context.Context) (igdClient, *goupnp.ServiceClient, error) {
			cs, _, err := internetgateway1.NewWANPPPConnection1ClientsCtx(ctx)
			if err != nil || len(cs) == 0 {
				return nil, nil, err
			}
			return cs[0], &cs[0].ServiceClient, nil
		}},
	}

	for _, c := range candidates {
		client, sc, err := c.find(ctx)
		if err != nil {
			log.Debug("UPnP 发现失败", "service", c.name, "err", err)
		}
		if client == nil {
			if ctx.Err() != nil {
				break
			}
			continue
		}
		internal, err := localAddrFor(sc.Location)
		if err != nil {
			log.Debug("无法确定到网关的本地地址", "service", c.name, "err", err)
			continue
		}
		log.Info("发现 UPnP 网关", "service", c.name, "internal", internal)
		return newMapper(client, c.name, internal), nil
	}
	return nil, ErrNoGateway
}

func newMapper(c igdClient, service, internal string) *Mapper {
	return &Mapper{
		client:   c,
		service:  service,
		internal: internal,
		external: make(map[string]uint16),
	}
}

// localAddrFor 返回通往网关的本地 IP（UDP "连接"不发送数据）
func localAddrFor(loc *url.URL) (string, error) {
	if loc == nil {
		return "", ErrNoGateway
	}
	host := loc.Host
	if loc.Port() == "" {
		host = net.JoinHostPort(loc.Hostname(), "80")
	}
	conn, err := net.Dial("udp4", host)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}

// Name 返回映射器名称
func (m *Mapper) Name() string {
	return "upnp"
}

// ExternalIP 查询网关的外部 IP
func (m *Mapper) ExternalIP(ctx context.Context) (net.IP, error) {
	s, err := m.client.GetExternalIPAddressCtx(ctx)
	if err != nil {
		return nil, fmt.Errorf("upnp: external address: %w", err)
	}
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidExternalIP, s)
	}
	return ip, nil
}

// AddMapping 建立映射，优先请求与内部端口相同的外部端口
func (m *Mapper) AddMapping(ctx context.Context, protocol string, internalPort int, lifetime time.Duration) (int, error) {
	k := key(protocol, internalPort)
	m.mu.Lock()
	port, ok := m.external[k]
	m.mu.Unlock()
	if !ok {
		port = uint16(internalPort)
	}

	proto := strings.ToUpper(protocol)
	lease := uint32(lifetime / time.Second)
	err := m.client.AddPortMappingCtx(ctx, "", port, proto, uint16(internalPort), m.internal, true, mappingDescription, lease)
	if err != nil && !ok {
		// 部分网关只支持永久租约
		err = m.client.AddPortMappingCtx(ctx, "", port, proto, uint16(internalPort), m.internal, true, mappingDescription, 0)
	}
	if err != nil {
		return 0, fmt.Errorf("upnp: map %s/%d: %w", protocol, internalPort, err)
	}

	m.mu.Lock()
	m.external[k] = port
	m.mu.Unlock()
	return int(port), nil
}

// DeleteMapping 删除映射
func (m *Mapper) DeleteMapping(ctx context.Context, protocol string, internalPort int) error {
	k := key(protocol, internalPort)
	m.mu.Lock()
	port, ok := m.external[k]
	delete(m.external, k)
	m.mu.Unlock()
	if !ok {
		return nil
	}

	if err := m.client.DeletePortMappingCtx(ctx, "", port, strings.ToUpper(protocol)); err != nil {
		return fmt.Errorf("upnp: unmap %s/%d: %w", protocol, internalPort, err)
	}
	return nil
}

func key(protocol string, port int) string {
	return fmt.Sprintf("%s/%d", protocol, port)
}
