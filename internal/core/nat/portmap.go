package nat

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/FelixRiddle/swarm-weave/internal/core/nat/natpmp"
	"github.com/FelixRiddle/swarm-weave/internal/core/nat/stun"
	"github.com/FelixRiddle/swarm-weave/internal/core/nat/upnp"
	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

// ============================================================================
//                              端口映射
// ============================================================================

// PortMapper 网关端口映射
//
// protocol 为 "tcp" 或 "udp"。
type PortMapper interface {
	Name() string
	ExternalIP(ctx context.Context) (net.IP, error)
	AddMapping(ctx context.Context, protocol string, internalPort int, lifetime time.Duration) (int, error)
	DeleteMapping(ctx context.Context, protocol string, internalPort int) error
}

var (
	_ PortMapper = (*natpmp.Mapper)(nil)
	_ PortMapper = (*upnp.Mapper)(nil)
)

// discoverMapper 先尝试 NAT-PMP，再回退到 UPnP
func discoverMapper(timeout time.Duration) func(context.Context) (PortMapper, error) {
	return func(ctx context.Context) (PortMapper, error) {
		pm, err := natpmp.Discover(ctx, timeout)
		if err == nil {
			return pm, nil
		}
		log.Debug("NAT-PMP 不可用", "err", err)

		um, err := upnp.Discover(ctx, timeout)
		if err == nil {
			return um, nil
		}
		log.Debug("UPnP 不可用", "err", err)
		return nil, ErrNoMapper
	}
}

// mapping 一个已建立的映射
type mapping struct {
	protocol string
	internal int
	listen   types.Multiaddr
}

// mappingLoop 发现网关，映射监听端口并在租约过半时续约
func (s *Service) mappingLoop() {
	defer s.wg.Done()

	discover := s.cfg.DiscoverMapper
	if discover == nil {
		discover = discoverMapper(s.cfg.MappingTimeout)
	}
	dctx, cancel := context.WithTimeout(s.ctx, 3*s.cfg.MappingTimeout)
	mapper, err := discover(dctx)
	cancel()
	if err != nil {
		if s.ctx.Err() == nil {
			s.log.Info("未找到可用的端口映射网关", "err", err)
		}
		return
	}

	var active []mapping
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.MappingTimeout)
		defer cancel()
		for _, m := range active {
			if err := mapper.DeleteMapping(ctx, m.protocol, m.internal); err != nil {
				s.log.Debug("删除端口映射失败", "mapper", mapper.Name(), "port", m.internal, "err", err)
			}
		}
	}()

	active = s.refreshMappings(mapper, active)

	ticker := s.clock.Ticker(s.cfg.MappingLifetime / 2)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			active = s.refreshMappings(mapper, active)
		}
	}
}

// refreshMappings 为当前 IPv4 监听地址建立或续约映射，返回成功的映射
func (s *Service) refreshMappings(mapper PortMapper, previous []mapping) []mapping {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.MappingTimeout)
	defer cancel()

	extIP, err := mapper.ExternalIP(ctx)
	if err != nil {
		s.log.Debug("获取网关外部地址失败", "mapper", mapper.Name(), "err", err)
		return previous
	}

	var active []mapping
	for _, m := range mappableAddrs(s.net.ListenAddrs()) {
		port, err := mapper.AddMapping(ctx, m.protocol, m.internal, s.cfg.MappingLifetime)
		if err != nil {
			s.log.Debug("端口映射失败", "mapper", mapper.Name(), "proto", m.protocol, "port", m.internal, "err", err)
			continue
		}
		active = append(active, m)
		s.announce(withPort(m.listen.WithIP(extIP), port), mapper.Name())
	}
	return active
}

// mappableAddrs 可映射的监听地址：IPv4、非回环、非中继
func mappableAddrs(listen []types.Multiaddr) []mapping {
	seen := make(map[string]struct{})
	var out []mapping
	for _, a := range listen {
		if a.IsRelay() || a.IsIP6() || a.IsLoopback() || a.Port() == 0 {
			continue
		}
		proto := "tcp"
		if a.Transport() == types.ProtoQUICV1 {
			proto = "udp"
		}
		k := proto + "/" + strconv.Itoa(a.Port())
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, mapping{protocol: proto, internal: a.Port(), listen: a})
	}
	return out
}

// withPort 替换第一个 tcp/udp 端口
func withPort(a types.Multiaddr, port int) types.Multiaddr {
	comps, err := a.Split()
	if err != nil {
		return a
	}
	for i, c := range comps {
		if c.Protocol == types.ProtoTCP || c.Protocol == types.ProtoUDP {
			comps[i].Value = strconv.Itoa(port)
			break
		}
	}
	return types.Join(comps...)
}

// ============================================================================
//                              STUN
// ============================================================================

// stunLoop 启动时与每个探测间隔查询一次公网 UDP 地址
func (s *Service) stunLoop() {
	defer s.wg.Done()

	client := stun.NewClient(s.cfg.STUNServers, s.cfg.STUNTimeout)
	s.queryStun(client)

	ticker := s.clock.Ticker(s.cfg.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.queryStun(client)
		}
	}
}

// queryStun 用 STUN 得到的公网 IP 替换 IPv4 监听地址的 IP
//
// STUN 使用独立套接字，得到的端口不是监听端口的映射，只采用 IP。
func (s *Service) queryStun(client *stun.Client) {
	ctx, cancel := context.WithTimeout(s.ctx, time.Duration(len(s.cfg.STUNServers)+1)*s.cfg.STUNTimeout)
	defer cancel()

	addr, err := client.ExternalAddr(ctx)
	if err != nil {
		if s.ctx.Err() == nil {
			s.log.Debug("STUN 查询失败", "err", err)
		}
		return
	}
	if addr.IP.To4() == nil {
		return
	}
	for _, m := range mappableAddrs(s.net.ListenAddrs()) {
		s.announce(m.listen.WithIP(addr.IP), "stun")
	}
}
