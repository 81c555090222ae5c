package node

import (
	"log/slog"

	"github.com/FelixRiddle/swarm-weave/config"
	"github.com/FelixRiddle/swarm-weave/internal/behaviour"
	"github.com/FelixRiddle/swarm-weave/internal/core/messaging/gossipsub"
	"github.com/FelixRiddle/swarm-weave/internal/core/metrics"
	"github.com/FelixRiddle/swarm-weave/internal/core/nat"
	"github.com/FelixRiddle/swarm-weave/internal/core/protocol/system/identify"
	"github.com/FelixRiddle/swarm-weave/internal/core/protocol/system/ping"
	"github.com/FelixRiddle/swarm-weave/internal/core/relay"
	"github.com/FelixRiddle/swarm-weave/internal/discovery/mdns"
	"github.com/FelixRiddle/swarm-weave/internal/util/logger"
)

// ════════════════════════════════════════════════════════════════════════════
//                              配置映射
// ════════════════════════════════════════════════════════════════════════════

// behaviourConfig 把进程配置映射为组合行为配置
func behaviourConfig(cfg *config.Config, dialers []nat.Dialer, l *slog.Logger, m *metrics.Metrics) behaviour.Config {
	bc := behaviour.DefaultConfig()
	bc.Logger = logger.Named(l, "behaviour")
	bc.DialTimeout = cfg.Transport.DialTimeout.Duration()
	bc.Gossip = gossipConfig(cfg.Gossip, l, m)
	bc.Identify = identifyConfig(l)
	bc.NAT = natConfig(cfg.NAT, cfg.Node.Role, l)
	bc.Ping = pingConfig(cfg.Liveness, l, m)
	bc.Discovery = mdnsConfig(cfg.Discovery, l, m)
	bc.Relay = relayConfig(cfg.Node, cfg.Relay, l, m)
	bc.Dialers = dialers
	return bc
}

func gossipConfig(c config.GossipConfig, l *slog.Logger, m *metrics.Metrics) gossipsub.Config {
	gc := gossipsub.DefaultConfig()
	gc.HeartbeatInterval = c.HeartbeatInterval.Duration()
	gc.D, gc.Dlo, gc.Dhi, gc.Dlazy = c.D, c.Dlo, c.Dhi, c.Dlazy
	gc.HistoryLength = c.HistoryLength
	gc.HistoryGossip = c.HistoryGossip
	gc.FanoutTTL = c.FanoutTTL.Duration()
	gc.SeenTTL = c.SeenTTL.Duration()
	gc.SeenCapacity = c.SeenCapacity
	gc.MaxMessageSize = c.MaxMessageSize
	gc.OutboundQueueSize = c.PeerOutboundQueue
	gc.Logger = logger.Named(l, "gossipsub")
	gc.Metrics = m
	return gc
}

func identifyConfig(l *slog.Logger) identify.Config {
	ic := identify.DefaultConfig()
	ic.AgentVersion = AgentVersion()
	ic.Logger = logger.Named(l, "identify")
	return ic
}

// natConfig 客户端角色不应答回拨
func natConfig(c config.NATConfig, role config.Role, l *slog.Logger) nat.Config {
	nc := nat.DefaultConfig()
	nc.ProbeInterval = c.AutoNAT.ProbeInterval.Duration()
	nc.BootDelay = c.AutoNAT.BootDelay.Duration()
	nc.ConfidenceThreshold = c.AutoNAT.ConfidenceThreshold
	nc.AllowPrivateAddrs = c.AutoNAT.AllowPrivateAddrs
	nc.DialBackTimeout = c.AutoNAT.DialBackTimeout.Duration()
	nc.DialBackRate = c.AutoNAT.DialBackRate
	nc.EnableServer = role == config.RoleServer
	nc.EnablePortMapping = c.EnablePortMapping
	nc.MappingLifetime = c.MappingLifetime.Duration()
	nc.STUNServers = append([]string(nil), c.STUNServers...)
	nc.STUNTimeout = c.STUNTimeout.Duration()
	nc.Logger = logger.Named(l, "nat")
	return nc
}

func pingConfig(c config.LivenessConfig, l *slog.Logger, m *metrics.Metrics) ping.Config {
	pc := ping.DefaultConfig()
	pc.Interval = c.Interval.Duration()
	pc.Timeout = c.Timeout.Duration()
	pc.Logger = logger.Named(l, "ping")
	pc.Metrics = m
	return pc
}

// mdnsConfig 未启用时返回 nil
func mdnsConfig(c config.DiscoveryConfig, l *slog.Logger, m *metrics.Metrics) *mdns.Config {
	if !c.EnableMDNS {
		return nil
	}
	mc := mdns.DefaultConfig()
	mc.ServiceTag = c.ServiceTag
	mc.Domain = c.Domain
	mc.QueryInterval = c.QueryInterval.Duration()
	mc.TTL = c.TTL.Duration()
	mc.Interface = c.Interface
	mc.DisableIPv6 = c.DisableIPv6
	mc.Logger = logger.Named(l, "mdns")
	mc.Metrics = m
	return &mc
}

// relayConfig 非中继角色返回 nil
func relayConfig(n config.NodeConfig, c config.RelayConfig, l *slog.Logger, m *metrics.Metrics) *relay.Config {
	if !n.Relay {
		return nil
	}
	rc := relay.DefaultConfig()
	rc.ReservationTTL = c.ReservationTTL.Duration()
	rc.MaxReservations = c.MaxReservations
	rc.MaxReservationsPerIP = c.MaxReservationsPerIP
	rc.MaxCircuits = c.MaxCircuits
	rc.MaxCircuitsPerPeer = c.MaxCircuitsPerPeer
	rc.CircuitDuration = c.CircuitDuration.Duration()
	rc.CircuitBytes = c.CircuitBytes
	rc.RequestRate = c.RequestRate
	rc.Bandwidth = c.Bandwidth
	rc.Logger = logger.Named(l, "relay")
	rc.Metrics = m
	return &rc
}

// topics 启动时订阅的主题
func topics(cfg *config.Config) []string {
	ts := []string{config.PrimaryTopic}
	if cfg.Node.TestMode {
		ts = append(ts, config.DiagnosticTopic)
	}
	return ts
}
