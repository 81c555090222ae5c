// Package stun 通过 STUN Binding 请求获取本机的公网 UDP 映射地址
package stun

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/pion/stun"
	"go.uber.org/multierr"

	"github.com/FelixRiddle/swarm-weave/internal/util/logger"
)

var log = logger.Logger("nat/stun")

// DefaultTimeout 单个服务器的查询超时
const DefaultTimeout = 5 * time.Second

var (
	// ErrNoServers 未配置 STUN 服务器
	ErrNoServers = errors.New("stun: no servers configured")

	// ErrNoMappedAddress 响应中没有映射地址
	ErrNoMappedAddress = errors.New("stun: no mapped address in response")
)

// Client STUN 客户端
type Client struct {
	servers []string
	timeout time.Duration
}

// NewClient 创建客户端，servers 为 host:port 列表
func NewClient(servers []string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		servers: append([]string(nil), servers...),
		timeout: timeout,
	}
}

// ExternalAddr 依次查询服务器，返回第一个成功的映射地址
func (c *Client) ExternalAddr(ctx context.Context) (*net.UDPAddr, error) {
	if len(c.servers) == 0 {
		return nil, ErrNoServers
	}

	var errs error
	for _, server := range c.servers {
		addr, err := c.Query(ctx, server)
		if err == nil {
			return addr, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Debug("STUN 查询失败", "server", server, "err", err)
		errs = multierr.Append(errs, err)
	}
	return nil, errs
}

// Query 向单个服务器发送 Binding 请求
func (c *Client) Query(ctx context.Context, server string) (*net.UDPAddr, error) {
	raddr, err := net.ResolveUDPAddr("udp", server)
	if err != nil {
		return nil, fmt.Errorf("stun: resolve %s: %w", server, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("stun: dial %s: %w", server, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	req, err := stun.Build(stun.TransactionID, stun.BindingRequest, stun.Fingerprint)
	if err != nil {
		return nil, fmt.Errorf("stun: build request: %w", err)
	}
	if _, err := req.WriteTo(conn); err != nil {
		return nil, fmt.Errorf("stun: send: %w", err)
	}

	buf := make([]byte, 1500)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("stun: read: %w", err)
		}
		if !stun.IsMessage(buf[:n]) {
			continue
		}
		res := &stun.Message{Raw: append([]byte(nil), buf[:n]...)}
		if err := res.Decode(); err != nil {
			return nil, fmt.Errorf("stun: decode: %w", err)
		}
		if res.TransactionID != req.TransactionID {
			continue
		}
		return mappedAddr(res)
	}
}

// mappedAddr 优先 XOR-MAPPED-ADDRESS，回退到旧版 MAPPED-ADDRESS
func mappedAddr(m *stun.Message) (*net.UDPAddr, error) {
	var xor stun.XORMappedAddress
	if err := xor.GetFrom(m); err == nil {
		return &net.UDPAddr{IP: xor.IP, Port: xor.Port}, nil
	}
	var plain stun.MappedAddress
	if err := plain.GetFrom(m); err == nil {
		return &net.UDPAddr{IP: plain.IP, Port: plain.Port}, nil
	}
	return nil, ErrNoMappedAddress
}
