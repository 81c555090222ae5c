// Package natpmp 通过默认网关的 NAT-PMP 服务建立端口映射
package natpmp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/jackpal/gateway"
	natpmp "github.com/jackpal/go-nat-pmp"

	"github.com/FelixRiddle/swarm-weave/internal/util/logger"
)

var log = logger.Logger("nat/natpmp")

// DefaultTimeout 网关发现与单次请求的超时
const DefaultTimeout = 5 * time.Second

// client 是 go-nat-pmp 客户端中用到的部分
type client interface {
	GetExternalAddress() (*natpmp.GetExternalAddressResult, error)
	AddPortMapping(protocol string, internalPort, requestedExternalPort int, lifetime int) (*natpmp.AddPortMappingResult, error)
}

// Mapper NAT-PMP 端口映射器
type Mapper struct {
	client  client
	gateway net.IP

	mu       sync.Mutex
	external map[string]int // "tcp/4001" -> 外部端口
}

// Discover 发现默认网关并确认其支持 NAT-PMP
func Discover(ctx context.Context, timeout time.Duration) (*Mapper, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	gw, err := call(ctx, gateway.DiscoverGateway)
	if err != nil {
		return nil, fmt.Errorf("natpmp: discover gateway: %w", err)
	}

	m := newMapper(natpmp.NewClientWithTimeout(gw, timeout), gw)
	if _, err := m.ExternalIP(ctx); err != nil {
		return nil, err
	}
	log.Info("发现 NAT-PMP 网关", "gateway", gw)
	return m, nil
}

func newMapper(c client, gw net.IP) *Mapper {
	return &Mapper{
		client:   c,
		gateway:  gw,
		external: make(map[string]int),
	}
}

// Name 返回映射器名称
func (m *Mapper) Name() string {
	return "nat-pmp"
}

// ExternalIP 查询网关的外部 IP
func (m *Mapper) ExternalIP(ctx context.Context) (net.IP, error) {
	res, err := call(ctx, m.client.GetExternalAddress)
	if err != nil {
		return nil, fmt.Errorf("natpmp: external address: %w", err)
	}
	ip := res.ExternalIPAddress
	return net.IPv4(ip[0], ip[1], ip[2], ip[3]), nil
}

// AddMapping 建立映射，返回网关分配的外部端口
func (m *Mapper) AddMapping(ctx context.Context, protocol string, internalPort int, lifetime time.Duration) (int, error) {
	m.mu.Lock()
	requested, ok := m.external[key(protocol, internalPort)]
	m.mu.Unlock()
	if !ok {
		requested = internalPort
	}

	res, err := call(ctx, func() (*natpmp.AddPortMappingResult, error) {
		return m.client.AddPortMapping(protocol, internalPort, requested, int(lifetime/time.Second))
	})
	if err != nil {
		return 0, fmt.Errorf("natpmp: map %s/%d: %w", protocol, internalPort, err)
	}

	port := int(res.MappedExternalPort)
	m.mu.Lock()
	m.external[key(protocol, internalPort)] = port
	m.mu.Unlock()
	return port, nil
}

// DeleteMapping 删除映射（租约为 0 的映射请求）
func (m *Mapper) DeleteMapping(ctx context.Context, protocol string, internalPort int) error {
	m.mu.Lock()
	delete(m.external, key(protocol, internalPort))
	m.mu.Unlock()

	_, err := call(ctx, func() (*natpmp.AddPortMappingResult, error) {
		return m.client.AddPortMapping(protocol, internalPort, 0, 0)
	})
	if err != nil {
		return fmt.Errorf("natpmp: unmap %s/%d: %w", protocol, internalPort, err)
	}
	return nil
}

func key(protocol string, port int) string {
	return fmt.Sprintf("%s/%d", protocol, port)
}

// call 在独立 goroutine 中执行不支持 context 的阻塞调用
func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
