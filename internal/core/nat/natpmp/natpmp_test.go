package natpmp

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	natpmp "github.com/jackpal/go-nat-pmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mappingCall struct {
	protocol           string
	internal, external int
	lifetime           int
}

type fakeClient struct {
	ext   [4]byte
	calls []mappingCall
	next  uint16
	err   error
	block chan struct{}
}

func (f *fakeClient) GetExternalAddress() (*natpmp.GetExternalAddressResult, error) {
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return nil, f.err
	}
	return &natpmp.GetExternalAddressResult{ExternalIPAddress: f.ext}, nil
}

func (f *fakeClient) AddPortMapping(protocol string, internalPort, requestedExternalPort int, lifetime int) (*natpmp.AddPortMappingResult, error) {
	f.calls = append(f.calls, mappingCall{protocol, internalPort, requestedExternalPort, lifetime})
	if f.err != nil {
		return nil, f.err
	}
	port := f.next
	if port == 0 {
		port = uint16(requestedExternalPort)
	}
	return &natpmp.AddPortMappingResult{
		InternalPort:       uint16(internalPort),
		MappedExternalPort: port,
	}, nil
}

func TestMapper_ExternalIP(t *testing.T) {
	f := &fakeClient{ext: [4]byte{198, 51, 100, 9}}
	m := newMapper(f, net.IPv4(192, 168, 1, 1))

	ip, err := m.ExternalIP(context.Background())
	require.NoError(t, err)
	assert.True(t, ip.Equal(net.ParseIP("198.51.100.9")))
	assert.Equal(t, "nat-pmp", m.Name())
}

func TestMapper_AddRefreshDelete(t *testing.T) {
	f := &fakeClient{next: 50001}
	m := newMapper(f, net.IPv4(192, 168, 1, 1))
	ctx := context.Background()

	port, err := m.AddMapping(ctx, "tcp", 4001, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 50001, port)

	// 续约时请求上次分配的外部端口
	_, err = m.AddMapping(ctx, "tcp", 4001, time.Hour)
	require.NoError(t, err)

	require.NoError(t, m.DeleteMapping(ctx, "tcp", 4001))

	require.Len(t, f.calls, 3)
	assert.Equal(t, mappingCall{"tcp", 4001, 4001, 3600}, f.calls[0])
	assert.Equal(t, mappingCall{"tcp", 4001, 50001, 3600}, f.calls[1])
	assert.Equal(t, mappingCall{"tcp", 4001, 0, 0}, f.calls[2])
}

func TestMapper_Error(t *testing.T) {
	f := &fakeClient{err: errors.New("refused")}
	m := newMapper(f, net.IPv4(10, 0, 0, 1))

	_, err := m.AddMapping(context.Background(), "udp", 4001, time.Hour)
	assert.ErrorContains(t, err, "refused")
}

func TestMapper_ContextCancelled(t *testing.T) {
	f := &fakeClient{block: make(chan struct{})}
	defer close(f.block)
	m := newMapper(f, net.IPv4(10, 0, 0, 1))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := m.ExternalIP(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
