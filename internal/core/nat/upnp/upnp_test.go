package upnp

import (
	"context"
	"errors"
	"net"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type addCall struct {
	external, internal uint16
	protocol, client   string
	lease              uint32
}

type fakeIGD struct {
	ext       string
	adds      []addCall
	deletes   []uint16
	rejectTTL bool
}

func (f *fakeIGD) GetExternalIPAddressCtx(context.Context) (string, error) {
	return f.ext, nil
}

func (f *fakeIGD) AddPortMappingCtx(_ context.Context, _ string, externalPort uint16, protocol string,
	internalPort uint16, internalClient string, _ bool, _ string, leaseDuration uint32) error {
	f.adds = append(f.adds, addCall{externalPort, internalPort, protocol, internalClient, leaseDuration})
	if f.rejectTTL && leaseDuration != 0 {
		return errors.New("OnlyPermanentLeasesSupported")
	}
	return nil
}

func (f *fakeIGD) DeletePortMappingCtx(_ context.Context, _ string, externalPort uint16, _ string) error {
	f.deletes = append(f.deletes, externalPort)
	return nil
}

func TestMapper_ExternalIP(t *testing.T) {
	m := newMapper(&fakeIGD{ext: " 203.0.113.5 "}, "test", "192.168.1.20")
	ip, err := m.ExternalIP(context.Background())
	require.NoError(t, err)
	assert.True(t, ip.Equal(net.ParseIP("203.0.113.5")))

	m = newMapper(&fakeIGD{ext: "garbage"}, "test", "192.168.1.20")
	_, err = m.ExternalIP(context.Background())
	assert.ErrorIs(t, err, ErrInvalidExternalIP)
}

func TestMapper_AddAndDelete(t *testing.T) {
	f := &fakeIGD{}
	m := newMapper(f, "test", "192.168.1.20")
	ctx := context.Background()

	port, err := m.AddMapping(ctx, "tcp", 4001, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 4001, port)
	require.Len(t, f.adds, 1)
	assert.Equal(t, addCall{4001, 4001, "TCP", "192.168.1.20", 3600}, f.adds[0])

	require.NoError(t, m.DeleteMapping(ctx, "tcp", 4001))
	assert.Equal(t, []uint16{4001}, f.deletes)

	// 未建立的映射不发请求
	require.NoError(t, m.DeleteMapping(ctx, "udp", 4001))
	assert.Len(t, f.deletes, 1)
}

func TestMapper_PermanentLeaseFallback(t *testing.T) {
	f := &fakeIGD{rejectTTL: true}
	m := newMapper(f, "test", "192.168.1.20")

	_, err := m.AddMapping(context.Background(), "udp", 5000, time.Hour)
	require.NoError(t, err)
	require.Len(t, f.adds, 2)
	assert.Equal(t, uint32(0), f.adds[1].lease)
	assert.Equal(t, "UDP", f.adds[1].protocol)
}

func TestLocalAddrFor(t *testing.T) {
	u, err := url.Parse("http://127.0.0.1:1900/rootDesc.xml")
	require.NoError(t, err)
	ip, err := localAddrFor(u)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", ip)

	_, err = localAddrFor(nil)
	assert.ErrorIs(t, err, ErrNoGateway)
}
