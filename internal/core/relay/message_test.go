package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

func peerN(n byte) types.PeerID {
	var id types.PeerID
	for i := range id {
		id[i] = n
	}
	return id
}

func TestHopMessage_ReservationResponse(t *testing.T) {
	expire := time.Unix(1_700_000_000, 0)
	msg := &HopMessage{
		Type:   HopStatus,
		Status: StatusOK,
		Reservation: &Reservation{
			Expire:  expire,
			Addrs:   []types.Multiaddr{"/ip4/10.0.0.1/tcp/4001/p2p/" + types.Multiaddr(peerN(1).String())},
			Voucher: "2f6a2c0e-7d1c-4a42-9f1b-8c1e1c7f3b10",
		},
		Limit: &Limit{Duration: 2 * time.Minute, Data: 128 << 10},
	}

	got, err := UnmarshalHop(msg.Marshal())
	require.NoError(t, err)
	assert.Equal(t, HopStatus, got.Type)
	assert.Equal(t, StatusOK, got.Status)
	require.NotNil(t, got.Reservation)
	assert.True(t, expire.Equal(got.Reservation.Expire))
	assert.Equal(t, msg.Reservation.Addrs, got.Reservation.Addrs)
	assert.Equal(t, msg.Reservation.Voucher, got.Reservation.Voucher)
	assert.Equal(t, msg.Limit, got.Limit)
	assert.Nil(t, got.Peer)
}

func TestHopMessage_Connect(t *testing.T) {
	msg := &HopMessage{Type: HopConnect, Peer: &Peer{ID: peerN(7)}}

	got, err := UnmarshalHop(msg.Marshal())
	require.NoError(t, err)
	assert.Equal(t, HopConnect, got.Type)
	require.NotNil(t, got.Peer)
	assert.Equal(t, peerN(7), got.Peer.ID)
	assert.Empty(t, got.Peer.Addrs)
	assert.Zero(t, got.Status)
}

func TestStopMessage_Roundtrip(t *testing.T) {
	msg := &StopMessage{
		Type:  StopConnect,
		Peer:  &Peer{ID: peerN(3), Addrs: []types.Multiaddr{"/ip4/127.0.0.1/tcp/1"}},
		Limit: &Limit{Duration: time.Minute},
	}

	got, err := UnmarshalStop(msg.Marshal())
	require.NoError(t, err)
	assert.Equal(t, StopConnect, got.Type)
	assert.Equal(t, msg.Peer, got.Peer)
	assert.Equal(t, time.Minute, got.Limit.Duration)
	assert.Zero(t, got.Limit.Data)

	status, err := UnmarshalStop((&StopMessage{Type: StopStatus, Status: StatusNoReservation}).Marshal())
	require.NoError(t, err)
	assert.Equal(t, StopStatus, status.Type)
	assert.Equal(t, StatusNoReservation, status.Status)
}

func TestHopMessage_SkipsUnknownFields(t *testing.T) {
	b := (&HopMessage{Type: HopReserve}).Marshal()
	b = protowire.AppendTag(b, 42, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("future"))

	got, err := UnmarshalHop(b)
	require.NoError(t, err)
	assert.Equal(t, HopReserve, got.Type)
}

func TestUnmarshal_Invalid(t *testing.T) {
	_, err := UnmarshalHop([]byte{0x12, 0x05, 0x01})
	assert.ErrorIs(t, err, ErrInvalidMessage)

	// 字段 1 应为 varint
	b := protowire.AppendTag(nil, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("x"))
	_, err = UnmarshalStop(b)
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "OK", StatusOK.String())
	assert.Equal(t, "NO_RESERVATION", StatusNoReservation.String())
	assert.Equal(t, "RESOURCE_LIMIT_EXCEEDED", StatusResourceLimitExceeded.String())
	assert.Equal(t, "status(7)", Status(7).String())

	err := error(&StatusError{Status: StatusPermissionDenied, Op: "reserve"})
	assert.True(t, IsStatus(err, StatusPermissionDenied))
	assert.False(t, IsStatus(err, StatusOK))
	assert.Contains(t, err.Error(), "PERMISSION_DENIED")
}
