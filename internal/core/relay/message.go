package relay

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/FelixRiddle/swarm-weave/internal/util/pbwire"
	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

// ============================================================================
//                              circuit v2 报文
// ============================================================================

//	message HopMessage {
//	    Type type = 1;            // RESERVE = 0; CONNECT = 1; STATUS = 2;
//	    Peer peer = 2;
//	    Reservation reservation = 3;
//	    Limit limit = 4;
//	    Status status = 5;
//	}
//	message StopMessage {
//	    Type type = 1;            // CONNECT = 0; STATUS = 1;
//	    Peer peer = 2;
//	    Limit limit = 3;
//	    Status status = 4;
//	}
//	message Peer { bytes id = 1; repeated bytes addrs = 2; }
//	message Reservation { uint64 expire = 1; repeated bytes addrs = 2; bytes voucher = 3; }
//	message Limit { uint32 duration = 1; uint64 data = 2; }
//
// 地址以文本形式携带；voucher 为预留 ID。

// maxMessageSize hop/stop 报文上限
const maxMessageSize = 4 << 10

// HopType hop 报文类型
type HopType int32

const (
	HopReserve HopType = 0
	HopConnect HopType = 1
	HopStatus  HopType = 2
)

// StopType stop 报文类型
type StopType int32

const (
	StopConnect StopType = 0
	StopStatus  StopType = 1
)

// Status 请求结果
type Status int32

const (
	StatusOK                    Status = 100
	StatusReservationRefused    Status = 200
	StatusResourceLimitExceeded Status = 201
	StatusPermissionDenied      Status = 202
	StatusConnectionFailed      Status = 203
	StatusNoReservation         Status = 204
	StatusMalformedMessage      Status = 400
	StatusUnexpectedMessage     Status = 401
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusReservationRefused:
		return "RESERVATION_REFUSED"
	case StatusResourceLimitExceeded:
		return "RESOURCE_LIMIT_EXCEEDED"
	case StatusPermissionDenied:
		return "PERMISSION_DENIED"
	case StatusConnectionFailed:
		return "CONNECTION_FAILED"
	case StatusNoReservation:
		return "NO_RESERVATION"
	case StatusMalformedMessage:
		return "MALFORMED_MESSAGE"
	case StatusUnexpectedMessage:
		return "UNEXPECTED_MESSAGE"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

// Peer 节点信息
type Peer struct {
	ID    types.PeerID
	Addrs []types.Multiaddr
}

// Reservation 预留凭据
type Reservation struct {
	Expire  time.Time
	Addrs   []types.Multiaddr
	Voucher string
}

// Limit 电路限制，零值表示不限制
type Limit struct {
	Duration time.Duration
	Data     int64
}

// HopMessage 客户端与中继之间的报文
type HopMessage struct {
	Type        HopType
	Peer        *Peer
	Reservation *Reservation
	Limit       *Limit
	Status      Status
}

// StopMessage 中继与目标之间的报文
type StopMessage struct {
	Type   StopType
	Peer   *Peer
	Limit  *Limit
	Status Status
}

// ============================================================================
//                              编码
// ============================================================================

// Marshal 编码 hop 报文
func (m *HopMessage) Marshal() []byte {
	b := pbwire.AppendVarint(nil, 1, uint64(m.Type))
	if m.Peer != nil {
		b = pbwire.AppendBytes(b, 2, m.Peer.marshal())
	}
	if r := m.Reservation; r != nil {
		var rb []byte
		if !r.Expire.IsZero() {
			rb = pbwire.AppendVarint(rb, 1, uint64(r.Expire.Unix()))
		}
		for _, a := range r.Addrs {
			rb = pbwire.AppendString(rb, 2, string(a))
		}
		if r.Voucher != "" {
			rb = pbwire.AppendString(rb, 3, r.Voucher)
		}
		b = pbwire.AppendBytes(b, 3, rb)
	}
	if m.Limit != nil {
		b = pbwire.AppendBytes(b, 4, m.Limit.marshal())
	}
	if m.Status != 0 {
		b = pbwire.AppendVarint(b, 5, uint64(m.Status))
	}
	return b
}

// Marshal 编码 stop 报文
func (m *StopMessage) Marshal() []byte {
	b := pbwire.AppendVarint(nil, 1, uint64(m.Type))
	if m.Peer != nil {
		b = pbwire.AppendBytes(b, 2, m.Peer.marshal())
	}
	if m.Limit != nil {
		b = pbwire.AppendBytes(b, 3, m.Limit.marshal())
	}
	if m.Status != 0 {
		b = pbwire.AppendVarint(b, 4, uint64(m.Status))
	}
	return b
}

func (p *Peer) marshal() []byte {
	var b []byte
	if !p.ID.IsEmpty() {
		b = pbwire.AppendBytes(b, 1, p.ID.Bytes())
	}
	for _, a := range p.Addrs {
		b = pbwire.AppendString(b, 2, string(a))
	}
	return b
}

func (l *Limit) marshal() []byte {
	var b []byte
	if l.Duration > 0 {
		b = pbwire.AppendVarint(b, 1, uint64(l.Duration/time.Second))
	}
	if l.Data > 0 {
		b = pbwire.AppendVarint(b, 2, uint64(l.Data))
	}
	return b
}

// ============================================================================
//                              解码
// ============================================================================

// UnmarshalHop 解码 hop 报文，未知字段跳过
func UnmarshalHop(data []byte) (*HopMessage, error) {
	m := &HopMessage{}
	err := pbwire.Walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := pbwire.ConsumeVarint(typ, b)
			m.Type = HopType(v)
			return n, err
		case 2:
			v, n, err := pbwire.ConsumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			m.Peer, err = unmarshalPeer(v)
			return n, err
		case 3:
			v, n, err := pbwire.ConsumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			m.Reservation, err = unmarshalReservation(v)
			return n, err
		case 4:
			v, n, err := pbwire.ConsumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			m.Limit, err = unmarshalLimit(v)
			return n, err
		case 5:
			v, n, err := pbwire.ConsumeVarint(typ, b)
			m.Status = Status(v)
			return n, err
		}
		return 0, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return m, nil
}

// UnmarshalStop 解码 stop 报文，未知字段跳过
func UnmarshalStop(data []byte) (*StopMessage, error) {
	m := &StopMessage{}
	err := pbwire.Walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := pbwire.ConsumeVarint(typ, b)
			m.Type = StopType(v)
			return n, err
		case 2:
			v, n, err := pbwire.ConsumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			m.Peer, err = unmarshalPeer(v)
			return n, err
		case 3:
			v, n, err := pbwire.ConsumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			m.Limit, err = unmarshalLimit(v)
			return n, err
		case 4:
			v, n, err := pbwire.ConsumeVarint(typ, b)
			m.Status = Status(v)
			return n, err
		}
		return 0, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return m, nil
}

func unmarshalPeer(data []byte) (*Peer, error) {
	p := &Peer{}
	err := pbwire.Walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := pbwire.ConsumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			p.ID, err = types.PeerIDFromBytes(v)
			return n, err
		case 2:
			v, n, err := pbwire.ConsumeBytes(typ, b)
			p.Addrs = append(p.Addrs, types.Multiaddr(v))
			return n, err
		}
		return 0, nil
	})
	return p, err
}

func unmarshalReservation(data []byte) (*Reservation, error) {
	r := &Reservation{}
	err := pbwire.Walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := pbwire.ConsumeVarint(typ, b)
			r.Expire = time.Unix(int64(v), 0)
			return n, err
		case 2:
			v, n, err := pbwire.ConsumeBytes(typ, b)
			r.Addrs = append(r.Addrs, types.Multiaddr(v))
			return n, err
		case 3:
			v, n, err := pbwire.ConsumeBytes(typ, b)
			r.Voucher = string(v)
			return n, err
		}
		return 0, nil
	})
	return r, err
}

func unmarshalLimit(data []byte) (*Limit, error) {
	l := &Limit{}
	err := pbwire.Walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := pbwire.ConsumeVarint(typ, b)
			l.Duration = time.Duration(v) * time.Second
			return n, err
		case 2:
			v, n, err := pbwire.ConsumeVarint(typ, b)
			l.Data = int64(v)
			return n, err
		}
		return 0, nil
	})
	return l, err
}
