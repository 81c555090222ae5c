package nat

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/FelixRiddle/swarm-weave/internal/util/pbwire"
	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

// ============================================================================
//                              autonat 报文
// ============================================================================

//	message Message {
//	    MessageType type = 1;
//	    Dial dial = 2;
//	    DialResponse dialResponse = 3;
//	}
//	message PeerInfo { bytes id = 1; repeated bytes addrs = 2; }
//	message Dial { PeerInfo peer = 1; }
//	message DialResponse { ResponseStatus status = 1; string statusText = 2; bytes addr = 3; }
//
// 地址以文本形式携带。

// MessageType 报文类型
type MessageType int32

const (
	MessageDial         MessageType = 0
	MessageDialResponse MessageType = 1
)

// ResponseStatus 回拨结果
type ResponseStatus int32

const (
	StatusOK            ResponseStatus = 0
	StatusDialError     ResponseStatus = 100
	StatusDialRefused   ResponseStatus = 101
	StatusBadRequest    ResponseStatus = 200
	StatusInternalError ResponseStatus = 300
)

// String 返回状态名
func (s ResponseStatus) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusDialError:
		return "E_DIAL_ERROR"
	case StatusDialRefused:
		return "E_DIAL_REFUSED"
	case StatusBadRequest:
		return "E_BAD_REQUEST"
	case StatusInternalError:
		return "E_INTERNAL_ERROR"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

// Message autonat 报文
type Message struct {
	Type         MessageType
	Dial         *Dial
	DialResponse *DialResponse
}

// Dial 回拨请求：请求方及其候选地址
type Dial struct {
	Peer  types.PeerID
	Addrs []types.Multiaddr
}

// DialResponse 回拨结果
type DialResponse struct {
	Status     ResponseStatus
	StatusText string
	Addr       types.Multiaddr
}

// Marshal 编码
func (m *Message) Marshal() []byte {
	b := pbwire.AppendVarint(nil, 1, uint64(m.Type))
	if m.Dial != nil {
		var peer []byte
		if !m.Dial.Peer.IsEmpty() {
			peer = pbwire.AppendBytes(peer, 1, m.Dial.Peer.Bytes())
		}
		for _, a := range m.Dial.Addrs {
			peer = pbwire.AppendBytes(peer, 2, []byte(a))
		}
		b = pbwire.AppendBytes(b, 2, pbwire.AppendBytes(nil, 1, peer))
	}
	if r := m.DialResponse; r != nil {
		rb := pbwire.AppendVarint(nil, 1, uint64(r.Status))
		if r.StatusText != "" {
			rb = pbwire.AppendBytes(rb, 2, []byte(r.StatusText))
		}
		if r.Addr != "" {
			rb = pbwire.AppendBytes(rb, 3, []byte(r.Addr))
		}
		b = pbwire.AppendBytes(b, 3, rb)
	}
	return b
}

// UnmarshalMessage 解码，未知字段跳过
func UnmarshalMessage(data []byte) (*Message, error) {
	m := &Message{}
	err := pbwire.Walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := pbwire.ConsumeVarint(typ, b)
			m.Type = MessageType(v)
			return n, err
		case 2:
			v, n, err := pbwire.ConsumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			m.Dial, err = unmarshalDial(v)
			return n, err
		case 3:
			v, n, err := pbwire.ConsumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			m.DialResponse, err = unmarshalDialResponse(v)
			return n, err
		}
		return 0, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return m, nil
}

func unmarshalDial(data []byte) (*Dial, error) {
	d := &Dial{}
	err := pbwire.Walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 {
			return 0, nil
		}
		v, n, err := pbwire.ConsumeBytes(typ, b)
		if err != nil {
			return 0, err
		}
		return n, pbwire.Walk(v, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
			switch num {
			case 1:
				v, n, err := pbwire.ConsumeBytes(typ, b)
				if err != nil {
					return 0, err
				}
				d.Peer, err = types.PeerIDFromBytes(v)
				return n, err
			case 2:
				v, n, err := pbwire.ConsumeBytes(typ, b)
				d.Addrs = append(d.Addrs, types.Multiaddr(v))
				return n, err
			}
			return 0, nil
		})
	})
	return d, err
}

func unmarshalDialResponse(data []byte) (*DialResponse, error) {
	r := &DialResponse{}
	err := pbwire.Walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := pbwire.ConsumeVarint(typ, b)
			r.Status = ResponseStatus(v)
			return n, err
		case 2:
			v, n, err := pbwire.ConsumeBytes(typ, b)
			r.StatusText = string(v)
			return n, err
		case 3:
			v, n, err := pbwire.ConsumeBytes(typ, b)
			r.Addr = types.Multiaddr(v)
			return n, err
		}
		return 0, nil
	})
	return r, err
}
