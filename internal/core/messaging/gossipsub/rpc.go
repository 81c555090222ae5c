package gossipsub

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/FelixRiddle/swarm-weave/internal/util/pbwire"
	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

// ============================================================================
//                              RPC 结构
// ============================================================================

// RPC 一次交换的完整消息
//
//	message RPC {
//	    repeated SubOpts subscriptions = 1;
//	    repeated Message publish = 2;
//	    ControlMessage control = 3;
//	}
type RPC struct {
	Subscriptions []SubOpts
	Publish       []*Message
	Control       *ControlMessage
}

// SubOpts 订阅变更
type SubOpts struct {
	Subscribe bool
	Topic     string
}

// ControlMessage 控制消息
type ControlMessage struct {
	IHave []ControlIHave
	IWant []ControlIWant
	Graft []ControlGraft
	Prune []ControlPrune
}

// ControlIHave 通告本地持有的消息
type ControlIHave struct {
	Topic      string
	MessageIDs []string
}

// ControlIWant 请求消息
type ControlIWant struct {
	MessageIDs []string
}

// ControlGraft 请求加入 mesh
type ControlGraft struct {
	Topic string
}

// ControlPrune 移出 mesh，Backoff 为秒
type ControlPrune struct {
	Topic   string
	Backoff uint64
}

func (c *ControlMessage) empty() bool {
	return c == nil || len(c.IHave)+len(c.IWant)+len(c.Graft)+len(c.Prune) == 0
}

func (r *RPC) empty() bool {
	return len(r.Subscriptions) == 0 && len(r.Publish) == 0 && r.Control.empty()
}

// ============================================================================
//                              编码
// ============================================================================

// Marshal 编码 RPC
func (r *RPC) Marshal() []byte {
	var b []byte
	for _, s := range r.Subscriptions {
		var sb []byte
		sb = pbwire.AppendVarint(sb, 1, protowire.EncodeBool(s.Subscribe))
		sb = pbwire.AppendString(sb, 2, s.Topic)
		b = pbwire.AppendBytes(b, 1, sb)
	}
	for _, m := range r.Publish {
		b = pbwire.AppendBytes(b, 2, m.marshal(true))
	}
	if !r.Control.empty() {
		b = pbwire.AppendBytes(b, 3, r.Control.marshal())
	}
	return b
}

// marshal 编码消息；withSig 为 false 时省略签名与公钥，用于生成签名原文
func (m *Message) marshal(withSig bool) []byte {
	var b []byte
	if !m.From.IsEmpty() {
		b = pbwire.AppendBytes(b, 1, m.From.Bytes())
	}
	if m.Data != nil {
		b = pbwire.AppendBytes(b, 2, m.Data)
	}
	if m.Seqno != nil {
		b = pbwire.AppendBytes(b, 3, m.Seqno)
	}
	b = pbwire.AppendString(b, 4, m.Topic)
	if withSig {
		if m.Signature != nil {
			b = pbwire.AppendBytes(b, 5, m.Signature)
		}
		if m.Key != nil {
			b = pbwire.AppendBytes(b, 6, m.Key)
		}
	}
	return b
}

func (c *ControlMessage) marshal() []byte {
	var b []byte
	for _, ih := range c.IHave {
		var sb []byte
		sb = pbwire.AppendString(sb, 1, ih.Topic)
		for _, id := range ih.MessageIDs {
			sb = pbwire.AppendString(sb, 2, id)
		}
		b = pbwire.AppendBytes(b, 1, sb)
	}
	for _, iw := range c.IWant {
		var sb []byte
		for _, id := range iw.MessageIDs {
			sb = pbwire.AppendString(sb, 1, id)
		}
		b = pbwire.AppendBytes(b, 2, sb)
	}
	for _, g := range c.Graft {
		b = pbwire.AppendBytes(b, 3, pbwire.AppendString(nil, 1, g.Topic))
	}
	for _, p := range c.Prune {
		sb := pbwire.AppendString(nil, 1, p.Topic)
		if p.Backoff > 0 {
			sb = pbwire.AppendVarint(sb, 3, p.Backoff)
		}
		b = pbwire.AppendBytes(b, 4, sb)
	}
	return b
}

// ============================================================================
//                              解码
// ============================================================================

// UnmarshalRPC 解码 RPC
func UnmarshalRPC(data []byte) (*RPC, error) {
	r := &RPC{}
	err := pbwire.Walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := pbwire.ConsumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			s, err := unmarshalSubOpts(v)
			if err != nil {
				return 0, err
			}
			r.Subscriptions = append(r.Subscriptions, s)
			return n, nil
		case 2:
			v, n, err := pbwire.ConsumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			m, err := unmarshalMessage(v)
			if err != nil {
				return 0, err
			}
			r.Publish = append(r.Publish, m)
			return n, nil
		case 3:
			v, n, err := pbwire.ConsumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			c, err := unmarshalControl(v)
			if err != nil {
				return 0, err
			}
			r.Control = c
			return n, nil
		}
		return 0, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRPC, err)
	}
	return r, nil
}

func unmarshalSubOpts(data []byte) (SubOpts, error) {
	var s SubOpts
	err := pbwire.Walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := pbwire.ConsumeVarint(typ, b)
			s.Subscribe = protowire.DecodeBool(v)
			return n, err
		case 2:
			v, n, err := pbwire.ConsumeBytes(typ, b)
			s.Topic = string(v)
			return n, err
		}
		return 0, nil
	})
	return s, err
}

func unmarshalMessage(data []byte) (*Message, error) {
	m := &Message{}
	err := pbwire.Walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num < 1 || num > 6 {
			return 0, nil
		}
		v, n, err := pbwire.ConsumeBytes(typ, b)
		if err != nil {
			return 0, err
		}
		switch num {
		case 1:
			m.From, err = types.PeerIDFromBytes(v)
		case 2:
			m.Data = append([]byte{}, v...)
		case 3:
			m.Seqno = append([]byte(nil), v...)
		case 4:
			m.Topic = string(v)
		case 5:
			m.Signature = append([]byte(nil), v...)
		case 6:
			m.Key = append([]byte(nil), v...)
		}
		return n, err
	})
	return m, err
}

func unmarshalControl(data []byte) (*ControlMessage, error) {
	c := &ControlMessage{}
	err := pbwire.Walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num < 1 || num > 4 {
			return 0, nil
		}
		v, n, err := pbwire.ConsumeBytes(typ, b)
		if err != nil {
			return 0, err
		}
		switch num {
		case 1:
			var ih ControlIHave
			err = pbwire.Walk(v, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
				switch num {
				case 1:
					s, n, err := pbwire.ConsumeBytes(typ, b)
					ih.Topic = string(s)
					return n, err
				case 2:
					s, n, err := pbwire.ConsumeBytes(typ, b)
					ih.MessageIDs = append(ih.MessageIDs, string(s))
					return n, err
				}
				return 0, nil
			})
			c.IHave = append(c.IHave, ih)
		case 2:
			var iw ControlIWant
			err = pbwire.Walk(v, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
				if num == 1 {
					s, n, err := pbwire.ConsumeBytes(typ, b)
					iw.MessageIDs = append(iw.MessageIDs, string(s))
					return n, err
				}
				return 0, nil
			})
			c.IWant = append(c.IWant, iw)
		case 3:
			var g ControlGraft
			err = pbwire.Walk(v, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
				if num == 1 {
					s, n, err := pbwire.ConsumeBytes(typ, b)
					g.Topic = string(s)
					return n, err
				}
				return 0, nil
			})
			c.Graft = append(c.Graft, g)
		case 4:
			var p ControlPrune
			err = pbwire.Walk(v, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
				switch num {
				case 1:
					s, n, err := pbwire.ConsumeBytes(typ, b)
					p.Topic = string(s)
					return n, err
				case 3:
					x, n, err := pbwire.ConsumeVarint(typ, b)
					p.Backoff = x
					return n, err
				}
				return 0, nil
			})
			c.Prune = append(c.Prune, p)
		}
		return n, err
	})
	return c, err
}
