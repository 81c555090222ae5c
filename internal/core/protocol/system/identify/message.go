package identify

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

// 字段编号
const (
	fieldPublicKey       protowire.Number = 1
	fieldListenAddrs     protowire.Number = 2
	fieldProtocols       protowire.Number = 3
	fieldObservedAddr    protowire.Number = 4
	fieldProtocolVersion protowire.Number = 5
	fieldAgentVersion    protowire.Number = 6
)

// Info 节点自描述
type Info struct {
	// ProtocolVersion 协议版本标签
	ProtocolVersion string

	// AgentVersion 实现版本
	AgentVersion string

	// PublicKey 公钥（identity.MarshalPublicKey 格式）
	PublicKey []byte

	// ListenAddrs 对端的监听与外部地址
	ListenAddrs []types.Multiaddr

	// ObservedAddr 对端看到的本地地址
	ObservedAddr types.Multiaddr

	// Protocols 对端支持的协议
	Protocols []types.ProtocolID
}

// Marshal 编码
func (i *Info) Marshal() []byte {
	var b []byte
	if len(i.PublicKey) > 0 {
		b = protowire.AppendTag(b, fieldPublicKey, protowire.BytesType)
		b = protowire.AppendBytes(b, i.PublicKey)
	}
	for _, a := range i.ListenAddrs {
		b = appendString(b, fieldListenAddrs, string(a))
	}
	for _, p := range i.Protocols {
		b = appendString(b, fieldProtocols, string(p))
	}
	if i.ObservedAddr != "" {
		b = appendString(b, fieldObservedAddr, string(i.ObservedAddr))
	}
	if i.ProtocolVersion != "" {
		b = appendString(b, fieldProtocolVersion, i.ProtocolVersion)
	}
	if i.AgentVersion != "" {
		b = appendString(b, fieldAgentVersion, i.AgentVersion)
	}
	return b
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

// Unmarshal 解码，未知字段跳过
func Unmarshal(data []byte) (*Info, error) {
	info := &Info{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, protowire.ParseError(n))
		}
		data = data[n:]

		if num < fieldPublicKey || num > fieldAgentVersion {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}
		if typ != protowire.BytesType {
			return nil, fmt.Errorf("%w: field %d has wire type %d", ErrInvalidMessage, num, typ)
		}
		v, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case fieldPublicKey:
			info.PublicKey = append([]byte(nil), v...)
		case fieldListenAddrs:
			// 无法解析的地址直接丢弃
			if a, err := types.ParseMultiaddr(string(v)); err == nil {
				info.ListenAddrs = append(info.ListenAddrs, a)
			}
		case fieldProtocols:
			info.Protocols = append(info.Protocols, types.ProtocolID(v))
		case fieldObservedAddr:
			if a, err := types.ParseMultiaddr(string(v)); err == nil {
				info.ObservedAddr = a
			}
		case fieldProtocolVersion:
			info.ProtocolVersion = string(v)
		case fieldAgentVersion:
			info.AgentVersion = string(v)
		}
	}
	return info, nil
}
