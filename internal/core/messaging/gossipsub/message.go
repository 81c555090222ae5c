package gossipsub

import (
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/FelixRiddle/swarm-weave/internal/core/identity"
	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

// signPrefix 签名原文前缀
const signPrefix = "libp2p-pubsub:"

// Message 广播消息
type Message struct {
	// From 发布者
	From types.PeerID

	// Data 负载
	Data []byte

	// Seqno 发布者序号（8 字节大端）
	Seqno []byte

	// Topic 主题
	Topic string

	// Signature 发布者签名
	Signature []byte

	// Key 发布者公钥（identity.MarshalPublicKey 格式）
	Key []byte

	// ID 内容寻址的消息 ID，本地计算，不上线
	ID string

	// ReceivedFrom 转发给本节点的邻居
	ReceivedFrom types.PeerID
}

// MessageID 计算负载的消息 ID：xxhash64 的十进制字符串
func MessageID(data []byte) string {
	return strconv.FormatUint(xxhash.Sum64(data), 10)
}

// sign 以本地身份签名消息
func sign(id *identity.Identity, m *Message) {
	m.Key = id.MarshalPublicKey()
	m.Signature = id.Sign(signingBytes(m))
}

func signingBytes(m *Message) []byte {
	return append([]byte(signPrefix), m.marshal(false)...)
}

// verify 严格校验签名：公钥须与 From 匹配，签名须覆盖消息内容
func verify(m *Message) error {
	if m.From.IsEmpty() || len(m.Signature) == 0 || len(m.Key) == 0 {
		return ErrMissingSignature
	}
	pid, _, err := identity.PeerIDFromMarshaledKey(m.Key)
	if err != nil || pid != m.From {
		return ErrInvalidSignature
	}
	if !identity.Verify(m.Key, signingBytes(m), m.Signature) {
		return ErrInvalidSignature
	}
	return nil
}
