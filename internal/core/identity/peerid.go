package identity

import (
	"crypto/ed25519"
	"encoding/binary"
	"fmt"

	"github.com/minio/sha256-simd"

	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

// KeyTypeEd25519 序列化公钥中的类型字节
const KeyTypeEd25519 byte = 2

const marshalHeaderSize = 5

// MarshalPublicKey 序列化公钥
//
// 格式：[类型(1)][长度(4, 大端)][原始公钥]
func MarshalPublicKey(pub ed25519.PublicKey) []byte {
	buf := make([]byte, marshalHeaderSize+len(pub))
	buf[0] = KeyTypeEd25519
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(pub)))
	copy(buf[5:], pub)
	return buf
}

// UnmarshalPublicKey 反序列化公钥
func UnmarshalPublicKey(data []byte) (ed25519.PublicKey, error) {
	if len(data) < marshalHeaderSize {
		return nil, fmt.Errorf("%w: data too short", ErrMalformedPublicKey)
	}
	if data[0] != KeyTypeEd25519 {
		return nil, fmt.Errorf("%w: type %d", ErrInvalidKeyType, data[0])
	}
	n := binary.BigEndian.Uint32(data[1:5])
	if n != ed25519.PublicKeySize || len(data) != marshalHeaderSize+int(n) {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidKeySize, n)
	}
	pub := make(ed25519.PublicKey, n)
	copy(pub, data[5:])
	return pub, nil
}

// PeerIDFromPublicKey 从公钥派生 PeerID：SHA-256(MarshalPublicKey(pub))
func PeerIDFromPublicKey(pub ed25519.PublicKey) types.PeerID {
	return types.PeerID(sha256.Sum256(MarshalPublicKey(pub)))
}

// PeerIDFromMarshaledKey 从序列化公钥派生 PeerID，同时返回解析后的公钥
func PeerIDFromMarshaledKey(data []byte) (types.PeerID, ed25519.PublicKey, error) {
	pub, err := UnmarshalPublicKey(data)
	if err != nil {
		return types.EmptyPeerID, nil, err
	}
	return PeerIDFromPublicKey(pub), pub, nil
}

// Verify 用序列化公钥验证签名
func Verify(marshaledKey, data, sig []byte) bool {
	pub, err := UnmarshalPublicKey(marshaledKey)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, data, sig)
}
