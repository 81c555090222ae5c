package identity

import (
	"crypto/ed25519"

	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

// Identity 节点身份：{密钥对, PeerID}
//
// PeerID 是公钥的纯函数。
type Identity struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
	id   types.PeerID
}

// New 从私钥创建身份
func New(priv ed25519.PrivateKey) (*Identity, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, ErrInvalidKeySize
	}
	pub := priv.Public().(ed25519.PublicKey)
	return &Identity{
		priv: priv,
		pub:  pub,
		id:   PeerIDFromPublicKey(pub),
	}, nil
}

// FromSeed 由 32 字节种子派生身份
func FromSeed(seed []byte) (*Identity, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, ErrInvalidKeySize
	}
	return New(ed25519.NewKeyFromSeed(seed))
}

// ID 返回 PeerID
func (i *Identity) ID() types.PeerID {
	return i.id
}

// PublicKey 返回公钥
func (i *Identity) PublicKey() ed25519.PublicKey {
	return i.pub
}

// PrivateKey 返回私钥
func (i *Identity) PrivateKey() ed25519.PrivateKey {
	return i.priv
}

// MarshalPublicKey 返回序列化公钥
func (i *Identity) MarshalPublicKey() []byte {
	return MarshalPublicKey(i.pub)
}

// Sign 签名数据
func (i *Identity) Sign(data []byte) []byte {
	return ed25519.Sign(i.priv, data)
}

// Equal 比较两个身份的私钥
func (i *Identity) Equal(other *Identity) bool {
	return other != nil && i.priv.Equal(other.priv)
}
