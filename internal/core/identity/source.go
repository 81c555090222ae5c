package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
)

// IdentitySource 身份来源
//
// 调用方只依赖该接口，不直接构造确定性身份。
type IdentitySource interface {
	Identity() (*Identity, error)
}

// ============================================================================
//                              SeededIdentitySource
// ============================================================================

// SeededIdentitySource 由单字节种子确定性派生身份
//
// 仅用于测试和可复现的本地实验：32 字节密钥材料中只有第 0 字节可变，
// 整个空间只有 256 个身份，任何人都能重算私钥。生产环境请使用
// RandomIdentitySource 或 PersistentIdentitySource。
type SeededIdentitySource struct {
	Seed byte
}

var _ IdentitySource = SeededIdentitySource{}

// Identity 派生身份，同一种子总是得到同一身份
func (s SeededIdentitySource) Identity() (*Identity, error) {
	var material [ed25519.SeedSize]byte
	material[0] = s.Seed
	return FromSeed(material[:])
}

// ============================================================================
//                              RandomIdentitySource
// ============================================================================

// RandomIdentitySource 生成随机身份
type RandomIdentitySource struct {
	// Reader 随机源，nil 时使用 crypto/rand
	Reader io.Reader
}

var _ IdentitySource = RandomIdentitySource{}

// Identity 生成新的随机身份
func (s RandomIdentitySource) Identity() (*Identity, error) {
	r := s.Reader
	if r == nil {
		r = rand.Reader
	}
	_, priv, err := ed25519.GenerateKey(r)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return New(priv)
}

// DeriveIdentity 有种子时确定性派生，否则随机生成
func DeriveIdentity(seed *byte) (*Identity, error) {
	if seed != nil {
		return SeededIdentitySource{Seed: *seed}.Identity()
	}
	return RandomIdentitySource{}.Identity()
}
