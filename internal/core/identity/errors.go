// Package identity 实现节点身份：ed25519 密钥对与由公钥派生的 PeerID
package identity

import "errors"

var (
	// ErrInvalidKeySize 密钥长度不正确
	ErrInvalidKeySize = errors.New("invalid key size")

	// ErrInvalidKeyType 非 ed25519 密钥
	ErrInvalidKeyType = errors.New("invalid key type")

	// ErrMalformedPublicKey 序列化公钥格式错误
	ErrMalformedPublicKey = errors.New("malformed public key")

	// ErrKeyNotFound 密钥库中没有密钥
	ErrKeyNotFound = errors.New("key not found")

	// ErrPassphrase 口令错误或密文被篡改
	ErrPassphrase = errors.New("wrong passphrase or corrupted key")

	// ErrNoIdentitySource 未配置身份来源
	ErrNoIdentitySource = errors.New("no identity source")
)
