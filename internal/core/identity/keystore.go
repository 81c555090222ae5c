package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/FelixRiddle/swarm-weave/internal/core/storage"
)

// KeyStore 身份持久化使用的键值存储
type KeyStore interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
}

// identityKey 存储私钥的键
var identityKey = []byte("identity/ed25519")

// 存储格式版本
const (
	formatPlain  byte = 0
	formatSealed byte = 1
)

// argon2id 参数
const (
	saltSize      = 16
	argonTime     = 1
	argonMemoryKB = 64 * 1024
	argonThreads  = 4
)

// PersistentIdentitySource 从 KeyStore 加载身份，不存在时生成并保存
//
// Passphrase 非空时，私钥种子用 argon2id 派生的密钥以
// XChaCha20-Poly1305 加密后存储。
type PersistentIdentitySource struct {
	Store      KeyStore
	Passphrase string
}

var _ IdentitySource = (*PersistentIdentitySource)(nil)

// Identity 加载或创建身份
func (s *PersistentIdentitySource) Identity() (*Identity, error) {
	if s.Store == nil {
		return nil, ErrNoIdentitySource
	}

	raw, err := s.Store.Get(identityKey)
	switch {
	case err == nil:
		seed, err := s.open(raw)
		if err != nil {
			return nil, err
		}
		return FromSeed(seed)
	case errors.Is(err, storage.ErrNotFound):
		id, err := RandomIdentitySource{}.Identity()
		if err != nil {
			return nil, err
		}
		sealed, err := s.seal(id.PrivateKey().Seed())
		if err != nil {
			return nil, err
		}
		if err := s.Store.Put(identityKey, sealed); err != nil {
			return nil, fmt.Errorf("save identity: %w", err)
		}
		return id, nil
	default:
		return nil, fmt.Errorf("load identity: %w", err)
	}
}

func (s *PersistentIdentitySource) seal(seed []byte) ([]byte, error) {
	if s.Passphrase == "" {
		return append([]byte{formatPlain}, seed...), nil
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(deriveKey(s.Passphrase, salt))
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	out := make([]byte, 0, 1+saltSize+len(nonce)+len(seed)+aead.Overhead())
	out = append(out, formatSealed)
	out = append(out, salt...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, seed, []byte{formatSealed}), nil
}

func (s *PersistentIdentitySource) open(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, ErrInvalidKeySize
	}

	switch raw[0] {
	case formatPlain:
		if len(raw) != 1+ed25519.SeedSize {
			return nil, ErrInvalidKeySize
		}
		return raw[1:], nil
	case formatSealed:
		if s.Passphrase == "" {
			return nil, ErrPassphrase
		}
		body := raw[1:]
		if len(body) < saltSize+chacha20poly1305.NonceSizeX {
			return nil, ErrInvalidKeySize
		}
		salt, rest := body[:saltSize], body[saltSize:]
		aead, err := chacha20poly1305.NewX(deriveKey(s.Passphrase, salt))
		if err != nil {
			return nil, err
		}
		nonce, ct := rest[:aead.NonceSize()], rest[aead.NonceSize():]
		seed, err := aead.Open(nil, nonce, ct, []byte{formatSealed})
		if err != nil {
			return nil, ErrPassphrase
		}
		return seed, nil
	default:
		return nil, fmt.Errorf("%w: unknown key format %d", ErrInvalidKeyType, raw[0])
	}
}

func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemoryKB, argonThreads, chacha20poly1305.KeySize)
}
