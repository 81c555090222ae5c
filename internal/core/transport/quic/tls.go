package quic

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/FelixRiddle/swarm-weave/internal/core/identity"
	"github.com/FelixRiddle/swarm-weave/internal/core/transport"
	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

// alpn QUIC 应用层协议标识
const alpn = "libp2p"

// certValidity 自签名证书有效期
const certValidity = 180 * 24 * time.Hour

// newCertificate 用身份私钥生成自签名证书
//
// 证书公钥即身份公钥，远端 PeerID 由证书公钥派生，不可伪造。
func newCertificate(id *identity.Identity) (tls.Certificate, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return tls.Certificate{}, err
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: id.ID().String()},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(certValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, id.PublicKey(), id.PrivateKey())
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("create certificate: %w", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: id.PrivateKey()}, nil
}

// tlsConfig 生成 TLS 1.3 配置
//
// 不做 CA 校验，VerifyPeerCertificate 从证书公钥派生 PeerID；
// expected 非空时校验派生结果。
func tlsConfig(cert tls.Certificate, expected types.PeerID) *tls.Config {
	return &tls.Config{
		Certificates:       []tls.Certificate{cert},
		NextProtos:         []string{alpn},
		MinVersion:         tls.VersionTLS13,
		InsecureSkipVerify: true,
		ClientAuth:         tls.RequireAnyClientCert,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			peer, _, err := peerFromCerts(rawCerts)
			if err != nil {
				return err
			}
			if !expected.IsEmpty() && peer != expected {
				return fmt.Errorf("%w: expected %s, got %s", transport.ErrPeerIDMismatch, expected.ShortString(), peer.ShortString())
			}
			return nil
		},
	}
}

// peerFromCerts 解析对端证书，返回 PeerID 与公钥
func peerFromCerts(rawCerts [][]byte) (types.PeerID, ed25519.PublicKey, error) {
	if len(rawCerts) == 0 {
		return types.EmptyPeerID, nil, errors.New("peer presented no certificate")
	}
	cert, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return types.EmptyPeerID, nil, fmt.Errorf("parse certificate: %w", err)
	}
	now := time.Now()
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return types.EmptyPeerID, nil, errors.New("certificate not valid at current time")
	}
	if err := cert.CheckSignature(cert.SignatureAlgorithm, cert.RawTBSCertificate, cert.Signature); err != nil {
		return types.EmptyPeerID, nil, fmt.Errorf("certificate signature: %w", err)
	}
	pub, ok := cert.PublicKey.(ed25519.PublicKey)
	if !ok {
		return types.EmptyPeerID, nil, fmt.Errorf("unsupported certificate key %T", cert.PublicKey)
	}
	return identity.PeerIDFromPublicKey(pub), pub, nil
}
