package noise

import (
	"crypto/ed25519"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"filippo.io/edwards25519"
	"github.com/flynn/noise"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/FelixRiddle/swarm-weave/internal/core/identity"
	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

// payloadSigPrefix 签名 payload 的前缀，与 libp2p-noise 兼容
const payloadSigPrefix = "noise-libp2p-static-key:"

// maxFrameSize 单帧最大长度（2 字节长度前缀）
const maxFrameSize = 65535

var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)

// ============================================================================
//                              Noise XX 握手
// ============================================================================

// performHandshake 执行 Noise XX 握手
//
// remotePeer 非空时校验远端 PeerID。
func performHandshake(conn net.Conn, id *identity.Identity, remotePeer types.PeerID, initiator bool) (*secureConn, error) {
	static := noise.DHKey{
		Private: ed25519PrivateToCurve25519(id.PrivateKey()),
	}
	pub, err := ed25519PublicToCurve25519(id.PublicKey())
	if err != nil {
		return nil, fmt.Errorf("convert static key: %w", err)
	}
	static.Public = pub

	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cipherSuite,
		Pattern:       noise.HandshakeXX,
		Initiator:     initiator,
		StaticKeypair: static,
	})
	if err != nil {
		return nil, fmt.Errorf("create handshake state: %w", err)
	}

	localPayload := encodePayload(id.MarshalPublicKey(), id.Sign(append([]byte(payloadSigPrefix), static.Public...)))

	var (
		sendCS, recvCS *noise.CipherState
		remotePayload  []byte
	)
	if initiator {
		sendCS, recvCS, remotePayload, err = clientHandshake(conn, hs, localPayload)
	} else {
		sendCS, recvCS, remotePayload, err = serverHandshake(conn, hs, localPayload)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHandshake, err)
	}

	actual, remoteKey, err := verifyPayload(remotePayload, hs.PeerStatic())
	if err != nil {
		return nil, err
	}
	if !remotePeer.IsEmpty() && actual != remotePeer {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrPeerIDMismatch, remotePeer.ShortString(), actual.ShortString())
	}

	return &secureConn{
		Conn:      conn,
		sendCS:    sendCS,
		recvCS:    recvCS,
		localPeer: id.ID(),
		remote:    actual,
		remoteKey: remoteKey,
	}, nil
}

// clientHandshake 发起者握手，返回 (发送, 接收, 远端 payload)
func clientHandshake(conn net.Conn, hs *noise.HandshakeState, payload []byte) (*noise.CipherState, *noise.CipherState, []byte, error) {
	msg1, _, _, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("write message 1: %w", err)
	}
	if err := writeFrame(conn, msg1); err != nil {
		return nil, nil, nil, fmt.Errorf("send message 1: %w", err)
	}

	msg2, err := readFrame(conn)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("receive message 2: %w", err)
	}
	remotePayload, _, _, err := hs.ReadMessage(nil, msg2)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read message 2: %w", err)
	}

	msg3, cs1, cs2, err := hs.WriteMessage(nil, payload)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("write message 3: %w", err)
	}
	if err := writeFrame(conn, msg3); err != nil {
		return nil, nil, nil, fmt.Errorf("send message 3: %w", err)
	}
	return cs1, cs2, remotePayload, nil
}

// serverHandshake 响应者握手，CipherState 顺序与发起者相反
func serverHandshake(conn net.Conn, hs *noise.HandshakeState, payload []byte) (*noise.CipherState, *noise.CipherState, []byte, error) {
	msg1, err := readFrame(conn)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("receive message 1: %w", err)
	}
	if _, _, _, err := hs.ReadMessage(nil, msg1); err != nil {
		return nil, nil, nil, fmt.Errorf("read message 1: %w", err)
	}

	msg2, _, _, err := hs.WriteMessage(nil, payload)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("write message 2: %w", err)
	}
	if err := writeFrame(conn, msg2); err != nil {
		return nil, nil, nil, fmt.Errorf("send message 2: %w", err)
	}

	msg3, err := readFrame(conn)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("receive message 3: %w", err)
	}
	remotePayload, cs1, cs2, err := hs.ReadMessage(nil, msg3)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read message 3: %w", err)
	}
	return cs2, cs1, remotePayload, nil
}

// ============================================================================
//                              Payload
// ============================================================================

func encodePayload(key, sig []byte) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, key)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, sig)
	return b
}

func decodePayload(b []byte) (key, sig []byte, err error) {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, nil, protowire.ParseError(n)
		}
		b = b[n:]
		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, nil, protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case 1:
			key = v
		case 2:
			sig = v
		}
	}
	return key, sig, nil
}

// verifyPayload 校验远端签名，返回远端 PeerID 与公钥
func verifyPayload(payload, remoteStatic []byte) (types.PeerID, ed25519.PublicKey, error) {
	key, sig, err := decodePayload(payload)
	if err != nil {
		return types.EmptyPeerID, nil, fmt.Errorf("%w: decode payload: %v", ErrInvalidHandshake, err)
	}
	peer, pub, err := identity.PeerIDFromMarshaledKey(key)
	if err != nil {
		return types.EmptyPeerID, nil, fmt.Errorf("%w: %v", ErrInvalidHandshake, err)
	}
	if !ed25519.Verify(pub, append([]byte(payloadSigPrefix), remoteStatic...), sig) {
		return types.EmptyPeerID, nil, ErrInvalidSignature
	}
	return peer, pub, nil
}

// ============================================================================
//                              密钥转换
// ============================================================================

// ed25519PrivateToCurve25519 SHA-512(seed) 前 32 字节 + clamping（RFC 7748）
func ed25519PrivateToCurve25519(priv ed25519.PrivateKey) []byte {
	h := sha512.Sum512(priv.Seed())
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64
	return h[:32]
}

// ed25519PublicToCurve25519 Edwards -> Montgomery：u = (1 + y) / (1 - y)
func ed25519PublicToCurve25519(pub ed25519.PublicKey) ([]byte, error) {
	p, err := new(edwards25519.Point).SetBytes(pub)
	if err != nil {
		return nil, err
	}
	return p.BytesMontgomery(), nil
}

// ============================================================================
//                              帧
// ============================================================================

// writeFrame 写入帧（2 字节长度 + 数据）
func writeFrame(w io.Writer, data []byte) error {
	if len(data) > maxFrameSize {
		return fmt.Errorf("frame too large: %d", len(data))
	}
	buf := make([]byte, 2+len(data))
	binary.BigEndian.PutUint16(buf, uint16(len(data)))
	copy(buf[2:], data)
	_, err := w.Write(buf)
	return err
}

// readFrame 读取帧（2 字节长度 + 数据）
func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	data := make([]byte, binary.BigEndian.Uint16(lenBuf[:]))
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}
