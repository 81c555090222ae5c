// Package noise 实现 Noise 协议安全通道
//
// 遵循 libp2p-noise 约定：Noise_XX_25519_ChaChaPoly_SHA256。
//
// Noise XX 握手流程：
//
//	-> e                                      (发起者发送临时公钥)
//	<- e, ee, s, es, payload                  (响应者发送静态公钥与 payload)
//	-> s, se, payload                         (发起者发送静态公钥与 payload)
//
// payload 字段（protobuf 编码）：
//   - 1 identity_key: 序列化的 Ed25519 身份公钥
//   - 2 identity_sig: Sign("noise-libp2p-static-key:" + x25519 静态公钥)
//
// 静态 DH 密钥由 Ed25519 身份密钥转换得到，远端 PeerID 从 identity_key 派生。
package noise
