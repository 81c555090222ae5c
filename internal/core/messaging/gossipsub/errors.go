package gossipsub

import "errors"

var (
	// ErrInsufficientPeers 没有可发送的节点
	ErrInsufficientPeers = errors.New("gossipsub: no peers subscribed to topic")

	// ErrDuplicate 消息已发布过
	ErrDuplicate = errors.New("gossipsub: duplicate message")

	// ErrMessageTooLarge 消息超过大小上限
	ErrMessageTooLarge = errors.New("gossipsub: message too large")

	// ErrNotSubscribed 未订阅主题
	ErrNotSubscribed = errors.New("gossipsub: not subscribed to topic")

	// ErrRouterClosed 路由器已关闭
	ErrRouterClosed = errors.New("gossipsub: router closed")

	// ErrInvalidRPC RPC 无法解码
	ErrInvalidRPC = errors.New("gossipsub: invalid rpc")

	// ErrMissingSignature 消息缺少签名或公钥
	ErrMissingSignature = errors.New("gossipsub: missing signature")

	// ErrInvalidSignature 签名校验失败
	ErrInvalidSignature = errors.New("gossipsub: invalid signature")
)
