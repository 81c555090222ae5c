package node

import "errors"

// 公共错误定义
var (
	// ────────────────────────────────────────────────────────────────────────
	// 构造错误
	// ────────────────────────────────────────────────────────────────────────

	// ErrConfiguration 配置无效：缺少身份来源、地址或节点 ID 无法解析等
	ErrConfiguration = errors.New("configuration error")

	// ErrTransportConstruction 传输栈构造失败
	ErrTransportConstruction = errors.New("transport construction failed")

	// ErrBehaviourConstruction 组合行为构造失败
	ErrBehaviourConstruction = errors.New("behaviour construction failed")

	// ────────────────────────────────────────────────────────────────────────
	// 运行错误
	// ────────────────────────────────────────────────────────────────────────

	// ErrPublish 发布消息失败
	ErrPublish = errors.New("publish failed")

	// ErrListen 绑定监听地址失败
	ErrListen = errors.New("listen failed")

	// ErrEventStreamClosed 事件流意外关闭
	ErrEventStreamClosed = errors.New("event stream closed")

	// ────────────────────────────────────────────────────────────────────────
	// 节点生命周期错误
	// ────────────────────────────────────────────────────────────────────────

	// ErrAlreadyStarted 节点已启动
	ErrAlreadyStarted = errors.New("node already started")

	// ErrNodeClosed 节点已关闭
	ErrNodeClosed = errors.New("node closed")
)
