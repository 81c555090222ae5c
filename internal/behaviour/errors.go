package behaviour

import "errors"

var (
	// ErrConstruction 组件构造失败
	ErrConstruction = errors.New("behaviour: construction failed")

	// ErrClosed 已关闭
	ErrClosed = errors.New("behaviour: closed")

	// ErrAlreadyStarted 重复启动
	ErrAlreadyStarted = errors.New("behaviour: already started")
)
