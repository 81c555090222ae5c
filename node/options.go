package node

import (
	"errors"
	"io"
	"log/slog"

	"go.uber.org/fx"

	"github.com/FelixRiddle/swarm-weave/internal/core/identity"
	"github.com/FelixRiddle/swarm-weave/internal/core/metrics"
)

// Option 节点配置选项函数
type Option func(*options) error

// options 内部选项结构
type options struct {
	// 日志（nil 时按 config.Log 创建）
	logger *slog.Logger

	// 身份来源，优先于配置推导
	identity identity.IdentitySource

	// 本地输入，每行发布为一条消息
	input io.Reader

	// 指标（nil 时为每个节点新建独立注册表）
	metrics *metrics.Metrics

	// 应用接收队列长度
	messageBuffer int

	// 追加的 Fx 选项
	fxOptions []fx.Option
}

func defaultOptions() *options {
	return &options{messageBuffer: 64}
}

// WithLogger 注入节点日志
//
// 各组件的日志都从该 Logger 派生，按 subsystem 区分。
func WithLogger(l *slog.Logger) Option {
	return func(o *options) error {
		if l == nil {
			return errors.New("nil logger")
		}
		o.logger = l
		return nil
	}
}

// WithIdentitySource 指定身份来源，覆盖 key_seed 与密钥库配置
func WithIdentitySource(src identity.IdentitySource) Option {
	return func(o *options) error {
		if src == nil {
			return errors.New("nil identity source")
		}
		o.identity = src
		return nil
	}
}

// WithInput 设置本地输入，每读到一行就发布到主主题
func WithInput(r io.Reader) Option {
	return func(o *options) error {
		o.input = r
		return nil
	}
}

// WithMetrics 使用外部指标集合
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) error {
		o.metrics = m
		return nil
	}
}

// WithMessageBuffer 设置 Messages 通道长度
func WithMessageBuffer(n int) Option {
	return func(o *options) error {
		if n <= 0 {
			return errors.New("message buffer must be positive")
		}
		o.messageBuffer = n
		return nil
	}
}

// WithFxOptions 追加 Fx 选项，主要用于测试中替换或观察组件
func WithFxOptions(opts ...fx.Option) Option {
	return func(o *options) error {
		o.fxOptions = append(o.fxOptions, opts...)
		return nil
	}
}
