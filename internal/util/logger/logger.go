// Package logger 提供 swarm-weave 的统一日志系统
//
// 基于标准库 log/slog，支持：
//   - 按子系统配置日志级别
//   - 环境变量配置（SWARM_LOG_LEVEL, SWARM_LOG_FORMAT）
//   - 按节点实例注入的 Logger（同一进程运行多个节点时互不干扰）
//
// 使用示例:
//
//	package gossipsub
//
//	var log = logger.Logger("gossipsub")
//
//	func foo() {
//	    log.Info("消息已投递", "topic", topic, "from", from)
//	}
package logger

import (
	"io"
	"log/slog"
	"sync"
)

var (
	loggers  sync.Map // map[string]*slog.Logger
	handlers sync.Map // map[string]*levelHandler
)

// Logger 获取指定子系统的 Logger
//
// 级别由 SWARM_LOG_LEVEL 决定，同一子系统多次调用返回同一实例。
func Logger(subsystem string) *slog.Logger {
	if l, ok := loggers.Load(subsystem); ok {
		return l.(*slog.Logger)
	}

	cfg := ConfigFromEnv()
	h := newHandler(&dynamicWriter{}, cfg.LevelForSubsystem(subsystem), cfg.Format, cfg.AddSource,
		slog.String("subsystem", subsystem))

	actual, loaded := loggers.LoadOrStore(subsystem, slog.New(h))
	if !loaded {
		handlers.Store(subsystem, h)
	}
	return actual.(*slog.Logger)
}

// Options 独立 Logger 的配置
type Options struct {
	Level     slog.Level
	Format    LogFormat
	AddSource bool
}

// New 创建一个写入 w 的独立 Logger
//
// 不进入子系统缓存，也不受 SetOutput 影响，
// 适合按节点实例注入。
func New(w io.Writer, opts Options) *slog.Logger {
	return slog.New(newHandler(w, opts.Level, opts.Format, opts.AddSource))
}

// Named 返回 base 的子系统视图；base 为 nil 时回退到全局子系统 Logger
func Named(base *slog.Logger, subsystem string) *slog.Logger {
	if base == nil {
		return Logger(subsystem)
	}
	return base.With("subsystem", subsystem)
}

// SetLevel 动态设置子系统的日志级别
func SetLevel(subsystem string, level slog.Level) {
	if h, ok := handlers.Load(subsystem); ok {
		h.(*levelHandler).SetLevel(level)
	}
}

// SetGlobalLevel 设置所有已创建子系统的日志级别
func SetGlobalLevel(level slog.Level) {
	handlers.Range(func(_, value any) bool {
		value.(*levelHandler).SetLevel(level)
		return true
	})
}

// Discard 返回一个丢弃所有日志的 Logger，主要用于测试
func Discard() *slog.Logger {
	return slog.New(DiscardHandler())
}

// SetOutput 设置子系统 Logger 的输出目标
//
// 已创建的子系统 Logger 同样会切换到新的输出。
func SetOutput(w io.Writer) {
	globalOutputMu.Lock()
	globalOutput = w
	globalOutputMu.Unlock()
}
