// Package badger 提供基于 BadgerDB 的键值存储引擎
//
// 目前用于持久化节点身份。
//
// 使用示例:
//
//	db, err := badger.Open(badger.Options{Path: "/data/keystore"})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Put([]byte("key"), []byte("value")); err != nil {
//	    return err
//	}
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/FelixRiddle/swarm-weave/internal/core/storage"
	"github.com/FelixRiddle/swarm-weave/internal/util/logger"
)

var log = logger.Logger("storage.badger")

// Options 引擎选项
type Options struct {
	// Path 数据目录（InMemory 时忽略）
	Path string

	// InMemory 纯内存模式，主要用于测试
	InMemory bool

	// SyncWrites 每次写入同步落盘
	SyncWrites bool

	// GCInterval 值日志垃圾回收间隔（0 = 不回收）
	GCInterval time.Duration

	// GCDiscardRatio 垃圾回收丢弃比例
	GCDiscardRatio float64

	// Logger 日志（nil 时使用 storage.badger 子系统日志）
	Logger *slog.Logger
}

// DB BadgerDB 存储引擎
type DB struct {
	db     *badger.DB
	opts   Options
	closed atomic.Bool

	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup
}

// Open 打开存储引擎
func Open(opts Options) (*DB, error) {
	if !opts.InMemory && opts.Path == "" {
		return nil, fmt.Errorf("%w: path is required", storage.ErrInvalidConfig)
	}
	if opts.GCDiscardRatio <= 0 {
		opts.GCDiscardRatio = 0.5
	}

	db, err := badger.Open(buildBadgerOptions(opts))
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &DB{db: db, opts: opts, gcCancel: cancel}
	if opts.GCInterval > 0 && !opts.InMemory {
		e.startGC(ctx)
	}
	return e, nil
}

func buildBadgerOptions(opts Options) badger.Options {
	var bo badger.Options
	if opts.InMemory {
		bo = badger.DefaultOptions("").WithInMemory(true)
	} else {
		bo = badger.DefaultOptions(opts.Path)
	}

	l := opts.Logger
	if l == nil {
		l = log
	}
	return bo.
		WithSyncWrites(opts.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{l: l})
}

// badgerLogger 将 slog 适配到 badger.Logger
type badgerLogger struct {
	l *slog.Logger
}

func (b *badgerLogger) Errorf(format string, args ...interface{}) {
	b.l.Error(fmt.Sprintf(format, args...))
}

func (b *badgerLogger) Warningf(format string, args ...interface{}) {
	b.l.Warn(fmt.Sprintf(format, args...))
}

func (b *badgerLogger) Infof(format string, args ...interface{}) {
	b.l.Debug(fmt.Sprintf(format, args...))
}

func (b *badgerLogger) Debugf(format string, args ...interface{}) {
	b.l.Debug(fmt.Sprintf(format, args...))
}

func (e *DB) startGC(ctx context.Context) {
	e.gcWg.Add(1)
	go func() {
		defer e.gcWg.Done()

		ticker := time.NewTicker(e.opts.GCInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				// 反复回收直到没有可回收的空间
				for e.db.RunValueLogGC(e.opts.GCDiscardRatio) == nil {
				}
			}
		}
	}()
}

// Get 获取键值，不存在时返回 storage.ErrNotFound
func (e *DB) Get(key []byte) ([]byte, error) {
	if e.closed.Load() {
		return nil, storage.ErrClosed
	}
	if len(key) == 0 {
		return nil, storage.ErrEmptyKey
	}

	var value []byte
	err := e.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, storage.ErrNotFound
	}
	return value, err
}

// Put 写入键值
func (e *DB) Put(key, value []byte) error {
	if e.closed.Load() {
		return storage.ErrClosed
	}
	if len(key) == 0 {
		return storage.ErrEmptyKey
	}
	return e.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

// Delete 删除键
func (e *DB) Delete(key []byte) error {
	if e.closed.Load() {
		return storage.ErrClosed
	}
	if len(key) == 0 {
		return storage.ErrEmptyKey
	}
	return e.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// Close 关闭引擎，可重复调用
func (e *DB) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.gcCancel()
	e.gcWg.Wait()
	return e.db.Close()
}
