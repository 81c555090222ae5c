package behaviour

import (
	"context"
	"sync"
)

// PeerBehavior 可被组合的子协议
type PeerBehavior interface {
	// Name 组件名，用于日志与错误
	Name() string

	// Events 组件事件；Close 之后不再产生事件，但通道不会关闭
	Events() <-chan ComponentEvent

	// Handle 执行命令，返回组件是否处理了该命令
	Handle(cmd Command) bool

	// Start 启动组件
	Start() error

	// Close 停止组件
	Close() error
}

// component 把具体服务适配为 PeerBehavior
//
// pump 协程把服务自己的事件类型转换为 ComponentEvent。
type component[T any] struct {
	name    string
	src     <-chan T
	convert func(T) ComponentEvent
	start   func() error
	stop    func() error
	handle  func(Command) bool

	out    chan ComponentEvent
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ PeerBehavior = (*component[int])(nil)

func newComponent[T any](name string, src <-chan T, convert func(T) ComponentEvent) *component[T] {
	ctx, cancel := context.WithCancel(context.Background())
	return &component[T]{
		name:    name,
		src:     src,
		convert: convert,
		out:     make(chan ComponentEvent),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// withLifecycle 设置启动与停止函数
func (c *component[T]) withLifecycle(start, stop func() error) *component[T] {
	c.start = start
	c.stop = stop
	return c
}

// withHandler 设置命令处理函数
func (c *component[T]) withHandler(h func(Command) bool) *component[T] {
	c.handle = h
	return c
}

func (c *component[T]) Name() string {
	return c.name
}

func (c *component[T]) Events() <-chan ComponentEvent {
	return c.out
}

func (c *component[T]) Handle(cmd Command) bool {
	if c.handle == nil {
		return false
	}
	return c.handle(cmd)
}

func (c *component[T]) Start() error {
	if c.start != nil {
		if err := c.start(); err != nil {
			return err
		}
	}
	c.wg.Add(1)
	go c.pump()
	return nil
}

func (c *component[T]) Close() error {
	c.cancel()
	var err error
	if c.stop != nil {
		err = c.stop()
	}
	c.wg.Wait()
	return err
}

func (c *component[T]) pump() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case v := <-c.src:
			ev := c.convert(v)
			if ev == nil {
				continue
			}
			select {
			case c.out <- ev:
			case <-c.ctx.Done():
				return
			}
		}
	}
}

// starter 适配无返回值的 Start
func starter(fn func()) func() error {
	return func() error {
		fn()
		return nil
	}
}
