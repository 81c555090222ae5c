package behaviour

import (
	"log/slog"

	pkgif "github.com/FelixRiddle/swarm-weave/pkg/interfaces"
	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

// listenQueueSize 监听地址事件缓冲；地址在组件启动前绑定时先缓存在这里
const listenQueueSize = 64

// listenWatcher 把网络的监听地址变化转为事件
type listenWatcher struct {
	events chan ListenAddressEvent
	log    *slog.Logger
}

var _ pkgif.Notifiee = (*listenWatcher)(nil)

func newListenWatcher(network Network, l *slog.Logger) *listenWatcher {
	w := &listenWatcher{
		events: make(chan ListenAddressEvent, listenQueueSize),
		log:    l,
	}
	network.Notify(w)
	return w
}

func (w *listenWatcher) Connected(pkgif.Connection) {}

func (w *listenWatcher) Disconnected(pkgif.Connection) {}

func (w *listenWatcher) Listen(a types.Multiaddr) {
	w.push(ListenAddressEvent{Addr: a})
}

func (w *listenWatcher) ListenClose(a types.Multiaddr) {
	w.push(ListenAddressEvent{Addr: a, Closed: true})
}

// push 回调不得阻塞网络，队列满时丢弃
func (w *listenWatcher) push(ev ListenAddressEvent) {
	select {
	case w.events <- ev:
	default:
		w.log.Warn("监听地址事件队列已满，丢弃", "addr", ev.Addr, "closed", ev.Closed)
	}
}
