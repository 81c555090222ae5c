package swarm

import (
	pkgif "github.com/FelixRiddle/swarm-weave/pkg/interfaces"
	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

// NotifyBundle 以函数字段实现 Notifiee，未设置的回调忽略
type NotifyBundle struct {
	ConnectedF    func(pkgif.Connection)
	DisconnectedF func(pkgif.Connection)
	ListenF       func(types.Multiaddr)
	ListenCloseF  func(types.Multiaddr)
}

var _ pkgif.Notifiee = (*NotifyBundle)(nil)

// Connected 实现 Notifiee
func (nb *NotifyBundle) Connected(c pkgif.Connection) {
	if nb.ConnectedF != nil {
		nb.ConnectedF(c)
	}
}

// Disconnected 实现 Notifiee
func (nb *NotifyBundle) Disconnected(c pkgif.Connection) {
	if nb.DisconnectedF != nil {
		nb.DisconnectedF(c)
	}
}

// Listen 实现 Notifiee
func (nb *NotifyBundle) Listen(a types.Multiaddr) {
	if nb.ListenF != nil {
		nb.ListenF(a)
	}
}

// ListenClose 实现 Notifiee
func (nb *NotifyBundle) ListenClose(a types.Multiaddr) {
	if nb.ListenCloseF != nil {
		nb.ListenCloseF(a)
	}
}

// Notify 注册事件接收者
func (s *Swarm) Notify(n pkgif.Notifiee) {
	s.notifMu.Lock()
	s.notifiees = append(s.notifiees, n)
	s.notifMu.Unlock()
}

func (s *Swarm) notifyAll(fn func(pkgif.Notifiee)) {
	s.notifMu.RLock()
	ns := append([]pkgif.Notifiee(nil), s.notifiees...)
	s.notifMu.RUnlock()
	for _, n := range ns {
		fn(n)
	}
}
