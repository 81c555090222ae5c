package swarm

import "github.com/FelixRiddle/swarm-weave/pkg/types"

// Protect 保护到节点的连接不被空闲回收
//
// tag 区分使用者，所有 tag 都移除后保护解除。
func (s *Swarm) Protect(p types.PeerID, tag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tags, ok := s.protected[p]
	if !ok {
		tags = make(map[string]struct{})
		s.protected[p] = tags
	}
	tags[tag] = struct{}{}
}

// Unprotect 移除保护标签，返回节点是否仍受保护
func (s *Swarm) Unprotect(p types.PeerID, tag string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	tags, ok := s.protected[p]
	if !ok {
		return false
	}
	delete(tags, tag)
	if len(tags) == 0 {
		delete(s.protected, p)
		return false
	}
	return true
}

// IsProtected 节点是否受保护
func (s *Swarm) IsProtected(p types.PeerID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.protected[p]
	return ok
}
