// Package peerstore 记录已知节点的地址、公钥与协议
//
// 地址带 TTL，过期后在读取时清除；时间源可注入，便于测试。
package peerstore

import (
	"crypto/ed25519"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

// ErrNotFound 节点没有对应记录
var ErrNotFound = errors.New("peerstore: item not found")

type peerRecord struct {
	addrs     map[types.Multiaddr]time.Time
	pubKey    ed25519.PublicKey
	protocols map[types.ProtocolID]struct{}
	agent     string
}

// Peerstore 节点信息存储
type Peerstore struct {
	clock clock.Clock

	mu    sync.RWMutex
	peers map[types.PeerID]*peerRecord
}

// New 创建 Peerstore，clk 为 nil 时使用系统时钟
func New(clk clock.Clock) *Peerstore {
	if clk == nil {
		clk = clock.New()
	}
	return &Peerstore{
		clock: clk,
		peers: make(map[types.PeerID]*peerRecord),
	}
}

func (ps *Peerstore) record(id types.PeerID) *peerRecord {
	r, ok := ps.peers[id]
	if !ok {
		r = &peerRecord{
			addrs:     make(map[types.Multiaddr]time.Time),
			protocols: make(map[types.ProtocolID]struct{}),
		}
		ps.peers[id] = r
	}
	return r
}

// ============================================================================
//                              地址
// ============================================================================

// AddAddrs 添加地址；已存在时只延长有效期
//
// 直连地址中的 /p2p/<id> 后缀会被去掉。
func (ps *Peerstore) AddAddrs(id types.PeerID, addrs []types.Multiaddr, ttl time.Duration) {
	if id.IsEmpty() || len(addrs) == 0 {
		return
	}
	expiry := ps.expiry(ttl)

	ps.mu.Lock()
	defer ps.mu.Unlock()
	r := ps.record(id)
	for _, a := range addrs {
		if a.IsEmpty() {
			continue
		}
		if !a.IsRelay() {
			a = a.WithoutPeerID()
		}
		if cur, ok := r.addrs[a]; !ok || cur.Before(expiry) {
			r.addrs[a] = expiry
		}
	}
}

// UpdateAddrTTL 将节点所有地址的有效期设为 ttl
func (ps *Peerstore) UpdateAddrTTL(id types.PeerID, ttl time.Duration) {
	expiry := ps.expiry(ttl)
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if r, ok := ps.peers[id]; ok {
		for a := range r.addrs {
			r.addrs[a] = expiry
		}
	}
}

func (ps *Peerstore) expiry(ttl time.Duration) time.Time {
	if ttl >= PermanentAddrTTL {
		return farFuture
	}
	return ps.clock.Now().Add(ttl)
}

// Addrs 返回未过期地址（按字典序）
func (ps *Peerstore) Addrs(id types.PeerID) []types.Multiaddr {
	now := ps.clock.Now()

	ps.mu.Lock()
	defer ps.mu.Unlock()
	r, ok := ps.peers[id]
	if !ok {
		return nil
	}
	out := make([]types.Multiaddr, 0, len(r.addrs))
	for a, exp := range r.addrs {
		if now.After(exp) {
			delete(r.addrs, a)
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ClearAddrs 清除节点所有地址
func (ps *Peerstore) ClearAddrs(id types.PeerID) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if r, ok := ps.peers[id]; ok {
		r.addrs = make(map[types.Multiaddr]time.Time)
	}
}

// ============================================================================
//                              公钥 / 协议
// ============================================================================

// AddPubKey 记录公钥
func (ps *Peerstore) AddPubKey(id types.PeerID, key ed25519.PublicKey) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.record(id).pubKey = key
}

// PubKey 返回公钥
func (ps *Peerstore) PubKey(id types.PeerID) (ed25519.PublicKey, error) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	if r, ok := ps.peers[id]; ok && r.pubKey != nil {
		return r.pubKey, nil
	}
	return nil, ErrNotFound
}

// SetProtocols 覆盖节点支持的协议
func (ps *Peerstore) SetProtocols(id types.PeerID, protos ...types.ProtocolID) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	r := ps.record(id)
	r.protocols = make(map[types.ProtocolID]struct{}, len(protos))
	for _, p := range protos {
		r.protocols[p] = struct{}{}
	}
}

// SupportsProtocol 节点是否声明支持协议
func (ps *Peerstore) SupportsProtocol(id types.PeerID, proto types.ProtocolID) bool {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	r, ok := ps.peers[id]
	if !ok {
		return false
	}
	_, ok = r.protocols[proto]
	return ok
}

// SetAgent 记录节点 agent 版本
func (ps *Peerstore) SetAgent(id types.PeerID, agent string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.record(id).agent = agent
}

// Agent 返回节点 agent 版本
func (ps *Peerstore) Agent(id types.PeerID) string {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	if r, ok := ps.peers[id]; ok {
		return r.agent
	}
	return ""
}

// Peers 返回所有已知节点
func (ps *Peerstore) Peers() []types.PeerID {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	out := make([]types.PeerID, 0, len(ps.peers))
	for id := range ps.peers {
		out = append(out, id)
	}
	return out
}

// RemovePeer 删除节点全部记录
func (ps *Peerstore) RemovePeer(id types.PeerID) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	delete(ps.peers, id)
}
