package gossipsub

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ============================================================================
//                              消息缓存
// ============================================================================

// messageCache 滑动窗口消息缓存
//
// 每次心跳 shift 一次；get 用于响应 IWANT，gossipIDs 用于生成 IHAVE。
// 调用方持有 Router 锁。
type messageCache struct {
	msgs    map[string]*Message
	history [][]cacheEntry
	gossip  int
}

type cacheEntry struct {
	id    string
	topic string
}

func newMessageCache(gossip, history int) *messageCache {
	return &messageCache{
		msgs:    make(map[string]*Message),
		history: make([][]cacheEntry, history),
		gossip:  gossip,
	}
}

func (mc *messageCache) put(m *Message) {
	if _, ok := mc.msgs[m.ID]; ok {
		return
	}
	mc.msgs[m.ID] = m
	mc.history[0] = append(mc.history[0], cacheEntry{id: m.ID, topic: m.Topic})
}

func (mc *messageCache) get(id string) (*Message, bool) {
	m, ok := mc.msgs[id]
	return m, ok
}

// gossipIDs 返回最近 gossip 个窗口内该主题的消息 ID
func (mc *messageCache) gossipIDs(topic string) []string {
	var ids []string
	for _, window := range mc.history[:mc.gossip] {
		for _, e := range window {
			if e.topic == topic {
				ids = append(ids, e.id)
			}
		}
	}
	return ids
}

// shift 丢弃最老的窗口并开启新窗口
func (mc *messageCache) shift() {
	last := mc.history[len(mc.history)-1]
	for _, e := range last {
		delete(mc.msgs, e.id)
	}
	copy(mc.history[1:], mc.history[:len(mc.history)-1])
	mc.history[0] = nil
}

// ============================================================================
//                              已见消息
// ============================================================================

// seenCache 已见消息 ID，超过 ttl 的条目自动过期
type seenCache struct {
	lru *expirable.LRU[string, struct{}]
}

func newSeenCache(capacity int, ttl time.Duration) *seenCache {
	return &seenCache{lru: expirable.NewLRU[string, struct{}](capacity, nil, ttl)}
}

func (s *seenCache) has(id string) bool {
	return s.lru.Contains(id)
}

// add 标记已见，返回是否为首次
func (s *seenCache) add(id string) bool {
	if s.lru.Contains(id) {
		return false
	}
	s.lru.Add(id, struct{}{})
	return true
}
