package nat

import "sync"

// Reachability 外部可达性
type Reachability int

const (
	// ReachabilityUnknown 尚无足够结果
	ReachabilityUnknown Reachability = iota
	// ReachabilityPublic 可被外部直接拨通
	ReachabilityPublic
	// ReachabilityPrivate 位于 NAT 或防火墙之后
	ReachabilityPrivate
)

// String 返回可达性名称
func (r Reachability) String() string {
	switch r {
	case ReachabilityPublic:
		return "public"
	case ReachabilityPrivate:
		return "private"
	default:
		return "unknown"
	}
}

// tracker 按连续一致的探测结果翻转状态
//
// 与当前状态一致的结果清空候选；候选状态连续出现 threshold 次后生效。
type tracker struct {
	mu        sync.Mutex
	threshold int
	status    Reachability
	pending   Reachability
	streak    int
}

func newTracker(threshold int) *tracker {
	if threshold < 1 {
		threshold = 1
	}
	return &tracker{threshold: threshold}
}

// record 记录一次结果，状态翻转时返回旧状态与 true
func (t *tracker) record(r Reachability) (Reachability, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if r == t.status {
		t.pending, t.streak = ReachabilityUnknown, 0
		return t.status, false
	}
	if r == t.pending {
		t.streak++
	} else {
		t.pending, t.streak = r, 1
	}
	if t.streak < t.threshold {
		return t.status, false
	}

	prev := t.status
	t.status = r
	t.pending, t.streak = ReachabilityUnknown, 0
	return prev, true
}

func (t *tracker) current() Reachability {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}
