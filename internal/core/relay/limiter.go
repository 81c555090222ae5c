package relay

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

// ============================================================================
//                              资源限制
// ============================================================================

// limiter 中继资源限制器
//
// 请求速率、总带宽与电路数量三类限制，nil 速率限制器表示不限制。
type limiter struct {
	requests  *rate.Limiter
	bandwidth *rate.Limiter

	maxCircuits        int
	maxCircuitsPerPeer int

	mu       sync.Mutex
	circuits map[types.PeerID]int
	total    int
}

func newLimiter(cfg Config) *limiter {
	l := &limiter{
		maxCircuits:        cfg.MaxCircuits,
		maxCircuitsPerPeer: cfg.MaxCircuitsPerPeer,
		circuits:           make(map[types.PeerID]int),
	}
	if cfg.RequestRate > 0 {
		l.requests = rate.NewLimiter(rate.Limit(cfg.RequestRate), cfg.RequestBurst)
	}
	if cfg.Bandwidth > 0 {
		burst := int(cfg.Bandwidth)
		if burst < copyBufferSize {
			burst = copyBufferSize
		}
		l.bandwidth = rate.NewLimiter(rate.Limit(cfg.Bandwidth), burst)
	}
	return l
}

// allowRequest RESERVE/CONNECT 请求速率
func (l *limiter) allowRequest() bool {
	return l.requests == nil || l.requests.Allow()
}

// acquireCircuit 为 src→dst 电路占用名额，失败时不占用
func (l *limiter) acquireCircuit(src, dst types.PeerID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.total >= l.maxCircuits {
		return false
	}
	if l.maxCircuitsPerPeer > 0 &&
		(l.circuits[src] >= l.maxCircuitsPerPeer || l.circuits[dst] >= l.maxCircuitsPerPeer) {
		return false
	}
	l.total++
	l.circuits[src]++
	l.circuits[dst]++
	return true
}

// releaseCircuit 释放电路名额
func (l *limiter) releaseCircuit(src, dst types.PeerID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.total--
	for _, p := range []types.PeerID{src, dst} {
		if l.circuits[p] <= 1 {
			delete(l.circuits, p)
		} else {
			l.circuits[p]--
		}
	}
}

// activeCircuits 活跃电路数
func (l *limiter) activeCircuits() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// waitBandwidth 按实际读取的字节数限速
func (l *limiter) waitBandwidth(ctx context.Context, n int) error {
	if l.bandwidth == nil {
		return nil
	}
	return l.bandwidth.WaitN(ctx, n)
}
