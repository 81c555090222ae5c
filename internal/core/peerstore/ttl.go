package peerstore

import (
	"math"
	"time"
)

// 地址 TTL 常量
const (
	// PermanentAddrTTL 永久地址（如引导节点）
	PermanentAddrTTL = time.Duration(math.MaxInt64 - 1)

	// ConnectedAddrTTL 连接成功或 identify 上报的地址
	ConnectedAddrTTL = 30 * time.Minute

	// RecentlyConnectedAddrTTL 断开后保留的地址
	RecentlyConnectedAddrTTL = 15 * time.Minute

	// LocalAddrTTL mDNS 发现的地址（与记录 TTL 对齐）
	LocalAddrTTL = 6 * time.Minute
)

// farFuture 永久地址的过期时间
var farFuture = time.Unix(1<<40, 0)
