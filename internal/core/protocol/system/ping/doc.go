// Package ping 实现连接存活检测
//
// 请求与响应都是 32 字节随机数据，响应必须与请求相同；同一条流可连续探测。
//
// # 协议 ID
//
//	/ipfs/ping/1.0.0
//
// Service 按 Interval 周期性探测所有已连接节点，结果以 Event 交给上层，
// 往返时延同时记入指标。
//
// # 使用示例
//
//	rtt, err := svc.Ping(ctx, peerID)
//	if err != nil {
//	    log.Printf("节点不可达: %v", err)
//	}
package ping
